// Package models defines the core data structures shared across all layers
// of the translator. These types represent the canonical in-memory form of
// every metric and device; every other package depends on this package and
// nothing here depends on any other internal package.
package models

// DataType enumerates the Sparkplug wire datatypes a Metric may carry.
type DataType string

const (
	Boolean         DataType = "boolean"
	Int8            DataType = "int8"
	Int16           DataType = "int16"
	Int32           DataType = "int32"
	Int64           DataType = "int64"
	UInt8           DataType = "uint8"
	UInt16          DataType = "uint16"
	UInt32          DataType = "uint32"
	UInt64          DataType = "uint64"
	Float           DataType = "float"
	Double          DataType = "double"
	DateTime        DataType = "dateTime"
	String          DataType = "string"
	Text            DataType = "text"
	UUID            DataType = "uuid"
	Bytes           DataType = "bytes"
	File            DataType = "file"
	DataSet         DataType = "dataSet"
	Template        DataType = "template"
	PropertySet     DataType = "propertySet"
	PropertySetList DataType = "propertySetList"
)

// Endianness selects byte order for fixed-binary-buffer decoding. PDPEndian
// is big-endian with the two 16-bit words swapped (byte order 3-4-1-2).
type Endianness int

const (
	BigEndian    Endianness = 4321
	LittleEndian Endianness = 1234
	PDPEndian    Endianness = 3412
)

// PayloadFormat selects how a driver's raw payload is decoded into metric
// values.
type PayloadFormat string

const (
	FormatDelimited        PayloadFormat = "delimited"
	FormatJSON             PayloadFormat = "JSON"
	FormatXML              PayloadFormat = "XML"
	FormatFixedBuffer      PayloadFormat = "fixedBuffer"
	FormatSerialisedBuffer PayloadFormat = "serialisedBuffer"
)

// Properties is the recognised sub-metric bag attached to a Metric. Method,
// Address, and Path drive read/write routing; the rest are descriptive.
// Extra is an escape hatch for anything the fixed fields don't name.
type Properties struct {
	Method        string // "GET", "GET_*", or other; only GET* metrics participate in reads
	Address       string // native device address
	Path          string // sub-selector within the payload returned from Address
	FriendlyName  string
	Tooltip       string
	Documentation string
	EngUnit       string
	EngLow        float64
	EngHigh       float64
	Deadband      float64 // reserved; preserved but not enforced
	Endianness    Endianness

	Extra map[string]any
}

// IsReadable reports whether the metric's method marks it as participating
// in reads ("GET" or any "GET_*" variant).
func (p Properties) IsReadable() bool {
	return len(p.Method) >= 3 && p.Method[:3] == "GET"
}

// Metric is the atomic unit of the data model. Name is unique per device;
// Alias, once assigned by the Sparkplug layer, is unique per device.
type Metric struct {
	Name        string
	Alias       *uint64
	Type        DataType
	Value       any
	Timestamp   int64 // ms since epoch
	IsNull      bool
	IsTransient bool
	Properties  Properties
}

// Default control metric names, prepended to every device ahead of its
// user-declared metrics.
const (
	MetricPollingInterval = "Device Control/Polling Interval"
	MetricReboot          = "Device Control/Reboot"
	MetricRebirth         = "Device Control/Rebirth"
)

// DefaultControlMetrics returns the three mandatory control metrics for a
// freshly constructed device.
func DefaultControlMetrics() []Metric {
	return []Metric{
		{
			Name:        MetricPollingInterval,
			Type:        UInt16,
			IsTransient: true,
			Properties:  Properties{Method: "GET_SET", EngUnit: "ms"},
		},
		{
			Name:        MetricReboot,
			Type:        Boolean,
			IsTransient: true,
			Properties:  Properties{Method: "SET"},
		},
		{
			Name:        MetricRebirth,
			Type:        Boolean,
			IsTransient: true,
			Properties:  Properties{Method: "SET"},
		},
	}
}
