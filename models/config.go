package models

// ConnectionConfig is the rehashed, internal shape of one southbound
// connection: a connection type, its shared polling/format defaults, the
// connection-type-specific detail bag, and the devices bound to it.
type ConnectionConfig struct {
	// ConnType selects the driver pair via the connection-type registry,
	// e.g. "REST", "MQTT", "S7", "OPC UA", "Websocket", "UDP", "MTConnect",
	// "ASCIITCP", "OpenProtocol".
	ConnType string

	// PollInt is the default polling interval in milliseconds, pushed down
	// to every device on this connection unless the device overrides it.
	PollInt int

	// PayloadFormat is the default codec format for this connection's
	// devices ("delimited", "JSON", "XML", "fixedBuffer", "serialisedBuffer").
	PayloadFormat string

	// Delimiter is the default field separator for the delimited format.
	Delimiter string

	// Details carries the connection-type-specific fields (host, port,
	// credentials, rack/slot for S7, endpoint URL for OPC UA, broker URL for
	// MQTT, etc.) as a loosely-typed bag; each driver's factory knows how to
	// read its own keys from it. The rehasher fills it with every top-level
	// field of the raw entry that it does not recognise; when the document
	// nests the fields under the ConnectionDetailsKeys[ConnType] key, that
	// sub-object is one entry of this bag, and the translator hands it to the
	// connection factory in place of the whole bag. A flat legacy document
	// is passed through as is.
	Details map[string]any

	Devices []DeviceConfig
}

// ConnectionDetailsKeys maps each declared ConnType to the JSON key a
// deviceConnections entry nests that type's detail fields under. ASCIITCP
// and OpenProtocol have no detail key named by the external contract; by
// convention they follow the same ConnType+"ConnDetails" pattern as the rest.
var ConnectionDetailsKeys = map[string]string{
	"REST":         "RESTConnDetails",
	"MQTT":         "MQTTConnDetails",
	"OPC UA":       "OPCUAConnDetails",
	"S7":           "s7ConnDetails",
	"Websocket":    "WebsocketConnDetails",
	"UDP":          "UDPConnDetails",
	"MTConnect":    "MTConnectConnDetails",
	"ASCIITCP":     "ASCIITCPConnDetails",
	"OpenProtocol": "OpenProtocolConnDetails",
}

// DeviceConfig is the rehashed, internal shape of one logical device: its
// identity, its own polling/format overrides, and its full metric list
// (including the three mandatory control metrics, prepended by the config
// rehasher before this struct is handed to the device layer).
type DeviceConfig struct {
	DeviceID      string
	PollInt       int
	PayloadFormat string
	Delimiter     string
	Metrics       []Metric
}
