package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/edgeconduit/edgelink/models"
)

// Rehash normalises a raw external config document into the internal
// connection/device/metric shape. Connection-level pollInt, payloadFormat,
// and delimiter are copied down into every device unless the device
// overrides them.
func Rehash(doc []byte) ([]models.ConnectionConfig, error) {
	var raw rawDocument
	if err := json.Unmarshal(doc, &raw); err != nil {
		return nil, fmt.Errorf("config: rehash: %w", err)
	}

	conns := make([]models.ConnectionConfig, 0, len(raw.DeviceConnections))
	for _, rc := range raw.DeviceConnections {
		cc, err := decodeConnection(rc)
		if err != nil {
			return nil, err
		}
		conns = append(conns, cc)
	}
	return conns, nil
}

func decodeConnection(raw json.RawMessage) (models.ConnectionConfig, error) {
	var rc rawConnection
	if err := json.Unmarshal(raw, &rc); err != nil {
		return models.ConnectionConfig{}, fmt.Errorf("config: rehash: connection: %w", err)
	}

	var full map[string]any
	if err := json.Unmarshal(raw, &full); err != nil {
		return models.ConnectionConfig{}, fmt.Errorf("config: rehash: connection: %w", err)
	}
	for _, k := range connectionKnownFields {
		delete(full, k)
	}

	cc := models.ConnectionConfig{
		ConnType:      rc.ConnType,
		PollInt:       rc.PollInt,
		PayloadFormat: rc.PayloadFormat,
		Delimiter:     rc.Delimiter,
		Details:       full,
	}

	for _, rd := range rc.Devices {
		cc.Devices = append(cc.Devices, decodeDevice(rd, cc))
	}
	return cc, nil
}

func decodeDevice(rd rawDevice, parent models.ConnectionConfig) models.DeviceConfig {
	pollInt := rd.PollInt
	if pollInt == 0 {
		pollInt = parent.PollInt
	}
	payloadFormat := rd.PayloadFormat
	if payloadFormat == "" {
		payloadFormat = parent.PayloadFormat
	}
	delimiter := rd.Delimiter
	if delimiter == "" {
		delimiter = parent.Delimiter
	}

	metrics := models.DefaultControlMetrics()
	for _, t := range rd.Tags {
		metrics = append(metrics, convertTag(t))
	}

	return models.DeviceConfig{
		DeviceID:      rd.DeviceID,
		PollInt:       pollInt,
		PayloadFormat: payloadFormat,
		Delimiter:     delimiter,
		Metrics:       metrics,
	}
}

func convertTag(t rawTag) models.Metric {
	dt, endian := parseDeclaredType(t.Type)
	return models.Metric{
		Name:        t.Name,
		Type:        dt,
		IsTransient: !t.RecordToDB,
		Properties: models.Properties{
			Method:        t.Method,
			Address:       t.Address,
			Path:          t.Path,
			FriendlyName:  t.FriendlyName,
			Tooltip:       t.Tooltip,
			Documentation: t.Docs,
			EngUnit:       t.EngUnit,
			EngLow:        t.EngLow,
			EngHigh:       t.EngHigh,
			Deadband:      t.DeadBand,
			Endianness:    endian,
		},
	}
}

var declaredTypeNames = map[string]models.DataType{
	"boolean":         models.Boolean,
	"int8":            models.Int8,
	"int16":           models.Int16,
	"int32":           models.Int32,
	"int64":           models.Int64,
	"uint8":           models.UInt8,
	"uint16":          models.UInt16,
	"uint32":          models.UInt32,
	"uint64":          models.UInt64,
	"float":           models.Float,
	"double":          models.Double,
	"datetime":        models.DateTime,
	"string":          models.String,
	"text":            models.Text,
	"uuid":            models.UUID,
	"bytes":           models.Bytes,
	"file":            models.File,
	"dataset":         models.DataSet,
	"template":        models.Template,
	"propertyset":     models.PropertySet,
	"propertysetlist": models.PropertySetList,
}

// parseDeclaredType strips a trailing "BE" or "LE" endianness suffix off a
// declared type name (e.g. "uInt32BE") and resolves the remaining name to a
// DataType. A type with no suffix carries Endianness(0); callers treat that
// as "use the codec's default" (big-endian). A name that is itself a known
// type (such as "double" or "file") is taken whole, not read as a suffix.
func parseDeclaredType(declared string) (models.DataType, models.Endianness) {
	endian := models.Endianness(0)
	name := declared

	lower := strings.ToLower(declared)
	if dt, ok := declaredTypeNames[lower]; ok {
		return dt, endian
	}
	switch {
	case strings.HasSuffix(lower, "be"):
		endian = models.BigEndian
		name = declared[:len(declared)-2]
	case strings.HasSuffix(lower, "le"):
		endian = models.LittleEndian
		name = declared[:len(declared)-2]
	}

	dt, ok := declaredTypeNames[strings.ToLower(name)]
	if !ok {
		dt = models.String
	}
	return dt, endian
}
