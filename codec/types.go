// Package codec implements the value/timestamp/encode operations used to
// translate between a driver's raw payload and a Metric's typed value. It
// supports four wire shapes: delimited text, JSON (with JSONPath), XML (with
// XPath), and fixed binary buffers (little/big/PDP endian).
package codec

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/edgeconduit/edgelink/models"
)

// ParseValue decodes raw into the metric's native type according to
// payloadFormat. raw may be a string, []byte, or an already-decoded native
// value (callers bypass this function entirely when parseVals is false).
func ParseValue(raw any, metric models.Metric, payloadFormat models.PayloadFormat, delimiter string) (any, error) {
	switch payloadFormat {
	case models.FormatDelimited:
		return parseDelimited(raw, metric, delimiter)
	case models.FormatJSON:
		return parseJSON(raw, metric)
	case models.FormatXML:
		return parseXML(raw, metric)
	case models.FormatFixedBuffer:
		return parseFixedBuffer(raw, metric)
	case models.FormatSerialisedBuffer:
		return nil, nil
	default:
		return nil, fmt.Errorf("codec: parseValue: unsupported payload format %q", payloadFormat)
	}
}

// ParseTimestamp extracts an embedded timestamp from raw, when the format
// supports it. Only JSON carries an embedded $.timestamp; every other format
// returns ok=false so the caller falls back to the local wall clock.
func ParseTimestamp(raw any, payloadFormat models.PayloadFormat) (ms int64, ok bool) {
	if payloadFormat != models.FormatJSON {
		return 0, false
	}
	return parseJSONTimestamp(raw)
}

// Encode assembles a wire payload from metrics according to payloadFormat.
// XML and serialisedBuffer are not implemented; they log a warning through
// the default slog logger and return nil with no error.
func Encode(metrics []models.Metric, payloadFormat models.PayloadFormat, delimiter string) ([]byte, error) {
	switch payloadFormat {
	case models.FormatDelimited:
		return encodeDelimited(metrics, delimiter)
	case models.FormatJSON:
		return encodeJSON(metrics)
	case models.FormatFixedBuffer:
		return encodeFixedBuffer(metrics)
	case models.FormatXML:
		slog.Warn("codec: encode: XML payload encoding is not implemented, no payload produced")
		return encodeXML(metrics)
	case models.FormatSerialisedBuffer:
		slog.Warn("codec: encode: serialisedBuffer payload encoding is not implemented, no payload produced")
		return nil, nil
	default:
		return nil, fmt.Errorf("codec: encode: unsupported payload format %q", payloadFormat)
	}
}

// coerce converts a loosely-typed decoded value (almost always a string
// pulled out of text, JSON, or XML) into the metric's declared type.
func coerce(raw any, dt models.DataType) (any, error) {
	switch dt {
	case models.Float, models.Double:
		s, err := toStringForCoercion(raw)
		if err != nil {
			return nil, err
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, fmt.Errorf("codec: coerce %s: %w", dt, err)
		}
		return f, nil

	case models.Int8, models.Int16, models.Int32, models.Int64,
		models.UInt8, models.UInt16, models.UInt32, models.UInt64:
		return coerceInteger(raw, dt)

	case models.DateTime:
		s, err := toStringForCoercion(raw)
		if err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("codec: coerce dateTime: %w", err)
		}
		return t.UnixMilli(), nil

	case models.Boolean:
		s, err := toStringForCoercion(raw)
		if err != nil {
			return nil, err
		}
		return !isFalseLiteral(s), nil

	case models.String, models.Text, models.UUID:
		s, err := toStringForCoercion(raw)
		if err != nil {
			return nil, err
		}
		return s, nil

	default:
		// bytes, file, dataSet, template, propertySet, propertySetList: pass
		// the decoded value through unchanged; these are assembled by the
		// caller (see parseJSONDataSet for dataSet).
		return raw, nil
	}
}

var falseLiterals = map[string]bool{"false": true, "no": true, "0": true, "": true}

func isFalseLiteral(s string) bool {
	return falseLiterals[strings.ToLower(strings.TrimSpace(s))]
}

func coerceInteger(raw any, dt models.DataType) (any, error) {
	s, err := toStringForCoercion(raw)
	if err != nil {
		return nil, err
	}
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") {
		return nil, nil
	}

	switch dt {
	case models.Int8, models.Int16, models.Int32, models.Int64:
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("codec: coerce %s: %w", dt, err)
		}
		return v, nil
	default:
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("codec: coerce %s: %w", dt, err)
		}
		return v, nil
	}
}

// toStringForCoercion normalises the handful of shapes ParseValue callers
// hand us (string, []byte, numeric types already produced by a driver) into
// a string for parsing.
func toStringForCoercion(raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case fmt.Stringer:
		return v.String(), nil
	case nil:
		return "", nil
	default:
		return fmt.Sprint(v), nil
	}
}

// opcuaSecurityTable is the fixed textual lookup for OPC UA security mode
// and policy names; unknown values resolve to "Invalid".
var opcuaSecurityTable = map[string]string{
	"none":           "None",
	"sign":           "Sign",
	"signandencrypt": "SignAndEncrypt",
	"basic128rsa15":  "Basic128Rsa15",
	"basic256":       "Basic256",
	"basic256sha256": "Basic256Sha256",
	"aes128_sha256_rsaoaep": "Aes128_Sha256_RsaOaep",
	"aes256_sha256_rsapss":  "Aes256_Sha256_RsaPss",
}

// OPCUASecurityName maps a loosely-cased OPC UA security mode or policy
// name to its canonical form, resolving anything unrecognised to "Invalid".
func OPCUASecurityName(raw string) string {
	if name, ok := opcuaSecurityTable[strings.ToLower(raw)]; ok {
		return name
	}
	return "Invalid"
}
