package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/edgeconduit/edgelink/models"
)

// parseFixedBuffer interprets the metric's Path as a byte offset into raw
// and reads a typed value using the metric's declared endianness. Boolean
// metrics use a "byteOffset.bitIndex" path instead of a plain offset.
func parseFixedBuffer(raw any, metric models.Metric) (any, error) {
	buf, err := toBytes(raw)
	if err != nil {
		return nil, err
	}

	if metric.Type == models.Boolean {
		byteOff, bit, err := parseBitPath(metric.Properties.Path)
		if err != nil {
			return nil, err
		}
		if byteOff >= len(buf) {
			return nil, fmt.Errorf("codec: fixedBuffer: byte offset %d out of range (%d bytes)", byteOff, len(buf))
		}
		return (buf[byteOff]>>uint(bit))&1 == 1, nil
	}

	offset, err := strconv.Atoi(strings.TrimSpace(metric.Properties.Path))
	if err != nil {
		return nil, fmt.Errorf("codec: fixedBuffer: path %q is not a byte offset: %w", metric.Properties.Path, err)
	}

	width := typeWidth(metric.Type)
	if width == 0 {
		return nil, fmt.Errorf("codec: fixedBuffer: unsupported type %q", metric.Type)
	}
	if offset < 0 || offset+width > len(buf) {
		return nil, fmt.Errorf("codec: fixedBuffer: offset %d width %d out of range (%d bytes)", offset, width, len(buf))
	}

	field := make([]byte, width)
	copy(field, buf[offset:offset+width])

	endian := metric.Properties.Endianness
	if endian == 0 {
		endian = models.BigEndian
	}

	if endian == models.PDPEndian && width >= 4 {
		field = pdpRearrange(field)
		endian = models.BigEndian
	}

	return decodeTyped(field, metric.Type, endian)
}

func decodeTyped(field []byte, dt models.DataType, endian models.Endianness) (any, error) {
	var bo binary.ByteOrder = binary.BigEndian
	if endian == models.LittleEndian {
		bo = binary.LittleEndian
	}

	switch dt {
	case models.Int8:
		return int64(int8(field[0])), nil
	case models.UInt8:
		return uint64(field[0]), nil
	case models.Int16:
		return int64(int16(bo.Uint16(field))), nil
	case models.UInt16:
		return uint64(bo.Uint16(field)), nil
	case models.Int32:
		return int64(int32(bo.Uint32(field))), nil
	case models.UInt32:
		return uint64(bo.Uint32(field)), nil
	case models.Int64:
		return int64(bo.Uint64(field)), nil
	case models.UInt64, models.DateTime:
		return bo.Uint64(field), nil
	case models.Float:
		return float64(math.Float32frombits(bo.Uint32(field))), nil
	case models.Double:
		return math.Float64frombits(bo.Uint64(field)), nil
	case models.String:
		return string(field), nil
	default:
		return nil, fmt.Errorf("codec: fixedBuffer: unsupported type %q", dt)
	}
}

// typeWidth returns the byte width of a fixed-buffer type, or 0 if the type
// has no fixed width. String, Boolean and every non-numeric type return 0:
// parseFixedBuffer reads Boolean through its bit path and rejects the rest
// (String included), and encodeFixedBuffer skips them.
func typeWidth(dt models.DataType) int {
	switch dt {
	case models.Int8, models.UInt8:
		return 1
	case models.Int16, models.UInt16:
		return 2
	case models.Int32, models.UInt32, models.Float:
		return 4
	case models.Int64, models.UInt64, models.Double, models.DateTime:
		return 8
	default:
		return 0
	}
}

func parseBitPath(path string) (byteOffset, bit int, err error) {
	parts := strings.SplitN(strings.TrimSpace(path), ".", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("codec: fixedBuffer: boolean path %q must be \"byteOffset.bit\"", path)
	}
	byteOffset, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("codec: fixedBuffer: bad byte offset in %q: %w", path, err)
	}
	bit, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("codec: fixedBuffer: bad bit index in %q: %w", path, err)
	}
	return byteOffset, bit, nil
}

// pdpRearrange swaps each pair of 16-bit words within every 32-bit group,
// i.e. bytes [b0 b1 b2 b3] become [b2 b3 b0 b1]. Groups beyond a multiple of
// 4 bytes are left untouched.
func pdpRearrange(buf []byte) []byte {
	out := make([]byte, len(buf))
	copy(out, buf)
	for i := 0; i+4 <= len(out); i += 4 {
		out[i], out[i+2] = out[i+2], out[i]
		out[i+1], out[i+3] = out[i+3], out[i+1]
	}
	return out
}

func toBytes(raw any) ([]byte, error) {
	switch v := raw.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("codec: fixedBuffer: expected []byte or string payload, got %T", raw)
	}
}

// encodeFixedBuffer concatenates each metric's typed encoding at its
// declared byte offset, honouring its own endianness; if any field is PDP,
// a single word-swap pass is applied to the whole buffer afterwards.
func encodeFixedBuffer(metrics []models.Metric) ([]byte, error) {
	size := 0
	for _, m := range metrics {
		width := typeWidth(m.Type)
		if width == 0 {
			continue
		}
		offset, err := strconv.Atoi(strings.TrimSpace(m.Properties.Path))
		if err != nil {
			return nil, fmt.Errorf("codec: encode fixedBuffer: metric %q: %w", m.Name, err)
		}
		if offset+width > size {
			size = offset + width
		}
	}

	buf := make([]byte, size)
	pdpUsed := false

	for _, m := range metrics {
		width := typeWidth(m.Type)
		if width == 0 {
			continue
		}
		offset, _ := strconv.Atoi(strings.TrimSpace(m.Properties.Path))

		endian := m.Properties.Endianness
		if endian == 0 {
			endian = models.BigEndian
		}
		writeEndian := endian
		if endian == models.PDPEndian {
			pdpUsed = true
			writeEndian = models.BigEndian
		}

		field, err := encodeTyped(m.Value, m.Type, writeEndian, width)
		if err != nil {
			return nil, fmt.Errorf("codec: encode fixedBuffer: metric %q: %w", m.Name, err)
		}
		copy(buf[offset:offset+width], field)
	}

	if pdpUsed {
		buf = pdpRearrange(buf)
	}
	return buf, nil
}

func encodeTyped(value any, dt models.DataType, endian models.Endianness, width int) ([]byte, error) {
	var bo binary.ByteOrder = binary.BigEndian
	if endian == models.LittleEndian {
		bo = binary.LittleEndian
	}

	field := make([]byte, width)
	switch dt {
	case models.Int8:
		field[0] = byte(toInt64(value))
	case models.UInt8:
		field[0] = byte(toUint64(value))
	case models.Int16:
		bo.PutUint16(field, uint16(toInt64(value)))
	case models.UInt16:
		bo.PutUint16(field, uint16(toUint64(value)))
	case models.Int32:
		bo.PutUint32(field, uint32(toInt64(value)))
	case models.UInt32:
		bo.PutUint32(field, uint32(toUint64(value)))
	case models.Int64:
		bo.PutUint64(field, uint64(toInt64(value)))
	case models.UInt64, models.DateTime:
		bo.PutUint64(field, toUint64(value))
	case models.Float:
		bo.PutUint32(field, math.Float32bits(float32(toFloat64(value))))
	case models.Double:
		bo.PutUint64(field, math.Float64bits(toFloat64(value)))
	default:
		return nil, fmt.Errorf("unsupported type %q", dt)
	}
	return field, nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case uint64:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func toUint64(v any) uint64 {
	switch n := v.(type) {
	case uint64:
		return n
	case int64:
		return uint64(n)
	case int:
		return uint64(n)
	case float64:
		return uint64(n)
	default:
		return 0
	}
}

func toFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	default:
		return 0
	}
}
