package codec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/edgeconduit/edgelink/models"
)

// parseDelimited splits raw on delimiter (when non-empty) and selects the
// field named by the metric's Path, interpreted as an integer index; with
// no delimiter the entire payload is the value.
func parseDelimited(raw any, metric models.Metric, delimiter string) (any, error) {
	s, err := toStringForCoercion(raw)
	if err != nil {
		return nil, err
	}

	field := s
	if delimiter != "" {
		parts := strings.Split(s, delimiter)
		idx, err := strconv.Atoi(strings.TrimSpace(metric.Properties.Path))
		if err != nil {
			return nil, fmt.Errorf("codec: delimited: path %q is not an integer field index: %w", metric.Properties.Path, err)
		}
		if idx < 0 || idx >= len(parts) {
			return nil, fmt.Errorf("codec: delimited: field index %d out of range (%d fields)", idx, len(parts))
		}
		field = parts[idx]
	}

	return coerce(field, metric.Type)
}

// encodeDelimited stringifies each metric's value in order and joins them
// with delimiter.
func encodeDelimited(metrics []models.Metric, delimiter string) ([]byte, error) {
	fields := make([]string, len(metrics))
	for i, m := range metrics {
		s, err := stringifyValue(m.Value)
		if err != nil {
			return nil, fmt.Errorf("codec: encode delimited: metric %q: %w", m.Name, err)
		}
		fields[i] = s
	}
	return []byte(strings.Join(fields, delimiter)), nil
}

func stringifyValue(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	switch val := v.(type) {
	case string:
		return val, nil
	case []byte:
		return string(val), nil
	default:
		return fmt.Sprint(val), nil
	}
}
