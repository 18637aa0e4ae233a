package codec

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/edgeconduit/edgelink/models"
	"github.com/ohler55/ojg/jp"
)

// decodeJSONPayload accepts a string, []byte, or already-decoded value and
// returns the parsed JSON document as a generic any (map/slice/scalar).
func decodeJSONPayload(raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		var doc any
		if err := json.Unmarshal([]byte(v), &doc); err != nil {
			return nil, fmt.Errorf("codec: JSON: %w", err)
		}
		return doc, nil
	case []byte:
		var doc any
		if err := json.Unmarshal(v, &doc); err != nil {
			return nil, fmt.Errorf("codec: JSON: %w", err)
		}
		return doc, nil
	default:
		// already decoded (e.g. driver handed us a map[string]any directly)
		return v, nil
	}
}

func parseJSON(raw any, metric models.Metric) (any, error) {
	doc, err := decodeJSONPayload(raw)
	if err != nil {
		return nil, err
	}

	if metric.Type == models.DataSet {
		return parseJSONDataSet(doc, metric)
	}

	path := metric.Properties.Path
	if path == "" {
		return coerce(doc, metric.Type)
	}

	expr, err := jp.ParseString(path)
	if err != nil {
		return nil, fmt.Errorf("codec: JSON: bad path %q: %w", path, err)
	}
	matches := expr.Get(doc)
	if len(matches) == 0 {
		return nil, nil
	}
	return coerce(matches[0], metric.Type)
}

// parseJSONDataSet projects the array found at the metric's path into rows,
// keeping only the columns declared in Properties.Extra["columns"]; if no
// column list was declared, every row object is returned whole, with its
// own keys. Array elements that are not objects are skipped.
func parseJSONDataSet(doc any, metric models.Metric) (any, error) {
	target := doc
	if path := metric.Properties.Path; path != "" {
		expr, err := jp.ParseString(path)
		if err != nil {
			return nil, fmt.Errorf("codec: JSON dataSet: bad path %q: %w", path, err)
		}
		matches := expr.Get(doc)
		if len(matches) == 0 {
			return nil, nil
		}
		target = matches[0]
	}

	rows, ok := target.([]any)
	if !ok {
		return nil, fmt.Errorf("codec: JSON dataSet: path %q did not select an array", metric.Properties.Path)
	}

	var columns []string
	if cols, ok := metric.Properties.Extra["columns"].([]string); ok {
		columns = cols
	}

	out := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		rowMap, ok := r.(map[string]any)
		if !ok {
			continue
		}
		if columns == nil {
			out = append(out, rowMap)
			continue
		}
		projected := make(map[string]any, len(columns))
		for _, c := range columns {
			projected[c] = rowMap[c]
		}
		out = append(out, projected)
	}
	return out, nil
}

func parseJSONTimestamp(raw any) (int64, bool) {
	doc, err := decodeJSONPayload(raw)
	if err != nil {
		return 0, false
	}
	expr, err := jp.ParseString("$.timestamp")
	if err != nil {
		return 0, false
	}
	matches := expr.Get(doc)
	if len(matches) == 0 {
		return 0, false
	}

	switch v := matches[0].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t.UnixMilli(), true
		}
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

// encodeJSON assembles one JSON object from metrics, placing each value at
// the nested location its Path describes (a dotted JSONPath of the form
// "$.a.b.c"; "$" and a bare metric name both place the value at the root
// under the metric's own name).
func encodeJSON(metrics []models.Metric) ([]byte, error) {
	root := map[string]any{}
	for _, m := range metrics {
		segments := pathSegments(m)
		setNested(root, segments, m.Value)
	}
	return json.Marshal(root)
}

func pathSegments(m models.Metric) []string {
	path := strings.TrimPrefix(m.Properties.Path, "$.")
	path = strings.TrimPrefix(path, "$")
	if path == "" {
		return []string{m.Name}
	}
	return strings.Split(path, ".")
}

func setNested(root map[string]any, segments []string, value any) {
	cur := root
	for i, seg := range segments {
		if i == len(segments)-1 {
			cur[seg] = value
			return
		}
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
}
