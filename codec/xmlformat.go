package codec

import (
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/edgeconduit/edgelink/models"
)

// parseXML parses raw as an XML document and selects the node at the
// metric's Path, an XPath expression, coercing its text content to the
// metric's declared type.
func parseXML(raw any, metric models.Metric) (any, error) {
	s, err := toStringForCoercion(raw)
	if err != nil {
		return nil, err
	}

	doc, err := xmlquery.Parse(strings.NewReader(s))
	if err != nil {
		return nil, fmt.Errorf("codec: XML: parse: %w", err)
	}

	path := metric.Properties.Path
	if path == "" {
		return coerce(doc.InnerText(), metric.Type)
	}

	node, err := xmlquery.Query(doc, path)
	if err != nil {
		return nil, fmt.Errorf("codec: XML: bad xpath %q: %w", path, err)
	}
	if node == nil {
		return nil, nil
	}
	return coerce(node.InnerText(), metric.Type)
}

// encodeXML is not implemented: the XML write path is a declared placeholder
// (see DESIGN.md, Open Question 4). Encode logs a warning before calling it;
// callers treat a nil, nil return as "no payload produced".
func encodeXML([]models.Metric) ([]byte, error) {
	return nil, nil
}
