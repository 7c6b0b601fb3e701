package ir

import (
	"encoding/json"
	"time"
)

// Document is one stored document.
type Document struct {
	Collection string
	ID         string
	Data       map[string]any
	Created    time.Time
	Updated    time.Time

	// Raw is the body as the store returned it. Decoders that care about
	// object key order read it instead of Data.
	Raw json.RawMessage
}

// Value returns the document as a fact value: its data with the id merged
// in under "id". The data map is copied.
func (d Document) Value() map[string]any {
	out := make(map[string]any, len(d.Data)+1)
	for k, v := range d.Data {
		out[k] = Clone(v)
	}
	out["id"] = d.ID
	return out
}

// DocumentValues converts a document list to fact values.
func DocumentValues(docs []Document) []any {
	out := make([]any, len(docs))
	for i, d := range docs {
		out[i] = d.Value()
	}
	return out
}

// FormatID converts a decoded id value to a document id. Strings pass
// through; integral numbers are formatted without a fraction.
func FormatID(v any) (string, bool) {
	switch id := v.(type) {
	case string:
		return id, id != ""
	case float64, float32, int, int32, int64:
		f, _ := ToFloat(id)
		return formatNumber(f), true
	}
	return "", false
}
