// Package fieldmap translates documents between an api caller's field names
// ("theirs") and the stored field names ("ours").
//
// A rule set's fieldMaps maps a collection to a list of {ours, theirs,
// value?} entries. Both sides are dot paths.
package fieldmap

import (
	"encoding/json"

	"github.com/roach88/docrules/internal/ir"
)

// Maps is the fieldMaps block of a rule set.
type Maps = map[string][]ir.FieldMap

// MapIncoming builds stored data from caller data. For each entry the
// caller's value at theirs is copied to ours; when it is missing, value
// (if set) is used instead. Caller fields without an entry are dropped.
// A collection with no entries passes data through unchanged.
func MapIncoming(collection string, data map[string]any, maps Maps) map[string]any {
	entries, ok := maps[collection]
	if !ok {
		return data
	}
	out := make(map[string]any, len(entries))
	for _, m := range entries {
		if v, ok := ir.Get(data, m.Theirs); ok && v != nil && m.Theirs != "" {
			ir.Set(out, m.Ours, ir.Clone(v))
		} else if m.Value != nil {
			ir.Set(out, m.Ours, ir.Clone(m.Value))
		}
	}
	return out
}

// MapOutgoing renames stored fields to the caller's names: the value at
// ours moves to theirs. Fields without an entry are kept as they are.
// data is not modified.
func MapOutgoing(collection string, data map[string]any, maps Maps) map[string]any {
	out := ir.CloneMap(data)
	if out == nil {
		out = map[string]any{}
	}
	for _, m := range maps[collection] {
		v, _ := ir.Get(out, m.Ours)
		ir.Unset(out, m.Ours)
		ir.Set(out, m.Theirs, v)
	}
	return out
}

// FromValue reads a fieldMaps fact value: either Maps itself or its
// decoded JSON form.
func FromValue(v any) (Maps, bool) {
	switch m := v.(type) {
	case nil:
		return nil, false
	case Maps:
		return m, true
	case map[string]any:
		raw, err := json.Marshal(m)
		if err != nil {
			return nil, false
		}
		var out Maps
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, false
		}
		return out, true
	}
	return nil, false
}
