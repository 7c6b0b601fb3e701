// Package ir defines the stored shapes of rule sets and the value helpers the
// rest of docrules shares.
//
// Rule sets are authored as JSON documents and must be accepted verbatim, so
// every type here decodes the wire format directly with encoding/json. The
// only place decode order matters is an actions block: action names are
// dispatched in the order they were written, so Actions keeps its keys as an
// ordered list instead of a map.
//
// Fact references are the one structural token that appears in several
// places (condition values, action params, where filters, derived ids). They
// are always an object carrying a string "fact" key; AsFactRef recognises
// them wherever they occur.
//
// Values flowing through the engine are plain decoded JSON: map[string]any,
// []any, string, float64, bool and nil. Documents loaded from the store use
// the same representation.
package ir
