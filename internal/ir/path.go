package ir

import (
	"strconv"
	"strings"
)

// NormalizePath strips the leading "$." (or a bare "$") from a dot path.
func NormalizePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "$" {
		return ""
	}
	return strings.TrimPrefix(path, "$.")
}

// splitPath splits a normalized dot path. Bracketed indexes ("a[0].b") are
// accepted and treated as segments.
func splitPath(path string) []string {
	path = NormalizePath(path)
	if path == "" {
		return nil
	}
	path = strings.ReplaceAll(path, "[", ".")
	path = strings.ReplaceAll(path, "]", "")
	parts := strings.Split(path, ".")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Get returns the value at path inside v. An empty path returns v itself.
// The second result is false when any segment is missing.
func Get(v any, path string) (any, bool) {
	cur := v
	for _, seg := range splitPath(path) {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Set writes value at path inside m, creating intermediate objects. Array
// segments must already exist.
func Set(m map[string]any, path string, value any) bool {
	segs := splitPath(path)
	if len(segs) == 0 {
		return false
	}
	var cur any = m
	for i, seg := range segs {
		last := i == len(segs)-1
		switch node := cur.(type) {
		case map[string]any:
			if last {
				node[seg] = value
				return true
			}
			next, ok := node[seg]
			if !ok || next == nil {
				child := map[string]any{}
				node[seg] = child
				next = child
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return false
			}
			if last {
				node[idx] = value
				return true
			}
			cur = node[idx]
		default:
			return false
		}
	}
	return false
}

// Unset removes the value at path inside m. It reports whether anything was
// removed.
func Unset(m map[string]any, path string) bool {
	segs := splitPath(path)
	if len(segs) == 0 {
		return false
	}
	parent, ok := Get(m, strings.Join(segs[:len(segs)-1], "."))
	if !ok {
		return false
	}
	obj, ok := parent.(map[string]any)
	if !ok {
		return false
	}
	if _, exists := obj[segs[len(segs)-1]]; !exists {
		return false
	}
	delete(obj, segs[len(segs)-1])
	return true
}

// IsEmpty reports whether v counts as empty: nil, "", or a zero-length
// array or object.
func IsEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

// Clone deep-copies a decoded JSON value.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Clone(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Clone(val)
		}
		return out
	}
	return v
}

// CloneMap deep-copies an object, returning nil for nil.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return Clone(m).(map[string]any)
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
