package ir

import (
	"cmp"
	"strconv"
	"strings"
	"time"
)

// Timestamp is the store-native instant encoding.
type Timestamp struct {
	Seconds     int64 `json:"_seconds"`
	Nanoseconds int64 `json:"_nanoseconds"`
}

// TimestampOf converts t to a Timestamp.
func TimestampOf(t time.Time) Timestamp {
	return Timestamp{Seconds: t.Unix(), Nanoseconds: int64(t.Nanosecond())}
}

// Time returns the instant as a UTC time.
func (ts Timestamp) Time() time.Time {
	return time.Unix(ts.Seconds, ts.Nanoseconds).UTC()
}

// Value returns the timestamp as a decoded JSON object so it can be stored
// and compared like any other document field.
func (ts Timestamp) Value() map[string]any {
	return map[string]any{
		"_seconds":     ts.Seconds,
		"_nanoseconds": ts.Nanoseconds,
	}
}

// Compare orders two timestamps by seconds then nanoseconds. It returns
// -1, 0 or +1.
func (ts Timestamp) Compare(other Timestamp) int {
	if c := cmp.Compare(ts.Seconds, other.Seconds); c != 0 {
		return c
	}
	return cmp.Compare(ts.Nanoseconds, other.Nanoseconds)
}

// AsTimestamp recognises a decoded {_seconds, _nanoseconds} object.
func AsTimestamp(v any) (Timestamp, bool) {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 2 {
		return Timestamp{}, false
	}
	secs, ok1 := ToInt64(m["_seconds"])
	nanos, ok2 := ToInt64(m["_nanoseconds"])
	if !ok1 || !ok2 {
		return Timestamp{}, false
	}
	return Timestamp{Seconds: secs, Nanoseconds: nanos}, true
}

const timestampPrefix = "timestamp:"

// ConvertTimestamps returns a copy of data where every string of the form
// "timestamp:now" or "timestamp:<epoch millis>" is replaced by a Timestamp
// value. Other strings starting with the prefix are left untouched.
func ConvertTimestamps(data map[string]any, now time.Time) map[string]any {
	if data == nil {
		return nil
	}
	return convertTimestampValue(data, now).(map[string]any)
}

func convertTimestampValue(v any, now time.Time) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = convertTimestampValue(val, now)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = convertTimestampValue(val, now)
		}
		return out
	case string:
		if !strings.HasPrefix(t, timestampPrefix) {
			return t
		}
		rest := strings.TrimPrefix(t, timestampPrefix)
		if rest == "now" {
			return TimestampOf(now).Value()
		}
		ms, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			return t
		}
		return TimestampOf(time.UnixMilli(ms)).Value()
	}
	return v
}

// ToInt64 converts a decoded JSON number to int64. Non-integral floats are
// rejected.
func ToInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	case float32:
		return ToInt64(float64(n))
	}
	return 0, false
}

// ToFloat converts any numeric value to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
