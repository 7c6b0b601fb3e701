package facts

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/docrules/internal/engine"
	"github.com/roach88/docrules/internal/ir"
)

// NowFactName is the name of the built-in current-time fact.
const NowFactName = "now"

const isoLayout = "2006-01-02T15:04:05.000Z07:00"

// NowFact returns the built-in now fact. Params:
//
//	{"add": "<n> <unit>"} or {"subtract": "<n> <unit>"}  shift the instant
//	{"function": "getTime"}                              call a zero-arg date method
//	{"format": "unix" | "timestamp" | "firestoreTimestamp"}
//
// With no function and no format the value is an ISO 8601 UTC string.
func NowFact(clock func() time.Time) *engine.Fact {
	if clock == nil {
		clock = time.Now
	}
	return engine.DynamicFact(NowFactName, func(ctx context.Context, params map[string]any, a *engine.Almanac) (any, error) {
		return NowValue(clock(), params)
	})
}

// NowValue computes the now fact for the instant t.
func NowValue(t time.Time, params map[string]any) (any, error) {
	t = t.UTC()

	if s, ok := params["add"].(string); ok {
		shifted, err := shift(t, s, 1)
		if err != nil {
			return nil, err
		}
		t = shifted
	} else if s, ok := params["subtract"].(string); ok {
		shifted, err := shift(t, s, -1)
		if err != nil {
			return nil, err
		}
		t = shifted
	}

	if fn, ok := params["function"].(string); ok && fn != "" {
		return callDateFunction(t, fn)
	}

	switch format, _ := params["format"].(string); format {
	case "":
		return t.Format(isoLayout), nil
	case "unix":
		return t.Unix(), nil
	case "timestamp", "firestoreTimestamp":
		return ir.TimestampOf(t).Value(), nil
	default:
		return nil, fmt.Errorf("now: unknown format %q", format)
	}
}

// shift moves t by "<n> <unit>" in direction sign.
func shift(t time.Time, spec string, sign int) (time.Time, error) {
	fields := strings.Fields(spec)
	if len(fields) != 2 {
		return t, fmt.Errorf("now: duration %q must be \"<n> <unit>\"", spec)
	}
	n, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return t, fmt.Errorf("now: duration %q: bad amount: %w", spec, err)
	}
	n *= float64(sign)

	unit := fields[1]
	switch unit {
	case "M", "month", "months":
		return addMonths(t, n)
	case "y", "year", "years":
		return addMonths(t, n*12)
	}

	var d time.Duration
	switch strings.ToLower(unit) {
	case "ms", "millisecond", "milliseconds":
		d = time.Millisecond
	case "s", "second", "seconds":
		d = time.Second
	case "m", "minute", "minutes":
		d = time.Minute
	case "h", "hour", "hours":
		d = time.Hour
	case "d", "day", "days":
		d = 24 * time.Hour
	case "w", "week", "weeks":
		d = 7 * 24 * time.Hour
	default:
		return t, fmt.Errorf("now: unknown unit %q", unit)
	}
	return t.Add(time.Duration(math.Round(n * float64(d)))), nil
}

// addMonths adds whole months, clamping the day to the end of the target
// month (Jan 31 + 1 month is the last day of February).
func addMonths(t time.Time, n float64) (time.Time, error) {
	if n != math.Trunc(n) {
		return t, fmt.Errorf("now: months and years must be whole numbers, got %v", n)
	}
	months := int(n)
	first := time.Date(t.Year(), t.Month(), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	target := first.AddDate(0, months, 0)
	lastDay := target.AddDate(0, 1, -1).Day()
	day := t.Day()
	if day > lastDay {
		day = lastDay
	}
	return target.AddDate(0, 0, day-1), nil
}

func callDateFunction(t time.Time, name string) (any, error) {
	switch name {
	case "toISOString", "toJSON":
		return t.Format(isoLayout), nil
	case "getTime", "valueOf":
		return t.UnixMilli(), nil
	case "toString":
		return t.Format("Mon Jan 02 2006 15:04:05 GMT-0700") + " (Coordinated Universal Time)", nil
	case "toUTCString":
		return t.Format("Mon, 02 Jan 2006 15:04:05 GMT"), nil
	case "getFullYear":
		return t.Year(), nil
	case "getMonth":
		return int(t.Month()) - 1, nil
	case "getDate":
		return t.Day(), nil
	case "getDay":
		return int(t.Weekday()), nil
	case "getHours":
		return t.Hour(), nil
	case "getMinutes":
		return t.Minute(), nil
	case "getSeconds":
		return t.Second(), nil
	case "getMilliseconds":
		return t.Nanosecond() / int(time.Millisecond), nil
	}
	return nil, fmt.Errorf("now: unknown function %q", name)
}
