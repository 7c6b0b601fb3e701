package harness

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/docrules/internal/ir"
	"github.com/roach88/docrules/internal/queryir"
	"github.com/roach88/docrules/internal/store"
)

// AssertionContext is what store-backed assertions read from.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			switch event.Type {
			case EventAction:
				fmt.Fprintf(&buf, "  [%d] %s %v\n", event.Seq, event.Action, event.Params)
			case EventResponse:
				fmt.Fprintf(&buf, "  [%d] response %d %v\n", event.Seq, event.Status, event.Result)
			}
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns the failure
// messages. An empty slice means all assertions hold.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertActionCalled:
			err = assertActionCalled(result.Trace, a)
		case AssertActionCount:
			err = assertActionCount(result.Trace, a)
		case AssertActionOrder:
			err = assertActionOrder(result.Trace, a)
		case AssertDocument:
			err = assertDocument(actx, a)
		case AssertResponse:
			err = assertResponse(result, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

// assertActionCalled checks that some call of the action carries the
// expected params (subset match).
func assertActionCalled(trace []TraceEvent, a Assertion) error {
	want := normalize(a.Params)
	for _, event := range trace {
		if event.Type == EventAction && event.Action == a.Action && matches(want, event.Params) {
			return nil
		}
	}
	expected := "call of " + a.Action
	if a.Params != nil {
		expected += fmt.Sprintf(" with params %v", a.Params)
	}
	return &AssertionError{
		Type:     AssertActionCalled,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertActionCount checks the exact number of calls of the action.
func assertActionCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == EventAction && event.Action == a.Action {
			count++
		}
	}
	if count != *a.Count {
		return &AssertionError{
			Type:     AssertActionCount,
			Expected: fmt.Sprintf("%d calls of %s", *a.Count, a.Action),
			Actual:   fmt.Sprintf("%d calls", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertActionOrder checks that the first call of each listed action
// happens in list order. Other calls may come in between.
func assertActionOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for _, event := range trace {
		if event.Type != EventAction {
			continue
		}
		if _, seen := positions[event.Action]; !seen {
			positions[event.Action] = event.Seq
		}
	}

	for _, name := range a.Actions {
		if _, ok := positions[name]; !ok {
			return &AssertionError{
				Type:     AssertActionOrder,
				Expected: fmt.Sprintf("all actions called: %v", a.Actions),
				Actual:   "missing action: " + name,
				Trace:    trace,
			}
		}
	}
	for i := 1; i < len(a.Actions); i++ {
		prev, curr := a.Actions[i-1], a.Actions[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertActionOrder,
				Expected: fmt.Sprintf("actions in order: %v", a.Actions),
				Actual: fmt.Sprintf("%s (seq %d) should be before %s (seq %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertDocument checks the store. With an id, the document must exist
// and match Expect, or be missing when Absent is set. Without an id, some
// document of the collection must match (none when Absent is set).
func assertDocument(actx *AssertionContext, a Assertion) error {
	if actx == nil || actx.Store == nil {
		return fmt.Errorf("document assertion requires a store")
	}
	want := normalize(a.Expect)

	if a.ID != "" {
		doc, err := actx.Store.GetDoc(actx.Ctx, a.Collection, a.ID)
		if err != nil {
			return fmt.Errorf("read %s/%s: %w", a.Collection, a.ID, err)
		}
		switch {
		case a.Absent && doc != nil:
			return &AssertionError{
				Type:     AssertDocument,
				Expected: fmt.Sprintf("no document %s/%s", a.Collection, a.ID),
				Actual:   fmt.Sprintf("found %v", doc.Data),
			}
		case a.Absent:
			return nil
		case doc == nil:
			return &AssertionError{
				Type:     AssertDocument,
				Expected: fmt.Sprintf("document %s/%s", a.Collection, a.ID),
				Actual:   "document not found",
			}
		}
		if !matches(want, normalize(doc.Data)) {
			return &AssertionError{
				Type:     AssertDocument,
				Expected: fmt.Sprintf("%s/%s matching %v", a.Collection, a.ID, a.Expect),
				Actual:   fmt.Sprintf("%v", doc.Data),
			}
		}
		return nil
	}

	docs, err := actx.Store.QueryDocs(actx.Ctx, queryir.From(a.Collection))
	if err != nil {
		return fmt.Errorf("query %s: %w", a.Collection, err)
	}
	var found *ir.Document
	for i := range docs {
		if matches(want, normalize(docs[i].Data)) {
			found = &docs[i]
			break
		}
	}
	switch {
	case a.Absent && found != nil:
		return &AssertionError{
			Type:     AssertDocument,
			Expected: fmt.Sprintf("no document in %s matching %v", a.Collection, a.Expect),
			Actual:   fmt.Sprintf("found %s", found.ID),
		}
	case !a.Absent && found == nil:
		return &AssertionError{
			Type:     AssertDocument,
			Expected: fmt.Sprintf("a document in %s matching %v", a.Collection, a.Expect),
			Actual:   fmt.Sprintf("%d documents, none matching", len(docs)),
		}
	}
	return nil
}

// assertResponse checks the api response status, error text (substring)
// and data (subset match).
func assertResponse(result *Result, a Assertion) error {
	event, ok := result.Response()
	if !ok {
		return &AssertionError{
			Type:     AssertResponse,
			Expected: "an api response",
			Actual:   "no response recorded",
			Trace:    result.Trace,
		}
	}
	env, _ := event.Result.(map[string]any)

	if a.Status != 0 && event.Status != a.Status {
		return &AssertionError{
			Type:     AssertResponse,
			Expected: fmt.Sprintf("status %d", a.Status),
			Actual:   fmt.Sprintf("status %d", event.Status),
		}
	}
	if a.Error != "" {
		msg, _ := env["error"].(string)
		if !strings.Contains(msg, a.Error) {
			return &AssertionError{
				Type:     AssertResponse,
				Expected: fmt.Sprintf("error containing %q", a.Error),
				Actual:   fmt.Sprintf("error %q", msg),
			}
		}
	}
	if a.Expect != nil && !matches(normalize(a.Expect), env["data"]) {
		return &AssertionError{
			Type:     AssertResponse,
			Expected: fmt.Sprintf("data matching %v", a.Expect),
			Actual:   fmt.Sprintf("%v", env["data"]),
		}
	}
	return nil
}

// matches reports whether got contains want. Objects match when every key
// of want matches in got; arrays and scalars must be equal. A nil want
// matches anything.
func matches(want, got any) bool {
	if want == nil {
		return true
	}
	wm, ok := want.(map[string]any)
	if !ok {
		return reflect.DeepEqual(want, got)
	}
	gm, ok := got.(map[string]any)
	if !ok {
		return false
	}
	for k, wv := range wm {
		gv, exists := gm[k]
		if !exists {
			return false
		}
		if wv == nil {
			if gv != nil {
				return false
			}
			continue
		}
		if !matches(wv, gv) {
			return false
		}
	}
	return true
}
