// Package testutil holds helpers shared by package tests: a throwaway
// store, a fixed clock, a counting document reader and an action recorder.
package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/roach88/docrules/internal/ir"
	"github.com/roach88/docrules/internal/queryir"
	"github.com/roach88/docrules/internal/store"
)

// Now is the fixed instant used by FixedClock callers that do not care.
var Now = time.Date(2024, 5, 17, 9, 30, 15, 250*int(time.Millisecond), time.UTC)

// FixedClock returns a clock that always reads t.
func FixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// OpenStore opens a SQLite store in a temp dir, closed with the test.
func OpenStore(t *testing.T, opts ...store.Option) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	opts = append([]store.Option{store.WithClock(FixedClock(Now))}, opts...)
	st, err := store.Open(store.DriverSQLite3, path, opts...)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// Seed adds a document, failing the test on error.
func Seed(t *testing.T, st *store.Store, collection, id string, data map[string]any) {
	t.Helper()
	if _, err := st.AddDoc(context.Background(), collection, data, id); err != nil {
		t.Fatalf("seed %s/%s: %v", collection, id, err)
	}
}

// Reader is the document read capability CountingReader wraps.
type Reader interface {
	GetDoc(ctx context.Context, collection, id string) (*ir.Document, error)
	QueryDocs(ctx context.Context, q queryir.Query) ([]ir.Document, error)
}

// CountingReader counts reads passed through to an underlying reader and
// remembers the queries it ran.
type CountingReader struct {
	Reader Reader

	mu      sync.Mutex
	gets    int
	queries []queryir.Query
}

// GetDoc implements Reader.
func (c *CountingReader) GetDoc(ctx context.Context, collection, id string) (*ir.Document, error) {
	c.mu.Lock()
	c.gets++
	c.mu.Unlock()
	return c.Reader.GetDoc(ctx, collection, id)
}

// QueryDocs implements Reader.
func (c *CountingReader) QueryDocs(ctx context.Context, q queryir.Query) ([]ir.Document, error) {
	c.mu.Lock()
	c.queries = append(c.queries, q)
	c.mu.Unlock()
	return c.Reader.QueryDocs(ctx, q)
}

// Gets returns the number of GetDoc calls.
func (c *CountingReader) Gets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gets
}

// Queries returns the queries run so far.
func (c *CountingReader) Queries() []queryir.Query {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]queryir.Query, len(c.queries))
	copy(out, c.queries)
	return out
}

// Call is one recorded action invocation.
type Call struct {
	Action string
	Params map[string]any
}

// Recorder records action invocations in order.
type Recorder struct {
	mu    sync.Mutex
	calls []Call
}

// Handler returns an action handler that records under name and returns
// result (or err).
func (r *Recorder) Handler(name string, result any, err error) func(ctx context.Context, params map[string]any) (any, error) {
	return func(ctx context.Context, params map[string]any) (any, error) {
		r.mu.Lock()
		r.calls = append(r.calls, Call{Action: name, Params: params})
		r.mu.Unlock()
		return result, err
	}
}

// Calls returns the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// Names returns the recorded action names in order.
func (r *Recorder) Names() []string {
	calls := r.Calls()
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Action
	}
	return names
}

// SequenceIDs generates Prefix-1, Prefix-2, ... in call order. Unlike
// store.FixedGenerator it never runs out.
type SequenceIDs struct {
	Prefix string

	mu sync.Mutex
	n  int
}

// Generate returns the next id.
func (g *SequenceIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.Prefix, g.n)
}
