package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/roach88/docrules/internal/ir"
)

// Almanac is the fact cache of one run.
//
// Registered facts are resolved lazily and memoized by (name, params): a
// dynamic fact asked for twice with equal params is computed once, even by
// concurrent callers. Runtime facts written with AddRuntimeFact overlay the
// registered ones for the rest of the run.
//
// Thread-safety: Almanac is safe for concurrent use.
type Almanac struct {
	facts  map[string]*Fact
	logger *slog.Logger

	mu      sync.Mutex
	memo    map[string]*memoEntry
	runtime map[string]any
	order   []string // runtime fact names in first-write order
}

type memoEntry struct {
	once     sync.Once
	value    any
	err      error
	resolved atomic.Bool
}

// NewAlmanac creates an almanac over facts. The map is copied.
func NewAlmanac(facts map[string]*Fact, logger *slog.Logger) *Almanac {
	if logger == nil {
		logger = slog.Default()
	}
	copied := make(map[string]*Fact, len(facts))
	for k, v := range facts {
		copied[k] = v
	}
	return &Almanac{
		facts:   copied,
		logger:  logger,
		memo:    make(map[string]*memoEntry),
		runtime: make(map[string]any),
	}
}

// FactValue resolves name with params. Runtime facts win over registered
// facts. An unregistered name returns an UNDEFINED_FACT RuntimeError; a
// fact whose calculation asks for itself, directly or through other facts,
// returns a FACT_CYCLE RuntimeError to the inner caller.
func (a *Almanac) FactValue(ctx context.Context, name string, params map[string]any) (any, error) {
	a.mu.Lock()
	if v, ok := a.runtime[name]; ok {
		a.mu.Unlock()
		return v, nil
	}
	f, ok := a.facts[name]
	a.mu.Unlock()
	if !ok {
		return nil, newUndefinedFactError(name)
	}
	if !f.IsDynamic() {
		return f.value, nil
	}

	key, err := ir.FactKey(name, params)
	if err != nil {
		return nil, &RuntimeError{Code: ErrCodeFactResolution, Message: "bad fact params", Fact: name, Err: err}
	}

	if resolvingFrom(ctx, key) {
		return nil, newFactCycleError(name)
	}

	a.mu.Lock()
	entry, ok := a.memo[key]
	if !ok {
		entry = &memoEntry{}
		a.memo[key] = entry
	}
	a.mu.Unlock()

	entry.once.Do(func() {
		entry.value, entry.err = f.calc(withResolving(ctx, key), params, a)
		if entry.err != nil {
			entry.err = &RuntimeError{
				Code:    ErrCodeFactResolution,
				Message: fmt.Sprintf("fact %q failed", name),
				Fact:    name,
				Err:     entry.err,
			}
		}
		entry.resolved.Store(true)
	})
	return entry.value, entry.err
}

// PathValue resolves name and returns the value at path inside it.
// A missing path yields nil.
func (a *Almanac) PathValue(ctx context.Context, name, path string, params map[string]any) (any, error) {
	v, err := a.FactValue(ctx, name, params)
	if err != nil {
		return nil, err
	}
	if ir.NormalizePath(path) == "" {
		return v, nil
	}
	out, _ := ir.Get(v, path)
	return out, nil
}

// AddRuntimeFact sets a runtime fact, replacing any previous value.
func (a *Almanac) AddRuntimeFact(name string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.runtime[name]; !ok {
		a.order = append(a.order, name)
	}
	a.runtime[name] = value
}

// RuntimeFact returns a runtime fact.
func (a *Almanac) RuntimeFact(name string) (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.runtime[name]
	return v, ok
}

// HasFact reports whether name is registered or set at runtime.
func (a *Almanac) HasFact(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.runtime[name]; ok {
		return true
	}
	_, ok := a.facts[name]
	return ok
}

// FactNames returns every registered and runtime fact name, sorted.
func (a *Almanac) FactNames() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	seen := make(map[string]bool, len(a.facts)+len(a.runtime))
	names := make([]string, 0, len(seen))
	for name := range a.facts {
		seen[name] = true
		names = append(names, name)
	}
	for name := range a.runtime {
		if !seen[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Snapshot returns name → value for every fact whose value is known without
// further I/O: static facts, runtime facts, and dynamic facts already
// resolved without params.
func (a *Almanac) Snapshot() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]any, len(a.facts)+len(a.runtime))
	for name, f := range a.facts {
		if !f.IsDynamic() {
			out[name] = f.value
			continue
		}
		if entry, ok := a.memo[name]; ok && entry.resolved.Load() && entry.err == nil {
			out[name] = entry.value
		}
	}
	for name, v := range a.runtime {
		out[name] = v
	}
	return out
}

// Resolutions returns how many distinct (name, params) resolutions of
// dynamic facts have started in this almanac.
func (a *Almanac) Resolutions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.memo)
}

type resolvingKey struct{}

// resolving is the chain of fact keys being calculated on this call path.
type resolving struct {
	key  string
	next *resolving
}

func withResolving(ctx context.Context, key string) context.Context {
	next, _ := ctx.Value(resolvingKey{}).(*resolving)
	return context.WithValue(ctx, resolvingKey{}, &resolving{key: key, next: next})
}

func resolvingFrom(ctx context.Context, key string) bool {
	for r, _ := ctx.Value(resolvingKey{}).(*resolving); r != nil; r = r.next {
		if r.key == key {
			return true
		}
	}
	return false
}

type almanacKey struct{}

// WithAlmanac returns a context carrying a.
func WithAlmanac(ctx context.Context, a *Almanac) context.Context {
	return context.WithValue(ctx, almanacKey{}, a)
}

// AlmanacFrom returns the almanac carried by ctx.
func AlmanacFrom(ctx context.Context) (*Almanac, bool) {
	a, ok := ctx.Value(almanacKey{}).(*Almanac)
	return a, ok && a != nil
}

// UpdateRuntimeFact replaces a runtime fact with fn(old, ok) under the
// almanac lock, so concurrent writers never lose an update.
func (a *Almanac) UpdateRuntimeFact(name string, fn func(old any, ok bool) any) any {
	a.mu.Lock()
	defer a.mu.Unlock()
	old, ok := a.runtime[name]
	if !ok {
		a.order = append(a.order, name)
	}
	v := fn(old, ok)
	a.runtime[name] = v
	return v
}
