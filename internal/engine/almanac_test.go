package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlmanac_StaticFact(t *testing.T) {
	lit := map[string]any{"a": []any{1.0, "x"}}
	a := NewAlmanac(map[string]*Fact{"lit": StaticFact("lit", lit)}, nil)

	v, err := a.FactValue(context.Background(), "lit", map[string]any{"ignored": true})
	require.NoError(t, err)
	assert.Equal(t, lit, v)
}

func TestAlmanac_UndefinedFact(t *testing.T) {
	a := NewAlmanac(nil, nil)

	_, err := a.FactValue(context.Background(), "missing", nil)
	require.Error(t, err)
	assert.True(t, IsUndefinedFact(err))
}

func TestAlmanac_MemoizesDynamicFact(t *testing.T) {
	var calls atomic.Int32
	f := DynamicFact("users", func(ctx context.Context, params map[string]any, a *Almanac) (any, error) {
		calls.Add(1)
		return []any{"u1"}, nil
	})
	a := NewAlmanac(map[string]*Fact{"users": f}, nil)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := a.FactValue(ctx, "users", nil)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, a.Resolutions())

	// Different params are a different resolution.
	_, err := a.FactValue(ctx, "users", map[string]any{"limit": 2})
	require.NoError(t, err)
	_, err = a.FactValue(ctx, "users", map[string]any{"limit": 2.0})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAlmanac_ConcurrentReadersComputeOnce(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	f := DynamicFact("slow", func(ctx context.Context, params map[string]any, a *Almanac) (any, error) {
		calls.Add(1)
		<-release
		return "done", nil
	})
	a := NewAlmanac(map[string]*Fact{"slow": f}, nil)

	var wg sync.WaitGroup
	results := make([]any, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = a.FactValue(context.Background(), "slow", nil)
		}(i)
	}
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, "done", r)
	}
}

func TestAlmanac_FactDependsOnFact(t *testing.T) {
	facts := map[string]*Fact{
		"user": StaticFact("user", map[string]any{"teamId": "t1"}),
		"team": DynamicFact("team", func(ctx context.Context, params map[string]any, a *Almanac) (any, error) {
			id, err := a.PathValue(ctx, "user", "$.teamId", nil)
			if err != nil {
				return nil, err
			}
			return map[string]any{"id": id}, nil
		}),
	}
	a := NewAlmanac(facts, nil)

	v, err := a.PathValue(context.Background(), "team", "id", nil)
	require.NoError(t, err)
	assert.Equal(t, "t1", v)
}

// resolveWithin resolves name on another goroutine and fails the test if
// it has not returned after a second.
func resolveWithin(t *testing.T, a *Almanac, name string, params map[string]any) (any, error) {
	t.Helper()
	type result struct {
		v   any
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := a.FactValue(context.Background(), name, params)
		done <- result{v, err}
	}()
	select {
	case r := <-done:
		return r.v, r.err
	case <-time.After(time.Second):
		t.Fatalf("resolving %s did not return", name)
		return nil, nil
	}
}

func TestAlmanac_CycleReturnsError(t *testing.T) {
	dependsOn := func(name, other string) *Fact {
		return DynamicFact(name, func(ctx context.Context, params map[string]any, a *Almanac) (any, error) {
			return a.FactValue(ctx, other, nil)
		})
	}
	a := NewAlmanac(map[string]*Fact{
		"a": dependsOn("a", "b"),
		"b": dependsOn("b", "a"),
	}, nil)

	_, err := resolveWithin(t, a, "a", nil)
	require.Error(t, err)
	assert.True(t, IsFactCycle(err))
	assert.True(t, IsFactResolution(err))

	_, err = resolveWithin(t, a, "b", nil)
	assert.True(t, IsFactCycle(err))
}

func TestAlmanac_SelfReferenceWithOtherParams(t *testing.T) {
	countdown := DynamicFact("countdown", func(ctx context.Context, params map[string]any, a *Almanac) (any, error) {
		n := params["n"].(int)
		if n == 0 {
			return 0, nil
		}
		v, err := a.FactValue(ctx, "countdown", map[string]any{"n": n - 1})
		if err != nil {
			return nil, err
		}
		return v.(int) + n, nil
	})
	a := NewAlmanac(map[string]*Fact{"countdown": countdown}, nil)

	v, err := resolveWithin(t, a, "countdown", map[string]any{"n": 3})
	require.NoError(t, err)
	assert.Equal(t, 6, v)
}

func TestAlmanac_FactErrorIsWrapped(t *testing.T) {
	boom := errors.New("boom")
	f := DynamicFact("bad", func(ctx context.Context, params map[string]any, a *Almanac) (any, error) {
		return nil, boom
	})
	a := NewAlmanac(map[string]*Fact{"bad": f}, nil)

	_, err := a.FactValue(context.Background(), "bad", nil)
	require.Error(t, err)
	assert.True(t, IsFactResolution(err))
	assert.ErrorIs(t, err, boom)
}

func TestAlmanac_RuntimeFactOverlay(t *testing.T) {
	a := NewAlmanac(map[string]*Fact{"x": StaticFact("x", 1)}, nil)
	a.AddRuntimeFact("x", 2)
	a.AddRuntimeFact("actionResults", map[string]any{"addDoc": true})

	v, err := a.FactValue(context.Background(), "x", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	got, ok := a.RuntimeFact("actionResults")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"addDoc": true}, got)
	assert.True(t, a.HasFact("actionResults"))
	assert.Equal(t, []string{"actionResults", "x"}, a.FactNames())
}

func TestAlmanac_Snapshot(t *testing.T) {
	facts := map[string]*Fact{
		"static":     StaticFact("static", "s"),
		"resolved":   DynamicFact("resolved", func(context.Context, map[string]any, *Almanac) (any, error) { return "r", nil }),
		"unresolved": DynamicFact("unresolved", func(context.Context, map[string]any, *Almanac) (any, error) { return "u", nil }),
	}
	a := NewAlmanac(facts, nil)
	_, err := a.FactValue(context.Background(), "resolved", nil)
	require.NoError(t, err)
	a.AddRuntimeFact("rt", 1)

	snap := a.Snapshot()
	assert.Equal(t, map[string]any{"static": "s", "resolved": "r", "rt": 1}, snap)
}

func TestAlmanacFromContext(t *testing.T) {
	_, ok := AlmanacFrom(context.Background())
	assert.False(t, ok)

	a := NewAlmanac(nil, nil)
	got, ok := AlmanacFrom(WithAlmanac(context.Background(), a))
	require.True(t, ok)
	assert.Same(t, a, got)
}
