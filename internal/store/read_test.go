package store

import (
	"context"
	"testing"

	"github.com/roach88/docrules/internal/queryir"
)

func seedUsers(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	users := []struct {
		id   string
		data map[string]any
	}{
		{"u1", map[string]any{"name": "ada", "age": 36, "tags": []any{"admin", "ops"}, "team": map[string]any{"id": "t1"}}},
		{"u2", map[string]any{"name": "grace", "age": 45, "tags": []any{"ops"}, "team": map[string]any{"id": "t2"}}},
		{"u3", map[string]any{"name": "linus", "age": 28, "tags": []any{}, "team": map[string]any{"id": "t1"}}},
		{"u4", map[string]any{"name": "barbara", "age": 36, "active": true}},
	}
	for _, u := range users {
		if _, err := s.AddDoc(ctx, "users", u.data, u.id); err != nil {
			t.Fatalf("AddDoc(%s) failed: %v", u.id, err)
		}
	}
	if _, err := s.AddDoc(ctx, "teams", map[string]any{"name": "core"}, "t1"); err != nil {
		t.Fatalf("AddDoc(t1) failed: %v", err)
	}
}

func ids(t *testing.T, s *Store, q queryir.Query) []string {
	t.Helper()
	docs, err := s.QueryDocs(context.Background(), q)
	if err != nil {
		t.Fatalf("QueryDocs() failed: %v", err)
	}
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		if d.Collection != q.Collection {
			t.Errorf("doc %s collection = %q, want %q", d.ID, d.Collection, q.Collection)
		}
		out = append(out, d.ID)
	}
	return out
}

func assertIDs(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("ids = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ids = %v, want %v", got, want)
		}
	}
}

func TestGetDoc_Missing(t *testing.T) {
	s := createTestStore(t)
	doc, err := s.GetDoc(context.Background(), "users", "nope")
	if err != nil {
		t.Fatalf("GetDoc() failed: %v", err)
	}
	if doc != nil {
		t.Errorf("GetDoc() = %+v, want nil", doc)
	}
}

func TestQueryDocs_AllOrderedByID(t *testing.T) {
	s := createTestStore(t)
	seedUsers(t, s)

	assertIDs(t, ids(t, s, queryir.From("users")), "u1", "u2", "u3", "u4")
}

func TestQueryDocs_Where(t *testing.T) {
	s := createTestStore(t)
	seedUsers(t, s)

	tests := []struct {
		name string
		q    queryir.Query
		want []string
	}{
		{"equal number", queryir.From("users").Where("age", queryir.OpEqual, 36), []string{"u1", "u4"}},
		{"equal string", queryir.From("users").Where("name", queryir.OpEqual, "grace"), []string{"u2"}},
		{"nested path", queryir.From("users").Where("team.id", queryir.OpEqual, "t1"), []string{"u1", "u3"}},
		{"json path prefix", queryir.From("users").Where("$.team.id", queryir.OpEqual, "t2"), []string{"u2"}},
		{"bool", queryir.From("users").Where("active", queryir.OpEqual, true), []string{"u4"}},
		{"greater than", queryir.From("users").Where("age", queryir.OpGreater, 36), []string{"u2"}},
		{"less or equal", queryir.From("users").Where("age", queryir.OpLessEqual, 36), []string{"u1", "u3", "u4"}},
		{"not equal", queryir.From("users").Where("name", queryir.OpNotEqual, "ada"), []string{"u2", "u3", "u4"}},
		{"in", queryir.From("users").Where("name", queryir.OpIn, []any{"ada", "linus"}), []string{"u1", "u3"}},
		{"not in skips missing field", queryir.From("users").Where("team.id", queryir.OpNotIn, []any{"t1"}), []string{"u2"}},
		{"array contains", queryir.From("users").Where("tags", queryir.OpArrayContains, "ops"), []string{"u1", "u2"}},
		{"array contains any", queryir.From("users").Where("tags", queryir.OpArrayContainsAny, []any{"admin", "nobody"}), []string{"u1"}},
		{"and", queryir.From("users").Where("age", queryir.OpEqual, 36).Where("name", queryir.OpEqual, "barbara"), []string{"u4"}},
		{"no match", queryir.From("users").Where("age", queryir.OpGreater, 100), []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertIDs(t, ids(t, s, tt.q), tt.want...)
		})
	}
}

func TestQueryDocs_OrderAndLimit(t *testing.T) {
	s := createTestStore(t)
	seedUsers(t, s)

	q := queryir.From("users").OrderBy("age", queryir.Desc)
	assertIDs(t, ids(t, s, q), "u2", "u1", "u4", "u3")

	assertIDs(t, ids(t, s, q.Limit(2)), "u2", "u1")

	asc := queryir.From("users").OrderBy("age", queryir.Asc).Limit(3)
	assertIDs(t, ids(t, s, asc), "u3", "u1", "u4")
}

func TestQueryDocs_InvalidQuery(t *testing.T) {
	s := createTestStore(t)
	_, err := s.QueryDocs(context.Background(), queryir.From("users").Limit(0))
	if err == nil {
		t.Error("expected error for zero limit, got nil")
	}
}

func TestGetDocsByIDs_KeepsOrder(t *testing.T) {
	s := createTestStore(t)
	seedUsers(t, s)

	docs, err := s.GetDocsByIDs(context.Background(), "users", []string{"u3", "missing", "u1", "u3"})
	if err != nil {
		t.Fatalf("GetDocsByIDs() failed: %v", err)
	}
	got := make([]string, 0, len(docs))
	for _, d := range docs {
		got = append(got, d.ID)
	}
	assertIDs(t, got, "u3", "u1")
}

func TestGetSettings(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	empty, err := s.GetSettings(ctx, "rules")
	if err != nil {
		t.Fatalf("GetSettings() failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("GetSettings() = %v, want empty", empty)
	}

	if _, err := s.AddDoc(ctx, SettingsCollection, map[string]any{"debug": true}, "rules"); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetSettings(ctx, "rules")
	if err != nil {
		t.Fatalf("GetSettings() failed: %v", err)
	}
	if got["debug"] != true {
		t.Errorf("debug = %v, want true", got["debug"])
	}
}
