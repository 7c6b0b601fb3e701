package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/roach88/docrules/internal/queryir"
)

func TestAddDoc_GeneratesID(t *testing.T) {
	s := createTestStore(t, WithIDGenerator(NewFixedGenerator("gen-1")))
	ctx := context.Background()

	id, err := s.AddDoc(ctx, "orders", map[string]any{"total": 12.5}, "")
	if err != nil {
		t.Fatalf("AddDoc() failed: %v", err)
	}
	if id != "gen-1" {
		t.Errorf("id = %q, want gen-1", id)
	}

	doc, err := s.GetDoc(ctx, "orders", id)
	if err != nil {
		t.Fatalf("GetDoc() failed: %v", err)
	}
	if doc == nil {
		t.Fatal("GetDoc() returned nil")
	}
	if doc.Data["total"] != 12.5 {
		t.Errorf("total = %v, want 12.5", doc.Data["total"])
	}
	if !doc.Created.Equal(testNow) || !doc.Updated.Equal(testNow) {
		t.Errorf("created/updated = %v/%v, want %v", doc.Created, doc.Updated, testNow)
	}
}

func TestAddDoc_DuplicateID(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.AddDoc(ctx, "orders", map[string]any{"n": 1}, "o1"); err != nil {
		t.Fatalf("first AddDoc() failed: %v", err)
	}
	_, err := s.AddDoc(ctx, "orders", map[string]any{"n": 2}, "o1")
	if !errors.Is(err, ErrExists) {
		t.Fatalf("second AddDoc() err = %v, want ErrExists", err)
	}

	doc, _ := s.GetDoc(ctx, "orders", "o1")
	if doc.Data["n"] != float64(1) {
		t.Errorf("n = %v, want original value 1", doc.Data["n"])
	}
}

func TestAddDoc_SameIDDifferentCollections(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.AddDoc(ctx, "a", nil, "x"); err != nil {
		t.Fatalf("AddDoc(a) failed: %v", err)
	}
	if _, err := s.AddDoc(ctx, "b", nil, "x"); err != nil {
		t.Fatalf("AddDoc(b) failed: %v", err)
	}
}

func TestSetDoc_Merge(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.AddDoc(ctx, "users", map[string]any{
		"name":    "ada",
		"address": map[string]any{"city": "London", "zip": "N1"},
	}, "u1")
	if err != nil {
		t.Fatalf("AddDoc() failed: %v", err)
	}

	err = s.SetDoc(ctx, "users", "u1", map[string]any{
		"address": map[string]any{"city": "Paris"},
		"active":  true,
	}, true)
	if err != nil {
		t.Fatalf("SetDoc() failed: %v", err)
	}

	doc, _ := s.GetDoc(ctx, "users", "u1")
	if doc.Data["name"] != "ada" {
		t.Errorf("name = %v, want ada (kept by merge)", doc.Data["name"])
	}
	addr := doc.Data["address"].(map[string]any)
	if addr["city"] != "Paris" || addr["zip"] != "N1" {
		t.Errorf("address = %v, want city=Paris zip=N1", addr)
	}
	if doc.Data["active"] != true {
		t.Errorf("active = %v, want true", doc.Data["active"])
	}
}

func TestSetDoc_Replace(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.AddDoc(ctx, "users", map[string]any{"name": "ada", "age": 36}, "u1"); err != nil {
		t.Fatalf("AddDoc() failed: %v", err)
	}
	if err := s.SetDoc(ctx, "users", "u1", map[string]any{"name": "grace"}, false); err != nil {
		t.Fatalf("SetDoc() failed: %v", err)
	}

	doc, _ := s.GetDoc(ctx, "users", "u1")
	if _, ok := doc.Data["age"]; ok {
		t.Error("age should be removed when merge is false")
	}
	if doc.Data["name"] != "grace" {
		t.Errorf("name = %v, want grace", doc.Data["name"])
	}
}

func TestSetDoc_KeepsCreatedAt(t *testing.T) {
	now := testNow
	s := createTestStore(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	if _, err := s.AddDoc(ctx, "users", nil, "u1"); err != nil {
		t.Fatalf("AddDoc() failed: %v", err)
	}
	now = testNow.Add(time.Hour)
	if err := s.SetDoc(ctx, "users", "u1", map[string]any{"x": 1}, true); err != nil {
		t.Fatalf("SetDoc() failed: %v", err)
	}

	doc, _ := s.GetDoc(ctx, "users", "u1")
	if !doc.Created.Equal(testNow) {
		t.Errorf("created = %v, want %v", doc.Created, testNow)
	}
	if !doc.Updated.Equal(now) {
		t.Errorf("updated = %v, want %v", doc.Updated, now)
	}
}

func TestSetDoc_CreatesMissing(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.SetDoc(ctx, "users", "new", map[string]any{"a": "b"}, true); err != nil {
		t.Fatalf("SetDoc() failed: %v", err)
	}
	doc, _ := s.GetDoc(ctx, "users", "new")
	if doc == nil || doc.Data["a"] != "b" {
		t.Errorf("doc = %+v, want a=b", doc)
	}
}

func TestDeleteDoc(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.AddDoc(ctx, "users", nil, "u1"); err != nil {
		t.Fatalf("AddDoc() failed: %v", err)
	}

	removed, err := s.DeleteDoc(ctx, "users", "u1")
	if err != nil || !removed {
		t.Fatalf("DeleteDoc() = %v, %v; want true, nil", removed, err)
	}

	removed, err = s.DeleteDoc(ctx, "users", "u1")
	if err != nil || removed {
		t.Errorf("second DeleteDoc() = %v, %v; want false, nil", removed, err)
	}

	doc, err := s.GetDoc(ctx, "users", "u1")
	if err != nil || doc != nil {
		t.Errorf("GetDoc() after delete = %+v, %v; want nil, nil", doc, err)
	}
}

func TestWrites_PublishChanges(t *testing.T) {
	s := createTestStore(t, WithChangeFeed())
	ctx := context.Background()

	if _, err := s.AddDoc(ctx, "users", map[string]any{"v": 1}, "u1"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetDoc(ctx, "users", "u1", map[string]any{"v": 2}, true); err != nil {
		t.Fatal(err)
	}
	if _, err := s.DeleteDoc(ctx, "users", "u1"); err != nil {
		t.Fatal(err)
	}

	want := []ChangeType{ChangeCreate, ChangeUpdate, ChangeDelete}
	for i, typ := range want {
		c, ok := s.Changes().TryDequeue()
		if !ok {
			t.Fatalf("change %d missing", i)
		}
		if c.Type != typ {
			t.Errorf("change %d type = %s, want %s", i, c.Type, typ)
		}
		if c.Collection != "users" || c.ID != "u1" {
			t.Errorf("change %d = %s/%s, want users/u1", i, c.Collection, c.ID)
		}
	}

	// The update carries both sides of the write.
	s2 := createTestStore(t, WithChangeFeed())
	s2.AddDoc(ctx, "users", map[string]any{"v": 1}, "u1")
	s2.SetDoc(ctx, "users", "u1", map[string]any{"v": 2}, true)
	s2.Changes().TryDequeue()
	upd, _ := s2.Changes().TryDequeue()
	if upd.Before == nil || upd.Before.Data["v"] != float64(1) {
		t.Errorf("update Before = %+v, want v=1", upd.Before)
	}
	if upd.Doc == nil || upd.Doc.Data["v"] != float64(2) {
		t.Errorf("update Doc = %+v, want v=2", upd.Doc)
	}
}

func TestMergeData(t *testing.T) {
	dst := map[string]any{"a": 1, "n": map[string]any{"x": 1, "y": 2}, "s": "keep"}
	src := map[string]any{"a": 2, "n": map[string]any{"y": 3}, "s": map[string]any{"z": 1}}

	got := mergeData(dst, src)

	if got["a"] != 2 {
		t.Errorf("a = %v, want 2", got["a"])
	}
	n := got["n"].(map[string]any)
	if n["x"] != 1 || n["y"] != 3 {
		t.Errorf("n = %v, want x=1 y=3", n)
	}
	if _, ok := got["s"].(map[string]any); !ok {
		t.Errorf("s = %v, want object replacing scalar", got["s"])
	}
}

func TestSetDocJSON_KeepsKeyOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	raw := []byte(`{"zeta":1,"alpha":{"b":2,"a":1}}`)
	if err := s.SetDocJSON(ctx, "rulesets", "r1", raw); err != nil {
		t.Fatalf("SetDocJSON() failed: %v", err)
	}
	doc, err := s.GetDoc(ctx, "rulesets", "r1")
	if err != nil || doc == nil {
		t.Fatalf("GetDoc() = %v, %v", doc, err)
	}
	if string(doc.Raw) != string(raw) {
		t.Errorf("Raw = %s, want %s", doc.Raw, raw)
	}
	if doc.Data["zeta"] != 1.0 {
		t.Errorf("Data = %v", doc.Data)
	}

	if err := s.SetDocJSON(ctx, "rulesets", "r2", []byte(`[1,2]`)); err == nil {
		t.Error("SetDocJSON() accepted a non-object body")
	}
}

func TestReads_ReturnBodyAsWritten(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	raw := `{"zeta":{"b":2,"a":1},"alpha":1}`
	if err := s.SetDocJSON(ctx, "rulesets", "r1", []byte(raw)); err != nil {
		t.Fatalf("SetDocJSON() failed: %v", err)
	}

	// Re-encode data with sorted keys, the way a JSONB column returns it.
	if _, err := s.db.Exec(`UPDATE documents SET data = ? WHERE id = ?`, `{"alpha":1,"zeta":{"a":1,"b":2}}`, "r1"); err != nil {
		t.Fatalf("UPDATE failed: %v", err)
	}

	doc, err := s.GetDoc(ctx, "rulesets", "r1")
	if err != nil || doc == nil {
		t.Fatalf("GetDoc() = %v, %v", doc, err)
	}
	if string(doc.Raw) != raw {
		t.Errorf("GetDoc Raw = %s, want %s", doc.Raw, raw)
	}

	docs, err := s.QueryDocs(ctx, queryir.From("rulesets"))
	if err != nil || len(docs) != 1 {
		t.Fatalf("QueryDocs() = %v, %v", docs, err)
	}
	if string(docs[0].Raw) != raw {
		t.Errorf("QueryDocs Raw = %s, want %s", docs[0].Raw, raw)
	}

	byID, err := s.GetDocsByIDs(ctx, "rulesets", []string{"r1"})
	if err != nil || len(byID) != 1 {
		t.Fatalf("GetDocsByIDs() = %v, %v", byID, err)
	}
	if string(byID[0].Raw) != raw {
		t.Errorf("GetDocsByIDs Raw = %s, want %s", byID[0].Raw, raw)
	}
}

func TestWrites_StoreRawBody(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.AddDoc(ctx, "log", map[string]any{"msg": "ok"}, "l1"); err != nil {
		t.Fatalf("AddDoc() failed: %v", err)
	}
	if err := s.SetDoc(ctx, "log", "l1", map[string]any{"n": 1}, true); err != nil {
		t.Fatalf("SetDoc() failed: %v", err)
	}

	var stored string
	if err := s.db.QueryRow(`SELECT raw FROM documents WHERE collection = ? AND id = ?`, "log", "l1").Scan(&stored); err != nil {
		t.Fatalf("SELECT raw failed: %v", err)
	}
	if stored != `{"msg":"ok","n":1}` {
		t.Errorf("raw = %s", stored)
	}
}
