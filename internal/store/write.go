package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/docrules/internal/ir"
)

// ErrExists is returned by AddDoc when the id is already taken.
var ErrExists = errors.New("document already exists")

// AddDoc creates a document. When id is empty a new id is generated.
// Returns the document id.
func (s *Store) AddDoc(ctx context.Context, collection string, data map[string]any, id string) (string, error) {
	if collection == "" {
		return "", fmt.Errorf("add: collection is required")
	}
	if id == "" {
		id = s.ids.Generate()
	}
	if data == nil {
		data = map[string]any{}
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("add %s/%s: encode data: %w", collection, id, err)
	}

	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO documents (collection, id, data, raw, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (collection, id) DO NOTHING`),
		collection, id, string(raw), string(raw), now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return "", fmt.Errorf("add %s/%s: %w", collection, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return "", fmt.Errorf("add %s/%s: %w", collection, id, ErrExists)
	}

	doc, err := roundTrip(collection, id, raw, now, now)
	if err != nil {
		return "", err
	}
	s.publish(Change{Type: ChangeCreate, Collection: collection, ID: id, Doc: doc})
	return id, nil
}

// SetDoc writes a document, creating it if missing. With merge the given
// fields are deep-merged into the existing data; without it the data
// replaces the document body.
func (s *Store) SetDoc(ctx context.Context, collection, id string, data map[string]any, merge bool) error {
	if collection == "" || id == "" {
		return fmt.Errorf("set: collection and id are required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("set %s/%s: begin: %w", collection, id, err)
	}
	defer tx.Rollback()

	before, err := s.getDoc(ctx, tx, collection, id)
	if err != nil {
		return err
	}

	body := ir.CloneMap(data)
	if body == nil {
		body = map[string]any{}
	}
	if before != nil && merge {
		body = mergeData(ir.CloneMap(before.Data), body)
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("set %s/%s: encode data: %w", collection, id, err)
	}
	return s.upsert(ctx, tx, collection, id, raw, before)
}

// SetDocJSON writes raw, a JSON object, as the whole body of a document.
// The text is kept as given in the raw column, so reads return its key
// order on every driver, even where data is re-encoded (Postgres JSONB).
func (s *Store) SetDocJSON(ctx context.Context, collection, id string, raw []byte) error {
	if collection == "" || id == "" {
		return fmt.Errorf("set: collection and id are required")
	}
	if _, err := decodeData(raw); err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, id, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("set %s/%s: begin: %w", collection, id, err)
	}
	defer tx.Rollback()

	before, err := s.getDoc(ctx, tx, collection, id)
	if err != nil {
		return err
	}
	return s.upsert(ctx, tx, collection, id, raw, before)
}

// upsert writes the body inside tx, commits, and publishes the change.
func (s *Store) upsert(ctx context.Context, tx *sql.Tx, collection, id string, raw []byte, before *ir.Document) error {
	created := s.now().UTC()
	if before != nil {
		created = before.Created
	}
	updated := s.now().UTC()
	_, err := tx.ExecContext(ctx,
		s.rebind(`INSERT INTO documents (collection, id, data, raw, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (collection, id) DO UPDATE SET data = excluded.data, raw = excluded.raw, updated_at = excluded.updated_at`),
		collection, id, string(raw), string(raw), created.UnixMilli(), updated.UnixMilli())
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("set %s/%s: commit: %w", collection, id, err)
	}

	doc, err := roundTrip(collection, id, raw, created, updated)
	if err != nil {
		return err
	}
	change := Change{Type: ChangeUpdate, Collection: collection, ID: id, Doc: doc, Before: before}
	if before == nil {
		change.Type = ChangeCreate
	}
	s.publish(change)
	return nil
}

// DeleteDoc removes a document. It reports whether a document was removed.
func (s *Store) DeleteDoc(ctx context.Context, collection, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("delete %s/%s: begin: %w", collection, id, err)
	}
	defer tx.Rollback()

	before, err := s.getDoc(ctx, tx, collection, id)
	if err != nil {
		return false, err
	}
	if before == nil {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		s.rebind(`DELETE FROM documents WHERE collection = ? AND id = ?`),
		collection, id); err != nil {
		return false, fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("delete %s/%s: commit: %w", collection, id, err)
	}

	s.publish(Change{Type: ChangeDelete, Collection: collection, ID: id, Before: before})
	return true, nil
}

func (s *Store) publish(c Change) {
	if s.changes != nil {
		s.changes.Enqueue(c)
	}
}

// roundTrip decodes the written body so published changes carry the same
// value shapes a later read would return.
func roundTrip(collection, id string, raw []byte, created, updated time.Time) (*ir.Document, error) {
	data, err := decodeData(raw)
	if err != nil {
		return nil, err
	}
	return &ir.Document{
		Collection: collection,
		ID:         id,
		Data:       data,
		Created:    time.UnixMilli(created.UnixMilli()).UTC(),
		Updated:    time.UnixMilli(updated.UnixMilli()).UTC(),
		Raw:        raw,
	}, nil
}

// mergeData deep-merges src into dst. Nested objects merge key by key;
// every other value in src replaces the one in dst.
func mergeData(dst, src map[string]any) map[string]any {
	for k, v := range src {
		if srcMap, ok := v.(map[string]any); ok {
			if dstMap, ok := dst[k].(map[string]any); ok {
				dst[k] = mergeData(dstMap, srcMap)
				continue
			}
		}
		dst[k] = v
	}
	return dst
}
