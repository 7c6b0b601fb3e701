package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/docrules/internal/ir"
	"github.com/roach88/docrules/internal/queryir"
)

// SettingsCollection holds one document per settings namespace.
const SettingsCollection = "settings"

// GetDoc returns the document collection/id, or nil when it does not exist.
func (s *Store) GetDoc(ctx context.Context, collection, id string) (*ir.Document, error) {
	return s.getDoc(ctx, s.db, collection, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) getDoc(ctx context.Context, q queryer, collection, id string) (*ir.Document, error) {
	row := q.QueryRowContext(ctx,
		s.rebind(`SELECT `+s.compiler.Dialect.Columns()+` FROM documents WHERE collection = ? AND id = ?`),
		collection, id)

	doc, err := scanDocument(row.Scan, collection)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return &doc, nil
}

// QueryDocs runs a collection query. An empty result is not an error.
func (s *Store) QueryDocs(ctx context.Context, q queryir.Query) ([]ir.Document, error) {
	sqlText, params, err := s.compiler.Compile(q)
	if err != nil {
		return nil, fmt.Errorf("compile query on %q: %w", q.Collection, err)
	}

	rows, err := s.db.QueryContext(ctx, sqlText, params...)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", q.Collection, err)
	}
	defer rows.Close()

	var docs []ir.Document
	for rows.Next() {
		doc, err := scanDocument(rows.Scan, q.Collection)
		if err != nil {
			return nil, fmt.Errorf("scan %q: %w", q.Collection, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %q: %w", q.Collection, err)
	}
	return docs, nil
}

// GetDocsByIDs returns the documents with the given ids, in the order the
// ids were given. Missing ids are skipped.
func (s *Store) GetDocsByIDs(ctx context.Context, collection string, ids []string) ([]ir.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, 0, len(ids)+1)
	args = append(args, collection)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT `+s.compiler.Dialect.Columns()+` FROM documents WHERE collection = ? AND id IN (`+placeholders+`)`),
		args...)
	if err != nil {
		return nil, fmt.Errorf("get %q by ids: %w", collection, err)
	}
	defer rows.Close()

	byID := make(map[string]ir.Document, len(ids))
	for rows.Next() {
		doc, err := scanDocument(rows.Scan, collection)
		if err != nil {
			return nil, fmt.Errorf("scan %q: %w", collection, err)
		}
		byID[doc.ID] = doc
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]ir.Document, 0, len(byID))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if doc, ok := byID[id]; ok && !seen[id] {
			out = append(out, doc)
			seen[id] = true
		}
	}
	return out, nil
}

// GetSettings returns the settings document for namespace, or an empty map
// when none is stored.
func (s *Store) GetSettings(ctx context.Context, namespace string) (map[string]any, error) {
	doc, err := s.GetDoc(ctx, SettingsCollection, namespace)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return map[string]any{}, nil
	}
	return doc.Data, nil
}

// scanDocument reads one (id, body, created_at, updated_at) row.
func scanDocument(scan func(dest ...any) error, collection string) (ir.Document, error) {
	var (
		id      string
		raw     []byte
		created int64
		updated int64
	)
	if err := scan(&id, &raw, &created, &updated); err != nil {
		return ir.Document{}, err
	}

	data, err := decodeData(raw)
	if err != nil {
		return ir.Document{}, fmt.Errorf("document %s/%s: %w", collection, id, err)
	}

	return ir.Document{
		Collection: collection,
		ID:         id,
		Data:       data,
		Created:    time.UnixMilli(created).UTC(),
		Updated:    time.UnixMilli(updated).UTC(),
		Raw:        raw,
	}, nil
}

func decodeData(raw []byte) (map[string]any, error) {
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}
