package facts

import (
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/docrules/internal/engine"
	"github.com/roach88/docrules/internal/ir"
	"github.com/roach88/docrules/internal/queryir"
)

// DocumentReader is the slice of the document store facts read from.
type DocumentReader interface {
	GetDoc(ctx context.Context, collection, id string) (*ir.Document, error)
	QueryDocs(ctx context.Context, q queryir.Query) ([]ir.Document, error)
}

// Resolver turns fact definitions into engine facts backed by a document
// store.
//
// Document and query facts never fail a run: a missing document, a bad
// path or a store error is logged and the fact resolves to nil.
type Resolver struct {
	docs   DocumentReader
	logger *slog.Logger
}

// NewResolver creates a resolver over docs.
func NewResolver(docs DocumentReader, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{docs: docs, logger: logger}
}

// Fact builds the engine fact for def.
func (r *Resolver) Fact(name string, def ir.FactDef) (*engine.Fact, error) {
	switch def.Shape() {
	case ir.FactShapeLiteral:
		return engine.StaticFact(name, def.Data), nil

	case ir.FactShapeDocByID:
		return engine.DynamicFact(name, func(ctx context.Context, _ map[string]any, _ *engine.Almanac) (any, error) {
			return r.fetchDoc(ctx, name, def.Collection, def.ID.Literal)
		}), nil

	case ir.FactShapeDocByDerivedID:
		ref := *def.ID.Ref
		return engine.DynamicFact(name, func(ctx context.Context, _ map[string]any, a *engine.Almanac) (any, error) {
			src, err := a.FactValue(ctx, ref.Fact, ref.Params)
			if err != nil {
				return r.degrade(ctx, name, err)
			}
			raw, _ := ir.Get(src, ref.Path)
			id, ok := ir.FormatID(raw)
			if !ok {
				r.logger.Warn("derived document id not found",
					"fact", name, "from", ref.Fact, "path", ref.Path)
				return nil, nil
			}
			return r.fetchDoc(ctx, name, def.Collection, id)
		}), nil

	case ir.FactShapeQuery:
		return engine.DynamicFact(name, func(ctx context.Context, _ map[string]any, a *engine.Almanac) (any, error) {
			docs, err := r.QueryDocs(ctx, def, a)
			if err != nil {
				return r.degrade(ctx, name, err)
			}
			return ir.DocumentValues(docs), nil
		}), nil
	}

	return nil, &ir.ConfigError{
		Field:   "additionalFacts." + name,
		Message: "fact needs exactly one of {data}, {collection, id} or {collection, query|filters}",
	}
}

// Register adds the fact for def to e.
func (r *Resolver) Register(e *engine.Engine, name string, def ir.FactDef) error {
	f, err := r.Fact(name, def)
	if err != nil {
		return err
	}
	e.AddFact(f)
	return nil
}

// RegisterAll registers every definition in order. It stops at the first
// invalid definition.
func (r *Resolver) RegisterAll(e *engine.Engine, defs ir.FactDefs) error {
	for _, nf := range defs {
		if err := r.Register(e, nf.Name, nf.Def); err != nil {
			return err
		}
	}
	return nil
}

// QueryDocs runs a query-shaped fact definition. where values that
// reference facts are resolved from src.
func (r *Resolver) QueryDocs(ctx context.Context, def ir.FactDef, src ValueSource) ([]ir.Document, error) {
	q, err := BuildQuery(ctx, def.Collection, def.FilterList(), src)
	if err != nil {
		return nil, err
	}
	docs, err := r.docs.QueryDocs(ctx, q)
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func (r *Resolver) fetchDoc(ctx context.Context, name, collection, id string) (any, error) {
	doc, err := r.docs.GetDoc(ctx, collection, id)
	if err != nil {
		return r.degrade(ctx, name, err)
	}
	if doc == nil {
		r.logger.Warn("document not found for fact",
			"fact", name, "collection", collection, "id", id)
		return nil, nil
	}
	return doc.Value(), nil
}

// degrade logs a resolution failure and reads the fact as nil. Context
// cancellation is returned so the run stops.
func (r *Resolver) degrade(ctx context.Context, name string, err error) (any, error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	r.logger.Error("fact resolution failed", "fact", name, "error", err)
	return nil, nil
}
