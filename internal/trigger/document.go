package trigger

import (
	"context"
	"log/slog"

	"github.com/roach88/docrules/internal/ir"
	"github.com/roach88/docrules/internal/rules"
	"github.com/roach88/docrules/internal/store"
)

// DocTrigger runs doc rule sets for committed document changes.
type DocTrigger struct {
	loader *rules.Loader
	runner *Runner
	logger *slog.Logger
}

// NewDocTrigger creates a document trigger.
func NewDocTrigger(loader *rules.Loader, runner *Runner, logger *slog.Logger) *DocTrigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocTrigger{loader: loader, runner: runner, logger: logger}
}

// Handle starts one run per active doc rule set whose filters.collection is
// the changed collection. It returns the number of runs started.
//
// Built-in facts:
//   - srcDoc: the document after the write; for deletes, the removed document
//   - docBefore: the document before an update
//   - collection: the collection name
//   - trigger: "create", "update" or "delete"
func (t *DocTrigger) Handle(ctx context.Context, c store.Change) (int, error) {
	dbg := debugEnabled(ctx, t.runner.Orchestrator().Settings())
	if dbg {
		t.logger.Info("running doc rules", "collection", c.Collection, "id", c.ID, "trigger", string(c.Type))
	}

	sets, err := t.loader.Load(ctx, ir.RuleTypeDoc, rules.Filter{Collection: c.Collection})
	if err != nil {
		return 0, err
	}
	if len(sets) == 0 {
		if dbg {
			t.logger.Info("no rule sets match",
				"trigger", string(c.Type), "collection", c.Collection, "id", c.ID)
		}
		return 0, nil
	}

	in := rules.Input{Trigger: rules.TriggerDoc, Facts: DocFacts(c)}
	for _, rs := range sets {
		t.runner.Start(ctx, rs, in)
	}
	return len(sets), nil
}

// DocFacts builds the runtime facts for a document change. On delete
// srcDoc is the removed document.
func DocFacts(c store.Change) map[string]any {
	src := c.Doc
	if c.Type == store.ChangeDelete {
		src = c.Before
	}
	facts := map[string]any{
		rules.CollectionFact: c.Collection,
		rules.TriggerFact:    string(c.Type),
	}
	if src != nil {
		facts[rules.SrcDocFact] = src.Value()
	}
	if c.Type == store.ChangeUpdate && c.Before != nil {
		facts[rules.DocBeforeFact] = c.Before.Value()
	}
	return facts
}

// Watch hands every change on q to Handle until ctx is done or q is closed
// and drained, then waits for the started runs. A change that fails to
// load rule sets is logged and skipped.
func (t *DocTrigger) Watch(ctx context.Context, q *store.ChangeQueue) error {
	defer t.runner.Wait()
	for {
		c, ok := q.Next(ctx)
		if !ok {
			return ctx.Err()
		}
		if _, err := t.Handle(ctx, c); err != nil {
			t.logger.Error("doc trigger failed",
				"collection", c.Collection, "id", c.ID, "trigger", string(c.Type), "error", err)
		}
	}
}
