package trigger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/docrules/internal/actions"
	"github.com/roach88/docrules/internal/ir"
	"github.com/roach88/docrules/internal/rules"
)

// APITrigger runs the api rule set matching a request.
type APITrigger struct {
	loader *rules.Loader
	orch   *rules.Orchestrator
	logger *slog.Logger
}

// NewAPITrigger creates a request trigger.
func NewAPITrigger(loader *rules.Loader, orch *rules.Orchestrator, logger *slog.Logger) *APITrigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &APITrigger{loader: loader, orch: orch, logger: logger}
}

// Settings returns the settings the trigger's runs read.
func (t *APITrigger) Settings() *rules.Settings {
	return t.orch.Settings()
}

// Handle runs the single active api rule set for method and endPoint with
// request as the request fact, and waits for it.
//
// No match returns rules.ErrNoRulesMatch; more than one match returns a
// ConfigError naming the endpoint. A run failure is returned with the
// outcome.
func (t *APITrigger) Handle(ctx context.Context, method, endPoint string, request map[string]any, onFinished actions.Callback) (*rules.Outcome, error) {
	dbg := debugEnabled(ctx, t.orch.Settings())
	if dbg {
		t.logger.Info("running api rules", "method", method, "endPoint", endPoint)
	}

	sets, err := t.loader.Load(ctx, ir.RuleTypeAPI, rules.Filter{Method: method, EndPoint: endPoint})
	if err != nil {
		return nil, err
	}
	switch {
	case len(sets) == 0:
		if dbg {
			t.logger.Info("no api rule sets match", "method", method, "endPoint", endPoint)
		}
		return nil, rules.ErrNoRulesMatch
	case len(sets) > 1:
		return nil, &rules.ConfigError{
			Field:   "filters.endPoint",
			Message: fmt.Sprintf("multiple rule sets found for endpoint %q; only one rule set per endpoint is allowed", endPoint),
		}
	}

	out := t.orch.Run(ctx, sets[0], rules.Input{
		Trigger:    rules.TriggerAPI,
		Facts:      map[string]any{actions.RequestFact: request},
		OnFinished: onFinished,
	})
	return out, out.Err
}
