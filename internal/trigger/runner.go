package trigger

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/docrules/internal/ir"
	"github.com/roach88/docrules/internal/rules"
)

// Runner starts rule-set runs as independent tasks.
//
// Thread-safety: Start and Wait are safe from any goroutine.
type Runner struct {
	orch   *rules.Orchestrator
	logger *slog.Logger
	group  errgroup.Group
	onDone func(*rules.Outcome)
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithConcurrency bounds the number of runs in flight. Start blocks while
// the bound is reached. n <= 0 means unbounded.
func WithConcurrency(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.group.SetLimit(n)
		}
	}
}

// WithOutcomes calls fn with the outcome of every finished run.
func WithOutcomes(fn func(*rules.Outcome)) RunnerOption {
	return func(r *Runner) { r.onDone = fn }
}

// WithRunnerLogger sets the logger.
func WithRunnerLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a runner over orch.
func NewRunner(orch *rules.Orchestrator, opts ...RunnerOption) *Runner {
	r := &Runner{orch: orch, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Orchestrator returns the orchestrator runs are started on.
func (r *Runner) Orchestrator() *rules.Orchestrator {
	return r.orch
}

// Start runs rs in its own goroutine. A failing run is logged by the
// orchestrator and never affects other runs.
func (r *Runner) Start(ctx context.Context, rs ir.RuleSet, in rules.Input) {
	r.group.Go(func() error {
		out := r.orch.Run(ctx, rs, in)
		if r.onDone != nil {
			r.onDone(out)
		}
		return nil
	})
}

// Wait blocks until every started run has finished.
func (r *Runner) Wait() {
	_ = r.group.Wait()
}

// debugEnabled loads the settings if needed and reports the debug flag. A
// load failure reads as disabled; the run itself reports the error.
func debugEnabled(ctx context.Context, s *rules.Settings) bool {
	if err := s.Load(ctx); err != nil {
		return false
	}
	return s.Debug()
}
