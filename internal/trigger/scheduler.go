package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/roach88/docrules/internal/ir"
	"github.com/roach88/docrules/internal/rules"
)

// EveryMinute is the tick schedule of the scheduler.
const EveryMinute = "* * * * *"

// Scheduler runs scheduled rule sets whose cron expression matches the
// current UTC minute. It ticks once a minute; every tick is independent.
type Scheduler struct {
	loader *rules.Loader
	runner *Runner
	logger *slog.Logger
	now    func() time.Time
	cron   *cron.Cron
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerClock sets the clock ticks read the current minute from.
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// WithSchedulerLogger sets the logger.
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// NewScheduler creates a scheduler. It does not tick until Start.
func NewScheduler(loader *rules.Loader, runner *Runner, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		loader: loader,
		runner: runner,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins ticking. Runs started by a tick use ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(EveryMinute, func() {
		if _, err := s.RunNow(ctx); err != nil {
			s.logger.Error("scheduled tick failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule tick: %w", err)
	}
	s.cron = c
	c.Start()
	s.logger.Info("scheduler started", "schedule", EveryMinute)
	return nil
}

// Stop stops ticking and waits for started runs to finish.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.runner.Wait()
}

// RunNow runs the scheduled rule sets due at the current minute. It is the
// tick body and the "run scheduled rules now" entry point.
func (s *Scheduler) RunNow(ctx context.Context) (int, error) {
	return s.RunDue(ctx, s.now())
}

// RunDue starts a run for every active scheduled rule set whose cron
// expression matches the minute of at. A rule set with a missing or
// invalid expression is logged and skipped. It returns the number of runs
// started.
func (s *Scheduler) RunDue(ctx context.Context, at time.Time) (int, error) {
	dbg := debugEnabled(ctx, s.runner.Orchestrator().Settings())
	if dbg {
		s.logger.Info("running scheduled rules", "at", at.UTC().Format(time.RFC3339))
	}

	sets, err := s.loader.Load(ctx, ir.RuleTypeScheduled, rules.Filter{})
	if err != nil {
		return 0, err
	}
	if len(sets) == 0 && dbg {
		s.logger.Info("no scheduled rule sets match")
	}

	started := 0
	for _, rs := range sets {
		due, err := Matches(rs.Filters.Cron, at)
		if err != nil {
			s.logger.Error("skipping scheduled rule set", "ruleSet", rules.Label(rs), "error", err)
			continue
		}
		if !due {
			continue
		}
		s.runner.Start(ctx, rs, rules.Input{Trigger: rules.TriggerScheduled})
		started++
	}
	return started, nil
}

// Matches reports whether the standard 5-field cron expression matches the
// minute of at. Expressions are read in UTC unless they carry a CRON_TZ=
// or TZ= prefix.
func Matches(expr string, at time.Time) (bool, error) {
	sched, err := ParseCron(expr)
	if err != nil {
		return false, err
	}
	minute := at.UTC().Truncate(time.Minute)
	return sched.Next(minute.Add(-time.Second)).Equal(minute), nil
}

// ParseCron parses a standard cron expression, defaulting to UTC.
func ParseCron(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, &rules.ConfigError{Field: "filters.cron", Message: "cron expression is required"}
	}
	if !strings.HasPrefix(expr, "CRON_TZ=") && !strings.HasPrefix(expr, "TZ=") {
		expr = "CRON_TZ=UTC " + expr
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, &rules.ConfigError{Field: "filters.cron", Message: err.Error()}
	}
	return sched, nil
}
