package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/docrules/internal/actions"
	"github.com/roach88/docrules/internal/api"
	"github.com/roach88/docrules/internal/blob"
	"github.com/roach88/docrules/internal/facts"
	"github.com/roach88/docrules/internal/metrics"
	"github.com/roach88/docrules/internal/rules"
	"github.com/roach88/docrules/internal/store"
	"github.com/roach88/docrules/internal/trigger"
)

// App is the wired engine: store, registry, orchestrator and triggers.
type App struct {
	Config  Config
	Logger  *slog.Logger
	Store   *store.Store
	Blobs   blob.Store
	Metrics *metrics.Metrics

	Registry     *actions.Registry
	Settings     *rules.Settings
	Orchestrator *rules.Orchestrator
	Loader       *rules.Loader
	Runner       *trigger.Runner

	Docs      *trigger.DocTrigger
	Scheduler *trigger.Scheduler
	API       *api.Handler
}

// AppOption configures NewApp.
type AppOption func(*appOptions)

type appOptions struct {
	storeOpts []store.Option
	outcomes  func(*rules.Outcome)
}

// WithStoreOptions passes options to store.Open.
func WithStoreOptions(opts ...store.Option) AppOption {
	return func(o *appOptions) { o.storeOpts = append(o.storeOpts, opts...) }
}

// WithRunOutcomes calls fn with every finished trigger run.
func WithRunOutcomes(fn func(*rules.Outcome)) AppOption {
	return func(o *appOptions) { o.outcomes = fn }
}

// NewApp opens the store and blob backend named by cfg and wires every
// component over them. Close releases the store.
func NewApp(ctx context.Context, cfg Config, logger *slog.Logger, opts ...AppOption) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}

	st, err := store.Open(cfg.Store.Driver, cfg.Store.DSN, o.storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	blobs, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to open blob store: %w", err)
	}

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Store:    st,
		Blobs:    blobs,
		Metrics:  metrics.New(),
		Registry: actions.NewRegistry(),
		Settings: rules.NewSettings(st),
	}
	actions.RegisterBuiltins(a.Registry, actions.Deps{Docs: st, Blobs: blobs, Logger: logger})

	dispatcher := actions.NewDispatcher(a.Registry,
		actions.WithLogger(logger),
		actions.WithDebug(a.Settings.Debug),
		actions.WithObserver(a.Metrics))
	a.Orchestrator = rules.New(facts.NewResolver(st, logger), dispatcher, a.Settings,
		rules.WithLogger(logger),
		rules.WithObserver(a.Metrics))
	a.Loader = rules.NewLoader(st, logger)

	runnerOpts := []trigger.RunnerOption{
		trigger.WithConcurrency(cfg.Triggers.Concurrency),
		trigger.WithRunnerLogger(logger),
	}
	if o.outcomes != nil {
		runnerOpts = append(runnerOpts, trigger.WithOutcomes(o.outcomes))
	}
	a.Runner = trigger.NewRunner(a.Orchestrator, runnerOpts...)

	a.Docs = trigger.NewDocTrigger(a.Loader, a.Runner, logger)
	a.Scheduler = trigger.NewScheduler(a.Loader, a.Runner, trigger.WithSchedulerLogger(logger))
	a.API = api.New(trigger.NewAPITrigger(a.Loader, a.Orchestrator, logger),
		api.WithLogWriter(st),
		api.WithScheduled(a.Scheduler),
		api.WithLogger(logger))
	return a, nil
}

// Close waits for started runs and closes the store.
func (a *App) Close() error {
	a.Runner.Wait()
	return a.Store.Close()
}
