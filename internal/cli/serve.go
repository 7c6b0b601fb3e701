package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/docrules/internal/store"
)

const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr        string
	NoScheduler bool

	// ready, when set, receives the bound listener address.
	ready func(addr string)
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the triggers and the HTTP api",
		Long: `Start the document-change watcher, the cron scheduler and the HTTP api.

Every write made through the store (including writes made by actions) is
fed to the document trigger. The api serves rule sets with ruleType "api"
under /<endPoint>[/<id>], POST /_rules/scheduled runs the scheduled rule
sets now, and /metrics exposes Prometheus metrics.

Example:
  docrules serve --config docrules.yaml
  docrules serve --db ./docrules.db --addr :9090 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address, overrides http.addr")
	cmd.Flags().BoolVar(&opts.NoScheduler, "no-scheduler", false, "do not run scheduled rule sets")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.HTTP.Addr = opts.Addr
	}
	logger := opts.logger(cmd.ErrOrStderr())

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, cfg, logger, WithStoreOptions(store.WithChangeFeed()))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start", err)
	}
	defer func() {
		if closeErr := app.Close(); closeErr != nil {
			logger.Error("error closing store", "error", closeErr)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", app.Metrics.Handler())
	mux.Handle("/", app.API)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	ln, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	if opts.ready != nil {
		opts.ready(ln.Addr().String())
	}

	if cfg.Scheduler.Enabled && !opts.NoScheduler {
		if err := app.Scheduler.Start(ctx); err != nil {
			return WrapExitError(ExitCommandError, "failed to start scheduler", err)
		}
		defer app.Scheduler.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := app.Docs.Watch(gctx, app.Store.Changes())
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	logger.Info("docrules serving", "addr", ln.Addr().String(), "store", cfg.Store.Driver,
		"scheduler", cfg.Scheduler.Enabled && !opts.NoScheduler)
	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "serve error", err)
	}
	logger.Info("docrules stopped gracefully")
	return nil
}
