package cli

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/roach88/docrules/internal/rules"
)

// ScheduledResult reports a run-scheduled invocation.
type ScheduledResult struct {
	Started int      `json:"started"`
	Failed  []string `json:"failed,omitempty"`
}

// NewRunScheduledCommand creates the run-scheduled command.
func NewRunScheduledCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run-scheduled",
		Short: "Run the scheduled rule sets due this minute",
		Long: `Run every active scheduled rule set whose cron expression matches the
current UTC minute, once, and wait for the runs to finish. Useful from an
external cron when serve runs with --no-scheduler.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduled(rootOpts, cmd)
		},
	}

	return cmd
}

func runScheduled(opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		mu     sync.Mutex
		failed []string
	)
	app, err := NewApp(ctx, cfg, opts.logger(cmd.ErrOrStderr()), WithRunOutcomes(func(o *rules.Outcome) {
		if o.Err == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		failed = append(failed, o.RuleSet)
	}))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start", err)
	}

	n, err := app.Scheduler.RunNow(ctx)
	closeErr := app.Close()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scheduled rule sets", err)
	}
	if closeErr != nil {
		return WrapExitError(ExitCommandError, "error closing store", closeErr)
	}

	result := ScheduledResult{Started: n, Failed: failed}
	if len(failed) > 0 {
		_ = formatter.Error(ErrCodeRun, fmt.Sprintf("%d of %d scheduled rule set(s) failed", len(failed), n), result)
		return NewExitError(ExitFailure, fmt.Sprintf("%d scheduled rule set(s) failed", len(failed)))
	}
	return formatter.Success(result, fmt.Sprintf("✓ Ran %d scheduled rule set(s)", n))
}
