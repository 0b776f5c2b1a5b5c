package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/cadence/internal/config"
	"github.com/roach88/cadence/internal/sweep"
)

// ShutdownTimeout bounds how long run waits for in-flight jobs on exit.
var ShutdownTimeout = 10 * time.Second

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Once string // run one job and exit
}

// JobReport is the output of run --once.
type JobReport struct {
	sweep.Report
}

func (r JobReport) String() string {
	if r.Job == sweep.JobCloseOut {
		return fmt.Sprintf("close-out: archived %d instance(s) across %d template(s)", r.Archived, r.Templates)
	}
	return fmt.Sprintf("materialize: %d created across %d template(s), %d without due date, %d failed",
		r.Created, r.Templates, r.Unbounded, r.Failed)
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the periodic materialize and close-out sweep",
		Long: `Start the sweep scheduler and run until interrupted.

The materialize job tops up every template's instances; the close-out job
archives finished instances. Their cron schedules come from the sweep
section of the config file. With --config the file is watched and a new
schedule applies without a restart.

With --once the named job runs a single time and the command exits.

Examples:
  cadence run --config cadence.cue
  cadence run --once materialize
  cadence run --once close-out --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Once, "once", "", "run one job (materialize|close-out) and exit")

	return cmd
}

func runSweep(opts *RunOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	var once sweep.Job
	if opts.Once != "" {
		job, err := sweep.ParseJob(opts.Once)
		if err != nil {
			return f.FailCode(ExitCommandError, ErrCodeInvalidArgs, err.Error())
		}
		once = job
	}

	return opts.withSession(cmd, func(s *session, f *OutputFormatter) error {
		svc := sweep.New(s.engine, s.cfg.Sweep, s.log)

		if once != "" {
			rep, err := svc.RunOnce(commandContext(cmd), once)
			if err != nil {
				return f.FailPartial(JobReport{rep}, WrapExitError(ExitFailure, ErrCodeGeneric, err))
			}
			return f.Success(JobReport{rep})
		}

		return serve(opts, cmd, s, svc)
	})
}

// serve runs the scheduler until a signal or the command context ends.
func serve(opts *RunOptions, cmd *cobra.Command, s *session, svc *sweep.Service) error {
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			s.log.Info().Str("signal", sig.String()).Msg("received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := svc.Start(ctx); err != nil {
		return opts.formatter(cmd).Fail(WrapExitError(ExitCommandError, ErrCodeLoadFailed, err))
	}

	if opts.Config != "" {
		go func() {
			err := config.Watch(ctx, opts.Config, s.log, func(cfg *config.Config) {
				if err := svc.Apply(cfg.Sweep); err != nil {
					s.log.Error().Err(err).Msg("sweep config rejected")
				}
			})
			if err != nil {
				s.log.Error().Err(err).Msg("config watch stopped")
			}
		}()
	}

	s.log.Info().
		Bool("enabled", s.cfg.Sweep.Enabled).
		Str("materialize", s.cfg.Sweep.Materialize).
		Str("close_out", s.cfg.Sweep.CloseOut).
		Msg("sweep starting")
	fmt.Fprintln(cmd.OutOrStdout(), "Sweep started.")
	for _, job := range sweep.Jobs {
		if next, ok := svc.Next(job); ok {
			fmt.Fprintf(cmd.OutOrStdout(), "  next %s: %s\n", job, next.Format(time.RFC3339))
		}
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer stopCancel()
	svc.Stop(stopCtx)

	s.log.Info().Msg("sweep stopped gracefully")
	return nil
}
