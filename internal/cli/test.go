package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/cadence/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern)
}

// TestReport is the text rendering of a suite result.
type TestReport struct {
	*harness.SuiteResult
}

func (r TestReport) String() string {
	if r.Total == 0 {
		return "No scenarios found."
	}

	var b strings.Builder
	for _, s := range r.Scenarios {
		if s.Pass {
			fmt.Fprintf(&b, "✓ %s", s.Name)
			if s.Golden == harness.GoldenUpdated {
				b.WriteString(" (golden updated)")
			}
			b.WriteByte('\n')
			continue
		}
		fmt.Fprintf(&b, "✗ %s\n", s.Name)
		for _, e := range s.Errors {
			fmt.Fprintf(&b, "  %s\n", e)
		}
	}

	fmt.Fprintf(&b, "\nTest Summary: %d passed, %d failed, %d total", r.Passed, r.Failed, r.Total)
	if r.Failed == 0 {
		b.WriteString("\n✓ All scenarios passed")
	}
	return b.String()
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run scenario files against a fresh engine",
		Long: `Run every scenario file in a directory.

Each scenario seeds an in-memory store, runs its flow against the engine
and checks the expect clauses, assertions and, when present, the golden
trace under <scenarios-dir>/golden.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  cadence test ./testdata/scenarios
  cadence test ./testdata/scenarios --filter "monthly_*"
  cadence test ./testdata/scenarios --update
  cadence test ./testdata/scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runTests(opts *TestOptions, dir string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	result, err := harness.RunSuite(dir, harness.SuiteOptions{Filter: opts.Filter, Update: opts.Update})
	if err != nil {
		return f.FailCode(ExitCommandError, ErrCodeNotFound, err.Error())
	}
	f.VerboseLog("ran %d scenario(s) from %s", result.Total, dir)

	if result.Failed == 0 {
		return f.Success(TestReport{result})
	}

	msg := fmt.Sprintf("%d scenario(s) failed", result.Failed)
	if opts.Format == "json" {
		if err := f.Partial(result, ErrCodeTestFailed, msg); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(f.Writer, TestReport{result})
	}
	return &ExitError{Code: ExitFailure, Message: msg, Reported: true}
}
