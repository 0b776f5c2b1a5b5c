package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/cadence/internal/frequency"
	"github.com/roach88/cadence/internal/task"
)

// OccurrencesOptions holds flags for the occurrences command.
type OccurrencesOptions struct {
	*RootOptions
	Type       string
	Interval   int
	CustomDays []string
	Start      string
	Until      string
	Count      int
}

// OccurrencesResult lists computed occurrence days.
type OccurrencesResult struct {
	Type  string   `json:"type"`
	Start string   `json:"start"`
	Until string   `json:"until"`
	Dates []string `json:"dates"`
}

func (r OccurrencesResult) String() string {
	if len(r.Dates) == 0 {
		return "No occurrences."
	}
	return strings.Join(r.Dates, "\n")
}

// NewOccurrencesCommand creates the occurrences command.
func NewOccurrencesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OccurrencesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "occurrences",
		Short: "Preview the dates a frequency produces",
		Long: `Compute the occurrence dates of a frequency without touching a database.

The safety limit (--until) is inclusive. --count caps the result except for
"always", which runs to the limit.

Examples:
  cadence occurrences --type monthly --start 2025-01-31 --until 2025-06-30
  cadence occurrences --type weekly --interval 2 --until 2025-03-01 --count 4
  cadence occurrences --type custom --custom-day 2025-02-14 --custom-day 2025-03-17 --until 2025-12-31`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOccurrences(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Type, "type", "", "frequency type (daily|weekly|monthly|custom|once|always)")
	_ = cmd.MarkFlagRequired("type")
	cmd.Flags().IntVar(&opts.Interval, "interval", 1, "step between occurrences")
	cmd.Flags().StringSliceVar(&opts.CustomDays, "custom-day", nil, "explicit date for custom frequencies (repeatable)")
	cmd.Flags().StringVar(&opts.Start, "start", "", "first candidate date (default today)")
	cmd.Flags().StringVar(&opts.Until, "until", "", "safety limit, inclusive (required)")
	_ = cmd.MarkFlagRequired("until")
	cmd.Flags().IntVar(&opts.Count, "count", frequency.DefaultBatchSize, "maximum number of occurrences")

	return cmd
}

func runOccurrences(opts *OccurrencesOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	cfg := task.FrequencyConfig{
		Type:     task.FrequencyType(strings.ToLower(strings.TrimSpace(opts.Type))),
		Interval: opts.Interval,
	}
	if !cfg.Known() {
		return f.FailCode(ExitCommandError, ErrCodeInvalidArgs, fmt.Sprintf("unknown frequency type %q", opts.Type))
	}
	days, err := parseDays(opts.CustomDays)
	if err != nil {
		return f.FailCode(ExitCommandError, ErrCodeInvalidArgs, fmt.Sprintf("--custom-day: %v", err))
	}
	cfg.CustomDays = days

	start := task.StartOfDay(opts.now())
	if opts.Start != "" {
		s, err := task.ParseDate(opts.Start)
		if err != nil {
			return f.FailCode(ExitCommandError, ErrCodeInvalidArgs, fmt.Sprintf("--start: %v", err))
		}
		start = s
	}
	until, err := task.ParseDate(opts.Until)
	if err != nil {
		return f.FailCode(ExitCommandError, ErrCodeInvalidArgs, fmt.Sprintf("--until: %v", err))
	}

	dates := frequency.Compute(cfg, start, opts.Count, until)
	result := OccurrencesResult{
		Type:  string(cfg.Type),
		Start: task.DayKey(start),
		Until: task.DayKey(until),
		Dates: make([]string, len(dates)),
	}
	for i, d := range dates {
		result.Dates[i] = task.DayKey(d)
	}
	return f.Success(result)
}

// now reads the injected clock, falling back to the wall clock.
func (o *RootOptions) now() time.Time {
	if o.Clock != nil {
		return o.Clock.Now()
	}
	return time.Now()
}
