package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/cadence/internal/engine"
	"github.com/roach88/cadence/internal/task"
)

// MaterializeOptions holds flags for the materialize command.
type MaterializeOptions struct {
	*RootOptions
	All   bool
	Until string
}

// TemplateReport is the outcome of materializing one template.
type TemplateReport struct {
	TemplateID string   `json:"template_id"`
	Outcome    string   `json:"outcome"`
	Limit      string   `json:"limit,omitempty"`
	Created    []string `json:"created"`
	Skipped    int      `json:"skipped"`
}

// MaterializeReport is the output of the materialize command.
type MaterializeReport struct {
	Templates []TemplateReport `json:"templates"`
	Created   int              `json:"created"`
}

func (r MaterializeReport) String() string {
	var b strings.Builder
	for _, t := range r.Templates {
		if t.Outcome == string(engine.OutcomeMissingSafetyBound) {
			fmt.Fprintf(&b, "- %s: no due date, skipped\n", t.TemplateID)
			continue
		}
		fmt.Fprintf(&b, "✓ %s: %d created, %d skipped (limit %s)\n", t.TemplateID, len(t.Created), t.Skipped, t.Limit)
	}
	fmt.Fprintf(&b, "Materialized %d instance(s) across %d template(s)", r.Created, len(r.Templates))
	return b.String()
}

func newTemplateReport(res engine.MaterializeResult) TemplateReport {
	rep := TemplateReport{
		TemplateID: string(res.TemplateID),
		Outcome:    string(res.Outcome),
		Created:    make([]string, len(res.Created)),
		Skipped:    res.Skipped,
	}
	if !res.Limit.IsZero() {
		rep.Limit = task.DayKey(res.Limit)
	}
	for i, inst := range res.Created {
		rep.Created[i] = string(inst.ID)
	}
	return rep
}

// NewMaterializeCommand creates the materialize command.
func NewMaterializeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MaterializeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "materialize [template-id]",
		Short: "Generate the next instances of a template",
		Long: `Generate the next batch of instances for one template, or every
template with --all.

Generation starts today and stops at the template's due date, or at --until
when given. Days that already have an instance are skipped, so running the
command twice creates nothing the second time.

Examples:
  cadence materialize rent
  cadence materialize rent --until 2025-12-31
  cadence materialize --all --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMaterialize(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.All, "all", false, "materialize every template")
	cmd.Flags().StringVar(&opts.Until, "until", "", "safety limit overriding the due date (YYYY-MM-DD)")

	return cmd
}

func runMaterialize(opts *MaterializeOptions, args []string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	if opts.All == (len(args) == 1) {
		return f.FailCode(ExitCommandError, ErrCodeInvalidArgs, "give a template id or --all, not both")
	}
	until, err := parseDateFlag("until", opts.Until)
	if err != nil {
		return f.Fail(err)
	}

	return opts.withSession(cmd, func(s *session, f *OutputFormatter) error {
		ctx := commandContext(cmd)
		var report MaterializeReport

		if !opts.All {
			res, err := s.engine.MaterializeTemplate(ctx, task.ID(args[0]), until)
			if err != nil {
				return f.Fail(err)
			}
			report.Templates = []TemplateReport{newTemplateReport(res)}
			report.Created = len(res.Created)
			return f.Success(report)
		}

		results, err := s.engine.MaterializeAll(ctx, until)
		report.Templates = make([]TemplateReport, 0, len(results))
		for _, res := range results {
			report.Templates = append(report.Templates, newTemplateReport(res))
			report.Created += len(res.Created)
		}
		if err != nil {
			return f.FailPartial(report, err)
		}
		return f.Success(report)
	})
}
