package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/cadence/internal/engine"
	"github.com/roach88/cadence/internal/task"
)

// CascadeOptions holds flags for the cascade and uncascade commands.
type CascadeOptions struct {
	*RootOptions
	To     string
	From   string
	DryRun bool
}

// CascadeReport is the output of cascade and uncascade.
type CascadeReport struct {
	TemplateID string   `json:"template_id"`
	Key        string   `json:"key"`
	DryRun     bool     `json:"dry_run,omitempty"`
	Skipped    bool     `json:"skipped"`
	Updated    []string `json:"updated"`
}

func (r CascadeReport) String() string {
	switch {
	case r.DryRun && r.Skipped:
		return fmt.Sprintf("%s already applied; nothing would change", r.Key)
	case r.DryRun:
		return fmt.Sprintf("%s would update %d instance(s): %s", r.Key, len(r.Updated), strings.Join(r.Updated, ", "))
	case r.Skipped:
		return fmt.Sprintf("%s already applied; skipped", r.Key)
	default:
		return fmt.Sprintf("%s updated %d instance(s)", r.Key, len(r.Updated))
	}
}

func newCascadeReport(res engine.CascadeResult) CascadeReport {
	rep := CascadeReport{
		TemplateID: string(res.TemplateID),
		Key:        res.Key.String(),
		Skipped:    res.Skipped,
		Updated:    make([]string, len(res.Updated)),
	}
	for i, id := range res.Updated {
		rep.Updated[i] = string(id)
	}
	return rep
}

func newPreviewReport(p engine.CascadePreview) CascadeReport {
	rep := CascadeReport{
		TemplateID: string(p.Key.EntityID),
		Key:        p.Key.String(),
		DryRun:     true,
		Skipped:    p.AlreadyApplied,
		Updated:    []string{},
	}
	if !p.AlreadyApplied {
		for _, id := range p.Pending {
			rep.Updated = append(rep.Updated, string(id))
		}
	}
	return rep
}

// NewCascadeCommand creates the cascade command.
func NewCascadeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CascadeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "cascade <template-id>",
		Short: "Apply a status to every instance of a template once",
		Long: `Set every instance of a template that is not already at --to to --to.

The cascade runs at most once per template and status: repeating the
command is a no-op until another cascade for the template completes or the
keys are reset. --from is recorded in the audit log only.

Examples:
  cadence cascade rent --to done --from in_progress
  cadence cascade rent --to done --dry-run`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCascade(opts, task.ActionCascade, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.To, "to", "", "target status (required)")
	_ = cmd.MarkFlagRequired("to")
	cmd.Flags().StringVar(&opts.From, "from", "", "previous template status, for the audit log")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "show what would change without writing")

	return cmd
}

// NewUncascadeCommand creates the uncascade command.
func NewUncascadeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CascadeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "uncascade <template-id>",
		Short: "Revert every instance of a template to a status once",
		Long: `Revert every instance of a template to --to, at most once per status.

Examples:
  cadence uncascade rent --to not_started
  cadence uncascade rent --to not_started --dry-run`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCascade(opts, task.ActionUncascade, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.To, "to", "", "status to revert to (required)")
	_ = cmd.MarkFlagRequired("to")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "show what would change without writing")

	return cmd
}

func runCascade(opts *CascadeOptions, action task.EffectAction, id string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	to, err := parseStatusFlag("to", opts.To)
	if err != nil {
		return f.Fail(err)
	}
	var from task.Status
	if opts.From != "" {
		if from, err = parseStatusFlag("from", opts.From); err != nil {
			return f.Fail(err)
		}
	}

	return opts.withSession(cmd, func(s *session, f *OutputFormatter) error {
		ctx := commandContext(cmd)
		templateID := task.ID(id)

		if opts.DryRun {
			preview, err := s.engine.PreviewCascade(ctx, templateID, action, to)
			if err != nil {
				return f.Fail(err)
			}
			return f.Success(newPreviewReport(preview))
		}

		var res engine.CascadeResult
		if action == task.ActionCascade {
			res, err = s.engine.CascadeStatus(ctx, templateID, to, from)
		} else {
			res, err = s.engine.UncascadeStatus(ctx, templateID, to)
		}
		if err != nil {
			if engine.IsPartialFailure(err) {
				return f.FailPartial(newCascadeReport(res), err)
			}
			return f.Fail(err)
		}
		return f.Success(newCascadeReport(res))
	})
}

// ResetReport is the output of reset-cascades.
type ResetReport struct {
	TemplateID string `json:"template_id"`
	Released   int    `json:"released"`
}

func (r ResetReport) String() string {
	return fmt.Sprintf("Released %d cascade key(s) of %s", r.Released, r.TemplateID)
}

// NewResetCascadesCommand creates the reset-cascades command.
func NewResetCascadesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset-cascades <template-id>",
		Short: "Forget every applied cascade of a template",
		Long: `Release every cascade and uncascade key of a template, so the next
cascade or uncascade with any status runs again.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(s *session, f *OutputFormatter) error {
				n, err := s.engine.ResetCascades(commandContext(cmd), task.ID(args[0]))
				if err != nil {
					return f.Fail(err)
				}
				return f.Success(ResetReport{TemplateID: args[0], Released: n})
			})
		},
	}
	return cmd
}
