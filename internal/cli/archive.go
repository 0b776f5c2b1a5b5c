package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/cadence/internal/task"
)

// ArchiveReport is the output of the archive command.
type ArchiveReport struct {
	TemplateID string   `json:"template_id"`
	Selected   []string `json:"selected"`
}

func (r ArchiveReport) String() string {
	return fmt.Sprintf("%d finished instance(s) of %s are archived", len(r.Selected), r.TemplateID)
}

// NewArchiveCommand creates the archive command.
func NewArchiveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "archive <template-id>",
		Short: "Archive the finished instances of a template",
		Long: `Move every done instance of a template to collected.

Instances already collected are left as they are; unfinished instances are
never touched. The output lists every finished instance.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(s *session, f *OutputFormatter) error {
				selected, err := s.engine.ArchiveCompletedInstances(commandContext(cmd), task.ID(args[0]))
				rep := ArchiveReport{TemplateID: args[0], Selected: make([]string, len(selected))}
				for i, inst := range selected {
					rep.Selected[i] = string(inst.ID)
				}
				if err != nil {
					return f.FailPartial(rep, err)
				}
				return f.Success(rep)
			})
		},
	}
}

// CloseOutOptions holds flags for the close-out command.
type CloseOutOptions struct {
	*RootOptions
	AsOf string
}

// CloseOutReport is the output of the close-out command.
type CloseOutReport struct {
	AsOf      string `json:"as_of"`
	Templates int    `json:"templates"`
	Archived  int    `json:"archived"`
}

func (r CloseOutReport) String() string {
	return fmt.Sprintf("Closed out %s: archived %d instance(s) across %d template(s)", r.AsOf, r.Archived, r.Templates)
}

// NewCloseOutCommand creates the close-out command.
func NewCloseOutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CloseOutOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "close-out",
		Short: "Archive finished instances due up to a date",
		Long: `Archive, for every template, the finished instances due on or before
--as-of (default now). This is the periodic "close the month" pass.

Examples:
  cadence close-out
  cadence close-out --as-of 2025-01-31`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCloseOut(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.AsOf, "as-of", "", "cut-off date (default now)")

	return cmd
}

func runCloseOut(opts *CloseOutOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	asOf, err := parseDateFlag("as-of", opts.AsOf)
	if err != nil {
		return f.Fail(err)
	}

	return opts.withSession(cmd, func(s *session, f *OutputFormatter) error {
		cutoff := s.engine.Now()
		if asOf != nil {
			cutoff = *asOf
		}
		res, err := s.engine.CloseOut(commandContext(cmd), cutoff)
		rep := CloseOutReport{
			AsOf:      task.DayKey(res.AsOf),
			Templates: res.Templates,
			Archived:  res.Archived,
		}
		if err != nil {
			return f.FailPartial(rep, err)
		}
		return f.Success(rep)
	})
}
