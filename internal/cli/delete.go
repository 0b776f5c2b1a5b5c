package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/cadence/internal/engine"
	"github.com/roach88/cadence/internal/task"
)

// DeleteReport is the output of the delete commands.
type DeleteReport struct {
	RootID  string   `json:"root_id"`
	Planned int      `json:"planned"`
	Deleted []string `json:"deleted"`
}

func (r DeleteReport) String() string {
	return fmt.Sprintf("Deleted %d of %d entities under %s", len(r.Deleted), r.Planned, r.RootID)
}

func newDeleteReport(res engine.DeleteResult) DeleteReport {
	rep := DeleteReport{
		RootID:  string(res.RootID),
		Planned: res.Planned,
		Deleted: make([]string, len(res.Deleted)),
	}
	for i, id := range res.Deleted {
		rep.Deleted[i] = string(id)
	}
	return rep
}

// NewDeleteCommand creates the delete command with its group and template
// subcommands.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a group or template with everything under it",
		Long: `Delete a group subtree or a template with its instances.

Entities are removed leaves first. When some deletions fail the rest still
happen, the parents of the failed entities are kept, and the command exits
with status 1. Running it again finishes the job.`,
	}

	cmd.AddCommand(newDeleteSubcommand(rootOpts, "group",
		"Delete a group, its nested groups, their templates and instances",
		func(e *engine.Engine, ctx context.Context, id task.ID) (engine.DeleteResult, error) {
			return e.DeleteGroupCascade(ctx, id)
		}))
	cmd.AddCommand(newDeleteSubcommand(rootOpts, "template",
		"Delete a template and its instances",
		func(e *engine.Engine, ctx context.Context, id task.ID) (engine.DeleteResult, error) {
			return e.DeleteTemplateCascade(ctx, id)
		}))

	return cmd
}

type deleteFunc func(e *engine.Engine, ctx context.Context, id task.ID) (engine.DeleteResult, error)

func newDeleteSubcommand(rootOpts *RootOptions, kind, short string, del deleteFunc) *cobra.Command {
	return &cobra.Command{
		Use:           kind + " <id>",
		Short:         short,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(s *session, f *OutputFormatter) error {
				res, err := del(s.engine, commandContext(cmd), task.ID(args[0]))
				if err != nil {
					if engine.IsPartialFailure(err) {
						return f.FailPartial(newDeleteReport(res), err)
					}
					return f.Fail(err)
				}
				return f.Success(newDeleteReport(res))
			})
		},
	}
}
