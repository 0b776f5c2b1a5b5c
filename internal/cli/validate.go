package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/cadence/internal/task"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool `json:"valid"`
	Groups    int  `json:"groups"`
	Templates int  `json:"templates"`
}

func (r ValidationResult) String() string {
	return fmt.Sprintf("✓ valid: %d group(s), %d template(s)", r.Groups, r.Templates)
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <tree-file>",
		Short: "Check a tree file without importing it",
		Long: `Check a tree file against the schema without touching the database.

Reports schema violations, duplicate ids, unknown statuses and bad dates.
Exits 1 when the file is invalid.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	tree, err := LoadTree(path)
	if err != nil {
		return f.FailCode(ExitFailure, ErrCodeLoadFailed, err.Error())
	}
	entities, err := tree.Entities()
	if err != nil {
		return f.FailCode(ExitFailure, ErrCodeLoadFailed, fmt.Sprintf("%s: %v", path, err))
	}

	res := ValidationResult{Valid: true}
	for _, ent := range entities {
		switch ent.Kind() {
		case task.KindGroup:
			res.Groups++
		case task.KindTemplate:
			res.Templates++
		}
	}
	f.VerboseLog("%s: %d entities", path, len(entities))
	return f.Success(res)
}
