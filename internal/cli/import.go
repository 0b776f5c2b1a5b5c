package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/cadence/internal/engine"
	"github.com/roach88/cadence/internal/task"
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	NoMaterialize bool
}

// ImportResult summarizes an import.
type ImportResult struct {
	Groups    int `json:"groups"`
	Templates int `json:"templates"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`

	// Instances counts instances materialized after the import.
	Instances int `json:"instances"`

	// Unbounded lists imported templates without a due date.
	Unbounded []string `json:"unbounded,omitempty"`
}

func (r ImportResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Imported %d group(s) and %d template(s): %d created, %d updated\n",
		r.Groups, r.Templates, r.Created, r.Updated)
	fmt.Fprintf(&b, "Materialized %d instance(s)", r.Instances)
	if len(r.Unbounded) > 0 {
		fmt.Fprintf(&b, "\nNo due date (not materialized): %s", strings.Join(r.Unbounded, ", "))
	}
	return b.String()
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <tree-file>",
		Short: "Import a tree of groups and templates",
		Long: `Import groups and templates from a YAML, JSON or CUE tree file.

Entities are saved parents first. Existing ids are updated, so importing
the same file twice is safe; a template whose status changed cascades it
to its instances. After the import every template with a due date is
materialized, unless --no-materialize is given.

Example tree:
  groups:
    - id: home
      name: Home
      templates:
        - id: rent
          name: Pay rent
          due: 2025-06-01
          frequency: { type: monthly, interval: 1 }

Examples:
  cadence import --db ./cadence.db ./tree.yaml
  cadence import --db ./cadence.db ./tree.cue --no-materialize`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.NoMaterialize, "no-materialize", false, "save entities without generating instances")

	return cmd
}

func runImport(opts *ImportOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	tree, err := LoadTree(path)
	if err != nil {
		return f.FailCode(ExitCommandError, ErrCodeLoadFailed, err.Error())
	}
	entities, err := tree.Entities()
	if err != nil {
		return f.FailCode(ExitCommandError, ErrCodeLoadFailed, err.Error())
	}
	f.VerboseLog("Loaded %d entities from %s", len(entities), path)

	return opts.withSession(cmd, func(s *session, f *OutputFormatter) error {
		ctx := commandContext(cmd)
		var result ImportResult
		var templates []task.ID

		// Bulk import never materializes per save; templates are
		// materialized once at the end.
		saveOpts := engine.SaveOptions{Skip: []engine.Stage{engine.StageMaterialize}}
		for _, ent := range entities {
			res, err := s.engine.Save(ctx, ent, saveOpts)
			if err != nil {
				return f.FailPartial(result, fmt.Errorf("import %s: %w", ent.Common().ID, err))
			}
			if res.Created {
				result.Created++
			} else {
				result.Updated++
			}
			switch ent.Kind() {
			case task.KindGroup:
				result.Groups++
			case task.KindTemplate:
				result.Templates++
				templates = append(templates, ent.Common().ID)
			}
		}

		if !opts.NoMaterialize {
			for _, id := range templates {
				res, err := s.engine.MaterializeTemplate(ctx, id, nil)
				if err != nil {
					return f.FailPartial(result, err)
				}
				result.Instances += len(res.Created)
				if res.Outcome == engine.OutcomeMissingSafetyBound {
					result.Unbounded = append(result.Unbounded, string(id))
				}
			}
		}

		s.log.Info().
			Int("count", len(entities)).
			Int("instances", result.Instances).
			Msg("import finished")
		return f.Success(result)
	})
}
