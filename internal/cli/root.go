package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/roach88/cadence/internal/config"
	"github.com/roach88/cadence/internal/engine"
	"github.com/roach88/cadence/internal/logging"
	"github.com/roach88/cadence/internal/store"
	"github.com/roach88/cadence/internal/task"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose  bool
	Format   string // "json" | "text"
	Database string // overrides the config database path
	Config   string // config file (.cue, .yaml, .yml or .json)

	// Clock and IDs override the engine's time source and id generator
	// (for testing). Nil means the system clock and UUIDv7 ids.
	Clock engine.Clock
	IDs   engine.IDGenerator
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the cadence CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cadence",
		Short: "cadence - recurring task scheduler",
		Long: `Schedule recurring tasks and keep their instances in step.

Templates describe a recurring task and how often it repeats. cadence
materializes their instances up to each template's due date, cascades
template status changes to every instance exactly once, deletes whole
group subtrees and archives finished instances.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Validate format flag
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "path to config file")

	// Add subcommands
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewOccurrencesCommand(opts))
	cmd.AddCommand(NewMaterializeCommand(opts))
	cmd.AddCommand(NewCascadeCommand(opts))
	cmd.AddCommand(NewUncascadeCommand(opts))
	cmd.AddCommand(NewResetCascadesCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewArchiveCommand(opts))
	cmd.AddCommand(NewCloseOutCommand(opts))
	cmd.AddCommand(NewLogCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// formatter builds the output formatter for a command.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   o.Verbose,
	}
}

// loadConfig reads --config, or the defaults when it is unset, and applies
// the --db and --verbose overrides.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if o.Config != "" {
		loaded, err := config.Load(o.Config)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if o.Database != "" {
		cfg.Database = o.Database
	}
	if o.Verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// session is an open store and the engine over it.
type session struct {
	cfg    *config.Config
	log    zerolog.Logger
	store  *store.Store
	engine *engine.Engine
}

// openSession loads configuration, opens the database and builds the
// engine. Failures are ExitCommandError.
func (o *RootOptions) openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, ErrCodeLoadFailed, err)
	}
	log := logging.New(cfg.Log, cmd.ErrOrStderr())

	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, ErrCodeStore, err)
	}

	engineOpts := []engine.EngineOption{
		engine.WithBatchSize(cfg.BatchSize),
		engine.WithMaxOccurrences(cfg.MaxOccurrences),
		engine.WithLogger(log),
	}
	if o.Clock != nil {
		engineOpts = append(engineOpts, engine.WithClock(o.Clock))
	}
	if o.IDs != nil {
		engineOpts = append(engineOpts, engine.WithIDGenerator(o.IDs))
	}

	log.Debug().Str("db", cfg.Database).Msg("database ready")
	return &session{
		cfg:    cfg,
		log:    log,
		store:  st,
		engine: engine.New(st, engineOpts...),
	}, nil
}

func (s *session) Close() {
	if err := s.store.Close(); err != nil {
		s.log.Error().Err(err).Msg("error closing database")
	}
}

// withSession opens a session, runs fn and closes it. Session errors are
// reported through the formatter.
func (o *RootOptions) withSession(cmd *cobra.Command, fn func(*session, *OutputFormatter) error) error {
	f := o.formatter(cmd)
	s, err := o.openSession(cmd)
	if err != nil {
		return f.Fail(err)
	}
	defer s.Close()
	return fn(s, f)
}

// parseDateFlag parses an optional date flag; "" yields nil.
func parseDateFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	d, err := task.ParseDate(value)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, ErrCodeInvalidArgs, fmt.Errorf("--%s: %w", name, err))
	}
	return &d, nil
}

// parseStatusFlag parses a required status flag.
func parseStatusFlag(name, value string) (task.Status, error) {
	st, err := task.ParseStatus(value)
	if err != nil {
		return "", WrapExitError(ExitCommandError, ErrCodeInvalidArgs, fmt.Errorf("--%s: %w", name, err))
	}
	return st, nil
}

// commandContext returns the command's context, or Background when the
// command runs outside Execute (tests calling RunE directly).
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
