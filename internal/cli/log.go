package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/cadence/internal/store"
	"github.com/roach88/cadence/internal/task"
)

// LogOptions holds flags for the log command.
type LogOptions struct {
	*RootOptions
	Event string // optional - filter to one event type
	After int64
	Limit int
}

// LogLine is one audit entry in the timeline.
type LogLine struct {
	Seq       int64     `json:"seq"`
	Event     string    `json:"event"`
	Entity    string    `json:"entity"`
	Kind      string    `json:"kind"`
	OldStatus string    `json:"old_status,omitempty"`
	NewStatus string    `json:"new_status,omitempty"`
	Parent    string    `json:"parent,omitempty"`
	Message   string    `json:"message,omitempty"`
	At        time.Time `json:"at"`
}

// LogStats holds summary statistics for the timeline.
type LogStats struct {
	Total   int            `json:"total"`
	ByEvent map[string]int `json:"by_event"`
}

// LogReport holds the complete log output.
type LogReport struct {
	EntityID string    `json:"entity_id"`
	Timeline []LogLine `json:"timeline"`
	Stats    LogStats  `json:"stats"`
}

func (r LogReport) String() string {
	if len(r.Timeline) == 0 {
		return fmt.Sprintf("No audit entries for %s", r.EntityID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Audit log for %s\n\n", r.EntityID)
	for _, l := range r.Timeline {
		fmt.Fprintf(&b, "[%d] %s %s %s %s", l.Seq, l.At.UTC().Format(time.RFC3339), l.Event, l.Kind, l.Entity)
		if l.Message != "" {
			fmt.Fprintf(&b, " (%s)", l.Message)
		}
		if l.Parent != "" && l.Parent != l.Entity {
			fmt.Fprintf(&b, " <- %s", l.Parent)
		}
		b.WriteByte('\n')
	}

	events := make([]string, 0, len(r.Stats.ByEvent))
	for ev := range r.Stats.ByEvent {
		events = append(events, ev)
	}
	sort.Strings(events)
	parts := make([]string, len(events))
	for i, ev := range events {
		parts[i] = fmt.Sprintf("%s=%d", ev, r.Stats.ByEvent[ev])
	}
	fmt.Fprintf(&b, "\n%d entries: %s", r.Stats.Total, strings.Join(parts, " "))
	return b.String()
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "log <entity-id>",
		Short: "Show the audit trail of an entity",
		Long: `Show the audit entries about an entity and the entries it caused.

For a template this includes its own upserts and cascades, and every
instance it created, cascaded or archived. Entries are in log order.

Examples:
  cadence log rent
  cadence log rent --event status_cascaded
  cadence log rent --after 120 --limit 20 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Event, "event", "", "filter to one event type")
	cmd.Flags().Int64Var(&opts.After, "after", 0, "only entries with a sequence number above this")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of entries (0 = all)")

	return cmd
}

func runLog(opts *LogOptions, entityID string, cmd *cobra.Command) error {
	return opts.withSession(cmd, func(s *session, f *OutputFormatter) error {
		entries, err := s.store.ReadLog(commandContext(cmd), store.LogQuery{
			EntityID:  task.ID(entityID),
			EventType: opts.Event,
			AfterSeq:  opts.After,
			Limit:     opts.Limit,
		})
		if err != nil {
			return f.Fail(WrapExitError(ExitCommandError, ErrCodeStore, err))
		}
		return f.Success(buildLogReport(entityID, entries))
	})
}

// buildLogReport converts audit entries to the timeline.
func buildLogReport(entityID string, entries []task.LogEntry) LogReport {
	rep := LogReport{
		EntityID: entityID,
		Timeline: make([]LogLine, 0, len(entries)),
		Stats:    LogStats{ByEvent: map[string]int{}},
	}
	for _, e := range entries {
		rep.Timeline = append(rep.Timeline, LogLine{
			Seq:       e.Seq,
			Event:     e.EventType,
			Entity:    string(e.EntityID),
			Kind:      string(e.EntityType),
			OldStatus: string(e.OldStatus),
			NewStatus: string(e.NewStatus),
			Parent:    string(e.CausalParentID),
			Message:   e.Message,
			At:        e.CreatedAt,
		})
		rep.Stats.ByEvent[e.EventType]++
	}
	rep.Stats.Total = len(rep.Timeline)
	return rep
}
