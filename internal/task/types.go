package task

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// ID is the opaque identifier of a task entity.
type ID string

// Kind discriminates the three entity variants.
type Kind string

const (
	KindGroup    Kind = "group"
	KindTemplate Kind = "template"
	KindInstance Kind = "instance"
)

// ParseKind validates a stored kind string.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.TrimSpace(strings.ToLower(s))); k {
	case KindGroup, KindTemplate, KindInstance:
		return k, nil
	default:
		return "", fmt.Errorf("unknown kind %q", s)
	}
}

// Status drives cascade and archival behavior.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusCollected  Status = "collected"
	StatusFailed     Status = "failed"
	StatusOnHold     Status = "on_hold"
)

// Statuses lists every valid status in display order.
var Statuses = []Status{
	StatusNotStarted,
	StatusInProgress,
	StatusDone,
	StatusCollected,
	StatusFailed,
	StatusOnHold,
}

// ParseStatus accepts the canonical snake_case form as well as the
// CamelCase spelling the UI uses ("InProgress").
func ParseStatus(s string) (Status, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return "", fmt.Errorf("status required")
	}
	var b strings.Builder
	for i, r := range raw {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && isLowerOrDigit(raw[i-1]) {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		if r == '-' || r == ' ' {
			b.WriteByte('_')
			continue
		}
		b.WriteRune(r)
	}
	st := Status(b.String())
	for _, known := range Statuses {
		if st == known {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

func isLowerOrDigit(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}

// IsFinished reports whether an instance in this status may be archived.
func (s Status) IsFinished() bool {
	return s == StatusDone || s == StatusCollected
}

// Base holds the fields common to every variant.
type Base struct {
	ID         ID                `json:"id"`
	ParentID   ID                `json:"parentId,omitempty"`
	Name       string            `json:"name"`
	Status     Status            `json:"status"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Links      []ID              `json:"links,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// Entity is implemented by Group, Template and Instance only.
type Entity interface {
	Kind() Kind
	Common() *Base
	Record() Record
	isEntity()
}

// Group organizes templates and nested groups. It has no schedule.
type Group struct {
	Base
}

// Template is a recurring task definition. DueDate is the safety limit for
// instance generation, not a deadline.
type Template struct {
	Base
	DueDate   *time.Time      `json:"dueDate,omitempty"`
	Frequency FrequencyConfig `json:"frequencyConfig"`
}

// Instance is one dated occurrence materialized from a Template.
type Instance struct {
	Base
	DueDate     time.Time `json:"dueDate"`
	IsCollected bool      `json:"isCollected"`
}

func (*Group) isEntity()    {}
func (*Template) isEntity() {}
func (*Instance) isEntity() {}

func (*Group) Kind() Kind    { return KindGroup }
func (*Template) Kind() Kind { return KindTemplate }
func (*Instance) Kind() Kind { return KindInstance }

func (g *Group) Common() *Base    { return &g.Base }
func (t *Template) Common() *Base { return &t.Base }
func (i *Instance) Common() *Base { return &i.Base }

// DayKey returns the instance's identity within its template.
func (i *Instance) DayKey() string {
	return DayKey(i.DueDate)
}

// Touch stamps UpdatedAt.
func (b *Base) Touch(now time.Time) {
	b.UpdatedAt = now.UTC()
}

// CloneAttributes returns a copy safe to hand to a new entity.
func (b *Base) CloneAttributes() map[string]string {
	if len(b.Attributes) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(b.Attributes))
	for k, v := range b.Attributes {
		out[k] = v
	}
	return out
}

// NormalizeName trims and NFC-normalizes a display name so that visually
// identical names compare equal after a round-trip through the UI.
func NormalizeName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// DayKeyLayout is the layout of DayKey values.
const DayKeyLayout = "2006-01-02"

// DayKey truncates t to its calendar day in UTC.
func DayKey(t time.Time) string {
	return t.UTC().Format(DayKeyLayout)
}

// StartOfDay returns midnight UTC of t's calendar day.
func StartOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
