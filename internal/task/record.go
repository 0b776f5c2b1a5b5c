package task

import (
	"fmt"
	"time"
)

// Record is the flat storage shape shared by all variants.
//
// NOTE: Record is a store-layer type. Business logic should work with the
// Entity variants returned by FromRecord.
type Record struct {
	ID          ID
	Kind        Kind
	ParentID    ID
	Name        string
	Status      Status
	DueDate     *time.Time
	Frequency   *FrequencyConfig
	IsCollected bool
	Attributes  map[string]string
	Links       []ID
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Record flattens a group.
func (g *Group) Record() Record {
	return baseRecord(KindGroup, g.Base)
}

// Record flattens a template.
func (t *Template) Record() Record {
	r := baseRecord(KindTemplate, t.Base)
	if t.DueDate != nil {
		d := t.DueDate.UTC()
		r.DueDate = &d
	}
	freq := t.Frequency
	r.Frequency = &freq
	return r
}

// Record flattens an instance.
func (i *Instance) Record() Record {
	r := baseRecord(KindInstance, i.Base)
	d := i.DueDate.UTC()
	r.DueDate = &d
	r.IsCollected = i.IsCollected
	return r
}

func baseRecord(kind Kind, b Base) Record {
	return Record{
		ID:         b.ID,
		Kind:       kind,
		ParentID:   b.ParentID,
		Name:       b.Name,
		Status:     b.Status,
		Attributes: b.Attributes,
		Links:      b.Links,
		CreatedAt:  b.CreatedAt,
		UpdatedAt:  b.UpdatedAt,
	}
}

// FromRecord rebuilds the typed variant for a row.
//
// Returns an error for rows that no variant can represent: an instance
// with a frequency or without a due date, a group with either.
func FromRecord(r Record) (Entity, error) {
	base := Base{
		ID:         r.ID,
		ParentID:   r.ParentID,
		Name:       r.Name,
		Status:     r.Status,
		Attributes: r.Attributes,
		Links:      r.Links,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}

	switch r.Kind {
	case KindGroup:
		if r.Frequency != nil && !r.Frequency.IsZero() {
			return nil, fmt.Errorf("record %s: group cannot carry a frequency config", r.ID)
		}
		if r.DueDate != nil {
			return nil, fmt.Errorf("record %s: group cannot carry a due date", r.ID)
		}
		return &Group{Base: base}, nil

	case KindTemplate:
		t := &Template{Base: base}
		if r.DueDate != nil {
			d := r.DueDate.UTC()
			t.DueDate = &d
		}
		if r.Frequency != nil {
			t.Frequency = *r.Frequency
		}
		return t, nil

	case KindInstance:
		if r.Frequency != nil && !r.Frequency.IsZero() {
			return nil, fmt.Errorf("record %s: instance cannot carry a frequency config", r.ID)
		}
		if r.DueDate == nil {
			return nil, fmt.Errorf("record %s: instance requires a due date", r.ID)
		}
		return &Instance{Base: base, DueDate: r.DueDate.UTC(), IsCollected: r.IsCollected}, nil

	default:
		return nil, fmt.Errorf("record %s: unknown kind %q", r.ID, r.Kind)
	}
}

// AsTemplate narrows an entity, returning false for other variants.
func AsTemplate(e Entity) (*Template, bool) {
	t, ok := e.(*Template)
	return t, ok
}

// AsGroup narrows an entity, returning false for other variants.
func AsGroup(e Entity) (*Group, bool) {
	g, ok := e.(*Group)
	return g, ok
}

// AsInstance narrows an entity, returning false for other variants.
func AsInstance(e Entity) (*Instance, bool) {
	i, ok := e.(*Instance)
	return i, ok
}
