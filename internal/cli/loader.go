package cli

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/cadence/internal/task"
)

//go:embed tree.cue
var treeSchema []byte

// Tree is an importable task tree: nested groups with their templates, plus
// templates that belong to no group.
type Tree struct {
	Groups    []TreeGroup    `json:"groups,omitempty"`
	Templates []TreeTemplate `json:"templates,omitempty"`
}

// TreeGroup is one group and everything nested under it.
type TreeGroup struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Status     string            `json:"status,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Groups     []TreeGroup       `json:"groups,omitempty"`
	Templates  []TreeTemplate    `json:"templates,omitempty"`
}

// TreeTemplate is one recurring template.
type TreeTemplate struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Status     string            `json:"status,omitempty"`
	Due        string            `json:"due,omitempty"`
	Frequency  *TreeFrequency    `json:"frequency,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// TreeFrequency mirrors the frequency descriptor JSON shape.
type TreeFrequency struct {
	Type       string   `json:"type"`
	Interval   int      `json:"interval,omitempty"`
	CustomDays []string `json:"customDays,omitempty"`
	RepeatMode string   `json:"repeatMode,omitempty"`
}

// LoadError reports a tree file that could not be loaded.
type LoadError struct {
	Path    string
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Path, ErrCodeLoadFailed, e.Message)
}

// LoadTree reads a tree from a .yaml, .yml, .json or .cue file and checks
// it against the embedded #Tree schema.
func LoadTree(path string) (*Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Message: err.Error()}
	}
	return ParseTree(path, data)
}

// ParseTree decodes data according to the extension of name.
func ParseTree(name string, data []byte) (*Tree, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileBytes(treeSchema, cue.Filename("tree.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("tree schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Tree"))

	var src cue.Value
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".yaml", ".yml":
		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, &LoadError{Path: name, Message: err.Error()}
		}
		if raw == nil {
			raw = map[string]any{}
		}
		src = ctx.Encode(raw)
	case ".json", ".cue":
		src = ctx.CompileBytes(data, cue.Filename(name))
	default:
		return nil, &LoadError{Path: name, Message: fmt.Sprintf("unsupported format %q", ext)}
	}
	if err := src.Err(); err != nil {
		return nil, &LoadError{Path: name, Message: err.Error()}
	}

	merged := def.Unify(src)
	if err := merged.Validate(cue.Concrete(true)); err != nil {
		return nil, &LoadError{Path: name, Message: err.Error()}
	}

	var tree Tree
	if err := merged.Decode(&tree); err != nil {
		return nil, &LoadError{Path: name, Message: fmt.Sprintf("decode: %v", err)}
	}
	return &tree, nil
}

// Entities flattens the tree into entities ordered parents first, ready to
// be saved one by one. It rejects duplicate ids and unparseable statuses
// and dates.
func (t *Tree) Entities() ([]task.Entity, error) {
	b := &treeBuilder{seen: make(map[string]bool)}
	for i := range t.Groups {
		if err := b.group(&t.Groups[i], ""); err != nil {
			return nil, err
		}
	}
	for i := range t.Templates {
		if err := b.template(&t.Templates[i], ""); err != nil {
			return nil, err
		}
	}
	return b.out, nil
}

type treeBuilder struct {
	seen map[string]bool
	out  []task.Entity
}

func (b *treeBuilder) base(id, parent, name, status string, attrs map[string]string) (task.Base, error) {
	if b.seen[id] {
		return task.Base{}, fmt.Errorf("duplicate id %q", id)
	}
	b.seen[id] = true

	base := task.Base{
		ID:         task.ID(id),
		ParentID:   task.ID(parent),
		Name:       name,
		Attributes: attrs,
	}
	if status != "" {
		st, err := task.ParseStatus(status)
		if err != nil {
			return base, fmt.Errorf("%s: %w", id, err)
		}
		base.Status = st
	}
	return base, nil
}

func (b *treeBuilder) group(g *TreeGroup, parent string) error {
	base, err := b.base(g.ID, parent, g.Name, g.Status, g.Attributes)
	if err != nil {
		return err
	}
	b.out = append(b.out, &task.Group{Base: base})

	for i := range g.Groups {
		if err := b.group(&g.Groups[i], g.ID); err != nil {
			return err
		}
	}
	for i := range g.Templates {
		if err := b.template(&g.Templates[i], g.ID); err != nil {
			return err
		}
	}
	return nil
}

func (b *treeBuilder) template(t *TreeTemplate, parent string) error {
	base, err := b.base(t.ID, parent, t.Name, t.Status, t.Attributes)
	if err != nil {
		return err
	}
	tmpl := &task.Template{Base: base}

	if t.Due != "" {
		due, err := task.ParseDate(t.Due)
		if err != nil {
			return fmt.Errorf("%s: due: %w", t.ID, err)
		}
		tmpl.DueDate = &due
	}

	if t.Frequency != nil {
		freq := task.FrequencyConfig{
			Type:       task.FrequencyType(t.Frequency.Type),
			Interval:   t.Frequency.Interval,
			RepeatMode: task.RepeatMode(t.Frequency.RepeatMode),
		}
		days, err := parseDays(t.Frequency.CustomDays)
		if err != nil {
			return fmt.Errorf("%s: customDays: %w", t.ID, err)
		}
		freq.CustomDays = days
		tmpl.Frequency = freq
	}

	b.out = append(b.out, tmpl)
	return nil
}

func parseDays(values []string) ([]time.Time, error) {
	var days []time.Time
	for _, s := range values {
		d, err := task.ParseDate(s)
		if err != nil {
			return nil, err
		}
		days = append(days, d)
	}
	return days, nil
}
