package cli

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cadence/internal/task"
)

func TestParseTree_Formats(t *testing.T) {
	yamlTree := `
templates:
  - id: bins
    name: Take out bins
    due: 2025-06-30
    frequency: { type: weekly, interval: 2 }
`
	jsonTree := `{"templates": [{"id": "bins", "name": "Take out bins", "due": "2025-06-30",
  "frequency": {"type": "weekly", "interval": 2}}]}`
	cueTree := `
templates: [{
	id:   "bins"
	name: "Take out bins"
	due:  "2025-06-30"
	frequency: {type: "weekly", interval: 2}
}]
`

	for name, data := range map[string]string{
		"tree.yaml": yamlTree,
		"tree.json": jsonTree,
		"tree.cue":  cueTree,
	} {
		t.Run(name, func(t *testing.T) {
			tree, err := ParseTree(name, []byte(data))
			require.NoError(t, err)
			require.Len(t, tree.Templates, 1)

			tmpl := tree.Templates[0]
			assert.Equal(t, "bins", tmpl.ID)
			assert.Equal(t, "2025-06-30", tmpl.Due)
			require.NotNil(t, tmpl.Frequency)
			assert.Equal(t, "weekly", tmpl.Frequency.Type)
			assert.Equal(t, 2, tmpl.Frequency.Interval)
		})
	}
}

func TestParseTree_Invalid(t *testing.T) {
	tests := []struct {
		name string
		file string
		data string
	}{
		{"unknown_field", "t.yaml", "templates:\n  - { id: a, name: A, colour: red }\n"},
		{"empty_id", "t.yaml", "groups:\n  - { id: \"\", name: A }\n"},
		{"missing_name", "t.json", `{"groups": [{"id": "a"}]}`},
		{"zero_interval", "t.yaml", "templates:\n  - { id: a, name: A, frequency: { type: daily, interval: 0 } }\n"},
		{"bad_repeat_mode", "t.yaml", "templates:\n  - { id: a, name: A, frequency: { type: daily, repeatMode: sometimes } }\n"},
		{"malformed_yaml", "t.yaml", "templates: [\n"},
		{"malformed_cue", "t.cue", "templates: [{\n"},
		{"unsupported_ext", "t.toml", "templates = []"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTree(tt.file, []byte(tt.data))
			require.Error(t, err)
			var loadErr *LoadError
			require.True(t, errors.As(err, &loadErr), "want *LoadError, got %T", err)
			assert.Equal(t, tt.file, loadErr.Path)
			assert.Contains(t, err.Error(), ErrCodeLoadFailed)
		})
	}
}

func TestParseTree_Empty(t *testing.T) {
	tree, err := ParseTree("empty.yaml", nil)
	require.NoError(t, err)
	entities, err := tree.Entities()
	require.NoError(t, err)
	assert.Empty(t, entities)
}

func TestLoadTree_MissingFile(t *testing.T) {
	_, err := LoadTree(filepath.Join(t.TempDir(), "nope.yaml"))
	var loadErr *LoadError
	require.True(t, errors.As(err, &loadErr))
}

func TestTreeEntities_ParentsFirst(t *testing.T) {
	path := filepath.Join(t.TempDir(), "home.yaml")
	require.NoError(t, os.WriteFile(path, []byte(homeTree), 0o644))

	tree, err := LoadTree(path)
	require.NoError(t, err)
	entities, err := tree.Entities()
	require.NoError(t, err)

	ids := make([]task.ID, len(entities))
	parents := make(map[task.ID]task.ID, len(entities))
	for i, ent := range entities {
		ids[i] = ent.Common().ID
		parents[ent.Common().ID] = ent.Common().ParentID
	}
	assert.Equal(t, []task.ID{"home", "garden", "mow", "rent", "someday"}, ids)
	assert.Equal(t, task.ID("garden"), parents["mow"])
	assert.Equal(t, task.ID("home"), parents["rent"])
	assert.Equal(t, task.ID(""), parents["someday"])

	rent, ok := task.AsTemplate(entities[3])
	require.True(t, ok)
	assert.Equal(t, task.StatusInProgress, rent.Status)
	require.NotNil(t, rent.DueDate)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), rent.DueDate.UTC())
	assert.Equal(t, task.FrequencyMonthly, rent.Frequency.Type)
}

func TestTreeEntities_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"duplicate", "groups:\n  - { id: a, name: A, templates: [{ id: a, name: B }] }\n", `duplicate id "a"`},
		{"bad_status", "templates:\n  - { id: a, name: A, status: finished }\n", `unknown status`},
		{"bad_due", "templates:\n  - { id: a, name: A, due: soon }\n", "a: due:"},
		{"bad_custom_day", "templates:\n  - { id: a, name: A, frequency: { type: custom, customDays: [tomorrow] } }\n", "a: customDays:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree, err := ParseTree("t.yaml", []byte(tt.data))
			require.NoError(t, err)
			_, err = tree.Entities()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
