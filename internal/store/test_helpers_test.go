package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/cadence/internal/task"
)

// testNow is the fixed instant stamped on claims and deletes in tests.
var testNow = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

// createTestStore creates a new store under t.TempDir with a fixed clock.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithNow(func() time.Time { return testNow }))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func testGroup(id, parent string) *task.Group {
	return &task.Group{Base: task.Base{
		ID:        task.ID(id),
		ParentID:  task.ID(parent),
		Name:      "group " + id,
		Status:    task.StatusNotStarted,
		CreatedAt: testNow,
		UpdatedAt: testNow,
	}}
}

func testTemplate(id, parent string, due time.Time) *task.Template {
	return &task.Template{
		Base: task.Base{
			ID:         task.ID(id),
			ParentID:   task.ID(parent),
			Name:       "template " + id,
			Status:     task.StatusNotStarted,
			Attributes: map[string]string{"area": "kitchen"},
			CreatedAt:  testNow,
			UpdatedAt:  testNow,
		},
		DueDate:   &due,
		Frequency: task.FrequencyConfig{Type: task.FrequencyMonthly, Interval: 1},
	}
}

func testInstance(id, parent string, due time.Time, status task.Status) *task.Instance {
	return &task.Instance{
		Base: task.Base{
			ID:        task.ID(id),
			ParentID:  task.ID(parent),
			Name:      "instance " + id,
			Status:    status,
			CreatedAt: testNow,
			UpdatedAt: testNow,
		},
		DueDate: due,
	}
}
