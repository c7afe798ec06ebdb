package pipeline

import (
	"strings"
	"testing"

	"github.com/docuforge/docuforge/internal/collab"
	"github.com/docuforge/docuforge/internal/task"
)

func validEntries(t *testing.T) []StepEntry {
	t.Helper()
	entries := make([]StepEntry, 0, 6)
	for _, s := range task.Steps() {
		triple, err := task.StatusesFor(s)
		if err != nil {
			t.Fatalf("StatusesFor(%q): %v", s, err)
		}
		entries = append(entries, StepEntry{
			Step:     s,
			Statuses: triple,
			Gate:     task.IsReviewGate(triple.Ready),
			Build: func(tk *task.Task) (collab.Manifest, error) {
				return collab.Manifest{Step: s}, nil
			},
			Exec: &fakeExec{},
		})
	}
	return entries
}

func TestNewRegistry_Valid(t *testing.T) {
	reg, err := NewRegistry(validEntries(t))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if got := len(reg.Entries()); got != 6 {
		t.Errorf("entries: got %d, want 6", got)
	}
}

func TestNewRegistry_RejectsMissingStep(t *testing.T) {
	entries := validEntries(t)[:5]
	if _, err := NewRegistry(entries); err == nil {
		t.Error("expected error for 5 entries against 6 steps")
	}
}

func TestNewRegistry_RejectsWrongOrder(t *testing.T) {
	entries := validEntries(t)
	entries[0], entries[1] = entries[1], entries[0]
	if _, err := NewRegistry(entries); err == nil {
		t.Error("expected error for out-of-order entries")
	}
}

func TestNewRegistry_RejectsGateMismatch(t *testing.T) {
	entries := validEntries(t)
	// composite_creation auto-proceeds; flagging it as a gate must fail.
	entries[1].Gate = true
	_, err := NewRegistry(entries)
	if err == nil {
		t.Fatal("expected error for gate flag mismatch")
	}
	if !strings.Contains(err.Error(), "gate") {
		t.Errorf("error should mention the gate flag: %v", err)
	}
}

func TestNewRegistry_RejectsNilExecutor(t *testing.T) {
	entries := validEntries(t)
	entries[3].Exec = nil
	if _, err := NewRegistry(entries); err == nil {
		t.Error("expected error for nil executor")
	}
}

func TestNewRegistry_RejectsWrongStatuses(t *testing.T) {
	entries := validEntries(t)
	entries[2].Statuses.Error = task.StatusAssetsError
	if _, err := NewRegistry(entries); err == nil {
		t.Error("expected error for a status triple that disagrees with the step table")
	}
}
