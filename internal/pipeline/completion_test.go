package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/docuforge/docuforge/internal/observability"
	"github.com/docuforge/docuforge/internal/task"
)

func newCompletionHarness(t *testing.T) (*fakeStore, *CompletionStore) {
	t.Helper()
	store := newFakeStore()
	store.put(&task.Task{ID: "task-1", Status: task.StatusQueued})
	cs := NewCompletionStore(store, observability.NewLogger("test", io.Discard))
	return store, cs
}

func TestCompletionLoad_EmptyMap(t *testing.T) {
	_, cs := newCompletionHarness(t)
	got := cs.Load(context.Background(), "task-1")
	if len(got) != 0 {
		t.Errorf("fresh task: got %d records, want 0", len(got))
	}
}

func TestCompletionLoad_DropsUnknownStepKeys(t *testing.T) {
	store, cs := newCompletionHarness(t)
	store.mu.Lock()
	store.completions["task-1"]["color_grading"] = json.RawMessage(`{"completed":true}`)
	store.mu.Unlock()

	got := cs.Load(context.Background(), "task-1")
	if len(got) != 0 {
		t.Errorf("unknown step key should be dropped, got %v", got)
	}
}

func TestCompletionLoad_DropsMalformedEntries(t *testing.T) {
	store, cs := newCompletionHarness(t)
	err := store.SaveStepCompletion(context.Background(), "task-1",
		task.StepAssetGeneration, task.StepCompletion{Step: task.StepAssetGeneration, Completed: true})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	store.mu.Lock()
	store.completions["task-1"][string(task.StepVideoGeneration)] = json.RawMessage(`{not json`)
	store.mu.Unlock()

	got := cs.Load(context.Background(), "task-1")
	if len(got) != 1 {
		t.Fatalf("got %d records, want only the well-formed one", len(got))
	}
	if sc := got[task.StepAssetGeneration]; !sc.Completed {
		t.Errorf("well-formed record lost: %+v", sc)
	}
}

func TestCompletionSave_UpsertsByStep(t *testing.T) {
	_, cs := newCompletionHarness(t)
	ctx := context.Background()

	first := task.StepCompletion{Step: task.StepNarrationGeneration, Completed: false, ErrorMessage: "tts down"}
	if err := cs.Save(ctx, "task-1", task.StepNarrationGeneration, first); err != nil {
		t.Fatalf("save: %v", err)
	}
	second := task.StepCompletion{Step: task.StepNarrationGeneration, Completed: true, Generated: 18}
	if err := cs.Save(ctx, "task-1", task.StepNarrationGeneration, second); err != nil {
		t.Fatalf("save: %v", err)
	}

	got := cs.Load(ctx, "task-1")
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1 (overwrite, not append)", len(got))
	}
	sc := got[task.StepNarrationGeneration]
	if !sc.Completed || sc.Generated != 18 || sc.ErrorMessage != "" {
		t.Errorf("second save should fully replace the first: %+v", sc)
	}
}
