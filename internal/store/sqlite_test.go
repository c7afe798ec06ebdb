package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/docuforge/docuforge/internal/task"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestTask(t *testing.T, s *SQLiteStore) *task.Task {
	t.Helper()
	tk := &task.Task{
		ID:               uuid.NewString(),
		Channel:          "deep-history",
		Topic:            "The fall of Carthage",
		StoryDirection:   "rise and collapse, told through its harbor",
		NarrationScripts: []string{"scene one", "scene two"},
		SFXDescriptions:  []string{"waves", "crowd"},
		VoiceID:          "en-US-Guy",
	}
	if err := s.CreateTask(context.Background(), tk); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return tk
}

func TestCreateAndGetTask(t *testing.T) {
	s := newTestStore(t)
	tk := newTestTask(t, s)

	got, err := s.GetTask(context.Background(), tk.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got == nil {
		t.Fatal("task not found")
	}
	if got.Status != task.StatusQueued {
		t.Errorf("status: got %q, want queued", got.Status)
	}
	if got.Topic != tk.Topic || got.VoiceID != tk.VoiceID {
		t.Errorf("context fields not round-tripped: %+v", got)
	}
	if len(got.NarrationScripts) != 2 || got.NarrationScripts[1] != "scene two" {
		t.Errorf("narration scripts: %v", got.NarrationScripts)
	}
}

func TestGetTask_Missing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetTask(context.Background(), "no-such-task")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing task, got %+v", got)
	}
}

func TestClaimNext(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tk := newTestTask(t, s)

	claimed, err := s.ClaimNext(ctx, "worker-1")
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if claimed == nil || claimed.ID != tk.ID {
		t.Fatalf("expected to claim %q, got %+v", tk.ID, claimed)
	}
	if claimed.ClaimedBy != "worker-1" {
		t.Errorf("claimed_by: got %q", claimed.ClaimedBy)
	}

	// Same task is not visible to a second claimer.
	again, err := s.ClaimNext(ctx, "worker-2")
	if err != nil {
		t.Fatalf("ClaimNext (second): %v", err)
	}
	if again != nil {
		t.Errorf("second claim should find nothing, got %q", again.ID)
	}
}

func TestClaimNext_SkipsUnclaimableStatuses(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tk := newTestTask(t, s)

	if err := s.MarkStepError(ctx, tk.ID, task.StatusAssetsError, "boom"); err != nil {
		t.Fatalf("MarkStepError: %v", err)
	}

	claimed, err := s.ClaimNext(ctx, "worker-1")
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if claimed != nil {
		t.Errorf("error-state task should not be claimable, got %q", claimed.ID)
	}
}

func TestReleaseClaim(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	newTestTask(t, s)

	first, _ := s.ClaimNext(ctx, "worker-1")
	if first == nil {
		t.Fatal("claim failed")
	}
	if err := s.ReleaseClaim(ctx, first.ID); err != nil {
		t.Fatalf("ReleaseClaim: %v", err)
	}
	second, _ := s.ClaimNext(ctx, "worker-2")
	if second == nil || second.ID != first.ID {
		t.Errorf("released task should be claimable again")
	}
}

func TestReleaseStaleClaims(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	newTestTask(t, s)

	if _, err := s.ClaimNext(ctx, "worker-1"); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	// Nothing stale yet.
	n, err := s.ReleaseStaleClaims(ctx, time.Hour)
	if err != nil {
		t.Fatalf("ReleaseStaleClaims: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 released, got %d", n)
	}

	// Everything is stale with a negative-age cutoff.
	n, err = s.ReleaseStaleClaims(ctx, -time.Minute)
	if err != nil {
		t.Fatalf("ReleaseStaleClaims: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 released, got %d", n)
	}
}

func TestMarkStepError_AppendsLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tk := newTestTask(t, s)

	if err := s.MarkStepError(ctx, tk.ID, task.StatusVideoError, "animation timeout"); err != nil {
		t.Fatalf("MarkStepError: %v", err)
	}
	if err := s.MarkStepError(ctx, tk.ID, task.StatusVideoError, "animation timeout again"); err != nil {
		t.Fatalf("MarkStepError (second): %v", err)
	}

	got, _ := s.GetTask(ctx, tk.ID)
	if got.Status != task.StatusVideoError {
		t.Errorf("status: got %q", got.Status)
	}
	if len(got.ErrorLog) != 2 {
		t.Fatalf("error log entries: got %d, want 2", len(got.ErrorLog))
	}
	if got.ErrorLog[0].Message != "animation timeout" {
		t.Errorf("first entry rewritten: %+v", got.ErrorLog[0])
	}
}

func TestSaveStepCompletion_UpsertByStringKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tk := newTestTask(t, s)

	sc := task.StepCompletion{Step: task.StepAssetGeneration, Completed: false, Generated: 10, CostUSD: 0.5}
	if err := s.SaveStepCompletion(ctx, tk.ID, task.StepAssetGeneration, sc); err != nil {
		t.Fatalf("SaveStepCompletion: %v", err)
	}

	// Overwrite the same step's record.
	sc.Completed = true
	sc.Generated = 22
	if err := s.SaveStepCompletion(ctx, tk.ID, task.StepAssetGeneration, sc); err != nil {
		t.Fatalf("SaveStepCompletion (overwrite): %v", err)
	}

	raw, err := s.RawStepCompletions(ctx, tk.ID)
	if err != nil {
		t.Fatalf("RawStepCompletions: %v", err)
	}
	if len(raw) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(raw))
	}
	var got task.StepCompletion
	if err := json.Unmarshal(raw["asset_generation"], &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Completed || got.Generated != 22 {
		t.Errorf("overwrite not applied: %+v", got)
	}
}

func TestMarkReady_GateSetsReviewStartedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tk := newTestTask(t, s)

	at := time.Now().UTC().Truncate(time.Second)
	if err := s.MarkReady(ctx, tk.ID, task.StatusAssetsReady, at); err != nil {
		t.Fatalf("MarkReady: %v", err)
	}

	got, _ := s.GetTask(ctx, tk.ID)
	if got.Status != task.StatusAssetsReady {
		t.Errorf("status: got %q", got.Status)
	}
	if !got.ReviewStartedAt.Equal(at) {
		t.Errorf("review_started_at: got %v, want %v", got.ReviewStartedAt, at)
	}

	// Non-gate ready write leaves review_started_at untouched.
	if err := s.MarkReady(ctx, tk.ID, task.StatusCompositesReady, time.Time{}); err != nil {
		t.Fatalf("MarkReady (non-gate): %v", err)
	}
	got, _ = s.GetTask(ctx, tk.ID)
	if !got.ReviewStartedAt.Equal(at) {
		t.Errorf("non-gate write changed review_started_at: %v", got.ReviewStartedAt)
	}
}

func TestCompletePipeline(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tk := newTestTask(t, s)

	start := time.Now().UTC().Truncate(time.Second)
	if err := s.SetPipelineStart(ctx, tk.ID, start); err != nil {
		t.Fatalf("SetPipelineStart: %v", err)
	}
	end := start.Add(42 * time.Minute)
	if err := s.CompletePipeline(ctx, tk.ID, task.StatusFinalReview, end, 2520, 13.37, end); err != nil {
		t.Fatalf("CompletePipeline: %v", err)
	}

	got, _ := s.GetTask(ctx, tk.ID)
	if got.Status != task.StatusFinalReview {
		t.Errorf("status: got %q", got.Status)
	}
	if got.PipelineDurationSeconds != 2520 {
		t.Errorf("duration: got %v", got.PipelineDurationSeconds)
	}
	if got.PipelineCostUSD != 13.37 {
		t.Errorf("cost: got %v", got.PipelineCostUSD)
	}
	if !got.PipelineStartTime.Equal(start) || !got.PipelineEndTime.Equal(end) {
		t.Errorf("timestamps: start %v end %v", got.PipelineStartTime, got.PipelineEndTime)
	}
}

func TestApproveGate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tk := newTestTask(t, s)

	if err := s.MarkReady(ctx, tk.ID, task.StatusAssetsReady, time.Now()); err != nil {
		t.Fatalf("MarkReady: %v", err)
	}
	if err := s.ApproveGate(ctx, tk.ID, task.StatusAssetsApproved); err != nil {
		t.Fatalf("ApproveGate: %v", err)
	}
	got, _ := s.GetTask(ctx, tk.ID)
	if got.Status != task.StatusAssetsApproved {
		t.Errorf("status: got %q", got.Status)
	}

	// Approving a gate the task is not at fails.
	if err := s.ApproveGate(ctx, tk.ID, task.StatusVideoApproved); err == nil {
		t.Error("expected error approving wrong gate")
	}
	// Non-approval target statuses are rejected.
	if err := s.ApproveGate(ctx, tk.ID, task.StatusQueued); err == nil {
		t.Error("expected error for non-approval status")
	}
}

func TestResetError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tk := newTestTask(t, s)

	if err := s.ResetError(ctx, tk.ID); err == nil {
		t.Error("reset on non-error task should fail")
	}

	if err := s.MarkStepError(ctx, tk.ID, task.StatusAudioError, "tts rate limit"); err != nil {
		t.Fatalf("MarkStepError: %v", err)
	}
	if err := s.ResetError(ctx, tk.ID); err != nil {
		t.Fatalf("ResetError: %v", err)
	}

	got, _ := s.GetTask(ctx, tk.ID)
	if got.Status != task.StatusQueued {
		t.Errorf("status after reset: got %q", got.Status)
	}
	if len(got.ErrorLog) != 1 {
		t.Errorf("error log should survive reset, got %d entries", len(got.ErrorLog))
	}
}
