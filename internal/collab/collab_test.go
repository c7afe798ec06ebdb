package collab

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/docuforge/docuforge/internal/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger("test", io.Discard)
}

func writeOutput(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("existing media payload, definitely big enough"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestRunItems_ResumeSkipsExistingOutputs(t *testing.T) {
	dir := t.TempDir()
	items := make([]WorkItem, 4)
	for i := range items {
		items[i] = WorkItem{Index: i, Output: filepath.Join(dir, fmt.Sprintf("out_%d.bin", i))}
	}
	writeOutput(t, items[0].Output)
	writeOutput(t, items[2].Output)

	sem := semaphore.NewWeighted(2)
	res, err := runItems(context.Background(), sem, items, true, 0.5, func(ctx context.Context, item WorkItem) error {
		writeOutput(t, item.Output)
		return nil
	})
	if err != nil {
		t.Fatalf("runItems: %v", err)
	}
	if res.Generated != 2 || res.Skipped != 2 || res.Failed != 0 {
		t.Errorf("got generated=%d skipped=%d failed=%d, want 2/2/0", res.Generated, res.Skipped, res.Failed)
	}
	// Skipped items cost nothing; they were paid for on the earlier run.
	if res.TotalCostUSD != 1.0 {
		t.Errorf("cost: got %v, want 1.0", res.TotalCostUSD)
	}
	if len(res.Files) != 4 {
		t.Errorf("files: got %d, want all 4 outputs (skipped included)", len(res.Files))
	}
}

func TestRunItems_ResumeMixedOutputsUnderLoad(t *testing.T) {
	// A resumed step with interleaved existing and missing outputs must
	// account for every item exactly once, with skip recording and the
	// concurrent generation fan-out never stepping on each other.
	dir := t.TempDir()
	const total = 200
	items := make([]WorkItem, total)
	for i := range items {
		items[i] = WorkItem{Index: i, Output: filepath.Join(dir, fmt.Sprintf("out_%d.bin", i))}
		if i%2 == 0 {
			writeOutput(t, items[i].Output)
		}
	}

	sem := semaphore.NewWeighted(8)
	res, err := runItems(context.Background(), sem, items, true, 0.01, func(ctx context.Context, item WorkItem) error {
		writeOutput(t, item.Output)
		return nil
	})
	if err != nil {
		t.Fatalf("runItems: %v", err)
	}
	if res.Generated != total/2 || res.Skipped != total/2 {
		t.Errorf("got generated=%d skipped=%d, want %d/%d", res.Generated, res.Skipped, total/2, total/2)
	}
	seen := make(map[string]bool, total)
	for _, f := range res.Files {
		if seen[f] {
			t.Errorf("file recorded twice: %s", f)
		}
		seen[f] = true
	}
	if len(seen) != total {
		t.Errorf("files: got %d distinct entries, want %d", len(seen), total)
	}
}

func TestRunItems_EmptyOutputIsNotASkip(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.bin")
	if err := os.WriteFile(out, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	ran := false
	sem := semaphore.NewWeighted(1)
	res, err := runItems(context.Background(), sem, []WorkItem{{Index: 0, Output: out}}, true, 0,
		func(ctx context.Context, item WorkItem) error {
			ran = true
			return nil
		})
	if err != nil {
		t.Fatalf("runItems: %v", err)
	}
	if !ran || res.Skipped != 0 {
		t.Error("a zero-byte output file must be regenerated, not skipped")
	}
}

func TestRunItems_FirstFailureIsFatal(t *testing.T) {
	dir := t.TempDir()
	items := make([]WorkItem, 3)
	for i := range items {
		items[i] = WorkItem{Index: i, Output: filepath.Join(dir, fmt.Sprintf("out_%d.bin", i))}
	}

	boom := errors.New("render farm offline")
	sem := semaphore.NewWeighted(1)
	_, err := runItems(context.Background(), sem, items, false, 0, func(ctx context.Context, item WorkItem) error {
		if item.Index == 1 {
			return boom
		}
		writeOutput(t, item.Output)
		return nil
	})
	if err == nil {
		t.Fatal("expected the item failure to surface")
	}
	if !errors.Is(err, boom) {
		t.Errorf("error should wrap the item failure: %v", err)
	}
	if !strings.Contains(err.Error(), "item 1") {
		t.Errorf("error should identify the failing item: %v", err)
	}
}

func TestRunItems_HonorsConcurrencyLimit(t *testing.T) {
	dir := t.TempDir()
	items := make([]WorkItem, 6)
	for i := range items {
		items[i] = WorkItem{Index: i, Output: filepath.Join(dir, fmt.Sprintf("out_%d.bin", i))}
	}

	var mu sync.Mutex
	inFlight, peak := 0, 0
	sem := semaphore.NewWeighted(2)
	_, err := runItems(context.Background(), sem, items, false, 0, func(ctx context.Context, item WorkItem) error {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("runItems: %v", err)
	}
	if peak > 2 {
		t.Errorf("observed %d concurrent items, semaphore allows 2", peak)
	}
}

func TestScriptErrorMessage(t *testing.T) {
	err := &ScriptError{Command: "ffmpeg", ExitCode: 1, Output: "unknown filter"}
	msg := err.Error()
	for _, want := range []string{"ffmpeg", "exit 1", "unknown filter"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}
