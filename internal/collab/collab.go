// Package collab implements the generation collaborators the pipeline
// orchestrator drives: asset generation, composite creation, video
// animation, narration synthesis, SFX synthesis, and final video assembly.
//
// Every collaborator follows the same contract: a pure CreateManifest that
// shapes task context into a fixed-cardinality list of work items (no I/O
// beyond directory creation), and an Execute that performs the external-API
// or local-FFmpeg work. With resume enabled, Execute skips any item whose
// output already exists on disk, which is what makes re-running a partially
// completed step safe.
package collab

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/docuforge/docuforge/internal/task"
)

// Fixed work-item cardinalities per pipeline.
const (
	AssetCount     = 22
	CompositeCount = 18
	ClipCount      = 18
)

// ErrInvalidParameters marks a manifest or execution input that can never
// succeed without operator intervention.
var ErrInvalidParameters = errors.New("invalid parameters")

// WorkItem is one unit of generation work inside a manifest.
type WorkItem struct {
	Index  int      `json:"index"`
	Prompt string   `json:"prompt,omitempty"`
	Inputs []string `json:"inputs,omitempty"`
	Output string   `json:"output"`
}

// Manifest is the full work list for one step of one task.
type Manifest struct {
	Step   task.Step  `json:"step"`
	TaskID string     `json:"task_id"`
	Dir    string     `json:"dir"`
	Items  []WorkItem `json:"items"`
}

// ExecResult summarizes an Execute call.
type ExecResult struct {
	Generated    int      `json:"generated"`
	Skipped      int      `json:"skipped"`
	Failed       int      `json:"failed"`
	TotalCostUSD float64  `json:"total_cost_usd"`
	Files        []string `json:"files,omitempty"`
}

// Executor is the uniform step-execution contract consumed by the
// orchestrator's step registry.
type Executor interface {
	Execute(ctx context.Context, m Manifest, resume bool) (*ExecResult, error)
}

// ScriptError is raised when an invoked command or script fails. It carries
// the exit code and truncated diagnostic output; exit code 124 is the
// conventional timeout exit and is classified as transient upstream.
type ScriptError struct {
	Command  string
	ExitCode int
	Output   string
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("script failed: %s (exit %d): %s", e.Command, e.ExitCode, e.Output)
}

// runItems executes manifest items with bounded concurrency. Any item
// failure is fatal to the step: remaining items are cancelled and the first
// error is returned. Items whose output already exists are skipped when
// resume is set.
func runItems(ctx context.Context, sem *semaphore.Weighted, items []WorkItem, resume bool, costPerItem float64, run func(context.Context, WorkItem) error) (*ExecResult, error) {
	res := &ExecResult{}
	var mu sync.Mutex

	// Skips are recorded before any goroutine starts; once the fan-out is
	// running, res is only touched under mu.
	pending := items
	if resume {
		pending = make([]WorkItem, 0, len(items))
		for _, item := range items {
			if outputExists(item.Output) {
				res.Skipped++
				res.Files = append(res.Files, item.Output)
				continue
			}
			pending = append(pending, item)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, item := range pending {
		item := item
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			if err := run(ctx, item); err != nil {
				mu.Lock()
				res.Failed++
				mu.Unlock()
				return fmt.Errorf("item %d: %w", item.Index, err)
			}
			mu.Lock()
			res.Generated++
			res.TotalCostUSD += costPerItem
			res.Files = append(res.Files, item.Output)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	return res, nil
}

func outputExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}
