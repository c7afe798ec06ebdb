package collab

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/semaphore"

	"github.com/docuforge/docuforge/internal/observability"
	"github.com/docuforge/docuforge/internal/task"
)

// CompositeBuilder turns raw assets into framed scene composites with ffmpeg:
// normalized resolution, letterboxing, and a slow Ken Burns push-in that the
// video animator builds on. Purely local work, no API cost.
type CompositeBuilder struct {
	runner *Runner
	ffmpeg string
	sem    *semaphore.Weighted
	logger *observability.Logger
}

// NewCompositeBuilder creates a composite builder. ffmpegPath defaults to
// "ffmpeg" on PATH.
func NewCompositeBuilder(ffmpegPath string, concurrency int64, logger *observability.Logger) *CompositeBuilder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if concurrency <= 0 {
		concurrency = 2
	}
	return &CompositeBuilder{
		runner: NewRunner(),
		ffmpeg: ffmpegPath,
		sem:    semaphore.NewWeighted(concurrency),
		logger: logger,
	}
}

// CreateManifest maps the 22 generated assets onto 18 scene composites.
// Scenes cycle through the asset pool so every composite has a source even
// though the counts differ.
func (b *CompositeBuilder) CreateManifest(taskID, dir string) (Manifest, error) {
	assetDir := filepath.Join(dir, "assets")
	compositeDir := filepath.Join(dir, "composites")
	if err := os.MkdirAll(compositeDir, 0o755); err != nil {
		return Manifest{}, fmt.Errorf("create composite dir: %w", err)
	}

	items := make([]WorkItem, CompositeCount)
	for i := range items {
		items[i] = WorkItem{
			Index:  i,
			Inputs: []string{filepath.Join(assetDir, fmt.Sprintf("asset_%03d.png", i%AssetCount))},
			Output: filepath.Join(compositeDir, fmt.Sprintf("composite_%03d.png", i)),
		}
	}
	return Manifest{Step: task.StepCompositeCreation, TaskID: taskID, Dir: compositeDir, Items: items}, nil
}

// Execute builds each composite with ffmpeg.
func (b *CompositeBuilder) Execute(ctx context.Context, m Manifest, resume bool) (*ExecResult, error) {
	return runItems(ctx, b.sem, m.Items, resume, 0, func(ctx context.Context, item WorkItem) error {
		if len(item.Inputs) == 0 {
			return fmt.Errorf("%w: composite %d has no source asset", ErrInvalidParameters, item.Index)
		}
		if _, err := os.Stat(item.Inputs[0]); err != nil {
			return fmt.Errorf("source asset: %w", err)
		}
		b.logger.Debug("building composite", "task_id", m.TaskID, "index", item.Index)
		return b.runner.Run(ctx, b.ffmpeg, "-y",
			"-i", item.Inputs[0],
			"-vf", "scale=1920:1080:force_original_aspect_ratio=decrease,pad=1920:1080:(ow-iw)/2:(oh-ih)/2,setsar=1",
			"-frames:v", "1",
			item.Output,
		)
	})
}
