package collab

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/docuforge/docuforge/internal/observability"
	"github.com/docuforge/docuforge/internal/task"
)

// VideoAnimator animates scene composites into short clips through an
// image-to-video HTTP API. A single clip can take up to ten minutes to
// render, so the client timeout is generous and the concurrency cap small.
type VideoAnimator struct {
	endpoint    string
	client      *http.Client
	sem         *semaphore.Weighted
	costPerClip float64
	logger      *observability.Logger
}

// NewVideoAnimator creates a video animator.
func NewVideoAnimator(endpoint string, concurrency int64, costPerClip float64, logger *observability.Logger) *VideoAnimator {
	if concurrency <= 0 {
		concurrency = 2
	}
	return &VideoAnimator{
		endpoint:    endpoint,
		client:      &http.Client{Timeout: 12 * time.Minute},
		sem:         semaphore.NewWeighted(concurrency),
		costPerClip: costPerClip,
		logger:      logger,
	}
}

// CreateManifest maps the 18 composites onto 18 clip work items.
func (a *VideoAnimator) CreateManifest(taskID, dir, storyDirection string) (Manifest, error) {
	compositeDir := filepath.Join(dir, "composites")
	clipDir := filepath.Join(dir, "clips")
	if err := os.MkdirAll(clipDir, 0o755); err != nil {
		return Manifest{}, fmt.Errorf("create clip dir: %w", err)
	}

	items := make([]WorkItem, ClipCount)
	for i := range items {
		items[i] = WorkItem{
			Index:  i,
			Prompt: fmt.Sprintf("slow cinematic camera move, %s", storyDirection),
			Inputs: []string{filepath.Join(compositeDir, fmt.Sprintf("composite_%03d.png", i))},
			Output: filepath.Join(clipDir, fmt.Sprintf("clip_%03d.mp4", i)),
		}
	}
	return Manifest{Step: task.StepVideoGeneration, TaskID: taskID, Dir: clipDir, Items: items}, nil
}

// Execute animates every manifest item.
func (a *VideoAnimator) Execute(ctx context.Context, m Manifest, resume bool) (*ExecResult, error) {
	return runItems(ctx, a.sem, m.Items, resume, a.costPerClip, func(ctx context.Context, item WorkItem) error {
		if len(item.Inputs) == 0 {
			return fmt.Errorf("%w: clip %d has no source composite", ErrInvalidParameters, item.Index)
		}
		if _, err := os.Stat(item.Inputs[0]); err != nil {
			return fmt.Errorf("source composite: %w", err)
		}
		clipURL := fmt.Sprintf("%s/animate?prompt=%s&source=%s&seed=%d",
			a.endpoint, url.QueryEscape(item.Prompt),
			url.QueryEscape(filepath.Base(item.Inputs[0])), item.Index)
		a.logger.Debug("animating clip", "task_id", m.TaskID, "index", item.Index)
		return fetchMedia(ctx, a.client, clipURL, item.Output)
	})
}
