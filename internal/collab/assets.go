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

// AssetGenerator produces the still images the rest of the pipeline builds
// on, via a prompt-to-image HTTP API.
type AssetGenerator struct {
	endpoint     string
	client       *http.Client
	sem          *semaphore.Weighted
	costPerImage float64
	logger       *observability.Logger
}

// NewAssetGenerator creates an asset generator. Concurrency bounds how many
// images render in parallel across all workers sharing this instance.
func NewAssetGenerator(endpoint string, concurrency int64, costPerImage float64, logger *observability.Logger) *AssetGenerator {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &AssetGenerator{
		endpoint:     endpoint,
		client:       &http.Client{Timeout: 90 * time.Second},
		sem:          semaphore.NewWeighted(concurrency),
		costPerImage: costPerImage,
		logger:       logger,
	}
}

// CreateManifest shapes task context into the fixed list of 22 asset work
// items. Deterministic given inputs; the only I/O is directory creation.
func (g *AssetGenerator) CreateManifest(taskID, dir, topic, storyDirection string) (Manifest, error) {
	if topic == "" {
		return Manifest{}, fmt.Errorf("%w: topic is required", ErrInvalidParameters)
	}
	assetDir := filepath.Join(dir, "assets")
	if err := os.MkdirAll(assetDir, 0o755); err != nil {
		return Manifest{}, fmt.Errorf("create asset dir: %w", err)
	}

	items := make([]WorkItem, AssetCount)
	for i := range items {
		items[i] = WorkItem{
			Index: i,
			Prompt: fmt.Sprintf(
				"%s, %s, scene %d of %d, documentary photography, cinematic lighting, no text, no watermark",
				topic, storyDirection, i+1, AssetCount),
			Output: filepath.Join(assetDir, fmt.Sprintf("asset_%03d.png", i)),
		}
	}
	return Manifest{Step: task.StepAssetGeneration, TaskID: taskID, Dir: assetDir, Items: items}, nil
}

// Execute renders every manifest item, skipping outputs that already exist
// when resume is set.
func (g *AssetGenerator) Execute(ctx context.Context, m Manifest, resume bool) (*ExecResult, error) {
	return runItems(ctx, g.sem, m.Items, resume, g.costPerImage, func(ctx context.Context, item WorkItem) error {
		// Deterministic per-item seed so a retried item reproduces the
		// same image instead of drifting from its neighbors.
		imageURL := fmt.Sprintf("%s/prompt/%s?width=1920&height=1080&seed=%d",
			g.endpoint, url.PathEscape(item.Prompt), item.Index*42+7)
		g.logger.Debug("generating asset", "task_id", m.TaskID, "index", item.Index)
		return fetchMedia(ctx, g.client, imageURL, item.Output)
	})
}
