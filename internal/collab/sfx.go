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

// SFXSynthesizer renders per-scene sound effects from text descriptions via
// a text-to-audio HTTP API.
type SFXSynthesizer struct {
	endpoint    string
	client      *http.Client
	sem         *semaphore.Weighted
	costPerClip float64
	logger      *observability.Logger
}

// NewSFXSynthesizer creates an SFX synthesizer.
func NewSFXSynthesizer(endpoint string, concurrency int64, costPerClip float64, logger *observability.Logger) *SFXSynthesizer {
	if concurrency <= 0 {
		concurrency = 3
	}
	return &SFXSynthesizer{
		endpoint:    endpoint,
		client:      &http.Client{Timeout: 2 * time.Minute},
		sem:         semaphore.NewWeighted(concurrency),
		costPerClip: costPerClip,
		logger:      logger,
	}
}

// CreateManifest maps each SFX description to one audio work item. Same
// fixed cardinality as narration: one effect bed per scene.
func (s *SFXSynthesizer) CreateManifest(taskID, dir string, descriptions []string) (Manifest, error) {
	if len(descriptions) != ClipCount {
		return Manifest{}, fmt.Errorf("%w: expected %d sfx descriptions, got %d",
			ErrInvalidParameters, ClipCount, len(descriptions))
	}
	sfxDir := filepath.Join(dir, "sfx")
	if err := os.MkdirAll(sfxDir, 0o755); err != nil {
		return Manifest{}, fmt.Errorf("create sfx dir: %w", err)
	}

	items := make([]WorkItem, ClipCount)
	for i, desc := range descriptions {
		items[i] = WorkItem{
			Index:  i,
			Prompt: desc,
			Output: filepath.Join(sfxDir, fmt.Sprintf("sfx_%03d.wav", i)),
		}
	}
	return Manifest{Step: task.StepSFXGeneration, TaskID: taskID, Dir: sfxDir, Items: items}, nil
}

// Execute synthesizes every effect.
func (s *SFXSynthesizer) Execute(ctx context.Context, m Manifest, resume bool) (*ExecResult, error) {
	return runItems(ctx, s.sem, m.Items, resume, s.costPerClip, func(ctx context.Context, item WorkItem) error {
		sfxURL := fmt.Sprintf("%s/generate?prompt=%s&seed=%d",
			s.endpoint, url.QueryEscape(item.Prompt), item.Index)
		s.logger.Debug("synthesizing sfx", "task_id", m.TaskID, "index", item.Index)
		return fetchMedia(ctx, s.client, sfxURL, item.Output)
	})
}
