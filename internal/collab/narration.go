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

// NarrationSynthesizer renders the per-scene narration scripts to audio
// through a TTS command-line tool (edge-tts compatible flags).
type NarrationSynthesizer struct {
	runner      *Runner
	command     string
	sem         *semaphore.Weighted
	costPerClip float64
	logger      *observability.Logger
}

// NewNarrationSynthesizer creates a narration synthesizer. Command defaults
// to edge-tts on PATH.
func NewNarrationSynthesizer(command string, concurrency int64, costPerClip float64, logger *observability.Logger) *NarrationSynthesizer {
	if command == "" {
		command = "edge-tts"
	}
	if concurrency <= 0 {
		concurrency = 3
	}
	return &NarrationSynthesizer{
		runner:      NewRunner(),
		command:     command,
		sem:         semaphore.NewWeighted(concurrency),
		costPerClip: costPerClip,
		logger:      logger,
	}
}

// CreateManifest maps each narration script to one audio work item. The
// script list's cardinality is fixed per pipeline; a mismatch is a
// permanent parameter error, not something a retry can fix.
func (n *NarrationSynthesizer) CreateManifest(taskID, dir string, scripts []string, voiceID string) (Manifest, error) {
	if len(scripts) != ClipCount {
		return Manifest{}, fmt.Errorf("%w: expected %d narration scripts, got %d",
			ErrInvalidParameters, ClipCount, len(scripts))
	}
	if voiceID == "" {
		return Manifest{}, fmt.Errorf("%w: voice id is required", ErrInvalidParameters)
	}
	audioDir := filepath.Join(dir, "narration")
	if err := os.MkdirAll(audioDir, 0o755); err != nil {
		return Manifest{}, fmt.Errorf("create narration dir: %w", err)
	}

	items := make([]WorkItem, ClipCount)
	for i, script := range scripts {
		items[i] = WorkItem{
			Index:  i,
			Prompt: script,
			Inputs: []string{voiceID},
			Output: filepath.Join(audioDir, fmt.Sprintf("narration_%03d.mp3", i)),
		}
	}
	return Manifest{Step: task.StepNarrationGeneration, TaskID: taskID, Dir: audioDir, Items: items}, nil
}

// Execute synthesizes every narration clip.
func (n *NarrationSynthesizer) Execute(ctx context.Context, m Manifest, resume bool) (*ExecResult, error) {
	return runItems(ctx, n.sem, m.Items, resume, n.costPerClip, func(ctx context.Context, item WorkItem) error {
		voice := ""
		if len(item.Inputs) > 0 {
			voice = item.Inputs[0]
		}
		n.logger.Debug("synthesizing narration", "task_id", m.TaskID, "index", item.Index)
		return n.runner.Run(ctx, n.command,
			"--voice", voice,
			"--text", item.Prompt,
			"--write-media", item.Output,
		)
	})
}
