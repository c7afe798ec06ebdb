package collab

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/docuforge/docuforge/internal/observability"
	"github.com/docuforge/docuforge/internal/task"
)

// Assembler muxes the animated clips, narration, and SFX beds into the
// finished documentary with ffmpeg. One manifest item per task: the final
// video either exists or it doesn't.
type Assembler struct {
	runner *Runner
	ffmpeg string
	sem    *semaphore.Weighted
	logger *observability.Logger
}

// NewAssembler creates a video assembler.
func NewAssembler(ffmpegPath string, logger *observability.Logger) *Assembler {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Assembler{
		runner: NewRunner(),
		ffmpeg: ffmpegPath,
		// Assembly is I/O heavy; one at a time per process.
		sem:    semaphore.NewWeighted(1),
		logger: logger,
	}
}

// CreateManifest produces the single assembly work item, with every clip and
// audio file listed as an input.
func (a *Assembler) CreateManifest(taskID, dir string) (Manifest, error) {
	outDir := filepath.Join(dir, "final")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Manifest{}, fmt.Errorf("create output dir: %w", err)
	}

	var inputs []string
	for i := 0; i < ClipCount; i++ {
		inputs = append(inputs,
			filepath.Join(dir, "clips", fmt.Sprintf("clip_%03d.mp4", i)),
			filepath.Join(dir, "narration", fmt.Sprintf("narration_%03d.mp3", i)),
			filepath.Join(dir, "sfx", fmt.Sprintf("sfx_%03d.wav", i)),
		)
	}

	items := []WorkItem{{
		Index:  0,
		Inputs: inputs,
		Output: filepath.Join(outDir, "documentary.mp4"),
	}}
	return Manifest{Step: task.StepVideoAssembly, TaskID: taskID, Dir: outDir, Items: items}, nil
}

// Execute runs the three-phase assembly: concat clips, build the narration
// track, then mux video and mixed audio.
func (a *Assembler) Execute(ctx context.Context, m Manifest, resume bool) (*ExecResult, error) {
	return runItems(ctx, a.sem, m.Items, resume, 0, func(ctx context.Context, item WorkItem) error {
		for _, in := range item.Inputs {
			if _, err := os.Stat(in); err != nil {
				return fmt.Errorf("assembly input: %w", err)
			}
		}
		return a.assemble(ctx, m.TaskID, m.Dir, item)
	})
}

func (a *Assembler) assemble(ctx context.Context, taskID, dir string, item WorkItem) error {
	clips, narration, sfx := splitInputs(item.Inputs)

	a.logger.Info("assembling final video", "task_id", taskID,
		"clips", len(clips), "narration", len(narration), "sfx", len(sfx))

	// Phase 1: concat the video clips.
	videoList := filepath.Join(dir, "clips_concat.txt")
	if err := writeConcatList(videoList, clips); err != nil {
		return err
	}
	silentVideo := filepath.Join(dir, "video_raw.mp4")
	if err := a.runner.Run(ctx, a.ffmpeg, "-y",
		"-f", "concat", "-safe", "0", "-i", videoList,
		"-c:v", "libx264", "-preset", "fast", "-crf", "22",
		"-pix_fmt", "yuv420p", "-an", silentVideo,
	); err != nil {
		return err
	}

	// Phase 2: concat narration into a single track.
	audioList := filepath.Join(dir, "narration_concat.txt")
	if err := writeConcatList(audioList, narration); err != nil {
		return err
	}
	narrationTrack := filepath.Join(dir, "narration_full.mp3")
	if err := a.runner.Run(ctx, a.ffmpeg, "-y",
		"-f", "concat", "-safe", "0", "-i", audioList,
		"-c:a", "libmp3lame", narrationTrack,
	); err != nil {
		return err
	}

	// Phase 3: concat SFX, duck it under the narration, mux with video.
	sfxList := filepath.Join(dir, "sfx_concat.txt")
	if err := writeConcatList(sfxList, sfx); err != nil {
		return err
	}
	return a.runner.Run(ctx, a.ffmpeg, "-y",
		"-i", silentVideo,
		"-i", narrationTrack,
		"-f", "concat", "-safe", "0", "-i", sfxList,
		"-filter_complex", "[2:a]volume=0.25[bed];[1:a][bed]amix=inputs=2:duration=first[aout]",
		"-map", "0:v", "-map", "[aout]",
		"-c:v", "copy", "-c:a", "aac", "-shortest",
		item.Output,
	)
}

func splitInputs(inputs []string) (clips, narration, sfx []string) {
	for _, in := range inputs {
		base := filepath.Base(in)
		switch {
		case strings.HasPrefix(base, "clip_"):
			clips = append(clips, in)
		case strings.HasPrefix(base, "narration_"):
			narration = append(narration, in)
		case strings.HasPrefix(base, "sfx_"):
			sfx = append(sfx, in)
		}
	}
	return clips, narration, sfx
}

func writeConcatList(path string, files []string) error {
	var lines []string
	for _, f := range files {
		lines = append(lines, fmt.Sprintf("file '%s'", f))
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}
	return nil
}
