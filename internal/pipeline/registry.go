package pipeline

import (
	"fmt"
	"path/filepath"

	"github.com/docuforge/docuforge/internal/collab"
	"github.com/docuforge/docuforge/internal/task"
)

// StepEntry binds one pipeline step to its status mapping, gate flag,
// manifest builder, and executor. The driver loop iterates entries with no
// per-step branching; adding a seventh step is a data change here, not a
// change to the loop.
type StepEntry struct {
	Step     task.Step
	Statuses task.StatusTriple
	Gate     bool
	Build    func(t *task.Task) (collab.Manifest, error)
	Exec     collab.Executor
}

// Registry is the fixed, ordered step table the orchestrator drives.
type Registry struct {
	entries []StepEntry
}

// NewRegistry validates and wraps an ordered entry list. The entries must
// cover exactly the step order, and every entry must carry a complete
// status mapping, builder, and executor: a step added to the step list but
// not the registry (or vice versa) fails here at startup.
func NewRegistry(entries []StepEntry) (*Registry, error) {
	if err := task.ValidateStepTables(); err != nil {
		return nil, err
	}
	steps := task.Steps()
	if len(entries) != len(steps) {
		return nil, fmt.Errorf("registry has %d entries for %d steps", len(entries), len(steps))
	}
	for i, e := range entries {
		if e.Step != steps[i] {
			return nil, fmt.Errorf("registry entry %d is %q, want %q", i, e.Step, steps[i])
		}
		want, err := task.StatusesFor(e.Step)
		if err != nil {
			return nil, err
		}
		if e.Statuses != want {
			return nil, fmt.Errorf("registry entry %q has statuses %+v, want %+v", e.Step, e.Statuses, want)
		}
		if e.Gate != task.IsReviewGate(e.Statuses.Ready) {
			return nil, fmt.Errorf("registry entry %q gate flag disagrees with the gate set", e.Step)
		}
		if e.Build == nil || e.Exec == nil {
			return nil, fmt.Errorf("registry entry %q is missing a builder or executor", e.Step)
		}
	}
	return &Registry{entries: entries}, nil
}

// Entries returns the steps in execution order.
func (r *Registry) Entries() []StepEntry {
	return r.entries
}

// Collaborators holds the six generation services the default registry
// binds.
type Collaborators struct {
	Assets     *collab.AssetGenerator
	Composites *collab.CompositeBuilder
	Video      *collab.VideoAnimator
	Narration  *collab.NarrationSynthesizer
	SFX        *collab.SFXSynthesizer
	Assembly   *collab.Assembler
}

// DefaultRegistry builds the production step table. Each task works inside
// its own directory under the workspace root.
func DefaultRegistry(workspace string, c Collaborators) (*Registry, error) {
	taskDir := func(t *task.Task) string {
		return filepath.Join(workspace, t.ID)
	}

	entries := make([]StepEntry, 0, len(task.Steps()))
	for _, s := range task.Steps() {
		triple, err := task.StatusesFor(s)
		if err != nil {
			return nil, err
		}
		e := StepEntry{Step: s, Statuses: triple, Gate: task.IsReviewGate(triple.Ready)}
		switch s {
		case task.StepAssetGeneration:
			e.Build = func(t *task.Task) (collab.Manifest, error) {
				return c.Assets.CreateManifest(t.ID, taskDir(t), t.Topic, t.StoryDirection)
			}
			e.Exec = c.Assets
		case task.StepCompositeCreation:
			e.Build = func(t *task.Task) (collab.Manifest, error) {
				return c.Composites.CreateManifest(t.ID, taskDir(t))
			}
			e.Exec = c.Composites
		case task.StepVideoGeneration:
			e.Build = func(t *task.Task) (collab.Manifest, error) {
				return c.Video.CreateManifest(t.ID, taskDir(t), t.StoryDirection)
			}
			e.Exec = c.Video
		case task.StepNarrationGeneration:
			e.Build = func(t *task.Task) (collab.Manifest, error) {
				return c.Narration.CreateManifest(t.ID, taskDir(t), t.NarrationScripts, t.VoiceID)
			}
			e.Exec = c.Narration
		case task.StepSFXGeneration:
			e.Build = func(t *task.Task) (collab.Manifest, error) {
				return c.SFX.CreateManifest(t.ID, taskDir(t), t.SFXDescriptions)
			}
			e.Exec = c.SFX
		case task.StepVideoAssembly:
			e.Build = func(t *task.Task) (collab.Manifest, error) {
				return c.Assembly.CreateManifest(t.ID, taskDir(t))
			}
			e.Exec = c.Assembly
		default:
			return nil, fmt.Errorf("no collaborator for step %q", s)
		}
		entries = append(entries, e)
	}
	return NewRegistry(entries)
}
