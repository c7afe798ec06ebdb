package pipeline

import (
	"context"
	"encoding/json"

	"github.com/docuforge/docuforge/internal/observability"
	"github.com/docuforge/docuforge/internal/task"
)

// CompletionStore reads and writes per-step completion records on the task
// row. It is the resume mechanism: a step whose record shows completed=true
// is skipped entirely on the next run.
type CompletionStore struct {
	store  TaskStore
	logger *observability.Logger
}

// NewCompletionStore creates a completion store over the task store.
func NewCompletionStore(s TaskStore, logger *observability.Logger) *CompletionStore {
	return &CompletionStore{store: s, logger: logger}
}

// Load deserializes the persisted completion map. It never fails: a missing
// or unreadable map yields an empty result (the run simply starts from the
// first step), unknown step keys are dropped quietly (forward compatibility
// with steps added or removed later), and structurally malformed entries are
// dropped with a warning.
func (c *CompletionStore) Load(ctx context.Context, taskID string) map[task.Step]task.StepCompletion {
	out := make(map[task.Step]task.StepCompletion)

	raw, err := c.store.RawStepCompletions(ctx, taskID)
	if err != nil {
		c.logger.Warn("could not read step completions, treating as empty",
			"task_id", taskID, "error", err.Error())
		return out
	}

	for key, blob := range raw {
		if !task.KnownStep(key) {
			c.logger.Debug("dropping completion record for unknown step",
				"task_id", taskID, "step", key)
			continue
		}
		var sc task.StepCompletion
		if err := json.Unmarshal(blob, &sc); err != nil {
			c.logger.Warn("dropping malformed completion record",
				"task_id", taskID, "step", key, "error", err.Error())
			continue
		}
		out[task.Step(key)] = sc
	}
	return out
}

// Save upserts one step's record. Safe to call repeatedly: the step's key is
// overwritten, never appended.
func (c *CompletionStore) Save(ctx context.Context, taskID string, step task.Step, sc task.StepCompletion) error {
	return c.store.SaveStepCompletion(ctx, taskID, step, sc)
}
