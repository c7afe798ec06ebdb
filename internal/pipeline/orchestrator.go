// Package pipeline contains the orchestration core: the ordered step
// registry, the per-step completion store that makes runs resumable, error
// classification, and the Orchestrator that drives one task through the six
// generation steps with review gates between them.
//
// The single most important invariant in this package is the short
// transaction discipline: the task store is only ever touched in brief
// read/write calls, and no database work is in flight while a collaborator
// runs. Generation calls take minutes; holding a connection across one
// would starve every other worker sharing the pool.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/docuforge/docuforge/internal/collab"
	"github.com/docuforge/docuforge/internal/observability"
	"github.com/docuforge/docuforge/internal/task"
)

// TaskStore is the slice of the task store the orchestrator needs. Every
// method is a short transaction.
type TaskStore interface {
	GetTask(ctx context.Context, id string) (*task.Task, error)
	SetStatus(ctx context.Context, id string, s task.Status) error
	MarkReady(ctx context.Context, id string, s task.Status, reviewStartedAt time.Time) error
	MarkStepError(ctx context.Context, id string, s task.Status, message string) error
	SetPipelineStart(ctx context.Context, id string, at time.Time) error
	CompletePipeline(ctx context.Context, id string, s task.Status, end time.Time, durationSec, costUSD float64, reviewStartedAt time.Time) error
	SaveStepCompletion(ctx context.Context, id string, step task.Step, sc task.StepCompletion) error
	RawStepCompletions(ctx context.Context, id string) (map[string]json.RawMessage, error)
}

// Synchronizer mirrors task state into the external tracker. Consumers in
// this package are strictly best-effort: a failed push is logged and
// forgotten.
type Synchronizer interface {
	PushStatus(ctx context.Context, taskID string, status task.Status, priority string) error
	PushAssets(ctx context.Context, taskID string, files []string) error
}

// durationBudget is the observability threshold for a full pipeline run.
// Exceeding it logs a warning; it is not a failure.
const durationBudget = 2 * time.Hour

// syncTimeout bounds each fire-and-forget tracker push.
const syncTimeout = 30 * time.Second

// Dependencies holds everything the orchestrator needs. Sync and Metrics
// are optional (nil-safe).
type Dependencies struct {
	Store    TaskStore
	Registry *Registry
	Sync     Synchronizer
	Logger   *observability.Logger
	Metrics  *observability.MetricsCollector
}

// Orchestrator executes all pipeline steps for one task, in order, honoring
// resume-from-completion, review gates, and failure classification.
type Orchestrator struct {
	deps        Dependencies
	completions *CompletionStore
}

// New creates an Orchestrator.
func New(deps Dependencies) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = observability.NewLogger("orchestrator", nil)
	}
	return &Orchestrator{
		deps:        deps,
		completions: NewCompletionStore(deps.Store, deps.Logger),
	}
}

// ExecutePipeline drives the task through every remaining step. It never
// returns an error: every outcome is reflected in persisted task state, and
// anything unexpected is caught at the outermost level. The caller's claim
// mechanism guarantees at most one invocation per task is in flight.
//
// Cancellation is checked once per step boundary, never mid-step: an
// in-flight generation call cannot be safely interrupted without leaving
// collaborator-side state inconsistent, and a task halted at a boundary
// resumes cleanly from its completion records.
func (o *Orchestrator) ExecutePipeline(ctx context.Context, taskID string) {
	log := o.deps.Logger.With("task_id", taskID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline run panicked", "panic", fmt.Sprint(r))
			// Best effort: leave the task in an inspectable error state.
			_ = o.deps.Store.MarkStepError(context.Background(), taskID,
				task.StatusAssetsError, fmt.Sprintf("unexpected failure: %v", r))
		}
	}()

	t, err := o.deps.Store.GetTask(ctx, taskID)
	if err != nil {
		log.Error("could not load task", "error", err.Error())
		return
	}
	if t == nil {
		log.Error("task not found")
		return
	}

	start := time.Now()
	if err := o.deps.Store.SetPipelineStart(ctx, taskID, start); err != nil {
		log.Error("could not record pipeline start", "error", err.Error())
		return
	}
	o.record(observability.MetricRuns, 1, "")

	completed := o.completions.Load(ctx, taskID)
	entries := o.deps.Registry.Entries()
	total := len(entries)

	// Writes that record finished work use a cancel-immune context. A
	// shutdown signal arriving while a step runs must not prevent the
	// completed step from being persisted; the run halts at the next
	// boundary instead.
	wctx := context.WithoutCancel(ctx)

	for i, entry := range entries {
		if ctx.Err() != nil {
			// Graceful shutdown: no status change, safe to resume later.
			log.Info("shutdown requested, halting before step", "step", string(entry.Step))
			return
		}

		if prior, ok := completed[entry.Step]; ok && prior.Completed {
			log.Step(i+1, total, string(entry.Step), "step already completed, skipping")
			continue
		}

		if err := o.deps.Store.SetStatus(ctx, taskID, entry.Statuses.InProgress); err != nil {
			log.Error("could not set in-progress status", "step", string(entry.Step), "error", err.Error())
			return
		}
		o.pushStatus(taskID, entry.Statuses.InProgress, "normal")
		log.Step(i+1, total, string(entry.Step), "step started")

		// The long-running part. No transaction is open here.
		res, duration, stepErr := o.runStep(ctx, t, entry)
		if stepErr != nil {
			o.failStep(wctx, log, taskID, entry, duration, stepErr)
			return
		}

		sc := task.StepCompletion{
			Step:            entry.Step,
			Completed:       true,
			Generated:       res.Generated,
			Skipped:         res.Skipped,
			Failed:          res.Failed,
			CostUSD:         res.TotalCostUSD,
			DurationSeconds: duration.Seconds(),
			Files:           res.Files,
		}
		// Persist before evaluating the gate so a crash between the two
		// never loses a finished step.
		if err := o.completions.Save(wctx, taskID, entry.Step, sc); err != nil {
			log.Error("could not persist step completion", "step", string(entry.Step), "error", err.Error())
			return
		}
		completed[entry.Step] = sc
		o.record(observability.MetricStepDuration, duration.Seconds(), entry.Step)
		o.record(observability.MetricStepCost, res.TotalCostUSD, entry.Step)
		log.Step(i+1, total, string(entry.Step), "step completed",
			"generated", res.Generated, "skipped", res.Skipped,
			"duration_sec", duration.Seconds(), "cost_usd", res.TotalCostUSD)

		if entry.Step == task.StepAssetGeneration && len(res.Files) > 0 {
			// The files exist on disk regardless of tracker state.
			o.pushAssets(taskID, res.Files)
		}

		if entry.Step == task.StepVideoAssembly {
			// The assembly gate is the terminal review; finalization below
			// writes final_review together with the run totals.
			break
		}

		if entry.Gate {
			reviewAt := time.Now()
			if err := o.deps.Store.MarkReady(wctx, taskID, entry.Statuses.Ready, reviewAt); err != nil {
				log.Error("could not set gate status", "step", string(entry.Step), "error", err.Error())
				return
			}
			o.pushStatus(taskID, entry.Statuses.Ready, "high")
			o.record(observability.MetricGateHalts, 1, entry.Step)
			log.Info("halting at review gate", "step", string(entry.Step), "status", string(entry.Statuses.Ready))
			return
		}

		if err := o.deps.Store.MarkReady(wctx, taskID, entry.Statuses.Ready, time.Time{}); err != nil {
			log.Error("could not set ready status", "step", string(entry.Step), "error", err.Error())
			return
		}
		o.pushStatus(taskID, entry.Statuses.Ready, "normal")
	}

	o.finalize(wctx, log, taskID, start)
}

// runStep builds the manifest and executes the collaborator. Resume is
// always enabled: collaborators skip work items whose output already exists,
// so re-running a partially completed step is safe at the file level even
// when its completion record says completed=false.
func (o *Orchestrator) runStep(ctx context.Context, t *task.Task, entry StepEntry) (*collab.ExecResult, time.Duration, error) {
	start := time.Now()
	manifest, err := entry.Build(t)
	if err != nil {
		return nil, time.Since(start), err
	}
	res, err := entry.Exec.Execute(ctx, manifest, true)
	if err != nil {
		return nil, time.Since(start), err
	}
	return res, time.Since(start), nil
}

// failStep records a step failure: a completed=false completion record, the
// step's error status with the classified message appended to the error
// log, and a tracker push. The pipeline halts; transience only informs the
// external retry policy.
func (o *Orchestrator) failStep(ctx context.Context, log *observability.Logger, taskID string, entry StepEntry, duration time.Duration, stepErr error) {
	transient, category := Classify(stepErr)
	msg := fmt.Sprintf("[%s] %s", category, stepErr.Error())

	if err := o.completions.Save(ctx, taskID, entry.Step, task.StepCompletion{
		Step:            entry.Step,
		Completed:       false,
		DurationSeconds: duration.Seconds(),
		ErrorMessage:    stepErr.Error(),
	}); err != nil {
		log.Error("could not persist failed step completion", "step", string(entry.Step), "error", err.Error())
	}

	if err := o.deps.Store.MarkStepError(ctx, taskID, entry.Statuses.Error, msg); err != nil {
		log.Error("could not set error status", "step", string(entry.Step), "error", err.Error())
		return
	}
	o.pushStatus(taskID, entry.Statuses.Error, "high")
	o.record(observability.MetricErrors, 1, entry.Step)
	log.Error("step failed",
		"step", string(entry.Step),
		"status", string(entry.Statuses.Error),
		"transient", transient,
		"category", category,
		"error", stepErr.Error())
}

// finalize moves the task to final_review and records run totals. Per-step
// costs are read back from the completion store rather than re-summed from
// this run, so a resume that skipped steps still accounts for their cost.
func (o *Orchestrator) finalize(ctx context.Context, log *observability.Logger, taskID string, start time.Time) {
	var totalCost float64
	for _, sc := range o.completions.Load(ctx, taskID) {
		if sc.Completed {
			totalCost += sc.CostUSD
		}
	}

	end := time.Now()
	duration := end.Sub(start)
	if err := o.deps.Store.CompletePipeline(ctx, taskID, task.StatusFinalReview,
		end, duration.Seconds(), totalCost, end); err != nil {
		log.Error("could not finalize pipeline", "error", err.Error())
		return
	}
	o.pushStatus(taskID, task.StatusFinalReview, "high")
	o.record(observability.MetricPipelineCost, totalCost, "")

	log.Info("pipeline complete, awaiting final review",
		"duration_sec", duration.Seconds(), "cost_usd", totalCost)
	if duration > durationBudget {
		log.Warn("pipeline exceeded duration budget",
			"duration_sec", duration.Seconds(), "budget_sec", durationBudget.Seconds())
	}
}

// pushStatus mirrors a status change to the external tracker without
// blocking or failing the pipeline. The push runs on its own context: a
// worker shutting down should not abort a status already persisted locally.
func (o *Orchestrator) pushStatus(taskID string, status task.Status, priority string) {
	if o.deps.Sync == nil {
		return
	}
	log := o.deps.Logger
	sync := o.deps.Sync
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("status push panicked", "task_id", taskID, "panic", fmt.Sprint(r))
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
		defer cancel()
		if err := sync.PushStatus(ctx, taskID, status, priority); err != nil {
			log.Warn("status push failed", "task_id", taskID, "status", string(status), "error", err.Error())
			o.record(observability.MetricSyncFailures, 1, "")
		}
	}()
}

// pushAssets mirrors the generated asset list to the tracker, best-effort.
func (o *Orchestrator) pushAssets(taskID string, files []string) {
	if o.deps.Sync == nil {
		return
	}
	log := o.deps.Logger
	sync := o.deps.Sync
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("asset push panicked", "task_id", taskID, "panic", fmt.Sprint(r))
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
		defer cancel()
		if err := sync.PushAssets(ctx, taskID, files); err != nil {
			log.Warn("asset push failed", "task_id", taskID, "files", len(files), "error", err.Error())
			o.record(observability.MetricSyncFailures, 1, "")
		}
	}()
}

func (o *Orchestrator) record(mt observability.MetricType, value float64, step task.Step) {
	if o.deps.Metrics == nil {
		return
	}
	var labels observability.Labels
	if step != "" {
		labels = observability.Labels{"step": string(step)}
	}
	o.deps.Metrics.Record(mt, value, labels)
}
