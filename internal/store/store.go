// Package store provides durable task persistence.
//
// The Store interface is the primary abstraction. SQLiteStore is the default
// implementation using pure-Go SQLite (modernc.org/sqlite).
//
// Every mutation is a short transaction: open, touch the minimal set of task
// fields, commit. Nothing in this package is ever held open across a
// collaborator call; the orchestrator depends on that to keep the shared
// connection pool available while multi-minute generation work runs.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/docuforge/docuforge/internal/task"
)

// Store is the persistent task store interface.
type Store interface {
	// CreateTask inserts a new task in the queued state.
	CreateTask(ctx context.Context, t *task.Task) error

	// GetTask retrieves a task by id. Returns nil if not found.
	GetTask(ctx context.Context, id string) (*task.Task, error)

	// ClaimNext atomically claims the oldest claimable task for a worker.
	// Returns nil if no task is available (skip-on-contention: a task
	// claimed by another worker is simply not visible here).
	ClaimNext(ctx context.Context, workerID string) (*task.Task, error)

	// ReleaseClaim clears a worker's claim once orchestration returns.
	ReleaseClaim(ctx context.Context, id string) error

	// ReleaseStaleClaims clears claims older than the given age so tasks
	// abandoned by a crashed worker become claimable again. Returns the
	// number of claims released.
	ReleaseStaleClaims(ctx context.Context, olderThan time.Duration) (int, error)

	// SetStatus sets the task status.
	SetStatus(ctx context.Context, id string, s task.Status) error

	// MarkReady sets a step's ready status; when reviewStartedAt is
	// non-zero the task is halting at a review gate and the timestamp is
	// persisted alongside.
	MarkReady(ctx context.Context, id string, s task.Status, reviewStartedAt time.Time) error

	// MarkStepError sets a step's error status and appends an entry to the
	// task's append-only error log in the same transaction.
	MarkStepError(ctx context.Context, id string, s task.Status, message string) error

	// SetPipelineStart records the wall-clock start of an orchestration run.
	SetPipelineStart(ctx context.Context, id string, at time.Time) error

	// CompletePipeline records the terminal review state with total
	// duration and cost.
	CompletePipeline(ctx context.Context, id string, s task.Status, end time.Time, durationSec, costUSD float64, reviewStartedAt time.Time) error

	// SaveStepCompletion upserts one step's completion record into the
	// task's completion map, keyed by the step's string id. Idempotent
	// overwrite; repeated saves of the same step replace the prior record.
	SaveStepCompletion(ctx context.Context, id string, step task.Step, sc task.StepCompletion) error

	// RawStepCompletions returns the persisted completion map without
	// interpreting the records. Decoding tolerance lives in the pipeline.
	RawStepCompletions(ctx context.Context, id string) (map[string]json.RawMessage, error)

	// ApproveGate moves a gated task to its approved status. Performed by
	// the external approval flow, never by the orchestrator.
	ApproveGate(ctx context.Context, id string, to task.Status) error

	// ResetError returns a task in an error state to queued for manual retry.
	ResetError(ctx context.Context, id string) error

	// Close shuts down the store.
	Close() error
}
