// Package task defines the documentary-task data model: the closed status
// lifecycle, the six fixed pipeline steps with their status mappings and
// review gates, per-step completion records, and the append-only error log.
//
// Tasks are created externally in the queued state, claimed by workers, and
// mutated step-by-step by the pipeline orchestrator. The orchestrator is the
// only writer of status transitions; collaborators never touch the task.
package task

import (
	"encoding/json"
	"time"
)

// Task is one documentary-video production job flowing through the pipeline.
type Task struct {
	ID string `json:"id"`

	// Generation context, fixed at creation.
	Channel          string   `json:"channel"`
	Topic            string   `json:"topic"`
	StoryDirection   string   `json:"story_direction"`
	NarrationScripts []string `json:"narration_scripts"`
	SFXDescriptions  []string `json:"sfx_descriptions"`
	VoiceID          string   `json:"voice_id"`

	// Mutable pipeline state.
	Status          Status                     `json:"status"`
	StepCompletions map[string]json.RawMessage `json:"step_completion_metadata,omitempty"`
	ErrorLog        []ErrorEntry               `json:"error_log,omitempty"`

	PipelineStartTime       time.Time `json:"pipeline_start_time,omitzero"`
	PipelineEndTime         time.Time `json:"pipeline_end_time,omitzero"`
	PipelineDurationSeconds float64   `json:"pipeline_duration_seconds,omitempty"`
	PipelineCostUSD         float64   `json:"pipeline_cost_usd,omitempty"`
	ReviewStartedAt         time.Time `json:"review_started_at,omitzero"`

	ClaimedBy string    `json:"claimed_by,omitempty"`
	ClaimedAt time.Time `json:"claimed_at,omitzero"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StepCompletion records the outcome of one step attempt. It is overwritten
// on every attempt of its step; completed=true means the collaborator
// finished cleanly and the step will be skipped on resume. The counts and
// file list are observability data only; file-level resume correctness is
// the collaborator's own skip-existing-output behavior.
type StepCompletion struct {
	Step            Step     `json:"step"`
	Completed       bool     `json:"completed"`
	Generated       int      `json:"generated"`
	Skipped         int      `json:"skipped"`
	Failed          int      `json:"failed"`
	CostUSD         float64  `json:"cost_usd"`
	DurationSeconds float64  `json:"duration_seconds"`
	ErrorMessage    string   `json:"error_message,omitempty"`
	Files           []string `json:"files,omitempty"`
}

// ErrorEntry is one record in the task's append-only error log. Prior
// entries are never rewritten or lost.
type ErrorEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status"`
	Message   string    `json:"message"`
}

// AppendError returns the log with a new entry appended.
func AppendError(log []ErrorEntry, status Status, message string, at time.Time) []ErrorEntry {
	return append(log, ErrorEntry{Timestamp: at.UTC(), Status: status, Message: message})
}
