package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/docuforge/docuforge/internal/task"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	mu sync.Mutex
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite-backed store.
// Use ":memory:" for an in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// One connection: SQLite serializes writers anyway, and :memory:
	// databases are per-connection.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id                        TEXT PRIMARY KEY,
		channel                   TEXT NOT NULL,
		topic                     TEXT NOT NULL,
		story_direction           TEXT NOT NULL,
		narration_scripts         TEXT NOT NULL DEFAULT '[]',
		sfx_descriptions          TEXT NOT NULL DEFAULT '[]',
		voice_id                  TEXT NOT NULL DEFAULT '',
		status                    TEXT NOT NULL,
		step_completion_metadata  TEXT NOT NULL DEFAULT '{}',
		error_log                 TEXT NOT NULL DEFAULT '[]',
		pipeline_start_time       TEXT,
		pipeline_end_time         TEXT,
		pipeline_duration_seconds REAL,
		pipeline_cost_usd         REAL,
		review_started_at         TEXT,
		claimed_by                TEXT,
		claimed_at                TEXT,
		created_at                TEXT NOT NULL,
		updated_at                TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// DB exposes the underlying pool for connection-availability checks in tests.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// CreateTask inserts a new task.
func (s *SQLiteStore) CreateTask(ctx context.Context, t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = task.StatusQueued
	}

	scripts, _ := json.Marshal(t.NarrationScripts)
	sfx, _ := json.Marshal(t.SFXDescriptions)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, channel, topic, story_direction, narration_scripts,
			sfx_descriptions, voice_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Channel, t.Topic, t.StoryDirection, string(scripts),
		string(sfx), t.VoiceID, string(t.Status),
		t.CreatedAt.Format(time.RFC3339), t.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("create task %q: %w", t.ID, err)
	}
	return nil
}

const taskColumns = `id, channel, topic, story_direction, narration_scripts,
	sfx_descriptions, voice_id, status, step_completion_metadata, error_log,
	pipeline_start_time, pipeline_end_time, pipeline_duration_seconds,
	pipeline_cost_usd, review_started_at, claimed_by, claimed_at,
	created_at, updated_at`

// GetTask retrieves a task by id. Returns nil if not found.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task %q: %w", id, err)
	}
	return t, nil
}

// ClaimNext atomically claims the oldest claimable unclaimed task. SQLite
// serializes writers, so the claim UPDATE either takes the row or sees it
// already claimed; two workers never receive the same task.
func (s *SQLiteStore) ClaimNext(ctx context.Context, workerID string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := task.ClaimableStatuses()
	placeholders := make([]string, len(statuses))
	args := make([]any, 0, len(statuses)+3)
	now := time.Now().UTC().Format(time.RFC3339)
	args = append(args, workerID, now, now)
	for i, st := range statuses {
		placeholders[i] = "?"
		args = append(args, string(st))
	}

	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		UPDATE tasks SET claimed_by = ?, claimed_at = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM tasks
			WHERE status IN (%s) AND claimed_by IS NULL
			ORDER BY created_at LIMIT 1
		)
		RETURNING `+taskColumns, strings.Join(placeholders, ", ")), args...)

	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim next: %w", err)
	}
	return t, nil
}

// ReleaseClaim clears a worker's claim.
func (s *SQLiteStore) ReleaseClaim(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET claimed_by = NULL, claimed_at = NULL, updated_at = ? WHERE id = ?",
		time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("release claim %q: %w", id, err)
	}
	return nil
}

// ReleaseStaleClaims clears claims older than the given age.
func (s *SQLiteStore) ReleaseStaleClaims(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET claimed_by = NULL, claimed_at = NULL, updated_at = ?
		WHERE claimed_by IS NOT NULL AND claimed_at < ?`,
		time.Now().UTC().Format(time.RFC3339), cutoff)
	if err != nil {
		return 0, fmt.Errorf("release stale claims: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// SetStatus sets the task status.
func (s *SQLiteStore) SetStatus(ctx context.Context, id string, st task.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?",
		string(st), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("set status %q on %q: %w", st, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set status %q on %q: task not found", st, id)
	}
	return nil
}

// MarkReady sets a ready status, persisting review_started_at when halting
// at a review gate.
func (s *SQLiteStore) MarkReady(ctx context.Context, id string, st task.Status, reviewStartedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	var err error
	if reviewStartedAt.IsZero() {
		_, err = s.db.ExecContext(ctx,
			"UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?",
			string(st), now, id)
	} else {
		_, err = s.db.ExecContext(ctx,
			"UPDATE tasks SET status = ?, review_started_at = ?, updated_at = ? WHERE id = ?",
			string(st), reviewStartedAt.UTC().Format(time.RFC3339), now, id)
	}
	if err != nil {
		return fmt.Errorf("mark ready %q on %q: %w", st, id, err)
	}
	return nil
}

// MarkStepError sets an error status and appends to the error log inside a
// single transaction, so a concurrent reader never sees the status without
// its log entry.
func (s *SQLiteStore) MarkStepError(ctx context.Context, id string, st task.Status, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mark step error %q: begin: %w", id, err)
	}
	defer tx.Rollback()

	var logJSON string
	if err := tx.QueryRowContext(ctx,
		"SELECT error_log FROM tasks WHERE id = ?", id).Scan(&logJSON); err != nil {
		return fmt.Errorf("mark step error %q: read log: %w", id, err)
	}

	var entries []task.ErrorEntry
	if err := json.Unmarshal([]byte(logJSON), &entries); err != nil {
		// A corrupt log must not block recording the new failure; keep the
		// old blob out of the way and start a fresh list.
		entries = nil
	}
	entries = task.AppendError(entries, st, message, time.Now())
	updated, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("mark step error %q: encode log: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE tasks SET status = ?, error_log = ?, updated_at = ? WHERE id = ?",
		string(st), string(updated), time.Now().UTC().Format(time.RFC3339), id); err != nil {
		return fmt.Errorf("mark step error %q: update: %w", id, err)
	}
	return tx.Commit()
}

// SetPipelineStart records the orchestration start time.
func (s *SQLiteStore) SetPipelineStart(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET pipeline_start_time = ?, updated_at = ? WHERE id = ?",
		at.UTC().Format(time.RFC3339), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("set pipeline start %q: %w", id, err)
	}
	return nil
}

// CompletePipeline records the terminal review state with totals.
func (s *SQLiteStore) CompletePipeline(ctx context.Context, id string, st task.Status, end time.Time, durationSec, costUSD float64, reviewStartedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, pipeline_end_time = ?,
			pipeline_duration_seconds = ?, pipeline_cost_usd = ?,
			review_started_at = ?, updated_at = ?
		WHERE id = ?`,
		string(st), end.UTC().Format(time.RFC3339), durationSec, costUSD,
		reviewStartedAt.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("complete pipeline %q: %w", id, err)
	}
	return nil
}

// SaveStepCompletion upserts one step's record into the completion map.
func (s *SQLiteStore) SaveStepCompletion(ctx context.Context, id string, step task.Step, sc task.StepCompletion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save completion %q/%q: begin: %w", id, step, err)
	}
	defer tx.Rollback()

	var metaJSON string
	if err := tx.QueryRowContext(ctx,
		"SELECT step_completion_metadata FROM tasks WHERE id = ?", id).Scan(&metaJSON); err != nil {
		return fmt.Errorf("save completion %q/%q: read: %w", id, step, err)
	}

	meta := map[string]json.RawMessage{}
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		meta = map[string]json.RawMessage{}
	}
	encoded, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("save completion %q/%q: encode: %w", id, step, err)
	}
	meta[string(step)] = encoded

	updated, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("save completion %q/%q: encode map: %w", id, step, err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE tasks SET step_completion_metadata = ?, updated_at = ? WHERE id = ?",
		string(updated), time.Now().UTC().Format(time.RFC3339), id); err != nil {
		return fmt.Errorf("save completion %q/%q: update: %w", id, step, err)
	}
	return tx.Commit()
}

// RawStepCompletions returns the persisted completion map.
func (s *SQLiteStore) RawStepCompletions(ctx context.Context, id string) (map[string]json.RawMessage, error) {
	var metaJSON string
	err := s.db.QueryRowContext(ctx,
		"SELECT step_completion_metadata FROM tasks WHERE id = ?", id).Scan(&metaJSON)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("raw completions %q: task not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("raw completions %q: %w", id, err)
	}

	meta := map[string]json.RawMessage{}
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, fmt.Errorf("raw completions %q: decode: %w", id, err)
	}
	return meta, nil
}

// ApproveGate moves a gated task to its approved status. The UPDATE is
// guarded by the current status so an approval racing a manual reset is a
// no-op rather than a corrupting write.
func (s *SQLiteStore) ApproveGate(ctx context.Context, id string, to task.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var from task.Status
	switch to {
	case task.StatusAssetsApproved:
		from = task.StatusAssetsReady
	case task.StatusVideoApproved:
		from = task.StatusVideoReady
	case task.StatusAudioApproved:
		from = task.StatusAudioReady
	case task.StatusApproved:
		from = task.StatusFinalReview
	default:
		return fmt.Errorf("approve gate %q: %q is not an approval status", id, to)
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
		string(to), time.Now().UTC().Format(time.RFC3339), id, string(from))
	if err != nil {
		return fmt.Errorf("approve gate %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("approve gate %q: task not at %q", id, from)
	}
	return nil
}

// ResetError returns an errored task to queued for manual retry. Completed
// steps keep their completion records; the next run resumes past them.
func (s *SQLiteStore) ResetError(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	errorStatuses := []string{
		string(task.StatusAssetsError),
		string(task.StatusCompositesError),
		string(task.StatusVideoError),
		string(task.StatusAudioError),
		string(task.StatusAssemblyError),
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		"UPDATE tasks SET status = ?, claimed_by = NULL, claimed_at = NULL, updated_at = ? WHERE id = ? AND status IN (%s)",
		"'"+strings.Join(errorStatuses, "', '")+"'"),
		string(task.StatusQueued), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("reset error %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("reset error %q: task not in an error state", id)
	}
	return nil
}

// Close shuts down the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*task.Task, error) {
	var t task.Task
	var scripts, sfx, status, metaJSON, logJSON string
	var startAt, endAt, reviewAt, claimedBy, claimedAt sql.NullString
	var durationSec, costUSD sql.NullFloat64
	var createdAt, updatedAt string

	err := row.Scan(&t.ID, &t.Channel, &t.Topic, &t.StoryDirection, &scripts,
		&sfx, &t.VoiceID, &status, &metaJSON, &logJSON,
		&startAt, &endAt, &durationSec, &costUSD, &reviewAt,
		&claimedBy, &claimedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	t.Status = task.Status(status)
	json.Unmarshal([]byte(scripts), &t.NarrationScripts)
	json.Unmarshal([]byte(sfx), &t.SFXDescriptions)
	json.Unmarshal([]byte(metaJSON), &t.StepCompletions)
	json.Unmarshal([]byte(logJSON), &t.ErrorLog)

	t.PipelineStartTime = parseNullTime(startAt)
	t.PipelineEndTime = parseNullTime(endAt)
	t.ReviewStartedAt = parseNullTime(reviewAt)
	t.ClaimedAt = parseNullTime(claimedAt)
	if claimedBy.Valid {
		t.ClaimedBy = claimedBy.String
	}
	if durationSec.Valid {
		t.PipelineDurationSeconds = durationSec.Float64
	}
	if costUSD.Valid {
		t.PipelineCostUSD = costUSD.Float64
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &t, nil
}

func parseNullTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339, s.String)
	return t
}
