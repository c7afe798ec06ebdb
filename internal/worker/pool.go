// Package worker runs the claim-and-execute loop: a small pool of workers
// polls the store for claimable tasks, drives each claimed task through the
// pipeline, and releases the claim when the run returns.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/docuforge/docuforge/internal/observability"
	"github.com/docuforge/docuforge/internal/task"
)

// Claimer is the slice of the task store the pool needs.
type Claimer interface {
	ClaimNext(ctx context.Context, workerID string) (*task.Task, error)
	ReleaseClaim(ctx context.Context, id string) error
	ReleaseStaleClaims(ctx context.Context, olderThan time.Duration) (int, error)
}

// Runner executes one task end to end. Satisfied by pipeline.Orchestrator.
type Runner interface {
	ExecutePipeline(ctx context.Context, taskID string)
}

// Options configure the pool.
type Options struct {
	Workers         int
	PollInterval    time.Duration
	StaleClaimAfter time.Duration
}

// Pool claims tasks and runs them. One task per worker at a time; claim
// contention is resolved in the store, so two workers never hold the same
// task.
type Pool struct {
	store  Claimer
	runner Runner
	opts   Options
	logger *observability.Logger
}

// NewPool creates a worker pool.
func NewPool(store Claimer, runner Runner, opts Options, logger *observability.Logger) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	if opts.StaleClaimAfter <= 0 {
		opts.StaleClaimAfter = 3 * time.Hour
	}
	return &Pool{store: store, runner: runner, opts: opts, logger: logger}
}

// Run starts the workers and the stale-claim sweeper and blocks until the
// context is cancelled and every in-flight task has finished its current
// step boundary.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < p.opts.Workers; i++ {
		workerID := fmt.Sprintf("worker-%d-%s", i, uuid.NewString()[:8])
		g.Go(func() error {
			p.workerLoop(ctx, workerID)
			return nil
		})
	}

	g.Go(func() error {
		p.sweeperLoop(ctx)
		return nil
	})

	return g.Wait()
}

// workerLoop polls for work until shutdown.
func (p *Pool) workerLoop(ctx context.Context, workerID string) {
	log := p.logger.With("worker_id", workerID)
	log.Info("worker started")

	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	for {
		// Drain the queue before going back to sleep.
		for p.claimAndRun(ctx, log, workerID) {
		}

		select {
		case <-ctx.Done():
			log.Info("worker stopped")
			return
		case <-ticker.C:
		}
	}
}

// claimAndRun processes at most one task, reporting whether it found one.
// The claim is always released afterwards: the task's own status decides
// whether it is picked up again.
func (p *Pool) claimAndRun(ctx context.Context, log *observability.Logger, workerID string) bool {
	if ctx.Err() != nil {
		return false
	}

	t, err := p.store.ClaimNext(ctx, workerID)
	if err != nil {
		log.Error("claim failed", "error", err.Error())
		return false
	}
	if t == nil {
		return false
	}

	log.Info("claimed task", "task_id", t.ID, "status", string(t.Status))
	p.runner.ExecutePipeline(ctx, t.ID)

	// Release on a fresh context: the claim must not outlive this run even
	// when shutdown is what ended it.
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := p.store.ReleaseClaim(releaseCtx, t.ID); err != nil {
		log.Error("release failed, claim will be swept as stale", "task_id", t.ID, "error", err.Error())
	}
	return true
}

// sweeperLoop periodically releases claims abandoned by crashed workers.
func (p *Pool) sweeperLoop(ctx context.Context) {
	log := p.logger.Named("sweeper")
	interval := p.opts.StaleClaimAfter / 4
	if interval > 10*time.Minute {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.store.ReleaseStaleClaims(ctx, p.opts.StaleClaimAfter)
			if err != nil {
				log.Error("stale claim sweep failed", "error", err.Error())
				continue
			}
			if n > 0 {
				log.Warn("released stale claims", "count", n)
			}
		}
	}
}
