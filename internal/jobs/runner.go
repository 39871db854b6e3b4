package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/panjf2000/ants/v2"
)

var (
	ErrQueueFull = errors.New("remote job queue is full")
	ErrClosed    = errors.New("remote job runner is closed")
)

// ExecutorFunc runs one remote job.
type ExecutorFunc func(ctx context.Context, job RemoteJob) error

// Runner executes remote jobs on a bounded background pool, detached from
// the request that submitted them.
type Runner struct {
	pool   *ants.Pool
	exec   ExecutorFunc
	ctx    context.Context
	cancel context.CancelFunc
	drain  time.Duration
	logger *slog.Logger
}

// NewRunner creates a Runner with at most workers jobs in flight.
func NewRunner(exec ExecutorFunc, workers int, drain time.Duration, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := ants.NewPool(workers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p any) {
			logger.Error("remote job worker panicked", "panic", p)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create job pool: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		pool:   pool,
		exec:   exec,
		ctx:    ctx,
		cancel: cancel,
		drain:  drain,
		logger: logger,
	}, nil
}

// RemoteExecutor adapts a Remote to the Runner.
func RemoteExecutor(r *Remote) ExecutorFunc {
	return func(ctx context.Context, job RemoteJob) error {
		_, err := r.Execute(ctx, job)
		return err
	}
}

// Submit queues job and returns immediately.
func (r *Runner) Submit(job RemoteJob) error {
	err := r.pool.Submit(func() {
		if err := r.exec(r.ctx, job); err != nil {
			r.logger.Error("remote job failed", "owner", job.Owner, "error", err)
		}
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ants.ErrPoolOverload):
		return ErrQueueFull
	case errors.Is(err, ants.ErrPoolClosed):
		return ErrClosed
	default:
		return fmt.Errorf("failed to submit remote job: %w", err)
	}
}

// Running is the number of jobs currently executing.
func (r *Runner) Running() int {
	return r.pool.Running()
}

// Close stops accepting jobs and waits up to the drain timeout for running
// ones. Jobs still running after that have their context canceled.
func (r *Runner) Close() error {
	err := r.pool.ReleaseTimeout(r.drain)
	r.cancel()
	if err != nil {
		r.logger.Warn("remote jobs still running at shutdown", "running", r.pool.Running())
		return fmt.Errorf("failed to drain remote jobs: %w", err)
	}
	return nil
}
