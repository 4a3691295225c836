package core

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
)

// WorkerPool runs independent jobs with bounded concurrency. A job that
// returns an error cancels the jobs that have not started yet; jobs that want
// isolated failures record them and return nil.
type WorkerPool[T any] struct {
	workers int
	logger  *slog.Logger
}

// NewWorkerPool creates a pool; workers <= 0 means one per CPU.
func NewWorkerPool[T any](workers int) *WorkerPool[T] {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &WorkerPool[T]{
		workers: workers,
		logger:  slog.Default().With("component", "worker_pool"),
	}
}

func (p *WorkerPool[T]) Workers() int {
	return p.workers
}

// Run calls fn for every item. Items are started in slice order.
func (p *WorkerPool[T]) Run(ctx context.Context, items []T, fn func(context.Context, T) error) error {
	if len(items) == 0 {
		return nil
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for _, item := range items {
		item := item
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, item)
		})
	}

	err := g.Wait()
	p.logger.Debug("worker pool drained",
		"items", len(items),
		"workers", p.workers,
		"duration_ms", time.Since(start).Milliseconds(),
		"error", err)
	return err
}
