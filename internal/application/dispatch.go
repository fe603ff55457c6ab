package application

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Dispatcher runs fire-and-forget remote operations (plan stops, job stops,
// restarts) on a bounded worker pool so webhook handlers return without
// waiting on the execution backend. Local state transitions always commit
// before work is submitted here; a failed remote call is logged, never
// surfaced to the triggering request.
type Dispatcher struct {
	tasks   chan dispatchTask
	workers int
	logger  *slog.Logger
}

type dispatchTask struct {
	name string
	fn   func(context.Context) error
}

// NewDispatcher creates a Dispatcher with the given worker count and queue
// capacity.
func NewDispatcher(workers, queueSize int, logger *slog.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		tasks:   make(chan dispatchTask, queueSize),
		workers: workers,
		logger:  logger,
	}
}

// Start runs the worker pool until the context is canceled. It blocks, so
// callers run it in its own goroutine.
func (d *Dispatcher) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case task := <-d.tasks:
					if err := task.fn(ctx); err != nil {
						d.logger.Error("remote operation failed", "op", task.name, "error", err)
					}
				}
			}
		})
	}

	return g.Wait()
}

// Submit enqueues a remote operation. It never blocks: when the queue is
// full the task is dropped with an error log, since every submitted
// operation is best-effort by contract.
func (d *Dispatcher) Submit(name string, fn func(context.Context) error) {
	select {
	case d.tasks <- dispatchTask{name: name, fn: fn}:
	default:
		d.logger.Error("dispatch queue full, dropping remote operation", "op", name)
	}
}
