package infrastructure

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"retailcrm/internal/interfaces"

	"github.com/rs/zerolog"
)

// TaskRunner runs detached work on goroutines that are not tied to any
// request context. Shutdown cancels the shared context and waits.
type TaskRunner struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger zerolog.Logger
}

func NewTaskRunner(logger zerolog.Logger) *TaskRunner {
	ctx, cancel := context.WithCancel(context.Background())
	return &TaskRunner{
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With().Str("component", "runner").Logger(),
	}
}

// Go implements interfaces.Runner. Panics are logged, never propagated.
func (r *TaskRunner) Go(name string, fn func(ctx context.Context)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error().
					Str("task", name).
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Msg("detached task panicked")
			}
		}()
		fn(r.ctx)
	}()
}

// Shutdown cancels running tasks and waits for them until ctx expires.
func (r *TaskRunner) Shutdown(ctx context.Context) error {
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("runner shutdown: %w", ctx.Err())
	}
}

// TaskRouter maps task kinds to handlers.
type TaskRouter struct {
	mu       sync.RWMutex
	handlers map[string]interfaces.TaskHandler
}

func NewTaskRouter() *TaskRouter {
	return &TaskRouter{handlers: make(map[string]interfaces.TaskHandler)}
}

func (r *TaskRouter) Register(kind string, h interfaces.TaskHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

// Dispatch runs the handler registered for task.Kind.
func (r *TaskRouter) Dispatch(ctx context.Context, task interfaces.Task) error {
	r.mu.RLock()
	h, ok := r.handlers[task.Kind]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no handler for task kind %q", task.Kind)
	}
	return h(ctx, task)
}

// InProcessQueue executes tasks on the runner right away.
type InProcessQueue struct {
	runner  interfaces.Runner
	router  *TaskRouter
	timeout time.Duration
	logger  zerolog.Logger
}

func NewInProcessQueue(runner interfaces.Runner, router *TaskRouter, timeout time.Duration, logger zerolog.Logger) *InProcessQueue {
	return &InProcessQueue{
		runner:  runner,
		router:  router,
		timeout: timeout,
		logger:  logger.With().Str("component", "queue").Logger(),
	}
}

func (q *InProcessQueue) Enqueue(_ context.Context, task interfaces.Task) error {
	q.runner.Go(task.Kind, func(ctx context.Context) {
		if q.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, q.timeout)
			defer cancel()
		}
		if err := q.router.Dispatch(ctx, task); err != nil {
			q.logger.Error().Err(err).Str("task_id", task.ID).Str("kind", task.Kind).Msg("task failed")
		}
	})
	return nil
}
