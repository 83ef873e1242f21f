package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/krobus00/quote-stream-service/internal/entity"
	"github.com/sirupsen/logrus"
)

const defaultTerminateTimeout = 5 * time.Second

type componentRun struct {
	id        string
	component entity.ComponentID
	cancel    context.CancelFunc
	done      chan struct{}
}

// Runner hosts supervised component runs in-process. Every run gets its own id and
// context; terminating a run cancels that context and waits for the body to return.
type Runner struct {
	parent           context.Context
	terminateTimeout time.Duration

	mu    sync.Mutex
	funcs map[entity.ComponentID]entity.RunFunc
	runs  map[string]*componentRun

	wg sync.WaitGroup
}

func NewRunner(parent context.Context, terminateTimeout time.Duration) *Runner {
	if terminateTimeout <= 0 {
		terminateTimeout = defaultTerminateTimeout
	}

	return &Runner{
		parent:           parent,
		terminateTimeout: terminateTimeout,
		funcs:            make(map[entity.ComponentID]entity.RunFunc),
		runs:             make(map[string]*componentRun),
	}
}

func (r *Runner) Register(component entity.ComponentID, fn entity.RunFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.funcs[component] = fn
}

func (r *Runner) Start(component entity.ComponentID) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fn, ok := r.funcs[component]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownComponent, component)
	}
	if err := r.parent.Err(); err != nil {
		return "", err
	}

	ctx, cancel := context.WithCancel(r.parent)
	run := &componentRun{
		id:        uuid.NewString(),
		component: component,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	r.runs[run.id] = run

	r.wg.Add(1)
	go r.execute(ctx, run, fn)

	logrus.WithFields(logrus.Fields{
		"component": component,
		"run_id":    run.id,
	}).Info("component run started")

	return run.id, nil
}

// Terminate cancels the run and waits for it to exit. Unknown or finished runs are a no-op.
func (r *Runner) Terminate(runID string) error {
	r.mu.Lock()
	run, ok := r.runs[runID]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	run.cancel()

	timer := time.NewTimer(r.terminateTimeout)
	defer timer.Stop()

	select {
	case <-run.done:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: %s", ErrTerminateTimeout, runID)
	}
}

func (r *Runner) IsRunning(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.runs[runID]
	return ok
}

// Shutdown cancels every active run and waits for all of them or for ctx.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	for _, run := range r.runs {
		run.cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) execute(ctx context.Context, run *componentRun, fn entity.RunFunc) {
	defer r.wg.Done()
	defer func() {
		run.cancel()
		r.mu.Lock()
		delete(r.runs, run.id)
		r.mu.Unlock()
		close(run.done)
	}()

	logger := logrus.WithFields(logrus.Fields{
		"component": run.component,
		"run_id":    run.id,
	})
	defer func() {
		if p := recover(); p != nil {
			logger.Errorf("component run panicked: %v", p)
		}
	}()

	err := fn(ctx, run.id)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		logger.Info("component run finished")
	default:
		logger.Errorf("component run exited: %v", err)
	}
}
