package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/louroai/louro/apperr"
)

const (
	// DefaultWorkers is the number of concurrent tasks when Options.Workers is unset.
	DefaultWorkers = 4

	// DefaultPollInterval is how often idle workers look for pending tasks that
	// were not announced through Dispatch (recovered rows, other processes).
	DefaultPollInterval = 2 * time.Second

	finishTimeout = 10 * time.Second
)

// Handler performs one task. A returned error or a panic marks the task failed.
type Handler func(ctx context.Context, task *Task) error

// Options configures a Dispatcher.
type Options struct {
	Workers      int
	PollInterval time.Duration
}

// Dispatcher records tasks in a Store and runs them on a fixed pool of workers.
type Dispatcher struct {
	store        Store
	handlers     map[Kind]Handler
	workers      int
	pollInterval time.Duration
	logger       *slog.Logger

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	running  sync.WaitGroup
}

// New creates a dispatcher. Register handlers with Handle before calling Run.
func New(store Store, opts Options, logger *slog.Logger) *Dispatcher {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Dispatcher{
		store:        store,
		handlers:     make(map[Kind]Handler),
		workers:      workers,
		pollInterval: poll,
		logger:       logger,
		wake:         make(chan struct{}, workers),
		stop:         make(chan struct{}),
	}
}

// Handle registers the handler for a task kind.
func (d *Dispatcher) Handle(kind Kind, h Handler) {
	d.handlers[kind] = h
}

// Dispatch records the task as pending and wakes a worker. It returns false when
// a pending or running task with the same kind and dedup key already exists; the
// duplicate is dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, task *Task) (bool, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	task.Status = StatusPending

	ok, err := d.store.Enqueue(ctx, task)
	if err != nil {
		return false, fmt.Errorf("failed to enqueue %s task: %w", task.Kind, err)
	}

	logger := d.taskLogger(task)
	if !ok {
		logger.Info("duplicate task dropped")
		return false, nil
	}
	logger.Info("task dispatched")

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return true, nil
}

// Recover reports tasks a previous process left running. They stay non-terminal:
// their work is lost and is not retried.
//
// Every running task in the store is assumed to belong to a dead process, so
// only one process may share a task store. A second replica calling Recover
// would report the first one's live tasks as lost.
func (d *Dispatcher) Recover(ctx context.Context) ([]*apperr.ProcessLossError, error) {
	running, err := d.store.ListRunning(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list running tasks: %w", err)
	}
	lost := make([]*apperr.ProcessLossError, 0, len(running))
	for i := range running {
		t := &running[i]
		lossErr := &apperr.ProcessLossError{TaskID: t.ID, Kind: string(t.Kind), DedupKey: t.DedupKey}
		d.taskLogger(t).Error("task lost with previous process", "error", lossErr)
		lost = append(lost, lossErr)
	}
	return lost, nil
}

// Run starts the workers and blocks until ctx is done or AwaitAll is called.
// Tasks already started run to completion with a context that is not cancelled
// by ctx.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher started", "workers", d.workers)
	for i := 0; i < d.workers; i++ {
		d.running.Add(1)
		go d.work(ctx, i)
	}
	select {
	case <-ctx.Done():
		d.shutdown()
	case <-d.stop:
	}
}

// AwaitAll stops claiming new tasks and waits for in-flight tasks until ctx ends.
func (d *Dispatcher) AwaitAll(ctx context.Context) error {
	d.shutdown()

	done := make(chan struct{})
	go func() {
		d.running.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("dispatcher drained")
		return nil
	case <-ctx.Done():
		d.logger.Warn("dispatcher drain timed out, in-flight tasks abandoned")
		return ctx.Err()
	}
}

func (d *Dispatcher) shutdown() {
	d.stopOnce.Do(func() { close(d.stop) })
}

func (d *Dispatcher) work(ctx context.Context, worker int) {
	defer d.running.Done()

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	taskCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-d.stop:
			return
		default:
		}

		task, err := d.store.Claim(taskCtx)
		if err != nil {
			d.logger.Error("failed to claim task", "worker", worker, "error", err)
		}
		if task != nil {
			d.execute(taskCtx, task)
			continue
		}

		select {
		case <-d.stop:
			return
		case <-d.wake:
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) execute(ctx context.Context, task *Task) {
	logger := d.taskLogger(task)
	start := time.Now()
	logger.Info("task started")

	err := d.invoke(ctx, task)

	status, errMsg := StatusCompleted, ""
	if err != nil {
		status, errMsg = StatusFailed, err.Error()
		logger.Error("task failed",
			"error", err,
			"transient", apperr.IsTransient(err),
			"duration", time.Since(start),
		)
	} else {
		logger.Info("task completed", "duration", time.Since(start))
	}

	finishCtx, cancel := context.WithTimeout(ctx, finishTimeout)
	defer cancel()
	if err := d.store.Finish(finishCtx, task.ID, status, errMsg); err != nil {
		logger.Error("failed to record task status", "status", status, "error", err)
	}
}

// invoke runs the handler, turning a panic into an error.
func (d *Dispatcher) invoke(ctx context.Context, task *Task) (err error) {
	handler, ok := d.handlers[task.Kind]
	if !ok {
		return errors.New("no handler registered for task kind " + string(task.Kind))
	}
	defer func() {
		if r := recover(); r != nil {
			d.taskLogger(task).Error("task panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handler(ctx, task)
}

func (d *Dispatcher) taskLogger(t *Task) *slog.Logger {
	logger := d.logger.With("task_id", t.ID, "kind", t.Kind, "dedup_key", t.DedupKey)
	if t.Repo != "" {
		logger = logger.With("repo", t.Repo)
	}
	if t.DeliveryID != "" {
		logger = logger.With("delivery_id", t.DeliveryID)
	}
	return logger
}
