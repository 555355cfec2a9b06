package task

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/secureyeoman/secureyeoman/pkg/audit"
	"github.com/secureyeoman/secureyeoman/pkg/fault"
	"github.com/secureyeoman/secureyeoman/pkg/ids"
)

// queued work item. The exec context travels with the task, not in a
// request context, because execution outlives the submitting request.
type workItem struct {
	task    *Task
	execCtx ExecContext
}

// Executor runs submitted tasks on a fixed pool of workers.
type Executor struct {
	store   *Store
	auditor Auditor
	logger  *slog.Logger
	now     func() time.Time

	guardOpts []GuardOption

	mu        sync.Mutex
	handlers  map[string]Handler
	done      map[string]chan struct{}
	cancels   map[string]context.CancelFunc
	listeners []func(*Task)

	queue    chan workItem
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecClock overrides the time source for tests.
func WithExecClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// WithGuardOptions sets the options applied to every task's loop guard.
func WithGuardOptions(opts ...GuardOption) ExecutorOption {
	return func(e *Executor) { e.guardOpts = opts }
}

// NewExecutor creates the executor and starts its workers.
func NewExecutor(store *Store, auditor Auditor, workers, queueSize int, opts ...ExecutorOption) *Executor {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	e := &Executor{
		store:    store,
		auditor:  auditor,
		logger:   slog.Default().With("component", "task"),
		now:      time.Now,
		handlers: make(map[string]Handler),
		done:     make(map[string]chan struct{}),
		cancels:  make(map[string]context.CancelFunc),
		queue:    make(chan workItem, queueSize),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	return e
}

// RegisterHandler maps a task type to its handler. Submitting an
// unregistered type is rejected.
func (e *Executor) RegisterHandler(taskType string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[taskType] = h
}

// OnComplete registers a callback invoked whenever a task reaches a
// terminal state. Callbacks run on the worker goroutine and should be
// quick or hand off.
func (e *Executor) OnComplete(fn func(*Task)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// SubmitInput is the caller's view of a new task.
type SubmitInput struct {
	Type        string
	Name        string
	Description string
	Input       string
}

// Submit persists the task as queued, records the audit event, and
// schedules it. Returns the persisted record.
func (e *Executor) Submit(ctx context.Context, in SubmitInput, execCtx ExecContext) (*Task, error) {
	if in.Type == "" || in.Name == "" {
		return nil, fault.New(fault.KindInvalidInput, "task: type and name are required")
	}
	e.mu.Lock()
	_, ok := e.handlers[in.Type]
	e.mu.Unlock()
	if !ok {
		return nil, fault.Errorf(fault.KindInvalidInput, "task: no handler for type %q", in.Type)
	}

	now := e.now().UnixMilli()
	t := &Task{
		ID:          ids.New(),
		Type:        in.Type,
		Name:        in.Name,
		Description: in.Description,
		Input:       in.Input,
		Status:      StatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.store.Insert(ctx, t); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.done[t.ID] = make(chan struct{})
	e.mu.Unlock()

	e.recordAudit(ctx, audit.Event{
		Event:         "task_submitted",
		Level:         audit.LevelInfo,
		Message:       "task queued: " + t.Name,
		UserID:        execCtx.UserID,
		CorrelationID: execCtx.CorrelationID,
		Metadata:      map[string]any{"taskId": t.ID, "type": t.Type},
	})

	select {
	case e.queue <- workItem{task: t, execCtx: execCtx}:
	case <-e.stopCh:
		return nil, fault.New(fault.KindInternal, "task: executor stopped")
	default:
		// Queue full. Roll the record back to a terminal state so the
		// caller is not left with a task nothing will run.
		_ = e.store.UpdateState(ctx, t.ID, StatusFailed, "", "queue full", e.now().UnixMilli())
		e.finish(t.ID)
		return nil, fault.New(fault.KindRateLimited, "task: queue full")
	}
	return t, nil
}

// Get returns the persisted task.
func (e *Executor) Get(ctx context.Context, id string) (*Task, error) {
	return e.store.Get(ctx, id)
}

// List returns persisted tasks matching the filter.
func (e *Executor) List(ctx context.Context, f Filter) ([]*Task, error) {
	return e.store.List(ctx, f)
}

// ToolCalls returns the task's persisted tool-call history.
func (e *Executor) ToolCalls(ctx context.Context, id string) ([]ToolCallRecord, error) {
	return e.store.ToolCalls(ctx, id)
}

// Cancel stops a queued or running task. Queued tasks are marked
// cancelled and skipped when dequeued; running tasks get their context
// cancelled and finish as cancelled.
func (e *Executor) Cancel(ctx context.Context, id string) error {
	t, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	switch t.Status {
	case StatusQueued:
		if err := e.store.UpdateState(ctx, id, StatusCancelled, "", "cancelled before start", e.now().UnixMilli()); err != nil {
			return err
		}
		e.finish(id)
		return nil
	case StatusRunning:
		e.mu.Lock()
		cancel := e.cancels[id]
		e.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return nil
	default:
		return fault.Errorf(fault.KindPreconditionFailed, "task: %s already %s", id, t.Status)
	}
}

// Wait blocks until the task reaches a terminal state, then returns it.
func (e *Executor) Wait(ctx context.Context, id string) (*Task, error) {
	e.mu.Lock()
	ch, ok := e.done[id]
	e.mu.Unlock()
	if ok {
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return e.store.Get(ctx, id)
}

// Stop drains in-flight work and shuts the pool down.
func (e *Executor) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}

func (e *Executor) worker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		case item := <-e.queue:
			e.run(item)
		}
	}
}

func (e *Executor) run(item workItem) {
	t := item.task
	ctx := context.Background()

	// A concurrent Cancel may have already retired the task.
	current, err := e.store.Get(ctx, t.ID)
	if err != nil || current.Status != StatusQueued {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.mu.Lock()
	handler := e.handlers[t.Type]
	e.cancels[t.ID] = cancel
	e.mu.Unlock()

	if err := e.store.UpdateState(ctx, t.ID, StatusRunning, "", "", e.now().UnixMilli()); err != nil {
		e.logger.Error("task state transition failed", "taskId", t.ID, "error", err)
		e.finish(t.ID)
		return
	}

	guard := NewLoopGuard(e.guardOpts...)
	result, runErr := handler(runCtx, t, item.execCtx, guard)

	for _, rec := range guard.History() {
		if err := e.store.AppendToolCall(ctx, t.ID, ids.New(), rec); err != nil {
			e.logger.Warn("tool call persist failed", "taskId", t.ID, "error", err)
		}
	}

	status := StatusCompleted
	errMsg := ""
	switch {
	case runCtx.Err() == context.Canceled:
		status = StatusCancelled
		errMsg = "cancelled"
	case runErr != nil:
		status = StatusFailed
		errMsg = runErr.Error()
	}
	if err := e.store.UpdateState(ctx, t.ID, status, result, errMsg, e.now().UnixMilli()); err != nil {
		e.logger.Error("task state transition failed", "taskId", t.ID, "error", err)
	}

	e.recordAudit(ctx, audit.Event{
		Event:         "task_" + string(status),
		Level:         levelFor(status),
		Message:       "task " + string(status) + ": " + t.Name,
		UserID:        item.execCtx.UserID,
		CorrelationID: item.execCtx.CorrelationID,
		Metadata:      map[string]any{"taskId": t.ID, "type": t.Type},
	})

	final, err := e.store.Get(ctx, t.ID)
	if err != nil {
		final = t
	}
	e.mu.Lock()
	listeners := make([]func(*Task), len(e.listeners))
	copy(listeners, e.listeners)
	delete(e.cancels, t.ID)
	e.mu.Unlock()
	for _, fn := range listeners {
		fn(final)
	}
	e.finish(t.ID)
}

func (e *Executor) finish(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ch, ok := e.done[id]; ok {
		close(ch)
		delete(e.done, id)
	}
}

func (e *Executor) recordAudit(ctx context.Context, ev audit.Event) {
	if e.auditor == nil {
		return
	}
	if _, err := e.auditor.Record(ctx, ev); err != nil {
		e.logger.Warn("audit record failed", "event", ev.Event, "error", err)
	}
}

func levelFor(status Status) audit.Level {
	if status == StatusFailed {
		return audit.LevelWarn
	}
	return audit.LevelInfo
}
