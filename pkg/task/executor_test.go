package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secureyeoman/secureyeoman/pkg/audit"
	"github.com/secureyeoman/secureyeoman/pkg/database"
	"github.com/secureyeoman/secureyeoman/pkg/fault"
)

type stubAuditor struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *stubAuditor) Record(_ context.Context, ev audit.Event) (*audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return &audit.Entry{}, nil
}

func (s *stubAuditor) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Event
	}
	return out
}

func newTestExecutor(t *testing.T, opts ...ExecutorOption) (*Executor, *stubAuditor) {
	t.Helper()
	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewStore(context.Background(), db)
	require.NoError(t, err)

	auditor := &stubAuditor{}
	exec := NewExecutor(store, auditor, 2, 16, opts...)
	t.Cleanup(exec.Stop)
	return exec, auditor
}

func TestSubmitRunsToCompletion(t *testing.T) {
	exec, auditor := newTestExecutor(t)
	ctx := context.Background()

	exec.RegisterHandler("echo", func(_ context.Context, task *Task, execCtx ExecContext, guard *LoopGuard) (string, error) {
		require.NoError(t, guard.RecordToolCall("echo", map[string]any{"input": task.Input}, "ok"))
		return "echo: " + task.Input, nil
	})

	submitted, err := exec.Submit(ctx, SubmitInput{Type: "echo", Name: "say hi", Input: "hi"},
		ExecContext{UserID: "admin", Role: "admin", CorrelationID: "corr-1"})
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, submitted.Status)

	done, err := exec.Wait(ctx, submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, "echo: hi", done.Result)
	assert.Empty(t, done.Error)
	assert.GreaterOrEqual(t, done.UpdatedAt, done.CreatedAt)

	calls, err := exec.ToolCalls(ctx, submitted.ID)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "echo", calls[0].ToolName)

	assert.Contains(t, auditor.names(), "task_submitted")
	assert.Contains(t, auditor.names(), "task_completed")
}

func TestHandlerErrorFailsTask(t *testing.T) {
	exec, auditor := newTestExecutor(t)
	ctx := context.Background()

	exec.RegisterHandler("broken", func(context.Context, *Task, ExecContext, *LoopGuard) (string, error) {
		return "", errors.New("upstream exploded")
	})

	submitted, err := exec.Submit(ctx, SubmitInput{Type: "broken", Name: "doomed"}, ExecContext{UserID: "admin"})
	require.NoError(t, err)

	done, err := exec.Wait(ctx, submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, done.Status)
	assert.Equal(t, "upstream exploded", done.Error)
	assert.Contains(t, auditor.names(), "task_failed")
}

func TestSubmitRejectsUnknownType(t *testing.T) {
	exec, _ := newTestExecutor(t)

	_, err := exec.Submit(context.Background(), SubmitInput{Type: "nope", Name: "x"}, ExecContext{})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindInvalidInput))
}

func TestCancelRunningTask(t *testing.T) {
	exec, _ := newTestExecutor(t)
	ctx := context.Background()

	started := make(chan struct{})
	exec.RegisterHandler("slow", func(runCtx context.Context, _ *Task, _ ExecContext, _ *LoopGuard) (string, error) {
		close(started)
		<-runCtx.Done()
		return "", runCtx.Err()
	})

	submitted, err := exec.Submit(ctx, SubmitInput{Type: "slow", Name: "long haul"}, ExecContext{UserID: "admin"})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never started")
	}
	require.NoError(t, exec.Cancel(ctx, submitted.ID))

	done, err := exec.Wait(ctx, submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, done.Status)

	// Terminal tasks cannot be cancelled again.
	err = exec.Cancel(ctx, submitted.ID)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindPreconditionFailed))
}

func TestOnCompleteFanOut(t *testing.T) {
	exec, _ := newTestExecutor(t)
	ctx := context.Background()

	notified := make(chan *Task, 1)
	exec.OnComplete(func(t *Task) { notified <- t })

	exec.RegisterHandler("echo", func(_ context.Context, task *Task, _ ExecContext, _ *LoopGuard) (string, error) {
		return task.Input, nil
	})

	submitted, err := exec.Submit(ctx, SubmitInput{Type: "echo", Name: "notify", Input: "done"}, ExecContext{})
	require.NoError(t, err)

	select {
	case got := <-notified:
		assert.Equal(t, submitted.ID, got.ID)
		assert.Equal(t, StatusCompleted, got.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("completion listener never fired")
	}
}

func TestListFiltersByStatusAndType(t *testing.T) {
	exec, _ := newTestExecutor(t)
	ctx := context.Background()

	exec.RegisterHandler("echo", func(_ context.Context, task *Task, _ ExecContext, _ *LoopGuard) (string, error) {
		return task.Input, nil
	})

	a, err := exec.Submit(ctx, SubmitInput{Type: "echo", Name: "first"}, ExecContext{})
	require.NoError(t, err)
	b, err := exec.Submit(ctx, SubmitInput{Type: "echo", Name: "second"}, ExecContext{})
	require.NoError(t, err)
	_, err = exec.Wait(ctx, a.ID)
	require.NoError(t, err)
	_, err = exec.Wait(ctx, b.ID)
	require.NoError(t, err)

	tasks, err := exec.List(ctx, Filter{Status: StatusCompleted, Type: "echo"})
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	tasks, err = exec.List(ctx, Filter{Status: StatusFailed})
	require.NoError(t, err)
	assert.Empty(t, tasks)

	tasks, err = exec.List(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestGetUnknownTask(t *testing.T) {
	exec, _ := newTestExecutor(t)

	_, err := exec.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindNotFound))
}
