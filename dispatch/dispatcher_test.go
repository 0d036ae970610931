package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func reviewTask(t *testing.T, sha string) *Task {
	t.Helper()
	task, err := NewTask(KindReview, "acme/app#42@"+sha, "acme/app", map[string]any{"pr": 42, "head_sha": sha})
	require.NoError(t, err)
	return task
}

func startDispatcher(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	t.Cleanup(func() {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer drainCancel()
		_ = d.AwaitAll(drainCtx)
		cancel()
	})
}

func waitForStatus(t *testing.T, store Store, id string, want Status) *Task {
	t.Helper()
	var got *Task
	require.Eventually(t, func() bool {
		task, err := store.Get(context.Background(), id)
		if err != nil {
			return false
		}
		got = task
		return task.Status == want
	}, 5*time.Second, 10*time.Millisecond, "task %s never reached %s", id, want)
	return got
}

func TestDuplicateSynchronizeRunsOnce(t *testing.T) {
	store := NewMemoryStore()
	d := New(store, Options{Workers: 2, PollInterval: 20 * time.Millisecond}, testLogger())

	var runs atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	d.Handle(KindReview, func(ctx context.Context, task *Task) error {
		if runs.Add(1) == 1 {
			close(started)
		}
		<-release
		return nil
	})
	startDispatcher(t, d)

	first := reviewTask(t, "abc123")
	ok, err := d.Dispatch(context.Background(), first)
	require.NoError(t, err)
	require.True(t, ok)

	<-started
	time.Sleep(200 * time.Millisecond)

	ok, err = d.Dispatch(context.Background(), reviewTask(t, "abc123"))
	require.NoError(t, err)
	assert.False(t, ok, "second delivery for the same head SHA must be dropped")

	close(release)
	waitForStatus(t, store, first.ID, StatusCompleted)
	assert.Equal(t, int32(1), runs.Load())

	tasks, err := store.ListByRepo(context.Background(), "acme/app", 10)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestConcurrentDispatchSameKey(t *testing.T) {
	store := NewMemoryStore()
	d := New(store, Options{Workers: 1}, testLogger())

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task, _ := NewTask(KindReview, "acme/app#42@abc123", "acme/app", nil)
			if ok, err := d.Dispatch(context.Background(), task); err == nil && ok {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), accepted.Load())
}

func TestNewHeadSHAIsNewKey(t *testing.T) {
	store := NewMemoryStore()
	d := New(store, Options{Workers: 1}, testLogger())

	ok, err := d.Dispatch(context.Background(), reviewTask(t, "abc123"))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = d.Dispatch(context.Background(), reviewTask(t, "def456"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTerminalTaskNoLongerBlocksKey(t *testing.T) {
	store := NewMemoryStore()
	d := New(store, Options{Workers: 1, PollInterval: 20 * time.Millisecond}, testLogger())
	d.Handle(KindReview, func(ctx context.Context, task *Task) error { return nil })
	startDispatcher(t, d)

	first := reviewTask(t, "abc123")
	_, err := d.Dispatch(context.Background(), first)
	require.NoError(t, err)
	waitForStatus(t, store, first.ID, StatusCompleted)

	ok, err := d.Dispatch(context.Background(), reviewTask(t, "abc123"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHandlerErrorMarksFailedWithoutRetry(t *testing.T) {
	store := NewMemoryStore()
	d := New(store, Options{Workers: 2, PollInterval: 10 * time.Millisecond}, testLogger())

	var runs atomic.Int32
	d.Handle(KindReview, func(ctx context.Context, task *Task) error {
		runs.Add(1)
		return errors.New("failed to fetch pull request files: github resource not found")
	})
	startDispatcher(t, d)

	task := reviewTask(t, "abc123")
	_, err := d.Dispatch(context.Background(), task)
	require.NoError(t, err)

	got := waitForStatus(t, store, task.ID, StatusFailed)
	assert.Contains(t, got.Error, "not found")
	assert.NotNil(t, got.FinishedAt)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
}

func TestHandlerPanicIsContained(t *testing.T) {
	store := NewMemoryStore()
	d := New(store, Options{Workers: 1, PollInterval: 10 * time.Millisecond}, testLogger())

	d.Handle(KindReply, func(ctx context.Context, task *Task) error {
		panic("nil map write")
	})
	d.Handle(KindReview, func(ctx context.Context, task *Task) error { return nil })
	startDispatcher(t, d)

	reply, err := NewTask(KindReply, "comment:7", "acme/app", nil)
	require.NoError(t, err)
	_, err = d.Dispatch(context.Background(), reply)
	require.NoError(t, err)

	got := waitForStatus(t, store, reply.ID, StatusFailed)
	assert.Contains(t, got.Error, "panic")

	review := reviewTask(t, "abc123")
	_, err = d.Dispatch(context.Background(), review)
	require.NoError(t, err)
	waitForStatus(t, store, review.ID, StatusCompleted)
}

func TestMissingHandlerFails(t *testing.T) {
	store := NewMemoryStore()
	d := New(store, Options{Workers: 1, PollInterval: 10 * time.Millisecond}, testLogger())
	startDispatcher(t, d)

	task, err := NewTask(KindOnboard, "acme/app/trigger", "acme/app", nil)
	require.NoError(t, err)
	_, err = d.Dispatch(context.Background(), task)
	require.NoError(t, err)

	got := waitForStatus(t, store, task.ID, StatusFailed)
	assert.Contains(t, got.Error, "no handler")
}

func TestDifferentKeysRunInParallel(t *testing.T) {
	store := NewMemoryStore()
	d := New(store, Options{Workers: 2, PollInterval: 10 * time.Millisecond}, testLogger())

	var barrier sync.WaitGroup
	barrier.Add(2)
	d.Handle(KindReview, func(ctx context.Context, task *Task) error {
		barrier.Done()
		done := make(chan struct{})
		go func() { barrier.Wait(); close(done) }()
		select {
		case <-done:
			return nil
		case <-time.After(2 * time.Second):
			return errors.New("other task never started")
		}
	})
	startDispatcher(t, d)

	a, b := reviewTask(t, "aaa"), reviewTask(t, "bbb")
	_, err := d.Dispatch(context.Background(), a)
	require.NoError(t, err)
	_, err = d.Dispatch(context.Background(), b)
	require.NoError(t, err)

	waitForStatus(t, store, a.ID, StatusCompleted)
	waitForStatus(t, store, b.ID, StatusCompleted)
}

func TestRecoverReportsLostTasks(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	task := reviewTask(t, "abc123")
	_, err := store.Enqueue(ctx, task)
	require.NoError(t, err)
	claimed, err := store.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// A fresh dispatcher stands in for the restarted process.
	d := New(store, Options{Workers: 1}, testLogger())
	lost, err := d.Recover(ctx)
	require.NoError(t, err)
	require.Len(t, lost, 1)
	assert.Equal(t, task.ID, lost[0].TaskID)
	assert.Equal(t, "acme/app#42@abc123", lost[0].DedupKey)

	got, err := store.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status, "lost tasks stay non-terminal")

	ok, err := d.Dispatch(ctx, reviewTask(t, "abc123"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPendingTasksSurviveRestart(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	task := reviewTask(t, "abc123")
	_, err := store.Enqueue(ctx, task)
	require.NoError(t, err)

	d := New(store, Options{Workers: 1, PollInterval: 10 * time.Millisecond}, testLogger())
	var runs atomic.Int32
	d.Handle(KindReview, func(ctx context.Context, task *Task) error {
		runs.Add(1)
		return nil
	})
	startDispatcher(t, d)

	waitForStatus(t, store, task.ID, StatusCompleted)
	assert.Equal(t, int32(1), runs.Load())
}

func TestAwaitAllTimesOut(t *testing.T) {
	store := NewMemoryStore()
	d := New(store, Options{Workers: 1, PollInterval: 10 * time.Millisecond}, testLogger())

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	d.Handle(KindReview, func(ctx context.Context, task *Task) error {
		close(started)
		<-release
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	_, err := d.Dispatch(context.Background(), reviewTask(t, "abc123"))
	require.NoError(t, err)
	<-started

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer drainCancel()
	assert.ErrorIs(t, d.AwaitAll(drainCtx), context.DeadlineExceeded)
}

func TestTaskDecode(t *testing.T) {
	task, err := NewTask(KindReply, "comment:7", "acme/app", map[string]int64{"comment_id": 7})
	require.NoError(t, err)

	var payload struct {
		CommentID int64 `json:"comment_id"`
	}
	require.NoError(t, task.Decode(&payload))
	assert.Equal(t, int64(7), payload.CommentID)
}
