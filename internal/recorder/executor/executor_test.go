package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// loopWorker spins until stopped, or fails when crash is set.
type loopWorker struct {
	exec    *Executor
	crash   error
	started chan string
}

func newLoopWorker() *loopWorker {
	return &loopWorker{started: make(chan string, 4)}
}

func (w *loopWorker) Run(ctx context.Context) error       { return w.body(ctx, "run") }
func (w *loopWorker) RunPacket(ctx context.Context) error { return w.body(ctx, "packet") }

func (w *loopWorker) body(ctx context.Context, entry string) error {
	w.started <- entry
	if w.crash != nil {
		return w.crash
	}
	for !w.exec.Stopping() {
		w.exec.Sleep(time.Second)
	}
	return nil
}

type recordingListener struct {
	mu     sync.Mutex
	events []Event
}

func (l *recordingListener) OnEvent(_ *Executor, ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *recordingListener) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func newTestExecutor(w *loopWorker) *Executor {
	e := New("test", w, WithWaitNotice(10*time.Millisecond))
	w.exec = e
	return e
}

func TestExecutor_StartStopLifecycle(t *testing.T) {
	w := newLoopWorker()
	e := newTestExecutor(w)
	l := &recordingListener{}
	e.AddListener(l)

	assert.Equal(t, StateIdle, e.State())
	assert.False(t, e.IsExecuting())

	require.NoError(t, e.Start())
	assert.Equal(t, "run", <-w.started)
	assert.True(t, e.IsExecuting())

	e.StopAndWaitForInfinitely()

	assert.False(t, e.IsExecuting())
	assert.Equal(t, StateStopped, e.State())
	assert.Equal(t, Cancelled, e.Result().Outcome)
	assert.False(t, e.IsCrashed())
	assert.ElementsMatch(t, []Event{EventStart, EventStopping, EventStop}, l.Events())
}

func TestExecutor_StartWhileRunningFails(t *testing.T) {
	w := newLoopWorker()
	e := newTestExecutor(w)

	require.NoError(t, e.StartPacket())
	assert.Equal(t, "packet", <-w.started)

	assert.ErrorIs(t, e.Start(), ErrAlreadyRunning)
	assert.ErrorIs(t, e.StartPacket(), ErrAlreadyRunning)
	assert.True(t, e.IsExecuting(), "existing run must be untouched")

	e.StopAndWaitForInfinitely()
}

func TestExecutor_StopIsIdempotent(t *testing.T) {
	w := newLoopWorker()
	e := newTestExecutor(w)
	l := &recordingListener{}
	e.AddListener(l)

	// Stop before start is harmless.
	e.Stop(false)

	require.NoError(t, e.Start())
	<-w.started
	for i := 0; i < 5; i++ {
		e.Stop(i%2 == 0)
	}
	e.WaitForInfinitely()
	e.Stop(true)

	assert.Equal(t, StateStopped, e.State())
	stopping := 0
	for _, ev := range l.Events() {
		if ev == EventStopping {
			stopping++
		}
	}
	assert.Equal(t, 1, stopping)
}

func TestExecutor_CrashRecordsLastError(t *testing.T) {
	w := newLoopWorker()
	w.crash = errors.New("boom")
	e := newTestExecutor(w)
	l := &recordingListener{}
	e.AddListener(l)

	require.NoError(t, e.Start())
	<-w.started
	e.WaitForInfinitely()

	assert.True(t, e.IsCrashed())
	assert.EqualError(t, e.LastCrash(), "boom")
	assert.Equal(t, StateCrashed, e.State())
	assert.Equal(t, Crashed, e.Result().Outcome)
	assert.Equal(t, []Event{EventStart, EventCrash}, l.Events())

	e.ClearCrash()
	assert.False(t, e.IsCrashed())
}

func TestExecutor_PanicBecomesCrash(t *testing.T) {
	e := New("panicky", panicWorker{})
	require.NoError(t, e.Start())
	e.WaitForInfinitely()

	require.Error(t, e.LastCrash())
	assert.Contains(t, e.LastCrash().Error(), "kaboom")
}

type panicWorker struct{}

func (panicWorker) Run(context.Context) error       { panic("kaboom") }
func (panicWorker) RunPacket(context.Context) error { panic("kaboom") }

func TestExecutor_RestartAfterStop(t *testing.T) {
	w := newLoopWorker()
	e := newTestExecutor(w)

	require.NoError(t, e.Start())
	<-w.started
	e.StopAndWaitForInfinitely()

	require.NoError(t, e.Start())
	<-w.started
	assert.True(t, e.IsExecuting())
	e.StopAndWaitForInfinitely()
}

func TestExecutor_ListenerPanicDoesNotStopDelivery(t *testing.T) {
	w := newLoopWorker()
	e := newTestExecutor(w)
	e.AddListener(ListenerFuncs{Start: func(*Executor) { panic("bad listener") }})
	l := &recordingListener{}
	e.AddListener(l)

	require.NoError(t, e.Start())
	<-w.started
	e.StopAndWaitForInfinitely()

	assert.ElementsMatch(t, []Event{EventStart, EventStopping, EventStop}, l.Events())
	assert.False(t, e.IsCrashed())
}

func TestExecutor_RemoveListener(t *testing.T) {
	w := newLoopWorker()
	e := newTestExecutor(w)
	l := &recordingListener{}
	remove := e.AddListener(l)
	remove()

	require.NoError(t, e.Start())
	<-w.started
	e.StopAndWaitForInfinitely()

	assert.Empty(t, l.Events())
}

func TestExecutor_InterruptCancelsContext(t *testing.T) {
	e := New("blocking", ctxWorker{})
	require.NoError(t, e.Start())

	e.Stop(true)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.WaitFor(ctx))
	assert.Equal(t, Cancelled, e.Result().Outcome)
}

type ctxWorker struct{}

func (ctxWorker) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}
func (ctxWorker) RunPacket(ctx context.Context) error { return ctxWorker{}.Run(ctx) }

func TestExecutor_WaitForTimesOut(t *testing.T) {
	w := newLoopWorker()
	e := newTestExecutor(w)
	require.NoError(t, e.Start())
	<-w.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, e.WaitFor(ctx), context.DeadlineExceeded)

	e.StopAndWaitForInfinitely()
}

func TestExecutor_SleepWakesOnStop(t *testing.T) {
	w := newLoopWorker()
	e := newTestExecutor(w)
	require.NoError(t, e.Start())
	<-w.started

	start := time.Now()
	e.StopAndWaitForInfinitely()
	assert.Less(t, time.Since(start), time.Second)
}
