// Package executor provides the start/stop/crash lifecycle shared by every
// long-running worker in the recording engine.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/mikeyg42/camrecorder/internal/recorder/recorderlog"
)

// ErrAlreadyRunning is returned when Start or StartPacket is called on a live executor.
var ErrAlreadyRunning = errors.New("executor started and not stopped yet")

// State is the lifecycle state of an Executor.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
	StateCrashed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateCrashed:
		return "crashed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Outcome describes how a run ended.
type Outcome int

const (
	Completed Outcome = iota
	Crashed
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Crashed:
		return "crashed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Result is delivered once per run when the worker exits.
type Result struct {
	Outcome Outcome
	Err     error
}

// Worker is the body run by an Executor. Run and RunPacket are alternative
// entry points selected by Start and StartPacket.
type Worker interface {
	Run(ctx context.Context) error
	RunPacket(ctx context.Context) error
}

// Executor runs one Worker at a time on its own goroutine.
//
// Start and Stop take the exclusive side of mu, status reads take the shared
// side. Stop never waits for the worker.
type Executor struct {
	name   string
	worker Worker
	logger recorderlog.Logger

	mu       sync.RWMutex
	state    State
	cancel   context.CancelFunc
	stopCh   chan struct{}
	done     chan struct{}
	result   Result
	lastErr  error

	listeners  listenerSet
	waitNotice time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the executor logger.
func WithLogger(l recorderlog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithWaitNotice sets how long WaitForInfinitely waits before each warning.
func WithWaitNotice(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.waitNotice = d
		}
	}
}

// New creates an idle executor for worker.
func New(name string, worker Worker, opts ...Option) *Executor {
	if worker == nil {
		panic("executor: nil worker")
	}
	e := &Executor{
		name:       name,
		worker:     worker,
		logger:     recorderlog.L(),
		waitNotice: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("executor").With(recorderlog.String("executor", name))
	return e
}

// Name returns the executor name.
func (e *Executor) Name() string { return e.name }

// Start runs the worker's Run entry point.
func (e *Executor) Start() error {
	return e.start(e.worker.Run)
}

// StartPacket runs the worker's RunPacket entry point.
func (e *Executor) StartPacket() error {
	return e.start(e.worker.RunPacket)
}

func (e *Executor) start(body func(context.Context) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateRunning || e.state == StateStopping {
		e.logger.Error("Executor started and not stopped yet")
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.stopCh = make(chan struct{})
	e.done = make(chan struct{})
	e.result = Result{}
	e.state = StateRunning

	go e.loop(ctx, body, e.stopCh, e.done)
	return nil
}

func (e *Executor) loop(ctx context.Context, body func(context.Context) error, stopCh, done chan struct{}) {
	defer close(done)

	e.logger.Debug("Executor started")
	e.listeners.notify(e, EventStart)

	err := e.invoke(ctx, body)

	stopRequested := false
	select {
	case <-stopCh:
		stopRequested = true
	default:
	}

	var res Result
	switch {
	case err == nil && stopRequested:
		res = Result{Outcome: Cancelled}
	case err == nil:
		res = Result{Outcome: Completed}
	case stopRequested && errors.Is(err, context.Canceled):
		res = Result{Outcome: Cancelled}
	default:
		res = Result{Outcome: Crashed, Err: err}
	}

	if res.Outcome == Crashed {
		e.mu.Lock()
		e.lastErr = err
		e.mu.Unlock()
		e.logger.Error("Executor crashed", recorderlog.Error(err))
		e.listeners.notify(e, EventCrash)
	} else {
		e.listeners.notify(e, EventStop)
		e.logger.Debug("Executor stopped")
	}

	e.mu.Lock()
	e.result = res
	if res.Outcome == Crashed {
		e.state = StateCrashed
	} else {
		e.state = StateStopped
	}
	e.cancel()
	e.mu.Unlock()
}

func (e *Executor) invoke(ctx context.Context, body func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor %q panicked: %v\n%s", e.name, r, debug.Stack())
		}
	}()
	return body(ctx)
}

// Stop requests cooperative termination. With interrupt set the worker
// context is cancelled as well, which aborts blocking calls that honor it.
// Stop is safe to call any number of times and never blocks on the worker.
func (e *Executor) Stop(interrupt bool) {
	e.mu.Lock()
	first := false
	if e.state == StateRunning {
		e.state = StateStopping
		first = true
	}
	if e.stopCh != nil {
		select {
		case <-e.stopCh:
		default:
			close(e.stopCh)
		}
	}
	if interrupt && e.cancel != nil {
		e.cancel()
	}
	e.mu.Unlock()

	if first {
		e.listeners.notify(e, EventStopping)
	}
}

// Stopping reports whether a stop was requested for the live run.
func (e *Executor) Stopping() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state == StateStopping
}

// StopRequested returns a channel closed when Stop is called for the current run.
func (e *Executor) StopRequested() <-chan struct{} {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.stopCh == nil {
		return closedChan
	}
	return e.stopCh
}

// Sleep pauses the worker for d or until a stop is requested. It reports
// false when woken by a stop.
func (e *Executor) Sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-e.StopRequested():
		return false
	}
}

// IsExecuting reports whether the worker goroutine is still alive.
func (e *Executor) IsExecuting() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state == StateRunning || e.state == StateStopping
}

// State returns the current lifecycle state.
func (e *Executor) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// IsCrashed reports whether the last run crashed and the crash was not cleared.
func (e *Executor) IsCrashed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastErr != nil
}

// LastCrash returns the error of the last crash.
func (e *Executor) LastCrash() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastErr
}

// ClearCrash forgets the last crash error.
func (e *Executor) ClearCrash() {
	e.mu.Lock()
	e.lastErr = nil
	e.mu.Unlock()
}

// Result returns the outcome of the last finished run.
func (e *Executor) Result() Result {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.result
}

// Done returns a channel closed when the current run exits. It is already
// closed when the executor never started.
func (e *Executor) Done() <-chan struct{} {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.done == nil {
		return closedChan
	}
	return e.done
}

// WaitFor blocks until the worker exits or ctx is done.
func (e *Executor) WaitFor(ctx context.Context) error {
	select {
	case <-e.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitForInfinitely blocks until the worker exits, logging a warning each
// time the wait exceeds the notice interval.
func (e *Executor) WaitForInfinitely() {
	done := e.Done()
	started := time.Now()
	ticker := time.NewTicker(e.waitNotice)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			e.logger.Warn("Can't stop, waiting infinitely",
				recorderlog.Duration("waited", time.Since(started)))
		}
	}
}

// StopAndWaitFor stops the worker and waits for it within ctx.
func (e *Executor) StopAndWaitFor(ctx context.Context) error {
	e.Stop(false)
	return e.WaitFor(ctx)
}

// StopAndWaitForInfinitely stops the worker and waits without a deadline.
func (e *Executor) StopAndWaitForInfinitely() {
	e.Stop(false)
	e.WaitForInfinitely()
}

// AddListener registers l for lifecycle events and returns a function that
// unregisters it.
func (e *Executor) AddListener(l Listener) (remove func()) {
	return e.listeners.add(l)
}

var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()
