// Package device orchestrates the recording sessions of one camera. Each
// reason runs its own session; starting and stopping is idempotent and
// sessions leave the active table only once their worker has wound down.
// A start requested while the previous session is still stopping is queued
// and runs once that session is gone.
package device

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/mikeyg42/camrecorder/internal/metrics"
	"github.com/mikeyg42/camrecorder/internal/recorder/executor"
	"github.com/mikeyg42/camrecorder/internal/recorder/media"
	"github.com/mikeyg42/camrecorder/internal/recorder/record"
	"github.com/mikeyg42/camrecorder/internal/recorder/recorderlog"
	"github.com/mikeyg42/camrecorder/internal/recorder/sampler"
)

var (
	// ErrClosed is returned by TriggerRecording after Close.
	ErrClosed = errors.New("device is closed")
	// ErrInsufficientSpace is returned when the work volume is too full.
	ErrInsufficientSpace = errors.New("insufficient disk space")
)

// EngineFactory builds the engine of a new session. The engine writes raw
// chunks into dir, which exists.
type EngineFactory func(channel *media.Channel, dir string) (sampler.Engine, error)

// TriggerFactory returns the triggers a session for reason records with.
type TriggerFactory func(reason Reason) ([]record.Trigger, error)

// Config configures a Device.
type Config struct {
	Name    string
	Channel *media.Channel
	// WorkRoot may be shared between devices; sessions work in
	// {WorkRoot}/{Name}/{reason}.
	WorkRoot string
	// Passthrough selects the packet entry point of the sampler.
	Passthrough bool

	Engines  EngineFactory
	Probes   sampler.ProbeFactory
	Triggers TriggerFactory
	Archiver *Archiver

	GapTolerance time.Duration
	// Restart decides what happens after a crash. Nil never restarts.
	Restart executor.PolicyFactory
	// MinFreeBytes refuses new sessions below this much free space.
	MinFreeBytes uint64
	// Pool is shared between devices. Nil creates a private pool.
	Pool   *WorkerPool
	Logger recorderlog.Logger
}

// AlwaysTriggers records everything with the default paddings.
func AlwaysTriggers(Reason) ([]record.Trigger, error) {
	t, err := record.NewAlwaysTrue(record.DefaultDurationBefore, record.DefaultDurationAfter)
	if err != nil {
		return nil, err
	}
	return []record.Trigger{t}, nil
}

// Device owns the reason to session table of one camera.
type Device struct {
	cfg       Config
	logger    recorderlog.Logger
	pool      *WorkerPool
	listeners recordListeners

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	active map[Reason]*RecordSession
	// queued holds reasons turned back on while their session was stopping.
	queued   map[Reason]bool
	restarts map[Reason]executor.RestartPolicy
	timers   map[Reason]*time.Timer
	closed   bool
}

// New validates cfg and creates the work root.
func New(cfg Config) (*Device, error) {
	switch {
	case cfg.Name == "":
		return nil, errors.New("device name is required")
	case cfg.Channel == nil:
		return nil, media.ErrNoSources
	case cfg.WorkRoot == "":
		return nil, errors.New("work root is required")
	case cfg.Engines == nil:
		return nil, errors.New("engine factory is required")
	case cfg.Probes == nil:
		return nil, errors.New("probe factory is required")
	case cfg.Archiver == nil:
		return nil, errors.New("archiver is required")
	}
	if cfg.Triggers == nil {
		cfg.Triggers = AlwaysTriggers
	}
	if cfg.GapTolerance <= 0 {
		cfg.GapTolerance = sampler.DefaultGapTolerance
	}
	if cfg.Restart == nil {
		cfg.Restart = executor.NoRestart
	}
	if cfg.Pool == nil {
		cfg.Pool = NewWorkerPool(4)
	}
	if cfg.Logger == nil {
		cfg.Logger = recorderlog.L()
	}
	if err := os.MkdirAll(cfg.WorkRoot, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work root: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Device{
		cfg:      cfg,
		logger:   cfg.Logger.Named("device").With(recorderlog.String("device", cfg.Name)),
		pool:     cfg.Pool,
		ctx:      ctx,
		cancel:   cancel,
		active:   make(map[Reason]*RecordSession),
		queued:   make(map[Reason]bool),
		restarts: make(map[Reason]executor.RestartPolicy),
		timers:   make(map[Reason]*time.Timer),
	}, nil
}

func (d *Device) Name() string            { return d.cfg.Name }
func (d *Device) Channel() *media.Channel { return d.cfg.Channel }
func (d *Device) WorkRoot() string        { return d.cfg.WorkRoot }

// AddListener registers l and returns its removal func.
func (d *Device) AddListener(l RecordListener) (remove func()) {
	return d.listeners.add(l)
}

// ClearListeners drops every listener.
func (d *Device) ClearListeners() {
	d.listeners.clear()
}

// TriggerRecording turns the session for reason on or off. It returns true
// when the call changed the requested state: a session was started or
// queued, a stop was requested, or a queued start was cancelled.
func (d *Device) TriggerRecording(on bool, reason Reason) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.active[reason]
	if on {
		if d.closed {
			return false, ErrClosed
		}
		if !ok {
			if err := d.startSession(reason); err != nil {
				return false, err
			}
			return true, nil
		}
		if !s.stopping || d.queued[reason] {
			return false, nil
		}
		d.queued[reason] = true
		return true, nil
	}

	d.cancelRestart(reason)
	if d.queued[reason] {
		delete(d.queued, reason)
		return true, nil
	}
	if !ok || s.stopping {
		return false, nil
	}
	d.requestStop(s)
	return true, nil
}

// startSession must be called with d.mu held.
func (d *Device) startSession(reason Reason) error {
	if err := checkDiskSpace(d.cfg.WorkRoot, d.cfg.MinFreeBytes); err != nil {
		return err
	}
	s, err := d.newSession(reason)
	if err != nil {
		return err
	}
	d.active[reason] = s
	d.updateGauge()
	d.pool.Go(func() {
		err := s.start()
		switch {
		case errors.Is(err, errStoppedBeforeStart):
			d.abandon(s)
		case err != nil:
			d.logger.Error("Failed to start session", recorderlog.String("reason", reason.String()), recorderlog.Error(err))
			d.abandon(s)
		}
	})
	return nil
}

// requestStop must be called with d.mu held.
func (d *Device) requestStop(s *RecordSession) {
	if s.stopping {
		return
	}
	s.stopping = true
	d.pool.Go(s.stop)
}

// release drops s from the table and reports whether a start is queued
// behind it. It must be called with d.mu held.
func (d *Device) release(s *RecordSession) bool {
	if d.active[s.reason] != s {
		return false
	}
	delete(d.active, s.reason)
	d.updateGauge()
	return d.queued[s.reason]
}

// startQueued starts the session queued for reason unless the request was
// cancelled or another session took its place.
func (d *Device) startQueued(reason Reason) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.queued[reason] {
		return
	}
	delete(d.queued, reason)
	if d.closed {
		return
	}
	if _, ok := d.active[reason]; ok {
		return
	}
	if err := d.startSession(reason); err != nil {
		d.logger.Error("Failed to start queued session", recorderlog.String("reason", reason.String()), recorderlog.Error(err))
	}
}

// SetRecordingEnabled pauses or resumes the session for reason. A paused
// session keeps its stream and discards every sample. It reports false when
// reason has no session.
func (d *Device) SetRecordingEnabled(reason Reason, enabled bool) bool {
	d.mu.Lock()
	s, ok := d.active[reason]
	d.mu.Unlock()
	if !ok {
		return false
	}
	s.recorder.SetEnabled(enabled)
	s.logger.Info("Recording enabled changed", recorderlog.Bool("enabled", enabled))
	return true
}

// abandon drops a session whose sampler never ran.
func (d *Device) abandon(s *RecordSession) {
	defer s.finish()
	s.drain(d.ctx)
	d.cfg.Archiver.Sweep(d.ctx, d.cfg.Name, s.reason, s.dir)

	d.mu.Lock()
	queued := d.release(s)
	d.mu.Unlock()
	if queued {
		d.startQueued(s.reason)
	}
}

func (d *Device) onSessionStart(s *RecordSession) {
	d.listeners.each(d.logger, "record", func(l RecordListener) { l.OnRecord(d, s.reason) })
}

// onSessionStop runs on the sampler goroutine after a requested stop.
func (d *Device) onSessionStop(s *RecordSession) {
	defer s.finish()

	s.drain(d.ctx)
	d.cfg.Archiver.Sweep(d.ctx, d.cfg.Name, s.reason, s.dir)

	d.mu.Lock()
	queued := d.release(s)
	if p, ok := d.restarts[s.reason]; ok {
		p.Reset()
	}
	d.mu.Unlock()

	d.logger.Warn("Recording has been terminated", recorderlog.String("reason", s.reason.String()))
	d.listeners.each(d.logger, "stop", func(l RecordListener) { l.OnStop(d, s.reason) })
	if queued {
		d.startQueued(s.reason)
	}
}

// onSessionCrash runs on the sampler goroutine after a failure. The work
// dir is kept so the next session for the reason sweeps it.
func (d *Device) onSessionCrash(s *RecordSession, cause error) {
	defer s.finish()

	d.logger.Warn("Record engine crashed", recorderlog.String("reason", s.reason.String()), recorderlog.Error(cause))
	metrics.RecordCrash(d.cfg.Name, s.reason.String())
	s.forceStop()
	s.drain(d.ctx)

	d.mu.Lock()
	queued := d.release(s)
	if !queued && !s.stopping {
		d.scheduleRestart(s.reason)
	}
	d.mu.Unlock()

	d.listeners.each(d.logger, "crash", func(l RecordListener) { l.OnCrash(d, s.reason, cause) })
	if queued {
		d.startQueued(s.reason)
	}
}

// scheduleRestart must be called with d.mu held.
func (d *Device) scheduleRestart(reason Reason) {
	if d.closed {
		return
	}
	p, ok := d.restarts[reason]
	if !ok {
		p = d.cfg.Restart()
		d.restarts[reason] = p
	}
	delay, ok := p.Next()
	if !ok {
		d.logger.Info("Session will not be restarted", recorderlog.String("reason", reason.String()))
		return
	}
	d.logger.Info("Restarting session", recorderlog.String("reason", reason.String()), recorderlog.Duration("delay", delay))
	d.timers[reason] = time.AfterFunc(delay, func() {
		d.mu.Lock()
		delete(d.timers, reason)
		d.mu.Unlock()
		if _, err := d.TriggerRecording(true, reason); err != nil {
			d.logger.Error("Restart failed", recorderlog.String("reason", reason.String()), recorderlog.Error(err))
		}
	})
}

// cancelRestart must be called with d.mu held.
func (d *Device) cancelRestart(reason Reason) {
	if t, ok := d.timers[reason]; ok {
		t.Stop()
		delete(d.timers, reason)
	}
	delete(d.restarts, reason)
}

// updateGauge must be called with d.mu held.
func (d *Device) updateGauge() {
	metrics.SetActiveSessions(d.cfg.Name, len(d.active))
}

// wantedLocked reports whether reason is requested on: a session that is
// not stopping, or a start queued behind one that is. It must be called
// with d.mu held.
func (d *Device) wantedLocked(reason Reason) bool {
	s, ok := d.active[reason]
	return ok && (!s.stopping || d.queued[reason])
}

// IsAnyRecording reports whether any reason is requested on.
func (d *Device) IsAnyRecording() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for r := range d.active {
		if d.wantedLocked(r) {
			return true
		}
	}
	return false
}

// IsRecording reports whether reason is requested on. A session that is
// winding down after a stop request no longer counts.
func (d *Device) IsRecording(reason Reason) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.wantedLocked(reason)
}

func (d *Device) IsAlwaysRecordingEnabled() bool    { return d.IsRecording(Always) }
func (d *Device) IsEmergencyRecordingEnabled() bool { return d.IsRecording(Emergency) }

// ActiveRecordList returns the reasons requested on in declaration order.
func (d *Device) ActiveRecordList() []Reason {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Reason, 0, len(d.active))
	for r := range d.active {
		if d.wantedLocked(r) {
			out = append(out, r)
		}
	}
	slices.Sort(out)
	return out
}

// Session returns the active session for reason.
func (d *Device) Session(reason Reason) (*RecordSession, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.active[reason]
	return s, ok
}

// Sessions snapshots the sessions in the table, including those winding
// down, in reason order.
func (d *Device) Sessions() []SessionInfo {
	type entry struct {
		s        *RecordSession
		stopping bool
	}
	d.mu.Lock()
	entries := make([]entry, 0, len(d.active))
	for _, s := range d.active {
		entries = append(entries, entry{s: s, stopping: s.stopping})
	}
	d.mu.Unlock()

	slices.SortFunc(entries, func(a, b entry) int { return int(a.s.reason) - int(b.s.reason) })
	out := make([]SessionInfo, len(entries))
	for i, e := range entries {
		out[i] = e.s.Info()
		out[i].Stopping = e.stopping
	}
	return out
}

// StopAllRecordings requests a stop of every session and cancels pending
// restarts and queued starts. Sessions leave the table as they wind down.
func (d *Device) StopAllRecordings() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for r := range d.timers {
		d.cancelRestart(r)
	}
	clear(d.queued)
	for _, s := range d.active {
		d.requestStop(s)
	}
}

// Close stops every session and waits for them to clean up. When ctx
// expires first, running conversions are cancelled.
func (d *Device) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	for r := range d.timers {
		d.cancelRestart(r)
	}
	clear(d.queued)
	sessions := make([]*RecordSession, 0, len(d.active))
	for _, s := range d.active {
		sessions = append(sessions, s)
		d.requestStop(s)
	}
	d.mu.Unlock()

	defer d.cancel()
	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
