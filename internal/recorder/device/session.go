package device

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mikeyg42/camrecorder/internal/metrics"
	"github.com/mikeyg42/camrecorder/internal/recorder/executor"
	"github.com/mikeyg42/camrecorder/internal/recorder/record"
	"github.com/mikeyg42/camrecorder/internal/recorder/recorderlog"
	"github.com/mikeyg42/camrecorder/internal/recorder/sampler"
)

// RecordSession is one running recording of a device for one reason:
// engine, sampler, lane and recorder bound to a working directory.
type RecordSession struct {
	id      string
	reason  Reason
	dir     string
	started time.Time
	packet  bool

	engine   sampler.Engine
	sampler  *sampler.Sampler
	lane     *record.Lane
	recorder *record.Recorder
	logger   recorderlog.Logger

	mu      sync.Mutex
	stopped bool
	// stopping is guarded by the device mutex.
	stopping bool

	done    chan struct{}
	endOnce sync.Once
}

// errStoppedBeforeStart is returned by start when a stop won the race.
var errStoppedBeforeStart = errors.New("session stopped before it started")

// SessionInfo is a snapshot of a session for reporting.
type SessionInfo struct {
	ID        string    `json:"id"`
	Reason    Reason    `json:"reason"`
	Dir       string    `json:"dir"`
	StartedAt time.Time `json:"started_at"`
	Sampler   string    `json:"sampler"`
	State     string    `json:"state"`
	Enabled   bool      `json:"enabled"`
	Stopping  bool      `json:"stopping"`
}

func (d *Device) newSession(reason Reason) (*RecordSession, error) {
	dir := filepath.Join(d.cfg.WorkRoot, d.cfg.Name, reason.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}

	engine, err := d.cfg.Engines(d.cfg.Channel, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	triggers, err := d.cfg.Triggers(reason)
	if err != nil {
		return nil, fmt.Errorf("failed to create triggers for %s: %w", reason, err)
	}
	factory, err := sampler.NewSampleFactory(d.cfg.Probes)
	if err != nil {
		return nil, err
	}

	s := &RecordSession{
		id:      uuid.NewString(),
		reason:  reason,
		dir:     dir,
		packet:  d.cfg.Passthrough,
		engine:  engine,
		done:    make(chan struct{}),
		started: time.Now(),
	}
	s.logger = d.logger.With(recorderlog.String("reason", reason.String()), recorderlog.String("session", s.id))

	name, label := d.cfg.Name, reason.String()
	s.recorder = record.NewRecorder(
		record.RecordHandlerFuncs{
			Record: func(smp *sampler.Sample) {
				metrics.RecordRecorded(name, label)
				if err := d.cfg.Archiver.Archive(d.ctx, name, reason, smp); err != nil {
					s.logger.Warn("Failed to archive sample", recorderlog.String("file", smp.File()), recorderlog.Error(err))
				}
			},
			Stop: func() { s.logger.Debug("Record window closed") },
		},
		triggers,
		record.WithLogger(s.logger),
		record.WithDiscarder(func(smp *sampler.Sample) {
			metrics.RecordDiscard(name, label)
			if err := os.Remove(smp.File()); err != nil && !os.IsNotExist(err) {
				s.logger.Warn("Couldn't delete discarded sample", recorderlog.String("file", smp.File()), recorderlog.Error(err))
			}
		}),
	)
	s.lane = record.NewLane(sampler.SampleHandlerFunc(func(smp *sampler.Sample) {
		metrics.RecordSample(name, label)
		s.recorder.OnSample(smp)
	}), s.logger)

	smp, err := sampler.New(engine, factory,
		sampler.WithLogger(s.logger),
		sampler.WithGapTolerance(d.cfg.GapTolerance),
		sampler.WithHandler(s.lane),
		sampler.WithDropHook(func(string, error) { metrics.RecordDrop(name, label) }),
	)
	if err != nil {
		s.lane.Close(context.Background())
		return nil, err
	}
	s.sampler = smp
	smp.AddListener(executor.ListenerFuncs{
		Start: func(*executor.Executor) { d.onSessionStart(s) },
		Stop:  func(*executor.Executor) { d.onSessionStop(s) },
		Crash: func(e *executor.Executor) { d.onSessionCrash(s, e.LastCrash()) },
	})
	return s, nil
}

func (s *RecordSession) ID() string           { return s.id }
func (s *RecordSession) Reason() Reason       { return s.reason }
func (s *RecordSession) Dir() string          { return s.dir }
func (s *RecordSession) StartedAt() time.Time { return s.started }

// Sampler exposes the session's sampler.
func (s *RecordSession) Sampler() *sampler.Sampler { return s.sampler }

// Done is closed once the session wound down and cleaned up.
func (s *RecordSession) Done() <-chan struct{} { return s.done }

func (s *RecordSession) Info() SessionInfo {
	return SessionInfo{
		ID:        s.id,
		Reason:    s.reason,
		Dir:       s.dir,
		StartedAt: s.started,
		Sampler:   s.sampler.Info(),
		State:     s.sampler.State().String(),
		Enabled:   s.recorder.Enabled(),
	}
}

func (s *RecordSession) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errStoppedBeforeStart
	}
	s.logger.Info("Recording started")
	if s.packet {
		return s.sampler.StartPacket()
	}
	return s.sampler.Start()
}

func (s *RecordSession) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.logger.Info("Stopping recording")
	s.sampler.Stop(false)
}

// forceStop interrupts the sampler and its engine.
func (s *RecordSession) forceStop() {
	s.sampler.Stop(true)
	s.engine.Stop(true)
}

// drain hands every queued sample to the recorder and closes it. The
// recorder stays open when the lane could not drain in time, since the lane
// may still be feeding it.
func (s *RecordSession) drain(ctx context.Context) {
	if err := s.lane.Close(ctx); err != nil {
		s.logger.Warn("Sample lane did not drain", recorderlog.Error(err))
		return
	}
	s.recorder.Close()
}

func (s *RecordSession) finish() {
	s.endOnce.Do(func() { close(s.done) })
}
