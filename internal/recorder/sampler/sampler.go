package sampler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/mikeyg42/camrecorder/internal/recorder/executor"
	"github.com/mikeyg42/camrecorder/internal/recorder/fifo"
	"github.com/mikeyg42/camrecorder/internal/recorder/recorderlog"
)

// Version is the sampler part of every sample's info string.
const Version = "1.0"

// DefaultGapTolerance is the largest start/end drift that is treated as a
// gapless continuation of the previous sample.
const DefaultGapTolerance = 10 * time.Second

var (
	// ErrEntryPointMismatch is returned when Run and RunPacket are mixed on
	// one sampler.
	ErrEntryPointMismatch = errors.New("run and run-packet entry points can't be mixed")
	// ErrEngineStopped is the crash cause when the engine stops on its own.
	ErrEngineStopped = errors.New("unexpected stop of sampler engine")
)

type entryPoint int

const (
	entryNone entryPoint = iota
	entryRun
	entryPacket
)

type rawChunk struct {
	path  string
	begin time.Time
}

// Sampler converts the raw chunks of an Engine into samples and passes them
// to a SampleHandler. Raw chunks are converted in arrival order and handed
// to the handler in the same order.
type Sampler struct {
	*executor.Executor

	engine       Engine
	factory      *SampleFactory
	logger       recorderlog.Logger
	gapTolerance time.Duration
	onDrop       func(path string, err error)

	mu            sync.Mutex
	queue         []rawChunk
	engineRunning bool
	entry         entryPoint
	handler       SampleHandler
	wake          chan struct{}

	// touched only by the run goroutine
	lastSampleEnd time.Time
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithLogger sets the sampler logger.
func WithLogger(l recorderlog.Logger) Option {
	return func(s *Sampler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithGapTolerance overrides DefaultGapTolerance.
func WithGapTolerance(d time.Duration) Option {
	return func(s *Sampler) {
		if d > 0 {
			s.gapTolerance = d
		}
	}
}

// WithHandler sets the initial sample handler.
func WithHandler(h SampleHandler) Option {
	return func(s *Sampler) { s.handler = h }
}

// WithDropHook registers fn to be told about raw chunks that failed
// conversion and were deleted.
func WithDropHook(fn func(path string, err error)) Option {
	return func(s *Sampler) { s.onDrop = fn }
}

// New binds a sampler to engine. The engine's raw handler is claimed by the
// sampler, so an engine can serve only one sampler.
func New(engine Engine, factory *SampleFactory, opts ...Option) (*Sampler, error) {
	if engine == nil {
		return nil, errors.New("sampler engine is required")
	}
	if factory == nil {
		return nil, errors.New("sample factory is required")
	}
	s := &Sampler{
		engine:       engine,
		factory:      factory,
		logger:       recorderlog.L(),
		gapTolerance: DefaultGapTolerance,
		wake:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := engine.InitRawSampleHandler(s.enqueue); err != nil {
		return nil, err
	}

	engine.AddListener(executor.ListenerFuncs{
		Start: func(*executor.Executor) { s.setEngineRunning(true) },
		Stop:  func(*executor.Executor) { s.setEngineRunning(false) },
		Crash: func(*executor.Executor) { s.setEngineRunning(false) },
	})

	s.Executor = executor.New("sampler", s, executor.WithLogger(s.logger))
	s.logger = s.logger.Named("sampler").With(recorderlog.String("engine", engine.Info()))
	return s, nil
}

// Info returns "{sampler version}/{engine info}".
func (s *Sampler) Info() string {
	return Version + "/" + s.engine.Info()
}

// Engine returns the bound engine.
func (s *Sampler) Engine() Engine { return s.engine }

// SetSampleHandler replaces the sample handler. It takes effect for the
// next delivered sample.
func (s *Sampler) SetSampleHandler(h SampleHandler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// SampleHandler returns the current handler.
func (s *Sampler) SampleHandler() SampleHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler
}

func (s *Sampler) enqueue(path string, begin time.Time) {
	s.mu.Lock()
	s.queue = append(s.queue, rawChunk{path: path, begin: begin})
	s.mu.Unlock()
	s.signal()
}

func (s *Sampler) setEngineRunning(v bool) {
	s.mu.Lock()
	s.engineRunning = v
	s.mu.Unlock()
	s.signal()
}

func (s *Sampler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run starts the engine in transcoding mode and converts its chunks until
// stopped.
func (s *Sampler) Run(ctx context.Context) error {
	return s.run(ctx, entryRun, s.engine.Start)
}

// RunPacket starts the engine in passthrough mode.
func (s *Sampler) RunPacket(ctx context.Context) error {
	return s.run(ctx, entryPacket, s.engine.StartPacket)
}

func (s *Sampler) claimEntry(entry entryPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry != entryNone && s.entry != entry {
		return ErrEntryPointMismatch
	}
	s.entry = entry
	return nil
}

func (s *Sampler) run(ctx context.Context, entry entryPoint, start func() error) error {
	s.logger.Debug("Attempt to start sampler")
	if err := s.claimEntry(entry); err != nil {
		return err
	}

	d := newDispatcher(s.SampleHandler, s.logger)
	defer func() {
		d.Close()
		<-d.Done()
	}()
	defer func() {
		s.engine.Stop(true)
		s.engine.WaitForInfinitely()
		s.drain(d)
		s.logger.Debug("Sampler is stopped")
	}()

	// Assume the engine is up; its listener clears the flag when it exits.
	s.setEngineRunning(true)
	if err := start(); err != nil {
		return fmt.Errorf("failed to start sampler engine: %w", err)
	}

	stop := s.StopRequested()
	for !s.Stopping() {
		s.mu.Lock()
		running, pending := s.engineRunning, len(s.queue)
		s.mu.Unlock()

		if !running {
			if cause := s.engine.LastCrash(); cause != nil {
				return fmt.Errorf("%w: %w", ErrEngineStopped, cause)
			}
			return ErrEngineStopped
		}
		if pending == 0 {
			select {
			case <-s.wake:
			case <-stop:
			case <-ctx.Done():
			}
		}
		s.drain(d)
	}
	return nil
}

func (s *Sampler) drain(d *fifo.Worker[*Sample]) {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		raw := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		if sample := s.convert(raw); sample != nil {
			d.Push(sample)
		}
	}
}

func (s *Sampler) convert(raw rawChunk) *Sample {
	begin := raw.begin
	if !s.lastSampleEnd.IsZero() {
		shift := begin.Sub(s.lastSampleEnd)
		if shift < 0 {
			shift = -shift
		}
		if shift < s.gapTolerance {
			begin = s.lastSampleEnd
		} else {
			s.logger.Warn("Shift is larger than tolerance",
				recorderlog.Duration("shift", shift),
				recorderlog.Duration("tolerance", s.gapTolerance))
		}
	}

	sample, err := s.factory.CreateSample(s.Info(), begin, raw.path)
	if err != nil {
		s.logger.Warn("Can't create sample", recorderlog.String("file", raw.path), recorderlog.Error(err))
		if rmErr := os.Remove(raw.path); rmErr != nil && !os.IsNotExist(rmErr) {
			s.logger.Warn("Can't delete corrupted raw sample file",
				recorderlog.String("file", raw.path), recorderlog.Error(rmErr))
		}
		if s.onDrop != nil {
			s.onDrop(raw.path, err)
		}
		return nil
	}
	s.lastSampleEnd = sample.End()
	return sample
}
