package sampler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mikeyg42/camrecorder/internal/metrics"
	"github.com/mikeyg42/camrecorder/internal/recorder/chunker"
	"github.com/mikeyg42/camrecorder/internal/recorder/executor"
	"github.com/mikeyg42/camrecorder/internal/recorder/media"
	"github.com/mikeyg42/camrecorder/internal/recorder/recorderlog"
)

// SampleSize is the default chunk length of the streaming engine, in
// microseconds.
const SampleSize int64 = 60_000_000

// ErrChunkerExhausted is the crash cause when the chunker runs dry while the
// engine is still wanted.
var ErrChunkerExhausted = errors.New("chunker returned no data")

// RawSampleHandler receives each finished chunk file with its start time.
type RawSampleHandler func(path string, begin time.Time)

// Engine produces raw chunk files from a channel. It runs under its own
// executor.
type Engine interface {
	Start() error
	StartPacket() error
	Stop(interrupt bool)
	WaitForInfinitely()
	LastCrash() error
	AddListener(l executor.Listener) (remove func())

	// Info returns "{name}_{version}".
	Info() string
	// InitRawSampleHandler sets the chunk callback. It may be set once.
	InitRawSampleHandler(h RawSampleHandler) error
}

// EngineConfig configures a StreamingEngine.
type EngineConfig struct {
	// TempDir receives raw chunks and must exist.
	TempDir  string
	Supplier chunker.GrabberSupplier
	// Chunker settings. Dir is replaced by TempDir; a zero ChunkDuration
	// means SampleSize.
	Chunker chunker.Config
	// Device labels the chunk counter.
	Device string
	Logger recorderlog.Logger
}

// StreamingEngine drives a StreamingChunker and reports every chunk it
// completes.
type StreamingEngine struct {
	*executor.Executor

	channel *media.Channel
	tempDir string
	device  string
	chunker *chunker.StreamingChunker
	logger  recorderlog.Logger

	mu  sync.Mutex
	raw RawSampleHandler
}

// NewStreamingEngine builds an engine for channel writing into cfg.TempDir.
func NewStreamingEngine(channel *media.Channel, cfg EngineConfig) (*StreamingEngine, error) {
	if channel == nil {
		return nil, errors.New("channel is required")
	}
	if cfg.Supplier == nil {
		return nil, errors.New("grabber supplier is required")
	}
	fi, err := os.Stat(cfg.TempDir)
	if err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("sampler temp dir %q doesn't exist", cfg.TempDir)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = recorderlog.L()
	}

	cc := cfg.Chunker
	cc.Dir = cfg.TempDir
	if cc.ChunkDuration == 0 {
		cc.ChunkDuration = SampleSize
	}
	if cc.Logger == nil {
		cc.Logger = logger
	}
	c, err := chunker.New(cfg.Supplier, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create chunker: %w", err)
	}

	e := &StreamingEngine{
		channel: channel,
		tempDir: cfg.TempDir,
		device:  cfg.Device,
		chunker: c,
		logger:  logger.Named("engine").With(recorderlog.String("source", channel.PrimaryURI())),
	}
	c.SetChunkHandler(e.onChunk)
	e.Executor = executor.New("stream-chunker", e, executor.WithLogger(logger))
	return e, nil
}

func (e *StreamingEngine) Name() string    { return "stream-chunker" }
func (e *StreamingEngine) Version() string { return "1.0" }
func (e *StreamingEngine) Info() string    { return e.Name() + "_" + e.Version() }

// Channel returns the source description.
func (e *StreamingEngine) Channel() *media.Channel { return e.channel }

// TempDir returns the raw chunk directory.
func (e *StreamingEngine) TempDir() string { return e.tempDir }

// InitRawSampleHandler implements Engine.
func (e *StreamingEngine) InitRawSampleHandler(h RawSampleHandler) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.raw != nil {
		return errors.New("raw sample handler already initialized")
	}
	e.raw = h
	return nil
}

func (e *StreamingEngine) rawHandler() RawSampleHandler {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.raw
}

func (e *StreamingEngine) onChunk(path string) {
	metrics.RecordChunk(e.device)
	begin, err := chunkBegin(path)
	if err != nil {
		e.logger.Warn("Chunk file name isn't a timestamp", recorderlog.String("file", path), recorderlog.Error(err))
		return
	}
	h := e.rawHandler()
	if h == nil {
		e.logger.Warn("Raw sample handler isn't initialized, chunk left on disk", recorderlog.String("file", path))
		return
	}
	h(path, begin)
}

// chunkBegin decodes the epoch-microsecond file name to millisecond time.
func chunkBegin(path string) (time.Time, error) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	us, err := strconv.ParseInt(name, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(us / 1000), nil
}

// Run records in transcoding mode.
func (e *StreamingEngine) Run(ctx context.Context) error {
	return e.loop(ctx, e.chunker.Start, e.chunker.Next)
}

// RunPacket records in passthrough mode.
func (e *StreamingEngine) RunPacket(ctx context.Context) error {
	return e.loop(ctx, e.chunker.StartPacket, e.chunker.NextPacket)
}

func (e *StreamingEngine) loop(ctx context.Context, start func(context.Context) error, next func() (bool, error)) error {
	e.logger.Debug("Attempt to start sampler engine", recorderlog.String("engine", e.Info()))
	defer func() {
		if err := e.chunker.Stop(); err != nil {
			e.logger.Warn("Can't stop chunker", recorderlog.Error(err))
		}
		e.logger.Debug("Engine is stopped")
	}()

	if err := start(ctx); err != nil {
		return fmt.Errorf("engine is stopped on error: %w", err)
	}
	for !e.Stopping() {
		ok, err := next()
		if err != nil {
			if e.Stopping() && ctx.Err() != nil {
				break
			}
			return fmt.Errorf("engine is stopped on error: %w", err)
		}
		if !ok {
			if e.Stopping() {
				break
			}
			return ErrChunkerExhausted
		}
	}
	return nil
}
