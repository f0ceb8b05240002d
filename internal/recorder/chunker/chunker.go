// Package chunker splits a live frame or packet feed into keyframe-aligned
// chunk files.
package chunker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mikeyg42/camrecorder/internal/recorder/recorderlog"
)

// Defaults for the probe phase and reconnects.
const (
	DefaultProbeUnits       = 100
	DefaultProbeImageUnits  = 10
	DefaultReconnectRetries = 15
)

// ErrNotStarted is returned by Next and NextPacket before Start or StartPacket.
var ErrNotStarted = errors.New("chunker is not started")

// Config configures a StreamingChunker.
type Config struct {
	// Dir receives chunk files. It is created when missing.
	Dir string
	// ChunkDuration is the minimum chunk length in microseconds.
	ChunkDuration int64

	ProbeUnits       int
	ProbeImageUnits  int
	ReconnectRetries int

	// Frames opens writers in transcoding mode, Packets in passthrough mode.
	Frames  WriterFactory
	Packets WriterFactory

	// Now is the host clock. Defaults to time.Now.
	Now    func() time.Time
	Logger recorderlog.Logger
}

// StreamingChunker pulls units from a renewable grabber and writes them
// into chunk files whose boundaries come from a Detector.
//
// A StreamingChunker is driven by a single goroutine and is not safe for
// concurrent use.
type StreamingChunker struct {
	cfg      Config
	supplier GrabberSupplier
	detector *Detector
	logger   recorderlog.Logger

	ctx          context.Context
	grabber      Grabber
	writer       Writer
	factory      WriterFactory
	outputFile   string
	chunkHandler func(path string)

	probeFrames  []Frame
	probePackets []*Packet
	started      bool
	hasVideo     bool
	begin        int64
}

// New validates cfg and prepares the output directory.
func New(supplier GrabberSupplier, cfg Config) (*StreamingChunker, error) {
	if supplier == nil {
		return nil, errors.New("grabber supplier is required")
	}
	if cfg.Dir == "" {
		return nil, errors.New("target directory is required")
	}
	if cfg.ChunkDuration < MinChunkDuration {
		return nil, fmt.Errorf("chunk duration %d is below minimum %d", cfg.ChunkDuration, MinChunkDuration)
	}
	if cfg.ProbeUnits <= 0 {
		cfg.ProbeUnits = DefaultProbeUnits
	}
	if cfg.ProbeImageUnits <= 0 {
		cfg.ProbeImageUnits = DefaultProbeImageUnits
	}
	if cfg.ReconnectRetries <= 0 {
		cfg.ReconnectRetries = DefaultReconnectRetries
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = recorderlog.L()
	}
	if err := ensureWritable(cfg.Dir); err != nil {
		return nil, err
	}

	c := &StreamingChunker{
		cfg:      cfg,
		supplier: supplier,
		logger:   cfg.Logger.Named("chunker").With(recorderlog.String("dir", cfg.Dir)),
		begin:    -1,
		ctx:      context.Background(),
	}
	d, err := NewDetector(cfg.ChunkDuration, c)
	if err != nil {
		return nil, err
	}
	c.detector = d
	return c, nil
}

func ensureWritable(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}
	f, err := os.CreateTemp(dir, ".writable-*")
	if err != nil {
		return fmt.Errorf("target directory isn't writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// SetChunkHandler sets the callback that receives every completed chunk.
func (c *StreamingChunker) SetChunkHandler(h func(path string)) {
	c.chunkHandler = h
}

// HasVideo reports whether the probe phase saw image data.
func (c *StreamingChunker) HasVideo() bool { return c.hasVideo }

// Begin returns the host time, in epoch microseconds, at which the current
// grabber was started, or -1.
func (c *StreamingChunker) Begin() int64 { return c.begin }

// OnChunkBegin opens a writer named after the chunk's first timestamp.
func (c *StreamingChunker) OnChunkBegin() error {
	if c.factory == nil {
		return errors.New("no writer factory for this mode")
	}
	if c.grabber == nil {
		return errors.New("chunk began without a grabber")
	}
	info := c.grabber.StreamInfo()
	if info.AudioChannels > 0 {
		info.AudioChannels = 1
	}
	info.PixelFormat = "yuv420p"

	path := filepath.Join(c.cfg.Dir, fmt.Sprintf("%d.%s", c.detector.ChunkBegin(), c.factory.Extension()))
	w, err := c.factory.Open(path, info)
	if err != nil {
		return fmt.Errorf("failed to open chunk writer: %w", err)
	}
	c.writer = w
	c.outputFile = path
	c.logger.Debug("Chunk started", recorderlog.String("file", path))
	return nil
}

// OnChunkEnd finalizes the writer and hands the file to the chunk handler.
func (c *StreamingChunker) OnChunkEnd() error {
	w, path := c.writer, c.outputFile
	c.writer, c.outputFile = nil, ""
	if w == nil {
		return nil
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize chunk %s: %w", path, err)
	}
	c.logger.Debug("Chunk finished", recorderlog.String("file", path))
	if c.chunkHandler != nil {
		c.chunkHandler(path)
	}
	return nil
}

// Start runs the transcoding probe phase: up to ProbeUnits frames are
// pulled, stopping early once ProbeImageUnits carry an image. Probed frames
// are replayed first by Next.
func (c *StreamingChunker) Start(ctx context.Context) error {
	c.ctx = ctx
	c.factory = c.cfg.Frames
	if c.factory == nil {
		return errors.New("transcoding mode needs a frame writer factory")
	}
	for pfn, vfn := 0, 0; pfn < c.cfg.ProbeUnits && vfn < c.cfg.ProbeImageUnits; pfn++ {
		frame, err := c.grab()
		if err != nil {
			return err
		}
		if frame == nil {
			break
		}
		if frame.HasImage() {
			c.hasVideo = true
			vfn++
		}
		c.probeFrames = append(c.probeFrames, frame)
	}
	c.started = true
	c.logger.Info("Chunker started",
		recorderlog.String("mode", "transcoding"),
		recorderlog.Int("probed", len(c.probeFrames)),
		recorderlog.Bool("has_video", c.hasVideo))
	return nil
}

// StartPacket runs the passthrough probe phase.
func (c *StreamingChunker) StartPacket(ctx context.Context) error {
	c.ctx = ctx
	c.factory = c.cfg.Packets
	if c.factory == nil {
		return errors.New("passthrough mode needs a packet writer factory")
	}
	for pfn, vfn := 0, 0; pfn < c.cfg.ProbeUnits && vfn < c.cfg.ProbeImageUnits; pfn++ {
		packet, err := c.grabPacket()
		if err != nil {
			return err
		}
		if packet != nil && len(packet.Data) > 0 {
			c.hasVideo = true
			vfn++
		}
		c.probePackets = append(c.probePackets, packet)
	}
	c.started = true
	c.logger.Info("Chunker started",
		recorderlog.String("mode", "passthrough"),
		recorderlog.Int("probed", len(c.probePackets)),
		recorderlog.Bool("has_video", c.hasVideo))
	return nil
}

// Next processes one frame. It returns false when the feed ended.
func (c *StreamingChunker) Next() (bool, error) {
	if !c.started {
		return false, ErrNotStarted
	}
	var frame Frame
	if len(c.probeFrames) > 0 {
		frame = c.probeFrames[0]
		c.probeFrames[0] = nil
		c.probeFrames = c.probeFrames[1:]
	} else {
		var err error
		if frame, err = c.grab(); err != nil {
			return false, err
		}
	}
	if frame == nil {
		return false, nil
	}
	defer frame.Release()

	ts := c.begin + frame.Timestamp()
	write, err := c.detector.Next(frame.Keyframe() && frame.HasImage(), ts)
	if err != nil {
		return false, err
	}
	if write {
		if err := c.writer.WriteFrame(frame); err != nil {
			return false, fmt.Errorf("failed to write frame: %w", err)
		}
	}
	return true, nil
}

// NextPacket processes one packet. A missing packet triggers up to
// ReconnectRetries reconnect attempts before it returns false.
func (c *StreamingChunker) NextPacket() (bool, error) {
	if !c.started {
		return false, ErrNotStarted
	}
	var packet *Packet
	var err error
	if len(c.probePackets) > 0 {
		packet = c.probePackets[0]
		c.probePackets[0] = nil
		c.probePackets = c.probePackets[1:]
	} else if packet, err = c.grabPacket(); err != nil {
		return false, err
	}

	if packet == nil {
		for attempt := 0; attempt < c.cfg.ReconnectRetries && c.started; attempt++ {
			if c.ctx.Err() != nil {
				break
			}
			c.logger.Warn("Connection lost, trying to reconnect", recorderlog.Int("attempt", attempt+1))
			c.reconnect()
			packet, err = c.grabPacket()
			if err != nil {
				c.logger.Warn("Reconnect attempt failed", recorderlog.Error(err))
				continue
			}
			if packet != nil {
				c.logger.Info("Connected")
				break
			}
		}
		if packet == nil {
			return false, nil
		}
	}

	write, err := c.detector.Next(packet.Keyframe, c.cfg.Now().UnixMicro())
	if err != nil {
		return false, err
	}
	if write {
		if err := c.writer.WritePacket(packet); err != nil {
			return false, fmt.Errorf("failed to write packet: %w", err)
		}
	}
	return true, nil
}

func (c *StreamingChunker) ensureGrabber() error {
	if c.grabber != nil {
		return nil
	}
	g, err := c.supplier()
	if err != nil {
		return fmt.Errorf("failed to create grabber: %w", err)
	}
	if err := g.Start(c.ctx); err != nil {
		return fmt.Errorf("failed to start grabber: %w", err)
	}
	c.grabber = g
	c.begin = c.cfg.Now().UnixMicro()
	return nil
}

func (c *StreamingChunker) grab() (Frame, error) {
	if err := c.ensureGrabber(); err != nil {
		return nil, err
	}
	return c.grabber.Grab()
}

func (c *StreamingChunker) grabPacket() (*Packet, error) {
	if err := c.ensureGrabber(); err != nil {
		return nil, err
	}
	return c.grabber.GrabPacket()
}

func (c *StreamingChunker) reconnect() {
	if c.grabber == nil {
		return
	}
	if err := c.grabber.Stop(); err != nil {
		c.logger.Warn("Failed to stop grabber before reconnect", recorderlog.Error(err))
	}
	c.grabber = nil
}

// Stop finalizes an open writer without handing the file off, releases the
// grabber and clears the probe queues. It is safe to call repeatedly.
func (c *StreamingChunker) Stop() error {
	var errs []error

	c.started = false
	c.detector.Reset()
	c.hasVideo = false
	c.begin = -1

	if c.writer != nil {
		if err := c.writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to finalize chunk %s: %w", c.outputFile, err))
		}
		c.writer = nil
		c.outputFile = ""
	}
	if c.grabber != nil {
		if err := c.grabber.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop grabber: %w", err))
		}
		c.grabber = nil
	}
	for _, f := range c.probeFrames {
		if f != nil {
			f.Release()
		}
	}
	c.probeFrames = nil
	c.probePackets = nil

	c.logger.Info("Chunker stopped")
	return errors.Join(errs...)
}
