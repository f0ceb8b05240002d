// Package motion measures frame-to-frame change in recorded video chunks.
package motion

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/mikeyg42/camrecorder/internal/recorder/recorderlog"
)

// Config tunes the analyzer.
type Config struct {
	// SampleInterval is the minimum stream time between compared frames.
	SampleInterval time.Duration `yaml:"sample_interval"`
	// PixelThreshold is the gray-level difference that counts as change.
	PixelThreshold float32 `yaml:"pixel_threshold"`
	// BlurSize applies a Gaussian blur of this kernel size before
	// differencing. Zero disables it; other values must be odd.
	BlurSize int `yaml:"blur_size"`
}

// DefaultConfig compares one frame per second at a threshold of 40.
func DefaultConfig() Config {
	return Config{SampleInterval: time.Second, PixelThreshold: 40}
}

// Stats summarises the analyses run so far.
type Stats struct {
	FilesProcessed  int64
	FramesProcessed int64
	MotionEvents    int64
	MaxMotion       float64
	LastMotionTime  time.Time
	ProcessingTime  time.Duration
}

// Detector computes the peak percentage of changed pixels in a video file
// by comparing gray frames sampled at a fixed stream interval.
type Detector struct {
	cfg    Config
	logger recorderlog.Logger

	mu    sync.Mutex
	stats Stats
}

// NewDetector validates cfg and returns a detector.
func NewDetector(cfg Config, logger recorderlog.Logger) (*Detector, error) {
	if cfg.SampleInterval <= 0 {
		return nil, fmt.Errorf("sample interval must be positive")
	}
	if cfg.PixelThreshold <= 0 || cfg.PixelThreshold >= 255 {
		return nil, fmt.Errorf("pixel threshold %.0f out of range (0, 255)", cfg.PixelThreshold)
	}
	if cfg.BlurSize < 0 || (cfg.BlurSize > 0 && cfg.BlurSize%2 == 0) {
		return nil, fmt.Errorf("blur size must be zero or odd, got %d", cfg.BlurSize)
	}
	if logger == nil {
		logger = recorderlog.L()
	}
	return &Detector{cfg: cfg, logger: logger.Named("motion")}, nil
}

// GetStats returns a snapshot of the counters.
func (d *Detector) GetStats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// MaxMotionPercent opens path and returns the largest share of changed
// pixels between consecutive sampled frames, in percent.
func (d *Detector) MaxMotionPercent(ctx context.Context, path string) (float64, error) {
	start := time.Now()

	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer vc.Close()

	width := int(vc.Get(gocv.VideoCaptureFrameWidth))
	height := int(vc.Get(gocv.VideoCaptureFrameHeight))
	if width <= 0 || height <= 0 {
		return 0, fmt.Errorf("%s has no video frames", path)
	}
	total := float64(width * height)

	frame := gocv.NewMat()
	defer frame.Close()
	gray := gocv.NewMat()
	defer gray.Close()
	prev := gocv.NewMat()
	defer prev.Close()
	diff := gocv.NewMat()
	defer diff.Close()

	var (
		maxPercent float64
		frames     int64
		gate       = newIntervalGate(d.cfg.SampleInterval)
	)
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if ok := vc.Read(&frame); !ok || frame.Empty() {
			break
		}
		if !gate.due(time.Duration(vc.Get(gocv.VideoCapturePosMsec) * float64(time.Millisecond))) {
			continue
		}

		if frame.Channels() > 1 {
			gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)
		} else {
			frame.CopyTo(&gray)
		}
		if d.cfg.BlurSize > 0 {
			gocv.GaussianBlur(gray, &gray, image.Point{X: d.cfg.BlurSize, Y: d.cfg.BlurSize}, 0, 0, gocv.BorderDefault)
		}
		frames++

		if !prev.Empty() {
			gocv.AbsDiff(gray, prev, &diff)
			gocv.Threshold(diff, &diff, d.cfg.PixelThreshold, 255, gocv.ThresholdBinary)
			maxPercent = max(maxPercent, Percent(gocv.CountNonZero(diff), total))
		}
		gray.CopyTo(&prev)
	}
	if frames == 0 {
		return 0, errors.New("no frames decoded from " + path)
	}

	d.record(frames, maxPercent, time.Since(start))
	d.logger.Debug("Motion analysed",
		recorderlog.String("file", path),
		recorderlog.Int64("frames", frames),
		recorderlog.Float64("max_percent", maxPercent))
	return maxPercent, nil
}

func (d *Detector) record(frames int64, maxPercent float64, took time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.FilesProcessed++
	d.stats.FramesProcessed += frames
	d.stats.ProcessingTime = took
	if maxPercent > 0 {
		d.stats.MotionEvents++
		d.stats.LastMotionTime = time.Now()
	}
	d.stats.MaxMotion = max(d.stats.MaxMotion, maxPercent)
}

// Percent converts a changed-pixel count into a share of total.
func Percent(changed int, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return 100 * float64(changed) / total
}

// intervalGate passes the first position and then one position per
// interval of stream time.
type intervalGate struct {
	interval time.Duration
	last     time.Duration
	started  bool
}

func newIntervalGate(interval time.Duration) *intervalGate {
	return &intervalGate{interval: interval}
}

func (g *intervalGate) due(pos time.Duration) bool {
	if g.started && pos-g.last < g.interval {
		return false
	}
	g.started = true
	g.last = pos
	return true
}
