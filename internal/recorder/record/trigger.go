// Package record decides which samples are archived.
package record

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mikeyg42/camrecorder/internal/recorder/media"
	"github.com/mikeyg42/camrecorder/internal/recorder/sampler"
)

// Default window padding around a firing sample.
const (
	DefaultDurationAfter  = 20 * time.Second
	DefaultDurationBefore = 10 * time.Second
)

// Motion and sound defaults.
const (
	DefaultMotionThresholdMin = 0.2
	DefaultMotionThresholdMax = 40.0
	DefaultSoundThreshold     = -40.0
)

// Trigger decides whether a sample opens or extends a recording window.
type Trigger interface {
	DurationBefore() time.Duration
	DurationAfter() time.Duration
	// MediaType is the kind of sample the trigger can inspect.
	MediaType() media.Type
	// Check returns a *media.IncompatibleError for samples of an
	// incompatible media type.
	Check(ctx context.Context, s *sampler.Sample) (bool, error)
}

// Durations holds the window padding shared by all triggers.
type Durations struct {
	before time.Duration
	after  time.Duration
}

// NewDurations validates the padding values.
func NewDurations(before, after time.Duration) (Durations, error) {
	if before < 0 || after < 0 {
		return Durations{}, fmt.Errorf("trigger durations must not be negative (before %s, after %s)", before, after)
	}
	return Durations{before: before, after: after}, nil
}

func (d Durations) DurationBefore() time.Duration { return d.before }
func (d Durations) DurationAfter() time.Duration  { return d.after }

func checkCompatible(want media.Type, s *sampler.Sample) error {
	if s == nil {
		return errors.New("nil sample")
	}
	if !s.MediaType().IsCompatible(want) {
		return &media.IncompatibleError{Got: s.MediaType(), Want: want}
	}
	return nil
}

// AlwaysTrue fires for every sample.
type AlwaysTrue struct {
	Durations
}

func NewAlwaysTrue(before, after time.Duration) (*AlwaysTrue, error) {
	d, err := NewDurations(before, after)
	if err != nil {
		return nil, err
	}
	return &AlwaysTrue{Durations: d}, nil
}

func (t *AlwaysTrue) MediaType() media.Type { return media.VideoAndAudio }

func (t *AlwaysTrue) Check(_ context.Context, s *sampler.Sample) (bool, error) {
	if err := checkCompatible(t.MediaType(), s); err != nil {
		return false, err
	}
	return true, nil
}

// MotionAnalyzer measures the largest share of changed pixels, in percent,
// between frames of a video file.
type MotionAnalyzer interface {
	MaxMotionPercent(ctx context.Context, path string) (float64, error)
}

// MotionDetector fires when the peak motion of a video sample lies within
// [min, max] percent.
type MotionDetector struct {
	Durations
	min, max float64
	analyzer MotionAnalyzer
}

func NewMotionDetector(before, after time.Duration, thresholdMin, thresholdMax float64, analyzer MotionAnalyzer) (*MotionDetector, error) {
	d, err := NewDurations(before, after)
	if err != nil {
		return nil, err
	}
	switch {
	case thresholdMin < 0:
		return nil, errors.New("threshold min value less than 0%")
	case thresholdMax > 100:
		return nil, errors.New("threshold max value greater than 100%")
	case thresholdMin >= thresholdMax:
		return nil, errors.New("threshold min value greater or equal max value")
	case analyzer == nil:
		return nil, errors.New("motion analyzer is required")
	}
	return &MotionDetector{Durations: d, min: thresholdMin, max: thresholdMax, analyzer: analyzer}, nil
}

func (t *MotionDetector) MediaType() media.Type { return media.Video }
func (t *MotionDetector) ThresholdMin() float64 { return t.min }
func (t *MotionDetector) ThresholdMax() float64 { return t.max }

func (t *MotionDetector) Check(ctx context.Context, s *sampler.Sample) (bool, error) {
	if err := checkCompatible(t.MediaType(), s); err != nil {
		return false, err
	}
	pct, err := t.analyzer.MaxMotionPercent(ctx, s.File())
	if err != nil {
		return false, fmt.Errorf("motion analysis of %s: %w", s.File(), err)
	}
	return pct >= t.min && pct <= t.max, nil
}

// SoundAnalyzer returns the loudest level of an audio track in dBFS.
type SoundAnalyzer interface {
	PeakDecibels(ctx context.Context, path string) (float64, error)
}

// SoundDetector fires when any audio sample is louder than the threshold.
type SoundDetector struct {
	Durations
	threshold float64
	analyzer  SoundAnalyzer
}

// NewSoundDetector builds a detector. The threshold is in dBFS and must not
// be positive.
func NewSoundDetector(before, after time.Duration, threshold float64, analyzer SoundAnalyzer) (*SoundDetector, error) {
	d, err := NewDurations(before, after)
	if err != nil {
		return nil, err
	}
	if threshold > 0 {
		return nil, fmt.Errorf("sound threshold %.1f dB is above 0", threshold)
	}
	if analyzer == nil {
		return nil, errors.New("sound analyzer is required")
	}
	return &SoundDetector{Durations: d, threshold: threshold, analyzer: analyzer}, nil
}

func (t *SoundDetector) MediaType() media.Type { return media.Audio }
func (t *SoundDetector) Threshold() float64    { return t.threshold }

func (t *SoundDetector) Check(ctx context.Context, s *sampler.Sample) (bool, error) {
	if err := checkCompatible(t.MediaType(), s); err != nil {
		return false, err
	}
	peak, err := t.analyzer.PeakDecibels(ctx, s.File())
	if err != nil {
		return false, fmt.Errorf("sound analysis of %s: %w", s.File(), err)
	}
	return peak > t.threshold, nil
}
