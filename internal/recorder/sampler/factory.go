package sampler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SampleFactory builds samples from chunk files using probes.
type SampleFactory struct {
	probes ProbeFactory
}

// NewSampleFactory returns a factory backed by probes.
func NewSampleFactory(probes ProbeFactory) (*SampleFactory, error) {
	if probes == nil {
		return nil, errors.New("probe factory is required")
	}
	return &SampleFactory{probes: probes}, nil
}

// CreateSample probes file and returns its sample starting at begin.
func (f *SampleFactory) CreateSample(samplerInfo string, begin time.Time, file string) (*Sample, error) {
	info, err := os.Stat(file)
	if err != nil {
		return nil, fmt.Errorf("%w: file %q doesn't exist", ErrInvalidSample, file)
	}
	ext := strings.TrimPrefix(filepath.Ext(file), ".")
	if ext == "" {
		return nil, fmt.Errorf("%w: media file extension is empty", ErrInvalidSample)
	}

	probe, err := f.probes.NewProbe(file)
	if err != nil {
		return nil, fmt.Errorf("can't probe sample: %w", err)
	}
	duration, err := probe.Duration()
	if err != nil {
		return nil, fmt.Errorf("can't read sample info: %w", err)
	}
	mediaType, err := probe.MediaType()
	if err != nil {
		return nil, fmt.Errorf("can't read sample info: %w", err)
	}
	return NewSample(samplerInfo, begin, ext, file, duration, info.Size(), mediaType)
}
