// Package sampler turns finished chunk files into timestamped samples.
package sampler

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mikeyg42/camrecorder/internal/recorder/media"
)

// ErrInvalidSample is returned when a sample can't be built from its parts.
var ErrInvalidSample = errors.New("invalid sample")

// Sample describes one finished chunk file. It is immutable.
type Sample struct {
	samplerInfo string
	begin       time.Time
	extension   string
	file        string
	duration    time.Duration
	size        int64
	mediaType   media.Type
}

// NewSample validates its arguments and returns a sample. The backing file
// must exist.
func NewSample(samplerInfo string, begin time.Time, extension, file string,
	duration time.Duration, size int64, mediaType media.Type) (*Sample, error) {
	switch {
	case samplerInfo == "":
		return nil, fmt.Errorf("%w: sampler info is empty", ErrInvalidSample)
	case begin.IsZero():
		return nil, fmt.Errorf("%w: begin is not set", ErrInvalidSample)
	case extension == "":
		return nil, fmt.Errorf("%w: extension is empty", ErrInvalidSample)
	case file == "":
		return nil, fmt.Errorf("%w: file is empty", ErrInvalidSample)
	case duration <= 0:
		return nil, fmt.Errorf("%w: duration %s is not positive", ErrInvalidSample, duration)
	case size <= 0:
		return nil, fmt.Errorf("%w: size %d is not positive", ErrInvalidSample, size)
	case !mediaType.Valid():
		return nil, fmt.Errorf("%w: media type is not set", ErrInvalidSample)
	}
	if _, err := os.Stat(file); err != nil {
		return nil, fmt.Errorf("%w: file %q doesn't exist", ErrInvalidSample, file)
	}
	return &Sample{
		samplerInfo: samplerInfo,
		begin:       begin,
		extension:   extension,
		file:        file,
		duration:    duration,
		size:        size,
		mediaType:   mediaType,
	}, nil
}

func (s *Sample) SamplerInfo() string     { return s.samplerInfo }
func (s *Sample) Begin() time.Time        { return s.begin }
func (s *Sample) End() time.Time          { return s.begin.Add(s.duration) }
func (s *Sample) Extension() string       { return s.extension }
func (s *Sample) File() string            { return s.file }
func (s *Sample) Duration() time.Duration { return s.duration }
func (s *Sample) Size() int64             { return s.size }
func (s *Sample) MediaType() media.Type   { return s.mediaType }

// SamplerVersion returns the sampler part of the info string, the text
// before the first slash.
func (s *Sample) SamplerVersion() string {
	if i := strings.IndexByte(s.samplerInfo, '/'); i != -1 {
		return s.samplerInfo[:i]
	}
	return s.samplerInfo
}

func (s *Sample) String() string {
	return fmt.Sprintf("%s[%d..%d %s]", s.file, s.begin.UnixMilli(), s.End().UnixMilli(), s.mediaType)
}
