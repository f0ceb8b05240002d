package chunker

import "fmt"

// MinChunkDuration is the shortest chunk the chunker accepts, in microseconds.
const MinChunkDuration int64 = 20_000_000

// ChunkListener is told when a chunk opens and closes.
type ChunkListener interface {
	OnChunkBegin() error
	OnChunkEnd() error
}

// Detector decides chunk boundaries from a stream of (keyframe, timestamp)
// events. A chunk opens at the first keyframe and is only closed at a
// keyframe whose timestamp is at least minDuration after the chunk began,
// so every chunk starts on a keyframe.
type Detector struct {
	minDuration int64
	listener    ChunkListener
	begin       int64
	open        bool
}

// NewDetector creates a detector with a positive minimum duration.
func NewDetector(minDuration int64, listener ChunkListener) (*Detector, error) {
	if minDuration <= 0 {
		return nil, fmt.Errorf("chunk duration must be positive, got %d", minDuration)
	}
	if listener == nil {
		return nil, fmt.Errorf("chunk listener is required")
	}
	return &Detector{minDuration: minDuration, listener: listener, begin: -1}, nil
}

// Next feeds one unit. It reports whether the unit belongs to an open chunk
// and must be written. Units seen before the first keyframe are dropped.
func (d *Detector) Next(keyframe bool, ts int64) (bool, error) {
	if !d.open {
		if !keyframe {
			return false, nil
		}
		return true, d.beginChunk(ts)
	}

	if keyframe && ts-d.begin >= d.minDuration {
		d.open = false
		if err := d.listener.OnChunkEnd(); err != nil {
			return false, fmt.Errorf("chunk end: %w", err)
		}
		return true, d.beginChunk(ts)
	}
	return true, nil
}

func (d *Detector) beginChunk(ts int64) error {
	d.begin = ts
	d.open = true
	if err := d.listener.OnChunkBegin(); err != nil {
		d.open = false
		return fmt.Errorf("chunk begin: %w", err)
	}
	return nil
}

// ChunkBegin returns the timestamp of the current chunk's first unit, or -1.
func (d *Detector) ChunkBegin() int64 { return d.begin }

// IsOpen reports whether a chunk is in progress.
func (d *Detector) IsOpen() bool { return d.open }

// MinDuration returns the configured minimum chunk duration.
func (d *Detector) MinDuration() int64 { return d.minDuration }

// Reset forgets the current chunk without notifying the listener.
func (d *Detector) Reset() {
	d.begin = -1
	d.open = false
}
