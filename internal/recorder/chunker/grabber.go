package chunker

import (
	"context"
	"errors"
)

// ErrUnsupported is returned by a Writer for the mode it does not handle.
var ErrUnsupported = errors.New("operation not supported by this writer")

// Frame is a decoded unit produced in transcoding mode.
type Frame interface {
	Keyframe() bool
	HasImage() bool
	// Timestamp is microseconds since the grabber started.
	Timestamp() int64
	// Release frees the frame's backing memory.
	Release()
}

// Packet is an encoded unit produced in passthrough mode.
type Packet struct {
	Data     []byte
	Keyframe bool
	Video    bool
	// Timestamp is the stream time in microseconds.
	Timestamp int64
}

// StreamInfo holds the parameters a grabber negotiated with its source.
type StreamInfo struct {
	Width         int
	Height        int
	AudioChannels int
	SampleRate    int
	FPS           float64
	PixelFormat   string
	VideoCodec    string
	AudioCodec    string
}

// Grabber pulls frames or packets from a live source.
//
// Grab and GrabPacket return a nil unit with a nil error when no data is
// available (end of stream or read timeout).
type Grabber interface {
	Start(ctx context.Context) error
	Stop() error
	Grab() (Frame, error)
	GrabPacket() (*Packet, error)
	StreamInfo() StreamInfo
}

// GrabberSupplier creates a fresh grabber. It is called lazily on first
// grab and again on every reconnect.
type GrabberSupplier func() (Grabber, error)

// Writer writes one chunk file.
type Writer interface {
	WriteFrame(f Frame) error
	WritePacket(p *Packet) error
	// Close finalizes the container.
	Close() error
}

// WriterFactory opens chunk writers.
type WriterFactory interface {
	// Extension is the output file extension without the dot.
	Extension() string
	Open(path string, info StreamInfo) (Writer, error)
}
