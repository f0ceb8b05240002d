// Package video writes and inspects WebM chunk files for passthrough
// recording.
package video

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/at-wat/ebml-go/webm"

	"github.com/mikeyg42/camrecorder/internal/recorder/chunker"
)

const (
	trackVideo = 1
	trackAudio = 2

	defaultVideoCodec = "V_VP8"
	defaultAudioCodec = "A_OPUS"
	defaultSampleRate = 48000
)

// WebMFactory opens WebM chunk writers for encoded packets.
type WebMFactory struct{}

// Extension implements chunker.WriterFactory.
func (WebMFactory) Extension() string { return "webm" }

// Open creates the chunk file and writes the WebM header.
func (WebMFactory) Open(path string, info chunker.StreamInfo) (chunker.Writer, error) {
	return NewWebMWriter(path, info)
}

// WebMWriter muxes passthrough packets into a WebM file. Block timecodes
// are milliseconds relative to the first packet.
type WebMWriter struct {
	mu      sync.Mutex
	path    string
	video   webm.BlockWriteCloser
	audio   webm.BlockWriteCloser
	writers []webm.BlockWriteCloser
	base    int64
	started bool
	closed  bool
}

// NewWebMWriter creates path and prepares a video track plus an audio
// track when the stream carries audio.
func NewWebMWriter(path string, info chunker.StreamInfo) (*WebMWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	fps := info.FPS
	if fps <= 0 {
		fps = 15
	}
	videoCodec := info.VideoCodec
	if videoCodec == "" {
		videoCodec = defaultVideoCodec
	}

	tracks := []webm.TrackEntry{
		{
			Name:            "Video",
			TrackNumber:     trackVideo,
			TrackUID:        uint64(time.Now().UnixNano()),
			CodecID:         videoCodec,
			TrackType:       1,
			DefaultDuration: uint64(float64(time.Second) / fps),
			Video: &webm.Video{
				PixelWidth:  uint64(info.Width),
				PixelHeight: uint64(info.Height),
			},
		},
	}
	if info.AudioChannels > 0 {
		audioCodec := info.AudioCodec
		if audioCodec == "" {
			audioCodec = defaultAudioCodec
		}
		rate := info.SampleRate
		if rate <= 0 {
			rate = defaultSampleRate
		}
		tracks = append(tracks, webm.TrackEntry{
			Name:        "Audio",
			TrackNumber: trackAudio,
			TrackUID:    uint64(time.Now().UnixNano()) + 1,
			CodecID:     audioCodec,
			TrackType:   2,
			Audio: &webm.Audio{
				SamplingFrequency: float64(rate),
				Channels:          uint64(info.AudioChannels),
			},
		})
	}

	ws, err := webm.NewSimpleBlockWriter(file, tracks)
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to create WebM writer: %w", err)
	}

	w := &WebMWriter{path: path, writers: ws, video: ws[0]}
	if len(ws) > 1 {
		w.audio = ws[1]
	}
	return w, nil
}

// WriteFrame is not supported; WebM chunks carry encoded packets only.
func (w *WebMWriter) WriteFrame(chunker.Frame) error {
	return chunker.ErrUnsupported
}

// WritePacket appends one encoded packet. Audio packets are dropped when
// the file has no audio track.
func (w *WebMWriter) WritePacket(p *chunker.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.New("webm writer is closed")
	}
	if !w.started {
		w.base = p.Timestamp
		w.started = true
	}
	tc := (p.Timestamp - w.base) / 1000
	if tc < 0 {
		tc = 0
	}

	bw := w.video
	if !p.Video {
		if w.audio == nil {
			return nil
		}
		bw = w.audio
	}
	if _, err := bw.Write(p.Keyframe, tc, p.Data); err != nil {
		return fmt.Errorf("failed to write block: %w", err)
	}
	return nil
}

// Close finalizes every track; the last close flushes and closes the file.
func (w *WebMWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	var errs []error
	for _, bw := range w.writers {
		if err := bw.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to close WebM writer: %w", err)
	}
	return nil
}

// Path returns the output file.
func (w *WebMWriter) Path() string { return w.path }
