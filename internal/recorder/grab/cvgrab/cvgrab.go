// Package cvgrab decodes camera streams with OpenCV for transcoding mode
// and writes MJPG AVI chunks from the decoded frames.
package cvgrab

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/mikeyg42/camrecorder/internal/recorder/chunker"
	"github.com/mikeyg42/camrecorder/internal/recorder/recorderlog"
)

var rtspOptionsOnce sync.Once

// Config configures a Grabber.
type Config struct {
	// Source is an RTSP/HTTP URL or a file path.
	Source string
	// RTSPTransport is "tcp" or "udp". Empty keeps the OpenCV default.
	RTSPTransport string
	Logger        recorderlog.Logger
}

// Grabber reads decoded frames from a gocv.VideoCapture. Every frame is
// independently encodable, so all frames report Keyframe true.
type Grabber struct {
	cfg    Config
	logger recorderlog.Logger

	mu      sync.Mutex
	vc      *gocv.VideoCapture
	started time.Time
	info    chunker.StreamInfo
}

// New validates cfg.
func New(cfg Config) (*Grabber, error) {
	if cfg.Source == "" {
		return nil, errors.New("capture source is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = recorderlog.L()
	}
	return &Grabber{cfg: cfg, logger: cfg.Logger.Named("cvgrab")}, nil
}

// Start opens the capture.
func (g *Grabber) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if g.cfg.RTSPTransport != "" {
		// The FFmpeg backend reads its options from the process environment.
		rtspOptionsOnce.Do(func() {
			os.Setenv("OPENCV_FFMPEG_CAPTURE_OPTIONS", "rtsp_transport;"+g.cfg.RTSPTransport)
		})
	}
	vc, err := gocv.OpenVideoCapture(g.cfg.Source)
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return errors.New("capture did not open")
	}

	g.mu.Lock()
	g.vc = vc
	g.started = time.Now()
	g.info = chunker.StreamInfo{
		Width:       int(vc.Get(gocv.VideoCaptureFrameWidth)),
		Height:      int(vc.Get(gocv.VideoCaptureFrameHeight)),
		FPS:         vc.Get(gocv.VideoCaptureFPS),
		PixelFormat: "bgr24",
		VideoCodec:  "MJPG",
	}
	g.mu.Unlock()

	g.logger.Info("Capture opened",
		recorderlog.Int("width", g.info.Width),
		recorderlog.Int("height", g.info.Height),
		recorderlog.Float64("fps", g.info.FPS))
	return nil
}

// Stop releases the capture.
func (g *Grabber) Stop() error {
	g.mu.Lock()
	vc := g.vc
	g.vc = nil
	g.mu.Unlock()
	if vc == nil {
		return nil
	}
	return vc.Close()
}

// Grab returns the next frame, or nil when the stream ended.
func (g *Grabber) Grab() (chunker.Frame, error) {
	g.mu.Lock()
	vc, started := g.vc, g.started
	g.mu.Unlock()
	if vc == nil {
		return nil, nil
	}

	mat := gocv.NewMat()
	if ok := vc.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		return nil, nil
	}
	return &Frame{mat: mat, ts: time.Since(started).Microseconds()}, nil
}

// GrabPacket is not supported; OpenCV only exposes decoded frames.
func (g *Grabber) GrabPacket() (*chunker.Packet, error) {
	return nil, chunker.ErrUnsupported
}

func (g *Grabber) StreamInfo() chunker.StreamInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.info
}

// Frame is a decoded BGR image.
type Frame struct {
	mat gocv.Mat
	ts  int64
}

func (f *Frame) Keyframe() bool   { return true }
func (f *Frame) HasImage() bool   { return !f.mat.Empty() }
func (f *Frame) Timestamp() int64 { return f.ts }
func (f *Frame) Release()         { f.mat.Close() }

// Mat exposes the image. It is valid until Release.
func (f *Frame) Mat() gocv.Mat { return f.mat }

// AVIFactory opens MJPG AVI writers.
type AVIFactory struct {
	// FPS overrides the stream rate when positive.
	FPS float64
}

func (AVIFactory) Extension() string { return "avi" }

func (a AVIFactory) Open(path string, info chunker.StreamInfo) (chunker.Writer, error) {
	if info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", info.Width, info.Height)
	}
	fps := info.FPS
	if a.FPS > 0 {
		fps = a.FPS
	}
	if fps <= 0 {
		fps = 15
	}
	vw, err := gocv.VideoWriterFile(path, "MJPG", fps, info.Width, info.Height, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create video writer: %w", err)
	}
	return &aviWriter{vw: vw}, nil
}

type aviWriter struct {
	vw *gocv.VideoWriter
}

func (w *aviWriter) WriteFrame(f chunker.Frame) error {
	frame, ok := unwrap(f).(*Frame)
	if !ok {
		return fmt.Errorf("unexpected frame type %T", f)
	}
	if frame.mat.Empty() {
		return nil
	}
	return w.vw.Write(frame.mat)
}

func (w *aviWriter) WritePacket(*chunker.Packet) error { return chunker.ErrUnsupported }

func (w *aviWriter) Close() error { return w.vw.Close() }

func unwrap(f chunker.Frame) chunker.Frame {
	for {
		u, ok := f.(interface{ Unwrap() chunker.Frame })
		if !ok {
			return f
		}
		f = u.Unwrap()
	}
}
