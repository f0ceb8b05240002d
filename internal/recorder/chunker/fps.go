package chunker

import (
	"context"
	"fmt"
)

// FpsReductionGrabber passes at most fps image frames per second of stream
// time. Kept frames are re-stamped on an even grid and marked as keyframes;
// frames without an image pass through untouched.
type FpsReductionGrabber struct {
	inner     Grabber
	fps       int
	timestamp int64
}

// NewFpsReductionGrabber wraps inner. fps must be at least 1.
func NewFpsReductionGrabber(inner Grabber, fps int) (*FpsReductionGrabber, error) {
	if inner == nil {
		return nil, fmt.Errorf("fps reduction: nil grabber")
	}
	if fps < 1 {
		return nil, fmt.Errorf("fps reduction: fps must be >= 1, got %d", fps)
	}
	return &FpsReductionGrabber{inner: inner, fps: fps}, nil
}

func (g *FpsReductionGrabber) Start(ctx context.Context) error { return g.inner.Start(ctx) }
func (g *FpsReductionGrabber) Stop() error                     { return g.inner.Stop() }

func (g *FpsReductionGrabber) GrabPacket() (*Packet, error) { return g.inner.GrabPacket() }

func (g *FpsReductionGrabber) StreamInfo() StreamInfo {
	info := g.inner.StreamInfo()
	info.FPS = float64(g.fps)
	return info
}

func (g *FpsReductionGrabber) Grab() (Frame, error) {
	for {
		f, err := g.inner.Grab()
		if err != nil || f == nil {
			return f, err
		}
		if !f.HasImage() {
			return f, nil
		}
		if f.Timestamp() < g.timestamp {
			f.Release()
			continue
		}
		out := restamped{Frame: f, ts: g.timestamp}
		g.timestamp += 1_000_000 / int64(g.fps)
		return out, nil
	}
}

type restamped struct {
	Frame
	ts int64
}

func (r restamped) Timestamp() int64 { return r.ts }
func (r restamped) Keyframe() bool   { return true }

// Unwrap returns the original frame.
func (r restamped) Unwrap() Frame { return r.Frame }
