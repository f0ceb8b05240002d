// Package rtpgrab receives a VP8 RTP stream over UDP and hands out whole
// encoded frames for passthrough chunking.
package rtpgrab

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"

	"github.com/mikeyg42/camrecorder/internal/recorder/chunker"
	"github.com/mikeyg42/camrecorder/internal/recorder/recorderlog"
)

const (
	defaultClockRate   = 90000
	defaultReadTimeout = 3 * time.Second
	maxPacketSize      = 1500
)

// Config configures a Grabber.
type Config struct {
	// Addr is the local UDP address to listen on, e.g. ":5004".
	Addr        string
	ReadTimeout time.Duration
	ClockRate   uint32
	FPS         float64
	Logger      recorderlog.Logger
}

// Grabber listens for RTP/VP8 and reassembles frames. A read timeout
// surfaces as a nil packet so the chunker can reconnect.
type Grabber struct {
	cfg    Config
	logger recorderlog.Logger

	mu       sync.Mutex
	conn     *net.UDPConn
	stopCtx  func() bool
	buf      []byte
	asm      assembler
	received uint64
}

// New validates cfg.
func New(cfg Config) (*Grabber, error) {
	if cfg.Addr == "" {
		return nil, errors.New("rtp listen address is required")
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.ClockRate == 0 {
		cfg.ClockRate = defaultClockRate
	}
	if cfg.Logger == nil {
		cfg.Logger = recorderlog.L()
	}
	return &Grabber{
		cfg:    cfg,
		logger: cfg.Logger.Named("rtpgrab").With(recorderlog.String("addr", cfg.Addr)),
		buf:    make([]byte, maxPacketSize),
		asm:    assembler{clockRate: cfg.ClockRate},
	}, nil
}

// Start binds the UDP socket. Cancelling ctx closes it.
func (g *Grabber) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", g.cfg.Addr)
	if err != nil {
		return fmt.Errorf("invalid rtp address %q: %w", g.cfg.Addr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", g.cfg.Addr, err)
	}

	g.mu.Lock()
	g.conn = conn
	g.stopCtx = context.AfterFunc(ctx, func() { conn.Close() })
	g.asm.reset()
	g.mu.Unlock()

	g.logger.Info("Listening for RTP")
	return nil
}

// Stop closes the socket. It is safe to call repeatedly.
func (g *Grabber) Stop() error {
	g.mu.Lock()
	conn, stop := g.conn, g.stopCtx
	g.conn, g.stopCtx = nil, nil
	g.mu.Unlock()

	if stop != nil {
		stop()
	}
	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Grab is not supported; frames are never decoded.
func (g *Grabber) Grab() (chunker.Frame, error) {
	return nil, chunker.ErrUnsupported
}

// GrabPacket returns the next complete frame, or nil when the stream went
// quiet for ReadTimeout or the socket was closed.
func (g *Grabber) GrabPacket() (*chunker.Packet, error) {
	g.mu.Lock()
	conn := g.conn
	g.mu.Unlock()
	if conn == nil {
		return nil, nil
	}

	for {
		if err := conn.SetReadDeadline(time.Now().Add(g.cfg.ReadTimeout)); err != nil {
			return nil, nil
		}
		n, _, err := conn.ReadFromUDP(g.buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() || errors.Is(err, net.ErrClosed) {
				return nil, nil
			}
			return nil, fmt.Errorf("rtp read: %w", err)
		}

		var pkt rtp.Packet
		if err := pkt.Unmarshal(g.buf[:n]); err != nil {
			g.logger.Debug("Dropping malformed RTP packet", recorderlog.Error(err))
			continue
		}
		g.received++
		if frame := g.asm.push(&pkt); frame != nil {
			return frame, nil
		}
	}
}

// StreamInfo reports the size parsed from the last VP8 keyframe.
func (g *Grabber) StreamInfo() chunker.StreamInfo {
	return chunker.StreamInfo{
		Width:      g.asm.width,
		Height:     g.asm.height,
		FPS:        g.cfg.FPS,
		VideoCodec: "V_VP8",
	}
}

// assembler joins VP8 RTP payloads into frames.
type assembler struct {
	clockRate uint32

	frame    []byte
	ts       uint32
	keyframe bool
	active   bool

	base     uint32
	haveBase bool

	width, height int
}

func (a *assembler) reset() {
	a.frame = a.frame[:0]
	a.active = false
	a.haveBase = false
}

func (a *assembler) push(pkt *rtp.Packet) *chunker.Packet {
	var vp8 codecs.VP8Packet
	payload, err := vp8.Unmarshal(pkt.Payload)
	if err != nil || len(payload) == 0 {
		return nil
	}

	if vp8.S == 1 && vp8.PID == 0 {
		a.frame = a.frame[:0]
		a.ts = pkt.Timestamp
		a.keyframe = payload[0]&0x01 == 0
		a.active = true
	} else if !a.active || pkt.Timestamp != a.ts {
		// Lost the start of this frame.
		a.active = false
		return nil
	}
	a.frame = append(a.frame, payload...)
	if !pkt.Marker {
		return nil
	}
	a.active = false

	if a.keyframe && len(a.frame) >= 10 {
		a.width = int(uint16(a.frame[6])|uint16(a.frame[7])<<8) & 0x3fff
		a.height = int(uint16(a.frame[8])|uint16(a.frame[9])<<8) & 0x3fff
	}
	if !a.haveBase {
		a.base = a.ts
		a.haveBase = true
	}
	elapsed := int64(a.ts-a.base) * 1_000_000 / int64(a.clockRate)

	data := make([]byte, len(a.frame))
	copy(data, a.frame)
	return &chunker.Packet{
		Data:      data,
		Keyframe:  a.keyframe,
		Video:     true,
		Timestamp: elapsed,
	}
}
