package rtpgrab

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// keyframe VP8 payload: frame tag, start code, 640x480.
var vp8Key = []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a, 0x80, 0x02, 0xe0, 0x01, 0xaa}

func packet(seq uint16, ts uint32, marker bool, descriptor byte, payload ...byte) *rtp.Packet {
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    96,
			SequenceNumber: seq,
			Timestamp:      ts,
			Marker:         marker,
			SSRC:           1,
		},
		Payload: append([]byte{descriptor}, payload...),
	}
}

func TestAssembler_JoinsFragmentsAndDetectsKeyframes(t *testing.T) {
	a := &assembler{clockRate: 90000}

	assert.Nil(t, a.push(packet(1, 1000, false, 0x10, vp8Key...)))
	p := a.push(packet(2, 1000, true, 0x00, 0xbb, 0xcc, 0xdd))
	require.NotNil(t, p)
	assert.True(t, p.Keyframe)
	assert.True(t, p.Video)
	assert.Equal(t, int64(0), p.Timestamp)
	assert.Equal(t, append(append([]byte{}, vp8Key...), 0xbb, 0xcc, 0xdd), p.Data)
	assert.Equal(t, 640, a.width)
	assert.Equal(t, 480, a.height)

	// Interframe one second later.
	p = a.push(packet(3, 91000, true, 0x10, 0x31, 0x00, 0x00, 0x00))
	require.NotNil(t, p)
	assert.False(t, p.Keyframe)
	assert.Equal(t, int64(1_000_000), p.Timestamp)
}

func TestAssembler_DropsFrameWithoutStart(t *testing.T) {
	a := &assembler{clockRate: 90000}
	assert.Nil(t, a.push(packet(1, 500, true, 0x00, 0x01, 0x02, 0x03)))

	// Start of one frame followed by a fragment of another.
	assert.Nil(t, a.push(packet(2, 600, false, 0x10, vp8Key...)))
	assert.Nil(t, a.push(packet(3, 700, true, 0x00, 0x01, 0x02, 0x03)))
}

func TestGrabber_ReadsUDPAndTimesOut(t *testing.T) {
	g, err := New(Config{Addr: "127.0.0.1:0", ReadTimeout: 200 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, g.Start(context.Background()))
	defer g.Stop()

	conn, err := net.DialUDP("udp", nil, g.conn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer conn.Close()

	raw, err := packet(1, 0, true, 0x10, vp8Key...).Marshal()
	require.NoError(t, err)
	_, err = conn.Write(raw)
	require.NoError(t, err)

	p, err := g.GrabPacket()
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.True(t, p.Keyframe)
	assert.Equal(t, 640, g.StreamInfo().Width)

	p, err = g.GrabPacket()
	assert.NoError(t, err)
	assert.Nil(t, p, "quiet stream yields nil")

	require.NoError(t, g.Stop())
	require.NoError(t, g.Stop())
	p, err = g.GrabPacket()
	assert.NoError(t, err)
	assert.Nil(t, p)
}

func TestNew_RequiresAddr(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
