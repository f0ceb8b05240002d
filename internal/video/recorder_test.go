package video

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeyg42/camrecorder/internal/recorder/chunker"
	"github.com/mikeyg42/camrecorder/internal/recorder/media"
)

const streamStart = int64(1_700_000_000_000_000)

// writeChunk writes n video packets 100ms apart, a keyframe every tenth,
// and an audio packet beside each when audio is set.
func writeChunk(t *testing.T, path string, info chunker.StreamInfo, n int, audio bool) {
	t.Helper()
	w, err := WebMFactory{}.Open(path, info)
	require.NoError(t, err)
	for i := range n {
		ts := streamStart + int64(i)*100_000
		require.NoError(t, w.WritePacket(&chunker.Packet{
			Data:      []byte{0x10, 0x02, 0x00, byte(i)},
			Keyframe:  i%10 == 0,
			Video:     true,
			Timestamp: ts,
		}))
		if audio {
			require.NoError(t, w.WritePacket(&chunker.Packet{
				Data:      []byte{0xfc, byte(i)},
				Keyframe:  true,
				Timestamp: ts,
			}))
		}
	}
	require.NoError(t, w.Close())
}

func TestWebMWriter_VideoOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1700000000000000.webm")
	writeChunk(t, path, chunker.StreamInfo{Width: 640, Height: 480, FPS: 10}, 30, false)

	p := NewWebMProbe(path)
	d, err := p.Duration()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, d)

	mt, err := p.MediaType()
	require.NoError(t, err)
	assert.Equal(t, media.Video, mt)
}

func TestWebMWriter_WithAudioTrack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "av.webm")
	writeChunk(t, path, chunker.StreamInfo{Width: 320, Height: 240, FPS: 10, AudioChannels: 1}, 20, true)

	p := NewWebMProbe(path)
	mt, err := p.MediaType()
	require.NoError(t, err)
	assert.Equal(t, media.VideoAndAudio, mt)

	d, err := p.Duration()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, d)
}

func TestWebMWriter_DropsAudioWithoutTrack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v.webm")
	writeChunk(t, path, chunker.StreamInfo{FPS: 10}, 5, true)

	mt, err := NewWebMProbe(path).MediaType()
	require.NoError(t, err)
	assert.Equal(t, media.Video, mt)
}

func TestWebMWriter_Lifecycle(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, "webm", WebMFactory{}.Extension())

	_, err := NewWebMWriter(filepath.Join(dir, "missing", "x.webm"), chunker.StreamInfo{})
	assert.Error(t, err)

	path := filepath.Join(dir, "x.webm")
	w, err := NewWebMWriter(path, chunker.StreamInfo{})
	require.NoError(t, err)
	assert.Equal(t, path, w.Path())
	assert.ErrorIs(t, w.WriteFrame(nil), chunker.ErrUnsupported)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.Error(t, w.WritePacket(&chunker.Packet{Video: true, Timestamp: streamStart}))
}

func TestWebMProbe_NoBlocks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.webm")
	w, err := NewWebMWriter(path, chunker.StreamInfo{FPS: 10})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	p := NewWebMProbe(path)
	_, err = p.Duration()
	assert.ErrorContains(t, err, "no blocks")
	_, err = p.MediaType()
	assert.Error(t, err, "the parse result is cached")
}

func TestWebMProbe_MissingFile(t *testing.T) {
	_, err := NewWebMProbe(filepath.Join(t.TempDir(), "gone.webm")).Duration()
	assert.Error(t, err)
}
