package media

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestType_IsCompatible(t *testing.T) {
	tests := []struct {
		a, b Type
		want bool
	}{
		{Video, Video, true},
		{Video, Audio, false},
		{Audio, Video, false},
		{Audio, Audio, true},
		{VideoAndAudio, Audio, true},
		{VideoAndAudio, Video, true},
		{Video, VideoAndAudio, true},
		{Audio, VideoAndAudio, true},
	}
	for _, tt := range tests {
		t.Run(tt.a.String()+"/"+tt.b.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.IsCompatible(tt.b))
		})
	}
}

func TestParseType(t *testing.T) {
	got, err := ParseType("video_and_audio")
	require.NoError(t, err)
	assert.Equal(t, VideoAndAudio, got)

	_, err = ParseType("smell")
	assert.Error(t, err)
}

func TestParseTransport(t *testing.T) {
	assert.Equal(t, TCP, ParseTransport("TCP"))
	assert.Equal(t, TCP, ParseTransport(" tcp "))
	assert.Equal(t, UDP, ParseTransport("udp"))
	assert.Equal(t, UDP, ParseTransport(""))
	assert.Equal(t, UDP, ParseTransport("http"))
}

func TestNewChannel(t *testing.T) {
	video := &RTSP{Type: Video, URL: "rtsp://cam/1"}
	audio := &RTSP{Type: Audio, URL: "rtsp://cam/1"}

	_, err := NewChannel(nil, nil, UDP)
	assert.ErrorIs(t, err, ErrNoSources)

	_, err = NewChannel(audio, nil, UDP)
	assert.ErrorIs(t, err, ErrIncompatibleMediaType)
	var incompatible *IncompatibleError
	require.True(t, errors.As(err, &incompatible))
	assert.Equal(t, Audio, incompatible.Got)

	_, err = NewChannel(nil, video, UDP)
	assert.ErrorIs(t, err, ErrIncompatibleMediaType)

	ch, err := NewChannel(video, nil, TCP)
	require.NoError(t, err)
	assert.Equal(t, Video, ch.MediaType())
	assert.Equal(t, TCP, ch.Transport())
	assert.False(t, ch.SameSource())

	ch, err = NewChannel(video, audio, UDP)
	require.NoError(t, err)
	assert.Equal(t, VideoAndAudio, ch.MediaType())
	assert.True(t, ch.SameSource())

	ch, err = NewChannel(nil, audio, UDP)
	require.NoError(t, err)
	assert.Equal(t, Audio, ch.MediaType())
	assert.Equal(t, "rtsp://cam/1", ch.PrimaryURI())
}

func TestNewRTSP(t *testing.T) {
	_, err := NewRTSP(Video, " ")
	assert.Error(t, err)
	_, err = NewRTSP(Type(42), "rtsp://x")
	assert.Error(t, err)
}
