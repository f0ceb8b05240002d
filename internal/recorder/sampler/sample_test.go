package sampler

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeyg42/camrecorder/internal/recorder/media"
)

func TestNewSample_Validation(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "1.avi")
	begin := time.UnixMilli(1000)

	tests := []struct {
		name     string
		info     string
		begin    time.Time
		ext      string
		file     string
		duration time.Duration
		size     int64
		mt       media.Type
	}{
		{"missing file", "1.0/x", begin, "avi", filepath.Join(dir, "nope.avi"), time.Second, 1, media.Video},
		{"empty extension", "1.0/x", begin, "", file, time.Second, 1, media.Video},
		{"zero duration", "1.0/x", begin, "avi", file, 0, 1, media.Video},
		{"negative duration", "1.0/x", begin, "avi", file, -time.Second, 1, media.Video},
		{"zero size", "1.0/x", begin, "avi", file, time.Second, 0, media.Video},
		{"empty info", "", begin, "avi", file, time.Second, 1, media.Video},
		{"no begin", "1.0/x", time.Time{}, "avi", file, time.Second, 1, media.Video},
		{"no media type", "1.0/x", begin, "avi", file, time.Second, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSample(tt.info, tt.begin, tt.ext, tt.file, tt.duration, tt.size, tt.mt)
			assert.ErrorIs(t, err, ErrInvalidSample)
			assert.Nil(t, s)
		})
	}

	s, err := NewSample("1.0/stream-chunker_1.0", begin, "avi", file, 1500*time.Millisecond, 10, media.VideoAndAudio)
	require.NoError(t, err)
	assert.Equal(t, time.UnixMilli(2500), s.End())
	assert.Equal(t, "1.0", s.SamplerVersion())
}

func TestSampleFactory_CreateSample(t *testing.T) {
	dir := t.TempDir()
	probes := &probeTable{}
	factory, err := NewSampleFactory(probes)
	require.NoError(t, err)

	file := writeFile(t, dir, "42.webm")
	probes.set("42.webm", fakeProbe{duration: 20 * time.Second, mediaType: media.Video})
	s, err := factory.CreateSample("1.0/e_1", time.UnixMilli(42), file)
	require.NoError(t, err)
	assert.Equal(t, "webm", s.Extension())
	assert.Equal(t, int64(len("chunk-data")), s.Size())

	noExt := writeFile(t, dir, "noext")
	_, err = factory.CreateSample("1.0/e_1", time.UnixMilli(42), noExt)
	assert.ErrorIs(t, err, ErrInvalidSample)

	_, err = factory.CreateSample("1.0/e_1", time.UnixMilli(42), filepath.Join(dir, "gone.avi"))
	assert.ErrorIs(t, err, ErrInvalidSample)
}

func TestParseFFprobe(t *testing.T) {
	d, mt, err := parseFFprobe([]byte(`{
		"streams": [{"codec_type": "video"}, {"codec_type": "audio"}],
		"format": {"duration": "60.0416"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, 60041*time.Millisecond, d)
	assert.Equal(t, media.VideoAndAudio, mt)

	_, _, err = parseFFprobe([]byte(`{"streams": [{"codec_type": "data"}], "format": {"duration": "1"}}`))
	assert.Error(t, err)

	_, _, err = parseFFprobe([]byte(`{"streams": [{"codec_type": "audio"}], "format": {"duration": "N/A"}}`))
	assert.Error(t, err)
}

func TestExtensionProbeFactory(t *testing.T) {
	dir := t.TempDir()
	webm := writeFile(t, dir, "1.WEBM")
	avi := writeFile(t, dir, "1.avi")

	f := NewExtensionProbeFactory(func(string) Probe { return fakeProbe{mediaType: media.Audio} })
	f.Register(".webm", func(string) Probe { return fakeProbe{mediaType: media.Video} })

	p, err := f.NewProbe(webm)
	require.NoError(t, err)
	mt, _ := p.MediaType()
	assert.Equal(t, media.Video, mt)

	p, err = f.NewProbe(avi)
	require.NoError(t, err)
	mt, _ = p.MediaType()
	assert.Equal(t, media.Audio, mt)

	_, err = f.NewProbe(filepath.Join(dir, "missing.avi"))
	assert.Error(t, err)
}
