package media

import (
	"errors"
	"fmt"
	"strings"
)

// Source is a single input of a channel.
type Source interface {
	MediaType() Type
	URI() string
}

// RTSP is a network stream source.
type RTSP struct {
	Type Type
	URL  string
}

// NewRTSP validates and returns an RTSP source.
func NewRTSP(t Type, url string) (*RTSP, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("rtsp source: invalid media type %d", int(t))
	}
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("rtsp source: empty url")
	}
	return &RTSP{Type: t, URL: url}, nil
}

func (r *RTSP) MediaType() Type { return r.Type }
func (r *RTSP) URI() string     { return r.URL }

// Channel is an immutable pairing of an optional video and an optional
// audio source.
type Channel struct {
	video     Source
	audio     Source
	transport Transport
}

// NewChannel validates the sources against their roles.
func NewChannel(video, audio Source, transport Transport) (*Channel, error) {
	if video == nil && audio == nil {
		return nil, ErrNoSources
	}
	if video != nil && !video.MediaType().IsCompatible(Video) {
		return nil, fmt.Errorf("video source: %w", &IncompatibleError{Got: video.MediaType(), Want: Video})
	}
	if audio != nil && !audio.MediaType().IsCompatible(Audio) {
		return nil, fmt.Errorf("audio source: %w", &IncompatibleError{Got: audio.MediaType(), Want: Audio})
	}
	return &Channel{video: video, audio: audio, transport: transport}, nil
}

func (c *Channel) VideoSource() Source  { return c.video }
func (c *Channel) AudioSource() Source  { return c.audio }
func (c *Channel) Transport() Transport { return c.transport }

// MediaType derives the channel type from the sources present.
func (c *Channel) MediaType() Type {
	return TypeOf(c.video != nil, c.audio != nil)
}

// SameSource reports whether video and audio come from one URI.
func (c *Channel) SameSource() bool {
	return c.video != nil && c.audio != nil && c.video.URI() == c.audio.URI()
}

// PrimaryURI returns the video URI, or the audio URI for audio-only channels.
func (c *Channel) PrimaryURI() string {
	if c.video != nil {
		return c.video.URI()
	}
	return c.audio.URI()
}
