// Package media describes media types, sources and channels consumed by the
// recording engine.
package media

import (
	"errors"
	"fmt"
	"strings"
)

// Type is the kind of content carried by a source, sample or trigger.
type Type int

const (
	Audio Type = iota + 1
	Video
	VideoAndAudio
)

func (t Type) String() string {
	switch t {
	case Audio:
		return "AUDIO"
	case Video:
		return "VIDEO"
	case VideoAndAudio:
		return "VIDEO_AND_AUDIO"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// Valid reports whether t is one of the defined types.
func (t Type) Valid() bool {
	return t == Audio || t == Video || t == VideoAndAudio
}

// IsCompatible reports whether content of type other can be handled by t.
// Only pure video and pure audio exclude each other.
func (t Type) IsCompatible(other Type) bool {
	if t == Video && other == Audio {
		return false
	}
	if t == Audio && other == Video {
		return false
	}
	return true
}

// ParseType parses AUDIO, VIDEO or VIDEO_AND_AUDIO, case-insensitively.
func ParseType(s string) (Type, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "AUDIO":
		return Audio, nil
	case "VIDEO":
		return Video, nil
	case "VIDEO_AND_AUDIO":
		return VideoAndAudio, nil
	default:
		return 0, fmt.Errorf("unknown media type %q", s)
	}
}

// TypeOf combines the presence of video and audio into a Type. It returns
// zero when neither is present.
func TypeOf(video, audio bool) Type {
	switch {
	case video && audio:
		return VideoAndAudio
	case video:
		return Video
	case audio:
		return Audio
	default:
		return 0
	}
}

// IncompatibleError reports a media type mismatch.
type IncompatibleError struct {
	Got  Type
	Want Type
}

func (e *IncompatibleError) Error() string {
	return fmt.Sprintf("incompatible media type: got %s, want %s", e.Got, e.Want)
}

// Is lets errors.Is match ErrIncompatibleMediaType.
func (e *IncompatibleError) Is(target error) bool {
	return target == ErrIncompatibleMediaType
}

var (
	// ErrIncompatibleMediaType matches any IncompatibleError.
	ErrIncompatibleMediaType = errors.New("incompatible media type")
	// ErrNoSources is returned for a channel without video and audio.
	ErrNoSources = errors.New("channel has no sources")
)

// Transport is the RTSP lower transport.
type Transport int

const (
	UDP Transport = iota
	TCP
)

func (t Transport) String() string {
	if t == TCP {
		return "tcp"
	}
	return "udp"
}

// ParseTransport maps "tcp" (any case) to TCP and everything else to UDP.
func ParseTransport(s string) Transport {
	if strings.EqualFold(strings.TrimSpace(s), "tcp") {
		return TCP
	}
	return UDP
}

// MarshalText implements encoding.TextMarshaler.
func (t Transport) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Transport) UnmarshalText(b []byte) error {
	*t = ParseTransport(string(b))
	return nil
}
