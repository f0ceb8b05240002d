package video

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/at-wat/ebml-go"
	"github.com/at-wat/ebml-go/webm"

	"github.com/mikeyg42/camrecorder/internal/recorder/media"
)

// WebMProbe reads duration and media type from a WebM file by scanning its
// clusters. The file is parsed once, on first use.
type WebMProbe struct {
	path string

	once      sync.Once
	err       error
	duration  time.Duration
	mediaType media.Type
}

// NewWebMProbe returns a lazy probe for path.
func NewWebMProbe(path string) *WebMProbe {
	return &WebMProbe{path: path}
}

// Duration returns the span between the first and last block plus one
// frame interval.
func (p *WebMProbe) Duration() (time.Duration, error) {
	p.once.Do(p.load)
	return p.duration, p.err
}

// MediaType returns the type derived from the track list.
func (p *WebMProbe) MediaType() (media.Type, error) {
	p.once.Do(p.load)
	return p.mediaType, p.err
}

type webmFile struct {
	Header  webm.EBMLHeader `ebml:"EBML"`
	Segment webm.Segment    `ebml:"Segment"`
}

func (p *WebMProbe) load() {
	f, err := os.Open(p.path)
	if err != nil {
		p.err = fmt.Errorf("failed to open %s: %w", p.path, err)
		return
	}
	defer f.Close()

	var doc webmFile
	if err := ebml.Unmarshal(bufio.NewReader(f), &doc); err != nil {
		p.err = fmt.Errorf("failed to parse webm %s: %w", p.path, err)
		return
	}

	var hasVideo, hasAudio bool
	var frame time.Duration
	for _, t := range doc.Segment.Tracks.TrackEntry {
		switch t.TrackType {
		case 1:
			hasVideo = true
			if t.DefaultDuration > 0 {
				frame = time.Duration(t.DefaultDuration)
			}
		case 2:
			hasAudio = true
		}
	}
	p.mediaType = media.TypeOf(hasVideo, hasAudio)
	if p.mediaType == 0 {
		p.err = fmt.Errorf("webm %s has no audio or video track", p.path)
		return
	}

	scale := doc.Segment.Info.TimecodeScale
	if scale == 0 {
		scale = 1_000_000
	}

	first, last := int64(-1), int64(-1)
	for _, c := range doc.Segment.Cluster {
		for _, b := range c.SimpleBlock {
			ts := int64(c.Timecode) + int64(b.Timecode)
			if first < 0 || ts < first {
				first = ts
			}
			if ts > last {
				last = ts
			}
		}
	}
	if first < 0 {
		p.err = fmt.Errorf("webm %s has no blocks", p.path)
		return
	}
	p.duration = time.Duration((last-first)*int64(scale)) + frame
}
