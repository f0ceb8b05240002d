package sampler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mikeyg42/camrecorder/internal/recorder/media"
)

// Probe reads metadata of a finished media file. Implementations load
// lazily and cache the result.
type Probe interface {
	Duration() (time.Duration, error)
	MediaType() (media.Type, error)
}

// ProbeFactory creates a probe for a file.
type ProbeFactory interface {
	NewProbe(path string) (Probe, error)
}

// ProbeFactoryFunc adapts a function to a ProbeFactory.
type ProbeFactoryFunc func(path string) (Probe, error)

func (f ProbeFactoryFunc) NewProbe(path string) (Probe, error) { return f(path) }

// ExtensionProbeFactory picks a probe constructor by file extension and
// falls back to a default one.
type ExtensionProbeFactory struct {
	mu       sync.RWMutex
	byExt    map[string]func(path string) Probe
	fallback func(path string) Probe
}

// NewExtensionProbeFactory returns a factory that uses fallback for
// unregistered extensions.
func NewExtensionProbeFactory(fallback func(path string) Probe) *ExtensionProbeFactory {
	return &ExtensionProbeFactory{
		byExt:    make(map[string]func(string) Probe),
		fallback: fallback,
	}
}

// Register binds ext (without the dot, case-insensitive) to fn.
func (f *ExtensionProbeFactory) Register(ext string, fn func(path string) Probe) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byExt[strings.ToLower(strings.TrimPrefix(ext, "."))] = fn
}

// NewProbe implements ProbeFactory.
func (f *ExtensionProbeFactory) NewProbe(path string) (Probe, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("file not found %q: %w", path, err)
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))

	f.mu.RLock()
	fn, ok := f.byExt[ext]
	f.mu.RUnlock()
	if !ok {
		fn = f.fallback
	}
	if fn == nil {
		return nil, fmt.Errorf("no probe for extension %q", ext)
	}
	return fn(path), nil
}

// FFprobe reads file metadata by running the ffprobe binary.
type FFprobe struct {
	path    string
	binary  string
	timeout time.Duration

	once      sync.Once
	err       error
	duration  time.Duration
	mediaType media.Type
}

// NewFFprobe returns a lazy ffprobe-backed probe. An empty binary means
// "ffprobe" on PATH.
func NewFFprobe(path, binary string) *FFprobe {
	if binary == "" {
		binary = "ffprobe"
	}
	return &FFprobe{path: path, binary: binary, timeout: 30 * time.Second}
}

func (p *FFprobe) Duration() (time.Duration, error) {
	p.once.Do(p.load)
	return p.duration, p.err
}

func (p *FFprobe) MediaType() (media.Type, error) {
	p.once.Do(p.load)
	return p.mediaType, p.err
}

func (p *FFprobe) load() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.binary,
		"-v", "error",
		"-show_entries", "format=duration:stream=codec_type",
		"-of", "json",
		p.path)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		p.err = fmt.Errorf("error during probing %s: %w: %s", p.path, err, strings.TrimSpace(stderr.String()))
		return
	}
	p.duration, p.mediaType, p.err = parseFFprobe(out)
	if p.err != nil {
		p.err = fmt.Errorf("error during probing %s: %w", p.path, p.err)
	}
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func parseFFprobe(data []byte) (time.Duration, media.Type, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return 0, 0, fmt.Errorf("failed to decode ffprobe output: %w", err)
	}

	var video, audio bool
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			video = true
		case "audio":
			audio = true
		}
	}
	mt := media.TypeOf(video, audio)
	if !mt.Valid() {
		return 0, 0, fmt.Errorf("media type not determined")
	}

	secs, err := strconv.ParseFloat(out.Format.Duration, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid duration %q: %w", out.Format.Duration, err)
	}
	// Millisecond resolution, matching the sample clock.
	d := time.Duration(secs * float64(time.Second)).Truncate(time.Millisecond)
	return d, mt, nil
}
