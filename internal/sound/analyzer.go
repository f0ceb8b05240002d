// Package sound measures the loudness of recorded audio chunks.
package sound

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strings"

	"github.com/mikeyg42/camrecorder/internal/recorder/recorderlog"
)

// SampleRate is the rate audio is decoded at for analysis.
const SampleRate = 8000

const fullScale = 32768.0

// Analyzer decodes a file's audio with ffmpeg to mono 16-bit PCM and
// reports its peak level.
type Analyzer struct {
	binary string
	logger recorderlog.Logger
}

// NewAnalyzer returns an analyzer using binary, "ffmpeg" when empty.
func NewAnalyzer(binary string, logger recorderlog.Logger) *Analyzer {
	if binary == "" {
		binary = "ffmpeg"
	}
	if logger == nil {
		logger = recorderlog.L()
	}
	return &Analyzer{binary: binary, logger: logger.Named("sound")}
}

// PeakDecibels returns the loudest sample of path in dBFS. Silence is
// negative infinity.
func (a *Analyzer) PeakDecibels(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, a.binary,
		"-v", "error",
		"-i", path,
		"-vn",
		"-ac", "1",
		"-ar", fmt.Sprint(SampleRate),
		"-f", "s16le",
		"-")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, err
	}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start %s: %w", a.binary, err)
	}

	peak, readErr := PeakDecibels(bufio.NewReader(stdout))
	waitErr := cmd.Wait()
	if waitErr != nil {
		return 0, fmt.Errorf("error on export audio from %s: %w: %s", path, waitErr, strings.TrimSpace(stderr.String()))
	}
	if readErr != nil {
		return 0, fmt.Errorf("failed to read audio of %s: %w", path, readErr)
	}
	a.logger.Debug("Sound analysed", recorderlog.String("file", path), recorderlog.Float64("peak_db", peak))
	return peak, nil
}

// PeakDecibels reads little-endian signed 16-bit samples from r and returns
// the peak level in dBFS.
func PeakDecibels(r io.Reader) (float64, error) {
	var peak int32
	var n int64
	buf := make([]byte, 4096)
	for {
		k, err := io.ReadFull(r, buf)
		k -= k % 2
		for i := 0; i < k; i += 2 {
			v := int32(int16(binary.LittleEndian.Uint16(buf[i:])))
			if v < 0 {
				v = -v
			}
			peak = max(peak, v)
		}
		n += int64(k / 2)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return 0, err
		}
	}
	if n == 0 {
		return 0, errors.New("no audio samples")
	}
	return Decibels(peak), nil
}

// Decibels converts an absolute 16-bit amplitude to dBFS.
func Decibels(amplitude int32) float64 {
	if amplitude == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(float64(amplitude)/fullScale)
}
