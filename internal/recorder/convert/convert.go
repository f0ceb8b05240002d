// Package convert remuxes finished raw chunks into the archive container.
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mikeyg42/camrecorder/internal/recorder/recorderlog"
)

// ErrDestinationExists is returned when the output file is already present.
var ErrDestinationExists = errors.New("destination already exists")

// Converter turns a raw chunk into an archive file.
type Converter interface {
	Convert(ctx context.Context, input, output string) error
}

// ConverterFunc adapts a function to Converter.
type ConverterFunc func(ctx context.Context, input, output string) error

func (f ConverterFunc) Convert(ctx context.Context, input, output string) error {
	return f(ctx, input, output)
}

// FFmpegConverter copies the streams of a chunk into a new container
// without re-encoding.
type FFmpegConverter struct {
	BinPath string
	Threads int
	Timeout time.Duration
	logger  recorderlog.Logger
}

// NewFFmpegConverter returns a converter using binPath, "ffmpeg" when empty.
func NewFFmpegConverter(binPath string, logger recorderlog.Logger) *FFmpegConverter {
	if binPath == "" {
		binPath = "ffmpeg"
	}
	if logger == nil {
		logger = recorderlog.L()
	}
	return &FFmpegConverter{
		BinPath: binPath,
		Threads: 10,
		Timeout: 10 * time.Minute,
		logger:  logger.Named("convert"),
	}
}

func (c *FFmpegConverter) args(input, output string) []string {
	return []string{
		"-v", "error",
		"-n",
		"-i", input,
		"-vcodec", "copy",
		"-threads", fmt.Sprint(c.Threads),
		"-acodec", "copy",
		output,
	}
}

// Convert writes output from input. The output directory is created on
// demand; a partial output is removed on failure.
func (c *FFmpegConverter) Convert(ctx context.Context, input, output string) error {
	if _, err := os.Stat(output); err == nil {
		return fmt.Errorf("%s: %w", output, ErrDestinationExists)
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return fmt.Errorf("failed to create archive dir: %w", err)
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, c.BinPath, c.args(input, output)...) // #nosec G204
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		_ = os.Remove(output)
		return fmt.Errorf("convert %s: %w: %s", input, err, strings.TrimSpace(stderr.String()))
	}

	c.logger.Debug("Chunk converted",
		recorderlog.String("input", input),
		recorderlog.String("output", output),
		recorderlog.Duration("took", time.Since(start)))
	return nil
}
