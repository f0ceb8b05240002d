package device

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mikeyg42/camrecorder/internal/metrics"
	"github.com/mikeyg42/camrecorder/internal/recorder/convert"
	"github.com/mikeyg42/camrecorder/internal/recorder/media"
	"github.com/mikeyg42/camrecorder/internal/recorder/recorderlog"
	"github.com/mikeyg42/camrecorder/internal/recorder/sampler"
	"github.com/mikeyg42/camrecorder/internal/recorder/storage"
)

// DefaultMinArchiveSize is the smallest leftover chunk worth converting.
// Smaller files are assumed to be truncated.
const DefaultMinArchiveSize int64 = 8192

// Catalog records converted archives.
type Catalog interface {
	Insert(ctx context.Context, a *storage.Archive) error
}

// ArchiverConfig configures an Archiver.
type ArchiverConfig struct {
	Root      string
	Converter convert.Converter
	// Store and Catalog are optional.
	Store   storage.ObjectStore
	Catalog Catalog
	// MinSize applies to leftovers swept after a session stops.
	MinSize int64
	// KeepLocal keeps the archive file after a successful upload.
	KeepLocal bool
	Logger    recorderlog.Logger
}

// Archiver converts raw chunks into
// {root}/{yyyy-MM-dd}/{device}/Camera-{device}_{begin}_{reason}.mp4 and
// optionally uploads and catalogues the result.
type Archiver struct {
	cfg    ArchiverConfig
	logger recorderlog.Logger
}

// NewArchiver validates cfg.
func NewArchiver(cfg ArchiverConfig) (*Archiver, error) {
	if cfg.Root == "" {
		return nil, errors.New("archive root is required")
	}
	if cfg.Converter == nil {
		return nil, errors.New("converter is required")
	}
	if cfg.MinSize <= 0 {
		cfg.MinSize = DefaultMinArchiveSize
	}
	if cfg.Logger == nil {
		cfg.Logger = recorderlog.L()
	}
	return &Archiver{cfg: cfg, logger: cfg.Logger.Named("archiver")}, nil
}

// Root returns the archive root directory.
func (a *Archiver) Root() string { return a.cfg.Root }

// Path maps a raw chunk file name to its archive path. The chunk name
// carries its start in epoch microseconds.
func (a *Archiver) Path(device string, reason Reason, rawFile string) (string, error) {
	stem := strings.TrimSuffix(filepath.Base(rawFile), filepath.Ext(rawFile))
	us, err := strconv.ParseInt(stem, 10, 64)
	if err != nil {
		return "", fmt.Errorf("chunk name %q is not a timestamp: %w", filepath.Base(rawFile), err)
	}
	date := time.UnixMicro(us).Format("2006-01-02")
	name := fmt.Sprintf("Camera-%s_%s_%s.mp4", device, stem, reason)
	return filepath.Join(a.cfg.Root, date, device, name), nil
}

// Archive converts a recorded sample and removes the raw file. An existing
// archive is kept and the raw file is still removed.
func (a *Archiver) Archive(ctx context.Context, device string, reason Reason, s *sampler.Sample) error {
	defer func() {
		if err := os.Remove(s.File()); err != nil && !os.IsNotExist(err) {
			a.logger.Warn("Couldn't delete the raw sample file", recorderlog.String("file", s.File()), recorderlog.Error(err))
		}
	}()

	out, err := a.Path(device, reason, s.File())
	if err != nil {
		return err
	}
	if _, err := os.Stat(out); err == nil {
		a.logger.Debug("Archive exists, skipping", recorderlog.String("path", out))
		return nil
	}
	if err := a.convert(ctx, device, s.File(), out); err != nil {
		return err
	}
	return a.publish(ctx, device, reason, out, &storage.Archive{
		BeginMs:    s.Begin().UnixMilli(),
		DurationMs: s.Duration().Milliseconds(),
		MediaType:  s.MediaType().String(),
	})
}

// Sweep converts the chunk files left in dir and then deletes dir, whatever
// the outcome of the individual conversions.
func (a *Archiver) Sweep(ctx context.Context, device string, reason Reason, dir string) {
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			a.logger.Warn("Failed to delete work dir", recorderlog.String("dir", dir), recorderlog.Error(err))
		}
	}()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			a.logger.Warn("Failed to list work dir", recorderlog.String("dir", dir), recorderlog.Error(err))
		}
		return
	}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		if !entry.Type().IsRegular() {
			continue
		}
		raw := filepath.Join(dir, entry.Name())
		out, err := a.Path(device, reason, raw)
		if err != nil {
			a.logger.Debug("Skipping foreign file", recorderlog.String("file", raw))
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if _, err := os.Stat(out); err == nil || info.Size() <= a.cfg.MinSize {
			continue
		}
		if err := a.convert(ctx, device, raw, out); err != nil {
			a.logger.Warn("Leftover conversion failed", recorderlog.String("file", raw), recorderlog.Error(err))
			continue
		}
		begin, _ := strconv.ParseInt(strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())), 10, 64)
		if err := a.publish(ctx, device, reason, out, &storage.Archive{
			BeginMs:   begin / 1000,
			MediaType: media.Video.String(),
		}); err != nil {
			a.logger.Warn("Leftover publish failed", recorderlog.String("file", out), recorderlog.Error(err))
		}
	}
}

func (a *Archiver) convert(ctx context.Context, device, raw, out string) error {
	start := time.Now()
	if err := a.cfg.Converter.Convert(ctx, raw, out); err != nil {
		metrics.RecordArchiveError(device, "convert")
		return err
	}
	metrics.ObserveConvert(device, time.Since(start))
	a.logger.Info("Chunk archived", recorderlog.String("path", out))
	return nil
}

// publish uploads and catalogues out. Both steps are optional.
func (a *Archiver) publish(ctx context.Context, device string, reason Reason, out string, row *storage.Archive) error {
	info, err := os.Stat(out)
	if err != nil {
		return err
	}
	row.Device = device
	row.Reason = reason.String()
	row.Path = out
	row.SizeBytes = info.Size()

	var errs []error
	uploaded := false
	if a.cfg.Store != nil {
		key := storage.ObjectKey(a.cfg.Root, out)
		err := a.cfg.Store.PutFile(ctx, key, out, storage.WithMetadata(map[string]string{
			"device": device,
			"reason": reason.String(),
		}))
		if err != nil {
			metrics.RecordArchiveError(device, "upload")
			errs = append(errs, err)
		} else {
			row.ObjectKey = key
			uploaded = true
		}
	}
	if a.cfg.Catalog != nil {
		if err := a.cfg.Catalog.Insert(ctx, row); err != nil && !errors.Is(err, storage.ErrDuplicateArchive) {
			metrics.RecordArchiveError(device, "catalog")
			errs = append(errs, err)
		}
	}
	if uploaded && !a.cfg.KeepLocal && len(errs) == 0 {
		if err := os.Remove(out); err != nil {
			a.logger.Warn("Failed to delete uploaded archive", recorderlog.String("path", out), recorderlog.Error(err))
		}
	}
	return errors.Join(errs...)
}
