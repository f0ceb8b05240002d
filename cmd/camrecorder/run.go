package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mikeyg42/camrecorder/internal/api"
	"github.com/mikeyg42/camrecorder/internal/config"
	"github.com/mikeyg42/camrecorder/internal/motion"
	"github.com/mikeyg42/camrecorder/internal/notify"
	"github.com/mikeyg42/camrecorder/internal/recorder/convert"
	"github.com/mikeyg42/camrecorder/internal/recorder/device"
	"github.com/mikeyg42/camrecorder/internal/recorder/executor"
	"github.com/mikeyg42/camrecorder/internal/recorder/recorderlog"
	"github.com/mikeyg42/camrecorder/internal/recorder/storage"
	"github.com/mikeyg42/camrecorder/internal/sound"
	"github.com/mikeyg42/camrecorder/internal/validate"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the configured devices and the control API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := validate.ValidateConfig(cfg); err != nil {
			return err
		}
		logger, err := recorderlog.New(cfg.Log)
		if err != nil {
			return err
		}
		recorderlog.ReplaceGlobal(logger)
		defer recorderlog.Sync(logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		app, err := NewApplication(ctx, cfg, logger)
		if err != nil {
			return err
		}
		return app.Run(ctx)
	},
}

// Application holds all components of a running recorder.
type Application struct {
	config *config.Config
	logger recorderlog.Logger

	store     *storage.MinIOStore
	catalog   *storage.Catalog
	publisher *notify.RedisPublisher
	devices   []*device.Device
	server    *api.Server
}

// NewApplication connects the optional backends and builds every device.
// On error everything opened so far is closed.
func NewApplication(ctx context.Context, cfg *config.Config, logger recorderlog.Logger) (_ *Application, err error) {
	app := &Application{config: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.closeBackends()
		}
	}()

	rc := cfg.Recording
	for _, dir := range []string{rc.WorkDir, rc.ArchiveRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	archiverCfg := device.ArchiverConfig{
		Root:      rc.ArchiveRoot,
		Converter: convert.NewFFmpegConverter(rc.FFmpegPath, logger),
		MinSize:   rc.MinArchiveSize,
		KeepLocal: rc.KeepLocal,
		Logger:    logger,
	}
	if cfg.Storage.MinIO.Enabled {
		if app.store, err = storage.NewMinIOStore(ctx, cfg.Storage.MinIO.MinIOConfig, logger); err != nil {
			return nil, fmt.Errorf("failed to connect to MinIO: %w", err)
		}
		archiverCfg.Store = app.store
	}
	if cfg.Storage.Catalog.Enabled {
		if dir := filepath.Dir(cfg.Storage.Catalog.DSN); cfg.Storage.Catalog.Driver == "sqlite" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create catalog dir: %w", err)
			}
		}
		if app.catalog, err = storage.OpenCatalog(ctx, cfg.Storage.Catalog.CatalogConfig, logger); err != nil {
			return nil, fmt.Errorf("failed to open catalog: %w", err)
		}
		archiverCfg.Catalog = app.catalog
	}
	if cfg.Notify.Redis.Enabled {
		if app.publisher, err = notify.NewRedisPublisher(ctx, cfg.Notify.Redis.RedisConfig, logger); err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
	}

	archiver, err := device.NewArchiver(archiverCfg)
	if err != nil {
		return nil, err
	}
	motionDetector, err := motion.NewDetector(cfg.Motion.Config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create motion detector: %w", err)
	}
	an := analyzers{motion: motionDetector, sound: sound.NewAnalyzer(rc.FFmpegPath, logger)}
	probes := newProbeFactory(rc.FFprobePath)
	pool := device.NewWorkerPool(rc.WorkerPoolSize)
	restart := executor.ParsePolicy(rc.Restart.Policy, rc.Restart.Delay, rc.Restart.MaxDelay, rc.Restart.MaxRetries)

	apiDevices := make([]api.Device, 0, len(cfg.Devices))
	for _, dc := range cfg.Devices {
		ch, err := newChannel(dc)
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", dc.Name, err)
		}
		d, err := device.New(device.Config{
			Name:         dc.Name,
			Channel:      ch,
			WorkRoot:     rc.WorkDir,
			Passthrough:  dc.Passthrough,
			Engines:      newEngineFactory(rc, dc, logger),
			Probes:       probes,
			Triggers:     newTriggerFactory(dc, an),
			Archiver:     archiver,
			GapTolerance: rc.GapTolerance,
			Restart:      restart,
			MinFreeBytes: rc.MinFreeBytes,
			Pool:         pool,
			Logger:       logger,
		})
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", dc.Name, err)
		}
		if app.publisher != nil {
			d.AddListener(app.publisher)
		}
		app.devices = append(app.devices, d)
		apiDevices = append(apiDevices, d)
	}

	apiCfg := cfg.API
	apiCfg.EnableMetrics = cfg.Metrics.Enabled
	apiCfg.MetricsPath = cfg.Metrics.Path
	opts := []api.Option{api.WithLogger(logger)}
	if app.catalog != nil {
		opts = append(opts, api.WithArchives(app.catalog), api.WithHealthCheck("catalog", app.catalog.HealthCheck))
	}
	if app.store != nil {
		opts = append(opts, api.WithHealthCheck("minio", app.store.HealthCheck))
	}
	if app.publisher != nil {
		opts = append(opts, api.WithHealthCheck("redis", app.publisher.HealthCheck))
	}
	app.server = api.NewServer(apiCfg, apiDevices, opts...)
	return app, nil
}

// Run starts the auto-start sessions and serves the API until ctx ends,
// then shuts everything down.
func (app *Application) Run(ctx context.Context) error {
	for i, d := range app.devices {
		for _, rc := range app.config.Devices[i].Reasons {
			if !rc.AutoStart {
				continue
			}
			reason := device.ParseReason(rc.Reason)
			if _, err := d.TriggerRecording(true, reason); err != nil {
				app.logger.Error("Failed to start recording",
					recorderlog.String("device", d.Name()),
					recorderlog.String("reason", reason.String()),
					recorderlog.Error(err))
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(app.server.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		return app.shutdown()
	})
	err := g.Wait()
	app.logger.Info("Recorder stopped")
	return err
}

func (app *Application) shutdown() error {
	app.logger.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), app.config.Recording.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := app.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("api: %w", err))
	}
	for _, d := range app.devices {
		if err := d.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("device %s: %w", d.Name(), err))
		}
	}
	app.closeBackends()
	return errors.Join(errs...)
}

func (app *Application) closeBackends() {
	if app.publisher != nil {
		if err := app.publisher.Close(); err != nil {
			app.logger.Warn("Failed to close publisher", recorderlog.Error(err))
		}
	}
	if app.catalog != nil {
		if err := app.catalog.Close(); err != nil {
			app.logger.Warn("Failed to close catalog", recorderlog.Error(err))
		}
	}
}
