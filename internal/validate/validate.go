package validate

import (
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mikeyg42/camrecorder/internal/config"
	"github.com/mikeyg42/camrecorder/internal/recorder/device"
)

// -----------------------------------------------------------------------------
// Top-level full-config validation
// -----------------------------------------------------------------------------

type Validator struct{ errors []string }

func (v *Validator) AddError(format string, args ...interface{}) {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
}
func (v *Validator) HasErrors() bool  { return len(v.errors) > 0 }
func (v *Validator) Errors() []string { return v.errors }

// ValidateConfig delegates to per-section validators.
func ValidateConfig(cfg *config.Config) error {
	v := &Validator{}

	validateLogConfig(v, cfg)
	validateRecordingConfig(v, &cfg.Recording)
	validateDevices(v, cfg.Devices)
	validateMotionConfig(v, &cfg.Motion)
	validateStorageConfig(v, &cfg.Storage)
	validateNotifyConfig(v, &cfg.Notify)
	validateNetworkAddr(v, "api.addr", cfg.API.Addr)
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		v.AddError("metrics.path must start with /: %q", cfg.Metrics.Path)
	}

	if v.HasErrors() {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(v.Errors(), "\n"))
	}
	return nil
}

// -----------------------------------------------------------------------------
// Sections
// -----------------------------------------------------------------------------

func validateLogConfig(v *Validator, cfg *config.Config) {
	switch strings.ToLower(cfg.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		v.AddError("invalid log level: %s (must be debug, info, warn or error)", cfg.Log.Level)
	}
}

func validateRecordingConfig(v *Validator, cfg *config.RecordingConfig) {
	if !isValidDirectoryPath(cfg.WorkDir) {
		v.AddError("invalid recording.work_dir: %q", cfg.WorkDir)
	}
	if !isValidDirectoryPath(cfg.ArchiveRoot) {
		v.AddError("invalid recording.archive_root: %q", cfg.ArchiveRoot)
	}
	if filepath.Clean(cfg.WorkDir) == filepath.Clean(cfg.ArchiveRoot) {
		v.AddError("recording.work_dir and recording.archive_root must differ")
	}
	if cfg.ChunkDuration < 20*time.Second {
		v.AddError("recording.chunk_duration %s is below the 20s minimum", cfg.ChunkDuration)
	}
	if cfg.ProbeUnits < 1 || cfg.ProbeImageUnits < 1 {
		v.AddError("recording probe units must be positive")
	}
	if cfg.ReconnectRetries < 0 {
		v.AddError("recording.reconnect_retries must not be negative")
	}
	if cfg.GapTolerance <= 0 {
		v.AddError("recording.gap_tolerance must be positive")
	}
	if cfg.TargetFPS < 1 || cfg.TargetFPS > 120 {
		v.AddError("invalid recording.target_fps: %d (1-120)", cfg.TargetFPS)
	}
	if cfg.MinArchiveSize < 0 {
		v.AddError("recording.min_archive_size must not be negative")
	}
	if cfg.WorkerPoolSize < 1 {
		v.AddError("recording.worker_pool_size must be positive")
	}
	if cfg.FFmpegPath == "" || cfg.FFprobePath == "" {
		v.AddError("recording.ffmpeg_path and recording.ffprobe_path are required")
	}
	if cfg.ShutdownTimeout < time.Second {
		v.AddError("recording.shutdown_timeout must be >= 1s")
	}

	r := cfg.Restart
	switch r.Policy {
	case "none", "":
	case "fixed", "exponential":
		if r.Delay <= 0 {
			v.AddError("recording.restart.delay must be positive")
		}
		if r.Policy == "exponential" && r.MaxDelay < r.Delay {
			v.AddError("recording.restart.max_delay must be >= delay")
		}
	default:
		v.AddError("invalid restart policy: %s (must be none, fixed or exponential)", r.Policy)
	}
}

func validateDevices(v *Validator, devices []config.DeviceConfig) {
	if len(devices) == 0 {
		v.AddError("at least one device must be configured")
		return
	}
	seen := make(map[string]bool, len(devices))
	for i, d := range devices {
		label := fmt.Sprintf("devices[%d]", i)
		if !isAlphanumericWithDashes(d.Name) {
			v.AddError("%s: invalid name %q (letters, digits, dashes and underscores)", label, d.Name)
		} else {
			label = "device " + d.Name
		}
		if seen[d.Name] {
			v.AddError("%s: duplicate name", label)
		}
		seen[d.Name] = true

		if !isValidStreamURL(d.Source) {
			v.AddError("%s: invalid source %q", label, d.Source)
		}
		if d.AudioSource != "" && !isValidStreamURL(d.AudioSource) {
			v.AddError("%s: invalid audio_source %q", label, d.AudioSource)
		}
		switch strings.ToLower(d.Transport) {
		case "", "udp", "tcp":
		default:
			v.AddError("%s: invalid transport %q (udp or tcp)", label, d.Transport)
		}
		if d.Passthrough {
			validateNetworkAddr(v, label+" rtp_listen", d.RTPListen)
		}
		validateReasons(v, label, d.Reasons)
	}
}

func validateReasons(v *Validator, label string, reasons []config.ReasonConfig) {
	seen := make(map[device.Reason]bool, len(reasons))
	for _, rc := range reasons {
		r := device.ParseReason(rc.Reason)
		if !strings.EqualFold(r.String(), rc.Reason) {
			v.AddError("%s: unknown reason %q", label, rc.Reason)
			continue
		}
		if seen[r] {
			v.AddError("%s: reason %s configured twice", label, r)
		}
		seen[r] = true
		for _, t := range rc.Triggers {
			validateTrigger(v, fmt.Sprintf("%s reason %s", label, r), t)
		}
	}
}

func validateTrigger(v *Validator, label string, t config.TriggerConfig) {
	if t.Before < 0 || t.After < 0 {
		v.AddError("%s: trigger paddings must not be negative", label)
	}
	switch t.Type {
	case "always":
	case "motion":
		if t.MinPercent < 0 || t.MaxPercent > 100 || t.MinPercent >= t.MaxPercent {
			v.AddError("%s: motion thresholds must satisfy 0 <= min < max <= 100", label)
		}
	case "sound":
		if t.Threshold == nil || *t.Threshold > 0 {
			v.AddError("%s: sound threshold must be at most 0 dBFS", label)
		}
	default:
		v.AddError("%s: invalid trigger type %q (always, motion or sound)", label, t.Type)
	}
}

func validateMotionConfig(v *Validator, cfg *config.MotionConfig) {
	if cfg.SampleInterval < 100*time.Millisecond {
		v.AddError("motion.sample_interval must be >= 100ms")
	}
	if cfg.PixelThreshold <= 0 || cfg.PixelThreshold >= 255 {
		v.AddError("motion.pixel_threshold must be 0..255")
	}
	if cfg.BlurSize < 0 || (cfg.BlurSize > 0 && cfg.BlurSize%2 == 0) {
		v.AddError("motion.blur_size must be zero or odd")
	}
	if cfg.MinPercent < 0 || cfg.MaxPercent > 100 || cfg.MinPercent >= cfg.MaxPercent {
		v.AddError("motion thresholds must satisfy 0 <= min_percent < max_percent <= 100")
	}
}

func validateStorageConfig(v *Validator, cfg *config.StorageConfig) {
	if m := cfg.MinIO; m.Enabled {
		if m.Endpoint == "" {
			v.AddError("storage.minio.endpoint is required when MinIO is enabled")
		}
		if m.Bucket == "" {
			v.AddError("storage.minio.bucket is required when MinIO is enabled")
		}
		if m.MaxUploads < 0 {
			v.AddError("storage.minio.max_uploads must not be negative")
		}
	}
	if c := cfg.Catalog; c.Enabled {
		switch c.Driver {
		case "postgres", "sqlite":
		default:
			v.AddError("invalid storage.catalog.driver: %s (postgres or sqlite)", c.Driver)
		}
		if c.DSN == "" {
			v.AddError("storage.catalog.dsn is required when the catalog is enabled")
		}
	}
}

func validateNotifyConfig(v *Validator, cfg *config.NotifyConfig) {
	if !cfg.Redis.Enabled {
		return
	}
	validateNetworkAddr(v, "notify.redis.addr", cfg.Redis.Addr)
	if cfg.Redis.DB < 0 {
		v.AddError("notify.redis.db must not be negative")
	}
}

func validateNetworkAddr(v *Validator, field, addr string) {
	if addr == "" {
		v.AddError("%s cannot be empty", field)
		return
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		v.AddError("%s must be host:port: %v", field, err)
		return
	}
	if host != "" && host != "localhost" {
		if ip := net.ParseIP(host); ip == nil && !isValidHostname(host) {
			v.AddError("invalid hostname in %s: %s", field, host)
		}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		v.AddError("invalid port in %s: %s", field, portStr)
	}
}

// -----------------------------------------------------------------------------
// helpers
// -----------------------------------------------------------------------------

var (
	hostnameLabel = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?$`)
	alnumWithDash = regexp.MustCompile(`^[a-zA-Z0-9\-_]+$`)
	streamSchemes = map[string]bool{"rtsp": true, "rtsps": true, "rtmp": true, "http": true, "https": true, "udp": true, "rtp": true, "file": true}
)

func isValidStreamURL(s string) bool {
	if s == "" {
		return false
	}
	// Local capture devices are given by index or path.
	if _, err := strconv.Atoi(s); err == nil || strings.HasPrefix(s, "/dev/") {
		return true
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return streamSchemes[strings.ToLower(u.Scheme)] && (u.Host != "" || u.Scheme == "file")
}

func isValidHostname(hostname string) bool {
	if len(hostname) == 0 || len(hostname) > 253 {
		return false
	}
	for _, l := range strings.Split(hostname, ".") {
		if !hostnameLabel.MatchString(l) {
			return false
		}
	}
	return true
}

func isValidDirectoryPath(path string) bool {
	if path == "" {
		return false
	}
	clean := filepath.Clean(path)
	return clean != "" && !strings.Contains(path, "\x00") && !strings.HasPrefix(clean, "..")
}

func isAlphanumericWithDashes(s string) bool {
	return s != "" && alnumWithDash.MatchString(s)
}
