// Package config loads the recorder configuration from YAML and the
// environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mikeyg42/camrecorder/internal/api"
	"github.com/mikeyg42/camrecorder/internal/crypto"
	"github.com/mikeyg42/camrecorder/internal/motion"
	"github.com/mikeyg42/camrecorder/internal/notify"
	"github.com/mikeyg42/camrecorder/internal/recorder/recorderlog"
	"github.com/mikeyg42/camrecorder/internal/recorder/storage"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CAMREC_"

// MasterKeyEnv holds the key that opens sealed secrets.
const MasterKeyEnv = EnvPrefix + "MASTER_KEY"

// Config holds all application configuration.
type Config struct {
	Log       recorderlog.Options `yaml:"log"`
	Recording RecordingConfig     `yaml:"recording"`
	Devices   []DeviceConfig      `yaml:"devices"`
	Motion    MotionConfig        `yaml:"motion"`
	Sound     SoundConfig         `yaml:"sound"`
	Storage   StorageConfig       `yaml:"storage"`
	Notify    NotifyConfig        `yaml:"notify"`
	API       api.Config          `yaml:"api"`
	Metrics   MetricsConfig       `yaml:"metrics"`
}

// RecordingConfig tunes chunking, sampling and archiving.
type RecordingConfig struct {
	WorkDir     string `yaml:"work_dir"`
	ArchiveRoot string `yaml:"archive_root"`

	ChunkDuration    time.Duration `yaml:"chunk_duration"`
	ProbeUnits       int           `yaml:"probe_units"`
	ProbeImageUnits  int           `yaml:"probe_image_units"`
	ReconnectRetries int           `yaml:"reconnect_retries"`
	GapTolerance     time.Duration `yaml:"gap_tolerance"`
	// TargetFPS thins transcoded streams.
	TargetFPS int `yaml:"target_fps"`

	MinArchiveSize int64  `yaml:"min_archive_size"`
	MinFreeBytes   uint64 `yaml:"min_free_bytes"`
	KeepLocal      bool   `yaml:"keep_local"`
	WorkerPoolSize int    `yaml:"worker_pool_size"`

	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`

	Restart         RestartConfig `yaml:"restart"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RestartConfig selects the crash restart policy: none, fixed or exponential.
type RestartConfig struct {
	Policy     string        `yaml:"policy"`
	Delay      time.Duration `yaml:"delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	MaxRetries uint64        `yaml:"max_retries"`
}

// DeviceConfig describes one camera.
type DeviceConfig struct {
	Name        string `yaml:"name"`
	Source      string `yaml:"source"`
	AudioSource string `yaml:"audio_source"`
	Transport   string `yaml:"transport"`
	// Passthrough ingests RTP/VP8 on RTPListen instead of decoding Source.
	Passthrough bool           `yaml:"passthrough"`
	RTPListen   string         `yaml:"rtp_listen"`
	Reasons     []ReasonConfig `yaml:"reasons"`
}

// ReasonConfig binds a reason to its triggers.
type ReasonConfig struct {
	Reason    string          `yaml:"reason"`
	AutoStart bool            `yaml:"auto_start"`
	Triggers  []TriggerConfig `yaml:"triggers"`
}

// TriggerConfig is one trigger. Type is always, motion or sound. Zero
// paddings and thresholds take the section defaults.
type TriggerConfig struct {
	Type       string        `yaml:"type"`
	Before     time.Duration `yaml:"before"`
	After      time.Duration `yaml:"after"`
	MinPercent float64       `yaml:"min_percent"`
	MaxPercent float64       `yaml:"max_percent"`
	Threshold  *float64      `yaml:"threshold"`
}

// MotionConfig holds the analyzer settings and default thresholds.
type MotionConfig struct {
	motion.Config `yaml:",inline"`
	MinPercent    float64 `yaml:"min_percent"`
	MaxPercent    float64 `yaml:"max_percent"`
}

// SoundConfig holds the default loudness threshold in dBFS.
type SoundConfig struct {
	Threshold float64 `yaml:"threshold"`
}

// StorageConfig holds the optional archive backends.
type StorageConfig struct {
	MinIO   MinIOSection   `yaml:"minio"`
	Catalog CatalogSection `yaml:"catalog"`
}

type MinIOSection struct {
	Enabled             bool `yaml:"enabled"`
	storage.MinIOConfig `yaml:",inline"`
}

type CatalogSection struct {
	Enabled               bool `yaml:"enabled"`
	storage.CatalogConfig `yaml:",inline"`
}

// NotifyConfig holds the optional event publisher.
type NotifyConfig struct {
	Redis RedisSection `yaml:"redis"`
}

type RedisSection struct {
	Enabled            bool `yaml:"enabled"`
	notify.RedisConfig `yaml:",inline"`
}

// MetricsConfig exposes Prometheus metrics on the API server.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default trigger paddings.
const (
	DefaultTriggerBefore = 10 * time.Second
	DefaultTriggerAfter  = 20 * time.Second
)

// NewDefaultConfig returns a Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		Log: recorderlog.Options{Level: "info"},
		Recording: RecordingConfig{
			WorkDir:          "data/work",
			ArchiveRoot:      "data/archive",
			ChunkDuration:    60 * time.Second,
			ProbeUnits:       100,
			ProbeImageUnits:  10,
			ReconnectRetries: 15,
			GapTolerance:     10 * time.Second,
			TargetFPS:        15,
			MinArchiveSize:   8192,
			MinFreeBytes:     256 << 20,
			WorkerPoolSize:   4,
			FFmpegPath:       "ffmpeg",
			FFprobePath:      "ffprobe",
			Restart: RestartConfig{
				Policy:     "none",
				Delay:      5 * time.Second,
				MaxDelay:   time.Minute,
				MaxRetries: 5,
			},
			ShutdownTimeout: 30 * time.Second,
		},
		Motion: MotionConfig{
			Config:     motion.DefaultConfig(),
			MinPercent: 0.2,
			MaxPercent: 40,
		},
		Sound: SoundConfig{Threshold: -40},
		Storage: StorageConfig{
			MinIO: MinIOSection{MinIOConfig: storage.MinIOConfig{
				Bucket:     "recordings",
				MaxUploads: 4,
				MaxRetries: 3,
			}},
			Catalog: CatalogSection{CatalogConfig: storage.CatalogConfig{
				Driver: "sqlite",
				DSN:    "data/catalog.db",
			}},
		},
		Notify: NotifyConfig{Redis: RedisSection{RedisConfig: notify.RedisConfig{
			Addr:    "localhost:6379",
			Channel: "camrec:events",
		}}},
		API: api.Config{
			Addr:       "localhost:8090",
			RateLimit:  60,
			RateWindow: time.Minute,
		},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path loads the defaults only.
func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := Decode(bytes.NewReader(data), cfg); err != nil {
			return nil, err
		}
	}
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.ResolveSecrets(os.Getenv(MasterKeyEnv)); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// Decode reads YAML from r into cfg. Unknown keys are errors.
func Decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// ApplyDefaults fills per-device settings left empty.
func (c *Config) ApplyDefaults() {
	for i := range c.Devices {
		d := &c.Devices[i]
		if d.Transport == "" {
			d.Transport = "udp"
		}
		if len(d.Reasons) == 0 {
			d.Reasons = []ReasonConfig{{Reason: "always", AutoStart: true}}
		}
		for j := range d.Reasons {
			r := &d.Reasons[j]
			if len(r.Triggers) == 0 {
				r.Triggers = []TriggerConfig{{Type: "always"}}
			}
			for k := range r.Triggers {
				c.applyTriggerDefaults(&r.Triggers[k])
			}
		}
	}
}

func (c *Config) applyTriggerDefaults(t *TriggerConfig) {
	t.Type = strings.ToLower(t.Type)
	if t.Before == 0 {
		t.Before = DefaultTriggerBefore
	}
	if t.After == 0 {
		t.After = DefaultTriggerAfter
	}
	switch t.Type {
	case "motion":
		if t.MinPercent == 0 && t.MaxPercent == 0 {
			t.MinPercent, t.MaxPercent = c.Motion.MinPercent, c.Motion.MaxPercent
		}
	case "sound":
		if t.Threshold == nil {
			v := c.Sound.Threshold
			t.Threshold = &v
		}
	}
}

// ResolveSecrets opens every sealed credential with masterKey.
func (c *Config) ResolveSecrets(masterKey string) error {
	secrets := []struct {
		name string
		val  *string
	}{
		{"storage.minio.access_key_id", &c.Storage.MinIO.AccessKeyID},
		{"storage.minio.secret_access_key", &c.Storage.MinIO.SecretAccessKey},
		{"storage.catalog.dsn", &c.Storage.Catalog.DSN},
		{"notify.redis.password", &c.Notify.Redis.Password},
	}
	for _, s := range secrets {
		v, err := crypto.Resolve(*s.val, masterKey)
		if err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
		*s.val = v
	}
	return nil
}

// Device returns the device called name.
func (c *Config) Device(name string) (*DeviceConfig, bool) {
	for i := range c.Devices {
		if c.Devices[i].Name == name {
			return &c.Devices[i], true
		}
	}
	return nil, false
}

type envVar struct {
	name string
	set  func(c *Config, v string) error
}

func str(dst func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func boolean(dst func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

var envVars = []envVar{
	{"LOG_LEVEL", str(func(c *Config) *string { return &c.Log.Level })},
	{"WORK_DIR", str(func(c *Config) *string { return &c.Recording.WorkDir })},
	{"ARCHIVE_ROOT", str(func(c *Config) *string { return &c.Recording.ArchiveRoot })},
	{"FFMPEG_PATH", str(func(c *Config) *string { return &c.Recording.FFmpegPath })},
	{"FFPROBE_PATH", str(func(c *Config) *string { return &c.Recording.FFprobePath })},
	{"API_ADDR", str(func(c *Config) *string { return &c.API.Addr })},
	{"MINIO_ENABLED", boolean(func(c *Config) *bool { return &c.Storage.MinIO.Enabled })},
	{"MINIO_ENDPOINT", str(func(c *Config) *string { return &c.Storage.MinIO.Endpoint })},
	{"MINIO_ACCESS_KEY", str(func(c *Config) *string { return &c.Storage.MinIO.AccessKeyID })},
	{"MINIO_SECRET_KEY", str(func(c *Config) *string { return &c.Storage.MinIO.SecretAccessKey })},
	{"MINIO_BUCKET", str(func(c *Config) *string { return &c.Storage.MinIO.Bucket })},
	{"CATALOG_ENABLED", boolean(func(c *Config) *bool { return &c.Storage.Catalog.Enabled })},
	{"CATALOG_DRIVER", str(func(c *Config) *string { return &c.Storage.Catalog.Driver })},
	{"CATALOG_DSN", str(func(c *Config) *string { return &c.Storage.Catalog.DSN })},
	{"REDIS_ENABLED", boolean(func(c *Config) *bool { return &c.Notify.Redis.Enabled })},
	{"REDIS_ADDR", str(func(c *Config) *string { return &c.Notify.Redis.Addr })},
	{"REDIS_PASSWORD", str(func(c *Config) *string { return &c.Notify.Redis.Password })},
	{"RESTART_POLICY", str(func(c *Config) *string { return &c.Recording.Restart.Policy })},
	{"METRICS_ENABLED", boolean(func(c *Config) *bool { return &c.Metrics.Enabled })},
}

// ApplyEnv overrides cfg from CAMREC_* variables found by lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for _, ev := range envVars {
		v, ok := lookup(EnvPrefix + ev.name)
		if !ok {
			continue
		}
		if err := ev.set(cfg, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, ev.name, err)
		}
	}
	return nil
}
