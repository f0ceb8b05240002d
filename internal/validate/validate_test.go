package validate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeyg42/camrecorder/internal/config"
)

func validConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Devices = []config.DeviceConfig{
		{Name: "garage", Source: "rtsp://10.0.0.5:554/stream"},
		{Name: "front-door", Source: "0", Passthrough: true, RTPListen: "127.0.0.1:5004"},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestValidateConfig_Defaults(t *testing.T) {
	require.NoError(t, ValidateConfig(validConfig()))
}

func TestValidateConfig_Errors(t *testing.T) {
	threshold := 3.0
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"log level", func(c *config.Config) { c.Log.Level = "verbose" }, "invalid log level"},
		{"short chunks", func(c *config.Config) { c.Recording.ChunkDuration = 10 * time.Second }, "below the 20s minimum"},
		{"same dirs", func(c *config.Config) { c.Recording.ArchiveRoot = c.Recording.WorkDir + "/" }, "must differ"},
		{"parent dir", func(c *config.Config) { c.Recording.WorkDir = "../work" }, "recording.work_dir"},
		{"gap", func(c *config.Config) { c.Recording.GapTolerance = 0 }, "gap_tolerance"},
		{"pool", func(c *config.Config) { c.Recording.WorkerPoolSize = 0 }, "worker_pool_size"},
		{"fps", func(c *config.Config) { c.Recording.TargetFPS = 0 }, "target_fps"},
		{"policy", func(c *config.Config) { c.Recording.Restart.Policy = "always" }, "invalid restart policy"},
		{"fixed delay", func(c *config.Config) {
			c.Recording.Restart.Policy = "fixed"
			c.Recording.Restart.Delay = 0
		}, "restart.delay"},
		{"exponential cap", func(c *config.Config) {
			c.Recording.Restart.Policy = "exponential"
			c.Recording.Restart.MaxDelay = time.Second
		}, "max_delay"},
		{"no devices", func(c *config.Config) { c.Devices = nil }, "at least one device"},
		{"device name", func(c *config.Config) { c.Devices[0].Name = "my cam" }, "invalid name"},
		{"duplicate device", func(c *config.Config) { c.Devices[1].Name = "garage" }, "duplicate name"},
		{"source", func(c *config.Config) { c.Devices[0].Source = "ftp://cam/stream" }, "invalid source"},
		{"transport", func(c *config.Config) { c.Devices[0].Transport = "sctp" }, "invalid transport"},
		{"rtp listen", func(c *config.Config) { c.Devices[1].RTPListen = "5004" }, "rtp_listen"},
		{"rtp port", func(c *config.Config) { c.Devices[1].RTPListen = "127.0.0.1:70000" }, "invalid port"},
		{"reason", func(c *config.Config) { c.Devices[0].Reasons[0].Reason = "doorbell" }, "unknown reason"},
		{"duplicate reason", func(c *config.Config) {
			c.Devices[0].Reasons = append(c.Devices[0].Reasons, c.Devices[0].Reasons[0])
		}, "configured twice"},
		{"trigger type", func(c *config.Config) { c.Devices[0].Reasons[0].Triggers[0].Type = "heat" }, "invalid trigger type"},
		{"padding", func(c *config.Config) { c.Devices[0].Reasons[0].Triggers[0].Before = -time.Second }, "paddings"},
		{"motion range", func(c *config.Config) {
			c.Devices[0].Reasons[0].Triggers[0] = config.TriggerConfig{Type: "motion", MinPercent: 50, MaxPercent: 10}
		}, "motion thresholds"},
		{"sound threshold", func(c *config.Config) {
			c.Devices[0].Reasons[0].Triggers[0] = config.TriggerConfig{Type: "sound", Threshold: &threshold}
		}, "dBFS"},
		{"blur", func(c *config.Config) { c.Motion.BlurSize = 4 }, "blur_size"},
		{"pixel threshold", func(c *config.Config) { c.Motion.PixelThreshold = 300 }, "pixel_threshold"},
		{"minio endpoint", func(c *config.Config) { c.Storage.MinIO.Enabled = true }, "minio.endpoint"},
		{"catalog driver", func(c *config.Config) {
			c.Storage.Catalog.Enabled = true
			c.Storage.Catalog.Driver = "mysql"
		}, "catalog.driver"},
		{"redis addr", func(c *config.Config) {
			c.Notify.Redis.Enabled = true
			c.Notify.Redis.Addr = "redis"
		}, "notify.redis.addr"},
		{"api addr", func(c *config.Config) { c.API.Addr = "" }, "api.addr cannot be empty"},
		{"metrics path", func(c *config.Config) { c.Metrics.Path = "metrics" }, "metrics.path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := ValidateConfig(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateConfig_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Log.Level = "loud"
	cfg.Recording.TargetFPS = 0
	cfg.Devices[0].Transport = "carrier-pigeon"

	err := ValidateConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log level")
	assert.Contains(t, err.Error(), "target_fps")
	assert.Contains(t, err.Error(), "device garage: invalid transport")
}

func TestIsValidStreamURL(t *testing.T) {
	for s, want := range map[string]bool{
		"rtsp://user:pw@cam.local:554/h264": true,
		"http://10.0.0.2/mjpeg":             true,
		"0":                                 true,
		"/dev/video2":                       true,
		"file:///tmp/sample.mp4":            true,
		"":                                  false,
		"rtsp://":                           false,
		"not a url":                         false,
	} {
		assert.Equal(t, want, isValidStreamURL(s), s)
	}
}

func TestIsValidHostname(t *testing.T) {
	assert.True(t, isValidHostname("minio.internal"))
	assert.True(t, isValidHostname("redis-1"))
	assert.False(t, isValidHostname("-bad"))
	assert.False(t, isValidHostname("under_score.local"))
	assert.False(t, isValidHostname(""))
}
