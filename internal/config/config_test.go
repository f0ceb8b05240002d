package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeyg42/camrecorder/internal/crypto"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 60*time.Second, cfg.Recording.ChunkDuration)
	assert.Equal(t, "none", cfg.Recording.Restart.Policy)
	assert.Equal(t, time.Second, cfg.Motion.SampleInterval)
	assert.Equal(t, -40.0, cfg.Sound.Threshold)
	assert.False(t, cfg.Storage.MinIO.Enabled)
	assert.Equal(t, "recordings", cfg.Storage.MinIO.Bucket)
	assert.Equal(t, "sqlite", cfg.Storage.Catalog.Driver)
	assert.Equal(t, "camrec:events", cfg.Notify.Redis.Channel)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Empty(t, cfg.Devices)
}

const sampleYAML = `
log:
  level: debug
recording:
  work_dir: /var/lib/camrec/work
  chunk_duration: 30s
  restart:
    policy: fixed
    delay: 2s
motion:
  sample_interval: 500ms
  pixel_threshold: 25
  min_percent: 1
storage:
  minio:
    enabled: true
    endpoint: minio:9000
    bucket: cams
devices:
  - name: garage
    source: rtsp://10.0.0.5/stream
    transport: tcp
    reasons:
      - reason: motion
        auto_start: true
        triggers:
          - type: Motion
            before: 5s
      - reason: emergency
  - name: porch
    source: rtsp://10.0.0.6/stream
`

func TestDecode(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, Decode(strings.NewReader(sampleYAML), cfg))

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/var/lib/camrec/work", cfg.Recording.WorkDir)
	assert.Equal(t, "data/archive", cfg.Recording.ArchiveRoot, "untouched keys keep defaults")
	assert.Equal(t, 30*time.Second, cfg.Recording.ChunkDuration)
	assert.Equal(t, "fixed", cfg.Recording.Restart.Policy)
	assert.Equal(t, 2*time.Second, cfg.Recording.Restart.Delay)
	assert.Equal(t, 500*time.Millisecond, cfg.Motion.SampleInterval)
	assert.Equal(t, float32(25), cfg.Motion.PixelThreshold)
	assert.Equal(t, 1.0, cfg.Motion.MinPercent)
	assert.True(t, cfg.Storage.MinIO.Enabled)
	assert.Equal(t, "minio:9000", cfg.Storage.MinIO.Endpoint)
	assert.Equal(t, "cams", cfg.Storage.MinIO.Bucket)
	assert.Equal(t, 4, cfg.Storage.MinIO.MaxUploads)
	require.Len(t, cfg.Devices, 2)
	assert.Equal(t, "tcp", cfg.Devices[0].Transport)
	require.Len(t, cfg.Devices[0].Reasons, 2)
}

func TestDecode_Errors(t *testing.T) {
	err := Decode(strings.NewReader("recording:\n  chunk_durration: 30s\n"), NewDefaultConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk_durration")

	err = Decode(strings.NewReader("recording:\n  chunk_duration: soon\n"), NewDefaultConfig())
	assert.Error(t, err)

	assert.NoError(t, Decode(strings.NewReader(""), NewDefaultConfig()))
}

func TestApplyDefaults(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, Decode(strings.NewReader(sampleYAML), cfg))
	cfg.Devices[0].Reasons = append(cfg.Devices[0].Reasons, ReasonConfig{
		Reason:   "alarm",
		Triggers: []TriggerConfig{{Type: "sound"}, {Type: "motion", MinPercent: 3, MaxPercent: 9}},
	})
	cfg.ApplyDefaults()

	garage, ok := cfg.Device("garage")
	require.True(t, ok)

	motion := garage.Reasons[0].Triggers[0]
	assert.Equal(t, "motion", motion.Type)
	assert.Equal(t, 5*time.Second, motion.Before)
	assert.Equal(t, DefaultTriggerAfter, motion.After)
	assert.Equal(t, 1.0, motion.MinPercent)
	assert.Equal(t, 40.0, motion.MaxPercent)

	emergency := garage.Reasons[1]
	require.Len(t, emergency.Triggers, 1)
	assert.Equal(t, "always", emergency.Triggers[0].Type)
	assert.False(t, emergency.AutoStart)

	alarm := garage.Reasons[2].Triggers
	require.NotNil(t, alarm[0].Threshold)
	assert.Equal(t, -40.0, *alarm[0].Threshold)
	assert.Equal(t, 3.0, alarm[1].MinPercent)
	assert.Equal(t, 9.0, alarm[1].MaxPercent)

	porch, ok := cfg.Device("porch")
	require.True(t, ok)
	assert.Equal(t, "udp", porch.Transport)
	require.Len(t, porch.Reasons, 1)
	assert.Equal(t, "always", porch.Reasons[0].Reason)
	assert.True(t, porch.Reasons[0].AutoStart)
	assert.Equal(t, DefaultTriggerBefore, porch.Reasons[0].Triggers[0].Before)

	_, ok = cfg.Device("attic")
	assert.False(t, ok)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"CAMREC_LOG_LEVEL":      "warn",
		"CAMREC_MINIO_ENABLED":  "true",
		"CAMREC_MINIO_ENDPOINT": " s3.local:9000 ",
		"CAMREC_REDIS_ADDR":     "redis:6380",
		"CAMREC_RESTART_POLICY": "exponential",
		"UNRELATED":             "x",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := NewDefaultConfig()
	require.NoError(t, ApplyEnv(cfg, lookup))
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.True(t, cfg.Storage.MinIO.Enabled)
	assert.Equal(t, "s3.local:9000", cfg.Storage.MinIO.Endpoint)
	assert.Equal(t, "redis:6380", cfg.Notify.Redis.Addr)
	assert.Equal(t, "exponential", cfg.Recording.Restart.Policy)
	assert.True(t, cfg.Metrics.Enabled)

	env["CAMREC_METRICS_ENABLED"] = "sometimes"
	err := ApplyEnv(NewDefaultConfig(), lookup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CAMREC_METRICS_ENABLED")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camrec.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))
	t.Setenv("CAMREC_API_ADDR", ":9999")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.API.Addr)
	assert.Equal(t, "udp", cfg.Devices[1].Transport)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Devices)
}

func TestResolveSecrets(t *testing.T) {
	key, err := crypto.NewKey()
	require.NoError(t, err)
	sealed, err := crypto.Seal("s3cr3t", key)
	require.NoError(t, err)

	cfg := NewDefaultConfig()
	cfg.Storage.MinIO.SecretAccessKey = sealed
	cfg.Storage.MinIO.AccessKeyID = "plain-id"
	require.NoError(t, cfg.ResolveSecrets(key))
	assert.Equal(t, "s3cr3t", cfg.Storage.MinIO.SecretAccessKey)
	assert.Equal(t, "plain-id", cfg.Storage.MinIO.AccessKeyID)

	cfg.Notify.Redis.Password = sealed
	err = cfg.ResolveSecrets("")
	require.ErrorIs(t, err, crypto.ErrNoKey)
	assert.Contains(t, err.Error(), "notify.redis.password")
}
