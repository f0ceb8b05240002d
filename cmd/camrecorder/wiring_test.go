package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeyg42/camrecorder/internal/api"
	"github.com/mikeyg42/camrecorder/internal/config"
	"github.com/mikeyg42/camrecorder/internal/recorder/device"
	"github.com/mikeyg42/camrecorder/internal/recorder/media"
	"github.com/mikeyg42/camrecorder/internal/recorder/record"
	"github.com/mikeyg42/camrecorder/internal/recorder/recorderlog"
	"github.com/mikeyg42/camrecorder/internal/validate"
)

type stubAnalyzer struct{}

func (stubAnalyzer) MaxMotionPercent(context.Context, string) (float64, error) { return 5, nil }
func (stubAnalyzer) PeakDecibels(context.Context, string) (float64, error)     { return -10, nil }

func TestNewChannel(t *testing.T) {
	ch, err := newChannel(config.DeviceConfig{Source: "rtsp://cam/main", Transport: "tcp"})
	require.NoError(t, err)
	assert.True(t, ch.SameSource())
	assert.Equal(t, media.VideoAndAudio, ch.MediaType())
	assert.Equal(t, media.TCP, ch.Transport())

	ch, err = newChannel(config.DeviceConfig{Source: "rtsp://cam/main", AudioSource: "rtsp://mic/main"})
	require.NoError(t, err)
	assert.False(t, ch.SameSource())
	assert.Equal(t, "rtsp://mic/main", ch.AudioSource().URI())
	assert.Equal(t, media.UDP, ch.Transport())

	_, err = newChannel(config.DeviceConfig{})
	assert.Error(t, err)
}

func TestNewTriggerFactory(t *testing.T) {
	threshold := -30.0
	dc := config.DeviceConfig{Reasons: []config.ReasonConfig{
		{Reason: "motion", Triggers: []config.TriggerConfig{
			{Type: "motion", Before: time.Second, After: 2 * time.Second, MinPercent: 1, MaxPercent: 50},
			{Type: "sound", Before: time.Second, After: time.Second, Threshold: &threshold},
		}},
		{Reason: "alarm", Triggers: []config.TriggerConfig{{Type: "smoke"}}},
	}}
	factory := newTriggerFactory(dc, analyzers{motion: stubAnalyzer{}, sound: stubAnalyzer{}})

	triggers, err := factory(device.Motion)
	require.NoError(t, err)
	require.Len(t, triggers, 2)
	md, ok := triggers[0].(*record.MotionDetector)
	require.True(t, ok)
	assert.Equal(t, 1.0, md.ThresholdMin())
	assert.Equal(t, 50.0, md.ThresholdMax())
	assert.Equal(t, 2*time.Second, md.DurationAfter())
	sd, ok := triggers[1].(*record.SoundDetector)
	require.True(t, ok)
	assert.Equal(t, -30.0, sd.Threshold())

	triggers, err = factory(device.Emergency)
	require.NoError(t, err)
	require.Len(t, triggers, 1)
	assert.IsType(t, &record.AlwaysTrue{}, triggers[0])

	_, err = factory(device.Alarm)
	assert.ErrorContains(t, err, "smoke")
}

func TestBuildTrigger_MissingAnalyzers(t *testing.T) {
	_, err := buildTrigger(config.TriggerConfig{Type: "motion", MaxPercent: 10}, analyzers{})
	assert.Error(t, err)
	_, err = buildTrigger(config.TriggerConfig{Type: "sound"}, analyzers{sound: stubAnalyzer{}})
	assert.ErrorContains(t, err, "threshold")
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.NewDefaultConfig()
	cfg.Recording.WorkDir = filepath.Join(dir, "work")
	cfg.Recording.ArchiveRoot = filepath.Join(dir, "archive")
	cfg.Recording.MinFreeBytes = 0
	cfg.Storage.Catalog.Enabled = true
	cfg.Storage.Catalog.DSN = filepath.Join(dir, "db", "catalog.db")
	cfg.Devices = []config.DeviceConfig{
		{Name: "garage", Source: "rtsp://10.0.0.5/stream", Reasons: []config.ReasonConfig{{Reason: "motion"}}},
		{Name: "porch", Source: "rtsp://10.0.0.6/stream", Reasons: []config.ReasonConfig{{Reason: "emergency"}}},
	}
	cfg.ApplyDefaults()
	require.NoError(t, validate.ValidateConfig(cfg))
	return cfg
}

func TestNewApplication(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Notify.Redis.Enabled = true
	cfg.Notify.Redis.Addr = mr.Addr()

	app, err := NewApplication(context.Background(), cfg, recorderlog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, app.shutdown()) })

	require.Len(t, app.devices, 2)
	assert.Equal(t, cfg.Recording.WorkDir, app.devices[1].WorkRoot())
	assert.Equal(t, "porch", app.devices[1].Name())
	assert.DirExists(t, cfg.Recording.ArchiveRoot)
	require.NotNil(t, app.catalog)
	require.NotNil(t, app.publisher)

	rr := httptest.NewRecorder()
	app.server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/devices", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var list []api.DeviceStatus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "garage", list[0].Name)
	assert.False(t, list[0].Recording)

	rr = httptest.NewRecorder()
	app.server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"redis":"ok"`)

	rr = httptest.NewRecorder()
	app.server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/archives", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())
}

func TestNewApplication_BackendFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Notify.Redis.Enabled = true
	cfg.Notify.Redis.Addr = "127.0.0.1:1"

	_, err := NewApplication(context.Background(), cfg, recorderlog.Nop())
	assert.ErrorContains(t, err, "Redis")
}
