package motion

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeyg42/camrecorder/internal/recorder/recorderlog"
)

func TestNewDetector_Validation(t *testing.T) {
	_, err := NewDetector(DefaultConfig(), recorderlog.Nop())
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"interval", func(c *Config) { c.SampleInterval = 0 }},
		{"threshold low", func(c *Config) { c.PixelThreshold = 0 }},
		{"threshold high", func(c *Config) { c.PixelThreshold = 255 }},
		{"even blur", func(c *Config) { c.BlurSize = 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := NewDetector(cfg, nil)
			assert.Error(t, err)
		})
	}
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 25.0, Percent(25, 100))
	assert.Equal(t, 0.0, Percent(10, 0))
	assert.InDelta(t, 0.2, Percent(614, 640*480), 0.001)
}

func TestIntervalGate(t *testing.T) {
	g := newIntervalGate(time.Second)
	var passed []time.Duration
	for ms := 0; ms <= 3000; ms += 250 {
		pos := time.Duration(ms) * time.Millisecond
		if g.due(pos) {
			passed = append(passed, pos)
		}
	}
	assert.Equal(t, []time.Duration{0, time.Second, 2 * time.Second, 3 * time.Second}, passed)
}

func TestMaxMotionPercent_MissingFile(t *testing.T) {
	d, err := NewDetector(DefaultConfig(), recorderlog.Nop())
	require.NoError(t, err)
	_, err = d.MaxMotionPercent(context.Background(), filepath.Join(t.TempDir(), "missing.avi"))
	assert.Error(t, err)
	assert.Zero(t, d.GetStats().FilesProcessed)
}
