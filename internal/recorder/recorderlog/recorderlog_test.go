package recorderlog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_Levels(t *testing.T) {
	l, err := New(Options{Level: "WARN"})
	require.NoError(t, err)
	assert.False(t, Zap(l).Core().Enabled(zapcore.InfoLevel))
	assert.True(t, Zap(l).Core().Enabled(zapcore.WarnLevel))

	l, err = New(Options{Development: true})
	require.NoError(t, err)
	assert.True(t, Zap(l).Core().Enabled(zapcore.InfoLevel))
	assert.False(t, Zap(l).Core().Enabled(zapcore.DebugLevel))

	_, err = New(Options{Level: "chatty"})
	assert.Error(t, err)
}

func TestNamedAndWith(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := FromZap(zap.New(core)).Named("device").Named("garage").With(String("reason", "MOTION"))

	l.Info("Session started", Int64("begin_us", 42))
	l.Error("Engine crashed", Error(errors.New("eof")))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "device.garage", entries[0].LoggerName)
	assert.Equal(t, map[string]any{"reason": "MOTION", "begin_us": int64(42)}, entries[0].ContextMap())
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "eof", entries[1].ContextMap()["error"])
}

func TestGlobal(t *testing.T) {
	prev := L()
	t.Cleanup(func() { ReplaceGlobal(prev) })

	core, logs := observer.New(zapcore.InfoLevel)
	ReplaceGlobal(FromZap(zap.New(core)))
	ReplaceGlobal(nil)

	L().Debug("hidden")
	L().Warn("shown")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "shown", logs.All()[0].Message)
}

func TestNopAndForeign(t *testing.T) {
	assert.NotPanics(t, func() {
		n := Nop()
		n.Named("").With().Info("dropped")
		Sync(n)
	})
	assert.NotNil(t, FromZap(nil))
}
