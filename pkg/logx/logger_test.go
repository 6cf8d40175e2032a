package logx

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("debug", "test", &buf)

	logger.Info("Switched profile", "ssid", "home", "error", errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, "Switched profile")
	assert.Contains(t, out, "ssid=home")
	assert.Contains(t, out, "error=boom")
	assert.Contains(t, out, "component=test")
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("warn", "", &buf)

	logger.Info("hidden")
	logger.Debug("hidden too")
	assert.Empty(t, buf.String())

	logger.SetLevel("debug")
	logger.Debug("visible")
	assert.Contains(t, buf.String(), "visible")
	assert.Equal(t, "debug", logger.Level())
}

func TestLoggerUnknownLevelFallsBackToInfo(t *testing.T) {
	logger := NewLoggerWithWriter("loud", "", &bytes.Buffer{})
	assert.Equal(t, "info", logger.Level())
}

func TestLoggerOddKeyvals(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", "", &buf)

	logger.Info("odd", "dangling")
	assert.Contains(t, buf.String(), "dangling=")
	assert.Contains(t, buf.String(), "missing")
}

func TestNilLoggerDoesNotPanic(t *testing.T) {
	var logger *Logger
	assert.NotPanics(t, func() {
		logger.Debug("nothing")
	})
}

func TestPerformanceLogger(t *testing.T) {
	pl := NewPerformanceLogger(Nop(), time.Hour)

	op := pl.StartOperation("scan")
	op.Complete(nil)
	op = pl.StartOperation("scan")
	op.Complete(errors.New("scan failed"))

	stats, ok := pl.Get("scan")
	require.True(t, ok)
	assert.Equal(t, int64(2), stats.Count)
	assert.Equal(t, int64(1), stats.Errors)
	assert.Equal(t, int64(0), stats.InFlight)
	assert.LessOrEqual(t, stats.Min, stats.Max)

	_, ok = pl.Get("probe")
	assert.False(t, ok)

	snap := pl.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "scan", snap[0].Name)
}
