package logging

import (
	"log/slog"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStandardLogger(t *testing.T) {
	logger := NewStandardLogger("debug", "test")
	require.NotNil(t, logger)
	require.NotNil(t, logger.Logger())

	assert.NotNil(t, logger.WithComponent("cache"))
	assert.NotNil(t, logger.WithProtocol("velar"))
	assert.NotNil(t, logger.WithOperation("fetch"))
	assert.NotNil(t, logger.WithError(assert.AnError))
}

func TestGetSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, getSlogLevel("debug"))
	assert.Equal(t, slog.LevelWarn, getSlogLevel("WARN"))
	assert.Equal(t, slog.LevelWarn, getSlogLevel("warning"))
	assert.Equal(t, slog.LevelError, getSlogLevel("error"))
	assert.Equal(t, slog.LevelInfo, getSlogLevel("info"))
	assert.Equal(t, slog.LevelInfo, getSlogLevel("bogus"))
}

func TestParseLogrusLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, ParseLogrusLevel("debug"))
	assert.Equal(t, logrus.WarnLevel, ParseLogrusLevel("warning"))
	assert.Equal(t, logrus.ErrorLevel, ParseLogrusLevel("error"))
	assert.Equal(t, logrus.InfoLevel, ParseLogrusLevel(""))
}
