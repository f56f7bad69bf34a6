package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConsoleOnly(t *testing.T) {
	logger, err := New(Config{})
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Info("hello")
	_ = logger.Sync() // stdout sync returns EINVAL on some platforms
}

func TestNewWithFileSinkWritesFile(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "stoneforge.log")

	logger, err := New(Config{FilePath: logPath})
	require.NoError(t, err)
	logger.Info("wrote to file")
	_ = logger.Sync()

	info, err := os.Stat(logPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestNewDebugLevel(t *testing.T) {
	logger, err := New(Config{Debug: true})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(-1)) // zapcore.DebugLevel
}
