package util

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("WARN"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("chatty"))
}

func TestNewLoggerWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "node.log")
	logger, closeFn, err := NewLoggerWithFile(path, zapcore.InfoLevel)
	require.NoError(t, err)

	logger.Sugar().Infow("book_ready", "orders", 3)
	logger.Debug("dropped below level")
	require.NoError(t, closeFn())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"msg":"book_ready"`)
	assert.Contains(t, string(b), `"orders":3`)
	assert.Contains(t, string(b), `"level":"INFO"`)
	assert.NotContains(t, string(b), "dropped below level")
}

func TestFixedClock(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	c := FixedClock{T: at}
	assert.Equal(t, at, c.Now())
	assert.Equal(t, at, c.Now())
}
