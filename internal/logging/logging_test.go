package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("info"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("bogus"))
}

func TestInstallReplacesGlobals(t *testing.T) {
	before := zap.L()
	restore, err := Install("warn", "json")
	require.NoError(t, err)

	assert.NotSame(t, before, zap.L())
	assert.False(t, zap.L().Core().Enabled(zapcore.InfoLevel))
	assert.True(t, zap.L().Core().Enabled(zapcore.WarnLevel))

	restore()
	assert.Same(t, before, zap.L())
}
