package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestInit(t *testing.T) {
	prev := Log
	t.Cleanup(func() { Log = prev })

	require.NoError(t, Init("debug", "console"))
	assert.True(t, Log.Core().Enabled(zapcore.DebugLevel))

	require.NoError(t, Init("bogus", "json"))
	assert.False(t, Log.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, Log.Core().Enabled(zapcore.InfoLevel))
}
