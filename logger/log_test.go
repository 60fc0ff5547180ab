package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSetup(t *testing.T) {
	prev := Log
	t.Cleanup(func() { Log = prev })

	require.NoError(t, Setup("info", true))
	require.False(t, Log.Core().Enabled(zap.DebugLevel))
	require.True(t, Log.Core().Enabled(zap.InfoLevel))

	require.NoError(t, Setup(" WARN ", false))
	require.False(t, Log.Core().Enabled(zap.InfoLevel))

	require.Error(t, Setup("loud", false))
}
