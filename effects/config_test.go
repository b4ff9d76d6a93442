package effects_test

import (
	"context"
	"strings"
	"testing"

	"github.com/on-the-ground/effect_ive_runtime/effects"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_DefaultsNonPositiveSizes(t *testing.T) {
	c := effects.NewConfig(0, -3)
	require.Equal(t, 1, c.BufferSize)
	require.Equal(t, 1, c.NumWorkers)
}

func TestLoadConfig(t *testing.T) {
	c, err := effects.LoadConfig(strings.NewReader(`
runtime:
  num_workers: 4
  yield_op_count: 128
  track_fibers: true
  log_level: debug
`))
	require.NoError(t, err)
	require.Equal(t, 4, c.NumWorkers)
	require.Equal(t, effects.DefaultConfig().BufferSize, c.BufferSize)
	require.Equal(t, 128, c.YieldOpCount)
	require.True(t, c.TrackFibers)
	require.Equal(t, "debug", c.LogLevel)
}

func TestLoadConfig_EmptyDocumentIsDefault(t *testing.T) {
	c, err := effects.LoadConfig(strings.NewReader(""))
	require.NoError(t, err)
	require.Equal(t, effects.DefaultConfig(), c)
}

func TestLoadConfig_Invalid(t *testing.T) {
	_, err := effects.LoadConfig(strings.NewReader("runtime: [1, 2"))
	require.Error(t, err)
}

func TestNewRuntime_InvalidLogLevel(t *testing.T) {
	c := effects.DefaultConfig()
	c.LogLevel = "loud"
	_, err := effects.NewRuntime(context.Background(), effects.WithConfig(c))
	require.Error(t, err)
}
