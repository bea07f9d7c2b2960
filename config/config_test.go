package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goforj/cachecompress/cachecore"
)

func TestNewUsesBuiltInDefaults(t *testing.T) {
	src, err := New()
	require.NoError(t, err)
	assert.Equal(t, cachecore.DefaultSettings(), src.CompressionDefaults())
}

func TestLoadFromReaderYAML(t *testing.T) {
	yaml := `
cache-compress:
  enabled: false
  compression_level: 3
`
	src, err := LoadFromReader(strings.NewReader(yaml), "yaml")
	require.NoError(t, err)
	assert.Equal(t, cachecore.Settings{Enabled: false, Level: 3}, src.CompressionDefaults())
	assert.Equal(t, Compress{Enabled: false, CompressionLevel: 3}, src.Compress())
}

func TestLoadFileWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"cache-compress":{"enabled":true,"compression_level":2}}`), 0o600))
	t.Setenv(EnvLevel, "8")

	src, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cachecore.Settings{Enabled: true, Level: 8}, src.CompressionDefaults())
}

func TestEnvDisablesCompression(t *testing.T) {
	t.Setenv(EnvEnabled, "false")
	src, err := New()
	require.NoError(t, err)
	assert.False(t, src.CompressionDefaults().Enabled)
	assert.Equal(t, cachecore.DefaultLevel, src.CompressionDefaults().Level)
}

func TestInvalidLevelRejected(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("cache-compress:\n  compression_level: 12\n"), "yaml")
	require.ErrorIs(t, err, ErrInvalidLevel)
}

func TestSetPublishesAndNotifies(t *testing.T) {
	src, err := New()
	require.NoError(t, err)

	var got atomic.Value
	src.Subscribe(func(s cachecore.Settings) { got.Store(s) })

	require.NoError(t, src.Set(KeyLevel, 1))
	assert.Equal(t, 1, src.CompressionDefaults().Level)
	assert.Equal(t, cachecore.Settings{Enabled: true, Level: 1}, got.Load())

	require.ErrorIs(t, src.Set(KeyLevel, -4), ErrInvalidLevel)
	assert.Equal(t, 1, src.CompressionDefaults().Level, "invalid update must keep previous settings")
}

func TestSetRollsBackRejectedValue(t *testing.T) {
	src, err := New()
	require.NoError(t, err)
	require.NoError(t, src.Set(KeyLevel, 3))

	require.ErrorIs(t, src.Set(KeyLevel, 42), ErrInvalidLevel)
	require.NoError(t, src.Set(KeyEnabled, false), "a rejected level must not block later updates")
	assert.Equal(t, cachecore.Settings{Enabled: false, Level: 3}, src.CompressionDefaults())
	assert.Equal(t, Compress{Enabled: false, CompressionLevel: 3}, src.Compress())
}

func TestWatchReloadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache-compress:\n  enabled: true\n  compression_level: 4\n"), 0o600))

	src, err := Load(path)
	require.NoError(t, err)
	src.Watch()

	require.NoError(t, os.WriteFile(path, []byte("cache-compress:\n  enabled: false\n  compression_level: 9\n"), 0o600))
	require.Eventually(t, func() bool {
		return src.CompressionDefaults() == cachecore.Settings{Enabled: false, Level: 9}
	}, 5*time.Second, 20*time.Millisecond)
}
