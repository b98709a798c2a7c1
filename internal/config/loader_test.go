package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/lanes.json")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/lanes.json", loader.configPath)
}

func TestLoaderLoad(t *testing.T) {
	t.Run("load default config when file doesn't exist", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "nonexistent.json")

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, "main", cfg.Executor.DefaultLane)
		assert.Equal(t, 30, cfg.Executor.DrainTimeout)
		assert.NotEmpty(t, cfg.DataDir)
	})

	t.Run("load config from file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "lanes.json")

		testConfig := `{
			"executor": {
				"default_lane": "build",
				"drain_timeout": 5,
				"warn_after_ms": 250
			},
			"logging": {
				"level": "debug"
			},
			"metrics": {
				"enabled": true,
				"addr": ":9999"
			}
		}`
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0644))

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, "build", cfg.Executor.DefaultLane)
		assert.Equal(t, 5, cfg.Executor.DrainTimeout)
		assert.Equal(t, 250, cfg.Executor.WarnAfterMs)
		assert.Equal(t, 300, cfg.Executor.DedupTTL, "unset keys keep their defaults")
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.True(t, cfg.Metrics.Enabled)
		assert.Equal(t, ":9999", cfg.Metrics.Addr)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "lanes.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"executor":{"default_lane":"build"}}`), 0644))
		t.Setenv("LANES_EXECUTOR_DEFAULT_LANE", "deploy")
		t.Setenv("LANES_WATCH_DEBOUNCE_MS", "42")

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, "deploy", cfg.Executor.DefaultLane)
		assert.Equal(t, 42, cfg.Watch.DebounceMs)
	})

	t.Run("invalid json", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "lanes.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{not json`), 0644))

		_, err := NewLoader(configPath).Load()
		assert.Error(t, err)
	})
}

func TestLoaderSave(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "lanes.json")
	loader := NewLoader(configPath)

	cfg := DefaultConfig()
	cfg.Executor.DefaultLane = "saved"
	cfg.Watch.DebounceMs = 10
	require.NoError(t, loader.Save(cfg))

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "saved", loaded.Executor.DefaultLane)
	assert.Equal(t, 10, loaded.Watch.DebounceMs)
}

func TestGetConfigPath(t *testing.T) {
	assert.Equal(t, "/custom/lanes.json", NewLoader("/custom/lanes.json").GetConfigPath())

	path := NewLoader("").GetConfigPath()
	assert.Equal(t, "lanes.json", filepath.Base(path))
	assert.Equal(t, ".lanes", filepath.Base(filepath.Dir(path)))
}
