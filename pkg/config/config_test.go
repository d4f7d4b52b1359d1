package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 0.5, cfg.Consensus.Threshold)
	assert.Equal(t, 3, cfg.Consensus.MinAnnotations)
	assert.Equal(t, 5.0, cfg.Consensus.ClusterToleranceMM)
	assert.Equal(t, -1000.0, cfg.Volume.MinHU)
	assert.Equal(t, 400.0, cfg.Volume.MaxHU)
	assert.Positive(t, cfg.Batch.Workers)
	assert.False(t, cfg.Output.SaveSlices)
	assert.Equal(t, "mask_slices", cfg.Output.SlicesDir)
}

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodulemask.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`consensus:
  threshold: 0.75
  minAnnotations: 4
volume:
  minHU: -1200
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 0.75, cfg.Consensus.Threshold)
	assert.Equal(t, 4, cfg.Consensus.MinAnnotations)
	assert.Equal(t, -1200.0, cfg.Volume.MinHU)

	// Unspecified fields keep the defaults.
	assert.Equal(t, 5.0, cfg.Consensus.ClusterToleranceMM)
	assert.Equal(t, 400.0, cfg.Volume.MaxHU)
}

func TestLoadConfigMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodulemask.yaml")
	require.NoError(t, os.WriteFile(path, []byte("consensus: [not a map"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "nodulemask.yaml")

	cfg := DefaultConfig()
	cfg.Consensus.Threshold = 0.9
	cfg.Output.SaveSlices = true
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodulemask.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), loaded)
}
