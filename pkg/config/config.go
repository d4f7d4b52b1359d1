// Package config provides configuration loading and management for
// nodulemask. It handles loading configuration from YAML files and provides
// default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML.
type Config struct {
	// Consensus parameters control how multiple radiologists' annotations
	// are fused into one mask.
	Consensus struct {
		// Threshold is the minimum fraction of radiologists that must
		// agree for a voxel to enter the consensus mask, in (0, 1].
		Threshold float64 `yaml:"threshold"`

		// MinAnnotations is the minimum number of radiologists a nodule
		// needs to count as reliable.
		MinAnnotations int `yaml:"minAnnotations"`

		// ClusterToleranceMM is the centroid distance under which two
		// annotations are grouped into the same nodule.
		ClusterToleranceMM float64 `yaml:"clusterToleranceMM"`
	} `yaml:"consensus"`

	// Volume parameters for loading and normalizing CT data.
	Volume struct {
		// MinHU and MaxHU bound the Hounsfield window used for
		// normalization.
		MinHU float64 `yaml:"minHU"`
		MaxHU float64 `yaml:"maxHU"`
	} `yaml:"volume"`

	// Batch parameters for mapping many scans.
	Batch struct {
		// Workers is the number of scans processed concurrently.
		Workers int `yaml:"workers"`
	} `yaml:"batch"`

	// Output parameters.
	Output struct {
		// SaveSlices controls whether reconstructed masks are also
		// exported as slice image sequences.
		SaveSlices bool `yaml:"saveSlices"`

		// SlicesDir is the directory slice sequences are written to.
		SlicesDir string `yaml:"slicesDir"`

		// Verbose controls the level of logging output.
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Consensus.Threshold = 0.5
	cfg.Consensus.MinAnnotations = 3
	cfg.Consensus.ClusterToleranceMM = 5.0

	cfg.Volume.MinHU = -1000
	cfg.Volume.MaxHU = 400

	cfg.Batch.Workers = runtime.NumCPU()

	cfg.Output.SaveSlices = false
	cfg.Output.SlicesDir = "mask_slices"
	cfg.Output.Verbose = false

	return cfg
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the
// specified path.
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
