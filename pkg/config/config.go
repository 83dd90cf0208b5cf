// Package config handles session configuration loading and management
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/kilnproject/kiln/pkg/types"
)

// Manager handles configuration operations
type Manager struct{}

// NewManager creates a new configuration manager
func NewManager() *Manager {
	return &Manager{}
}

// Default returns a configuration with every field at its default
func Default() *types.KilnConfig {
	return &types.KilnConfig{
		Version:        "1.0",
		RecipeDir:      ".",
		BuildDir:       "build",
		LogDir:         "logs",
		MaxConcurrency: runtime.NumCPU(),
		Cleanup:        types.CleanupKeepOnFailure,
	}
}

// LoadConfig loads configuration from a file, trying JSON first and
// falling back to YAML, then applies defaults and validates
func (m *Manager) LoadConfig(path string) (*types.KilnConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg types.KilnConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config as JSON or YAML: %w", err)
		}
	}

	m.applyDefaults(&cfg)
	if err := m.ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ValidateConfig validates a configuration
func (m *Manager) ValidateConfig(cfg *types.KilnConfig) error {
	if cfg.Version != "1.0" {
		return fmt.Errorf("unsupported config version: %s", cfg.Version)
	}

	if cfg.MaxConcurrency < 1 {
		return fmt.Errorf("maxConcurrency must be at least 1, got %d", cfg.MaxConcurrency)
	}

	switch cfg.Cleanup {
	case types.CleanupKeepOnFailure, types.CleanupAlwaysKeep, types.CleanupAlwaysRemove:
	default:
		return fmt.Errorf("invalid cleanup policy: %s", cfg.Cleanup)
	}

	if cfg.PhaseTimeout != nil && *cfg.PhaseTimeout <= 0 {
		return fmt.Errorf("phaseTimeoutSeconds must be positive when set")
	}

	return nil
}

func (m *Manager) applyDefaults(cfg *types.KilnConfig) {
	def := Default()
	if cfg.Version == "" {
		cfg.Version = def.Version
	}
	if cfg.RecipeDir == "" {
		cfg.RecipeDir = def.RecipeDir
	}
	if cfg.BuildDir == "" {
		cfg.BuildDir = def.BuildDir
	}
	if cfg.LogDir == "" {
		cfg.LogDir = def.LogDir
	}
	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if cfg.Cleanup == "" {
		cfg.Cleanup = def.Cleanup
	}
}
