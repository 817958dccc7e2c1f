package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed JSON returns an error.
func Load(globalPath, projectPath string) (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	// Merge global config if exists
	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	// Merge project config if exists (highest precedence)
	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.dispatch/config.json
// Project: .dispatch/config.json (relative to cwd)
func LoadDefault() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}

	globalPath := filepath.Join(homeDir, ".dispatch", "config.json")
	projectPath := filepath.Join(".dispatch", "config.json")

	return Load(globalPath, projectPath)
}

// fileConfig mirrors Config with optional sections, so a file only
// overrides the sections it names.
type fileConfig struct {
	Scheduler *SchedulerConfig          `json:"scheduler,omitempty"`
	Retry     *RetryConfig              `json:"retry,omitempty"`
	Breaker   *BreakerConfig            `json:"breaker,omitempty"`
	Matcher   *MatcherConfig            `json:"matcher,omitempty"`
	Plans     *PlansConfig              `json:"plans,omitempty"`
	Store     *StoreConfig              `json:"store,omitempty"`
	Executors map[string]ExecutorConfig `json:"executors,omitempty"`
}

// mergeConfigFile reads a JSON config file and merges it into the base config.
// Present sections replace the base section wholly; executors merge per key.
// Missing files are silently skipped. Malformed JSON returns an error.
func mergeConfigFile(base *Config, path string) error {
	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // Missing file is not an error
	}

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	// Parse JSON
	var loaded fileConfig
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if loaded.Scheduler != nil {
		base.Scheduler = *loaded.Scheduler
	}
	if loaded.Retry != nil {
		base.Retry = *loaded.Retry
	}
	if loaded.Breaker != nil {
		base.Breaker = *loaded.Breaker
	}
	if loaded.Matcher != nil {
		base.Matcher = *loaded.Matcher
	}
	if loaded.Plans != nil {
		base.Plans = *loaded.Plans
	}
	if loaded.Store != nil {
		base.Store = *loaded.Store
	}

	// Merge executors per key
	for key, exec := range loaded.Executors {
		base.Executors[key] = exec
	}

	return nil
}
