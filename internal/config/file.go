// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load resolves configuration: environment first, then the optional YAML
// file at path overlaying everything it explicitly sets. An empty path means
// env-only.
func Load(path string) (Config, error) {
	cfg := FromEnv()
	if path == "" {
		return cfg, cfg.Validate()
	}
	if err := mergeFile(&cfg, path); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	// Unmarshalling into the env-resolved struct keeps unset file keys at
	// their env/default values.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}
