package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Show renders the effective configuration as YAML.
func Show(cfg Config) ([]byte, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return out, nil
}
