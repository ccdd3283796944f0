// Package config loads cmd/vthreadctl's scenario configuration: which demo
// scenario to run and where to send its observability output, following the
// same "optional YAML file, sane zero-value defaults" shape as the
// reference tooling's site-config loader.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultScenario is used when a config file is absent or leaves Scenario
// blank.
const DefaultScenario = "store-and-halt"

// Config is the on-disk shape of a scenario configuration file.
type Config struct {
	Scenario      string `yaml:"scenario"`
	LogLevel      string `yaml:"logLevel"`
	TracePath     string `yaml:"tracePath"`
	TimeslicePath string `yaml:"timeslicePath"`
}

// Default returns the zero-config "run with defaults" configuration:
// store-and-halt at info level, no tracing.
func Default() Config {
	return Config{
		Scenario: DefaultScenario,
		LogLevel: "info",
	}
}

// Load reads and parses a scenario configuration file at path. An empty
// path returns Default() without touching the filesystem, matching
// cmd/vthreadctl's "no config file given" case.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.Scenario == "" {
		cfg.Scenario = DefaultScenario
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg, nil
}
