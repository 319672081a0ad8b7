package main

import (
	"fmt"
	"os"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/distbench-platform/distbench/actor"
	"github.com/distbench-platform/distbench/common/logging"
	"github.com/distbench-platform/distbench/harness"
)

// Config is the configuration of the distbench binary, both roles included.
type Config struct {
	// Logging configuration.
	Logging logging.Config `yaml:"logging"`
	// Actor system configuration, shared by every benchmark.
	Actor *actor.Config `yaml:"actor"`
	// Master role configuration.
	Master *harness.MasterConfig `yaml:"master"`
	// Client role configuration.
	Client *harness.ClientConfig `yaml:"client"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Logging: logging.Config{Level: zapcore.InfoLevel},
		Actor:   actor.DefaultConfig(),
		Master:  harness.DefaultMasterConfig(),
		Client:  harness.DefaultClientConfig(),
	}
}

// LoadConfig loads configuration from a YAML file at the specified path; an
// empty path yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML configuration: %w", err)
	}

	return cfg, nil
}

// Override applies command line flags on top of the loaded configuration.
func (m *Config) Override(cmd Cmd) error {
	if cmd.LogLevel != "" {
		level, err := zapcore.ParseLevel(cmd.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", cmd.LogLevel, err)
		}
		m.Logging.Level = level
	}
	if cmd.Benchmarks != "" {
		m.Master.Benchmarks = cmd.Benchmarks
	}
	if cmd.MasterEndpoint != "" {
		m.Client.MasterEndpoint = cmd.MasterEndpoint
	}
	return nil
}
