// Package config loads the node's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/btide/btide/internal/utils"
	"gopkg.in/yaml.v3"
)

// ErrConfig is returned for invalid configuration values.
var ErrConfig = errors.New("invalid configuration")

// Config holds the node's settings.
type Config struct {
	// Directory is where package data files live; relative manifest
	// filenames resolve against it.
	Directory string `yaml:"directory"`
	// MaxPeers bounds the peer registry.
	MaxPeers int `yaml:"max_peers"`
	// Port is the listener's TCP port. Zero asks the OS for a free port.
	Port uint16 `yaml:"port"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Directory: ".",
		MaxPeers:  8,
		Port:      2310,
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, utils.WrapEntityError("config read failed", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, utils.WrapEntityError("config parse failed", path,
			fmt.Errorf("%w: %v", ErrConfig, err))
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	if c.Directory == "" {
		return fmt.Errorf("%w: directory must be set", ErrConfig)
	}
	if c.MaxPeers < 1 {
		return fmt.Errorf("%w: max_peers %d must be at least 1", ErrConfig, c.MaxPeers)
	}
	return nil
}
