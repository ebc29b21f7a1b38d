// Package config reads the CLI's YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	ouroboros "github.com/i5heu/ouroboros-cryptree"
	"github.com/i5heu/ouroboros-cryptree/pkg/logging"
	"gopkg.in/yaml.v2"
)

type Config struct {
	DataDir       string `yaml:"dataDir"`
	Backend       string `yaml:"backend"`
	MinimumFreeGB uint   `yaml:"minimumFreeGB"`
	Workers       int    `yaml:"workers"`
	Compress      bool   `yaml:"compress"`
	LogLevel      string `yaml:"logLevel"`
	NoColor       bool   `yaml:"noColor"`
	// GCMinutes is the badger compaction interval, 0 disables it.
	GCMinutes int `yaml:"gcMinutes"`

	Erasure struct {
		Original        int `yaml:"original"`
		AllowedFailures int `yaml:"allowedFailures"`
	} `yaml:"erasure"`
}

// DefaultDir is where the CLI keeps its data when nothing else is set.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cryptree"
	}
	return filepath.Join(home, ".cryptree")
}

func Default() Config {
	var c Config
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = DefaultDir()
	}
	if c.Backend == "" {
		c.Backend = string(ouroboros.BackendBadger)
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Load reads path. A missing file yields the defaults.
func Load(path string) (Config, error) {
	var c Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return c, fmt.Errorf("config: read %s: %w", path, err)
	default:
		if err := yaml.UnmarshalStrict(data, &c); err != nil {
			return c, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	c.applyDefaults()
	return c, nil
}

// Save writes c to path as YAML.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Store converts c into the store configuration.
func (c Config) Store() ouroboros.Config {
	return ouroboros.Config{
		Paths:                     []string{filepath.Join(c.DataDir, "store")},
		MinimumFreeGB:             c.MinimumFreeGB,
		Logger:                    logging.New(os.Stderr, logging.ParseLevel(c.LogLevel), c.NoColor),
		Backend:                   ouroboros.Backend(c.Backend),
		ErasureOriginal:           c.Erasure.Original,
		ErasureAllowedFailures:    c.Erasure.AllowedFailures,
		Workers:                   c.Workers,
		CompressUploads:           c.Compress,
		GarbageCollectionInterval: time.Duration(c.GCMinutes) * time.Minute,
	}
}
