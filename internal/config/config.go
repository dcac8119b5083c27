// Package config loads the YAML configuration used by the mycelium-rt tool.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/opd-ai/mycelium/dht"
)

// DefaultStorageFile is used when no storage_file is configured.
const DefaultStorageFile = "routing.dat"

// HealthSpec configures the health-check driver.
type HealthSpec struct {
	InactivityThreshold time.Duration `yaml:"inactivity_threshold,omitempty"`
	Interval            time.Duration `yaml:"interval,omitempty"`
	ProbeTimeout        time.Duration `yaml:"probe_timeout,omitempty"`
	Concurrency         int           `yaml:"concurrency,omitempty"`
}

// Config is the on-disk configuration.
type Config struct {
	SelfID      string     `yaml:"self_id"`
	K           int        `yaml:"k,omitempty"`
	StorageFile string     `yaml:"storage_file,omitempty"`
	LogLevel    string     `yaml:"log_level,omitempty"`
	Health      HealthSpec `yaml:"health"`
}

// Default returns a configuration with every optional field filled in.
func Default() Config {
	hc := dht.DefaultHealthCheckConfig()
	return Config{
		K:           dht.DefaultK,
		StorageFile: DefaultStorageFile,
		LogLevel:    "info",
		Health: HealthSpec{
			InactivityThreshold: hc.InactivityThreshold,
			Interval:            hc.Interval,
			ProbeTimeout:        hc.ProbeTimeout,
			Concurrency:         hc.Concurrency,
		},
	}
}

// Load reads path and fills unset fields from Default. A missing file
// yields the defaults.
func Load(path string) (Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logrus.WithFields(logrus.Fields{
				"function": "Load",
				"path":     path,
			}).Debug("No config file, using defaults")
			return c, nil
		}
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	c.fillDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Save writes c to path as YAML.
func Save(path string, c Config) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func (c *Config) fillDefaults() {
	d := Default()
	if c.K == 0 {
		c.K = d.K
	}
	if c.StorageFile == "" {
		c.StorageFile = d.StorageFile
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.Health.InactivityThreshold == 0 {
		c.Health.InactivityThreshold = d.Health.InactivityThreshold
	}
	if c.Health.Interval == 0 {
		c.Health.Interval = d.Health.Interval
	}
	if c.Health.ProbeTimeout == 0 {
		c.Health.ProbeTimeout = d.Health.ProbeTimeout
	}
	if c.Health.Concurrency == 0 {
		c.Health.Concurrency = d.Health.Concurrency
	}
}

// Validate checks field ranges and formats.
func (c Config) Validate() error {
	if c.K < 1 {
		return fmt.Errorf("k must be at least 1, got %d", c.K)
	}
	if c.SelfID != "" {
		if _, err := dht.NodeIDFromHex(c.SelfID); err != nil {
			return fmt.Errorf("invalid self_id: %w", err)
		}
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	if c.Health.InactivityThreshold < 0 || c.Health.Interval < 0 || c.Health.ProbeTimeout < 0 {
		return errors.New("health durations must not be negative")
	}
	if c.Health.Concurrency < 0 {
		return fmt.Errorf("health concurrency must not be negative, got %d", c.Health.Concurrency)
	}
	return nil
}

// NodeID returns the configured local identifier, or false if none is set.
func (c Config) NodeID() (dht.NodeID, bool) {
	id, err := dht.NodeIDFromHex(c.SelfID)
	if err != nil {
		return dht.NodeID{}, false
	}
	return id, true
}

// HealthCheckConfig converts the health section for dht.NewHealthChecker.
func (c Config) HealthCheckConfig() *dht.HealthCheckConfig {
	return &dht.HealthCheckConfig{
		Interval:            c.Health.Interval,
		InactivityThreshold: c.Health.InactivityThreshold,
		ProbeTimeout:        c.Health.ProbeTimeout,
		Concurrency:         c.Health.Concurrency,
	}
}
