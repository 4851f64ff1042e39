// Package config loads the engine's YAML configuration file (spec.md §2.11):
// worker count, timeouts, and the offload/fail-open policy flags.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete engine configuration structure, loaded from a YAML
// file the way the teacher's CLI loads its own config.
type Config struct {
	Pool struct {
		Workers           int           `yaml:"workers"`
		WorkChannelDepth  int           `yaml:"work_channel_depth"`
		ControlQueueDepth int           `yaml:"control_queue_depth"`
		HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
		HandshakeRetries  int           `yaml:"handshake_retries"`
	} `yaml:"pool"`

	Control struct {
		PutTimeout        time.Duration `yaml:"put_timeout"`
		KeepAliveInterval time.Duration `yaml:"keep_alive_interval"`
		InitTimeout       time.Duration `yaml:"init_timeout"`
		KeepAliveTimeout  time.Duration `yaml:"keep_alive_timeout"`
	} `yaml:"control"`

	Policy struct {
		OffloadEnabled bool `yaml:"offload_enabled"`
		FailOpen       bool `yaml:"fail_open"`
	} `yaml:"policy"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`

	LogLevel string `yaml:"log_level"`
}

// Default returns a Config matching spec.md's design-note timing defaults
// (init timeout 20s, keep-alive interval 30s, keep-alive timeout 60s, put
// timeout 5s), offloading enabled, and fail-open behavior enabled.
func Default() Config {
	var c Config
	c.Pool.WorkChannelDepth = 64
	c.Pool.ControlQueueDepth = 8
	c.Pool.HandshakeTimeout = 5 * time.Second
	c.Pool.HandshakeRetries = 4
	c.Control.PutTimeout = 5 * time.Second
	c.Control.KeepAliveInterval = 30 * time.Second
	c.Control.InitTimeout = 20 * time.Second
	c.Control.KeepAliveTimeout = 60 * time.Second
	c.Policy.OffloadEnabled = true
	c.Policy.FailOpen = true
	c.Metrics.Port = 9090
	c.LogLevel = "info"
	return c
}

// Load reads and parses a YAML config file, starting from Default and
// overriding whatever the file sets.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}
