// Package config loads xblink settings from an optional YAML file layered
// over built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/xblink/internal/radiofactory"
	"github.com/srg/xblink/internal/transport"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel   string   `yaml:"log_level" default:"info"`
	Backend    string   `yaml:"backend" default:"go-ble"`
	Timeouts   Timeouts `yaml:"timeouts"`
	MTU        MTU      `yaml:"mtu"`
	LowLatency bool     `yaml:"low_latency" default:"true"`
	Scan       Scan     `yaml:"scan"`
	PTY        PTY      `yaml:"pty"`
}

type Timeouts struct {
	Connect    time.Duration `yaml:"connect" default:"20s"`
	Disconnect time.Duration `yaml:"disconnect" default:"5s"`
	Subscribe  time.Duration `yaml:"subscribe" default:"3s"`
	Service    time.Duration `yaml:"service" default:"3s"`
	Write      time.Duration `yaml:"write" default:"3s"`
	WriteLong  time.Duration `yaml:"write_long" default:"6s"`
	Admission  time.Duration `yaml:"admission" default:"3s"`
	Settle     time.Duration `yaml:"settle" default:"1s"`
}

type MTU struct {
	Request int `yaml:"request" default:"512"`
	Floor   int `yaml:"floor" default:"23"`
}

type Scan struct {
	Duration time.Duration `yaml:"duration" default:"10s"`
}

type PTY struct {
	ReadCap  int `yaml:"read_cap" default:"4096"`
	WriteCap int `yaml:"write_cap" default:"4096"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	c := &Config{}
	defaults.SetDefaults(c)
	return c
}

// DefaultPath is ~/.config/xblink/config.yaml, or "" when the home directory
// is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "xblink", "config.yaml")
}

// Load reads path over the defaults and validates the result. A missing file
// yields the defaults unless mustExist is set.
func Load(path string, mustExist bool) (*Config, error) {
	c := DefaultConfig()
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist) && !mustExist:
		return c, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return c, nil
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if !slices.Contains(radiofactory.Names(), c.Backend) {
		return fmt.Errorf("backend: unknown %q", c.Backend)
	}

	for name, d := range map[string]time.Duration{
		"connect":    c.Timeouts.Connect,
		"disconnect": c.Timeouts.Disconnect,
		"subscribe":  c.Timeouts.Subscribe,
		"service":    c.Timeouts.Service,
		"write":      c.Timeouts.Write,
		"write_long": c.Timeouts.WriteLong,
		"admission":  c.Timeouts.Admission,
	} {
		if d <= 0 {
			return fmt.Errorf("timeouts.%s must be positive, got %s", name, d)
		}
	}
	if c.Timeouts.Settle < 0 {
		return fmt.Errorf("timeouts.settle must not be negative, got %s", c.Timeouts.Settle)
	}
	if c.Scan.Duration < 0 {
		return fmt.Errorf("scan.duration must not be negative, got %s", c.Scan.Duration)
	}
	if c.PTY.ReadCap <= 0 || c.PTY.WriteCap <= 0 {
		return fmt.Errorf("pty capacities must be positive")
	}
	return c.TransportOptions().Validate()
}

// TransportOptions maps the connection settings onto transport.Options.
func (c *Config) TransportOptions() transport.Options {
	opts := transport.DefaultOptions()
	opts.ConnectTimeout = c.Timeouts.Connect
	opts.DisconnectTimeout = c.Timeouts.Disconnect
	opts.SubscribeTimeout = c.Timeouts.Subscribe
	opts.ServiceTimeout = c.Timeouts.Service
	opts.WriteTimeout = c.Timeouts.Write
	opts.WriteLongTimeout = c.Timeouts.WriteLong
	opts.AdmissionTimeout = c.Timeouts.Admission
	opts.SettleDelay = c.Timeouts.Settle
	opts.RequestMTU = c.MTU.Request
	opts.MinMTU = c.MTU.Floor
	opts.LowLatency = c.LowLatency
	return opts
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
