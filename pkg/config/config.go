// Package config loads and validates the application configuration.
//
// Configuration is plain YAML. Every field has a usable default, so an empty
// file (or no file at all) yields a working setup; a file only needs to name
// the fields it overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/blip/internal/session"
)

// Transport backend names accepted by Config.Transport.
const (
	TransportGoble   = "goble"
	TransportTinyble = "tinyble"
)

// Output format names accepted by Config.OutputFormat.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// Config holds application configuration.
type Config struct {
	// LogLevel is a logrus level name (debug, info, warn, error, ...).
	LogLevel string `yaml:"log_level" default:"info"`

	// Transport selects the BLE backend.
	Transport string `yaml:"transport" default:"goble"`

	// ScanAllDevices lifts the heart rate service filter during scans.
	ScanAllDevices bool `yaml:"scan_all_devices"`

	// AutoScan starts a scan round as soon as the adapter is ready.
	AutoScan bool `yaml:"auto_scan" default:"true"`

	// AutoConnect connects to the first named heart rate advertiser.
	AutoConnect bool `yaml:"auto_connect" default:"true"`

	// ScanAutoStop stops scanning this long after a connection attempt
	// begins. Zero keeps the radio scanning indefinitely.
	ScanAutoStop time.Duration `yaml:"scan_auto_stop" default:"60s"`

	// BatteryPollInterval re-reads the battery level while connected.
	// Zero disables polling.
	BatteryPollInterval time.Duration `yaml:"battery_poll_interval" default:"15s"`

	// ConnectTimeout bounds a single connection attempt.
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"30s"`

	// OutputFormat is the default rendering for scan results and snapshots.
	OutputFormat string `yaml:"output_format" default:"table"`

	// FeedCapacity bounds the snapshot feed buffer.
	FeedCapacity int `yaml:"feed_capacity" default:"32"`
}

// DefaultConfig returns default configuration values.
func DefaultConfig() *Config {
	cfg := new(Config)
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML config file over the defaults. An empty path returns the
// defaults untouched. The result is validated before it is returned.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	switch c.Transport {
	case TransportGoble, TransportTinyble:
	default:
		return fmt.Errorf("invalid transport %q: must be one of [%s %s]", c.Transport, TransportGoble, TransportTinyble)
	}
	switch c.OutputFormat {
	case FormatTable, FormatJSON, FormatYAML:
	default:
		return fmt.Errorf("invalid output_format %q: must be one of [%s %s %s]", c.OutputFormat, FormatTable, FormatJSON, FormatYAML)
	}
	if c.ScanAutoStop < 0 {
		return fmt.Errorf("invalid scan_auto_stop %s: must not be negative", c.ScanAutoStop)
	}
	if c.BatteryPollInterval < 0 {
		return fmt.Errorf("invalid battery_poll_interval %s: must not be negative", c.BatteryPollInterval)
	}
	if c.ConnectTimeout < 0 {
		return fmt.Errorf("invalid connect_timeout %s: must not be negative", c.ConnectTimeout)
	}
	if c.FeedCapacity <= 0 {
		return fmt.Errorf("invalid feed_capacity %d: must be positive", c.FeedCapacity)
	}
	return nil
}

// NewLogger creates a configured logger instance.
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

// SessionOptions maps the config onto session options.
func (c *Config) SessionOptions() *session.Options {
	return &session.Options{
		AutoScanOnPowerOn:   c.AutoScan,
		AutoConnect:         c.AutoConnect,
		ScanAllDevices:      c.ScanAllDevices,
		ScanAutoStop:        c.ScanAutoStop,
		BatteryPollInterval: c.BatteryPollInterval,
		FeedCapacity:        c.FeedCapacity,
	}
}
