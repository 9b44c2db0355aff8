package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, TransportGoble, cfg.Transport)
	assert.False(t, cfg.ScanAllDevices)
	assert.True(t, cfg.AutoScan)
	assert.True(t, cfg.AutoConnect)
	assert.Equal(t, 60*time.Second, cfg.ScanAutoStop)
	assert.Equal(t, 15*time.Second, cfg.BatteryPollInterval)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, FormatTable, cfg.OutputFormat)
	assert.Equal(t, 32, cfg.FeedCapacity)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
log_level: debug
transport: tinyble
auto_connect: false
scan_auto_stop: 90s
battery_poll_interval: 5s
output_format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, TransportTinyble, cfg.Transport)
	assert.False(t, cfg.AutoConnect)
	assert.Equal(t, 90*time.Second, cfg.ScanAutoStop)
	assert.Equal(t, 5*time.Second, cfg.BatteryPollInterval)
	assert.Equal(t, FormatJSON, cfg.OutputFormat)

	// Fields the file does not name keep their defaults.
	assert.True(t, cfg.AutoScan)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 32, cfg.FeedCapacity)
}

func TestLoad_ZeroDurationDisables(t *testing.T) {
	path := writeConfigFile(t, `
scan_auto_stop: 0s
battery_poll_interval: 0s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, time.Duration(0), cfg.ScanAutoStop)
	assert.Equal(t, time.Duration(0), cfg.BatteryPollInterval)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfigFile(t, "log_level: [not, a, scalar")

	_, err := Load(path)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{
			name:    "unknown log level",
			content: "log_level: chatty",
			errMsg:  `invalid log_level "chatty"`,
		},
		{
			name:    "unknown transport",
			content: "transport: serial",
			errMsg:  `invalid transport "serial"`,
		},
		{
			name:    "unknown output format",
			content: "output_format: xml",
			errMsg:  `invalid output_format "xml"`,
		},
		{
			name:    "negative auto stop",
			content: "scan_auto_stop: -5s",
			errMsg:  "invalid scan_auto_stop",
		},
		{
			name:    "zero feed capacity",
			content: "feed_capacity: 0",
			errMsg:  "invalid feed_capacity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigFile(t, tt.content)

			_, err := Load(path)

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		valid  bool
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
			valid:  true,
		},
		{
			name:   "tinyble transport is valid",
			mutate: func(c *Config) { c.Transport = TransportTinyble },
			valid:  true,
		},
		{
			name:   "yaml format is valid",
			mutate: func(c *Config) { c.OutputFormat = FormatYAML },
			valid:  true,
		},
		{
			name:   "zero durations are valid",
			mutate: func(c *Config) { c.ScanAutoStop = 0; c.BatteryPollInterval = 0 },
			valid:  true,
		},
		{
			name:   "empty log level",
			mutate: func(c *Config) { c.LogLevel = "" },
			valid:  false,
		},
		{
			name:   "negative connect timeout",
			mutate: func(c *Config) { c.ConnectTimeout = -time.Second },
			valid:  false,
		},
		{
			name:   "negative feed capacity",
			mutate: func(c *Config) { c.FeedCapacity = -1 },
			valid:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		expected logrus.Level
	}{
		{
			name:     "creates logger with debug level",
			logLevel: "debug",
			expected: logrus.DebugLevel,
		},
		{
			name:     "creates logger with info level",
			logLevel: "info",
			expected: logrus.InfoLevel,
		},
		{
			name:     "creates logger with warn level",
			logLevel: "warn",
			expected: logrus.WarnLevel,
		},
		{
			name:     "creates logger with error level",
			logLevel: "error",
			expected: logrus.ErrorLevel,
		},
		{
			name:     "unparseable level falls back to info",
			logLevel: "chatty",
			expected: logrus.InfoLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				LogLevel: tt.logLevel,
			}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.expected, logger.GetLevel())

			// Verify formatter is set correctly
			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func TestConfig_SessionOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ScanAllDevices = true
	cfg.AutoConnect = false
	cfg.ScanAutoStop = 2 * time.Minute
	cfg.BatteryPollInterval = 7 * time.Second
	cfg.FeedCapacity = 8

	opts := cfg.SessionOptions()

	assert.True(t, opts.AutoScanOnPowerOn)
	assert.False(t, opts.AutoConnect)
	assert.True(t, opts.ScanAllDevices)
	assert.Equal(t, 2*time.Minute, opts.ScanAutoStop)
	assert.Equal(t, 7*time.Second, opts.BatteryPollInterval)
	assert.Equal(t, 8, opts.FeedCapacity)
	assert.Nil(t, opts.Clock)
}

func BenchmarkDefaultConfig(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = DefaultConfig()
	}
}

func BenchmarkConfig_NewLogger(b *testing.B) {
	cfg := DefaultConfig()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = cfg.NewLogger()
	}
}
