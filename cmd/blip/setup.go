package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/blip/internal/transport"
	"github.com/srg/blip/internal/transport/goble"
	"github.com/srg/blip/internal/transport/tinyble"
	"github.com/srg/blip/pkg/config"
)

// centralFactory builds the BLE backend for a config (overridable in tests).
var centralFactory = func(cfg *config.Config, logger *logrus.Logger) (transport.Central, error) {
	switch cfg.Transport {
	case config.TransportTinyble:
		return tinyble.New(logger), nil
	case config.TransportGoble:
		c := goble.New(logger)
		c.SetDialTimeout(cfg.ConnectTimeout)
		return c, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// loadConfig reads the file named by the persistent --config flag. Without
// the flag it returns the built-in defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}
