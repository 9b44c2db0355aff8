package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/blip/internal/session"
	"github.com/srg/blip/pkg/config"
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch [device]",
	Short: "Stream live heart rate readings",
	Long: `Scan for heart rate monitors, connect, and stream live readings until
interrupted.

Without an argument the first named heart rate advertiser is connected
automatically. With a device id or name the session waits for that
advertiser and connects to it; picking a different device later tears the
old link down gracefully before the new one is dialed.

The default table output repaints a dashboard in place. With --format json
or yaml every state change is emitted as one document, suitable for piping.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

var (
	watchFormat  string
	watchAll     bool
	watchVerbose bool
)

func init() {
	watchCmd.Flags().StringVarP(&watchFormat, "format", "f", "", "Output format (table, json, yaml)")
	watchCmd.Flags().BoolVarP(&watchAll, "all", "a", false, "List every advertiser, not only heart rate monitors")
	watchCmd.Flags().BoolVar(&watchVerbose, "verbose", false, "Enable debug logging")
}

func runWatch(cmd *cobra.Command, args []string) error {
	// Validate format parameter
	if watchFormat != "" {
		validFormats := []string{config.FormatTable, config.FormatJSON, config.FormatYAML}
		isValidFormat := false
		for _, format := range validFormats {
			if watchFormat == format {
				isValidFormat = true
				break
			}
		}
		if !isValidFormat {
			return fmt.Errorf("invalid format '%s': must be one of %v", watchFormat, validFormats)
		}
	}

	// Configure logger based on --log-level and --verbose flags
	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if watchFormat != "" {
		cfg.OutputFormat = watchFormat
	}
	if watchAll {
		cfg.ScanAllDevices = true
	}

	var target string
	if len(args) == 1 {
		target = args[0]
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	central, err := centralFactory(cfg, logger)
	if err != nil {
		return err
	}
	defer central.Close()

	opts := cfg.SessionOptions()
	opts.AutoScanOnPowerOn = true
	if target != "" {
		// An explicit target must not race the automatic pick.
		opts.AutoConnect = false
	}

	sess := session.New(central, opts, logger)
	defer sess.Close()
	defer func() {
		d := sess.Diagnostics()
		logger.WithFields(logrus.Fields{
			"connect_failures":   d.ConnectFailures,
			"discovery_failures": d.DiscoveryFailures,
			"malformed_payloads": d.MalformedPayloads,
		}).Debug("Session diagnostics")
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up our own signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\nCtrl+C pressed, shutting down...")
		cancel()
	}()

	// Run the event pump in a goroutine
	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- sess.Run(ctx)
	}()

	interactive := cfg.OutputFormat == config.FormatTable && stdoutIsTerminal()

	render := func(snap session.Snapshot) error {
		switch cfg.OutputFormat {
		case config.FormatJSON:
			return displayJSON(os.Stdout, snap)
		case config.FormatYAML:
			fmt.Println("---")
			return displayYAML(os.Stdout, snap)
		default:
			if interactive {
				clearScreen(os.Stdout)
			}
			return renderDashboard(os.Stdout, snap, interactive)
		}
	}

	// An explicit target is connected as soon as it shows up in a round.
	requested := false
	tryConnect := func(snap session.Snapshot) {
		if target == "" || requested {
			return
		}
		for _, d := range snap.Devices {
			if d.ID == target || d.Name == target {
				if err := sess.ConnectTo(d.ID); err != nil {
					logger.WithFields(logrus.Fields{
						"device": d.ID,
						"error":  err,
					}).Warn("Connect request failed")
				}
				requested = true
				return
			}
		}
	}

	// Repaint periodically in table mode so the freshness columns move even
	// without state changes. A nil channel never fires.
	var repaint <-chan time.Time
	if cfg.OutputFormat == config.FormatTable {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		repaint = ticker.C
	}

	if err := render(sess.Snapshot()); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			<-runErrCh
			return nil

		case err := <-runErrCh:
			// Event stream ended underneath us
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil

		case snap, ok := <-sess.Updates():
			if !ok {
				return nil
			}
			tryConnect(snap)
			if err := render(snap); err != nil {
				return err
			}

		case <-repaint:
			if err := render(sess.Snapshot()); err != nil {
				return err
			}
		}
	}
}
