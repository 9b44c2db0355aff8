package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blip/internal/session"
	"github.com/srg/blip/pkg/config"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for heart rate monitors",
	Long: `Scan for and display Bluetooth Low Energy heart rate monitors in the vicinity.

Devices are listed in the order they were first seen, with their names,
identifiers, RSSI values, and whether they advertise the heart rate
service. Advertisers without a name are never listed.`,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
	scanAll      bool
	scanVerbose  bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration (0 for indefinite)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "", "Output format (table, json, yaml)")
	scanCmd.Flags().BoolVarP(&scanAll, "all", "a", false, "List every advertiser, not only heart rate monitors")
	scanCmd.Flags().BoolVar(&scanVerbose, "verbose", false, "Enable debug logging")
}

func runScan(cmd *cobra.Command, args []string) error {
	// Validate format parameter
	if scanFormat != "" {
		validFormats := []string{config.FormatTable, config.FormatJSON, config.FormatYAML}
		isValidFormat := false
		for _, format := range validFormats {
			if scanFormat == format {
				isValidFormat = true
				break
			}
		}
		if !isValidFormat {
			return fmt.Errorf("invalid format '%s': must be one of %v", scanFormat, validFormats)
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
	if scanFormat != "" {
		cfg.OutputFormat = scanFormat
	}
	if scanAll {
		cfg.ScanAllDevices = true
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	central, err := centralFactory(cfg, logger)
	if err != nil {
		return err
	}
	defer central.Close()

	// Listing only: never connect, and let the command duration bound the
	// round instead of the connect-triggered auto-stop.
	opts := cfg.SessionOptions()
	opts.AutoScanOnPowerOn = true
	opts.AutoConnect = false
	opts.ScanAutoStop = 0

	sess := session.New(central, opts, logger)
	defer sess.Close()

	baseCtx := context.Background()
	if scanDuration > 0 {
		var cancel context.CancelFunc
		baseCtx, cancel = context.WithTimeout(baseCtx, scanDuration)
		defer cancel()
	}

	// Create a cancellable context for signal handling
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	// Listen for Ctrl+C to cancel
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\nCtrl+C pressed, cancelling scan...")
		cancel()
	}()

	var progress *ProgressPrinter
	if cfg.OutputFormat == config.FormatTable {
		if scanDuration > 0 {
			progress = NewCountdownProgressPrinter("Scanning for heart rate monitors", scanDuration)
		} else {
			progress = NewProgressPrinter("Scanning for heart rate monitors")
		}
		progress.Start()
		defer progress.Stop()
	}

	runErr := sess.Run(ctx)
	if progress != nil {
		progress.Stop()
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		logger.WithError(runErr).Error("scan failed")
		return runErr
	}

	return displayScanResults(sess.Snapshot(), cfg.OutputFormat)
}

func displayScanResults(snap session.Snapshot, format string) error {
	switch format {
	case config.FormatJSON:
		return displayJSON(os.Stdout, snap.Devices)
	case config.FormatYAML:
		return displayYAML(os.Stdout, snap.Devices)
	default:
		return displayDevicesTable(os.Stdout, snap.Devices)
	}
}
