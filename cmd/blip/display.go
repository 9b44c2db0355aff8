package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/srg/blip/internal/session"
)

// displayDevicesTable prints discovered devices in first-seen order. The
// current connection target is marked with an asterisk.
func displayDevicesTable(w io.Writer, devices []session.DiscoveredDevice) error {
	if len(devices) == 0 {
		fmt.Fprintln(w, "No devices discovered")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, " \tNAME\tID\tRSSI\tHEART RATE\tLAST SEEN")
	fmt.Fprintln(tw, strings.Repeat("-", 80))

	for _, d := range devices {
		name := d.Name
		if len(name) > 20 {
			name = name[:17] + "..."
		}

		marker := " "
		if d.Targeted {
			marker = "*"
		}
		hr := "-"
		if d.HeartRate {
			hr = "yes"
		}
		lastSeen := time.Since(d.LastSeen).Truncate(time.Second)

		fmt.Fprintf(tw, "%s\t%s\t%s\t%d dBm\t%s\t%s ago\n",
			marker, name, d.ID, d.RSSI, hr, lastSeen)
	}

	return tw.Flush()
}

func displayJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func displayYAML(w io.Writer, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// renderDashboard paints one full snapshot for watch mode.
func renderDashboard(w io.Writer, snap session.Snapshot, colors bool) error {
	scanning := "no"
	if snap.Scanning {
		scanning = "yes"
	}
	fmt.Fprintf(w, "Adapter: %s   Scanning: %s   Link: %s\n", snap.Adapter, scanning, snap.Phase)
	fmt.Fprintf(w, "Status:  %s\n\n", snap.Reading.Status)

	fmt.Fprintf(w, "Heart rate:  %s\n", formatHeartRate(snap.Reading))
	fmt.Fprintf(w, "Battery:     %s\n\n", formatBattery(snap.Reading, colors))

	return displayDevicesTable(w, snap.Devices)
}

func formatHeartRate(r session.LiveReading) string {
	if r.HeartRateAt.IsZero() {
		return "no data"
	}

	s := fmt.Sprintf("%d bpm", r.HeartRate)
	if r.ContactSupported {
		if r.Contact {
			s += " (contact)"
		} else {
			s += " (no contact)"
		}
	}
	return fmt.Sprintf("%s   %s ago", s, time.Since(r.HeartRateAt).Truncate(time.Second))
}

func formatBattery(r session.LiveReading, colors bool) string {
	switch r.BatteryStatus {
	case session.BatteryGood, session.BatteryOK, session.BatteryLow, session.BatteryCritical:
	default:
		// No level to show, only the placeholder status.
		return string(r.BatteryStatus)
	}

	text := fmt.Sprintf("%d%% %s", r.BatteryLevel, r.BatteryStatus)
	if !colors {
		return text
	}
	return batteryColor(r.BatteryStatus).Sprint(text)
}

func batteryColor(status session.BatteryStatus) *color.Color {
	var c *color.Color
	switch status {
	case session.BatteryGood:
		c = color.New(color.FgGreen)
	case session.BatteryOK:
		c = color.New(color.FgCyan)
	case session.BatteryLow:
		c = color.New(color.FgYellow)
	default:
		c = color.New(color.FgRed)
	}
	c.EnableColor()
	return c
}

func clearScreen(w io.Writer) {
	fmt.Fprint(w, "\033[2J\033[H")
}

func stdoutIsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
