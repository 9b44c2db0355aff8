package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/blip/internal/session"
)

// FormatUserError rewrites known error kinds into actionable one-liners for
// the terminal. Unknown errors pass through unchanged.
func FormatUserError(err error) string {
	var failure *session.Failure
	if errors.As(err, &failure) {
		switch failure.Kind {
		case session.AdapterNotReady:
			return "Bluetooth is not ready - check that the adapter is powered on and access is authorized"
		case session.UnknownDevice:
			return fmt.Sprintf("%s - run 'blip scan' to list reachable devices", failure.Msg)
		case session.ConnectFailed:
			return fmt.Sprintf("could not connect: %s", failure.Msg)
		case session.DiscoveryFailed:
			return fmt.Sprintf("scan failed: %s", failure.Msg)
		case session.SessionClosed:
			return "the session is already shut down"
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out waiting for the device"
	}
	return err.Error()
}
