package goble

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/srg/blip/internal/transport"
)

// Errors returned synchronously by Central operations for local conditions.
// Radio-side failures always arrive as events instead.
var (
	ErrAdapterUnavailable = errors.New("bluetooth adapter unavailable")
	ErrNotConnected       = errors.New("device not connected")
	ErrNotFound           = errors.New("attribute not found")
)

// managerStatePattern matches CoreBluetooth central manager state errors of
// the form "central manager has invalid state: have=4 want=5".
var managerStatePattern = regexp.MustCompile(`have=(\d) want=5`)

// CBManagerState values reported in the have=N part.
const (
	cbStateUnsupported  = "2"
	cbStateUnauthorized = "3"
	cbStatePoweredOff   = "4"
)

// AdapterStateFromError classifies a device bring-up failure into the adapter
// state it implies. Unrecognized failures map to AdapterUnknown.
func AdapterStateFromError(err error) transport.AdapterState {
	if err == nil {
		return transport.AdapterPoweredOn
	}

	msg := err.Error()
	if m := managerStatePattern.FindStringSubmatch(msg); m != nil {
		switch m[1] {
		case cbStateUnsupported:
			return transport.AdapterUnsupported
		case cbStateUnauthorized:
			return transport.AdapterUnauthorized
		case cbStatePoweredOff:
			return transport.AdapterPoweredOff
		}
	}

	switch {
	case containsIgnoreCase(msg, "turned off"), containsIgnoreCase(msg, "powered off"):
		return transport.AdapterPoweredOff
	case containsIgnoreCase(msg, "not authorized"), containsIgnoreCase(msg, "unauthorized"),
		containsIgnoreCase(msg, "permission"):
		return transport.AdapterUnauthorized
	case containsIgnoreCase(msg, "unsupported"), containsIgnoreCase(msg, "no devices available"):
		return transport.AdapterUnsupported
	case containsIgnoreCase(msg, "can't init hci"):
		return transport.AdapterPoweredOff
	}
	return transport.AdapterUnknown
}

// NormalizeError maps known go-ble error strings to the local sentinels so
// callers get stable errors even if the upstream library reshuffles messages.
// The original error is preserved via wrapping.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "bluetooth is turned off"),
		managerStatePattern.MatchString(msg):
		return fmt.Errorf("%w: %v", ErrAdapterUnavailable, err)
	case containsIgnoreCase(msg, "device not connected"),
		containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	default:
		return err
	}
}

// containsIgnoreCase checks the substring case-insensitively.
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
