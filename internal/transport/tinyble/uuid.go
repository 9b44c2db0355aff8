package tinyble

import (
	"fmt"
	"strings"

	"tinygo.org/x/bluetooth"

	"github.com/srg/blip/internal/gatt"
	"github.com/srg/blip/internal/transport"
)

// toUUID converts a normalized UUID string to a stack UUID. Short 16-bit
// forms parse directly; 128-bit forms need their dashes restored first.
func toUUID(uuid string) (bluetooth.UUID, error) {
	u := gatt.NormalizeUUID(uuid)
	switch len(u) {
	case 4:
		return bluetooth.ParseUUID(u)
	case 32:
		dashed := u[0:8] + "-" + u[8:12] + "-" + u[12:16] + "-" + u[16:20] + "-" + u[20:32]
		return bluetooth.ParseUUID(dashed)
	default:
		return bluetooth.UUID{}, fmt.Errorf("bad uuid %q", uuid)
	}
}

// adapterStateFromError classifies an adapter failure into the state it
// implies. BlueZ and WinRT wordings differ; unrecognized failures map to
// AdapterUnknown.
func adapterStateFromError(err error) transport.AdapterState {
	if err == nil {
		return transport.AdapterPoweredOn
	}
	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "not ready"),
		containsIgnoreCase(msg, "powered off"),
		containsIgnoreCase(msg, "turned off"):
		return transport.AdapterPoweredOff
	case containsIgnoreCase(msg, "not authorized"),
		containsIgnoreCase(msg, "permission"),
		containsIgnoreCase(msg, "access denied"):
		return transport.AdapterUnauthorized
	case containsIgnoreCase(msg, "no bluetooth adapter"),
		containsIgnoreCase(msg, "no such adapter"),
		containsIgnoreCase(msg, "unsupported"):
		return transport.AdapterUnsupported
	}
	return transport.AdapterUnknown
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
