package session

import (
	"time"

	"github.com/mcuadros/go-defaults"

	"github.com/srg/blip/internal/transport"
)

// ConnPhase is the lifecycle phase of the single connection slot.
type ConnPhase string

const (
	PhaseDisconnected ConnPhase = "disconnected"
	PhaseConnecting   ConnPhase = "connecting"
	PhaseConnected    ConnPhase = "connected"
	PhaseFailed       ConnPhase = "failed"
)

// BatteryStatus is the operator-facing battery classification. Beyond the
// charge bands it carries two distinguished values: the connected device has
// no battery service, and no device is connected at all.
type BatteryStatus string

const (
	BatteryUnknown  BatteryStatus = "unknown"
	BatteryGood     BatteryStatus = "Good"
	BatteryOK       BatteryStatus = "OK"
	BatteryLow      BatteryStatus = "Low"
	BatteryCritical BatteryStatus = "Critical"
	BatteryNoInfo   BatteryStatus = "no battery info"
	BatteryNoDevice BatteryStatus = "no device connected"
)

// LiveReading holds the most recent decoded sensor data. A malformed
// notification never clears a previous good value; the timestamps tell the
// operator how stale a reading is.
type LiveReading struct {
	HeartRate        int       `json:"heart_rate" yaml:"heart_rate"` // bpm, 0 until the first measurement decodes
	HeartRateAt      time.Time `json:"heart_rate_at" yaml:"heart_rate_at"`
	Contact          bool      `json:"contact" yaml:"contact"`
	ContactSupported bool      `json:"contact_supported" yaml:"contact_supported"`

	BatteryLevel  int           `json:"battery_level" yaml:"battery_level"` // percent, -1 while unknown
	BatteryStatus BatteryStatus `json:"battery_status" yaml:"battery_status"`
	BatteryAt     time.Time     `json:"battery_at" yaml:"battery_at"`

	Status string `json:"status" yaml:"status"` // one-line operator status
}

// DiscoveredDevice is one advertiser in the snapshot, in first-seen order.
type DiscoveredDevice struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	HeartRate bool      `json:"heart_rate" yaml:"heart_rate"` // advertised the heart rate service
	Targeted  bool      `json:"targeted" yaml:"targeted"`     // current connection target
	RSSI      int       `json:"rssi" yaml:"rssi"`
	LastSeen  time.Time `json:"last_seen" yaml:"last_seen"`
}

// Snapshot is an immutable copy of the session state. Every field is a value;
// holding a Snapshot never races with the live session.
type Snapshot struct {
	Adapter    transport.AdapterState `json:"adapter" yaml:"adapter"`
	Scanning   bool                   `json:"scanning" yaml:"scanning"`
	Phase      ConnPhase              `json:"phase" yaml:"phase"`
	TargetID   string                 `json:"target_id,omitempty" yaml:"target_id,omitempty"`
	TargetName string                 `json:"target_name,omitempty" yaml:"target_name,omitempty"`
	PendingID  string                 `json:"pending_id,omitempty" yaml:"pending_id,omitempty"`
	Devices    []DiscoveredDevice     `json:"devices" yaml:"devices"`
	Reading    LiveReading            `json:"reading" yaml:"reading"`
}

// Options configures a Session.
type Options struct {
	// AutoScanOnPowerOn starts a scan round as soon as the adapter reports
	// ready.
	AutoScanOnPowerOn bool `default:"true"`

	// AutoConnect connects to the first named heart rate advertiser seen
	// while no connection is established or pending.
	AutoConnect bool `default:"true"`

	// ScanAllDevices lifts the heart rate service filter so every advertiser
	// is listed. Auto-connect still targets heart rate devices only.
	ScanAllDevices bool

	// ScanAutoStop stops an ongoing scan this long after a connection attempt
	// begins. Zero disables the auto-stop.
	ScanAutoStop time.Duration `default:"60s"`

	// BatteryPollInterval re-reads the battery level while connected, for
	// peripherals that never push notifications. Zero disables polling.
	BatteryPollInterval time.Duration `default:"15s"`

	// FeedCapacity bounds the snapshot feed; the oldest snapshot is dropped
	// when a slow consumer falls behind.
	FeedCapacity int `default:"32"`

	// Clock substitutes the session's time source. Nil means the system
	// clock.
	Clock Clock `yaml:"-"`
}

// DefaultOptions returns Options with every default applied.
func DefaultOptions() *Options {
	opts := new(Options)
	defaults.SetDefaults(opts)
	return opts
}

// Diagnostics is a point-in-time copy of the failure counters.
type Diagnostics struct {
	// MalformedPayloads counts dropped payloads per characteristic UUID.
	MalformedPayloads map[string]uint64 `json:"malformed_payloads"`
	ConnectFailures   uint64            `json:"connect_failures"`
	DiscoveryFailures uint64            `json:"discovery_failures"`
}
