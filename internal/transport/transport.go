// Package transport defines the radio-facing abstraction the session manager
// drives. A Central accepts non-blocking commands; every outcome (including
// command failures detected asynchronously) is delivered as an Event on the
// stream returned by Events.
package transport

// AdapterState describes the readiness of the local Bluetooth adapter.
type AdapterState string

const (
	AdapterUnknown      AdapterState = "unknown"
	AdapterPoweredOn    AdapterState = "poweredOn"
	AdapterPoweredOff   AdapterState = "poweredOff"
	AdapterUnauthorized AdapterState = "unauthorized"
	AdapterUnsupported  AdapterState = "unsupported"
)

// Ready reports whether the adapter can service radio operations.
func (s AdapterState) Ready() bool {
	return s == AdapterPoweredOn
}

// ScanFilter restricts advertisement delivery.
type ScanFilter struct {
	// ServiceUUIDs limits delivery to devices advertising at least one of
	// these services (normalized UUIDs). Empty means all advertisers.
	ServiceUUIDs []string
}

// Service identifies a GATT service on a connected peripheral.
type Service struct {
	UUID string // normalized
	Name string // assigned name when known, "" otherwise
}

// Characteristic identifies a GATT characteristic within a service.
type Characteristic struct {
	ServiceUUID string
	UUID        string
	Notifiable  bool
}

// Central is the command surface of a BLE central role transport.
//
// Calls must not block on radio I/O and must never invoke consumer code
// synchronously; results arrive on Events. The id values are opaque,
// transport-assigned, and stable for the lifetime of the process.
type Central interface {
	// Scan begins passive advertisement listening. Advertisements arrive as
	// AdvertisementEvent until StopScan.
	Scan(filter ScanFilter) error
	StopScan() error

	// Connect initiates a connection attempt; it concludes with exactly one
	// ConnectedEvent or ConnectFailedEvent for the id.
	Connect(id string) error
	// Disconnect tears the connection down; a DisconnectedEvent follows.
	Disconnect(id string) error

	// DiscoverServices requests the full (unfiltered) service list of a
	// connected peripheral.
	DiscoverServices(id string) error
	// DiscoverCharacteristics requests characteristics of one service,
	// restricted to charUUIDs when non-empty.
	DiscoverCharacteristics(id string, service Service, charUUIDs []string) error

	// Subscribe enables value notifications for a characteristic; values
	// arrive as CharacteristicValueEvent.
	Subscribe(id string, c Characteristic) error
	// Read requests a single value read, delivered as a
	// CharacteristicValueEvent.
	Read(id string, c Characteristic) error

	Events() <-chan Event
	Close() error
}
