package transport

// Event is the sum type carried by a Central's event stream. All session
// state changes are driven by these plus the session's own commands.
type Event interface {
	event()
}

// AdapterStateEvent reports a change of the local adapter's readiness.
type AdapterStateEvent struct {
	State AdapterState
}

// AdvertisementEvent reports one received advertisement. Name carries the
// advertised local name ("" when the advertiser is anonymous); ServiceUUIDs
// are normalized.
type AdvertisementEvent struct {
	ID           string
	Name         string
	ServiceUUIDs []string
	RSSI         int
}

// ConnectedEvent concludes a successful connection attempt.
type ConnectedEvent struct {
	ID string
}

// ConnectFailedEvent concludes a failed connection attempt.
type ConnectFailedEvent struct {
	ID    string
	Cause error
}

// DisconnectedEvent reports the end of a connection, requested or not.
// Cause is nil for a clean, requested disconnect.
type DisconnectedEvent struct {
	ID    string
	Cause error
}

// ServicesDiscoveredEvent carries the result of DiscoverServices.
type ServicesDiscoveredEvent struct {
	ID       string
	Services []Service
	Err      error
}

// CharacteristicsDiscoveredEvent carries the result of
// DiscoverCharacteristics for one service.
type CharacteristicsDiscoveredEvent struct {
	ID              string
	Service         Service
	Characteristics []Characteristic
	Err             error
}

// CharacteristicValueEvent delivers a characteristic value, whether from a
// notification or a completed read.
type CharacteristicValueEvent struct {
	ID             string
	Characteristic Characteristic
	Data           []byte
}

func (AdapterStateEvent) event()              {}
func (AdvertisementEvent) event()             {}
func (ConnectedEvent) event()                 {}
func (ConnectFailedEvent) event()             {}
func (DisconnectedEvent) event()              {}
func (ServicesDiscoveredEvent) event()        {}
func (CharacteristicsDiscoveredEvent) event() {}
func (CharacteristicValueEvent) event()       {}
