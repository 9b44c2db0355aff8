package session

import (
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// registry tracks the devices discovered during the current scan round, in
// first-seen order. Callers hold the session lock.
type registry struct {
	devices *orderedmap.OrderedMap[string, *deviceEntry]
}

type deviceEntry struct {
	id        string
	name      string
	heartRate bool
	rssi      int
	lastSeen  time.Time
}

func newRegistry() *registry {
	return &registry{devices: orderedmap.New[string, *deviceEntry]()}
}

// upsert refreshes or inserts an advertiser and reports whether it is new.
// The heart rate flag is sticky: scan responses often omit the service list
// carried by the advertising packet.
func (r *registry) upsert(id, name string, heartRate bool, rssi int, seen time.Time) bool {
	if e, ok := r.devices.Get(id); ok {
		e.name = name
		e.heartRate = e.heartRate || heartRate
		e.rssi = rssi
		e.lastSeen = seen
		return false
	}
	r.devices.Set(id, &deviceEntry{
		id:        id,
		name:      name,
		heartRate: heartRate,
		rssi:      rssi,
		lastSeen:  seen,
	})
	return true
}

func (r *registry) get(id string) (*deviceEntry, bool) {
	return r.devices.Get(id)
}

func (r *registry) clear() {
	r.devices = orderedmap.New[string, *deviceEntry]()
}

func (r *registry) len() int {
	return r.devices.Len()
}

// list copies the registry into snapshot form, marking the entry that matches
// the current target.
func (r *registry) list(targetID string) []DiscoveredDevice {
	out := make([]DiscoveredDevice, 0, r.devices.Len())
	for pair := r.devices.Oldest(); pair != nil; pair = pair.Next() {
		e := pair.Value
		out = append(out, DiscoveredDevice{
			ID:        e.id,
			Name:      e.name,
			HeartRate: e.heartRate,
			Targeted:  e.id == targetID,
			RSSI:      e.rssi,
			LastSeen:  e.lastSeen,
		})
	}
	return out
}
