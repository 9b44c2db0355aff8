// Package tinyble implements transport.Central on top of
// tinygo.org/x/bluetooth: BlueZ on linux, WinRT on windows, CoreBluetooth on
// darwin. It is the fallback transport where the HCI socket path is
// unavailable.
package tinyble

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"github.com/srg/blip/internal/gatt"
	"github.com/srg/blip/internal/groutine"
	"github.com/srg/blip/internal/ringchan"
	"github.com/srg/blip/internal/transport"
)

const eventBuffer = 64

var (
	ErrAdapterUnavailable = errors.New("bluetooth adapter unavailable")
	ErrNotConnected       = errors.New("device not connected")
	ErrNotFound           = errors.New("attribute not found")
	// ErrUnknownDevice means the id was never seen in a scan, so no address
	// is cached for it.
	ErrUnknownDevice = errors.New("unknown device id")
	// ErrConnectionLost is the cause attached to unsolicited disconnects.
	ErrConnectionLost = errors.New("connection lost")
)

// probeServices is the set of advertised services the scan handler probes
// for. The advertisement payload API is query-based, so only services from
// this list appear in AdvertisementEvent.ServiceUUIDs.
var probeServices = []string{
	gatt.ServiceHeartRate,
	gatt.ServiceBattery,
	gatt.ServiceDeviceInfo,
	"1810", // Blood Pressure
	"1816", // Cycling Speed and Cadence
	"1818", // Cycling Power
	"181a", // Environmental Sensing
}

type charKey struct {
	svc  string
	char string
}

// peer holds the live GATT handles of the connected peripheral.
type peer struct {
	mu    sync.Mutex
	dev   bluetooth.Device
	svcs  map[string]bluetooth.DeviceService
	chars map[charKey]bluetooth.DeviceCharacteristic
}

func (p *peer) addService(uuid string, s bluetooth.DeviceService) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.svcs[uuid] = s
}

func (p *peer) service(uuid string) (bluetooth.DeviceService, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.svcs[uuid]
	return s, ok
}

func (p *peer) addCharacteristic(k charKey, c bluetooth.DeviceCharacteristic) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chars[k] = c
}

func (p *peer) characteristic(k charKey) (bluetooth.DeviceCharacteristic, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.chars[k]
	return c, ok
}

// Central implements transport.Central via tinygo bluetooth. Connection ids
// are advertisement addresses; connecting requires the device to have been
// seen in a scan, which is how the session always reaches peripherals.
type Central struct {
	logger  *logrus.Logger
	adapter *bluetooth.Adapter
	events  *ringchan.RingChannel[transport.Event]

	mu       sync.Mutex
	enabled  bool
	scanning bool
	filter   []string
	addrs    map[string]bluetooth.Address
	peers    map[string]*peer
	dialing  map[string]bool
	doomed   map[string]bool
}

var _ transport.Central = (*Central)(nil)

// New enables the default adapter and returns a Central. Enable failure is
// reported as an adapter state on the event stream rather than returned, so
// the caller's session can surface it the same way as a later power-off.
func New(logger *logrus.Logger) *Central {
	c := &Central{
		logger:  logger,
		adapter: bluetooth.DefaultAdapter,
		events:  ringchan.New[transport.Event](eventBuffer),
		addrs:   make(map[string]bluetooth.Address),
		peers:   make(map[string]*peer),
		dialing: make(map[string]bool),
		doomed:  make(map[string]bool),
	}

	if err := c.adapter.Enable(); err != nil {
		state := adapterStateFromError(err)
		logger.WithFields(logrus.Fields{
			"state": state,
			"error": err,
		}).Warn("Bluetooth adapter enable failed")
		c.events.ForceSend(transport.AdapterStateEvent{State: state})
		return c
	}
	c.enabled = true
	c.adapter.SetConnectHandler(c.handleConnectionChange)
	c.events.ForceSend(transport.AdapterStateEvent{State: transport.AdapterPoweredOn})
	return c
}

// handleConnectionChange surfaces unsolicited disconnects. Connect results
// are reported by the Connect goroutine, and a requested Disconnect removes
// the peer before the stack callback lands, so only true connection drops
// reach the event stream from here.
func (c *Central) handleConnectionChange(_ bluetooth.Device, connected bool) {
	if connected {
		return
	}
	// At most one peer exists at a time (the session arbitrates), so a drop
	// belongs to the tracked connection.
	c.mu.Lock()
	var id string
	for k := range c.peers {
		id = k
	}
	c.mu.Unlock()
	if id == "" {
		return
	}
	if c.takePeer(id) != nil {
		c.events.ForceSend(transport.DisconnectedEvent{ID: id, Cause: ErrConnectionLost})
	}
}

// Scan starts advertisement listening. The underlying Scan call blocks, so it
// runs on its own goroutine until StopScan. Calling Scan while scanning only
// updates the filter.
func (c *Central) Scan(filter transport.ScanFilter) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return ErrAdapterUnavailable
	}
	c.filter = gatt.NormalizeUUIDs(filter.ServiceUUIDs)
	if c.scanning {
		return nil
	}
	c.scanning = true

	groutine.Go(nil, "tinyble-scan", func(ctx context.Context) {
		err := c.adapter.Scan(func(_ *bluetooth.Adapter, res bluetooth.ScanResult) {
			c.handleScanResult(res)
		})
		c.mu.Lock()
		c.scanning = false
		c.mu.Unlock()
		if err != nil {
			c.logger.WithField("error", err).Warn("Scan terminated")
			if state := adapterStateFromError(err); state != transport.AdapterUnknown {
				c.events.ForceSend(transport.AdapterStateEvent{State: state})
			}
		}
	})
	return nil
}

func (c *Central) handleScanResult(res bluetooth.ScanResult) {
	var uuids []string
	for _, s := range probeServices {
		u, err := toUUID(s)
		if err != nil {
			continue
		}
		if res.HasServiceUUID(u) {
			uuids = append(uuids, s)
		}
	}

	c.mu.Lock()
	filter := c.filter
	c.mu.Unlock()
	if len(filter) > 0 && !matchesFilter(uuids, filter) {
		return
	}

	id := res.Address.String()
	c.mu.Lock()
	c.addrs[id] = res.Address
	c.mu.Unlock()

	c.events.ForceSend(transport.AdvertisementEvent{
		ID:           id,
		Name:         res.LocalName(),
		ServiceUUIDs: uuids,
		RSSI:         int(res.RSSI),
	})
}

func matchesFilter(advertised, wanted []string) bool {
	for _, w := range wanted {
		for _, a := range advertised {
			if a == w {
				return true
			}
		}
	}
	return false
}

// StopScan cancels the scan loop. Idempotent.
func (c *Central) StopScan() error {
	c.mu.Lock()
	scanning := c.scanning
	c.mu.Unlock()
	if !scanning {
		return nil
	}
	return c.adapter.StopScan()
}

// Connect starts a connection attempt to a previously scanned device.
func (c *Central) Connect(id string) error {
	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return ErrAdapterUnavailable
	}
	if _, ok := c.peers[id]; ok {
		c.mu.Unlock()
		c.events.ForceSend(transport.ConnectedEvent{ID: id})
		return nil
	}
	if c.dialing[id] {
		c.mu.Unlock()
		return nil
	}
	addr, ok := c.addrs[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s (not seen in a scan)", ErrUnknownDevice, id)
	}
	c.dialing[id] = true
	c.mu.Unlock()

	groutine.Go(nil, "tinyble-connect", func(ctx context.Context) {
		c.connect(id, addr)
	})
	return nil
}

func (c *Central) connect(id string, addr bluetooth.Address) {
	dev, err := c.adapter.Connect(addr, bluetooth.ConnectionParams{})

	c.mu.Lock()
	delete(c.dialing, id)
	doomed := c.doomed[id]
	delete(c.doomed, id)
	c.mu.Unlock()

	if err != nil {
		if doomed {
			// The attempt was canceled by Disconnect; conclude it as a
			// disconnect, not a failure.
			c.events.ForceSend(transport.DisconnectedEvent{ID: id})
			return
		}
		c.events.ForceSend(transport.ConnectFailedEvent{ID: id, Cause: err})
		return
	}

	if doomed {
		if derr := dev.Disconnect(); derr != nil {
			c.logger.WithFields(logrus.Fields{
				"device": id,
				"error":  derr,
			}).Warn("Teardown of doomed connection failed")
		}
		c.events.ForceSend(transport.DisconnectedEvent{ID: id})
		return
	}

	p := &peer{
		dev:   dev,
		svcs:  make(map[string]bluetooth.DeviceService),
		chars: make(map[charKey]bluetooth.DeviceCharacteristic),
	}
	c.mu.Lock()
	c.peers[id] = p
	c.mu.Unlock()
	c.events.ForceSend(transport.ConnectedEvent{ID: id})
}

// Disconnect tears the connection down, or dooms an attempt still dialing
// (the stack offers no way to abort an in-flight Connect).
func (c *Central) Disconnect(id string) error {
	c.mu.Lock()
	if c.dialing[id] {
		c.doomed[id] = true
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	p := c.takePeer(id)
	if p == nil {
		return nil
	}
	groutine.Go(nil, "tinyble-disconnect", func(ctx context.Context) {
		if err := p.dev.Disconnect(); err != nil {
			c.logger.WithFields(logrus.Fields{
				"device": id,
				"error":  err,
			}).Warn("Disconnect completed with error")
		}
		c.events.ForceSend(transport.DisconnectedEvent{ID: id})
	})
	return nil
}

func (c *Central) peer(id string) *peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peers[id]
}

func (c *Central) takePeer(id string) *peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.peers[id]
	delete(c.peers, id)
	return p
}

// Events returns the event stream. It is closed by Close.
func (c *Central) Events() <-chan transport.Event {
	return c.events.C()
}

// Close stops scanning, disconnects the peer, and closes the event stream.
func (c *Central) Close() error {
	c.mu.Lock()
	scanning := c.scanning
	peers := c.peers
	c.peers = make(map[string]*peer)
	c.mu.Unlock()

	if scanning {
		if err := c.adapter.StopScan(); err != nil {
			c.logger.WithField("error", err).Debug("StopScan during close failed")
		}
	}
	var firstErr error
	for id, p := range peers {
		if err := p.dev.Disconnect(); err != nil && firstErr == nil {
			firstErr = err
			c.logger.WithFields(logrus.Fields{
				"device": id,
				"error":  err,
			}).Warn("Disconnect during close failed")
		}
	}
	c.events.Close()
	return firstErr
}
