// Package goble implements transport.Central on top of the go-ble/ble
// library: CoreBluetooth on darwin, a raw HCI socket on linux.
package goble

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blip/internal/gatt"
	"github.com/srg/blip/internal/groutine"
	"github.com/srg/blip/internal/ringchan"
	"github.com/srg/blip/internal/transport"
)

const (
	eventBuffer = 64

	// DefaultDialTimeout bounds one connection attempt.
	DefaultDialTimeout = 30 * time.Second

	// readTimeout bounds a single characteristic read. Reads are best-effort;
	// a timeout is logged and simply produces no value event.
	readTimeout = 5 * time.Second
)

// ErrConnectionLost is the cause attached to transport-initiated disconnects.
var ErrConnectionLost = errors.New("connection lost")

// DeviceFactory creates the platform ble.Device (overridable in tests).
var DeviceFactory = func() (ble.Device, error) {
	return newPlatformDevice()
}

type charKey struct {
	svc  string
	char string
}

// peer holds the live GATT handles of one connected peripheral.
type peer struct {
	mu     sync.Mutex
	client ble.Client
	svcs   map[string]*ble.Service
	chars  map[charKey]*ble.Characteristic
}

func (p *peer) addService(uuid string, s *ble.Service) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.svcs[uuid] = s
}

func (p *peer) service(uuid string) *ble.Service {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.svcs[uuid]
}

func (p *peer) addCharacteristic(k charKey, c *ble.Characteristic) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chars[k] = c
}

func (p *peer) characteristic(k charKey) *ble.Characteristic {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chars[k]
}

// Central implements transport.Central via go-ble. All radio work runs on
// named goroutines; outcomes are delivered through a bounded drop-oldest
// event stream so slow consumers cannot stall BLE callbacks.
type Central struct {
	logger *logrus.Logger
	events *ringchan.RingChannel[transport.Event]

	runCtx    context.Context
	runCancel context.CancelFunc

	mu          sync.Mutex
	dev         ble.Device
	filter      []string // normalized scan filter, empty = all advertisers
	scanStop    context.CancelFunc
	dials       map[string]context.CancelFunc
	peers       map[string]*peer
	dialTimeout time.Duration
}

var _ transport.Central = (*Central)(nil)

// New brings up the platform radio and returns a Central. Radio bring-up
// failure is not fatal here: the implied adapter state is reported on the
// event stream and operations fail until the adapter becomes available.
func New(logger *logrus.Logger) *Central {
	runCtx, runCancel := context.WithCancel(context.Background())
	c := &Central{
		logger:      logger,
		events:      ringchan.New[transport.Event](eventBuffer),
		runCtx:      runCtx,
		runCancel:   runCancel,
		dials:       make(map[string]context.CancelFunc),
		peers:       make(map[string]*peer),
		dialTimeout: DefaultDialTimeout,
	}

	dev, err := DeviceFactory()
	if err != nil {
		state := AdapterStateFromError(err)
		logger.WithFields(logrus.Fields{
			"state": state,
			"error": err,
		}).Warn("Bluetooth device init failed")
		c.events.ForceSend(transport.AdapterStateEvent{State: state})
		return c
	}
	ble.SetDefaultDevice(dev)
	c.dev = dev
	c.events.ForceSend(transport.AdapterStateEvent{State: transport.AdapterPoweredOn})
	return c
}

// SetDialTimeout overrides the per-attempt connection timeout. Zero or
// negative values restore the default. Attempts already in flight keep their
// original deadline.
func (c *Central) SetDialTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultDialTimeout
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dialTimeout = d
}

// Scan starts advertisement listening. Calling Scan while a scan is running
// only updates the filter.
func (c *Central) Scan(filter transport.ScanFilter) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dev == nil {
		return ErrAdapterUnavailable
	}
	c.filter = gatt.NormalizeUUIDs(filter.ServiceUUIDs)
	if c.scanStop != nil {
		return nil
	}

	scanCtx, cancel := context.WithCancel(c.runCtx)
	c.scanStop = cancel
	dev := c.dev
	groutine.Go(scanCtx, "goble-scan", func(ctx context.Context) {
		// Duplicates are allowed so RSSI and last-seen stay fresh on
		// re-advertisement.
		err := dev.Scan(ctx, true, c.handleAdvertisement)
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.WithField("error", err).Warn("Scan terminated")
			if state := AdapterStateFromError(err); state != transport.AdapterUnknown {
				c.events.ForceSend(transport.AdapterStateEvent{State: state})
			}
		}
	})
	return nil
}

func (c *Central) handleAdvertisement(a ble.Advertisement) {
	svcs := a.Services()
	uuids := make([]string, 0, len(svcs))
	for _, u := range svcs {
		uuids = append(uuids, gatt.NormalizeUUID(u.String()))
	}

	c.mu.Lock()
	filter := c.filter
	c.mu.Unlock()
	if len(filter) > 0 && !advertisesAny(uuids, filter) {
		return
	}

	c.events.ForceSend(transport.AdvertisementEvent{
		ID:           a.Addr().String(),
		Name:         a.LocalName(),
		ServiceUUIDs: uuids,
		RSSI:         a.RSSI(),
	})
}

func advertisesAny(advertised, wanted []string) bool {
	for _, w := range wanted {
		for _, a := range advertised {
			if a == w {
				return true
			}
		}
	}
	return false
}

// StopScan cancels the scan goroutine. Idempotent.
func (c *Central) StopScan() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scanStop != nil {
		c.scanStop()
		c.scanStop = nil
	}
	return nil
}

// Connect starts a dial attempt for id. The attempt concludes with exactly
// one ConnectedEvent, ConnectFailedEvent, or (when canceled by Disconnect)
// DisconnectedEvent.
func (c *Central) Connect(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dev == nil {
		return ErrAdapterUnavailable
	}
	if _, ok := c.peers[id]; ok {
		c.events.ForceSend(transport.ConnectedEvent{ID: id})
		return nil
	}
	if _, ok := c.dials[id]; ok {
		return nil
	}

	dialCtx, cancel := context.WithTimeout(c.runCtx, c.dialTimeout)
	c.dials[id] = cancel
	groutine.Go(dialCtx, "goble-dial", func(ctx context.Context) {
		c.dial(ctx, id)
	})
	return nil
}

func (c *Central) dial(ctx context.Context, id string) {
	client, err := ble.Dial(ctx, ble.NewAddr(id))

	c.mu.Lock()
	cancel := c.dials[id]
	delete(c.dials, id)
	c.mu.Unlock()
	if cancel != nil {
		defer cancel()
	}

	if err != nil {
		// A dial canceled by Disconnect concludes the attempt as a
		// disconnect, not a failure.
		if errors.Is(err, context.Canceled) {
			c.events.ForceSend(transport.DisconnectedEvent{ID: id})
			return
		}
		c.logger.WithFields(logrus.Fields{
			"device": id,
			"error":  err,
		}).Warn("Dial failed")
		c.events.ForceSend(transport.ConnectFailedEvent{ID: id, Cause: NormalizeError(err)})
		return
	}

	p := &peer{
		client: client,
		svcs:   make(map[string]*ble.Service),
		chars:  make(map[charKey]*ble.Characteristic),
	}
	c.mu.Lock()
	c.peers[id] = p
	c.mu.Unlock()

	c.events.ForceSend(transport.ConnectedEvent{ID: id})
	c.monitorDisconnect(id, client)
}

// monitorDisconnect watches for transport-initiated disconnects. The
// Disconnected channel is only exposed by the darwin client.
func (c *Central) monitorDisconnect(id string, client ble.Client) {
	dc, ok := client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		c.logger.Debug("Client does not expose a disconnect channel")
		return
	}
	groutine.Go(c.runCtx, "goble-conn-monitor", func(ctx context.Context) {
		select {
		case <-dc.Disconnected():
			// A requested Disconnect already removed the peer; only an
			// unsolicited drop still finds it here.
			if c.takePeer(id) != nil {
				c.events.ForceSend(transport.DisconnectedEvent{ID: id, Cause: ErrConnectionLost})
			}
		case <-ctx.Done():
		}
	})
}

// Disconnect tears down the connection or cancels an in-flight dial.
// Unknown ids are a no-op.
func (c *Central) Disconnect(id string) error {
	c.mu.Lock()
	if cancel, ok := c.dials[id]; ok {
		c.mu.Unlock()
		cancel()
		return nil
	}
	c.mu.Unlock()

	p := c.takePeer(id)
	if p == nil {
		return nil
	}
	groutine.Go(c.runCtx, "goble-disconnect", func(ctx context.Context) {
		if err := p.client.CancelConnection(); err != nil {
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

// Close stops scanning, cancels dials, disconnects all peers, and closes the
// event stream.
func (c *Central) Close() error {
	c.mu.Lock()
	if c.scanStop != nil {
		c.scanStop()
		c.scanStop = nil
	}
	for id, cancel := range c.dials {
		cancel()
		delete(c.dials, id)
	}
	peers := c.peers
	c.peers = make(map[string]*peer)
	c.mu.Unlock()

	var firstErr error
	for id, p := range peers {
		if err := p.client.CancelConnection(); err != nil && firstErr == nil {
			firstErr = err
			c.logger.WithFields(logrus.Fields{
				"device": id,
				"error":  err,
			}).Warn("Disconnect during close failed")
		}
	}
	c.runCancel()
	c.events.Close()
	return firstErr
}
