// Package session drives a single heart rate monitor link over a
// transport.Central: it owns scanning, the one-connection arbitration rule,
// GATT setup and live decoding, and publishes immutable state snapshots.
//
// All state lives behind one mutex. Transport events enter through
// HandleEvent, commands through the exported methods, and timers through
// callbacks that re-acquire the lock, so every transition is serialized no
// matter which goroutine delivers it.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/blip/internal/gatt"
	"github.com/srg/blip/internal/ringchan"
	"github.com/srg/blip/internal/transport"
)

const defaultFeedCapacity = 32

// Session is the heart rate monitor state machine.
type Session struct {
	logger  *logrus.Logger
	central transport.Central
	clock   Clock
	opts    Options

	mu          sync.Mutex
	closed      bool
	adapter     transport.AdapterState
	scanning    bool
	phase       ConnPhase
	targetID    string
	targetName  string
	pendingID   string
	pendingName string
	registry    *registry
	reading     LiveReading

	battChar *transport.Characteristic

	autoStopTimer Timer
	autoStopSeq   int
	pollTimer     Timer
	pollSeq       int

	feed *ringchan.RingChannel[Snapshot]

	malformed         *hashmap.Map[string, *atomic.Uint64]
	connectFailures   atomic.Uint64
	discoveryFailures atomic.Uint64
}

// New creates a Session over central. A nil opts takes DefaultOptions. The
// caller owns central and closes it separately.
func New(central transport.Central, opts *Options, logger *logrus.Logger) *Session {
	o := *DefaultOptions()
	if opts != nil {
		o = *opts
	}
	if o.FeedCapacity <= 0 {
		o.FeedCapacity = defaultFeedCapacity
	}
	clock := o.Clock
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Session{
		logger:   logger,
		central:  central,
		clock:    clock,
		opts:     o,
		adapter:  transport.AdapterUnknown,
		phase:    PhaseDisconnected,
		registry: newRegistry(),
		reading:  LiveReading{
			BatteryLevel:  -1,
			BatteryStatus: BatteryUnknown,
			Status:        "waiting for Bluetooth",
		},
		feed:      ringchan.New[Snapshot](o.FeedCapacity),
		malformed: hashmap.New[string, *atomic.Uint64](),
	}
}

// Run pumps transport events into the session until ctx ends or the central's
// event stream closes.
func (s *Session) Run(ctx context.Context) error {
	events := s.central.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.HandleEvent(ev)
		}
	}
}

// Close shuts the session down: the scan is stopped, the connection torn
// down, timers canceled and the snapshot feed closed. Idempotent. The
// underlying central stays open.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancelAutoStopLocked()
	s.cancelPollLocked()
	scanning := s.scanning
	target := s.targetID
	linked := s.phase == PhaseConnecting || s.phase == PhaseConnected
	s.scanning = false
	s.clearConnectionLocked()
	s.pendingID, s.pendingName = "", ""
	s.mu.Unlock()

	var firstErr error
	if scanning {
		if err := s.central.StopScan(); err != nil {
			firstErr = err
		}
	}
	if linked {
		if err := s.central.Disconnect(target); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.feed.Close()
	return firstErr
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Updates exposes the snapshot feed. A snapshot is published after every
// state transition; slow consumers see the oldest entries dropped, never a
// blocked session.
func (s *Session) Updates() <-chan Snapshot {
	return s.feed.C()
}

// Diagnostics returns a copy of the failure counters.
func (s *Session) Diagnostics() Diagnostics {
	d := Diagnostics{
		MalformedPayloads: make(map[string]uint64),
		ConnectFailures:   s.connectFailures.Load(),
		DiscoveryFailures: s.discoveryFailures.Load(),
	}
	s.malformed.Range(func(uuid string, n *atomic.Uint64) bool {
		d.MalformedPayloads[uuid] = n.Load()
		return true
	})
	return d
}

// StartScan begins a scan round. It is a no-op while a scan is already
// running; the discovered set carries over.
func (s *Session) StartScan() error {
	return s.startScan(false)
}

// RestartScan clears the discovered set and begins a fresh scan round even if
// one is already running.
func (s *Session) RestartScan() error {
	return s.startScan(true)
}

func (s *Session) startScan(reset bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.requireAdapterLocked(); err != nil {
		return err
	}
	if s.scanning && !reset {
		return nil
	}
	if err := s.startRoundLocked(); err != nil {
		s.setStatusLocked(fmt.Sprintf("scan failed: %v", err))
		s.publishLocked()
		return failf(DiscoveryFailed, "%v", err)
	}
	s.publishLocked()
	return nil
}

// StopScan halts an ongoing scan and cancels any scheduled auto-stop.
func (s *Session) StopScan() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.stopScanLocked("scan stopped")
}

// ConnectTo requests a connection to a previously discovered device. If
// another device is connecting or connected the session disconnects it first
// and dials the new target once the teardown completes.
func (s *Session) ConnectTo(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.requireAdapterLocked(); err != nil {
		return err
	}
	entry, ok := s.registry.get(id)
	if !ok {
		return failf(UnknownDevice, "device %s was not discovered in this scan round", id)
	}
	return s.connectLocked(entry)
}

// Disconnect tears down the current connection, if any, and drops any pending
// target switch.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.pendingID, s.pendingName = "", ""
	if s.phase != PhaseConnecting && s.phase != PhaseConnected {
		return nil
	}
	s.setStatusLocked(fmt.Sprintf("disconnecting from %s", s.targetName))
	if err := s.central.Disconnect(s.targetID); err != nil {
		s.logger.WithFields(logrus.Fields{
			"device": s.targetID,
			"error":  err,
		}).Warn("Disconnect request failed")
	}
	s.publishLocked()
	return nil
}

// HandleEvent applies one transport event to the state machine. Run calls it
// from the event pump; tests may call it directly.
func (s *Session) HandleEvent(ev transport.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	switch e := ev.(type) {
	case transport.AdapterStateEvent:
		s.onAdapterState(e)
	case transport.AdvertisementEvent:
		s.onAdvertisement(e)
	case transport.ConnectedEvent:
		s.onConnected(e)
	case transport.ConnectFailedEvent:
		s.onConnectFailed(e)
	case transport.DisconnectedEvent:
		s.onDisconnected(e)
	case transport.ServicesDiscoveredEvent:
		s.onServicesDiscovered(e)
	case transport.CharacteristicsDiscoveredEvent:
		s.onCharacteristicsDiscovered(e)
	case transport.CharacteristicValueEvent:
		s.onCharacteristicValue(e)
	default:
		s.logger.WithField("type", fmt.Sprintf("%T", ev)).Debug("Ignoring unknown transport event")
	}
}

// --- event handlers, all called with s.mu held ---

func (s *Session) onAdapterState(e transport.AdapterStateEvent) {
	prev := s.adapter
	s.adapter = e.State
	s.logger.WithFields(logrus.Fields{
		"from": prev,
		"to":   e.State,
	}).Info("Adapter state changed")
	s.setStatusLocked(adapterStatus(e.State))

	switch {
	case e.State.Ready():
		if s.opts.AutoScanOnPowerOn && !s.scanning {
			if err := s.startRoundLocked(); err != nil {
				s.setStatusLocked(fmt.Sprintf("scan failed: %v", err))
			}
		}
	case prev.Ready():
		// The radio is gone and took every link and scan with it. Tear down
		// local state only; transport calls would just fail against a dead
		// adapter.
		s.scanning = false
		s.cancelAutoStopLocked()
		if s.phase == PhaseConnecting || s.phase == PhaseConnected {
			s.clearConnectionLocked()
			s.reading.BatteryLevel = -1
			s.reading.BatteryStatus = BatteryNoDevice
		}
		s.pendingID, s.pendingName = "", ""
	}
	s.publishLocked()
}

func (s *Session) onAdvertisement(e transport.AdvertisementEvent) {
	if !s.scanning {
		return
	}
	if e.Name == "" {
		// Anonymous advertisers give the operator nothing to pick from.
		return
	}
	isHR := gatt.HasHeartRateService(e.ServiceUUIDs)
	if s.registry.upsert(e.ID, e.Name, isHR, e.RSSI, s.clock.Now()) {
		s.logger.WithFields(logrus.Fields{
			"device":     e.ID,
			"name":       e.Name,
			"heart_rate": isHR,
			"rssi":       e.RSSI,
		}).Info("Device discovered")
	}
	if isHR && s.opts.AutoConnect && s.pendingID == "" &&
		s.phase != PhaseConnecting && s.phase != PhaseConnected {
		if entry, ok := s.registry.get(e.ID); ok {
			if err := s.connectLocked(entry); err != nil {
				s.logger.WithFields(logrus.Fields{
					"device": e.ID,
					"error":  err,
				}).Warn("Auto-connect failed")
			}
		}
	}
	s.publishLocked()
}

func (s *Session) onConnected(e transport.ConnectedEvent) {
	if e.ID != s.targetID || s.phase != PhaseConnecting {
		s.logger.WithField("device", e.ID).Debug("Ignoring connected event outside an attempt")
		return
	}
	s.phase = PhaseConnected
	s.setStatusLocked(fmt.Sprintf("connected to %s", s.targetName))
	s.logger.WithFields(logrus.Fields{
		"device": e.ID,
		"name":   s.targetName,
	}).Info("Connection established")
	if err := s.central.DiscoverServices(e.ID); err != nil {
		s.discoveryFailures.Add(1)
		s.setStatusLocked(fmt.Sprintf("service discovery failed: %v", err))
	}
	s.publishLocked()
}

func (s *Session) onConnectFailed(e transport.ConnectFailedEvent) {
	if e.ID != s.targetID || s.phase != PhaseConnecting {
		s.logger.WithField("device", e.ID).Debug("Ignoring connect failure outside an attempt")
		return
	}
	s.connectFailures.Add(1)
	name := s.targetName
	s.phase = PhaseFailed
	s.targetID, s.targetName = "", ""
	s.setStatusLocked(fmt.Sprintf("connection to %s failed: %v", name, e.Cause))
	s.logger.WithFields(logrus.Fields{
		"device": e.ID,
		"error":  e.Cause,
	}).Warn("Connection attempt failed")
	s.promotePendingLocked()
	s.publishLocked()
}

func (s *Session) onDisconnected(e transport.DisconnectedEvent) {
	if e.ID != s.targetID {
		s.logger.WithField("device", e.ID).Debug("Ignoring disconnect for an untracked device")
		return
	}
	name := s.targetName
	s.clearConnectionLocked()
	s.reading.BatteryLevel = -1
	s.reading.BatteryStatus = BatteryNoDevice
	if e.Cause != nil {
		s.setStatusLocked(fmt.Sprintf("disconnected from %s: %v", name, e.Cause))
	} else {
		s.setStatusLocked(fmt.Sprintf("disconnected from %s", name))
	}
	s.logger.WithFields(logrus.Fields{
		"device": e.ID,
		"name":   name,
		"cause":  e.Cause,
	}).Info("Disconnected")
	s.promotePendingLocked()
	s.publishLocked()
}

func (s *Session) onServicesDiscovered(e transport.ServicesDiscoveredEvent) {
	if e.ID != s.targetID || s.phase != PhaseConnected {
		return
	}
	if e.Err != nil {
		s.discoveryFailures.Add(1)
		s.setStatusLocked(fmt.Sprintf("service discovery failed: %v", e.Err))
		s.publishLocked()
		return
	}

	var hrSvc, battSvc *transport.Service
	for i := range e.Services {
		svc := &e.Services[i]
		switch {
		case svc.UUID == gatt.ServiceHeartRate:
			hrSvc = svc
		case svc.UUID == gatt.ServiceBattery || strings.HasPrefix(svc.Name, "Battery"):
			// The name match covers peripherals that expose battery state
			// under a vendor UUID.
			if battSvc == nil {
				battSvc = svc
			}
		}
	}

	if hrSvc == nil {
		s.setStatusLocked(fmt.Sprintf("no heart rate service on %s", s.targetName))
	} else if err := s.central.DiscoverCharacteristics(e.ID, *hrSvc, []string{gatt.CharHeartRateMeasurement}); err != nil {
		s.discoveryFailures.Add(1)
		s.setStatusLocked(fmt.Sprintf("characteristic discovery failed: %v", err))
	}
	if battSvc == nil {
		s.reading.BatteryLevel = -1
		s.reading.BatteryStatus = BatteryNoInfo
	} else if err := s.central.DiscoverCharacteristics(e.ID, *battSvc, []string{gatt.CharBatteryLevel}); err != nil {
		s.discoveryFailures.Add(1)
		s.logger.WithFields(logrus.Fields{
			"device":  e.ID,
			"service": battSvc.UUID,
			"error":   err,
		}).Warn("Battery characteristic discovery failed")
	}
	s.publishLocked()
}

func (s *Session) onCharacteristicsDiscovered(e transport.CharacteristicsDiscoveredEvent) {
	if e.ID != s.targetID || s.phase != PhaseConnected {
		return
	}
	if e.Err != nil {
		s.discoveryFailures.Add(1)
		s.setStatusLocked(fmt.Sprintf("characteristic discovery failed: %v", e.Err))
		s.publishLocked()
		return
	}
	for _, ch := range e.Characteristics {
		switch ch.UUID {
		case gatt.CharHeartRateMeasurement:
			if err := s.central.Subscribe(e.ID, ch); err != nil {
				s.discoveryFailures.Add(1)
				s.setStatusLocked(fmt.Sprintf("heart rate subscribe failed: %v", err))
			} else {
				s.logger.WithField("device", e.ID).Info("Subscribed to heart rate measurements")
			}
		case gatt.CharBatteryLevel:
			chCopy := ch
			s.battChar = &chCopy
			if ch.Notifiable {
				if err := s.central.Subscribe(e.ID, ch); err != nil {
					s.logger.WithFields(logrus.Fields{
						"device": e.ID,
						"error":  err,
					}).Warn("Battery subscribe failed")
				}
			}
			if err := s.central.Read(e.ID, ch); err != nil {
				s.logger.WithFields(logrus.Fields{
					"device": e.ID,
					"error":  err,
				}).Warn("Battery read failed")
			}
			s.schedulePollLocked()
		}
	}
	s.publishLocked()
}

func (s *Session) onCharacteristicValue(e transport.CharacteristicValueEvent) {
	if e.ID != s.targetID || s.phase != PhaseConnected {
		return
	}
	switch e.Characteristic.UUID {
	case gatt.CharHeartRateMeasurement:
		m, err := gatt.ParseMeasurement(e.Data)
		if err != nil {
			s.countMalformed(gatt.CharHeartRateMeasurement, err, len(e.Data))
			return
		}
		s.reading.HeartRate = m.Rate
		s.reading.HeartRateAt = s.clock.Now()
		s.reading.Contact = m.Contact
		s.reading.ContactSupported = m.ContactSupported
	case gatt.CharBatteryLevel:
		level, err := gatt.ParseBatteryLevel(e.Data)
		if err != nil {
			s.countMalformed(gatt.CharBatteryLevel, err, len(e.Data))
			return
		}
		s.reading.BatteryLevel = level
		s.reading.BatteryStatus = BatteryStatus(gatt.ClassifyBattery(level))
		s.reading.BatteryAt = s.clock.Now()
	default:
		s.logger.WithField("uuid", e.Characteristic.UUID).Debug("Value for an unexpected characteristic")
		return
	}
	s.publishLocked()
}

// --- internals, all called with s.mu held ---

func (s *Session) requireAdapterLocked() error {
	if s.adapter.Ready() {
		return nil
	}
	s.setStatusLocked(adapterStatus(s.adapter))
	s.publishLocked()
	return failf(AdapterNotReady, "adapter is %s", s.adapter)
}

// startRoundLocked clears the discovered set and issues the scan. Any armed
// auto-stop belongs to the previous round and is dropped.
func (s *Session) startRoundLocked() error {
	s.registry.clear()
	if err := s.central.Scan(s.scanFilter()); err != nil {
		return err
	}
	s.scanning = true
	s.cancelAutoStopLocked()
	if s.opts.ScanAllDevices {
		s.setStatusLocked("scanning for all devices")
	} else {
		s.setStatusLocked("scanning for heart rate monitors")
	}
	return nil
}

func (s *Session) scanFilter() transport.ScanFilter {
	if s.opts.ScanAllDevices {
		return transport.ScanFilter{}
	}
	return transport.ScanFilter{ServiceUUIDs: []string{gatt.ServiceHeartRate}}
}

func (s *Session) stopScanLocked(status string) error {
	s.cancelAutoStopLocked()
	if !s.scanning {
		return nil
	}
	s.scanning = false
	err := s.central.StopScan()
	if err != nil {
		s.logger.WithField("error", err).Warn("Stop scan failed")
	}
	s.setStatusLocked(status)
	s.publishLocked()
	return err
}

func (s *Session) connectLocked(entry *deviceEntry) error {
	if s.phase == PhaseConnecting || s.phase == PhaseConnected {
		if s.targetID == entry.id {
			return nil
		}
		// Switch targets gracefully: tear the current link down first and
		// dial the new one when the disconnect event lands.
		s.pendingID, s.pendingName = entry.id, entry.name
		s.setStatusLocked(fmt.Sprintf("switching to %s", entry.name))
		s.logger.WithFields(logrus.Fields{
			"from": s.targetID,
			"to":   entry.id,
		}).Info("Switching devices")
		if err := s.central.Disconnect(s.targetID); err != nil {
			s.logger.WithFields(logrus.Fields{
				"device": s.targetID,
				"error":  err,
			}).Warn("Disconnect request failed")
		}
		s.publishLocked()
		return nil
	}
	return s.beginAttemptLocked(entry.id, entry.name)
}

func (s *Session) beginAttemptLocked(id, name string) error {
	s.phase = PhaseConnecting
	s.targetID, s.targetName = id, name
	s.setStatusLocked(fmt.Sprintf("connecting to %s", name))
	s.logger.WithFields(logrus.Fields{
		"device": id,
		"name":   name,
	}).Info("Connecting")
	if err := s.central.Connect(id); err != nil {
		s.connectFailures.Add(1)
		s.phase = PhaseFailed
		s.targetID, s.targetName = "", ""
		s.setStatusLocked(fmt.Sprintf("connection to %s failed: %v", name, err))
		s.publishLocked()
		return failf(ConnectFailed, "%s: %v", name, err)
	}
	s.armAutoStopLocked()
	s.publishLocked()
	return nil
}

func (s *Session) promotePendingLocked() {
	if s.pendingID == "" {
		return
	}
	id, name := s.pendingID, s.pendingName
	s.pendingID, s.pendingName = "", ""
	if err := s.beginAttemptLocked(id, name); err != nil {
		s.logger.WithFields(logrus.Fields{
			"device": id,
			"error":  err,
		}).Warn("Deferred connect failed")
	}
}

func (s *Session) clearConnectionLocked() {
	s.phase = PhaseDisconnected
	s.targetID, s.targetName = "", ""
	s.battChar = nil
	s.cancelPollLocked()
}

func (s *Session) armAutoStopLocked() {
	if s.opts.ScanAutoStop <= 0 || !s.scanning {
		return
	}
	s.cancelAutoStopLocked()
	seq := s.autoStopSeq
	s.autoStopTimer = s.clock.AfterFunc(s.opts.ScanAutoStop, func() {
		s.autoStopFired(seq)
	})
}

func (s *Session) cancelAutoStopLocked() {
	s.autoStopSeq++
	if s.autoStopTimer != nil {
		s.autoStopTimer.Stop()
		s.autoStopTimer = nil
	}
}

func (s *Session) autoStopFired(seq int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || seq != s.autoStopSeq {
		return
	}
	s.autoStopTimer = nil
	if !s.scanning {
		return
	}
	s.logger.Info("Scan auto-stop expired")
	_ = s.stopScanLocked("scan auto-stopped")
}

func (s *Session) schedulePollLocked() {
	if s.opts.BatteryPollInterval <= 0 {
		return
	}
	s.cancelPollLocked()
	seq := s.pollSeq
	s.pollTimer = s.clock.AfterFunc(s.opts.BatteryPollInterval, func() {
		s.pollFired(seq)
	})
}

func (s *Session) cancelPollLocked() {
	s.pollSeq++
	if s.pollTimer != nil {
		s.pollTimer.Stop()
		s.pollTimer = nil
	}
}

func (s *Session) pollFired(seq int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || seq != s.pollSeq {
		return
	}
	s.pollTimer = nil
	if s.phase != PhaseConnected || s.battChar == nil {
		return
	}
	if err := s.central.Read(s.targetID, *s.battChar); err != nil {
		s.logger.WithFields(logrus.Fields{
			"device": s.targetID,
			"error":  err,
		}).Warn("Battery poll failed")
	}
	s.pollTimer = s.clock.AfterFunc(s.opts.BatteryPollInterval, func() {
		s.pollFired(seq)
	})
}

func (s *Session) countMalformed(uuid string, err error, size int) {
	counter, _ := s.malformed.GetOrInsert(uuid, &atomic.Uint64{})
	counter.Add(1)
	s.logger.WithFields(logrus.Fields{
		"uuid":  uuid,
		"bytes": size,
		"error": err,
	}).Warn("Malformed payload dropped")
}

func (s *Session) setStatusLocked(status string) {
	s.reading.Status = status
}

func (s *Session) publishLocked() {
	s.feed.ForceSend(s.snapshotLocked())
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		Adapter:    s.adapter,
		Scanning:   s.scanning,
		Phase:      s.phase,
		TargetID:   s.targetID,
		TargetName: s.targetName,
		PendingID:  s.pendingID,
		Devices:    s.registry.list(s.targetID),
		Reading:    s.reading,
	}
}

func adapterStatus(state transport.AdapterState) string {
	switch state {
	case transport.AdapterPoweredOn:
		return "Bluetooth ready"
	case transport.AdapterPoweredOff:
		return "Bluetooth is powered off"
	case transport.AdapterUnauthorized:
		return "Bluetooth access not authorized"
	case transport.AdapterUnsupported:
		return "Bluetooth not supported on this device"
	default:
		return "Bluetooth state unknown"
	}
}
