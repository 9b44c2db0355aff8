package tinyble

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"github.com/srg/blip/internal/gatt"
	"github.com/srg/blip/internal/groutine"
	"github.com/srg/blip/internal/transport"
)

// readBufferSize is generous for GATT values; ATT caps attribute values at
// 512 bytes.
const readBufferSize = 512

// DiscoverServices requests the full service list of the connected
// peripheral. The result arrives as a ServicesDiscoveredEvent.
func (c *Central) DiscoverServices(id string) error {
	p := c.peer(id)
	if p == nil {
		return ErrNotConnected
	}
	groutine.Go(nil, "tinyble-svc-discovery", func(ctx context.Context) {
		svcs, err := p.dev.DiscoverServices(nil)
		if err != nil {
			c.events.ForceSend(transport.ServicesDiscoveredEvent{ID: id, Err: err})
			return
		}
		out := make([]transport.Service, 0, len(svcs))
		for _, s := range svcs {
			u := gatt.NormalizeUUID(s.UUID().String())
			p.addService(u, s)
			out = append(out, transport.Service{UUID: u, Name: gatt.KnownServiceName(u)})
		}
		c.logger.WithFields(logrus.Fields{
			"device":   id,
			"services": len(out),
		}).Debug("Services discovered")
		c.events.ForceSend(transport.ServicesDiscoveredEvent{ID: id, Services: out})
	})
	return nil
}

// DiscoverCharacteristics requests characteristics of one discovered service,
// restricted to charUUIDs when non-empty.
func (c *Central) DiscoverCharacteristics(id string, service transport.Service, charUUIDs []string) error {
	p := c.peer(id)
	if p == nil {
		return ErrNotConnected
	}
	svc, ok := p.service(service.UUID)
	if !ok {
		return fmt.Errorf("%w: service %s", ErrNotFound, service.UUID)
	}
	filter, err := toUUIDs(charUUIDs)
	if err != nil {
		return err
	}
	groutine.Go(nil, "tinyble-char-discovery", func(ctx context.Context) {
		chars, err := svc.DiscoverCharacteristics(filter)
		if err != nil {
			c.events.ForceSend(transport.CharacteristicsDiscoveredEvent{
				ID:      id,
				Service: service,
				Err:     err,
			})
			return
		}
		out := make([]transport.Characteristic, 0, len(chars))
		for _, ch := range chars {
			u := gatt.NormalizeUUID(ch.UUID().String())
			p.addCharacteristic(charKey{svc: service.UUID, char: u}, ch)
			// The API does not expose characteristic properties;
			// notifiability is found out by attempting EnableNotifications.
			out = append(out, transport.Characteristic{
				ServiceUUID: service.UUID,
				UUID:        u,
				Notifiable:  true,
			})
		}
		c.events.ForceSend(transport.CharacteristicsDiscoveredEvent{
			ID:              id,
			Service:         service,
			Characteristics: out,
		})
	})
	return nil
}

// Subscribe enables notifications and forwards every value as a
// CharacteristicValueEvent.
func (c *Central) Subscribe(id string, char transport.Characteristic) error {
	p := c.peer(id)
	if p == nil {
		return ErrNotConnected
	}
	handle, ok := p.characteristic(charKey{svc: char.ServiceUUID, char: char.UUID})
	if !ok {
		return fmt.Errorf("%w: characteristic %s", ErrNotFound, char.UUID)
	}

	err := handle.EnableNotifications(func(buf []byte) {
		// The stack may reuse the buffer after the callback returns.
		data := make([]byte, len(buf))
		copy(data, buf)
		c.events.ForceSend(transport.CharacteristicValueEvent{
			ID:             id,
			Characteristic: char,
			Data:           data,
		})
	})
	if err != nil {
		return err
	}
	c.logger.WithFields(logrus.Fields{
		"device": id,
		"uuid":   char.UUID,
	}).Info("Subscribed to characteristic notifications")
	return nil
}

// Read requests one characteristic value; it arrives as a
// CharacteristicValueEvent, indistinguishable from a notification.
func (c *Central) Read(id string, char transport.Characteristic) error {
	p := c.peer(id)
	if p == nil {
		return ErrNotConnected
	}
	handle, ok := p.characteristic(charKey{svc: char.ServiceUUID, char: char.UUID})
	if !ok {
		return fmt.Errorf("%w: characteristic %s", ErrNotFound, char.UUID)
	}

	groutine.Go(nil, "tinyble-read", func(ctx context.Context) {
		buf := make([]byte, readBufferSize)
		n, err := handle.Read(buf)
		if err != nil {
			c.logger.WithFields(logrus.Fields{
				"device": id,
				"uuid":   char.UUID,
				"error":  err,
			}).Warn("Characteristic read failed")
			return
		}
		c.events.ForceSend(transport.CharacteristicValueEvent{
			ID:             id,
			Characteristic: char,
			Data:           buf[:n],
		})
	})
	return nil
}

func toUUIDs(uuids []string) ([]bluetooth.UUID, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	out := make([]bluetooth.UUID, 0, len(uuids))
	for _, u := range uuids {
		parsed, err := toUUID(u)
		if err != nil {
			return nil, err
		}
		out = append(out, parsed)
	}
	return out, nil
}
