package goble

import (
	"context"
	"fmt"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blip/internal/gatt"
	"github.com/srg/blip/internal/groutine"
	"github.com/srg/blip/internal/transport"
)

// DiscoverServices requests the full service list of a connected peripheral.
// The result arrives as a ServicesDiscoveredEvent.
func (c *Central) DiscoverServices(id string) error {
	p := c.peer(id)
	if p == nil {
		return ErrNotConnected
	}
	groutine.Go(c.runCtx, "goble-svc-discovery", func(ctx context.Context) {
		svcs, err := p.client.DiscoverServices(nil)
		if err != nil {
			c.events.ForceSend(transport.ServicesDiscoveredEvent{ID: id, Err: NormalizeError(err)})
			return
		}
		out := make([]transport.Service, 0, len(svcs))
		for _, s := range svcs {
			u := gatt.NormalizeUUID(s.UUID.String())
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
// restricted to charUUIDs when non-empty. The result arrives as a
// CharacteristicsDiscoveredEvent.
func (c *Central) DiscoverCharacteristics(id string, service transport.Service, charUUIDs []string) error {
	p := c.peer(id)
	if p == nil {
		return ErrNotConnected
	}
	svc := p.service(service.UUID)
	if svc == nil {
		return fmt.Errorf("%w: service %s", ErrNotFound, service.UUID)
	}
	filter, err := parseUUIDs(charUUIDs)
	if err != nil {
		return err
	}
	groutine.Go(c.runCtx, "goble-char-discovery", func(ctx context.Context) {
		chars, err := p.client.DiscoverCharacteristics(filter, svc)
		if err != nil {
			c.events.ForceSend(transport.CharacteristicsDiscoveredEvent{
				ID:      id,
				Service: service,
				Err:     NormalizeError(err),
			})
			return
		}
		out := make([]transport.Characteristic, 0, len(chars))
		for _, ch := range chars {
			u := gatt.NormalizeUUID(ch.UUID.String())
			p.addCharacteristic(charKey{svc: service.UUID, char: u}, ch)
			out = append(out, transport.Characteristic{
				ServiceUUID: service.UUID,
				UUID:        u,
				Notifiable:  ch.Property&(ble.CharNotify|ble.CharIndicate) != 0,
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

// Subscribe enables notifications (or indications when that is all the
// characteristic supports) and forwards every value as a
// CharacteristicValueEvent.
func (c *Central) Subscribe(id string, char transport.Characteristic) error {
	p := c.peer(id)
	if p == nil {
		return ErrNotConnected
	}
	handle := p.characteristic(charKey{svc: char.ServiceUUID, char: char.UUID})
	if handle == nil {
		return fmt.Errorf("%w: characteristic %s", ErrNotFound, char.UUID)
	}

	indicate := handle.Property&ble.CharNotify == 0 && handle.Property&ble.CharIndicate != 0
	err := p.client.Subscribe(handle, indicate, func(data []byte) {
		c.events.ForceSend(transport.CharacteristicValueEvent{
			ID:             id,
			Characteristic: char,
			Data:           data,
		})
	})
	if err != nil {
		return NormalizeError(err)
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
	handle := p.characteristic(charKey{svc: char.ServiceUUID, char: char.UUID})
	if handle == nil {
		return fmt.Errorf("%w: characteristic %s", ErrNotFound, char.UUID)
	}

	groutine.Go(c.runCtx, "goble-read", func(ctx context.Context) {
		type result struct {
			data []byte
			err  error
		}
		resCh := make(chan result, 1)
		go func() {
			data, err := p.client.ReadCharacteristic(handle)
			resCh <- result{data: data, err: err}
		}()

		select {
		case res := <-resCh:
			if res.err != nil {
				c.logger.WithFields(logrus.Fields{
					"device": id,
					"uuid":   char.UUID,
					"error":  res.err,
				}).Warn("Characteristic read failed")
				return
			}
			c.events.ForceSend(transport.CharacteristicValueEvent{
				ID:             id,
				Characteristic: char,
				Data:           res.data,
			})
		case <-time.After(readTimeout):
			c.logger.WithFields(logrus.Fields{
				"device": id,
				"uuid":   char.UUID,
			}).Warn("Characteristic read timed out")
		case <-ctx.Done():
		}
	})
	return nil
}

func parseUUIDs(uuids []string) ([]ble.UUID, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	out := make([]ble.UUID, 0, len(uuids))
	for _, u := range uuids {
		parsed, err := ble.Parse(gatt.NormalizeUUID(u))
		if err != nil {
			return nil, fmt.Errorf("bad uuid %q: %w", u, err)
		}
		out = append(out, parsed)
	}
	return out, nil
}
