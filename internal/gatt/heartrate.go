package gatt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// ErrMalformedPayload reports a GATT payload that cannot be decoded. Callers
// count these for diagnostics; a malformed payload never updates live state.
var ErrMalformedPayload = errors.New("malformed payload")

// Heart Rate Measurement flag bits
// (org.bluetooth.characteristic.heart_rate_measurement).
const (
	hrmFlagRate16Bit        = 0x01
	hrmFlagContactDetected  = 0x02
	hrmFlagContactSupported = 0x04
	hrmFlagEnergyExpended   = 0x08
	hrmFlagRRInterval       = 0x10
)

// Measurement is a decoded Heart Rate Measurement payload.
type Measurement struct {
	Rate             int  // beats per minute
	ContactSupported bool // sensor reports skin contact status
	Contact          bool // skin contact detected, meaningful when supported
	// Energy is the accumulated energy expended in kilojoules, -1 when the
	// field is absent.
	Energy int
	// RR holds the RR intervals carried by the payload, oldest first.
	RR []time.Duration
}

// ParseMeasurement decodes a Heart Rate Measurement payload. The rate field
// is mandatory and its width follows flag bit 0: clear means uint8, set means
// uint16 little-endian. Optional trailing fields are decoded leniently; a
// truncated optional field never invalidates an already-decoded rate.
func ParseMeasurement(data []byte) (Measurement, error) {
	m := Measurement{Energy: -1}
	if len(data) < 2 {
		return m, fmt.Errorf("%w: heart rate measurement is %d bytes, need at least 2", ErrMalformedPayload, len(data))
	}

	flags := data[0]
	m.ContactSupported = flags&hrmFlagContactSupported != 0
	m.Contact = m.ContactSupported && flags&hrmFlagContactDetected != 0

	i := 1
	if flags&hrmFlagRate16Bit != 0 {
		if len(data) < 3 {
			return m, fmt.Errorf("%w: 16-bit rate flag set but payload is %d bytes", ErrMalformedPayload, len(data))
		}
		m.Rate = int(binary.LittleEndian.Uint16(data[1:3]))
		i = 3
	} else {
		m.Rate = int(data[1])
		i = 2
	}

	if flags&hrmFlagEnergyExpended != 0 {
		if len(data) >= i+2 {
			m.Energy = int(binary.LittleEndian.Uint16(data[i : i+2]))
		}
		i += 2
	}

	if flags&hrmFlagRRInterval != 0 {
		// RR intervals are in units of 1/1024 s.
		for ; i+1 < len(data); i += 2 {
			rr := binary.LittleEndian.Uint16(data[i : i+2])
			m.RR = append(m.RR, time.Duration(rr)*time.Second/1024)
		}
	}

	return m, nil
}
