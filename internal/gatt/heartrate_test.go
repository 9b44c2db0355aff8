package gatt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseMeasurement verifies rate decoding for both flag-selected widths.
func TestParseMeasurement(t *testing.T) {
	tests := []struct {
		name     string
		payload  []byte
		expected int
	}{
		{
			name:     "8-bit rate",
			payload:  []byte{0x00, 0x48},
			expected: 72,
		},
		{
			name:     "16-bit rate, value fits in one byte",
			payload:  []byte{0x01, 0x48, 0x00},
			expected: 72,
		},
		{
			name:     "16-bit rate above 255",
			payload:  []byte{0x01, 0xFF, 0x01},
			expected: 511,
		},
		{
			name:     "8-bit rate of zero",
			payload:  []byte{0x00, 0x00},
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ParseMeasurement(tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, m.Rate)
		})
	}
}

// TestParseMeasurementMalformed verifies that undecodable payloads are
// rejected with ErrMalformedPayload.
func TestParseMeasurementMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{name: "empty payload", payload: []byte{}},
		{name: "nil payload", payload: nil},
		{name: "flags only", payload: []byte{0x00}},
		{name: "16-bit flag with one rate byte", payload: []byte{0x01, 0x48}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMeasurement(tt.payload)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedPayload)
		})
	}
}

// TestParseMeasurementContactFlags verifies sensor contact decoding.
func TestParseMeasurementContactFlags(t *testing.T) {
	tests := []struct {
		name      string
		payload   []byte
		supported bool
		contact   bool
	}{
		{
			name:      "contact not supported",
			payload:   []byte{0x00, 0x50},
			supported: false,
			contact:   false,
		},
		{
			name:      "contact bit set without support bit",
			payload:   []byte{0x02, 0x50},
			supported: false,
			contact:   false,
		},
		{
			name:      "supported, no contact",
			payload:   []byte{0x04, 0x50},
			supported: true,
			contact:   false,
		},
		{
			name:      "supported with contact",
			payload:   []byte{0x06, 0x50},
			supported: true,
			contact:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ParseMeasurement(tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.supported, m.ContactSupported)
			assert.Equal(t, tt.contact, m.Contact)
			assert.Equal(t, 80, m.Rate)
		})
	}
}

// TestParseMeasurementOptionalFields verifies energy expended and RR interval
// decoding, including lenient handling of truncated optional fields.
func TestParseMeasurementOptionalFields(t *testing.T) {
	t.Run("energy expended", func(t *testing.T) {
		m, err := ParseMeasurement([]byte{0x08, 0x48, 0x10, 0x27})
		require.NoError(t, err)
		assert.Equal(t, 72, m.Rate)
		assert.Equal(t, 10000, m.Energy)
	})

	t.Run("energy absent", func(t *testing.T) {
		m, err := ParseMeasurement([]byte{0x00, 0x48})
		require.NoError(t, err)
		assert.Equal(t, -1, m.Energy)
	})

	t.Run("truncated energy keeps the rate", func(t *testing.T) {
		m, err := ParseMeasurement([]byte{0x08, 0x48})
		require.NoError(t, err)
		assert.Equal(t, 72, m.Rate)
		assert.Equal(t, -1, m.Energy)
	})

	t.Run("rr intervals", func(t *testing.T) {
		m, err := ParseMeasurement([]byte{0x10, 0x48, 0x00, 0x04, 0x00, 0x02})
		require.NoError(t, err)
		assert.Equal(t, 72, m.Rate)
		require.Len(t, m.RR, 2)
		assert.Equal(t, time.Second, m.RR[0])
		assert.Equal(t, 500*time.Millisecond, m.RR[1])
	})

	t.Run("rr after energy with 16-bit rate", func(t *testing.T) {
		m, err := ParseMeasurement([]byte{0x19, 0x48, 0x00, 0xE8, 0x03, 0x00, 0x04})
		require.NoError(t, err)
		assert.Equal(t, 72, m.Rate)
		assert.Equal(t, 1000, m.Energy)
		require.Len(t, m.RR, 1)
		assert.Equal(t, time.Second, m.RR[0])
	})

	t.Run("dangling rr byte is dropped", func(t *testing.T) {
		m, err := ParseMeasurement([]byte{0x10, 0x48, 0x00, 0x04, 0x33})
		require.NoError(t, err)
		require.Len(t, m.RR, 1)
		assert.Equal(t, time.Second, m.RR[0])
	})
}
