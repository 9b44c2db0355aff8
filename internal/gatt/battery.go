package gatt

import "fmt"

// BatteryBand is the qualitative charge classification shown to the operator.
type BatteryBand string

const (
	BatteryGood     BatteryBand = "Good"
	BatteryOK       BatteryBand = "OK"
	BatteryLow      BatteryBand = "Low"
	BatteryCritical BatteryBand = "Critical"
)

// ParseBatteryLevel decodes a Battery Level payload into a percentage.
// The payload is a single byte in the range 0-100.
func ParseBatteryLevel(data []byte) (int, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("%w: battery level payload is empty", ErrMalformedPayload)
	}
	level := int(data[0])
	if level > 100 {
		return 0, fmt.Errorf("%w: battery level %d exceeds 100", ErrMalformedPayload, level)
	}
	return level, nil
}

// ClassifyBattery maps a battery percentage to its qualitative band.
func ClassifyBattery(level int) BatteryBand {
	switch {
	case level >= 75:
		return BatteryGood
	case level >= 25:
		return BatteryOK
	case level >= 10:
		return BatteryLow
	default:
		return BatteryCritical
	}
}
