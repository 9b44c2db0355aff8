package gatt

// Sixteen-bit UUIDs of the services and characteristics the monitor touches,
// in normalized form.
const (
	ServiceHeartRate  = "180d"
	ServiceBattery    = "180f"
	ServiceDeviceInfo = "180a"

	CharHeartRateMeasurement = "2a37"
	CharBodySensorLocation   = "2a38"
	CharBatteryLevel         = "2a19"
	CharDeviceName           = "2a00"
)

// Assigned names for the profiles this system works with. Lookups for
// anything else return "" and callers fall back to the raw UUID.
var serviceNames = map[string]string{
	"1800": "Generic Access",
	"1801": "Generic Attribute",
	"180a": "Device Information",
	"180d": "Heart Rate",
	"180f": "Battery Service",
	"1810": "Blood Pressure",
	"1816": "Cycling Speed and Cadence",
	"1818": "Cycling Power",
	"181a": "Environmental Sensing",
}

var characteristicNames = map[string]string{
	"2a00": "Device Name",
	"2a19": "Battery Level",
	"2a29": "Manufacturer Name String",
	"2a37": "Heart Rate Measurement",
	"2a38": "Body Sensor Location",
	"2a39": "Heart Rate Control Point",
}

// KnownServiceName returns the assigned name for a service UUID, or "" when
// the service is not in the table. Accepts any format NormalizeUUID accepts.
func KnownServiceName(uuid string) string {
	return serviceNames[NormalizeUUID(uuid)]
}

// KnownCharacteristicName returns the assigned name for a characteristic
// UUID, or "" when unknown.
func KnownCharacteristicName(uuid string) string {
	return characteristicNames[NormalizeUUID(uuid)]
}

// HasHeartRateService reports whether an advertised service UUID list
// includes the Heart Rate service.
func HasHeartRateService(uuids []string) bool {
	for _, u := range uuids {
		if NormalizeUUID(u) == ServiceHeartRate {
			return true
		}
	}
	return false
}
