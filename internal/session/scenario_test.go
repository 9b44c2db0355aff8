package session_test

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/srg/blip/internal/testutils"
)

type sessionScenarioSuite struct {
	testutils.SessionSuite
}

func TestSessionScenarios(t *testing.T) {
	suite.Run(t, new(sessionScenarioSuite))
}

func (s *sessionScenarioSuite) TestScanRounds() {
	s.RunScenariosFromYAML(`
        test_cases:
          - name: "power on starts a filtered scan"
            steps:
              - event: {adapter: poweredOn}
                expect_calls: ["scan(180d)"]
                expect_status: "scanning for heart rate monitors"
                expect_snapshot: |
                  {"adapter": "poweredOn", "scanning": true, "phase": "disconnected", "devices": []}

          - name: "anonymous advertisers are not listed"
            options: {auto_connect: false}
            steps:
              - event: {adapter: poweredOn}
                expect_calls: ["scan(180d)"]
              - event: {advertisement: {id: "11:22", services: ["180d"], rssi: -40}}
                expect_calls: []
                expect_snapshot: |
                  {"devices": []}

          - name: "named advertisers are listed in first-seen order"
            options: {auto_connect: false}
            steps:
              - event: {adapter: poweredOn}
                expect_calls: ["scan(180d)"]
              - event: {advertisement: {id: "aa:bb", name: "Polar H10", services: ["180d"], rssi: -62}}
              - event: {advertisement: {id: "cc:dd", name: "Wahoo TICKR", services: ["180d"], rssi: -71}}
              - event: {advertisement: {id: "aa:bb", name: "Polar H10", services: ["180d"], rssi: -58}}
                expect_snapshot: |
                  {"devices": [
                    {"id": "aa:bb", "name": "Polar H10", "heart_rate": true, "rssi": -58},
                    {"id": "cc:dd", "name": "Wahoo TICKR", "heart_rate": true, "rssi": -71}
                  ]}

          - name: "manual stop ends the round"
            options: {auto_connect: false}
            steps:
              - event: {adapter: poweredOn}
                expect_calls: ["scan(180d)"]
              - command: stop_scan
                expect_calls: ["stopScan"]
                expect_status: "scan stopped"
                expect_snapshot: |
                  {"scanning": false}
              - command: stop_scan
                expect_calls: []
    `)
}

func (s *sessionScenarioSuite) TestConnectionLifecycle() {
	s.RunScenariosFromYAML(`
        test_cases:
          - name: "auto-connects and sets up heart rate and battery"
            steps:
              - event: {adapter: poweredOn}
                expect_calls: ["scan(180d)"]
              - event: {advertisement: {id: "aa:bb", name: "Polar H10", services: ["180d"], rssi: -62}}
                expect_calls: ["connect(aa:bb)"]
                expect_status: "connecting to Polar H10"
                expect_snapshot: |
                  {"phase": "connecting", "target_id": "aa:bb",
                   "devices": [{"id": "aa:bb", "targeted": true}]}
              - event: {connected: "aa:bb"}
                expect_calls: ["discoverServices(aa:bb)"]
                expect_status: "connected to Polar H10"
              - event:
                  services:
                    id: "aa:bb"
                    services:
                      - {uuid: "180d", name: "Heart Rate"}
                      - {uuid: "180f", name: "Battery Service"}
                      - {uuid: "180a", name: "Device Information"}
                expect_calls:
                  - "discoverCharacteristics(aa:bb,180d,[2a37])"
                  - "discoverCharacteristics(aa:bb,180f,[2a19])"
              - event:
                  characteristics:
                    id: "aa:bb"
                    service: "180d"
                    chars: [{uuid: "2a37", notifiable: true}]
                expect_calls: ["subscribe(aa:bb,2a37)"]
              - event:
                  characteristics:
                    id: "aa:bb"
                    service: "180f"
                    chars: [{uuid: "2a19", notifiable: true}]
                expect_calls: ["subscribe(aa:bb,2a19)", "read(aa:bb,2a19)"]
              - event: {value: {id: "aa:bb", char: "2a37", data: [0x00, 0x48]}}
                expect_snapshot: |
                  {"reading": {"heart_rate": 72}}
              - event: {value: {id: "aa:bb", char: "2a19", data: [0x53]}}
                expect_snapshot: |
                  {"reading": {"heart_rate": 72, "battery_level": 83, "battery_status": "Good"}}
              - advance: 15s
                expect_calls: ["read(aa:bb,2a19)"]
              - command: disconnect
                expect_calls: ["disconnect(aa:bb)"]
                expect_status: "disconnecting from Polar H10"
              - event: {disconnected: {id: "aa:bb"}}
                expect_status: "disconnected from Polar H10"
                expect_snapshot: |
                  {"phase": "disconnected", "scanning": true,
                   "reading": {"heart_rate": 72, "battery_level": -1, "battery_status": "no device connected"}}
              - advance: 15s
                expect_calls: []

          - name: "failed attempt reports and allows retry"
            options: {auto_connect: false}
            steps:
              - event: {adapter: poweredOn}
                expect_calls: ["scan(180d)"]
              - event: {advertisement: {id: "aa:bb", name: "Polar H10", services: ["180d"], rssi: -62}}
              - connect_to: "aa:bb"
                expect_calls: ["connect(aa:bb)"]
              - event: {connect_failed: {id: "aa:bb", error: "att timeout"}}
                expect_status: "connection to Polar H10 failed: att timeout"
                expect_snapshot: |
                  {"phase": "failed", "scanning": true}
              - connect_to: "aa:bb"
                expect_calls: ["connect(aa:bb)"]
                expect_snapshot: |
                  {"phase": "connecting", "target_id": "aa:bb"}

          - name: "unsolicited disconnect clears the link"
            steps:
              - event: {adapter: poweredOn}
              - event: {advertisement: {id: "aa:bb", name: "Polar H10", services: ["180d"], rssi: -62}}
              - event: {connected: "aa:bb"}
              - event: {disconnected: {id: "aa:bb", error: "connection lost"}}
                expect_status: "disconnected from Polar H10: connection lost"
                expect_snapshot: |
                  {"phase": "disconnected",
                   "reading": {"battery_status": "no device connected"}}

          - name: "duplicate connected event is ignored"
            steps:
              - event: {adapter: poweredOn}
              - event: {advertisement: {id: "aa:bb", name: "Polar H10", services: ["180d"], rssi: -62}}
              - event: {connected: "aa:bb"}
                expect_calls: ["scan(180d)", "connect(aa:bb)", "discoverServices(aa:bb)"]
              - event: {connected: "aa:bb"}
                expect_calls: []
              - event: {disconnected: {id: "ff:ff"}}
                expect_calls: []
                expect_snapshot: |
                  {"phase": "connected", "target_id": "aa:bb"}
    `)
}

func (s *sessionScenarioSuite) TestTargetSwitching() {
	s.RunScenariosFromYAML(`
        test_cases:
          - name: "switch waits for the old link to drop"
            steps:
              - event: {adapter: poweredOn}
                expect_calls: ["scan(180d)"]
              - event: {advertisement: {id: "aa:bb", name: "Polar H10", services: ["180d"], rssi: -62}}
                expect_calls: ["connect(aa:bb)"]
              - event: {connected: "aa:bb"}
                expect_calls: ["discoverServices(aa:bb)"]
              - event: {advertisement: {id: "cc:dd", name: "Wahoo TICKR", services: ["180d"], rssi: -71}}
                expect_calls: []
              - connect_to: "cc:dd"
                expect_calls: ["disconnect(aa:bb)"]
                expect_status: "switching to Wahoo TICKR"
                expect_snapshot: |
                  {"phase": "connected", "target_id": "aa:bb", "pending_id": "cc:dd"}
              - event: {disconnected: {id: "aa:bb"}}
                expect_calls: ["connect(cc:dd)"]
                expect_status: "connecting to Wahoo TICKR"
                expect_snapshot: |
                  {"phase": "connecting", "target_id": "cc:dd",
                   "devices": [{"id": "aa:bb", "targeted": false}, {"id": "cc:dd", "targeted": true}]}
              - event: {connected: "cc:dd"}
                expect_calls: ["discoverServices(cc:dd)"]
                expect_status: "connected to Wahoo TICKR"

          - name: "pending target survives a failed teardown"
            options: {auto_connect: false}
            steps:
              - event: {adapter: poweredOn}
                expect_calls: ["scan(180d)"]
              - event: {advertisement: {id: "aa:bb", name: "Polar H10", services: ["180d"], rssi: -62}}
              - event: {advertisement: {id: "cc:dd", name: "Wahoo TICKR", services: ["180d"], rssi: -71}}
              - connect_to: "aa:bb"
                expect_calls: ["connect(aa:bb)"]
              - connect_to: "cc:dd"
                expect_calls: ["disconnect(aa:bb)"]
              - event: {connect_failed: {id: "aa:bb", error: "canceled"}}
                expect_calls: ["connect(cc:dd)"]
                expect_snapshot: |
                  {"phase": "connecting", "target_id": "cc:dd"}

          - name: "explicit disconnect drops a pending switch"
            options: {auto_connect: false}
            steps:
              - event: {adapter: poweredOn}
                expect_calls: ["scan(180d)"]
              - event: {advertisement: {id: "aa:bb", name: "Polar H10", services: ["180d"], rssi: -62}}
              - event: {advertisement: {id: "cc:dd", name: "Wahoo TICKR", services: ["180d"], rssi: -71}}
              - connect_to: "aa:bb"
                expect_calls: ["connect(aa:bb)"]
              - event: {connected: "aa:bb"}
                expect_calls: ["discoverServices(aa:bb)"]
              - connect_to: "cc:dd"
                expect_calls: ["disconnect(aa:bb)"]
              - command: disconnect
                expect_calls: ["disconnect(aa:bb)"]
              - event: {disconnected: {id: "aa:bb"}}
                expect_calls: []
                expect_snapshot: |
                  {"phase": "disconnected"}
    `)
}

func (s *sessionScenarioSuite) TestAdapterTransitions() {
	s.RunScenariosFromYAML(`
        test_cases:
          - name: "losing the adapter tears everything down locally"
            steps:
              - event: {adapter: poweredOn}
              - event: {advertisement: {id: "aa:bb", name: "Polar H10", services: ["180d"], rssi: -62}}
              - event: {connected: "aa:bb"}
                expect_calls: ["scan(180d)", "connect(aa:bb)", "discoverServices(aa:bb)"]
              - event: {adapter: poweredOff}
                expect_calls: []
                expect_status: "Bluetooth is powered off"
                expect_snapshot: |
                  {"adapter": "poweredOff", "scanning": false, "phase": "disconnected",
                   "reading": {"battery_status": "no device connected"}}
              - event: {adapter: poweredOn}
                expect_calls: ["scan(180d)"]
                expect_snapshot: |
                  {"scanning": true, "devices": []}

          - name: "unauthorized adapter gates commands"
            steps:
              - event: {adapter: unauthorized}
                expect_status: "Bluetooth access not authorized"
              - command: start_scan
                expect_error: "adapter_not_ready"
                expect_calls: []
    `)
}

func (s *sessionScenarioSuite) TestGattSetupVariants() {
	s.RunScenariosFromYAML(`
        test_cases:
          - name: "no battery service"
            steps:
              - event: {adapter: poweredOn}
              - event: {advertisement: {id: "aa:bb", name: "Polar H10", services: ["180d"], rssi: -62}}
              - event: {connected: "aa:bb"}
              - event:
                  services:
                    id: "aa:bb"
                    services: [{uuid: "180d", name: "Heart Rate"}]
                expect_calls:
                  - "scan(180d)"
                  - "connect(aa:bb)"
                  - "discoverServices(aa:bb)"
                  - "discoverCharacteristics(aa:bb,180d,[2a37])"
                expect_snapshot: |
                  {"reading": {"battery_level": -1, "battery_status": "no battery info"}}

          - name: "vendor battery service matched by name"
            steps:
              - event: {adapter: poweredOn}
              - event: {advertisement: {id: "aa:bb", name: "Polar H10", services: ["180d"], rssi: -62}}
              - event: {connected: "aa:bb"}
              - event:
                  services:
                    id: "aa:bb"
                    services:
                      - {uuid: "180d", name: "Heart Rate"}
                      - {uuid: "fee0", name: "Battery Monitor"}
                expect_calls:
                  - "scan(180d)"
                  - "connect(aa:bb)"
                  - "discoverServices(aa:bb)"
                  - "discoverCharacteristics(aa:bb,180d,[2a37])"
                  - "discoverCharacteristics(aa:bb,fee0,[2a19])"

          - name: "no heart rate service on the connected device"
            steps:
              - event: {adapter: poweredOn}
              - event: {advertisement: {id: "aa:bb", name: "Polar H10", services: ["180d"], rssi: -62}}
              - event: {connected: "aa:bb"}
              - event:
                  services:
                    id: "aa:bb"
                    services: [{uuid: "180f", name: "Battery Service"}]
                expect_status: "no heart rate service on Polar H10"
                expect_calls:
                  - "scan(180d)"
                  - "connect(aa:bb)"
                  - "discoverServices(aa:bb)"
                  - "discoverCharacteristics(aa:bb,180f,[2a19])"

          - name: "service discovery error surfaces on the status line"
            steps:
              - event: {adapter: poweredOn}
              - event: {advertisement: {id: "aa:bb", name: "Polar H10", services: ["180d"], rssi: -62}}
              - event: {connected: "aa:bb"}
              - event: {services: {id: "aa:bb", error: "att timeout"}}
                expect_status: "service discovery failed: att timeout"

          - name: "characteristic discovery error surfaces on the status line"
            steps:
              - event: {adapter: poweredOn}
              - event: {advertisement: {id: "aa:bb", name: "Polar H10", services: ["180d"], rssi: -62}}
              - event: {connected: "aa:bb"}
              - event:
                  services:
                    id: "aa:bb"
                    services: [{uuid: "180d", name: "Heart Rate"}]
              - event: {characteristics: {id: "aa:bb", service: "180d", error: "gatt failure"}}
                expect_status: "characteristic discovery failed: gatt failure"

          - name: "battery without notify support is read and polled only"
            steps:
              - event: {adapter: poweredOn}
              - event: {advertisement: {id: "aa:bb", name: "Polar H10", services: ["180d"], rssi: -62}}
              - event: {connected: "aa:bb"}
              - event:
                  services:
                    id: "aa:bb"
                    services: [{uuid: "180f", name: "Battery Service"}]
              - event:
                  characteristics:
                    id: "aa:bb"
                    service: "180f"
                    chars: [{uuid: "2a19"}]
                expect_calls:
                  - "scan(180d)"
                  - "connect(aa:bb)"
                  - "discoverServices(aa:bb)"
                  - "discoverCharacteristics(aa:bb,180f,[2a19])"
                  - "read(aa:bb,2a19)"
              - advance: 15s
                expect_calls: ["read(aa:bb,2a19)"]
    `)
}

func (s *sessionScenarioSuite) TestLiveDecoding() {
	s.RunScenariosFromYAML(`
        test_cases:
          - name: "decodes measurement flags and battery bands"
            steps:
              - event: {adapter: poweredOn}
              - event: {advertisement: {id: "aa:bb", name: "Polar H10", services: ["180d"], rssi: -62}}
              - event: {connected: "aa:bb"}
              - event:
                  services:
                    id: "aa:bb"
                    services:
                      - {uuid: "180d", name: "Heart Rate"}
                      - {uuid: "180f", name: "Battery Service"}
              - event:
                  characteristics:
                    id: "aa:bb"
                    service: "180d"
                    chars: [{uuid: "2a37", notifiable: true}]
              - event:
                  characteristics:
                    id: "aa:bb"
                    service: "180f"
                    chars: [{uuid: "2a19", notifiable: true}]
              - event: {value: {id: "aa:bb", char: "2a37", data: [0x00, 0x48]}}
                expect_snapshot: |
                  {"reading": {"heart_rate": 72, "contact_supported": false}}
              - event: {value: {id: "aa:bb", char: "2a37", data: [0x01, 0xff, 0x01]}}
                expect_snapshot: |
                  {"reading": {"heart_rate": 511}}
              - event: {value: {id: "aa:bb", char: "2a37", data: [0x06, 0x50]}}
                expect_snapshot: |
                  {"reading": {"heart_rate": 80, "contact": true, "contact_supported": true}}
              - event: {value: {id: "aa:bb", char: "2a37", data: [0x04, 0x50]}}
                expect_snapshot: |
                  {"reading": {"heart_rate": 80, "contact": false, "contact_supported": true}}
              - event: {value: {id: "aa:bb", char: "2a19", data: [0x64]}}
                expect_snapshot: |
                  {"reading": {"battery_level": 100, "battery_status": "Good"}}
              - event: {value: {id: "aa:bb", char: "2a19", data: [0x1e]}}
                expect_snapshot: |
                  {"reading": {"battery_level": 30, "battery_status": "OK"}}
              - event: {value: {id: "aa:bb", char: "2a19", data: [0x18]}}
                expect_snapshot: |
                  {"reading": {"battery_level": 24, "battery_status": "Low"}}
              - event: {value: {id: "aa:bb", char: "2a19", data: [0x05]}}
                expect_snapshot: |
                  {"reading": {"battery_level": 5, "battery_status": "Critical"}}

          - name: "malformed frames never clear the last reading"
            steps:
              - event: {adapter: poweredOn}
              - event: {advertisement: {id: "aa:bb", name: "Polar H10", services: ["180d"], rssi: -62}}
              - event: {connected: "aa:bb"}
              - event:
                  services:
                    id: "aa:bb"
                    services:
                      - {uuid: "180d", name: "Heart Rate"}
                      - {uuid: "180f", name: "Battery Service"}
              - event:
                  characteristics:
                    id: "aa:bb"
                    service: "180d"
                    chars: [{uuid: "2a37", notifiable: true}]
              - event:
                  characteristics:
                    id: "aa:bb"
                    service: "180f"
                    chars: [{uuid: "2a19", notifiable: true}]
              - event: {value: {id: "aa:bb", char: "2a37", data: [0x00, 0x48]}}
              - event: {value: {id: "aa:bb", char: "2a19", data: [0x53]}}
              - event: {value: {id: "aa:bb", char: "2a37", data: [0x00]}}
              - event: {value: {id: "aa:bb", char: "2a37", data: [0x01, 0x48]}}
              - event: {value: {id: "aa:bb", char: "2a19", data: [0x65]}}
              - event: {value: {id: "aa:bb", char: "2a19", data: []}}
                expect_snapshot: |
                  {"reading": {"heart_rate": 72, "battery_level": 83, "battery_status": "Good"}}

          - name: "values from an untracked peer are dropped"
            options: {auto_connect: false}
            steps:
              - event: {adapter: poweredOn}
              - event: {value: {id: "zz:zz", char: "2a37", data: [0x00, 0x48]}}
                expect_snapshot: |
                  {"reading": {"heart_rate": 0}}
    `)
}
