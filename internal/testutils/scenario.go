package testutils

import (
	"errors"
	"strings"
	"time"

	"github.com/stretchr/testify/suite"
	"gopkg.in/yaml.v3"

	"github.com/srg/blip/internal/session"
	"github.com/srg/blip/internal/transport"
)

// ScenarioStartTime is the fake clock epoch every scenario starts from, so
// timestamps in expected snapshots are reproducible.
var ScenarioStartTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// Scenario is one YAML-defined session test: a fresh session driven through
// an ordered list of commands, transport events and clock advances, with
// assertions along the way.
//
// UUIDs in scenarios use the normalized short form real centrals deliver
// ("180d", "2a37"), and device IDs are free-form strings.
type Scenario struct {
	Name    string          `yaml:"name"`
	Options ScenarioOptions `yaml:"options,omitempty"`
	Steps   []ScenarioStep  `yaml:"steps"`
}

// ScenarioOptions overrides session defaults per scenario. Unset fields keep
// the defaults.
type ScenarioOptions struct {
	AutoScan     *bool          `yaml:"auto_scan,omitempty"`
	AutoConnect  *bool          `yaml:"auto_connect,omitempty"`
	ScanAll      *bool          `yaml:"scan_all,omitempty"`
	ScanAutoStop *time.Duration `yaml:"scan_auto_stop,omitempty"`
	BatteryPoll  *time.Duration `yaml:"battery_poll,omitempty"`
}

func (o ScenarioOptions) apply(opts *session.Options) {
	if o.AutoScan != nil {
		opts.AutoScanOnPowerOn = *o.AutoScan
	}
	if o.AutoConnect != nil {
		opts.AutoConnect = *o.AutoConnect
	}
	if o.ScanAll != nil {
		opts.ScanAllDevices = *o.ScanAll
	}
	if o.ScanAutoStop != nil {
		opts.ScanAutoStop = *o.ScanAutoStop
	}
	if o.BatteryPoll != nil {
		opts.BatteryPollInterval = *o.BatteryPoll
	}
}

// ScenarioStep performs at most one action and then applies its checks.
type ScenarioStep struct {
	// Actions, mutually exclusive.
	Command   string         `yaml:"command,omitempty"` // start_scan, restart_scan, stop_scan, disconnect, close
	ConnectTo string         `yaml:"connect_to,omitempty"`
	Event     *ScenarioEvent `yaml:"event,omitempty"`
	Advance   time.Duration  `yaml:"advance,omitempty"`

	// Checks, applied after the action.
	ExpectError    string   `yaml:"expect_error,omitempty"`    // substring of the command error
	ExpectCalls    []string `yaml:"expect_calls,omitempty"`    // central operations since the last check
	ExpectStatus   string   `yaml:"expect_status,omitempty"`   // exact status line
	ExpectSnapshot string   `yaml:"expect_snapshot,omitempty"` // JSON, partial keys and <<PRESENCE>> allowed
}

// ScenarioEvent describes one transport event. Exactly one field is set.
type ScenarioEvent struct {
	Adapter         string               `yaml:"adapter,omitempty"`
	Advertisement   *AdvertisementSpec   `yaml:"advertisement,omitempty"`
	Connected       string               `yaml:"connected,omitempty"`
	ConnectFailed   *PeerFailureSpec     `yaml:"connect_failed,omitempty"`
	Disconnected    *PeerFailureSpec     `yaml:"disconnected,omitempty"`
	Services        *ServicesSpec        `yaml:"services,omitempty"`
	Characteristics *CharacteristicsSpec `yaml:"characteristics,omitempty"`
	Value           *ValueSpec           `yaml:"value,omitempty"`
}

type AdvertisementSpec struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name,omitempty"`
	Services []string `yaml:"services,omitempty"`
	RSSI     int      `yaml:"rssi,omitempty"`
}

// PeerFailureSpec identifies a device and an optional error cause.
type PeerFailureSpec struct {
	ID    string `yaml:"id"`
	Error string `yaml:"error,omitempty"`
}

type ServicesSpec struct {
	ID       string        `yaml:"id"`
	Services []ServiceSpec `yaml:"services,omitempty"`
	Error    string        `yaml:"error,omitempty"`
}

type ServiceSpec struct {
	UUID string `yaml:"uuid"`
	Name string `yaml:"name,omitempty"`
}

type CharacteristicsSpec struct {
	ID      string     `yaml:"id"`
	Service string     `yaml:"service"`
	Chars   []CharSpec `yaml:"chars,omitempty"`
	Error   string     `yaml:"error,omitempty"`
}

type CharSpec struct {
	UUID       string `yaml:"uuid"`
	Notifiable bool   `yaml:"notifiable,omitempty"`
}

type ValueSpec struct {
	ID   string `yaml:"id"`
	Char string `yaml:"char"`
	Data []byte `yaml:"data"`
}

func (e *ScenarioEvent) build() transport.Event {
	switch {
	case e.Adapter != "":
		return transport.AdapterStateEvent{State: transport.AdapterState(e.Adapter)}
	case e.Advertisement != nil:
		a := e.Advertisement
		return transport.AdvertisementEvent{
			ID:           a.ID,
			Name:         a.Name,
			ServiceUUIDs: a.Services,
			RSSI:         a.RSSI,
		}
	case e.Connected != "":
		return transport.ConnectedEvent{ID: e.Connected}
	case e.ConnectFailed != nil:
		return transport.ConnectFailedEvent{
			ID:    e.ConnectFailed.ID,
			Cause: specError(e.ConnectFailed.Error, "connect failed"),
		}
	case e.Disconnected != nil:
		return transport.DisconnectedEvent{
			ID:    e.Disconnected.ID,
			Cause: specError(e.Disconnected.Error, ""),
		}
	case e.Services != nil:
		ev := transport.ServicesDiscoveredEvent{
			ID:  e.Services.ID,
			Err: specError(e.Services.Error, ""),
		}
		for _, svc := range e.Services.Services {
			ev.Services = append(ev.Services, transport.Service{UUID: svc.UUID, Name: svc.Name})
		}
		return ev
	case e.Characteristics != nil:
		ev := transport.CharacteristicsDiscoveredEvent{
			ID:      e.Characteristics.ID,
			Service: transport.Service{UUID: e.Characteristics.Service},
			Err:     specError(e.Characteristics.Error, ""),
		}
		for _, ch := range e.Characteristics.Chars {
			ev.Characteristics = append(ev.Characteristics, transport.Characteristic{
				ServiceUUID: e.Characteristics.Service,
				UUID:        ch.UUID,
				Notifiable:  ch.Notifiable,
			})
		}
		return ev
	case e.Value != nil:
		return transport.CharacteristicValueEvent{
			ID:             e.Value.ID,
			Characteristic: transport.Characteristic{UUID: e.Value.Char},
			Data:           e.Value.Data,
		}
	}
	return nil
}

// specError turns a YAML error string into an error value. An empty string
// with a fallback yields the fallback, without one it yields nil.
func specError(msg, fallback string) error {
	if msg == "" {
		if fallback == "" {
			return nil
		}
		msg = fallback
	}
	return errors.New(msg)
}

// SessionSuite runs YAML scenarios against a fresh Session per case, wired to
// a FakeCentral and a FakeClock. Embed it in a testify suite:
//
//	type scanSuite struct{ testutils.SessionSuite }
//
//	func (s *scanSuite) TestAutoScan() {
//		s.RunScenariosFromYAML(`
//	        test_cases:
//	          - name: "scan starts on power on"
//	            steps:
//	              - event: {adapter: poweredOn}
//	                expect_calls: ["scan(180d)"]
//	    `)
//	}
type SessionSuite struct {
	suite.Suite

	Central *FakeCentral
	Clock   *FakeClock
	Session *session.Session
	JSON    *JSONAsserter
}

// RunScenariosFromYAML parses scenario definitions and runs each as a
// subtest. The YAML is dedented first so it can live inline in test sources.
func (s *SessionSuite) RunScenariosFromYAML(yamlContent string) {
	var doc struct {
		TestCases []Scenario `yaml:"test_cases"`
	}
	err := yaml.Unmarshal([]byte(Dedent(yamlContent)), &doc)
	s.Require().NoError(err, "failed to parse YAML scenarios")
	s.Require().NotEmpty(doc.TestCases, "no test cases in YAML")

	for _, sc := range doc.TestCases {
		scenario := sc
		s.Run(scenario.Name, func() {
			s.runScenario(scenario)
		})
	}
}

func (s *SessionSuite) runScenario(sc Scenario) {
	s.Central = NewFakeCentral()
	s.Clock = NewFakeClock(ScenarioStartTime)

	opts := session.DefaultOptions()
	sc.Options.apply(opts)
	opts.Clock = s.Clock

	s.Session = session.New(s.Central, opts, NewTestLogger())
	defer s.Session.Close()

	s.JSON = NewJSONAsserter(s.T()).WithOptions(
		WithIgnoredFields("last_seen", "heart_rate_at", "battery_at"),
	)

	for i, step := range sc.Steps {
		s.runStep(i, step)
	}
}

func (s *SessionSuite) runStep(i int, step ScenarioStep) {
	var cmdErr error
	switch {
	case step.Command != "":
		switch step.Command {
		case "start_scan":
			cmdErr = s.Session.StartScan()
		case "restart_scan":
			cmdErr = s.Session.RestartScan()
		case "stop_scan":
			cmdErr = s.Session.StopScan()
		case "disconnect":
			cmdErr = s.Session.Disconnect()
		case "close":
			cmdErr = s.Session.Close()
		default:
			s.Require().Failf("bad scenario", "step %d: unknown command %q", i, step.Command)
		}
	case step.ConnectTo != "":
		cmdErr = s.Session.ConnectTo(step.ConnectTo)
	case step.Event != nil:
		ev := step.Event.build()
		s.Require().NotNil(ev, "step %d: empty event", i)
		s.Session.HandleEvent(ev)
	case step.Advance > 0:
		s.Clock.Advance(step.Advance)
	}

	if step.ExpectError != "" {
		s.Require().Error(cmdErr, "step %d expected an error", i)
		s.Contains(cmdErr.Error(), step.ExpectError, "step %d", i)
	} else {
		s.Require().NoError(cmdErr, "step %d", i)
	}
	if step.ExpectCalls != nil {
		s.Equal(step.ExpectCalls, s.Central.TakeCalls(), "step %d central calls", i)
	}
	if step.ExpectStatus != "" {
		s.Equal(step.ExpectStatus, s.Session.Snapshot().Reading.Status, "step %d status", i)
	}
	if step.ExpectSnapshot != "" {
		s.JSON.Assert(MustJSON(s.Session.Snapshot()), step.ExpectSnapshot)
	}
}

// Dedent strips the common leading indentation so YAML blocks can be written
// inline in Go sources.
func Dedent(s string) string {
	const tabWidth = 4
	lines := strings.Split(s, "\n")

	minIndent := -1
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		indent := 0
		for _, ch := range line {
			if ch == ' ' {
				indent++
			} else if ch == '\t' {
				indent += tabWidth
			} else {
				break
			}
		}
		if minIndent == -1 || indent < minIndent {
			minIndent = indent
		}
	}
	if minIndent <= 0 {
		return strings.ReplaceAll(s, "\t", strings.Repeat(" ", tabWidth))
	}

	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			out = append(out, "")
			continue
		}
		indent, j := 0, 0
		for j < len(line) && indent < minIndent {
			if line[j] == ' ' {
				indent++
			} else if line[j] == '\t' {
				indent += tabWidth
			} else {
				break
			}
			j++
		}
		out = append(out, strings.Repeat(" ", indent-minIndent)+strings.ReplaceAll(line[j:], "\t", strings.Repeat(" ", tabWidth)))
	}
	return strings.Join(out, "\n")
}
