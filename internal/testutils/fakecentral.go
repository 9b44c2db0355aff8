package testutils

import (
	"fmt"
	"strings"
	"sync"

	"github.com/srg/blip/internal/transport"
)

// FakeCentral implements transport.Central for state machine tests. Every
// operation is recorded in call order; tests inject synchronous errors per
// operation name. It never emits events on its own and never calls back into
// the consumer, matching the contract real centrals honor.
type FakeCentral struct {
	mu     sync.Mutex
	calls  []string
	errs   map[string]error
	events chan transport.Event
	closed bool
}

var _ transport.Central = (*FakeCentral)(nil)

func NewFakeCentral() *FakeCentral {
	return &FakeCentral{
		errs:   make(map[string]error),
		events: make(chan transport.Event, 64),
	}
}

// Fail makes the named operation ("scan", "connect", "read", ...) return err
// until cleared with Fail(op, nil).
func (f *FakeCentral) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, op)
		return
	}
	f.errs[op] = err
}

// Emit queues ev on the Events channel for consumers that pump it.
func (f *FakeCentral) Emit(ev transport.Event) {
	f.events <- ev
}

// Calls returns a copy of the operations recorded so far.
func (f *FakeCentral) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// TakeCalls returns the operations recorded since the previous call and
// clears the record. The result is never nil.
func (f *FakeCentral) TakeCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.calls
	if out == nil {
		out = []string{}
	}
	f.calls = nil
	return out
}

func (f *FakeCentral) record(op, call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.errs[op]
}

func (f *FakeCentral) Scan(filter transport.ScanFilter) error {
	return f.record("scan", fmt.Sprintf("scan(%s)", strings.Join(filter.ServiceUUIDs, ",")))
}

func (f *FakeCentral) StopScan() error {
	return f.record("stopScan", "stopScan")
}

func (f *FakeCentral) Connect(id string) error {
	return f.record("connect", fmt.Sprintf("connect(%s)", id))
}

func (f *FakeCentral) Disconnect(id string) error {
	return f.record("disconnect", fmt.Sprintf("disconnect(%s)", id))
}

func (f *FakeCentral) DiscoverServices(id string) error {
	return f.record("discoverServices", fmt.Sprintf("discoverServices(%s)", id))
}

func (f *FakeCentral) DiscoverCharacteristics(id string, svc transport.Service, charUUIDs []string) error {
	return f.record("discoverCharacteristics",
		fmt.Sprintf("discoverCharacteristics(%s,%s,[%s])", id, svc.UUID, strings.Join(charUUIDs, ",")))
}

func (f *FakeCentral) Subscribe(id string, ch transport.Characteristic) error {
	return f.record("subscribe", fmt.Sprintf("subscribe(%s,%s)", id, ch.UUID))
}

func (f *FakeCentral) Read(id string, ch transport.Characteristic) error {
	return f.record("read", fmt.Sprintf("read(%s,%s)", id, ch.UUID))
}

func (f *FakeCentral) Events() <-chan transport.Event {
	return f.events
}

func (f *FakeCentral) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}
