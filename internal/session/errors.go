package session

import "fmt"

// FailureKind classifies session failures. Nothing in this taxonomy is
// fatal: failures surface on the status line and in the diagnostics counters.
type FailureKind string

const (
	AdapterNotReady FailureKind = "adapter_not_ready"
	DiscoveryFailed FailureKind = "discovery_failed"
	ConnectFailed   FailureKind = "connect_failed"
	UnknownDevice   FailureKind = "unknown_device"
	SessionClosed   FailureKind = "session_closed"
)

// Failure is a classified session failure.
type Failure struct {
	Kind FailureKind
	Msg  string
}

// Error implements the error interface.
func (e *Failure) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Is allows errors.Is to compare Failure values by Kind.
func (e *Failure) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Failure)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Predefined sentinel errors for failure kinds.
var (
	ErrAdapterNotReady = &Failure{Kind: AdapterNotReady}
	ErrDiscoveryFailed = &Failure{Kind: DiscoveryFailed}
	ErrConnectFailed   = &Failure{Kind: ConnectFailed}
	ErrUnknownDevice   = &Failure{Kind: UnknownDevice}
	ErrClosed          = &Failure{Kind: SessionClosed}
)

// failf builds a Failure with a formatted message.
func failf(kind FailureKind, format string, args ...interface{}) *Failure {
	return &Failure{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}
