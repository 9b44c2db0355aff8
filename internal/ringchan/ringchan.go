// Package ringchan provides a bounded channel-like buffer with
// overwrite-oldest semantics. Producers never block: when the buffer is full
// the oldest element is discarded. It backs the transport event streams and
// the session snapshot feed, where a slow consumer must never stall radio
// callbacks.
package ringchan

import (
	"sync"
	"sync/atomic"
)

// RingChannel wraps a buffered channel so that writers always make progress.
//
// Readers can range over C() like a normal channel, or use
// Receive/TryReceive when they want the Received counter maintained.
type RingChannel[T any] struct {
	mu      sync.RWMutex
	ch      chan T
	closed  bool
	metrics Metrics
}

// New creates a RingChannel with the given capacity.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel. Consumers can range over it
// until Close. Reads via C bypass the Received counter.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// TrySend attempts to insert without blocking or dropping.
// Returns false if the buffer is full or the channel is closed.
func (rc *RingChannel[T]) TrySend(v T) bool {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	if rc.closed {
		return false
	}
	select {
	case rc.ch <- v:
		rc.metrics.addSent(1)
		return true
	default:
		return false
	}
}

// ForceSend inserts an item, discarding the oldest buffered element when
// full. It never blocks. Returns true when an element was dropped to make
// room. Sends after Close are silently discarded.
func (rc *RingChannel[T]) ForceSend(v T) bool {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	if rc.closed {
		return false
	}
	dropped := false
	for {
		select {
		case rc.ch <- v:
			rc.metrics.addSent(1)
			return dropped
		default:
		}
		select {
		case <-rc.ch:
			rc.metrics.addDropped(1)
			dropped = true
		default:
		}
	}
}

// Receive blocks until a value is available or the channel is closed.
// The ok result is false once the channel is closed and drained.
func (rc *RingChannel[T]) Receive() (v T, ok bool) {
	v, ok = <-rc.ch
	if ok {
		rc.metrics.addReceived(1)
	}
	return
}

// TryReceive attempts a non-blocking receive.
// Returns (zero, false) if no value is ready.
func (rc *RingChannel[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-rc.ch:
		if ok {
			rc.metrics.addReceived(1)
		}
		return
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Cap returns the buffer capacity.
func (rc *RingChannel[T]) Cap() int {
	return cap(rc.ch)
}

// Close closes the channel. Idempotent; late sends become no-ops rather
// than panics, since radio callbacks may still be in flight during teardown.
func (rc *RingChannel[T]) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.closed {
		return
	}
	rc.closed = true
	close(rc.ch)
}

// GetMetrics returns a snapshot of the counters. Reads are atomic.
func (rc *RingChannel[T]) GetMetrics() Metrics {
	return Metrics{
		Sent:     atomic.LoadInt64(&rc.metrics.Sent),
		Dropped:  atomic.LoadInt64(&rc.metrics.Dropped),
		Received: atomic.LoadInt64(&rc.metrics.Received),
	}
}

// Metrics tracks channel activity with lock-free counters.
type Metrics struct {
	Sent     int64 // values accepted into the buffer
	Dropped  int64 // values evicted to make room
	Received int64 // values consumed via Receive/TryReceive
}

func (m *Metrics) addSent(n int) {
	atomic.AddInt64(&m.Sent, int64(n))
}

func (m *Metrics) addDropped(n int) {
	atomic.AddInt64(&m.Dropped, int64(n))
}

func (m *Metrics) addReceived(n int) {
	atomic.AddInt64(&m.Received, int64(n))
}
