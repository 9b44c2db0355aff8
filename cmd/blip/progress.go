package main

import (
	"fmt"
	"sync/atomic"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter displays a scan progress line with elapsed or remaining
// time.
//
// Usage:
//
//	p := NewProgressPrinter(...)
//	p.Start()
//	defer p.Stop()
//
// The caller must call Stop to release resources and terminate the internal
// goroutine; failing to do so will leak a goroutine.
//
// A ProgressPrinter is single-use. Start may be called at most once, and Stop
// should be called exactly once. After Stop, the instance cannot be restarted.
type ProgressPrinter struct {
	prefix    string
	startTime time.Time
	ticker    atomic.Pointer[time.Ticker]
	stopChan  chan struct{}
	done      chan struct{} // closed when goroutine exits
	started   atomic.Bool   // ensures Start is called at most once
	countUp   bool          // true for count up, false for countdown
	duration  time.Duration // for countdown mode
}

// NewProgressPrinter creates a progress printer that counts up (shows elapsed time).
func NewProgressPrinter(prefix string) *ProgressPrinter {
	return &ProgressPrinter{
		prefix:  prefix,
		countUp: true,
	}
}

// NewCountdownProgressPrinter creates a progress printer that counts down from the duration.
func NewCountdownProgressPrinter(prefix string, duration time.Duration) *ProgressPrinter {
	return &ProgressPrinter{
		prefix:   prefix,
		duration: duration,
	}
}

// Start begins displaying progress updates in a background goroutine.
// Panics if called more than once on the same ProgressPrinter instance.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}

	p.done = make(chan struct{})
	p.stopChan = make(chan struct{})
	p.startTime = time.Now()
	ticker := time.NewTicker(progressUpdateInterval)
	p.ticker.Store(ticker)

	fmt.Printf("\r%s...   ", p.prefix)

	go func() {
		defer close(p.done)
		for {
			select {
			case <-p.stopChan:
				return
			case <-ticker.C:
				p.printProgress()
			}
		}
	}()
}

func (p *ProgressPrinter) printProgress() {
	elapsed := time.Since(p.startTime)

	var seconds int
	if p.countUp {
		seconds = int(elapsed.Seconds())
	} else {
		remaining := p.duration - elapsed
		if remaining > 0 {
			// Round to the nearest second (add 0.5 before truncating to int)
			// e.g., 3.7s -> 4s, 3.3s -> 3s
			seconds = int(remaining.Seconds() + 0.5)
		}
	}

	if seconds > 0 {
		fmt.Printf("\r%s (%ds)   ", p.prefix, seconds)
	} else {
		fmt.Printf("\r%s...   ", p.prefix)
	}
}

// Stop stops the progress display and clears the line.
// This function is safe to call multiple times and from multiple goroutines.
func (p *ProgressPrinter) Stop() {
	ticker := p.ticker.Swap(nil)
	if ticker == nil {
		return // Already stopped
	}

	ticker.Stop()     // Stop ticker before signaling goroutine
	close(p.stopChan) // Wake up goroutine by closing the channel
	<-p.done          // Wait for the goroutine to finish

	fmt.Print(clearLineSequence)
}
