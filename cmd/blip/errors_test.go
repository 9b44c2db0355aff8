package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/srg/blip/internal/session"
)

func TestFormatUserError(t *testing.T) {
	// GOAL: Verify known failure kinds become actionable messages and unknown
	// errors pass through untouched

	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "adapter not ready",
			err:      &session.Failure{Kind: session.AdapterNotReady, Msg: "Bluetooth is powered off"},
			expected: "Bluetooth is not ready - check that the adapter is powered on and access is authorized",
		},
		{
			name:     "unknown device",
			err:      &session.Failure{Kind: session.UnknownDevice, Msg: "device aa:bb was not discovered in this scan round"},
			expected: "device aa:bb was not discovered in this scan round - run 'blip scan' to list reachable devices",
		},
		{
			name:     "connect failed",
			err:      &session.Failure{Kind: session.ConnectFailed, Msg: "connecting to aa:bb: radio busy"},
			expected: "could not connect: connecting to aa:bb: radio busy",
		},
		{
			name:     "discovery failed",
			err:      &session.Failure{Kind: session.DiscoveryFailed, Msg: "scan start: hci down"},
			expected: "scan failed: scan start: hci down",
		},
		{
			name:     "session closed",
			err:      session.ErrClosed,
			expected: "the session is already shut down",
		},
		{
			name:     "wrapped failure is still recognized",
			err:      fmt.Errorf("watch: %w", session.ErrClosed),
			expected: "the session is already shut down",
		},
		{
			name:     "deadline exceeded",
			err:      context.DeadlineExceeded,
			expected: "timed out waiting for the device",
		},
		{
			name:     "plain error passes through",
			err:      errors.New("something odd"),
			expected: "something odd",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatUserError(tt.err))
		})
	}
}
