// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package lifecycle

// State is the lifecycle state of an assistant reply.
//
//	Queued -> Streaming -> {Complete, Error, StaleTimeout}
//
// Complete, Error and StaleTimeout are terminal. A stale reply that never
// received content ends in Error rather than StaleTimeout.
type State int

const (
	Queued State = iota
	Streaming
	Complete
	Error
	StaleTimeout
)

var stateNames = [...]string{
	Queued:       "queued",
	Streaming:    "streaming",
	Complete:     "complete",
	Error:        "error",
	StaleTimeout: "stale-timeout",
}

// String returns the state name.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == Complete || s == Error || s == StaleTimeout
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
