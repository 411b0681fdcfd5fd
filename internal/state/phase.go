package state

import (
	"fmt"
	"strings"
)

// Phase is the connection lifecycle state. Exactly one holds at a time.
type Phase int

const (
	Disconnected Phase = iota
	Connecting
	Scanning
	Connected
)

func (p Phase) String() string {
	switch p {
	case Connecting:
		return "connecting"
	case Scanning:
		return "scanning"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ParsePhase maps the upstream status strings onto a Phase.
func ParsePhase(s string) (Phase, error) {
	switch strings.ToLower(s) {
	case "disconnected":
		return Disconnected, nil
	case "connecting":
		return Connecting, nil
	case "scanning":
		return Scanning, nil
	case "connected":
		return Connected, nil
	}
	return Disconnected, fmt.Errorf("unknown status %q", s)
}

// Sample is one timestamped reading. Treat as immutable.
type Sample struct {
	Value     float64
	Timestamp int64     // ms since epoch
	RR        []float64 // inter-beat intervals in ms, passed through untouched
}

// SharedState is the current derived state. Readers must not assume it is
// fresh; re-read after any notification.
type SharedState struct {
	Phase     Phase
	DeviceID  string
	LastValue *float64
}

// Default is the power-on state.
func Default() SharedState {
	return SharedState{Phase: Disconnected}
}

// Value returns the last value and whether one exists.
func (s SharedState) Value() (float64, bool) {
	if s.LastValue == nil {
		return 0, false
	}
	return *s.LastValue, true
}

// WithValue returns a copy carrying v as the last value.
func (s SharedState) WithValue(v float64) SharedState {
	s.LastValue = &v
	return s
}
