// Package metrics records connection and delivery counters.
package metrics

import "time"

// Collector receives instrumentation from the connection manager and bus.
type Collector interface {
	ConnectAttempt()
	ConnectFailure()
	SetPhase(phase string)
	SampleReceived()
	MalformedMessage()
	ReconnectScheduled(delay time.Duration)
	BusDropped()
}

// Nop discards everything.
type Nop struct{}

var _ Collector = Nop{}

func NewNop() Nop { return Nop{} }

func (Nop) ConnectAttempt()                  {}
func (Nop) ConnectFailure()                  {}
func (Nop) SetPhase(string)                  {}
func (Nop) SampleReceived()                  {}
func (Nop) MalformedMessage()                {}
func (Nop) ReconnectScheduled(time.Duration) {}
func (Nop) BusDropped()                      {}
