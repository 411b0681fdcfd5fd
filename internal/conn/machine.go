// Package conn owns the single streaming connection to the upstream source.
//
// The lifecycle is a pure transition function, Step, over an explicit State.
// Manager feeds it inputs from one goroutine and executes the effects it
// returns, so the machine can be tested without sockets or timers.
package conn

import (
	"time"

	"pulse.klederson.com/internal/bus"
	"pulse.klederson.com/internal/config"
	"pulse.klederson.com/internal/settings"
	"pulse.klederson.com/internal/state"
	"pulse.klederson.com/internal/upstream"
)

// Policy holds the reconnection constants.
type Policy struct {
	Initial time.Duration // first retry delay
	Max     time.Duration // delay cap
	Window  time.Duration // automatic retries stop this long after the first failure
}

func DefaultPolicy() Policy {
	return Policy{
		Initial: config.BackoffInitial,
		Max:     config.BackoffMax,
		Window:  config.FailureWindow,
	}
}

// State is everything the connection manager remembers between inputs.
type State struct {
	Policy   Policy
	Settings settings.Settings

	Phase     state.Phase
	Device    string
	LastValue *float64

	// Pending is set while a dial is in flight; Open while a connection is
	// established. ConnID identifies whichever of the two exists.
	Pending bool
	Open    bool
	ConnID  uint64

	Delay         time.Duration // next retry delay
	EpisodeStart  time.Time     // zero outside a failure episode
	AutoReconnect bool
	RetryID       uint64 // scheduled retry timer, zero when none

	seq uint64
}

// NewState returns the power-on machine state.
func NewState(p Policy, s settings.Settings) State {
	return State{
		Policy:        p,
		Settings:      s.Clone(),
		Phase:         state.Disconnected,
		Delay:         p.Initial,
		AutoReconnect: true,
	}
}

// Shared projects the machine state onto the shared state record.
func (s State) Shared() state.SharedState {
	out := state.SharedState{Phase: s.Phase, DeviceID: s.Device}
	if s.LastValue != nil {
		v := *s.LastValue
		out.LastValue = &v
	}
	return out
}

func (s *State) next() uint64 {
	s.seq++
	return s.seq
}

// Inputs

type Input interface{ isInput() }

// Started kicks off the first connect attempt.
type Started struct{}

// Stopped tears everything down for shutdown.
type Stopped struct{}

// ReconnectRequested is the explicit manual reconnect.
type ReconnectRequested struct{}

// SettingsChanged carries a fresh settings snapshot.
type SettingsChanged struct{ Settings settings.Settings }

// Resumed is the liveness signal fired on wake or by the coarse ticker.
type Resumed struct{}

// RetryFired is a reconnect timer expiring.
type RetryFired struct{ ID uint64 }

// DialSucceeded reports a finished dial. Conn is opaque to Step.
type DialSucceeded struct {
	ID   uint64
	Conn Conn
}

type DialFailed struct {
	ID  uint64
	Err error
}

// Closed reports the read side of an open connection ending.
type Closed struct {
	ID  uint64
	Err error
}

// Frame is one inbound message on connection ID.
type Frame struct {
	ID   uint64
	Data []byte
}

func (Started) isInput()            {}
func (Stopped) isInput()            {}
func (ReconnectRequested) isInput() {}
func (SettingsChanged) isInput()    {}
func (Resumed) isInput()            {}
func (RetryFired) isInput()         {}
func (DialSucceeded) isInput()      {}
func (DialFailed) isInput()         {}
func (Closed) isInput()             {}
func (Frame) isInput()              {}

// Effects

type Effect interface{ isEffect() }

// Dial opens connection ID to URL.
type Dial struct {
	ID  uint64
	URL string
}

// Close tears down connection or dial ID.
type Close struct{ ID uint64 }

// StartReading begins the read loop on an opened connection.
type StartReading struct{ ID uint64 }

type ScheduleRetry struct {
	ID    uint64
	Delay time.Duration
}

type CancelRetry struct{ ID uint64 }

// WriteState overwrites the shared state store.
type WriteState struct{ State state.SharedState }

// Publish pushes an event on the bus.
type Publish struct{ Event bus.Event }

// Failed records an unplanned close or failed dial.
type Failed struct{ Err error }

// RetriesExhausted marks the end of automatic retrying for this episode.
type RetriesExhausted struct{ Elapsed time.Duration }

// Malformed records a dropped inbound frame.
type Malformed struct{ Err error }

func (Dial) isEffect()             {}
func (Close) isEffect()            {}
func (StartReading) isEffect()     {}
func (ScheduleRetry) isEffect()    {}
func (CancelRetry) isEffect()      {}
func (WriteState) isEffect()       {}
func (Publish) isEffect()          {}
func (Failed) isEffect()           {}
func (RetriesExhausted) isEffect() {}
func (Malformed) isEffect()        {}

// Step applies one input and returns the next state plus the effects to run,
// in order.
func Step(s State, in Input, now time.Time) (State, []Effect) {
	var fx []Effect

	switch in := in.(type) {
	case Started:
		s, fx = connect(s, fx)

	case Stopped:
		s, fx = teardown(s, fx)
		s.AutoReconnect = false
		s, fx = setPhase(s, fx, state.Disconnected, "")

	case ReconnectRequested:
		s, fx = teardown(s, fx)
		s.Delay = s.Policy.Initial
		s.EpisodeStart = time.Time{}
		s.AutoReconnect = true
		if !s.Settings.ShouldConnect() {
			s, fx = setPhase(s, fx, state.Disconnected, "")
		}
		s, fx = connect(s, fx)

	case SettingsChanged:
		old := s.Settings
		s.Settings = in.Settings.Clone()
		fx = append(fx, Publish{Event: bus.SettingsChangedEvent{}})

		switch {
		case !s.Settings.ShouldConnect():
			s, fx = teardown(s, fx)
			s.Delay = s.Policy.Initial
			s.EpisodeStart = time.Time{}
			s.AutoReconnect = true
			s, fx = setPhase(s, fx, state.Disconnected, "")
		case (s.Open || s.Pending) && old.StreamURL != s.Settings.StreamURL:
			s, fx = teardown(s, fx)
			s.Delay = s.Policy.Initial
			s.EpisodeStart = time.Time{}
			s, fx = connect(s, fx)
		case !old.ShouldConnect():
			s.AutoReconnect = true
			s, fx = connect(s, fx)
		case s.AutoReconnect && s.RetryID == 0:
			s, fx = connect(s, fx)
		}

	case Resumed:
		if s.AutoReconnect {
			s, fx = connect(s, fx)
		}

	case RetryFired:
		if in.ID != s.RetryID {
			break
		}
		s.RetryID = 0
		if s.AutoReconnect {
			s, fx = connect(s, fx)
		}

	case DialSucceeded:
		if !s.Pending || in.ID != s.ConnID {
			fx = append(fx, Close{ID: in.ID})
			break
		}
		s.Pending = false
		s.Open = true
		s.Delay = s.Policy.Initial
		s.EpisodeStart = time.Time{}
		fx = append(fx, StartReading{ID: in.ID})
		s, fx = setPhase(s, fx, state.Connected, "")

	case DialFailed:
		if !s.Pending || in.ID != s.ConnID {
			break
		}
		s, fx = failure(s, fx, in.Err, now)

	case Closed:
		if !s.Open || in.ID != s.ConnID {
			break
		}
		s, fx = failure(s, fx, in.Err, now)

	case Frame:
		if !s.Open || in.ID != s.ConnID {
			break
		}
		msg, err := upstream.Decode(in.Data)
		if err != nil {
			fx = append(fx, Malformed{Err: err})
			break
		}
		switch msg := msg.(type) {
		case upstream.StatusMessage:
			s, fx = setPhase(s, fx, msg.Phase, msg.Device)
		case upstream.DataMessage:
			sample := msg.Sample(now.UnixMilli())
			v := sample.Value
			s.LastValue = &v
			fx = append(fx,
				WriteState{State: s.Shared()},
				Publish{Event: bus.SampleEvent{Sample: sample}},
			)
		}
	}

	return s, fx
}

// connect starts a dial unless one is pending, a connection is open, or no
// surface wants one. The check and the set happen in the same Step call.
func connect(s State, fx []Effect) (State, []Effect) {
	if s.Pending || s.Open || !s.Settings.ShouldConnect() {
		return s, fx
	}
	s, fx = cancelRetry(s, fx)
	s.ConnID = s.next()
	s.Pending = true
	fx = append(fx, Dial{ID: s.ConnID, URL: s.Settings.StreamURL})
	return setPhase(s, fx, state.Connecting, "")
}

// teardown is a planned close: no retry is scheduled.
func teardown(s State, fx []Effect) (State, []Effect) {
	s, fx = cancelRetry(s, fx)
	if s.Open || s.Pending {
		fx = append(fx, Close{ID: s.ConnID})
	}
	s.Open = false
	s.Pending = false
	s.ConnID = 0
	return s, fx
}

func cancelRetry(s State, fx []Effect) (State, []Effect) {
	if s.RetryID != 0 {
		fx = append(fx, CancelRetry{ID: s.RetryID})
		s.RetryID = 0
	}
	return s, fx
}

// failure handles an unplanned close or failed dial.
func failure(s State, fx []Effect, err error, now time.Time) (State, []Effect) {
	s.Open = false
	s.Pending = false
	s.ConnID = 0
	fx = append(fx, Failed{Err: err})
	s, fx = setPhase(s, fx, state.Disconnected, "")

	if !s.AutoReconnect || !s.Settings.ShouldConnect() {
		return s, fx
	}
	if s.EpisodeStart.IsZero() {
		s.EpisodeStart = now
	}
	if elapsed := now.Sub(s.EpisodeStart); elapsed > s.Policy.Window {
		s.AutoReconnect = false
		return s, append(fx, RetriesExhausted{Elapsed: elapsed})
	}

	s, fx = cancelRetry(s, fx)
	s.RetryID = s.next()
	fx = append(fx, ScheduleRetry{ID: s.RetryID, Delay: s.Delay})
	s.Delay = min(s.Delay*2, s.Policy.Max)
	return s, fx
}

func setPhase(s State, fx []Effect, p state.Phase, device string) (State, []Effect) {
	if s.Phase == p && s.Device == device {
		return s, fx
	}
	s.Phase = p
	s.Device = device
	return s, append(fx,
		WriteState{State: s.Shared()},
		Publish{Event: bus.StatusEvent{Phase: p, Device: device}},
	)
}
