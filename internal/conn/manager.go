package conn

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"pulse.klederson.com/internal/bus"
	"pulse.klederson.com/internal/config"
	"pulse.klederson.com/internal/metrics"
	"pulse.klederson.com/internal/settings"
	"pulse.klederson.com/internal/state"
)

// ErrStopped is returned by requests made after Run has returned.
var ErrStopped = errors.New("connection manager stopped")

// Options configures a Manager. Zero values pick production defaults.
type Options struct {
	Dialer   Dialer
	Clock    Clock
	Policy   Policy
	Liveness time.Duration // coarse resume tick; negative disables it
	Metrics  metrics.Collector
	Logger   *zap.Logger
}

// Manager drives Step from a single goroutine and runs its effects. Shared
// state writes and bus publishes caused by a request are complete before the
// request returns. Store subscribers must not call back into the Manager
// synchronously.
type Manager struct {
	store   *state.Store
	bus     *bus.Bus
	dialer  Dialer
	clock   Clock
	live    time.Duration
	metrics metrics.Collector
	logger  *zap.Logger

	inputs  chan request
	stopped chan struct{}
	running atomic.Bool

	// owned by the Run goroutine
	st     State
	conns  map[uint64]Conn
	dials  map[uint64]context.CancelFunc
	timers map[uint64]Timer

	mu   sync.RWMutex
	snap State
}

type request struct {
	in   Input
	done chan struct{}
}

func NewManager(store *state.Store, b *bus.Bus, initial settings.Settings, opts Options) *Manager {
	if opts.Dialer == nil {
		opts.Dialer = NewWebSocketDialer()
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Policy == (Policy{}) {
		opts.Policy = DefaultPolicy()
	}
	if opts.Liveness == 0 {
		opts.Liveness = config.LivenessInterval
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNop()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	st := NewState(opts.Policy, initial)
	return &Manager{
		store:   store,
		bus:     b,
		dialer:  opts.Dialer,
		clock:   opts.Clock,
		live:    opts.Liveness,
		metrics: opts.Metrics,
		logger:  opts.Logger.Named("conn"),
		inputs:  make(chan request),
		stopped: make(chan struct{}),
		st:      st,
		conns:   make(map[uint64]Conn),
		dials:   make(map[uint64]context.CancelFunc),
		timers:  make(map[uint64]Timer),
		snap:    st,
	}
}

// Run owns the connection until ctx is cancelled. It may be called once.
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errors.New("connection manager already running")
	}
	defer close(m.stopped)

	var tick <-chan time.Time
	if m.live > 0 {
		t := time.NewTicker(m.live)
		defer t.Stop()
		tick = t.C
	}

	m.logger.Info("connection manager started",
		zap.String("url", m.st.Settings.StreamURL),
		zap.Bool("should_connect", m.st.Settings.ShouldConnect()))
	m.apply(Started{})

	for {
		select {
		case <-ctx.Done():
			m.apply(Stopped{})
			m.shutdown()
			return ctx.Err()
		case req := <-m.inputs:
			m.apply(req.in)
			if req.done != nil {
				close(req.done)
			}
		case <-tick:
			m.apply(Resumed{})
		}
	}
}

// Reconnect force-closes any connection, resets backoff and the failure
// episode, and dials immediately.
func (m *Manager) Reconnect(ctx context.Context) error {
	return m.do(ctx, ReconnectRequested{})
}

// ApplySettings hands the manager a new settings snapshot.
func (m *Manager) ApplySettings(ctx context.Context, s settings.Settings) error {
	return m.do(ctx, SettingsChanged{Settings: s.Clone()})
}

// Resume is the host wake hook: it re-attempts a connect when automatic
// reconnect is still enabled and nothing is open or pending.
func (m *Manager) Resume(ctx context.Context) error {
	return m.do(ctx, Resumed{})
}

// SettingsSource is the change feed Follow listens to.
type SettingsSource interface {
	Subscribe(fn func(settings.Settings)) (unsubscribe func())
}

// Follow forwards every change from src to ApplySettings, in order, until ctx
// ends. The returned function stops forwarding.
func (m *Manager) Follow(ctx context.Context, src SettingsSource) func() {
	changes := make(chan settings.Settings, config.BusBuffer)
	unsub := src.Subscribe(func(s settings.Settings) {
		select {
		case changes <- s:
		case <-ctx.Done():
		}
	})
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case s := <-changes:
				if err := m.ApplySettings(ctx, s); err != nil {
					if ctx.Err() == nil && !errors.Is(err, ErrStopped) {
						m.logger.Warn("apply settings", zap.Error(err))
					}
					return
				}
			}
		}
	}()
	return unsub
}

// Snapshot returns the machine state as of the last processed input.
func (m *Manager) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

func (m *Manager) do(ctx context.Context, in Input) error {
	req := request{in: in, done: make(chan struct{})}
	select {
	case m.inputs <- req:
	case <-m.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.done:
		return nil
	case <-m.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post is used by dial, read and timer goroutines.
func (m *Manager) post(in Input) {
	select {
	case m.inputs <- request{in: in}:
	case <-m.stopped:
		if d, ok := in.(DialSucceeded); ok {
			d.Conn.Close()
		}
	}
}

func (m *Manager) apply(in Input) {
	if d, ok := in.(DialSucceeded); ok {
		delete(m.dials, d.ID)
		m.conns[d.ID] = d.Conn
	}
	if d, ok := in.(DialFailed); ok {
		delete(m.dials, d.ID)
	}
	if cl, ok := in.(Closed); ok {
		if c, ok := m.conns[cl.ID]; ok {
			c.Close()
			delete(m.conns, cl.ID)
		}
	}
	if r, ok := in.(RetryFired); ok {
		delete(m.timers, r.ID)
	}

	next, fx := Step(m.st, in, m.clock.Now())
	m.st = next
	for _, e := range fx {
		m.run(e)
	}

	m.mu.Lock()
	m.snap = next
	m.mu.Unlock()
}

func (m *Manager) run(e Effect) {
	switch e := e.(type) {
	case Dial:
		m.metrics.ConnectAttempt()
		m.logger.Info("connecting", zap.Uint64("conn", e.ID), zap.String("url", e.URL))
		ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
		m.dials[e.ID] = cancel
		go func() {
			defer cancel()
			c, err := m.dialer.Dial(ctx, e.URL)
			if err != nil {
				m.post(DialFailed{ID: e.ID, Err: err})
				return
			}
			m.post(DialSucceeded{ID: e.ID, Conn: c})
		}()

	case Close:
		if cancel, ok := m.dials[e.ID]; ok {
			cancel()
			delete(m.dials, e.ID)
		}
		if c, ok := m.conns[e.ID]; ok {
			if err := c.Close(); err != nil {
				m.logger.Debug("close", zap.Uint64("conn", e.ID), zap.Error(err))
			}
			delete(m.conns, e.ID)
		}

	case StartReading:
		c, ok := m.conns[e.ID]
		if !ok {
			return
		}
		m.logger.Info("connected", zap.Uint64("conn", e.ID))
		go m.read(e.ID, c)

	case ScheduleRetry:
		m.metrics.ReconnectScheduled(e.Delay)
		m.logger.Info("reconnect scheduled", zap.Duration("delay", e.Delay))
		id := e.ID
		m.timers[id] = m.clock.AfterFunc(e.Delay, func() { m.post(RetryFired{ID: id}) })

	case CancelRetry:
		if t, ok := m.timers[e.ID]; ok {
			t.Stop()
			delete(m.timers, e.ID)
		}

	case WriteState:
		m.store.Write(e.State)
		m.metrics.SetPhase(e.State.Phase.String())

	case Publish:
		if _, ok := e.Event.(bus.SampleEvent); ok {
			m.metrics.SampleReceived()
		}
		m.bus.Publish(e.Event)

	case Failed:
		m.metrics.ConnectFailure()
		m.logger.Warn("connection lost", zap.Error(e.Err))

	case RetriesExhausted:
		m.logger.Warn("automatic reconnect stopped, waiting for manual reconnect",
			zap.Duration("elapsed", e.Elapsed))

	case Malformed:
		m.metrics.MalformedMessage()
		m.logger.Warn("dropping malformed message", zap.Error(e.Err))
	}
}

func (m *Manager) read(id uint64, c Conn) {
	for {
		data, err := c.ReadMessage()
		if err != nil {
			m.post(Closed{ID: id, Err: err})
			return
		}
		m.post(Frame{ID: id, Data: data})
	}
}

func (m *Manager) shutdown() {
	for id, cancel := range m.dials {
		cancel()
		delete(m.dials, id)
	}
	for id, c := range m.conns {
		c.Close()
		delete(m.conns, id)
	}
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
	m.logger.Info("connection manager stopped")
}
