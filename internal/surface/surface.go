// Package surface is the per-page heart-rate panel. A Surface decides whether
// it should show on its origin, mounts or unmounts itself as settings change,
// and keeps a drawable View current from the shared state and the bus.
package surface

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pulse.klederson.com/internal/bus"
	"pulse.klederson.com/internal/graph"
	"pulse.klederson.com/internal/settings"
	"pulse.klederson.com/internal/state"
)

// Placeholder is shown instead of a value whenever the phase is not connected.
const Placeholder = "--"

// SettingsSource is the part of a settings store a surface needs.
type SettingsSource interface {
	Load(ctx context.Context) (settings.Settings, error)
	Subscribe(fn func(settings.Settings)) func()
}

type Options struct {
	Now      func() time.Time
	Logger   *zap.Logger
	OnChange func(View)
}

// Surface is safe for concurrent use. OnChange runs without internal locks
// held and may be called from the connection manager's goroutine.
type Surface struct {
	origin string
	src    SettingsSource
	store  *state.Store
	bus    *bus.Bus
	now    func() time.Time
	logger *zap.Logger

	mu          sync.Mutex
	onChange    func(View)
	cur         settings.Settings
	node        *node
	unsubConfig func()
	destroyed   bool
	mounts      int
}

// node is one mounted panel. A remount always builds a new one.
type node struct {
	id       string
	layout   settings.Settings
	phase    state.Phase
	device   string
	value    *float64
	window   *graph.Window
	unsubSt  func()
	unsubBus func()
}

func New(origin string, src SettingsSource, store *state.Store, b *bus.Bus, opts Options) *Surface {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Surface{
		origin:   origin,
		src:      src,
		store:    store,
		bus:      b,
		now:      opts.Now,
		logger:   opts.Logger.Named("surface").With(zap.String("origin", origin)),
		onChange: opts.OnChange,
	}
}

func (s *Surface) Origin() string { return s.origin }

// OnChange replaces the change hook.
func (s *Surface) OnChange(fn func(View)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Mount fetches settings, subscribes to settings changes and, if the origin
// is visible, builds the panel.
func (s *Surface) Mount(ctx context.Context) error {
	cfg, err := s.src.Load(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.destroyed || s.unsubConfig != nil {
		s.mu.Unlock()
		return nil
	}
	s.cur = cfg
	s.unsubConfig = s.src.Subscribe(s.apply)
	if cfg.Visible(s.origin) {
		s.mountLocked()
	} else {
		s.logger.Debug("hidden on mount")
	}
	s.mu.Unlock()

	s.changed()
	return nil
}

// Refresh re-fetches settings and re-evaluates visibility.
func (s *Surface) Refresh(ctx context.Context) error {
	cfg, err := s.src.Load(ctx)
	if err != nil {
		return err
	}
	s.apply(cfg)
	return nil
}

// Destroy releases every subscription, including the settings one.
func (s *Surface) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	s.unmountLocked()
	if s.unsubConfig != nil {
		s.unsubConfig()
		s.unsubConfig = nil
	}
	s.mu.Unlock()

	s.changed()
}

func (s *Surface) apply(cfg settings.Settings) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	prev := s.cur
	s.cur = cfg.Clone()
	visible := s.cur.Visible(s.origin)

	switch {
	case s.node != nil && !visible:
		s.logger.Debug("hiding")
		s.unmountLocked()
	case s.node == nil && visible:
		s.logger.Debug("showing")
		s.mountLocked()
	case s.node != nil && settings.LayoutChanged(prev, s.cur):
		s.logger.Debug("layout changed, remounting")
		s.unmountLocked()
		s.mountLocked()
	case s.node != nil:
		s.node.layout = s.cur.Clone()
		if s.node.window != nil {
			s.node.window.SetFixedBounds(s.cur.GraphMinValue, s.cur.GraphMaxValue)
		}
	}
	s.mu.Unlock()

	s.changed()
}

func (s *Surface) mountLocked() {
	n := &node{
		id:     uuid.NewString(),
		layout: s.cur.Clone(),
	}
	if n.layout.DisplayMode == settings.DisplayGraph {
		n.window = graph.NewWindow(n.layout.GraphWindowSeconds)
		n.window.SetFixedBounds(n.layout.GraphMinValue, n.layout.GraphMaxValue)
	}

	snap := s.store.Read()
	n.phase = snap.Phase
	n.device = snap.DeviceID
	if v, ok := snap.Value(); ok {
		n.value = &v
		if n.window != nil {
			now := s.now().UnixMilli()
			n.window.Insert(state.Sample{Value: v, Timestamp: now}, now)
		}
	}

	s.node = n
	s.mounts++
	n.unsubSt = s.store.Subscribe(func(st state.SharedState) { s.onState(n, st) })
	events, unsub := s.bus.Subscribe()
	n.unsubBus = unsub
	go s.pump(n, events)
}

func (s *Surface) unmountLocked() {
	n := s.node
	if n == nil {
		return
	}
	s.node = nil
	n.unsubSt()
	n.unsubBus()
}

func (s *Surface) pump(n *node, events <-chan bus.Event) {
	for ev := range events {
		switch ev := ev.(type) {
		case bus.StatusEvent:
			s.update(n, func() {
				n.phase = ev.Phase
				n.device = ev.Device
			})
		case bus.SampleEvent:
			s.update(n, func() {
				v := ev.Sample.Value
				n.value = &v
				if n.window != nil {
					n.window.Insert(ev.Sample, s.now().UnixMilli())
				}
			})
		case bus.SettingsChangedEvent:
			if err := s.Refresh(context.Background()); err != nil {
				s.logger.Warn("refresh settings", zap.Error(err))
			}
		}
	}
}

func (s *Surface) onState(n *node, st state.SharedState) {
	s.update(n, func() {
		n.phase = st.Phase
		n.device = st.DeviceID
		if v, ok := st.Value(); ok {
			n.value = &v
		}
	})
}

// update applies fn if n is still the mounted node.
func (s *Surface) update(n *node, fn func()) {
	s.mu.Lock()
	if s.node != n {
		s.mu.Unlock()
		return
	}
	fn()
	s.mu.Unlock()
	s.changed()
}

// Tick evicts samples that aged out of the graph window without a new insert.
func (s *Surface) Tick() {
	s.mu.Lock()
	if s.node == nil || s.node.window == nil {
		s.mu.Unlock()
		return
	}
	s.node.window.Evict(s.now().UnixMilli())
	s.mu.Unlock()
}

func (s *Surface) changed() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn(s.View())
	}
}
