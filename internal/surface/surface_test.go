package surface

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pulse.klederson.com/internal/bus"
	"pulse.klederson.com/internal/settings"
	"pulse.klederson.com/internal/state"
)

var now = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

type env struct {
	cfg   *settings.MemoryStore
	store *state.Store
	bus   *bus.Bus
}

func newEnv(initial settings.Settings) *env {
	return &env{
		cfg:   settings.NewMemoryStore(initial),
		store: state.NewStore(),
		bus:   bus.New(16, nil),
	}
}

func (e *env) mount(t *testing.T, origin string) *Surface {
	t.Helper()
	s := New(origin, e.cfg, e.store, e.bus, Options{Now: func() time.Time { return now }})
	require.NoError(t, s.Mount(context.Background()))
	t.Cleanup(s.Destroy)
	return s
}

func (e *env) save(t *testing.T, fn func(settings.Settings) settings.Settings) {
	t.Helper()
	_, err := settings.Update(context.Background(), e.cfg, fn)
	require.NoError(t, err)
}

func connected(v float64) state.SharedState {
	return state.SharedState{Phase: state.Connected, DeviceID: "H10"}.WithValue(v)
}

func TestSurface_VisibilityOnMount(t *testing.T) {
	off := settings.Default()
	off.GloballyEnabled = false
	e := newEnv(off.WithOverride("a.com", settings.ForceOn))

	require.True(t, e.mount(t, "a.com").View().Visible)
	require.False(t, e.mount(t, "b.com").View().Visible)

	on := settings.Default().WithOverride("a.com", settings.ForceOff)
	e = newEnv(on)
	require.False(t, e.mount(t, "a.com").View().Visible)
	require.True(t, e.mount(t, "b.com").View().Visible)
}

func TestSurface_HiddenKeepsOnlySettingsSubscription(t *testing.T) {
	off := settings.Default()
	off.GloballyEnabled = false
	e := newEnv(off)
	s := e.mount(t, "a.com")

	require.False(t, s.View().Visible)
	require.Zero(t, e.store.Subscribers())
	require.Zero(t, e.bus.Subscribers())

	e.save(t, func(c settings.Settings) settings.Settings {
		return c.WithOverride("a.com", settings.ForceOn)
	})
	require.True(t, s.View().Visible)
	require.Equal(t, 1, e.store.Subscribers())
	require.Equal(t, 1, e.bus.Subscribers())

	e.save(t, func(c settings.Settings) settings.Settings {
		return c.WithOverride("a.com", settings.ForceOff)
	})
	require.False(t, s.View().Visible)
	require.Zero(t, e.store.Subscribers())
	require.Zero(t, e.bus.Subscribers())

	// the settings subscription survived the hide
	e.save(t, func(c settings.Settings) settings.Settings {
		return c.WithOverride("a.com", settings.Inherit)
	})
	require.False(t, s.View().Visible)
	e.save(t, func(c settings.Settings) settings.Settings {
		c.GloballyEnabled = true
		return c
	})
	require.True(t, s.View().Visible)
	require.Equal(t, 2, s.View().Mounts)
}

func TestSurface_LayoutChangeRemounts(t *testing.T) {
	e := newEnv(settings.Default())
	s := e.mount(t, "a.com")
	first := s.View()

	e.save(t, func(c settings.Settings) settings.Settings {
		c.StreamURL = "ws://10.0.0.2:8765"
		return c
	})
	require.Equal(t, first.NodeID, s.View().NodeID, "non-layout change updates in place")

	e.save(t, func(c settings.Settings) settings.Settings {
		c.Position = settings.BottomLeft
		return c
	})
	v := s.View()
	require.NotEqual(t, first.NodeID, v.NodeID)
	require.Equal(t, 2, v.Mounts)
	require.Equal(t, settings.BottomLeft, v.Position)
	require.Equal(t, 1, e.store.Subscribers(), "old node released its subscriptions")
	require.Equal(t, 1, e.bus.Subscribers())
}

func TestSurface_PlaceholderUnlessConnected(t *testing.T) {
	e := newEnv(settings.Default())
	s := e.mount(t, "a.com")
	require.Equal(t, Placeholder, s.View().Display())

	e.store.Write(connected(72))
	require.Equal(t, "72", s.View().Display())

	e.store.Write(state.SharedState{Phase: state.Disconnected}.WithValue(72))
	v := s.View()
	require.Equal(t, Placeholder, v.Display())
	require.False(t, v.HasValue)
}

func TestSurface_SeedsFromSnapshot(t *testing.T) {
	cfg := settings.Default()
	cfg.DisplayMode = settings.DisplayGraph
	e := newEnv(cfg)
	e.store.Write(connected(64))

	s := e.mount(t, "a.com")
	v := s.View()
	require.Equal(t, "64", v.Display())
	require.Equal(t, "H10", v.Device)
	require.NotNil(t, v.Graph)
	require.Equal(t, 1, v.Graph.Len())
}

func TestSurface_SampleEventsFeedGraph(t *testing.T) {
	cfg := settings.Default()
	cfg.DisplayMode = settings.DisplayGraph
	e := newEnv(cfg)
	s := e.mount(t, "a.com")

	e.bus.Publish(bus.StatusEvent{Phase: state.Connected})
	for i := 0; i < 3; i++ {
		ts := now.Add(time.Duration(i-3) * time.Second).UnixMilli()
		e.bus.Publish(bus.SampleEvent{Sample: state.Sample{Value: float64(70 + i), Timestamp: ts}})
	}

	require.Eventually(t, func() bool {
		v := s.View()
		return v.Graph != nil && v.Graph.Len() == 3 && v.Display() == "72"
	}, time.Second, time.Millisecond)
}

func TestSurface_StatusEventUpdatesIndicatorOnly(t *testing.T) {
	e := newEnv(settings.Default())
	s := e.mount(t, "a.com")
	e.store.Write(connected(80))

	e.bus.Publish(bus.StatusEvent{Phase: state.Scanning})
	require.Eventually(t, func() bool { return s.View().Phase == state.Scanning }, time.Second, time.Millisecond)
	require.Equal(t, Placeholder, s.View().Display())
}

func TestSurface_DestroyReleasesEverything(t *testing.T) {
	e := newEnv(settings.Default())
	var changes int
	s := New("a.com", e.cfg, e.store, e.bus, Options{
		Now:      func() time.Time { return now },
		OnChange: func(View) { changes++ },
	})
	require.NoError(t, s.Mount(context.Background()))
	require.Equal(t, 1, e.store.Subscribers())

	s.Destroy()
	s.Destroy()
	require.Zero(t, e.store.Subscribers())
	require.Zero(t, e.bus.Subscribers())

	before := changes
	e.save(t, func(c settings.Settings) settings.Settings {
		c.Size = settings.SizeLarge
		return c
	})
	e.store.Write(connected(90))
	require.Equal(t, before, changes)
	require.False(t, s.View().Visible)
}

func TestSurface_InPlaceUpdatePinsGraphBounds(t *testing.T) {
	cfg := settings.Default()
	cfg.DisplayMode = settings.DisplayGraph
	e := newEnv(cfg)
	s := e.mount(t, "a.com")
	id := s.View().NodeID

	lo, hi := 50, 150
	e.save(t, func(c settings.Settings) settings.Settings {
		c.GraphMinValue, c.GraphMaxValue = &lo, &hi
		return c
	})
	v := s.View()
	require.Equal(t, id, v.NodeID)
	require.Equal(t, 50.0, v.Graph.Bounds().Min)
	require.Equal(t, 150.0, v.Graph.Bounds().Max)
}
