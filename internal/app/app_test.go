package app

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"pulse.klederson.com/internal/bus"
	"pulse.klederson.com/internal/conn"
	"pulse.klederson.com/internal/settings"
	"pulse.klederson.com/internal/state"
)

type fakeConn struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *fakeConn) Reconnect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.err
}

func (c *fakeConn) Snapshot() conn.State {
	return conn.NewState(conn.DefaultPolicy(), settings.Default())
}

type env struct {
	m     AppModel
	store *settings.MemoryStore
	bus   *bus.Bus
	conn  *fakeConn
	msgs  chan tea.Msg
	dir   string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	e := &env{
		store: settings.NewMemoryStore(settings.Default()),
		bus:   bus.New(64, nil),
		conn:  &fakeConn{},
		msgs:  make(chan tea.Msg, 64),
		dir:   t.TempDir(),
	}
	e.m = New(ctx, Deps{
		Settings:  e.store,
		States:    state.NewStore(),
		Bus:       e.bus,
		Conn:      e.conn,
		Origins:   []string{"example.com", "news.site", "example.com"},
		ExportDir: e.dir,
	})
	e.m.listen(func(msg tea.Msg) { e.msgs <- msg })
	e.update(e.m.mountCmd(e.m.openSurfaces()...)())
	t.Cleanup(func() { e.m.shutdown() })
	return e
}

func (e *env) update(msg tea.Msg) tea.Cmd {
	model, cmd := e.m.Update(msg)
	e.m = model.(AppModel)
	return cmd
}

func (e *env) press(k string) tea.Cmd {
	if k == "tab" {
		return e.update(tea.KeyMsg{Type: tea.KeyTab})
	}
	return e.update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)})
}

func (e *env) visible(i int) bool {
	s := e.m.shared.pages[i].surface
	return s != nil && s.View().Visible
}

func TestApp_OnePagePerOrigin(t *testing.T) {
	e := newEnv(t)
	require.Len(t, e.m.shared.pages, 2)
	require.True(t, e.visible(0))
	require.True(t, e.visible(1))
}

func TestApp_GlobalToggleGoesThroughStore(t *testing.T) {
	e := newEnv(t)
	cmd := e.press("g")
	require.NotNil(t, cmd)
	require.Nil(t, cmd())

	cfg, err := e.store.Load(context.Background())
	require.NoError(t, err)
	require.False(t, cfg.GloballyEnabled)
	require.False(t, e.visible(0))
	require.False(t, e.visible(1))

	e.update(<-e.msgs)
	require.False(t, e.m.cfg.GloballyEnabled)
}

func TestApp_OverrideCyclesSelectedPage(t *testing.T) {
	e := newEnv(t)
	e.press("tab")
	require.Equal(t, 1, e.m.cursor)

	e.press("o")()
	cfg, _ := e.store.Load(context.Background())
	require.Equal(t, settings.ForceOn, cfg.OverrideFor("news.site"))
	require.Equal(t, settings.Inherit, cfg.OverrideFor("example.com"))

	e.press("o")()
	require.False(t, e.visible(1))
	require.True(t, e.visible(0))
}

func TestApp_CloseAndReopenPage(t *testing.T) {
	e := newEnv(t)
	e.update(tea.WindowSizeMsg{Width: 120, Height: 40})

	e.press("x")
	require.Nil(t, e.m.shared.pages[0].surface)
	require.Contains(t, e.m.View(), "page closed")

	cmd := e.press("n")
	require.NotNil(t, cmd)
	e.update(cmd())
	require.True(t, e.visible(0))
}

func TestApp_ExportNeedsGraphMode(t *testing.T) {
	e := newEnv(t)
	msg := e.press("e")()
	require.Contains(t, string(msg.(FlashMsg)), "graph mode")

	e.press("m")()
	require.Eventually(t, func() bool {
		return e.m.shared.pages[0].surface.View().Graph != nil
	}, time.Second, time.Millisecond)

	msg = e.press("e")()
	flash := string(msg.(FlashMsg))
	require.True(t, strings.HasPrefix(flash, "exported "))

	info, err := os.Stat(strings.TrimPrefix(flash, "exported "))
	require.NoError(t, err)
	require.Positive(t, info.Size())
}

func TestApp_ReconnectKey(t *testing.T) {
	e := newEnv(t)
	require.Equal(t, FlashMsg("reconnecting"), e.press("r")())

	e.conn.err = errors.New("stopped")
	msg := e.press("r")()
	require.IsType(t, ErrMsg{}, msg)
	e.update(msg)
	require.Equal(t, "error: stopped", e.m.flash)
	require.Equal(t, 2, e.conn.calls)
}

func TestApp_SamplesFeedHistory(t *testing.T) {
	e := newEnv(t)
	e.bus.Publish(bus.SampleEvent{Sample: state.Sample{Value: 71, Timestamp: 1}})

	select {
	case msg := <-e.msgs:
		e.update(msg)
	case <-time.After(time.Second):
		t.Fatal("no sample forwarded")
	}
	require.Equal(t, []float64{71}, historyValues(e.m.shared.history))
}

func TestApp_View(t *testing.T) {
	e := newEnv(t)
	require.Contains(t, e.m.View(), "Initializing")

	e.update(tea.WindowSizeMsg{Width: 120, Height: 40})
	out := e.m.View()
	require.Contains(t, out, "PAGES [2]")
	require.Contains(t, out, "example.com")
	require.Contains(t, out, "UPSTREAM")
}

func TestApp_QuitReleasesSurfaces(t *testing.T) {
	e := newEnv(t)
	cmd := e.press("q")
	require.NotNil(t, cmd)
	require.IsType(t, tea.QuitMsg{}, cmd())
	require.Empty(t, e.m.openSurfaces())
	require.Equal(t, 0, e.bus.Subscribers())
}

func TestApp_HistoryKeepsRecentSamples(t *testing.T) {
	e := newEnv(t)
	base := int64(1_000_000)
	e.update(SampleMsg{Sample: state.Sample{Value: 60, Timestamp: base}})
	e.update(SampleMsg{Sample: state.Sample{Value: 64, Timestamp: base + 60_000}})
	require.Equal(t, []float64{60, 64}, historyValues(e.m.shared.history))

	// 120s after the first sample it falls out of the sparkline.
	e.update(SampleMsg{Sample: state.Sample{Value: 70, Timestamp: base + 120_000}})
	require.Equal(t, []float64{64, 70}, historyValues(e.m.shared.history))
}

func TestExportName(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.Equal(t, "pulse-my_site.com-20260102-030405.png", exportName("my/site.com", now))
}
