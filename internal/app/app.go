package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"pulse.klederson.com/internal/bus"
	"pulse.klederson.com/internal/config"
	"pulse.klederson.com/internal/conn"
	"pulse.klederson.com/internal/graph"
	"pulse.klederson.com/internal/settings"
	"pulse.klederson.com/internal/state"
	"pulse.klederson.com/internal/surface"
	"pulse.klederson.com/internal/ui"
)

const flashFor = 3 * time.Second

// Connection is the part of the connection manager the HUD drives.
type Connection interface {
	Reconnect(ctx context.Context) error
	Snapshot() conn.State
}

// Deps are the long-lived components the HUD hosts pages on.
type Deps struct {
	Settings  settings.Store
	States    *state.Store
	Bus       *bus.Bus
	Conn      Connection
	Logger    *zap.Logger
	Origins   []string
	ExportDir string
	Now       func() time.Time
}

// page is one simulated host page; it holds at most one surface.
type page struct {
	origin  string
	surface *surface.Surface // nil once closed
}

// shared holds state shared between the Bubble Tea model copies and main.go.
// Because Bubble Tea uses value receivers, pointer fields ensure all copies
// see the same underlying data.
type shared struct {
	ctx     context.Context
	deps    Deps
	pages   []*page
	heart   *ui.Heartbeat
	history *graph.Window // upstream samples for the detail sparkline
	unsub   []func()
}

// AppModel is the root Bubble Tea model for the HUD.
type AppModel struct {
	width  int
	height int
	cursor int

	cfg     settings.Settings
	conn    conn.State
	flash   string
	flashAt time.Time

	shared *shared
}

// New creates the model with one page per origin. Surfaces are mounted by
// Init once the program runs.
func New(ctx context.Context, d Deps) AppModel {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.ExportDir == "" {
		d.ExportDir = "."
	}

	sh := &shared{
		ctx:     ctx,
		deps:    d,
		heart:   ui.NewHeartbeat(d.Now()),
		history: graph.NewWindow(config.HistorySeconds),
	}
	seen := make(map[string]bool)
	for _, o := range d.Origins {
		o = strings.TrimSpace(o)
		if o == "" || seen[o] {
			continue
		}
		seen[o] = true
		sh.pages = append(sh.pages, &page{origin: o, surface: sh.newSurface(o)})
	}
	if len(sh.pages) == 0 {
		sh.pages = append(sh.pages, &page{origin: config.DefaultOrigin, surface: sh.newSurface(config.DefaultOrigin)})
	}

	return AppModel{
		cfg:    settings.Default(),
		conn:   d.Conn.Snapshot(),
		shared: sh,
	}
}

func (sh *shared) newSurface(origin string) *surface.Surface {
	return surface.New(origin, sh.deps.Settings, sh.deps.States, sh.deps.Bus, surface.Options{
		Now:    sh.deps.Now,
		Logger: sh.deps.Logger,
	})
}

// Start feeds settings changes and bus samples into p. Must be called before
// p.Run().
func (m *AppModel) Start(p *tea.Program) {
	m.listen(p.Send)
}

func (m *AppModel) listen(send func(tea.Msg)) {
	sh := m.shared
	sh.unsub = append(sh.unsub, sh.deps.Settings.Subscribe(func(s settings.Settings) {
		send(SettingsMsg{Settings: s})
	}))

	events, unsub := sh.deps.Bus.Subscribe()
	sh.unsub = append(sh.unsub, unsub)
	go func() {
		for ev := range events {
			if e, ok := ev.(bus.SampleEvent); ok {
				send(SampleMsg{Sample: e.Sample})
			}
		}
	}()
}

func (m AppModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.mountCmd(m.openSurfaces()...),
	)
}

func (m AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case TickMsg:
		m.tick(time.Time(msg))
		return m, tickCmd()

	case SettingsMsg:
		m.cfg = msg.Settings
		return m, nil

	case SampleMsg:
		m.shared.history.Insert(msg.Sample, msg.Sample.Timestamp)
		return m, nil

	case FlashMsg:
		m.setFlash(string(msg))
		return m, nil

	case ErrMsg:
		m.shared.deps.Logger.Warn("command failed", zap.Error(msg.Err))
		m.setFlash("error: " + msg.Err.Error())
		return m, nil
	}

	return m, nil
}

func (m *AppModel) tick(now time.Time) {
	sh := m.shared
	st := sh.deps.States.Read()
	rate := 0.0
	if v, ok := st.Value(); ok && st.Phase == state.Connected {
		rate = v
	}
	sh.heart.SetRate(rate)
	sh.heart.Update(now)

	for _, s := range m.openSurfaces() {
		s.Tick()
	}
	m.conn = sh.deps.Conn.Snapshot()

	if m.flash != "" && now.Sub(m.flashAt) > flashFor {
		m.flash = ""
	}
}

func (m *AppModel) setFlash(s string) {
	m.flash = s
	m.flashAt = m.shared.deps.Now()
}

func (m AppModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	n := len(m.shared.pages)
	pg := m.shared.pages[m.cursor]

	switch msg.String() {
	case "q", "Q", "ctrl+c":
		m.shutdown()
		return m, tea.Quit

	case "tab", "down", "j":
		m.cursor = (m.cursor + 1) % n

	case "shift+tab", "up", "k":
		m.cursor = (m.cursor - 1 + n) % n

	case "r", "R":
		return m, m.reconnectCmd()

	case "g", "G":
		return m, m.updateSettings(func(s settings.Settings) settings.Settings {
			s.GloballyEnabled = !s.GloballyEnabled
			return s
		})

	case "o", "O":
		origin := pg.origin
		return m, m.updateSettings(func(s settings.Settings) settings.Settings {
			return s.WithOverride(origin, s.OverrideFor(origin).Next())
		})

	case "m", "M":
		return m, m.updateSettings(func(s settings.Settings) settings.Settings {
			s.DisplayMode = s.DisplayMode.Next()
			return s
		})

	case "p", "P":
		return m, m.updateSettings(func(s settings.Settings) settings.Settings {
			s.Position = s.Position.Next()
			return s
		})

	case "s", "S":
		return m, m.updateSettings(func(s settings.Settings) settings.Settings {
			s.Size = s.Size.Next()
			return s
		})

	case "x", "X":
		if pg.surface != nil {
			pg.surface.Destroy()
			pg.surface = nil
		}

	case "n", "N":
		if pg.surface == nil {
			pg.surface = m.shared.newSurface(pg.origin)
			return m, m.mountCmd(pg.surface)
		}

	case "e", "E":
		return m, m.exportCmd(pg)
	}

	return m, nil
}

func (m AppModel) openSurfaces() []*surface.Surface {
	var out []*surface.Surface
	for _, pg := range m.shared.pages {
		if pg.surface != nil {
			out = append(out, pg.surface)
		}
	}
	return out
}

func (m *AppModel) shutdown() {
	sh := m.shared
	for _, pg := range sh.pages {
		if pg.surface != nil {
			pg.surface.Destroy()
			pg.surface = nil
		}
	}
	for _, fn := range sh.unsub {
		fn()
	}
	sh.unsub = nil
}

func (m AppModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing " + config.AppName + "..."
	}
	sh := m.shared

	bodyH := m.height - 2 // menu + status
	if bodyH < 8 {
		bodyH = 8
	}
	pageW := m.width * 3 / 4
	if pageW < 30 {
		pageW = 30
	}
	sideW := m.width - pageW
	if sideW < 24 {
		sideW = 24
		pageW = m.width - sideW
	}

	now := sh.deps.Now()
	st := sh.deps.States.Read()

	pg := sh.pages[m.cursor]
	v := surface.View{Origin: pg.origin}
	if pg.surface != nil {
		v = pg.surface.View()
	}
	pageView := ui.RenderPage(pageW, bodyH, pg.origin, pg.surface != nil, v, now.UnixMilli(), sh.heart)

	entries, showing := m.pageEntries()
	listH := bodyH / 2
	value, hasValue := st.Value()
	detail := ui.ConnDetail{
		Phase:         st.Phase,
		Device:        st.DeviceID,
		URL:           m.conn.Settings.StreamURL,
		AutoReconnect: m.conn.AutoReconnect,
		NextDelay:     m.conn.Delay,
		Value:         value,
		HasValue:      hasValue && st.Phase == state.Connected,
		History:       historyValues(sh.history),
	}
	side := lipgloss.JoinVertical(lipgloss.Left,
		ui.RenderPageList(entries, sideW, listH, m.cursor),
		ui.RenderDetailPanel(detail, sideW, bodyH-listH),
	)

	menuBar := ui.RenderMenuBar(m.width, st.Phase, m.cfg.GloballyEnabled)
	statusBar := ui.RenderStatusBar(m.width, ui.StatusInfo{
		URL:           m.conn.Settings.StreamURL,
		Device:        st.DeviceID,
		AutoReconnect: m.conn.AutoReconnect,
		RetryPending:  m.conn.RetryID != 0,
		NextDelay:     m.conn.Delay,
		Surfaces:      showing,
		Flash:         m.flash,
	})

	return ui.ComposeLayout(menuBar, pageView, side, statusBar)
}

func (m AppModel) pageEntries() ([]ui.PageEntry, int) {
	entries := make([]ui.PageEntry, 0, len(m.shared.pages))
	showing := 0
	for _, pg := range m.shared.pages {
		e := ui.PageEntry{
			Origin:   pg.origin,
			Open:     pg.surface != nil,
			Override: m.cfg.OverrideFor(pg.origin),
		}
		if pg.surface != nil {
			e.Visible = pg.surface.View().Visible
		}
		if e.Visible {
			showing++
		}
		entries = append(entries, e)
	}
	return entries, showing
}

func (m AppModel) mountCmd(surfaces ...*surface.Surface) tea.Cmd {
	sh := m.shared
	return func() tea.Msg {
		for _, s := range surfaces {
			if err := s.Mount(sh.ctx); err != nil {
				return ErrMsg{Err: fmt.Errorf("mount %s: %w", s.Origin(), err)}
			}
		}
		cfg, err := sh.deps.Settings.Load(sh.ctx)
		if err != nil {
			return ErrMsg{Err: err}
		}
		return SettingsMsg{Settings: cfg}
	}
}

func (m AppModel) updateSettings(fn func(settings.Settings) settings.Settings) tea.Cmd {
	sh := m.shared
	return func() tea.Msg {
		if _, err := settings.Update(sh.ctx, sh.deps.Settings, fn); err != nil {
			return ErrMsg{Err: err}
		}
		return nil
	}
}

func (m AppModel) reconnectCmd() tea.Cmd {
	sh := m.shared
	return func() tea.Msg {
		if err := sh.deps.Conn.Reconnect(sh.ctx); err != nil {
			return ErrMsg{Err: err}
		}
		return FlashMsg("reconnecting")
	}
}

func (m AppModel) exportCmd(pg *page) tea.Cmd {
	if pg.surface == nil {
		return flashCmd("page closed")
	}
	v := pg.surface.View()
	if v.Graph == nil {
		return flashCmd("export needs a visible graph surface ([M] for graph mode)")
	}
	dir := m.shared.deps.ExportDir
	now := m.shared.deps.Now()
	return func() tea.Msg {
		path := filepath.Join(dir, exportName(v.Origin, now))
		f, err := os.Create(path)
		if err != nil {
			return ErrMsg{Err: err}
		}
		if err := v.Graph.WritePNG(f, now.UnixMilli(), config.ExportWidth, config.ExportHeight); err != nil {
			f.Close()
			return ErrMsg{Err: err}
		}
		if err := f.Close(); err != nil {
			return ErrMsg{Err: err}
		}
		return FlashMsg("exported " + path)
	}
}

// exportName builds a filesystem-safe PNG name for origin.
func exportName(origin string, now time.Time) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			return r
		}
		return '_'
	}, origin)
	return fmt.Sprintf("pulse-%s-%s.png", safe, now.Format("20060102-150405"))
}

func historyValues(w *graph.Window) []float64 {
	samples := w.Samples()
	if len(samples) == 0 {
		return nil
	}
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Value
	}
	return out
}

func flashCmd(s string) tea.Cmd {
	return func() tea.Msg { return FlashMsg(s) }
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second/time.Duration(config.TargetFPS), func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}
