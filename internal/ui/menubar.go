package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"pulse.klederson.com/internal/config"
	"pulse.klederson.com/internal/state"
)

// RenderMenuBar renders the top menu bar.
func RenderMenuBar(width int, phase state.Phase, enabled bool) string {
	title := fmt.Sprintf(" %s v%s ", config.AppName, config.AppVersion)

	keys := []struct{ key, label string }{
		{"R", "econnect"},
		{"G", "lobal"},
		{"O", "verride"},
		{"M", "ode"},
		{"E", "xport"},
		{"Q", "uit"},
	}

	menu := ""
	for _, k := range keys {
		menu += "  " + StyleMenuKey.Render("["+k.key+"]") + StyleMenuLabel.Render(k.label)
	}

	global := StyleCheckOn.Render("HUD ON")
	if !enabled {
		global = StyleCheckOff.Render("HUD OFF")
	}

	left := StyleMenuKey.Render(title) + menu
	right := RenderPhase(phase) + "  " + global + " "

	gap := width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}
	return StyleMenuBar.Width(width).Render(left + strings.Repeat(" ", gap) + right)
}

// RenderPhase renders the connection indicator.
func RenderPhase(p state.Phase) string {
	label := strings.ToUpper(p.String())
	switch p {
	case state.Connected:
		return StylePhaseConnected.Render(label)
	case state.Connecting, state.Scanning:
		return StylePhasePending.Render(label)
	default:
		return StylePhaseDown.Render(label)
	}
}
