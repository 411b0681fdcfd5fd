package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// StatusInfo is what the bottom bar reports about the upstream connection.
type StatusInfo struct {
	URL           string
	Device        string
	AutoReconnect bool
	RetryPending  bool
	NextDelay     time.Duration
	Surfaces      int
	Flash         string
}

// RenderStatusBar renders the bottom status bar.
func RenderStatusBar(width int, info StatusInfo) string {
	device := info.Device
	if device == "" {
		device = "-"
	}
	retry := "auto"
	switch {
	case !info.AutoReconnect:
		retry = "manual ([R] to retry)"
	case info.RetryPending:
		retry = fmt.Sprintf("retry scheduled (next backoff %s)", info.NextDelay)
	}

	text := fmt.Sprintf(" %s  Device: %s  Reconnect: %s  Surfaces: %d",
		info.URL, device, retry, info.Surfaces)
	content := StyleStatusBar.Foreground(ColorGreen).Render(text)
	if info.Flash != "" {
		content += "  " + StyleFlash.Render(info.Flash)
	}

	gap := width - lipgloss.Width(content)
	if gap < 0 {
		gap = 0
	}
	return StyleStatusBar.Width(width).Render(content + strings.Repeat(" ", gap))
}
