package ui

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"pulse.klederson.com/internal/config"
	"pulse.klederson.com/internal/state"
)

// ConnDetail is the upstream connection as the detail panel shows it.
type ConnDetail struct {
	Phase         state.Phase
	Device        string
	URL           string
	AutoReconnect bool
	NextDelay     time.Duration
	Value         float64
	HasValue      bool
	History       []float64 // recent values, oldest first
}

// RenderDetailPanel renders the connection detail panel under the page list.
func RenderDetailPanel(d ConnDetail, width, height int) string {
	innerW := width - 4
	if innerW < 20 {
		innerW = 20
	}

	title := StylePanelTitle.Render("UPSTREAM")
	sep := StyleSeparator.Render(strings.Repeat("-", innerW))
	lines := []string{title, sep}

	labelSty := lipgloss.NewStyle().Foreground(ColorMidGreen)
	valSty := lipgloss.NewStyle().Foreground(ColorMatrixGreen).Bold(true)

	device := d.Device
	if device == "" {
		device = "-"
	}
	auto := "on"
	if !d.AutoReconnect {
		auto = "stopped"
	}
	fields := []struct{ label, value string }{
		{"URL", d.URL},
		{"Device", device},
		{"Retry", auto},
		{"Backoff", d.NextDelay.String()},
	}
	lines = append(lines, labelSty.Render(fmt.Sprintf(" %-8s", "Phase"))+RenderPhase(d.Phase))
	for _, f := range fields {
		v := truncRaw(f.value, max(innerW-10, 4))
		lines = append(lines, labelSty.Render(fmt.Sprintf(" %-8s", f.label))+valSty.Render(v))
	}
	lines = append(lines, "")

	barWidth := max(innerW-12, 6)
	value := "--"
	if d.HasValue {
		value = fmt.Sprintf("%.0f", d.Value)
	}
	lines = append(lines, labelSty.Render(" BPM ")+renderRateBar(d.Value, d.HasValue, barWidth)+StyleValue.Render(" "+value))

	if len(d.History) > 0 {
		lines = append(lines, "", labelSty.Render(" History:"))
		spark := renderSparkline(d.History, max(innerW-2, 4))
		lines = append(lines, " "+lipgloss.NewStyle().Foreground(ColorHeartMid).Render(spark))
	}

	innerH := max(height-2, 1)
	if len(lines) > innerH {
		lines = lines[:innerH]
	}
	return StylePanelBorder.Width(width - 2).Height(innerH).Render(strings.Join(lines, "\n"))
}

// renderRateBar maps the physiological range onto a filled bar.
func renderRateBar(bpm float64, ok bool, width int) string {
	ratio := 0.0
	if ok {
		ratio = (bpm - config.ClampMin) / (config.ClampMax - config.ClampMin)
	}
	ratio = math.Min(math.Max(ratio, 0), 1)
	filled := int(math.Round(ratio * float64(width)))

	bar := strings.Repeat("|", filled) + strings.Repeat("-", width-filled)
	filledPart := lipgloss.NewStyle().Foreground(zoneColor(bpm)).Render(bar[:filled])
	emptyPart := lipgloss.NewStyle().Foreground(ColorDimGreen).Render(bar[filled:])
	return StyleHelp.Render("[") + filledPart + emptyPart + StyleHelp.Render("]")
}

func zoneColor(bpm float64) lipgloss.Color {
	switch {
	case bpm >= 170:
		return ColorError
	case bpm >= 130:
		return ColorWarning
	case bpm >= 100:
		return ColorHeart
	default:
		return ColorGreen
	}
}

func renderSparkline(values []float64, width int) string {
	if len(values) == 0 {
		return ""
	}

	chars := []byte{'_', '.', '-', '~', '^'}

	// Take last `width` values
	start := 0
	if len(values) > width {
		start = len(values) - width
	}
	values = values[start:]

	minV, maxV := values[0], values[0]
	for _, v := range values {
		minV = math.Min(minV, v)
		maxV = math.Max(maxV, v)
	}
	rng := maxV - minV
	if rng < 1 {
		rng = 1
	}

	var sb strings.Builder
	for _, v := range values {
		idx := int((v - minV) / rng * float64(len(chars)-1))
		sb.WriteByte(chars[clampInt(idx, 0, len(chars)-1)])
	}
	return sb.String()
}
