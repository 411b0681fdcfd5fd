package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"pulse.klederson.com/internal/settings"
	"pulse.klederson.com/internal/surface"
)

type panelSize struct {
	width     int // inner columns
	graphRows int
}

var panelSizes = map[settings.Size]panelSize{
	settings.SizeSmall:  {width: 18, graphRows: 4},
	settings.SizeMedium: {width: 28, graphRows: 6},
	settings.SizeLarge:  {width: 40, graphRows: 9},
}

const axisLabelW = 4

// RenderSurfacePanel draws a mounted surface as a bordered overlay panel.
// Hidden surfaces render as the empty string.
func RenderSurfacePanel(v surface.View, now int64, hb *Heartbeat) string {
	if !v.Visible {
		return ""
	}
	sz, ok := panelSizes[v.Size]
	if !ok {
		sz = panelSizes[settings.SizeMedium]
	}

	heart, color := "♡", string(ColorHeartDim)
	if v.HasValue && hb != nil {
		heart, color = hb.Glyph()
	}
	heartSty := lipgloss.NewStyle().Foreground(Fade(lipgloss.Color(color), v.Opacity)).Bold(true)
	valueSty := StyleValue.Foreground(Fade(ColorHeart, v.Opacity))
	detailSty := StyleDetail.Foreground(Fade(ColorMidGreen, v.Opacity))

	head := heartSty.Render(heart) + " " + valueSty.Render(v.Display())
	if v.Mode == settings.DisplayMinimal {
		return panelBorder(v.Opacity).Render(head)
	}

	lines := []string{head + detailSty.Render(" bpm")}
	status := v.Phase.String()
	if v.Device != "" {
		status += " · " + v.Device
	}
	lines = append(lines, detailSty.Render(truncRaw(status, sz.width)))

	if v.Mode == settings.DisplayGraph && v.Graph != nil {
		cols := sz.width - axisLabelW
		tr := v.Graph.Render(now, float64(cols), float64(sz.graphRows))
		rows := strings.Split(RenderGraph(tr, v.Opacity), "\n")
		for i, r := range rows {
			label := strings.Repeat(" ", axisLabelW)
			switch i {
			case 0:
				label = fmt.Sprintf("%3.0f┤", tr.Bounds.Max)
			case len(rows) - 1:
				label = fmt.Sprintf("%3.0f┤", tr.Bounds.Min)
			}
			lines = append(lines, detailSty.Render(label)+r)
		}
		lines = append(lines, detailSty.Render(fmt.Sprintf("%*s", sz.width, fmt.Sprintf("-%ds", v.Graph.Seconds()))))
	}

	return panelBorder(v.Opacity).Width(sz.width + 2).Render(strings.Join(lines, "\n"))
}

func panelBorder(opacity float64) lipgloss.Style {
	return StylePanelBorder.BorderForeground(Fade(ColorBorderNorm, opacity)).Padding(0, 1)
}

// RenderPage draws one page: the surface panel anchored in its corner, or a
// hint when the page has no visible surface.
func RenderPage(width, height int, origin string, open bool, v surface.View, now int64, hb *Heartbeat) string {
	innerW, innerH := max(width-2, 1), max(height-2, 2)

	title := StylePanelTitle.Render(origin)
	var body string
	if panel := RenderSurfacePanel(v, now, hb); panel != "" {
		body = PlaceInCorner(innerW, innerH-1, v.Position, panel)
	} else {
		hint := "surface hidden"
		if !open {
			hint = "page closed ([N] to reopen)"
		}
		body = lipgloss.Place(innerW, innerH-1, lipgloss.Center, lipgloss.Center, StyleHelp.Render(hint))
	}
	return StylePanelActive.Width(innerW).Height(innerH).Render(title + "\n" + body)
}
