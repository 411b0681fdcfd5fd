package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/lucasb-eyer/go-colorful"

	"pulse.klederson.com/internal/graph"
)

// RenderGraph rasterizes a trace onto a character grid of tr.Width columns
// by tr.Height rows. Cells on the line get a dot, cells under it are shaded.
func RenderGraph(tr graph.Trace, opacity float64) string {
	cols, rows := int(tr.Width), int(tr.Height)
	if cols < 1 || rows < 1 {
		return ""
	}

	lineSty := lipgloss.NewStyle().Foreground(Fade(ColorHeart, opacity)).Bold(true)
	fillSty := lipgloss.NewStyle().Foreground(Fade(ColorHeartDim, opacity))
	baseSty := lipgloss.NewStyle().Foreground(Fade(ColorMidGreen, opacity))

	// Pre-compute the line row per column; -1 = no data under this column
	lineRow := make([]int, cols)
	for col := range lineRow {
		y, ok := yAt(tr.Line, float64(col)+0.5)
		if !ok {
			lineRow[col] = -1
			continue
		}
		lineRow[col] = clampInt(int(y), 0, rows-1)
	}

	var sb strings.Builder
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			lr := lineRow[col]
			switch {
			case lr < 0:
				sb.WriteByte(' ')
			case row == lr && tr.Baseline:
				sb.WriteString(baseSty.Render("─"))
			case row == lr:
				sb.WriteString(lineSty.Render("•"))
			case row > lr && !tr.Baseline:
				sb.WriteString(fillSty.Render("░"))
			default:
				sb.WriteByte(' ')
			}
		}
		if row < rows-1 {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// yAt interpolates the polyline at x. Columns outside the first and last
// point have no data.
func yAt(line []graph.Point, x float64) (float64, bool) {
	if len(line) == 0 || x < line[0].X || x > line[len(line)-1].X {
		if len(line) == 1 && x >= line[0].X-0.5 && x <= line[0].X+0.5 {
			return line[0].Y, true
		}
		return 0, false
	}
	for i := 0; i+1 < len(line); i++ {
		a, b := line[i], line[i+1]
		if x < a.X || x > b.X {
			continue
		}
		dx := b.X - a.X
		if dx == 0 {
			return b.Y, true
		}
		return a.Y + (b.Y-a.Y)*(x-a.X)/dx, true
	}
	return line[len(line)-1].Y, true
}

// Fade darkens c toward black in proportion to 1 - opacity. A terminal
// cannot blend with what is behind it, so this stands in for transparency.
func Fade(c lipgloss.Color, opacity float64) lipgloss.Color {
	if opacity >= 1 {
		return c
	}
	col, err := colorful.Hex(string(c))
	if err != nil {
		return c
	}
	return lipgloss.Color(col.BlendRgb(colorful.Color{}, 1-opacity).Clamped().Hex())
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
