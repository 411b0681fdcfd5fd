package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"pulse.klederson.com/internal/settings"
)

// PageEntry summarizes one page for the side list.
type PageEntry struct {
	Origin   string
	Open     bool // page holds a surface instance
	Visible  bool // surface is mounted and showing
	Override settings.Override
}

// Cursor row style: black text on bright green = unmissable highlight
var cursorRowSty = lipgloss.NewStyle().
	Foreground(lipgloss.Color("#000000")).
	Background(ColorMatrixGreen).
	Bold(true)

var closedPageSty = lipgloss.NewStyle().
	Foreground(ColorDimGreen)

// RenderPageList renders the page list with the cursor row highlighted. The
// title stays fixed at the top; only the entries scroll.
func RenderPageList(pages []PageEntry, width, height, cursor int) string {
	innerW := width - 4
	if innerW < 10 {
		innerW = 10
	}

	title := StylePanelTitle.Render(fmt.Sprintf("PAGES [%d]", len(pages)))
	separator := StyleSeparator.Render(strings.Repeat("-", innerW))
	headerLines := []string{title, separator}

	innerH := height - 2
	if innerH < len(headerLines)+1 {
		innerH = len(headerLines) + 1
	}
	space := innerH - len(headerLines)

	var lines []string
	const linesPerPage = 3 // 2 content + 1 blank
	maxVisible := max(space/linesPerPage, 1)
	viewStart := 0
	if cursor >= maxVisible {
		viewStart = cursor - maxVisible + 1
	}
	for i := viewStart; i < len(pages) && len(lines) < space; i++ {
		lines = append(lines, renderPageEntry(pages[i], innerW, i == cursor)...)
	}
	if len(lines) > space {
		lines = lines[:space]
	}
	for len(lines) < space {
		lines = append(lines, "")
	}

	all := append(headerLines, lines...)
	return StylePanelBorder.Width(width - 2).Height(innerH).Render(strings.Join(all, "\n"))
}

func renderPageEntry(p PageEntry, maxW int, isCursor bool) []string {
	cursor := "  "
	if isCursor {
		cursor = ">>"
	}
	check := "[ ]"
	if p.Visible {
		check = "[x]"
	}
	state := "hidden"
	switch {
	case !p.Open:
		state = "closed"
	case p.Visible:
		state = "showing"
	}

	raw1 := truncRaw(fmt.Sprintf("%s %s %s", cursor, check, p.Origin), maxW)
	raw2 := truncRaw(fmt.Sprintf("     %s  override:%s", state, p.Override), maxW)

	switch {
	case isCursor:
		return []string{cursorRowSty.Render(raw1), cursorRowSty.Render(raw2), ""}
	case !p.Open:
		return []string{closedPageSty.Render(raw1), closedPageSty.Render(raw2), ""}
	}

	checkSty := StyleCheckOff
	if p.Visible {
		checkSty = StyleCheckOn
	}
	override := StyleHelp.Render(p.Override.String())
	if p.Override != settings.Inherit {
		override = StyleOverride.Render(p.Override.String())
	}
	line1 := fmt.Sprintf("   %s %s", checkSty.Render(check), StyleOrigin.Render(p.Origin))
	line2 := fmt.Sprintf("     %s  %s%s", StyleDetail.Render(state), StyleHelp.Render("override:"), override)
	return []string{line1, line2, ""}
}

// truncRaw pads or truncates a raw string to exactly w characters.
func truncRaw(s string, w int) string {
	r := []rune(s)
	if len(r) > w {
		return string(r[:w])
	}
	if len(r) < w {
		return s + strings.Repeat(" ", w-len(r))
	}
	return s
}
