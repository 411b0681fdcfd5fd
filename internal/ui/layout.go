package ui

import (
	"github.com/charmbracelet/lipgloss"

	"pulse.klederson.com/internal/settings"
)

// ComposeLayout joins the page area and the side list horizontally,
// with menu bar on top and status bar on bottom.
func ComposeLayout(menuBar, page, sideList, statusBar string) string {
	middle := lipgloss.JoinHorizontal(lipgloss.Top, page, sideList)
	return lipgloss.JoinVertical(lipgloss.Left, menuBar, middle, statusBar)
}

// PlaceInCorner positions panel inside a width x height area at pos.
func PlaceInCorner(width, height int, pos settings.Position, panel string) string {
	h, v := lipgloss.Right, lipgloss.Top
	switch pos {
	case settings.TopLeft:
		h, v = lipgloss.Left, lipgloss.Top
	case settings.BottomLeft:
		h, v = lipgloss.Left, lipgloss.Bottom
	case settings.BottomRight:
		h, v = lipgloss.Right, lipgloss.Bottom
	}
	return lipgloss.Place(width, height, h, v, panel)
}
