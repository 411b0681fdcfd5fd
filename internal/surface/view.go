package surface

import (
	"strconv"

	"pulse.klederson.com/internal/graph"
	"pulse.klederson.com/internal/settings"
	"pulse.klederson.com/internal/state"
)

// View is an immutable snapshot of a surface for drawing.
type View struct {
	Origin  string
	Visible bool
	NodeID  string // changes on every remount
	Mounts  int

	Mode     settings.DisplayMode
	Position settings.Position
	Size     settings.Size
	Opacity  float64

	Phase  state.Phase
	Device string

	// Value and HasValue are only set while connected.
	Value    float64
	HasValue bool

	// Graph is a private copy, nil unless the mode is graph.
	Graph *graph.Window
}

// Display is the value text, or Placeholder.
func (v View) Display() string {
	if !v.HasValue {
		return Placeholder
	}
	return strconv.Itoa(int(v.Value + 0.5))
}

func (s *Surface) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{Origin: s.origin, Mounts: s.mounts}
	n := s.node
	if n == nil {
		return v
	}

	v.Visible = true
	v.NodeID = n.id
	v.Mode = n.layout.DisplayMode
	v.Position = n.layout.Position
	v.Size = n.layout.Size
	v.Opacity = n.layout.Opacity
	v.Phase = n.phase
	v.Device = n.device
	if n.phase == state.Connected && n.value != nil {
		v.Value = *n.value
		v.HasValue = true
	}
	if n.window != nil {
		v.Graph = n.window.Clone()
	}
	return v
}
