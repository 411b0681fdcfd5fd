package settings

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"pulse.klederson.com/internal/config"
)

var (
	ErrUnknownDisplayMode = errors.New("unknown display mode")
	ErrUnknownPosition    = errors.New("unknown position")
	ErrUnknownSize        = errors.New("unknown size")
	ErrUnknownOverride    = errors.New("unknown override")
)

// DisplayMode selects how much a surface shows.
type DisplayMode string

const (
	DisplayMinimal  DisplayMode = "minimal"
	DisplayStandard DisplayMode = "standard"
	DisplayGraph    DisplayMode = "graph"
)

// DisplayModes lists modes in cycling order.
var DisplayModes = []DisplayMode{DisplayMinimal, DisplayStandard, DisplayGraph}

// Position is the corner a surface is anchored to.
type Position string

const (
	TopLeft     Position = "top-left"
	TopRight    Position = "top-right"
	BottomLeft  Position = "bottom-left"
	BottomRight Position = "bottom-right"
)

var Positions = []Position{TopLeft, TopRight, BottomRight, BottomLeft}

// Size scales the surface panel.
type Size string

const (
	SizeSmall  Size = "small"
	SizeMedium Size = "medium"
	SizeLarge  Size = "large"
)

var Sizes = []Size{SizeSmall, SizeMedium, SizeLarge}

// Settings is the user-facing configuration shared by the connection manager
// and every render surface.
type Settings struct {
	StreamURL          string              `yaml:"stream_url" json:"streamUrl"`
	DisplayMode        DisplayMode         `yaml:"display_mode" json:"displayMode"`
	Position           Position            `yaml:"position" json:"position"`
	Size               Size                `yaml:"size" json:"size"`
	Opacity            float64             `yaml:"opacity" json:"opacity"`
	GraphWindowSeconds int                 `yaml:"graph_window_seconds" json:"graphWindowSeconds"`
	GraphMinValue      *int                `yaml:"graph_min_value,omitempty" json:"graphMinValue,omitempty"`
	GraphMaxValue      *int                `yaml:"graph_max_value,omitempty" json:"graphMaxValue,omitempty"`
	GloballyEnabled    bool                `yaml:"globally_enabled" json:"globallyEnabled"`
	OriginOverrides    map[string]Override `yaml:"origin_overrides,omitempty" json:"originOverrides,omitempty"`
}

// Default returns first-run settings.
func Default() Settings {
	return Settings{
		StreamURL:          config.DefaultStreamURL,
		DisplayMode:        DisplayStandard,
		Position:           TopRight,
		Size:               SizeMedium,
		Opacity:            config.DefaultOpacity,
		GraphWindowSeconds: config.DefaultGraphWindowSeconds,
		GloballyEnabled:    true,
		OriginOverrides:    map[string]Override{},
	}
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	out := s
	out.OriginOverrides = make(map[string]Override, len(s.OriginOverrides))
	for k, v := range s.OriginOverrides {
		out.OriginOverrides[k] = v
	}
	if s.GraphMinValue != nil {
		v := *s.GraphMinValue
		out.GraphMinValue = &v
	}
	if s.GraphMaxValue != nil {
		v := *s.GraphMaxValue
		out.GraphMaxValue = &v
	}
	return out
}

// Normalize replaces out-of-range or unknown values with defaults and drops
// Inherit overrides, which are the same as no entry.
func (s Settings) Normalize() Settings {
	d := Default()
	out := s.Clone()

	out.StreamURL = strings.TrimSpace(out.StreamURL)
	if out.StreamURL == "" {
		out.StreamURL = d.StreamURL
	}
	if _, err := ParseDisplayMode(string(out.DisplayMode)); err != nil {
		out.DisplayMode = d.DisplayMode
	}
	if _, err := ParsePosition(string(out.Position)); err != nil {
		out.Position = d.Position
	}
	if _, err := ParseSize(string(out.Size)); err != nil {
		out.Size = d.Size
	}
	switch {
	case out.Opacity == 0:
		out.Opacity = d.Opacity
	case out.Opacity < config.MinOpacity:
		out.Opacity = config.MinOpacity
	case out.Opacity > config.MaxOpacity:
		out.Opacity = config.MaxOpacity
	}
	switch {
	case out.GraphWindowSeconds <= 0:
		out.GraphWindowSeconds = d.GraphWindowSeconds
	case out.GraphWindowSeconds < config.MinGraphWindowSeconds:
		out.GraphWindowSeconds = config.MinGraphWindowSeconds
	case out.GraphWindowSeconds > config.MaxGraphWindowSeconds:
		out.GraphWindowSeconds = config.MaxGraphWindowSeconds
	}
	if out.GraphMinValue != nil && out.GraphMaxValue != nil && *out.GraphMinValue >= *out.GraphMaxValue {
		out.GraphMinValue, out.GraphMaxValue = nil, nil
	}
	for origin, o := range out.OriginOverrides {
		if o == Inherit || origin == "" {
			delete(out.OriginOverrides, origin)
		}
	}
	return out
}

// OverrideFor returns the explicit override for origin, Inherit if none.
func (s Settings) OverrideFor(origin string) Override {
	if o, ok := s.OriginOverrides[origin]; ok {
		return o
	}
	return Inherit
}

// WithOverride returns a copy with origin's override replaced. Inherit removes
// the entry.
func (s Settings) WithOverride(origin string, o Override) Settings {
	out := s.Clone()
	if o == Inherit {
		delete(out.OriginOverrides, origin)
	} else {
		out.OriginOverrides[origin] = o
	}
	return out
}

// Visible resolves whether a surface on origin should show.
func (s Settings) Visible(origin string) bool {
	switch s.OverrideFor(origin) {
	case ForceOn:
		return true
	case ForceOff:
		return false
	default:
		return s.GloballyEnabled
	}
}

// ShouldConnect reports whether any surface could be visible, and therefore
// whether an upstream connection is wanted.
func (s Settings) ShouldConnect() bool {
	if s.GloballyEnabled {
		return true
	}
	for _, o := range s.OriginOverrides {
		if o == ForceOn {
			return true
		}
	}
	return false
}

// LayoutChanged reports whether any field that shapes a mounted surface
// differs between a and b. Such changes force a remount.
func LayoutChanged(a, b Settings) bool {
	return a.DisplayMode != b.DisplayMode ||
		a.Position != b.Position ||
		a.Size != b.Size ||
		a.Opacity != b.Opacity ||
		a.GraphWindowSeconds != b.GraphWindowSeconds
}

// Origins returns the origins with explicit overrides, sorted.
func (s Settings) Origins() []string {
	out := make([]string, 0, len(s.OriginOverrides))
	for k := range s.OriginOverrides {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func ParseDisplayMode(v string) (DisplayMode, error) {
	for _, m := range DisplayModes {
		if string(m) == strings.ToLower(v) {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDisplayMode, v)
}

func ParsePosition(v string) (Position, error) {
	for _, p := range Positions {
		if string(p) == strings.ToLower(v) {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPosition, v)
}

func ParseSize(v string) (Size, error) {
	for _, sz := range Sizes {
		if string(sz) == strings.ToLower(v) {
			return sz, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSize, v)
}

// Next helpers cycle through the enum lists; unknown values restart at the
// first entry.

func (m DisplayMode) Next() DisplayMode { return next(DisplayModes, m) }
func (p Position) Next() Position       { return next(Positions, p) }
func (s Size) Next() Size               { return next(Sizes, s) }

func next[T comparable](list []T, cur T) T {
	for i, v := range list {
		if v == cur {
			return list[(i+1)%len(list)]
		}
	}
	return list[0]
}
