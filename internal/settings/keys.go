package settings

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrUnknownKey = errors.New("unknown settings key")

// Keys lists the settable keys by their file names.
var Keys = []string{
	"stream_url",
	"display_mode",
	"position",
	"size",
	"opacity",
	"graph_window_seconds",
	"graph_min_value",
	"graph_max_value",
	"globally_enabled",
}

// Set returns a copy of s with key parsed from value. The graph bounds accept
// "none" to clear them. The result is not normalized.
func Set(s Settings, key, value string) (Settings, error) {
	out := s.Clone()
	value = strings.TrimSpace(value)

	var err error
	switch strings.ReplaceAll(strings.ToLower(key), "-", "_") {
	case "stream_url":
		out.StreamURL = value
	case "display_mode":
		out.DisplayMode, err = ParseDisplayMode(value)
	case "position":
		out.Position, err = ParsePosition(value)
	case "size":
		out.Size, err = ParseSize(value)
	case "opacity":
		out.Opacity, err = strconv.ParseFloat(value, 64)
	case "graph_window_seconds":
		out.GraphWindowSeconds, err = strconv.Atoi(value)
	case "graph_min_value":
		out.GraphMinValue, err = parseOptionalInt(value)
	case "graph_max_value":
		out.GraphMaxValue, err = parseOptionalInt(value)
	case "globally_enabled":
		out.GloballyEnabled, err = strconv.ParseBool(value)
	default:
		return s, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	if err != nil {
		return s, fmt.Errorf("%s: %w", key, err)
	}
	return out, nil
}

func parseOptionalInt(v string) (*int, error) {
	if v == "" || strings.EqualFold(v, "none") {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, err
	}
	return &n, nil
}
