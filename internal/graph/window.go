// Package graph keeps a time-bounded buffer of samples and turns it into a
// rolling trace whose vertical axis follows the data.
package graph

import (
	"sort"

	"pulse.klederson.com/internal/config"
	"pulse.klederson.com/internal/state"
)

// Bounds is the vertical axis range in bpm.
type Bounds struct {
	Min, Max float64
}

// Span is Max-Min, never below 1.
func (b Bounds) Span() float64 {
	return max(1, b.Max-b.Min)
}

// DefaultBounds is used until the first sample arrives.
var DefaultBounds = Bounds{Min: config.ClampMin, Max: config.ClampMax}

// Window is a rolling buffer bounded by time, not count. Not safe for
// concurrent use; each render surface owns its own.
type Window struct {
	seconds int
	samples []state.Sample
	bounds  Bounds

	fixedMin *float64
	fixedMax *float64
}

func NewWindow(seconds int) *Window {
	if seconds <= 0 {
		seconds = config.DefaultGraphWindowSeconds
	}
	return &Window{seconds: seconds, bounds: DefaultBounds}
}

// SetFixedBounds pins one or both axis ends. Nil leaves that end automatic.
func (w *Window) SetFixedBounds(lo, hi *int) {
	w.fixedMin, w.fixedMax = nil, nil
	if lo != nil {
		v := float64(*lo)
		w.fixedMin = &v
	}
	if hi != nil {
		v := float64(*hi)
		w.fixedMax = &v
	}
	w.recompute()
}

// Clone returns an independent copy.
func (w *Window) Clone() *Window {
	c := *w
	c.samples = w.Samples()
	return &c
}

func (w *Window) Seconds() int { return w.seconds }

func (w *Window) Len() int { return len(w.samples) }

func (w *Window) Bounds() Bounds { return w.bounds }

// Samples returns a copy of the retained samples, oldest first.
func (w *Window) Samples() []state.Sample {
	out := make([]state.Sample, len(w.samples))
	copy(out, w.samples)
	return out
}

// Insert adds s, evicts everything at or before now-window and recomputes the
// axis bounds. now is in ms since epoch.
func (w *Window) Insert(s state.Sample, now int64) {
	n := len(w.samples)
	if n == 0 || w.samples[n-1].Timestamp <= s.Timestamp {
		w.samples = append(w.samples, s)
	} else {
		i := sort.Search(n, func(i int) bool { return w.samples[i].Timestamp > s.Timestamp })
		w.samples = append(w.samples, state.Sample{})
		copy(w.samples[i+1:], w.samples[i:])
		w.samples[i] = s
	}
	w.Evict(now)
}

// Evict drops samples with timestamp <= now-window and recomputes bounds.
func (w *Window) Evict(now int64) {
	cutoff := now - int64(w.seconds)*1000
	i := sort.Search(len(w.samples), func(i int) bool { return w.samples[i].Timestamp > cutoff })
	if i > 0 {
		w.samples = append(w.samples[:0], w.samples[i:]...)
	}
	w.recompute()
}

// Clear drops every sample and resets the axis.
func (w *Window) Clear() {
	w.samples = w.samples[:0]
	w.recompute()
}

func (w *Window) recompute() {
	b := DefaultBounds
	if len(w.samples) > 0 {
		lo, hi := config.ClampMax, config.ClampMin
		for _, s := range w.samples {
			v := clamp(s.Value)
			lo = min(lo, v)
			hi = max(hi, v)
		}
		b = Bounds{
			Min: clamp(lo - config.AxisPadding),
			Max: clamp(hi + config.AxisPadding),
		}
	}

	fixed := b
	if w.fixedMin != nil {
		fixed.Min = clamp(*w.fixedMin)
	}
	if w.fixedMax != nil {
		fixed.Max = clamp(*w.fixedMax)
	}
	if fixed.Min < fixed.Max {
		b = fixed
	}
	w.bounds = b
}

func clamp(v float64) float64 {
	return min(max(v, config.ClampMin), config.ClampMax)
}
