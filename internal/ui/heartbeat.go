package ui

import (
	"math"
	"time"

	"pulse.klederson.com/internal/config"
)

// Heartbeat manages the beating heart glyph state.
type Heartbeat struct {
	Phase float64 // Position within the current beat [0, 1)
	BPM   float64
	last  time.Time
}

// NewHeartbeat creates a heartbeat at the slowest animation rate.
func NewHeartbeat(now time.Time) *Heartbeat {
	return &Heartbeat{BPM: config.HeartBPMFloor, last: now}
}

// SetRate changes the beat rate. Rates below the floor, including no reading,
// use the floor.
func (h *Heartbeat) SetRate(bpm float64) {
	h.BPM = math.Max(bpm, config.HeartBPMFloor)
}

// Update advances the phase by the time since the previous update.
func (h *Heartbeat) Update(now time.Time) {
	elapsed := now.Sub(h.last).Seconds()
	h.last = now
	if elapsed <= 0 {
		return
	}
	bps := h.BPM / 60.0 // beats per second
	h.Phase = math.Mod(h.Phase+elapsed*bps, 1)
}

// Intensity returns the glow intensity [0, 1]. The beat is a spike at the
// start of the cycle with a linear falloff over its first third.
func (h *Heartbeat) Intensity() float64 {
	const attack = 1.0 / 3
	if h.Phase >= attack {
		return 0
	}
	return 1.0 - h.Phase/attack
}

// Glyph returns the heart character and color for the current phase.
func (h *Heartbeat) Glyph() (string, string) {
	i := h.Intensity()
	switch {
	case i > 0.6:
		return "♥", "#FF2E4D"
	case i > 0.2:
		return "♥", "#C01F38"
	default:
		return "♡", "#5A0E1A"
	}
}
