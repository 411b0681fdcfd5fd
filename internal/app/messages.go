package app

import (
	"time"

	"pulse.klederson.com/internal/settings"
	"pulse.klederson.com/internal/state"
)

// TickMsg triggers a frame update for animation.
type TickMsg time.Time

// SettingsMsg carries the latest settings from the store.
type SettingsMsg struct {
	Settings settings.Settings
}

// SampleMsg forwards a sample from the bus into the model.
type SampleMsg struct {
	Sample state.Sample
}

// FlashMsg shows a short notice in the status bar.
type FlashMsg string

// ErrMsg reports a failed background command.
type ErrMsg struct {
	Err error
}
