package config

import "time"

const (
	// Reconnection
	BackoffInitial   = 1 * time.Second  // First retry delay after an unplanned close
	BackoffMax       = 30 * time.Second // Retry delay cap
	FailureWindow    = 60 * time.Second // Automatic retries stop this long after the first failure
	LivenessInterval = time.Minute      // Coarse resume tick
	DialTimeout      = 10 * time.Second

	// Physiological sanity bounds for the graph axis (bpm)
	ClampMin    = 40.0
	ClampMax    = 220.0
	AxisPadding = 10.0

	// Settings
	DefaultStreamURL          = "ws://127.0.0.1:8765"
	DefaultOpacity            = 0.9
	MinOpacity                = 0.3
	MaxOpacity                = 1.0
	DefaultGraphWindowSeconds = 60
	MinGraphWindowSeconds     = 10
	MaxGraphWindowSeconds     = 600

	// Bridge (upstream source)
	BridgeHost             = "127.0.0.1"
	BridgePort             = 8765
	BroadcastTimeout       = 500 * time.Millisecond
	ScanTimeout            = 5 * time.Second
	NotifySilenceTimeout   = 5 * time.Second // No HR notification for this long counts as a lost link
	SensorReconnectInitial = 1 * time.Second
	SensorReconnectMax     = 30 * time.Second

	// Bus
	BusBuffer = 64

	// HUD
	TargetFPS      = 30
	HeartBPMFloor  = 30.0 // Slowest heart animation rate
	HistorySeconds = 120  // Span of the detail sparkline
	ExportWidth    = 800
	ExportHeight   = 300
	DefaultOrigin  = "example.com"

	// App
	AppName    = "PULSE"
	AppVersion = "1.0"
)
