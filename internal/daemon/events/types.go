// Package events defines the daemon's in-process control events and the typed bus
// that carries them.
package events

import "time"

// RebuildRequested asks for a rebuild soon. Many requests collapse into one RebuildNow.
type RebuildRequested struct {
	// Reason is a short tag such as "change", "signal", "resync" or "config".
	Reason string
	// Path is the file that changed, when known.
	Path string
	// Immediate skips the quiet window.
	Immediate   bool
	RequestedAt time.Time
}

// RebuildNow is emitted by the debouncer when a rebuild should start.
type RebuildNow struct {
	TriggeredAt  time.Time
	RequestCount int
	LastReason   string
	LastPath     string
	FirstRequest time.Time
	LastRequest  time.Time
	// Cause is "quiet", "max_delay", "immediate" or "after_running".
	Cause string
}
