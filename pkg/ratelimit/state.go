// Package ratelimit gates outbound calls so that every worker of a batch job
// shares one request budget.
package ratelimit

import (
	"time"
)

// WindowState is a point-in-time view of a SlidingWindow.
type WindowState struct {
	// WindowStart is the time of the oldest grant still inside the window.
	// Zero when no grant is in the window.
	WindowStart time.Time `json:"window_start"`

	// Count is the number of permits granted inside the trailing window.
	Count int `json:"count"`

	// MaxPerWindow is the configured permit budget per window.
	MaxPerWindow int `json:"max_per_window"`

	// Window is the length of the trailing window.
	Window time.Duration `json:"window"`
}

// Saturated reports whether the next Acquire would have to wait.
func (s WindowState) Saturated() bool {
	return s.Count >= s.MaxPerWindow
}

// TimeUntilReset returns how long until the oldest grant leaves the window,
// measured from now. Returns 0 if the window is not saturated.
func (s WindowState) TimeUntilReset(now time.Time) time.Duration {
	if !s.Saturated() || s.WindowStart.IsZero() {
		return 0
	}
	d := s.WindowStart.Add(s.Window).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
