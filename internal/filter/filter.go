// Package filter decides what happens to an incoming notification: dropped,
// stored silently, or escalated to a desktop alert.
package filter

import (
	"time"

	"opsbell/internal/alert"
)

// Decision is the outcome of the preference filter.
type Decision int

const (
	// Suppress drops the notification from the escalation pipeline entirely.
	Suppress Decision = iota
	// DeliverSilently stores the notification without a desktop alert.
	DeliverSilently
	// DeliverDesktop stores the notification and raises a desktop alert.
	DeliverDesktop
)

func (d Decision) String() string {
	switch d {
	case Suppress:
		return "suppress"
	case DeliverSilently:
		return "silent"
	case DeliverDesktop:
		return "desktop"
	}
	return "unknown"
}

// Decide maps (notification, settings, wall clock) to a Decision.
//
// Rules are evaluated in a fixed order; the first match wins:
//  1. disabled category  -> Suppress (absolute, never escalates)
//  2. disabled priority  -> Suppress (absolute)
//  3. desktop kill switch off -> DeliverSilently
//  4. inside quiet hours -> urgent still escalates, everything else is silent
//  5. otherwise          -> DeliverDesktop
//
// The desktop switch is checked before quiet hours so the time computation
// only runs when it can matter.
func Decide(n alert.Notification, s alert.Settings, now time.Time) Decision {
	if !s.CategoryEnabled(n.Category) {
		return Suppress
	}
	if !s.PriorityEnabled(n.Priority) {
		return Suppress
	}
	if !s.EnableDesktop {
		return DeliverSilently
	}
	if s.QuietHours.Enabled && inWindow(now, s.QuietHours.Start, s.QuietHours.End) {
		if n.Priority == alert.PriorityUrgent {
			return DeliverDesktop
		}
		return DeliverSilently
	}
	return DeliverDesktop
}

// inWindow reports whether now's local HH:MM falls within [start, end],
// wrapping past midnight when start > end. Unparseable bounds disable the
// window rather than suppressing alerts.
func inWindow(now time.Time, start, end string) bool {
	s, err := alert.ParseClock(start)
	if err != nil {
		return false
	}
	e, err := alert.ParseClock(end)
	if err != nil {
		return false
	}
	cur := now.Hour()*60 + now.Minute()

	if s > e {
		// Wrapped window, e.g. 22:00 -> 08:00.
		return cur >= s || cur <= e
	}
	return cur >= s && cur <= e
}
