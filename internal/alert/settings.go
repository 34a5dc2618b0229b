package alert

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// QuietHours is a daily time-of-day window during which only urgent alerts
// escalate to the desktop. Start/End are local "HH:MM"; the window may wrap
// past midnight (Start > End).
type QuietHours struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

// Settings is the per-session notification preference set.
//
// The engine owns the authoritative copy; mutations go through
// Engine.UpdateSettings only. Copies handed out clone the maps.
type Settings struct {
	EnablePush    bool              `json:"enablePush"`
	EnableSound   bool              `json:"enableSound"`
	EnableDesktop bool              `json:"enableDesktop"`
	Categories    map[Category]bool `json:"categories"`
	Priorities    map[Priority]bool `json:"priorities"`
	QuietHours    QuietHours        `json:"quietHours"`
}

// DefaultSettings enables everything and leaves quiet hours off.
func DefaultSettings() Settings {
	cats := make(map[Category]bool, len(Categories()))
	for _, c := range Categories() {
		cats[c] = true
	}
	prios := make(map[Priority]bool, len(Priorities()))
	for _, p := range Priorities() {
		prios[p] = true
	}
	return Settings{
		EnablePush:    true,
		EnableSound:   true,
		EnableDesktop: true,
		Categories:    cats,
		Priorities:    prios,
		QuietHours:    QuietHours{Enabled: false, Start: "22:00", End: "08:00"},
	}
}

// Clone deep-copies the settings maps.
func (s Settings) Clone() Settings {
	cp := s
	cp.Categories = make(map[Category]bool, len(s.Categories))
	for k, v := range s.Categories {
		cp.Categories[k] = v
	}
	cp.Priorities = make(map[Priority]bool, len(s.Priorities))
	for k, v := range s.Priorities {
		cp.Priorities[k] = v
	}
	return cp
}

// Merge overlays non-nil/declared fields of the override onto defaults.
// Category/priority maps are merged key-wise so a partial override (say,
// just {"security": false}) keeps the remaining defaults.
func (s Settings) Merge(over Settings) Settings {
	out := s.Clone()
	out.EnablePush = over.EnablePush
	out.EnableSound = over.EnableSound
	out.EnableDesktop = over.EnableDesktop
	for k, v := range over.Categories {
		out.Categories[k] = v
	}
	for k, v := range over.Priorities {
		out.Priorities[k] = v
	}
	if over.QuietHours.Start != "" || over.QuietHours.End != "" || over.QuietHours.Enabled {
		out.QuietHours = over.QuietHours
	}
	return out
}

// CategoryEnabled defaults to enabled for categories absent from the map.
func (s Settings) CategoryEnabled(c Category) bool {
	if s.Categories == nil {
		return true
	}
	v, ok := s.Categories[c]
	if !ok {
		return true
	}
	return v
}

// PriorityEnabled defaults to enabled for priorities absent from the map.
func (s Settings) PriorityEnabled(p Priority) bool {
	if s.Priorities == nil {
		return true
	}
	v, ok := s.Priorities[p]
	if !ok {
		return true
	}
	return v
}

// Validate rejects settings whose quiet-hours bounds are not valid "HH:MM".
func (s Settings) Validate() error {
	if !s.QuietHours.Enabled {
		return nil
	}
	if _, err := ParseClock(s.QuietHours.Start); err != nil {
		return fmt.Errorf("quiet_hours.start: %w", err)
	}
	if _, err := ParseClock(s.QuietHours.End); err != nil {
		return fmt.Errorf("quiet_hours.end: %w", err)
	}
	return nil
}

// ParseClock converts "HH:MM" to minutes since midnight.
func ParseClock(v string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(v), ":")
	if !ok {
		return 0, errors.New("expected HH:MM")
	}
	hh, err := strconv.Atoi(h)
	if err != nil || hh < 0 || hh > 23 {
		return 0, fmt.Errorf("invalid hour %q", h)
	}
	mm, err := strconv.Atoi(m)
	if err != nil || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("invalid minute %q", m)
	}
	return hh*60 + mm, nil
}
