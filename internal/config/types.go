package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"opsbell/internal/alert"
)

type Config struct {
	Server    ServerConfig    `json:"server"`
	Reconnect ReconnectConfig `json:"reconnect"`
	Logging   LoggingConfig   `json:"logging"`

	// Notifications overrides the default preference set at startup.
	// Omitted fields keep their defaults; a persisted settings snapshot
	// (see storage) takes precedence over this block.
	Notifications *NotificationsConfig `json:"notifications,omitempty"`

	Desktop DesktopConfig  `json:"desktop,omitempty"`
	Storage *StorageConfig `json:"storage,omitempty"`
}

type ServerConfig struct {
	// URL is the push endpoint (ws:// or wss://).
	URL string `json:"url"`
	// FetchURL is the bulk notification endpoint (http:// or https://).
	FetchURL string `json:"fetch_url"`
	// Token authenticates both the fetch and the push session. Never logged.
	Token string `json:"token"`
	// FetchTimeout is a Go duration string (e.g. "10s"). Default "10s".
	FetchTimeout string `json:"fetch_timeout,omitempty"`
}

type ReconnectConfig struct {
	// MaxAttempts bounds consecutive failed dials before giving up. Default 5.
	MaxAttempts int `json:"max_attempts,omitempty"`
	// BaseDelay is a Go duration string; attempt n waits n*BaseDelay. Default "5s".
	BaseDelay string `json:"base_delay,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// NotificationsConfig mirrors alert.Settings with pointer booleans so an
// omitted key is distinguishable from an explicit false.
type NotificationsConfig struct {
	EnablePush    *bool             `json:"enable_push,omitempty"`
	EnableSound   *bool             `json:"enable_sound,omitempty"`
	EnableDesktop *bool             `json:"enable_desktop,omitempty"`
	Categories    map[string]bool   `json:"categories,omitempty"`
	Priorities    map[string]bool   `json:"priorities,omitempty"`
	QuietHours    *QuietHoursConfig `json:"quiet_hours,omitempty"`
}

type QuietHoursConfig struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

type DesktopConfig struct {
	// AppName is the identity reported to the desktop notification service.
	AppName string `json:"app_name,omitempty"`
	// AutoClose is a Go duration string for non-urgent alert dismissal. Default "5s".
	AutoClose string `json:"auto_close,omitempty"`
}

// StorageConfig controls settings persistence. Nil disables it.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./opsbell.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// Settings materializes the overrides onto the default preference set.
func (n *NotificationsConfig) Settings() alert.Settings {
	s := alert.DefaultSettings()
	if n == nil {
		return s
	}
	if n.EnablePush != nil {
		s.EnablePush = *n.EnablePush
	}
	if n.EnableSound != nil {
		s.EnableSound = *n.EnableSound
	}
	if n.EnableDesktop != nil {
		s.EnableDesktop = *n.EnableDesktop
	}
	for k, v := range n.Categories {
		s.Categories[alert.Category(k)] = v
	}
	for k, v := range n.Priorities {
		s.Priorities[alert.Priority(k)] = v
	}
	if n.QuietHours != nil {
		s.QuietHours = alert.QuietHours{
			Enabled: n.QuietHours.Enabled,
			Start:   n.QuietHours.Start,
			End:     n.QuietHours.End,
		}
	}
	return s
}

func parseDuration(path, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: negative duration %q", path, raw)
	}
	return d, nil
}

// ParseDurationOrDefault reads an optional duration field, falling back to
// def when the field is empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := parseDuration(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// FetchTimeoutOrDefault parses ServerConfig.FetchTimeout.
func (s ServerConfig) FetchTimeoutOrDefault() (time.Duration, error) {
	return ParseDurationOrDefault("server.fetch_timeout", s.FetchTimeout, 10*time.Second)
}

// BaseDelayOrDefault parses ReconnectConfig.BaseDelay.
func (r ReconnectConfig) BaseDelayOrDefault() (time.Duration, error) {
	return ParseDurationOrDefault("reconnect.base_delay", r.BaseDelay, 5*time.Second)
}

// AutoCloseOrDefault parses DesktopConfig.AutoClose.
func (d DesktopConfig) AutoCloseOrDefault() (time.Duration, error) {
	return ParseDurationOrDefault("desktop.auto_close", d.AutoClose, 5*time.Second)
}

// Validate rejects configs that cannot produce a working engine. It parses
// every duration and clock field so a hot reload can be refused atomically.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if u := strings.TrimSpace(cfg.Server.URL); u != "" {
		parsed, err := url.Parse(u)
		if err != nil {
			return fmt.Errorf("server.url: %w", err)
		}
		if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
			return fmt.Errorf("server.url: scheme must be ws or wss, got %q", parsed.Scheme)
		}
	}
	if u := strings.TrimSpace(cfg.Server.FetchURL); u != "" {
		parsed, err := url.Parse(u)
		if err != nil {
			return fmt.Errorf("server.fetch_url: %w", err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("server.fetch_url: scheme must be http or https, got %q", parsed.Scheme)
		}
	}
	if _, err := cfg.Server.FetchTimeoutOrDefault(); err != nil {
		return err
	}

	if cfg.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("reconnect.max_attempts: must be >= 0")
	}
	if _, err := cfg.Reconnect.BaseDelayOrDefault(); err != nil {
		return err
	}
	if _, err := cfg.Desktop.AutoCloseOrDefault(); err != nil {
		return err
	}

	if n := cfg.Notifications; n != nil {
		for k := range n.Categories {
			if !alert.Category(k).Valid() {
				return fmt.Errorf("notifications.categories: unknown category %q", k)
			}
		}
		for k := range n.Priorities {
			if !alert.Priority(k).Valid() {
				return fmt.Errorf("notifications.priorities: unknown priority %q", k)
			}
		}
		if err := n.Settings().Validate(); err != nil {
			return fmt.Errorf("notifications: %w", err)
		}
	}

	if s := cfg.Storage; s != nil {
		driver := strings.TrimSpace(s.Driver)
		switch driver {
		case "", "none", "sqlite", "sqlite3", "file":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", s.Driver)
		}
		switch driver {
		case "sqlite", "sqlite3", "file":
			if strings.TrimSpace(s.Path) == "" {
				return fmt.Errorf("storage.path: required for %s driver", driver)
			}
		}
		if _, err := parseDuration("storage.busy_timeout", s.BusyTimeout); err != nil {
			return err
		}
	}

	return nil
}
