package config

import (
	"reflect"
	"sort"
	"strings"

	logx "opsbell/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections plus safe
// structured attrs for logging. Secrets (server.token) are never included,
// only whether one is set.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if strings.TrimSpace(oldCfg.Server.URL) != strings.TrimSpace(newCfg.Server.URL) ||
		strings.TrimSpace(oldCfg.Server.FetchURL) != strings.TrimSpace(newCfg.Server.FetchURL) ||
		strings.TrimSpace(oldCfg.Server.FetchTimeout) != strings.TrimSpace(newCfg.Server.FetchTimeout) ||
		(strings.TrimSpace(oldCfg.Server.Token) != "") != (strings.TrimSpace(newCfg.Server.Token) != "") {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.String("server.url", strings.TrimSpace(newCfg.Server.URL)),
			logx.String("server.fetch_url", strings.TrimSpace(newCfg.Server.FetchURL)),
			logx.Bool("server.token_set", strings.TrimSpace(newCfg.Server.Token) != ""),
		)
	}

	if oldCfg.Reconnect != newCfg.Reconnect {
		changed = append(changed, "reconnect")
		attrs = append(attrs,
			logx.Int("reconnect.max_attempts", newCfg.Reconnect.MaxAttempts),
			logx.String("reconnect.base_delay", strings.TrimSpace(newCfg.Reconnect.BaseDelay)),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	oldN, newN := oldCfg.Notifications, newCfg.Notifications
	if (oldN == nil) != (newN == nil) || (oldN != nil && !reflect.DeepEqual(*oldN, *newN)) {
		changed = append(changed, "notifications")
		s := newN.Settings()
		attrs = append(attrs,
			logx.Bool("notifications.enable_push", s.EnablePush),
			logx.Bool("notifications.enable_desktop", s.EnableDesktop),
			logx.Bool("notifications.quiet_hours", s.QuietHours.Enabled),
		)
	}

	if oldCfg.Desktop != newCfg.Desktop {
		changed = append(changed, "desktop")
		attrs = append(attrs,
			logx.String("desktop.app_name", strings.TrimSpace(newCfg.Desktop.AppName)),
			logx.String("desktop.auto_close", strings.TrimSpace(newCfg.Desktop.AutoClose)),
		)
	}

	oldS, newS := oldCfg.Storage, newCfg.Storage
	var oDriver, nDriver string
	var oPathSet, nPathSet bool
	if oldS != nil {
		oDriver = strings.TrimSpace(oldS.Driver)
		oPathSet = strings.TrimSpace(oldS.Path) != ""
	}
	if newS != nil {
		nDriver = strings.TrimSpace(newS.Driver)
		nPathSet = strings.TrimSpace(newS.Path) != ""
	}
	if oDriver != nDriver || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
