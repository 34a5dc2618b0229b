package storage

import (
	"context"
	"errors"
	"strings"

	"opsbell/internal/alert"
	logx "opsbell/pkg/logx"
)

// Store is the minimal persistence API used by the application layer.
type Store interface {
	SaveSettings(ctx context.Context, s alert.Settings) error
	// LoadSettings returns (settings, found, err). A missing snapshot is not an error.
	LoadSettings(ctx context.Context) (alert.Settings, bool, error)
	AppendDelivery(ctx context.Context, e DeliveryEntry) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
