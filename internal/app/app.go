// Package app assembles the process: config, logging, storage, and the
// notification engine, plus the background loops that tie them together.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"opsbell/internal/alert"
	"opsbell/internal/config"
	"opsbell/internal/desktop"
	"opsbell/internal/engine"
	"opsbell/internal/eventbus"
	"opsbell/internal/runtime/supervisor"
	"opsbell/internal/storage"
	"opsbell/internal/transport"
	logx "opsbell/pkg/logx"
)

// StopReason annotates shutdown logs with what triggered the stop.
type StopReason string

const (
	StopUnknown StopReason = "unknown"
	StopSignal  StopReason = "signal"
	StopFatal   StopReason = "fatal_error"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	engine *engine.Engine
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	// Storage (optional)
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	// Preference snapshot: a persisted copy wins over the config block.
	settings := cfg.Notifications.Settings()
	if store != nil {
		if persisted, found, err := store.LoadSettings(context.Background()); err != nil {
			log.Warn("persisted settings unreadable; using config defaults", logx.Err(err))
		} else if found {
			settings = persisted
		}
	}

	baseDelay, err := cfg.Reconnect.BaseDelayOrDefault()
	if err != nil {
		return nil, err
	}
	autoClose, err := cfg.Desktop.AutoCloseOrDefault()
	if err != nil {
		return nil, err
	}
	fetchTimeout, err := cfg.Server.FetchTimeoutOrDefault()
	if err != nil {
		return nil, err
	}

	var fetch engine.Fetcher
	if strings.TrimSpace(cfg.Server.FetchURL) != "" {
		fetch = newFetcher(cfg.Server.FetchURL, cfg.Server.Token, fetchTimeout,
			log.With(logx.String("comp", "fetch")))
	}

	var onSettings func(alert.Settings)
	if store != nil {
		st := store
		onSettings = func(s alert.Settings) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := st.SaveSettings(ctx, s); err != nil {
				log.Warn("settings persist failed", logx.Err(err))
			}
		}
	}

	eng := engine.New(engine.Options{
		Settings:   &settings,
		Credential: cfg.Server.Token,
		Transport: transport.Config{
			URL:         cfg.Server.URL,
			MaxAttempts: cfg.Reconnect.MaxAttempts,
			BaseDelay:   baseDelay,
		},
		Desktop: desktop.Config{
			AppName:   cfg.Desktop.AppName,
			AutoClose: autoClose,
		},
		Fetch:      fetch,
		Bus:        bus,
		Log:        log,
		OnSettings: onSettings,
		RaiseApp: func() {
			// Headless build: surface the click so an embedding UI can raise itself.
			bus.Publish(eventbus.Event{Type: eventbus.EventActivated})
		},
	})

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		engine:  eng,
	}, nil
}

// Engine exposes the composed engine for an embedding UI or CLI surface.
func (a *App) Engine() *engine.Engine { return a.engine }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	if err := a.engine.Start(a.sup.Context()); err != nil {
		return err
	}
	if err := a.engine.FetchErr(); err != nil {
		a.log.Warn("starting without initial notifications", logx.Err(err))
	}

	// Audit dispatched/suppressed decisions and keep a debug trail of events.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				a.auditEvent(c, e)
			}
		}
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyReload(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) applyReload(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(logx.Config{
				Level:   newCfg.Logging.Level,
				Console: newCfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: newCfg.Logging.File.Enabled,
					Path:    newCfg.Logging.File.Path,
				},
			})
		case "notifications":
			if err := a.engine.UpdateSettings(newCfg.Notifications.Settings()); err != nil {
				a.log.Warn("invalid notification settings; keeping previous", logx.Err(err))
			}
		case "server", "reconnect", "desktop", "storage":
			a.log.Warn("config section changed; restart required for changes to take effect",
				logx.String("section", s))
		}
	}

	a.log.Info("config reloaded", fields...)
}

func (a *App) auditEvent(ctx context.Context, e eventbus.Event) {
	if a.store == nil {
		return
	}
	if e.Type != eventbus.EventDispatched && e.Type != eventbus.EventSuppressed {
		return
	}
	ne, ok := e.Data.(engine.NotificationEvent)
	if !ok {
		return
	}
	actx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := a.store.AppendDelivery(actx, storage.DeliveryEntry{
		At:             e.Time,
		NotificationID: ne.ID,
		Category:       ne.Category,
		Priority:       ne.Priority,
		Decision:       ne.Decision,
	}); err != nil {
		a.log.Debug("delivery audit write failed", logx.Err(err))
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding immediately.
	a.sup.Cancel()

	// Run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("engine", 2*time.Second, func(context.Context) error { a.engine.Close(); return nil })
	step("storage", 1*time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	// Finally, wait for supervised goroutines (config watch/reload, event log).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", driver)
	}
}
