// Package engine composes the notification delivery pipeline: transport
// session -> store -> preference filter -> desktop dispatcher. It is the only
// surface the rest of the application talks to.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"opsbell/internal/alert"
	"opsbell/internal/desktop"
	"opsbell/internal/eventbus"
	"opsbell/internal/filter"
	"opsbell/internal/store"
	"opsbell/internal/transport"
	"opsbell/pkg/logx"
)

// Fetcher is the collaborator-supplied bulk load of current notifications.
// The engine calls it once at Start and never retries on its own.
type Fetcher func(ctx context.Context) ([]alert.Notification, error)

// Pusher is the transport session surface the engine composes.
type Pusher interface {
	Connect(credential string)
	Disconnect()
	Status() transport.Status
	OnStateChange(func(transport.Status))
}

// Renderer is the desktop dispatcher surface the engine composes.
type Renderer interface {
	Show(alert.Notification) error
	Close(id string)
	CloseAll()
	OnActivate(func(id string))
	OnAction(func(id, action string))
}

// SessionFactory builds the push session around the engine's inbound handler.
type SessionFactory func(cfg transport.Config, log logx.Logger, handler func(alert.Notification)) Pusher

// Options configure an Engine. Zero-value fields fall back to real
// implementations; tests swap in fakes.
type Options struct {
	Settings   *alert.Settings // overrides merged onto DefaultSettings
	Credential string          // session credential for the push transport

	Transport  transport.Config
	Desktop    desktop.Config
	Fetch      Fetcher
	Bus        eventbus.Bus
	Log        logx.Logger
	OnSettings func(alert.Settings) // emitted on every UpdateSettings, for external persistence
	RaiseApp   func()               // bring the application to the foreground on alert click
	Now        func() time.Time

	NewSession SessionFactory
	Dispatcher Renderer
}

// Event payloads published on the bus.
type (
	StateEvent struct {
		State   string `json:"state"`
		Attempt int    `json:"attempt,omitempty"`
	}
	NotificationEvent struct {
		ID        string `json:"id"`
		Category  string `json:"category"`
		Priority  string `json:"priority"`
		Duplicate bool   `json:"duplicate,omitempty"`
		Decision  string `json:"decision,omitempty"`
		Sound     bool   `json:"sound,omitempty"`
	}
)

// CreateParams synthesize a local notification (e.g. from a completed
// client-side action). It flows through the same pipeline as a pushed one.
type CreateParams struct {
	Type     alert.Type
	Category alert.Category
	Title    string
	Message  string
	Priority alert.Priority
	Metadata map[string]string
	Actions  []alert.Action
}

// Engine is the composition root of the delivery pipeline.
type Engine struct {
	log        logx.Logger
	bus        eventbus.Bus
	store      *store.Store
	session    Pusher
	dispatcher Renderer
	fetch      Fetcher
	raise      func()
	onSettings func(alert.Settings)
	now        func() time.Time
	credential string

	mu       sync.Mutex
	settings alert.Settings
	fetchErr error
	closed   bool
}

// New wires the pipeline. It does not touch the network; Start does.
func New(opts Options) *Engine {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	bus := opts.Bus
	if bus == nil {
		bus = eventbus.New()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	settings := alert.DefaultSettings()
	if opts.Settings != nil {
		settings = settings.Merge(*opts.Settings)
	}

	e := &Engine{
		log:        log,
		bus:        bus,
		store:      store.New(),
		fetch:      opts.Fetch,
		raise:      opts.RaiseApp,
		onSettings: opts.OnSettings,
		now:        now,
		credential: opts.Credential,
		settings:   settings,
	}

	newSession := opts.NewSession
	if newSession == nil {
		newSession = func(cfg transport.Config, log logx.Logger, handler func(alert.Notification)) Pusher {
			return transport.New(cfg, log, handler)
		}
	}
	e.session = newSession(opts.Transport, log.With(logx.String("comp", "transport")), e.handleInbound)
	e.session.OnStateChange(func(st transport.Status) {
		e.bus.Publish(eventbus.Event{
			Type: eventbus.EventConnState,
			Data: StateEvent{State: st.State.String(), Attempt: st.Attempt},
		})
	})

	e.dispatcher = opts.Dispatcher
	if e.dispatcher == nil {
		e.dispatcher = desktop.New(opts.Desktop, log.With(logx.String("comp", "desktop")))
	}
	e.dispatcher.OnActivate(e.activate)

	return e
}

// Start performs the initial bulk fetch and, when push is enabled, opens the
// transport session. A failed fetch is recorded (see FetchErr), not fatal.
func (e *Engine) Start(ctx context.Context) error {
	if e.fetch != nil {
		ns, err := e.fetch(ctx)
		if err != nil {
			e.mu.Lock()
			e.fetchErr = fmt.Errorf("bulk fetch: %w", err)
			e.mu.Unlock()
			e.log.Warn("initial notification fetch failed", logx.Err(err))
			e.bus.Publish(eventbus.Event{Type: eventbus.EventFetchFailed, Data: err.Error()})
		} else {
			e.mu.Lock()
			e.fetchErr = nil
			e.mu.Unlock()
			e.store.BulkLoad(ns)
			e.log.Info("notifications loaded", logx.Int("count", e.store.Len()))
		}
	}

	e.mu.Lock()
	push := e.settings.EnablePush
	e.mu.Unlock()
	if push {
		e.session.Connect(e.credential)
	}
	return nil
}

// Close tears the engine down: the session disconnects (cancelling any
// reconnect timer) and every desktop alert and auto-close timer is released.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.session.Disconnect()
	e.dispatcher.CloseAll()
}

// handleInbound is the single pipeline for every notification origin: add to
// the store (dedup there), then decide, then conditionally render. Duplicate
// ids are not re-stored but still re-decided, so a repeated push refreshes an
// existing desktop alert (stable tag) instead of stacking a new one.
func (e *Engine) handleInbound(n alert.Notification) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	settings := e.settings
	e.mu.Unlock()

	added := e.store.Add(n)
	e.bus.Publish(eventbus.Event{Type: eventbus.EventStored, Data: NotificationEvent{
		ID: n.ID, Category: string(n.Category), Priority: string(n.Priority), Duplicate: !added,
	}})

	decision := filter.Decide(n, settings, e.now())
	switch decision {
	case filter.Suppress:
		e.bus.Publish(eventbus.Event{Type: eventbus.EventSuppressed, Data: NotificationEvent{
			ID: n.ID, Category: string(n.Category), Priority: string(n.Priority), Decision: decision.String(),
		}})
	case filter.DeliverDesktop:
		if err := e.dispatcher.Show(n); err != nil {
			e.log.Warn("desktop dispatch failed", logx.Err(err), logx.String("id", n.ID))
		}
		e.bus.Publish(eventbus.Event{Type: eventbus.EventDispatched, Data: NotificationEvent{
			ID: n.ID, Category: string(n.Category), Priority: string(n.Priority),
			Decision: decision.String(), Sound: settings.EnableSound,
		}})
	}
}

// activate is the desktop click contract: mark read, raise the app, done.
func (e *Engine) activate(id string) {
	e.store.MarkRead(id)
	if e.raise != nil {
		e.raise()
	}
}

// CreateNotification synthesizes a local notification and runs it through the
// identical add -> filter -> dispatch pipeline as a pushed one.
func (e *Engine) CreateNotification(p CreateParams) alert.Notification {
	n := alert.Notification{
		ID:        uuid.NewString(),
		Type:      p.Type,
		Category:  p.Category,
		Title:     p.Title,
		Message:   p.Message,
		Timestamp: e.now(),
		Priority:  p.Priority,
		Metadata:  p.Metadata,
		Actions:   p.Actions,
	}
	e.handleInbound(n)
	return n
}

// ---- Command surface ----

func (e *Engine) MarkRead(id string) {
	e.store.MarkRead(id)
	e.dispatcher.Close(id)
}

func (e *Engine) MarkAllRead() {
	for _, n := range e.store.Unread() {
		e.dispatcher.Close(n.ID)
	}
	e.store.MarkAllRead()
}

func (e *Engine) Delete(id string) {
	e.store.Delete(id)
	e.dispatcher.Close(id)
}

func (e *Engine) Clear() {
	for _, n := range e.store.All() {
		e.dispatcher.Close(n.ID)
	}
	e.store.Clear()
}

// UpdateSettings validates and swaps the preference set, emits it to the
// external persistence sink, and follows an EnablePush toggle with a
// connect/disconnect.
func (e *Engine) UpdateSettings(s alert.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	prevPush := e.settings.EnablePush
	e.settings = s.Clone()
	sink := e.onSettings
	e.mu.Unlock()

	e.bus.Publish(eventbus.Event{Type: eventbus.EventSettings, Data: s.Clone()})
	if sink != nil {
		sink(s.Clone())
	}

	switch {
	case prevPush && !s.EnablePush:
		e.session.Disconnect()
	case !prevPush && s.EnablePush:
		e.session.Connect(e.credential)
	}
	return nil
}

// Connect manually (re)opens the push session, e.g. after reconnect
// attempts were exhausted.
func (e *Engine) Connect() { e.session.Connect(e.credential) }

// Disconnect closes the push session and cancels any pending reconnect.
func (e *Engine) Disconnect() { e.session.Disconnect() }

// ---- Query surface ----

func (e *Engine) Settings() alert.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings.Clone()
}

// FetchErr reports the outcome of the initial bulk fetch. Retrying is the
// caller's decision (call Start again or refetch externally).
func (e *Engine) FetchErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fetchErr
}

func (e *Engine) ConnectionStatus() transport.Status { return e.session.Status() }

func (e *Engine) UnreadCount() int                   { return e.store.UnreadCount() }
func (e *Engine) Notifications() []alert.Notification { return e.store.All() }
func (e *Engine) Unread() []alert.Notification        { return e.store.Unread() }
func (e *Engine) UrgentUnread() []alert.Notification  { return e.store.UrgentUnread() }

func (e *Engine) ByCategory(c alert.Category) []alert.Notification {
	return e.store.ByCategory(c)
}
