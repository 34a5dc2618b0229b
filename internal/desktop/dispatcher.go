// Package desktop renders escalated notifications as OS-level alerts.
//
// The dispatcher talks to a notification service through the narrow Sender
// interface; the default backend is the org.freedesktop.Notifications D-Bus
// service. Permission is probed exactly once at startup: if the service is
// unreachable (or the probe reports denied), the dispatcher is a permanent
// no-op for the rest of the session.
package desktop

import (
	"sync"
	"time"

	"opsbell/internal/alert"
	"opsbell/pkg/logx"
)

// Permission mirrors the host's notification permission states. Default is
// treated like Denied until a later explicit Grant.
type Permission int

const (
	PermissionDefault Permission = iota
	PermissionGranted
	PermissionDenied
)

func (p Permission) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	}
	return "default"
}

// Request is one render call to the notification service.
type Request struct {
	ReplacesID uint32
	Summary    string
	Body       string
	Actions    []string // flat (key, label) pairs, freedesktop style
	Urgency    byte     // 0 low, 1 normal, 2 critical
	Resident   bool     // critical alerts stay until acted upon
}

// Sender is the backend surface the dispatcher needs.
type Sender interface {
	Notify(r Request) (serverID uint32, err error)
	CloseNotification(serverID uint32) error
}

// Event is an interaction signal from the notification server.
type Event struct {
	ServerID uint32
	Action   string // action key; empty for a close signal
	Closed   bool
}

// ConnectFunc opens the notification backend once. Implementations deliver
// server interaction signals on events until the backend goes away.
type ConnectFunc func(events chan<- Event) (Sender, Permission, error)

type Config struct {
	AppName   string        // default "opsbell"
	AutoClose time.Duration // non-urgent auto-dismiss, default 5s
	Connect   ConnectFunc   // default: session D-Bus
}

// ActionDefault is the action key notification servers send for a plain click.
const ActionDefault = "default"

// Dispatcher renders desktop alerts with a stable per-notification tag:
// re-showing the same notification id replaces the alert instead of stacking.
type Dispatcher struct {
	cfg    Config
	log    logx.Logger
	events chan Event

	mu         sync.Mutex
	permission Permission
	sender     Sender
	tags       map[string]uint32 // notification id -> server id
	byServer   map[uint32]string
	timers     map[string]*time.Timer
	onActivate func(id string)
	onAction   func(id, action string)
	closed     bool
}

// New builds the dispatcher and probes permission once. A failed probe is not
// an error: the dispatcher silently degrades to a no-op until Grant succeeds.
func New(cfg Config, log logx.Logger) *Dispatcher {
	if cfg.AppName == "" {
		cfg.AppName = "opsbell"
	}
	if cfg.AutoClose <= 0 {
		cfg.AutoClose = 5 * time.Second
	}
	if cfg.Connect == nil {
		cfg.Connect = connectSessionBus(cfg.AppName)
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	d := &Dispatcher{
		cfg:      cfg,
		log:      log,
		events:   make(chan Event, 32),
		tags:     map[string]uint32{},
		byServer: map[uint32]string{},
		timers:   map[string]*time.Timer{},
	}
	d.connect()
	return d
}

func (d *Dispatcher) connect() {
	sender, perm, err := d.cfg.Connect(d.events)
	if err != nil {
		d.log.Warn("desktop notifications unavailable", logx.Err(err))
		perm = PermissionDenied
		sender = nil
	}

	d.mu.Lock()
	d.sender = sender
	d.permission = perm
	d.mu.Unlock()

	if perm == PermissionGranted {
		go d.eventLoop()
	} else {
		d.log.Info("desktop alerts disabled", logx.String("permission", perm.String()))
	}
}

// Grant retries the backend probe after a later explicit permission grant.
// It is a no-op when the dispatcher is already operational.
func (d *Dispatcher) Grant() {
	d.mu.Lock()
	already := d.permission == PermissionGranted || d.closed
	d.mu.Unlock()
	if already {
		return
	}
	d.connect()
}

// Permission reports the probed permission state.
func (d *Dispatcher) Permission() Permission {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.permission
}

// OnActivate installs the click handler: the only side effects the dispatcher
// performs beyond rendering (mark read + raise app happen in that callback).
func (d *Dispatcher) OnActivate(fn func(id string)) {
	d.mu.Lock()
	d.onActivate = fn
	d.mu.Unlock()
}

// OnAction installs the handler for notification-specific action buttons.
func (d *Dispatcher) OnAction(fn func(id, action string)) {
	d.mu.Lock()
	d.onAction = fn
	d.mu.Unlock()
}

// Show renders (or replaces) the alert for one notification.
// Urgent alerts stay until the user acts; everything else auto-closes.
func (d *Dispatcher) Show(n alert.Notification) error {
	d.mu.Lock()
	if d.permission != PermissionGranted || d.sender == nil || d.closed {
		d.mu.Unlock()
		return nil
	}
	sender := d.sender
	replaces := d.tags[n.ID]
	d.mu.Unlock()

	urgent := n.Priority == alert.PriorityUrgent
	req := Request{
		ReplacesID: replaces,
		Summary:    n.Title,
		Body:       n.Message,
		Actions:    buildActions(n),
		Urgency:    urgencyFor(n.Priority),
		Resident:   urgent,
	}

	serverID, err := sender.Notify(req)
	if err != nil {
		d.log.Warn("desktop alert failed", logx.Err(err), logx.String("id", n.ID))
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		// Raced with CloseAll; take the alert back down.
		go func() { _ = sender.CloseNotification(serverID) }()
		return nil
	}
	if old, ok := d.tags[n.ID]; ok && old != serverID {
		delete(d.byServer, old)
	}
	d.tags[n.ID] = serverID
	d.byServer[serverID] = n.ID

	if t := d.timers[n.ID]; t != nil {
		t.Stop()
		delete(d.timers, n.ID)
	}
	if !urgent {
		d.timers[n.ID] = time.AfterFunc(d.cfg.AutoClose, func() { d.expire(n.ID) })
	}
	return nil
}

// Close dismisses the alert for one notification id, if any.
func (d *Dispatcher) Close(id string) {
	d.mu.Lock()
	sender := d.sender
	serverID, ok := d.tags[id]
	d.dropLocked(id)
	d.mu.Unlock()

	if ok && sender != nil {
		_ = sender.CloseNotification(serverID)
	}
}

// CloseAll dismisses every live alert and cancels every pending auto-close
// timer. After CloseAll the dispatcher accepts no further work, so no timer
// callback can touch a disposed engine.
func (d *Dispatcher) CloseAll() {
	d.mu.Lock()
	d.closed = true
	sender := d.sender
	ids := make([]uint32, 0, len(d.tags))
	for id, serverID := range d.tags {
		ids = append(ids, serverID)
		if t := d.timers[id]; t != nil {
			t.Stop()
		}
	}
	d.tags = map[string]uint32{}
	d.byServer = map[uint32]string{}
	d.timers = map[string]*time.Timer{}
	d.mu.Unlock()

	if sender != nil {
		for _, serverID := range ids {
			_ = sender.CloseNotification(serverID)
		}
	}
}

// expire is the auto-close path for non-urgent alerts.
func (d *Dispatcher) expire(id string) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	sender := d.sender
	serverID, ok := d.tags[id]
	d.dropLocked(id)
	d.mu.Unlock()

	if ok && sender != nil {
		_ = sender.CloseNotification(serverID)
	}
}

// dropLocked removes all bookkeeping for a notification id.
func (d *Dispatcher) dropLocked(id string) {
	if serverID, ok := d.tags[id]; ok {
		delete(d.byServer, serverID)
	}
	delete(d.tags, id)
	if t := d.timers[id]; t != nil {
		t.Stop()
		delete(d.timers, id)
	}
}

func (d *Dispatcher) eventLoop() {
	for ev := range d.events {
		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			return
		}
		id, known := d.byServer[ev.ServerID]
		activate := d.onActivate
		action := d.onAction
		if known && ev.Closed {
			d.dropLocked(id)
		}
		d.mu.Unlock()

		if !known || ev.Closed {
			continue
		}
		switch ev.Action {
		case ActionDefault:
			if activate != nil {
				activate(id)
			}
			d.Close(id)
		default:
			if action != nil {
				action(id, ev.Action)
			}
		}
	}
}

func buildActions(n alert.Notification) []string {
	out := []string{ActionDefault, "Open"}
	for _, a := range n.Actions {
		out = append(out, a.ID, a.Label)
	}
	return out
}

func urgencyFor(p alert.Priority) byte {
	switch p {
	case alert.PriorityUrgent:
		return 2
	case alert.PriorityLow:
		return 0
	default:
		return 1
	}
}
