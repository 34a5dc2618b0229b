// Package transport owns the single push connection to the alert source and
// its reconnection policy. It has no business knowledge: inbound frames are
// parsed into alert.Notification and handed to the owner in arrival order.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"opsbell/internal/alert"
	"opsbell/pkg/logx"
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	}
	return "unknown"
}

// Status is the externally visible connection status. Attempt is non-zero
// only while reconnecting (and during the dial it triggers).
type Status struct {
	State   State
	Attempt int
}

func (st Status) String() string {
	if st.Attempt > 0 && st.State != StateConnected {
		return fmt.Sprintf("%s(%d)", st.State, st.Attempt)
	}
	return st.State.String()
}

// Conn is the subset of *websocket.Conn the session needs. Tests inject
// fakes through Config.Dial.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// DialFunc opens one transport connection.
type DialFunc func(ctx context.Context, url string, header http.Header) (Conn, error)

// Config for a Session.
//
// Backoff is linear: reconnect attempt n waits n*BaseDelay. After MaxAttempts
// consecutive failures the session goes terminally disconnected and stays
// there until an explicit Connect.
type Config struct {
	URL         string
	MaxAttempts int           // default 5
	BaseDelay   time.Duration // default 5s
	DialTimeout time.Duration // default 10s

	// Dial defaults to a gorilla/websocket dial. Tests swap it out.
	Dial DialFunc
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 5 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.Dial == nil {
		c.Dial = wsDial
	}
}

func wsDial(ctx context.Context, url string, header http.Header) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Session maintains at most one live push connection.
//
// All state transitions go through setStatus; a generation counter keeps
// callbacks from a superseded connection (or an already-cancelled reconnect
// timer) from touching current state.
type Session struct {
	cfg     Config
	log     logx.Logger
	handler func(alert.Notification)

	mu         sync.Mutex
	status     Status
	conn       Conn
	timer      *time.Timer
	gen        uint64
	credential string
	onState    func(Status)
}

// New creates a session. handler receives every well-formed inbound
// notification, one at a time, in transport delivery order.
func New(cfg Config, log logx.Logger, handler func(alert.Notification)) *Session {
	cfg.applyDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Session{cfg: cfg, log: log, handler: handler}
}

// OnStateChange installs a listener invoked on every status transition.
// Must be set before Connect.
func (s *Session) OnStateChange(fn func(Status)) {
	s.mu.Lock()
	s.onState = fn
	s.mu.Unlock()
}

// Status returns the current connection status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Connect starts the connection using the given session credential.
// It is idempotent while the session is already connecting, connected, or
// reconnecting: no duplicate sockets, no reset of the backoff schedule.
func (s *Session) Connect(credential string) {
	s.mu.Lock()
	if s.status.State != StateDisconnected {
		s.mu.Unlock()
		return
	}
	s.credential = credential
	gen := s.gen
	notify := s.setStatusLocked(Status{State: StateConnecting})
	s.mu.Unlock()
	notify()

	go s.dialAttempt(gen, 0)
}

// Disconnect tears the session down: it closes the live connection, cancels
// any pending reconnect timer, and guarantees no reconnect fires afterwards.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.gen++ // invalidate in-flight dials, read loops and timers
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	conn := s.conn
	s.conn = nil
	var notify func()
	if s.status.State != StateDisconnected {
		notify = s.setStatusLocked(Status{State: StateDisconnected})
	} else {
		notify = func() {}
	}
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	notify()
}

// dialAttempt runs one dial. attempt is 0 for the initial connect and the
// reconnect attempt number otherwise.
func (s *Session) dialAttempt(gen uint64, attempt int) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	url := s.cfg.URL
	cred := s.credential
	s.mu.Unlock()

	header := http.Header{}
	if cred != "" {
		header.Set("Authorization", "Bearer "+cred)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DialTimeout)
	conn, err := s.cfg.Dial(ctx, url, header)
	cancel()
	if err != nil {
		s.log.Warn("push dial failed", logx.Err(err), logx.Int("attempt", attempt))
		s.failure(gen, attempt)
		return
	}

	s.mu.Lock()
	if gen != s.gen {
		// Disconnected while dialing; release the socket.
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conn = conn
	notify := s.setStatusLocked(Status{State: StateConnected})
	s.mu.Unlock()
	notify()

	s.log.Info("push connected", logx.String("url", url))
	go s.readLoop(gen, conn)
}

// readLoop delivers frames until the connection breaks. It runs one frame to
// completion before reading the next, so handlers observe arrival order.
func (s *Session) readLoop(gen uint64, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			stale := gen != s.gen
			s.mu.Unlock()
			if stale {
				return
			}
			s.log.Warn("push connection lost", logx.Err(err))
			_ = conn.Close()
			s.failure(gen, 0)
			return
		}

		n, err := alert.ParsePayload(data)
		if err != nil {
			// Malformed frames never crash the session or change state.
			s.log.Warn("dropping malformed push frame", logx.Err(err))
			continue
		}
		if s.handler != nil {
			s.handler(n)
		}
	}
}

// failure advances the reconnect machine after a failed dial (attempt = n)
// or a broken established connection (attempt = 0, counter restarts).
func (s *Session) failure(gen uint64, attempt int) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.conn = nil

	next := attempt + 1
	if next > s.cfg.MaxAttempts {
		// Terminal: manual Connect required from here.
		notify := s.setStatusLocked(Status{State: StateDisconnected})
		s.mu.Unlock()
		notify()
		s.log.Error("push reconnect attempts exhausted",
			logx.Int("max_attempts", s.cfg.MaxAttempts))
		return
	}

	delay := time.Duration(next) * s.cfg.BaseDelay
	notify := s.setStatusLocked(Status{State: StateReconnecting, Attempt: next})
	s.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if gen != s.gen {
			s.mu.Unlock()
			return
		}
		s.timer = nil
		notify := s.setStatusLocked(Status{State: StateConnecting, Attempt: next})
		s.mu.Unlock()
		notify()
		s.dialAttempt(gen, next)
	})
	s.mu.Unlock()
	notify()

	s.log.Info("push reconnect scheduled",
		logx.Int("attempt", next), logx.Duration("delay", delay))
}

// setStatusLocked records the new status and returns a closure that emits the
// listener callback. Callers invoke it after releasing the lock so listeners
// may call back into the session.
func (s *Session) setStatusLocked(st Status) func() {
	s.status = st
	fn := s.onState
	if fn == nil {
		return func() {}
	}
	return func() { fn(st) }
}
