// Command pushsim is a development stand-in for the notification server.
// It serves the bulk fetch endpoint and a push socket that emits synthetic
// notifications, including the awkward cases a client must survive:
// duplicate ids and malformed frames.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"opsbell/internal/alert"
	logx "opsbell/pkg/logx"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type simulator struct {
	log   logx.Logger
	token string
	limit *rate.Limiter
	rng   *rand.Rand

	mu      sync.Mutex
	backlog []alert.Notification
}

func main() {
	var (
		addr   string
		token  string
		perMin int
	)
	flag.StringVar(&addr, "addr", "127.0.0.1:8099", "listen address")
	flag.StringVar(&token, "token", "", "required bearer token (empty disables auth)")
	flag.IntVar(&perMin, "rate", 12, "pushed notifications per minute")
	flag.Parse()

	log := logx.NewConsole("DEBUG").With(logx.String("comp", "pushsim"))
	sim := &simulator{
		log:   log,
		token: token,
		limit: rate.NewLimiter(rate.Every(time.Minute/time.Duration(max(perMin, 1))), 1),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	sim.seedBacklog(8)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/notifications", sim.handleBulk)
	mux.HandleFunc("/ws", sim.handlePush)

	log.Info("pushsim listening",
		logx.String("fetch", "http://"+addr+"/api/notifications"),
		logx.String("push", "ws://"+addr+"/ws"))
	if err := http.ListenAndServe(addr, mux); err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
}

func (s *simulator) authorized(r *http.Request) bool {
	if s.token == "" {
		return true
	}
	return r.Header.Get("Authorization") == "Bearer "+s.token
}

func (s *simulator) handleBulk(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	s.mu.Lock()
	backlog := make([]alert.Notification, len(s.backlog))
	copy(backlog, s.backlog)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(backlog)
}

func (s *simulator) handlePush(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", logx.Err(err))
		return
	}
	defer conn.Close()
	s.log.Info("push client connected", logx.String("remote", conn.RemoteAddr().String()))

	var last alert.Notification
	for i := 0; ; i++ {
		if err := s.limit.Wait(r.Context()); err != nil {
			return
		}

		var frame []byte
		switch {
		case i > 0 && i%7 == 0:
			// Every 7th frame is garbage; the client must drop it and move on.
			frame = []byte(`{"id":`)
		case i > 0 && i%5 == 0 && last.ID != "":
			// Every 5th frame repeats the previous notification id.
			frame, _ = json.Marshal(last)
		default:
			last = s.synthesize()
			s.remember(last)
			frame, _ = json.Marshal(last)
		}

		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			s.log.Info("push client gone", logx.Err(err))
			return
		}
	}
}

func (s *simulator) remember(n alert.Notification) {
	s.mu.Lock()
	s.backlog = append([]alert.Notification{n}, s.backlog...)
	if len(s.backlog) > 100 {
		s.backlog = s.backlog[:100]
	}
	s.mu.Unlock()
}

func (s *simulator) seedBacklog(n int) {
	for i := 0; i < n; i++ {
		s.remember(s.synthesize())
	}
}

var samples = []struct {
	typ      alert.Type
	category alert.Category
	priority alert.Priority
	title    string
	message  string
}{
	{alert.TypeInfo, alert.CategoryInvoice, alert.PriorityMedium, "Invoice created", "Invoice %s is ready for review"},
	{alert.TypeSuccess, alert.CategoryPayment, alert.PriorityMedium, "Payment received", "Payment for invoice %s cleared"},
	{alert.TypeWarning, alert.CategoryInvoice, alert.PriorityHigh, "Invoice overdue", "Invoice %s is 14 days overdue"},
	{alert.TypeInfo, alert.CategoryCustomer, alert.PriorityLow, "New customer", "Customer %s completed onboarding"},
	{alert.TypeError, alert.CategorySystem, alert.PriorityHigh, "Sync failed", "Background sync %s did not complete"},
	{alert.TypeWarning, alert.CategorySecurity, alert.PriorityUrgent, "New sign-in", "Sign-in from unrecognized device %s"},
	{alert.TypeInfo, alert.CategoryReminder, alert.PriorityLow, "Follow-up due", "Reminder %s is due today"},
}

func (s *simulator) synthesize() alert.Notification {
	pick := samples[s.rng.Intn(len(samples))]
	ref := strings.ToUpper(uuid.NewString()[:8])
	return alert.Notification{
		ID:        uuid.NewString(),
		Type:      pick.typ,
		Category:  pick.category,
		Title:     pick.title,
		Message:   fmt.Sprintf(pick.message, ref),
		Timestamp: time.Now().UTC(),
		Priority:  pick.priority,
		Metadata:  map[string]string{"ref": ref},
	}
}
