package filter

import (
	"testing"
	"time"

	"opsbell/internal/alert"
)

func at(hhmm string) time.Time {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		panic(err)
	}
	return t
}

func sample(cat alert.Category, prio alert.Priority) alert.Notification {
	return alert.Notification{
		ID:        "x",
		Type:      alert.TypeWarning,
		Category:  cat,
		Title:     "t",
		Message:   "m",
		Timestamp: time.Now(),
		Priority:  prio,
	}
}

func TestDecideRuleOrder(t *testing.T) {
	t.Parallel()

	base := alert.DefaultSettings()

	catOff := base.Clone()
	catOff.Categories[alert.CategorySecurity] = false

	prioOff := base.Clone()
	prioOff.Priorities[alert.PriorityLow] = false

	noDesktop := base.Clone()
	noDesktop.EnableDesktop = false

	quiet := base.Clone()
	quiet.QuietHours = alert.QuietHours{Enabled: true, Start: "22:00", End: "08:00"}

	quietNoDesktop := quiet.Clone()
	quietNoDesktop.EnableDesktop = false

	tests := []struct {
		name string
		n    alert.Notification
		s    alert.Settings
		now  time.Time
		want Decision
	}{
		{"default escalates", sample(alert.CategoryInvoice, alert.PriorityMedium), base, at("12:00"), DeliverDesktop},
		{"disabled category suppresses", sample(alert.CategorySecurity, alert.PriorityMedium), catOff, at("12:00"), Suppress},
		{"category opt-out beats urgent", sample(alert.CategorySecurity, alert.PriorityUrgent), catOff, at("12:00"), Suppress},
		{"disabled priority suppresses", sample(alert.CategoryInvoice, alert.PriorityLow), prioOff, at("12:00"), Suppress},
		{"desktop off delivers silently", sample(alert.CategoryInvoice, alert.PriorityUrgent), noDesktop, at("12:00"), DeliverSilently},
		{"desktop off wins over quiet hours", sample(alert.CategoryInvoice, alert.PriorityUrgent), quietNoDesktop, at("23:30"), DeliverSilently},
		{"quiet hours silences medium", sample(alert.CategoryPayment, alert.PriorityMedium), quiet, at("23:30"), DeliverSilently},
		{"urgent bypasses quiet hours", sample(alert.CategoryPayment, alert.PriorityUrgent), quiet, at("23:30"), DeliverDesktop},
		{"outside quiet hours escalates", sample(alert.CategoryPayment, alert.PriorityMedium), quiet, at("12:00"), DeliverDesktop},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Decide(tt.n, tt.s, tt.now); got != tt.want {
				t.Fatalf("Decide = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecideIsDeterministic(t *testing.T) {
	t.Parallel()
	s := alert.DefaultSettings()
	s.QuietHours = alert.QuietHours{Enabled: true, Start: "22:00", End: "08:00"}
	n := sample(alert.CategorySystem, alert.PriorityHigh)
	now := at("23:30")

	first := Decide(n, s, now)
	for i := 0; i < 100; i++ {
		if got := Decide(n, s, now); got != first {
			t.Fatalf("Decide flapped: %v then %v", first, got)
		}
	}
}

func TestQuietWindow(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		start, end string
		now        string
		want       bool
	}{
		{"wrapped inside late", "22:00", "08:00", "23:30", true},
		{"wrapped inside early", "22:00", "08:00", "06:15", true},
		{"wrapped outside", "22:00", "08:00", "12:00", false},
		{"wrapped start boundary", "22:00", "08:00", "22:00", true},
		{"wrapped end boundary", "22:00", "08:00", "08:00", true},
		{"plain inside", "09:00", "17:00", "12:34", true},
		{"plain outside", "09:00", "17:00", "18:00", false},
		{"plain boundaries", "09:00", "17:00", "09:00", true},
		{"bad bounds disable window", "banana", "08:00", "03:00", false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := inWindow(at(tt.now), tt.start, tt.end); got != tt.want {
				t.Fatalf("inWindow(%s in %s-%s) = %v, want %v", tt.now, tt.start, tt.end, got, tt.want)
			}
		})
	}
}
