package alert

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func validPayload() string {
	return `{
		"id":"n-1","type":"warning","category":"invoice",
		"title":"Invoice overdue","message":"Invoice INV-7 is 14 days overdue",
		"timestamp":"2026-03-14T10:00:00Z","priority":"high","isRead":false,
		"metadata":{"invoice":"INV-7"},
		"actions":[{"id":"open","label":"Open invoice","kind":"navigate"}]
	}`
}

func TestParsePayload(t *testing.T) {
	t.Parallel()

	n, err := ParsePayload([]byte(validPayload()))
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if n.ID != "n-1" || n.Category != CategoryInvoice || n.Priority != PriorityHigh {
		t.Fatalf("decoded = %+v", n)
	}
	if n.Metadata["invoice"] != "INV-7" || len(n.Actions) != 1 {
		t.Fatalf("metadata/actions lost: %+v", n)
	}
}

func TestParsePayloadRejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(string) string
		wantSub string
	}{
		{"not json", func(string) string { return `{"id":` }, "invalid notification payload"},
		{"missing id", func(s string) string { return strings.Replace(s, `"id":"n-1"`, `"id":""`, 1) }, "missing id"},
		{"missing title", func(s string) string { return strings.Replace(s, `"title":"Invoice overdue"`, `"title":""`, 1) }, "missing title"},
		{"unknown type", func(s string) string { return strings.Replace(s, `"type":"warning"`, `"type":"shout"`, 1) }, "unknown type"},
		{"unknown category", func(s string) string { return strings.Replace(s, `"category":"invoice"`, `"category":"gossip"`, 1) }, "unknown category"},
		{"unknown priority", func(s string) string { return strings.Replace(s, `"priority":"high"`, `"priority":"asap"`, 1) }, "unknown priority"},
		{"zero timestamp", func(s string) string {
			return strings.Replace(s, `"timestamp":"2026-03-14T10:00:00Z"`, `"timestamp":"0001-01-01T00:00:00Z"`, 1)
		}, "missing timestamp"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParsePayload([]byte(tc.mutate(validPayload())))
			if err == nil {
				t.Fatal("payload accepted")
			}
			if !errors.Is(err, ErrInvalidPayload) {
				t.Fatalf("err = %v, want ErrInvalidPayload", err)
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Fatalf("err = %v, want substring %q", err, tc.wantSub)
			}
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()

	n := Notification{
		ID:        "n-1",
		Type:      TypeInfo,
		Category:  CategorySystem,
		Title:     "t",
		Message:   "m",
		Timestamp: time.Now(),
		Priority:  PriorityLow,
		Metadata:  map[string]string{"k": "v"},
		Actions:   []Action{{ID: "a", Label: "A"}},
	}
	cp := n.Clone()
	cp.Metadata["k"] = "changed"
	cp.Actions[0].Label = "changed"

	if n.Metadata["k"] != "v" || n.Actions[0].Label != "A" {
		t.Fatal("Clone shared backing storage with the original")
	}
}

func TestSettingsMergeIsKeyWise(t *testing.T) {
	t.Parallel()

	base := DefaultSettings()
	over := DefaultSettings()
	over.Categories = map[Category]bool{CategoryReminder: false}
	over.Priorities = map[Priority]bool{PriorityLow: false}

	merged := base.Merge(over)
	if merged.CategoryEnabled(CategoryReminder) {
		t.Fatal("override category not applied")
	}
	if !merged.CategoryEnabled(CategoryInvoice) {
		t.Fatal("unlisted category lost its default")
	}
	if merged.PriorityEnabled(PriorityLow) || !merged.PriorityEnabled(PriorityUrgent) {
		t.Fatal("priority merge wrong")
	}
}

func TestAbsentKeysDefaultToEnabled(t *testing.T) {
	t.Parallel()

	var s Settings // nil maps
	if !s.CategoryEnabled(CategorySecurity) || !s.PriorityEnabled(PriorityUrgent) {
		t.Fatal("absent keys must read as enabled")
	}
}

func TestParseClock(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"00:00", 0, false},
		{"08:30", 510, false},
		{"23:59", 1439, false},
		{" 22:00 ", 1320, false},
		{"24:00", 0, true},
		{"12:60", 0, true},
		{"noon", 0, true},
		{"", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseClock(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseClock(%q) accepted", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("ParseClock(%q) = %d, %v; want %d", tc.in, got, err, tc.want)
		}
	}
}

func TestSettingsValidate(t *testing.T) {
	t.Parallel()

	s := DefaultSettings()
	if err := s.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}

	s.QuietHours = QuietHours{Enabled: true, Start: "25:00", End: "08:00"}
	if err := s.Validate(); err == nil {
		t.Fatal("bad quiet-hours start accepted")
	}

	// Disabled quiet hours tolerate unparseable bounds.
	s.QuietHours.Enabled = false
	if err := s.Validate(); err != nil {
		t.Fatalf("disabled quiet hours must not be validated: %v", err)
	}
}
