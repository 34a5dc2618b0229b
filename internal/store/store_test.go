package store

import (
	"fmt"
	"testing"
	"time"

	"opsbell/internal/alert"
)

func n(id string, opts ...func(*alert.Notification)) alert.Notification {
	v := alert.Notification{
		ID:        id,
		Type:      alert.TypeInfo,
		Category:  alert.CategorySystem,
		Title:     "title " + id,
		Message:   "message " + id,
		Timestamp: time.Now(),
		Priority:  alert.PriorityMedium,
	}
	for _, o := range opts {
		o(&v)
	}
	return v
}

func read(v *alert.Notification)   { v.Read = true }
func urgent(v *alert.Notification) { v.Priority = alert.PriorityUrgent }

func TestAddDeduplicates(t *testing.T) {
	t.Parallel()
	s := New()

	if !s.Add(n("a")) {
		t.Fatal("first add should report true")
	}
	if s.Add(n("a")) {
		t.Fatal("duplicate add should report false")
	}
	if got := s.Len(); got != 1 {
		t.Fatalf("Len = %d, want 1", got)
	}
}

func TestOrderingMostRecentFirst(t *testing.T) {
	t.Parallel()
	s := New()
	for _, id := range []string{"A", "B", "C"} {
		s.Add(n(id))
	}

	got := s.All()
	want := []string{"C", "B", "A"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Fatalf("order[%d] = %s, want %s", i, got[i].ID, want[i])
		}
	}
}

func TestUnreadInvariant(t *testing.T) {
	t.Parallel()
	s := New()

	check := func(step string) {
		t.Helper()
		derived := 0
		for _, v := range s.All() {
			if !v.Read {
				derived++
			}
		}
		if got := s.UnreadCount(); got != derived {
			t.Fatalf("%s: UnreadCount = %d, derived = %d", step, got, derived)
		}
	}

	for i := 0; i < 5; i++ {
		s.Add(n(fmt.Sprintf("n%d", i)))
		check("add")
	}
	s.MarkRead("n1")
	check("markRead")
	s.MarkRead("missing")
	check("markRead missing")
	s.Delete("n0")
	check("delete")
	s.MarkAllRead()
	check("markAllRead")
	if got := s.UnreadCount(); got != 0 {
		t.Fatalf("after MarkAllRead UnreadCount = %d, want 0", got)
	}
	s.Clear()
	check("clear")
	if got := s.Len(); got != 0 {
		t.Fatalf("after Clear Len = %d, want 0", got)
	}
}

func TestBulkLoadKeepsFirstOccurrence(t *testing.T) {
	t.Parallel()
	s := New()
	s.Add(n("stale"))

	first := n("dup")
	first.Title = "first"
	second := n("dup")
	second.Title = "second"

	s.BulkLoad([]alert.Notification{first, second, n("other")})

	if got := s.Len(); got != 2 {
		t.Fatalf("Len = %d, want 2 (stale replaced, dup collapsed)", got)
	}
	all := s.All()
	if all[0].ID != "dup" || all[0].Title != "first" {
		t.Fatalf("first occurrence should win, got %q/%q", all[0].ID, all[0].Title)
	}
}

func TestMissingIDCommandsAreNoOps(t *testing.T) {
	t.Parallel()
	s := New()
	s.Add(n("only"))

	s.MarkRead("nope")
	s.Delete("nope")

	if got := s.Len(); got != 1 {
		t.Fatalf("Len = %d, want 1", got)
	}
	if got := s.UnreadCount(); got != 1 {
		t.Fatalf("UnreadCount = %d, want 1", got)
	}
}

func TestQueries(t *testing.T) {
	t.Parallel()
	s := New()
	s.Add(n("inv1", func(v *alert.Notification) { v.Category = alert.CategoryInvoice }))
	s.Add(n("sec1", func(v *alert.Notification) { v.Category = alert.CategorySecurity }, urgent))
	s.Add(n("inv2", func(v *alert.Notification) { v.Category = alert.CategoryInvoice }, read))
	s.Add(n("sys1", urgent, read))

	if got := len(s.ByCategory(alert.CategoryInvoice)); got != 2 {
		t.Fatalf("ByCategory(invoice) = %d, want 2", got)
	}
	if got := len(s.Unread()); got != 2 {
		t.Fatalf("Unread = %d, want 2", got)
	}
	uu := s.UrgentUnread()
	if len(uu) != 1 || uu[0].ID != "sec1" {
		t.Fatalf("UrgentUnread = %v, want [sec1]", uu)
	}
}

func TestQueriesReturnCopies(t *testing.T) {
	t.Parallel()
	s := New()
	v := n("meta")
	v.Metadata = map[string]string{"entity_type": "invoice", "entity_id": "42"}
	s.Add(v)

	out := s.All()
	out[0].Read = true
	out[0].Metadata["entity_id"] = "evil"

	fresh := s.All()[0]
	if fresh.Read {
		t.Fatal("mutating a query result must not change the store")
	}
	if fresh.Metadata["entity_id"] != "42" {
		t.Fatal("metadata map leaked by reference")
	}
	if got := s.UnreadCount(); got != 1 {
		t.Fatalf("UnreadCount = %d, want 1", got)
	}
}

// Mirrors the end-to-end session scenario: bulk load, partial read, duplicate
// push, clear.
func TestSessionScenario(t *testing.T) {
	t.Parallel()
	s := New()
	s.BulkLoad([]alert.Notification{n("1"), n("2")})

	if got := s.UnreadCount(); got != 2 {
		t.Fatalf("after bulk load UnreadCount = %d, want 2", got)
	}

	s.MarkRead("1")
	if got := s.UnreadCount(); got != 1 {
		t.Fatalf("after MarkRead UnreadCount = %d, want 1", got)
	}

	if s.Add(n("2")) {
		t.Fatal("duplicate push must not be stored")
	}
	if got := s.Len(); got != 2 {
		t.Fatalf("after duplicate push Len = %d, want 2", got)
	}
	if got := s.UnreadCount(); got != 1 {
		t.Fatalf("after duplicate push UnreadCount = %d, want 1", got)
	}

	s.Clear()
	if s.Len() != 0 || s.UnreadCount() != 0 {
		t.Fatalf("after Clear Len = %d UnreadCount = %d, want 0/0", s.Len(), s.UnreadCount())
	}
}
