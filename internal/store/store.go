// Package store holds the in-memory notification collection for the current
// session. It is the exclusive owner of the records: everything returned by
// queries is a copy, and all mutations keep the unread count consistent.
package store

import (
	"sync"

	"opsbell/internal/alert"
)

// Store keeps notifications most-recent-first.
//
// It is safe for concurrent use. Commands on missing ids are silent no-ops:
// a mark-read may legitimately race with a delete issued elsewhere.
type Store struct {
	mu     sync.Mutex
	items  []alert.Notification // index 0 is the newest
	ids    map[string]struct{}
	unread int
}

func New() *Store {
	return &Store{ids: map[string]struct{}{}}
}

// Add inserts a notification at the front. A notification whose id is already
// present is a no-op and reports false (dedup on arrival).
func (s *Store) Add(n alert.Notification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.ids[n.ID]; dup {
		return false
	}
	s.items = append([]alert.Notification{n.Clone()}, s.items...)
	s.ids[n.ID] = struct{}{}
	s.recount()
	return true
}

// BulkLoad replaces the collection wholesale. Duplicate ids within the input
// keep the first occurrence. Input order is preserved (callers supply
// most-recent-first, matching the Add contract).
func (s *Store) BulkLoad(ns []alert.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = s.items[:0]
	s.ids = make(map[string]struct{}, len(ns))
	for _, n := range ns {
		if _, dup := s.ids[n.ID]; dup {
			continue
		}
		s.items = append(s.items, n.Clone())
		s.ids[n.ID] = struct{}{}
	}
	s.recount()
}

// MarkRead sets the read flag on the matching record, if present.
func (s *Store) MarkRead(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		if s.items[i].ID == id {
			s.items[i].Read = true
			break
		}
	}
	s.recount()
}

// MarkAllRead sets the read flag on every record.
func (s *Store) MarkAllRead() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		s.items[i].Read = true
	}
	s.recount()
}

// Delete removes the matching record, if present.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		if s.items[i].ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			delete(s.ids, id)
			break
		}
	}
	s.recount()
}

// Clear empties the collection.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = s.items[:0]
	s.ids = map[string]struct{}{}
	s.recount()
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// UnreadCount always equals the number of records with Read == false.
func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// All returns the collection most-recent-first.
func (s *Store) All() []alert.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyWhere(func(alert.Notification) bool { return true })
}

// ByCategory returns notifications of one category, most-recent-first.
func (s *Store) ByCategory(c alert.Category) []alert.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyWhere(func(n alert.Notification) bool { return n.Category == c })
}

// Unread returns unread notifications, most-recent-first.
func (s *Store) Unread() []alert.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyWhere(func(n alert.Notification) bool { return !n.Read })
}

// UrgentUnread returns unread urgent-priority notifications.
func (s *Store) UrgentUnread() []alert.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyWhere(func(n alert.Notification) bool {
		return !n.Read && n.Priority == alert.PriorityUrgent
	})
}

// recount re-derives the unread counter from the records. Called after every
// mutation while the lock is held; the counter is never stored independently
// of the collection.
func (s *Store) recount() {
	c := 0
	for i := range s.items {
		if !s.items[i].Read {
			c++
		}
	}
	s.unread = c
}

func (s *Store) copyWhere(keep func(alert.Notification) bool) []alert.Notification {
	out := make([]alert.Notification, 0, len(s.items))
	for i := range s.items {
		if keep(s.items[i]) {
			out = append(out, s.items[i].Clone())
		}
	}
	return out
}
