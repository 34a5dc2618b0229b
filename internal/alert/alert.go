// Package alert defines the notification model shared by the delivery engine:
// the wire shape of a pushed alert, its enums, and per-user settings.
package alert

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrInvalidPayload = errors.New("invalid notification payload")

// Type classifies the tone of a notification.
type Type string

const (
	TypeInfo    Type = "info"
	TypeSuccess Type = "success"
	TypeWarning Type = "warning"
	TypeError   Type = "error"
)

// Category names the business subsystem a notification originates from.
type Category string

const (
	CategoryInvoice  Category = "invoice"
	CategoryPayment  Category = "payment"
	CategoryCustomer Category = "customer"
	CategorySystem   Category = "system"
	CategorySecurity Category = "security"
	CategoryReminder Category = "reminder"
)

// Priority orders notifications by operational urgency.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Categories lists all known categories in a stable order.
func Categories() []Category {
	return []Category{
		CategoryInvoice, CategoryPayment, CategoryCustomer,
		CategorySystem, CategorySecurity, CategoryReminder,
	}
}

// Priorities lists all known priorities in ascending urgency.
func Priorities() []Priority {
	return []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}
}

func (t Type) Valid() bool {
	switch t {
	case TypeInfo, TypeSuccess, TypeWarning, TypeError:
		return true
	}
	return false
}

func (c Category) Valid() bool {
	switch c {
	case CategoryInvoice, CategoryPayment, CategoryCustomer,
		CategorySystem, CategorySecurity, CategoryReminder:
		return true
	}
	return false
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Action is one interactive affordance attached to a notification
// (e.g. "view invoice", "retry export"). Kind is an application-defined verb.
type Action struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Kind  string `json:"kind"`
}

// Notification is one operational alert.
//
// Records are owned by the store for the lifetime of a session; everything
// handed out to callers is a copy.
type Notification struct {
	ID        string            `json:"id"`
	Type      Type              `json:"type"`
	Category  Category          `json:"category"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Timestamp time.Time         `json:"timestamp"`
	Read      bool              `json:"isRead"`
	Priority  Priority          `json:"priority"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Actions   []Action          `json:"actions,omitempty"`
}

// Clone returns a deep copy so store internals never leak mutable references.
func (n Notification) Clone() Notification {
	cp := n
	if n.Metadata != nil {
		cp.Metadata = make(map[string]string, len(n.Metadata))
		for k, v := range n.Metadata {
			cp.Metadata[k] = v
		}
	}
	if n.Actions != nil {
		cp.Actions = append([]Action(nil), n.Actions...)
	}
	return cp
}

// Validate checks the required fields of an already-decoded notification.
func (n Notification) Validate() error {
	switch {
	case n.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidPayload)
	case n.Title == "":
		return fmt.Errorf("%w: missing title", ErrInvalidPayload)
	case n.Message == "":
		return fmt.Errorf("%w: missing message", ErrInvalidPayload)
	case n.Timestamp.IsZero():
		return fmt.Errorf("%w: missing timestamp", ErrInvalidPayload)
	case !n.Type.Valid():
		return fmt.Errorf("%w: unknown type %q", ErrInvalidPayload, n.Type)
	case !n.Category.Valid():
		return fmt.Errorf("%w: unknown category %q", ErrInvalidPayload, n.Category)
	case !n.Priority.Valid():
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidPayload, n.Priority)
	}
	return nil
}

// ParsePayload decodes one inbound push frame.
//
// A frame that fails to decode or misses a required field is rejected; the
// transport logs and drops it without touching connection state.
func ParsePayload(data []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := n.Validate(); err != nil {
		return Notification{}, err
	}
	return n, nil
}
