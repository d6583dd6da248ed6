package v1

import "time"

// Priority orders notifications for client display.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Kind classifies what a notification is about.
type Kind string

const (
	KindTicketCreated  Kind = "ticket.created"
	KindTicketUpdated  Kind = "ticket.updated"
	KindTicketComment  Kind = "ticket.comment"
	KindTicketAssigned Kind = "ticket.assigned"
	KindSystem         Kind = "system"
)

// ScopeKind selects the delivery target set for a message.
type ScopeKind string

const (
	ScopeUser      ScopeKind = "user"
	ScopeRoom      ScopeKind = "room"
	ScopeBroadcast ScopeKind = "broadcast"
)

// TargetScope describes who a notification is for.
// TargetID is a user id for ScopeUser, a ticket/room id for ScopeRoom,
// and empty for ScopeBroadcast.
type TargetScope struct {
	Kind     ScopeKind `json:"kind"`
	TargetID string    `json:"target_id,omitempty"`
}

// Message is a single notification. Immutable once created; delivery is
// fire-and-forget, there is no persistence or redelivery.
type Message struct {
	ID        string      `json:"id"`
	CreatedAt time.Time   `json:"created_at"`
	Kind      Kind        `json:"kind"`
	Title     string      `json:"title"`
	Body      string      `json:"body"`
	Priority  Priority    `json:"priority"`
	Scope     TargetScope `json:"target_scope"`
}
