// Package v1 defines the wire contract for the help desk notification socket.
//
// Every frame on the socket is an Envelope. Payload shapes are versioned with
// the envelope; breaking changes require a new contract package.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	Version = 1

	// Client -> server.
	TypeTicketJoin   = "ticket.join"
	TypeTicketLeave  = "ticket.leave"
	TypeNotifyRead   = "notification.mark_read"

	// Server -> client.
	TypeHelloAck     = "hello.ack"
	TypeNotification = "notification"
	TypeUserStats    = "user.stats"
	TypeError        = "error"
)

var AllowedTypes = map[string]struct{}{
	TypeTicketJoin:   {},
	TypeTicketLeave:  {},
	TypeNotifyRead:   {},
	TypeHelloAck:     {},
	TypeNotification: {},
	TypeUserStats:    {},
	TypeError:        {},
}

// Envelope is the framing for all socket traffic.
type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload"`
}

// Validate checks structural envelope invariants before dispatch.
func (e Envelope) Validate() error {
	if e.V != Version {
		return fmt.Errorf("invalid protocol version: got=%d want=%d", e.V, Version)
	}
	if e.Type == "" {
		return errors.New("missing type")
	}
	if _, ok := AllowedTypes[e.Type]; !ok {
		return fmt.Errorf("unsupported type: %s", e.Type)
	}
	if e.ID == "" {
		return errors.New("missing id")
	}
	if e.TS.IsZero() {
		return errors.New("missing ts")
	}
	if e.Payload == nil {
		return errors.New("missing payload")
	}
	return nil
}

// HelloAckPayload confirms a successfully authenticated connection.
type HelloAckPayload struct {
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
	Role         string `json:"role"`
}

// TicketJoinPayload subscribes the connection to a ticket room.
type TicketJoinPayload struct {
	TicketID string `json:"ticket_id"`
}

// TicketLeavePayload unsubscribes the connection from a ticket room.
type TicketLeavePayload struct {
	TicketID string `json:"ticket_id"`
}

// NotifyReadPayload marks one notification as read for the sending user.
type NotifyReadPayload struct {
	NotificationID string `json:"notification_id"`
}

// ErrorPayload reports a protocol or delivery error to the client.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// UserStatsPayload is the registry snapshot pushed on membership changes.
type UserStatsPayload struct {
	ConnectedUserCount int      `json:"connected_user_count"`
	ConnectedUserIDs   []string `json:"connected_user_ids"`
}
