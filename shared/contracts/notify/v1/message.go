package v1

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// NewMessage builds an immutable notification with a fresh ULID and creation
// timestamp.
func NewMessage(now time.Time, kind Kind, title, body string, priority Priority, scope TargetScope) Message {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if priority == "" {
		priority = PriorityNormal
	}
	return Message{
		ID:        ulid.Make().String(),
		CreatedAt: now,
		Kind:      kind,
		Title:     title,
		Body:      body,
		Priority:  priority,
		Scope:     scope,
	}
}
