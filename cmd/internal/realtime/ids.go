package realtime

import (
	"time"

	"github.com/PedroAbreu017/Help-Desk-System-sub001/cmd/identity/ids"
)

// newConnectionID returns a ULID used as a websocket connection id. ULIDs
// order by time, which keeps connection ids useful when scanning logs.
func newConnectionID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// newEnvelopeID returns a ULID used as an envelope id.
func newEnvelopeID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
