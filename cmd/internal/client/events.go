package client

import "sync"

// LogoutReason explains why a session ended.
type LogoutReason string

const (
	// ReasonUserInitiated means the user called Logout.
	ReasonUserInitiated LogoutReason = "user_initiated"
	// ReasonRenewalFailed means the server definitively rejected a renewal.
	ReasonRenewalFailed LogoutReason = "renewal_failed"
	// ReasonInactivity means the inactivity watchdog expired.
	ReasonInactivity LogoutReason = "inactivity"
	// ReasonExternalLogout means another context sharing the Storage cleared
	// the session.
	ReasonExternalLogout LogoutReason = "external_logout"
)

// logoutObservers is an owned observer list. Callbacks run synchronously in
// the goroutine that tore the session down, outside the manager lock.
type logoutObservers struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(LogoutReason)
}

func newLogoutObservers() *logoutObservers {
	return &logoutObservers{fns: make(map[int]func(LogoutReason))}
}

func (o *logoutObservers) add(fn func(LogoutReason)) (cancel func()) {
	o.mu.Lock()
	id := o.next
	o.next++
	o.fns[id] = fn
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		delete(o.fns, id)
		o.mu.Unlock()
	}
}

func (o *logoutObservers) notify(reason LogoutReason) {
	o.mu.Lock()
	fns := make([]func(LogoutReason), 0, len(o.fns))
	for _, fn := range o.fns {
		fns = append(fns, fn)
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(reason)
	}
}
