package authapi

import (
	"sync"
	"time"
)

// ipThrottle is a sliding-window per-IP counter used to slow credential
// stuffing on the login endpoint. State is in-process; a multi-instance
// deployment gets per-instance limits, which is acceptable for this tier.
type ipThrottle struct {
	max    int
	window time.Duration

	mu      sync.Mutex
	hits    map[string][]time.Time
	lastGC  time.Time
	gcEvery time.Duration
}

func newIPThrottle(max int, window time.Duration) *ipThrottle {
	if max <= 0 {
		max = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return &ipThrottle{
		max:     max,
		window:  window,
		hits:    make(map[string][]time.Time),
		gcEvery: 5 * window,
	}
}

// Allow records an attempt from ip and reports whether it is within budget.
func (t *ipThrottle) Allow(ip string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.maybeGCLocked(now)

	cutoff := now.Add(-t.window)
	kept := t.hits[ip][:0]
	for _, at := range t.hits[ip] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	if len(kept) >= t.max {
		t.hits[ip] = kept
		return false
	}
	t.hits[ip] = append(kept, now)
	return true
}

// maybeGCLocked drops IPs with no recent attempts so the map does not grow
// unbounded across scans.
func (t *ipThrottle) maybeGCLocked(now time.Time) {
	if now.Sub(t.lastGC) < t.gcEvery {
		return
	}
	t.lastGC = now
	cutoff := now.Add(-t.window)
	for ip, times := range t.hits {
		live := false
		for _, at := range times {
			if at.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(t.hits, ip)
		}
	}
}
