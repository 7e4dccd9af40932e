package satclient

import (
	"sync"
	"time"
)

// breaker tracks consecutive transport failures against the remote service.
// After failureThreshold consecutive failures the circuit opens and calls
// fail fast without touching the network. Once probeAfter has elapsed a
// single probe call is let through; its outcome decides whether the circuit
// closes or the window restarts.
type breaker struct {
	mu               sync.Mutex
	open             bool
	probing          bool
	failureCount     int
	failureThreshold int
	probeAfter       time.Duration
	openedAt         time.Time
	now              func() time.Time
}

func newBreaker(failureThreshold int, probeAfter time.Duration, now func() time.Time) *breaker {
	if now == nil {
		now = time.Now
	}
	return &breaker{
		failureThreshold: failureThreshold,
		probeAfter:       probeAfter,
		now:              now,
	}
}

// Allow reports whether a call may proceed. While open, only one probe is
// admitted per probe window.
func (b *breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return true
	}
	if b.probing || b.now().Sub(b.openedAt) < b.probeAfter {
		return false
	}
	b.probing = true
	return true
}

func (b *breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount++
	b.probing = false
	if b.open {
		b.openedAt = b.now()
		return
	}
	if b.failureCount >= b.failureThreshold {
		b.open = true
		b.openedAt = b.now()
	}
}

func (b *breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = false
	b.probing = false
	b.failureCount = 0
}
