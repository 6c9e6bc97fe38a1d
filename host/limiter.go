package host

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// signerLimiter applies a token bucket per signer and periodically evicts idle entries.
type signerLimiter struct {
	limit    rate.Limit
	burst    int
	mu       sync.Mutex
	bySigner map[string]*limiterEntry
	hits     uint64
	idleTTL  time.Duration
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newSignerLimiter returns nil, which allows everything, if rps or burst is not positive.
func newSignerLimiter(rps float64, burst int, idleTTL time.Duration) *signerLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &signerLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		bySigner: make(map[string]*limiterEntry),
		idleTTL:  idleTTL,
	}
}

// allow reports whether signer may submit one more operation at now.
func (l *signerLimiter) allow(signer string, now time.Time) bool {
	if l == nil {
		return true
	}
	signer = strings.TrimSpace(signer)
	if signer == "" {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.bySigner[signer]
	if !ok {
		e = &limiterEntry{
			limiter:  rate.NewLimiter(l.limit, l.burst),
			lastSeen: now,
		}
		l.bySigner[signer] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%512 == 0 {
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.bySigner {
			if v.lastSeen.Before(cutoff) {
				delete(l.bySigner, k)
			}
		}
	}

	return allowed
}
