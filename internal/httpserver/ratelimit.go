package httpserver

import (
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// userLimiter applies a token bucket per user id and evicts idle entries.
type userLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu     sync.Mutex
	byUser map[string]*limiterEntry
	hits   uint64
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newUserLimiter returns nil when rps or burst is not positive; a nil
// limiter allows everything.
func newUserLimiter(rps float64, burst int, idleTTL time.Duration) *userLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &userLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
		byUser:  make(map[string]*limiterEntry),
	}
}

func (l *userLimiter) Allow(userID int64, now time.Time) bool {
	if l == nil {
		return true
	}
	key := strconv.FormatInt(userID, 10)

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byUser[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byUser[key] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%512 == 0 {
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.byUser {
			if v.lastSeen.Before(cutoff) {
				delete(l.byUser, k)
			}
		}
	}
	return allowed
}
