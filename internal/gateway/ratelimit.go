package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const maxTrackedUsers = 10000

// userLimiter keeps one token bucket per user.
type userLimiter struct {
	mu    sync.Mutex
	limit rate.Limit
	burst int
	users map[string]*rate.Limiter
}

func newUserLimiter(perSecond float64, burst int) *userLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &userLimiter{
		limit: rate.Limit(perSecond),
		burst: burst,
		users: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether user may submit now. A nil limiter allows everything.
func (l *userLimiter) Allow(user string) bool {
	if l == nil {
		return true
	}
	return l.allowAt(user, time.Now())
}

func (l *userLimiter) allowAt(user string, now time.Time) bool {
	l.mu.Lock()
	lim, ok := l.users[user]
	if !ok {
		if len(l.users) >= maxTrackedUsers {
			// dropping idle buckets only ever refills them
			l.users = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(l.limit, l.burst)
		l.users[user] = lim
	}
	l.mu.Unlock()
	return lim.AllowN(now, 1)
}
