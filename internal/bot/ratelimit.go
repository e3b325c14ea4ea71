package bot

import (
	"sync"
	"time"
)

// RateLimiter ограничение частоты команд на пользователя, в памяти
type RateLimiter struct {
	mu       sync.Mutex
	lastCall map[int64]map[string]time.Time
	limits   map[string]time.Duration
	exempt   func(userID int64) bool
	now      func() time.Time
}

func NewRateLimiter(exempt func(userID int64) bool) *RateLimiter {
	return &RateLimiter{
		lastCall: make(map[int64]map[string]time.Time),
		limits: map[string]time.Duration{
			"buy":           3 * time.Second,
			"pay":           10 * time.Second,
			"check":         5 * time.Second,
			"trial":         10 * time.Second,
			"subscriptions": 3 * time.Second,
			"link":          3 * time.Second,
			"traffic":       5 * time.Second,
		},
		exempt: exempt,
		now:    time.Now,
	}
}

// IsLimited true, если пользователь вызывает команду чаще лимита
func (r *RateLimiter) IsLimited(userID int64, cmd string) bool {
	// Админ не лимитируется
	if r.exempt != nil && r.exempt(userID) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if r.lastCall[userID] == nil {
		r.lastCall[userID] = make(map[string]time.Time)
	}
	limit, ok := r.limits[cmd]
	if !ok {
		limit = time.Second
	}
	last := r.lastCall[userID][cmd]
	if now.Sub(last) < limit {
		return true
	}
	r.lastCall[userID][cmd] = now
	return false
}
