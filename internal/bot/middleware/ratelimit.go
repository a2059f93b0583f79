package middleware

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleTTL: через сколько простоя лимитер пользователя удаляется.
const idleTTL = 10 * time.Minute

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter ограничивает количество запросов на пользователя.
// limit запросов за window с равномерным восполнением (token bucket).
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[int64]*userLimiter
	limit    rate.Limit
	burst    int

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	rl := &RateLimiter{
		limiters: make(map[int64]*userLimiter),
		limit:    rate.Every(window / time.Duration(limit)),
		burst:    limit,
		stopCh:   make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Close останавливает фоновую горутину очистки.
// Его надо вызывать на shutdown (иначе cleanup будет жить вечно).
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimiter) Allow(userID int64) bool {
	return rl.allowAt(userID, time.Now())
}

func (rl *RateLimiter) allowAt(userID int64, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	ul, ok := rl.limiters[userID]
	if !ok {
		ul = &userLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[userID] = ul
	}
	ul.lastSeen = now
	return ul.limiter.AllowN(now, 1)
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case now := <-ticker.C:
			rl.evictIdle(now)
		}
	}
}

func (rl *RateLimiter) evictIdle(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for userID, ul := range rl.limiters {
		if now.Sub(ul.lastSeen) > idleTTL {
			delete(rl.limiters, userID)
		}
	}
}
