package signal

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dkeye/VoiceCall/internal/domain"
)

// RoomRateLimiter caps room operations per user with a token bucket each.
type RoomRateLimiter struct {
	mu       sync.Mutex
	limiters map[domain.UserID]*userLimiter
	limit    rate.Limit
	burst    int
	idle     time.Duration
}

type userLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewRoomRateLimiter allows limit operations per interval with bursts of limit.
func NewRoomRateLimiter(limit int, interval time.Duration) *RoomRateLimiter {
	return &RoomRateLimiter{
		limiters: make(map[domain.UserID]*userLimiter),
		limit:    rate.Every(interval / time.Duration(max(limit, 1))),
		burst:    max(limit, 1),
		idle:     interval,
	}
}

func (rl *RoomRateLimiter) Allow(uid domain.UserID) bool {
	if rl == nil {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	ul, ok := rl.limiters[uid]
	if !ok {
		ul = &userLimiter{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[uid] = ul
	}
	ul.seen = now
	allowed := ul.lim.AllowN(now, 1)
	rl.sweep(now)
	return allowed
}

// sweep forgets users idle for longer than the refill window; their bucket
// would be full again anyway.
func (rl *RoomRateLimiter) sweep(now time.Time) {
	if len(rl.limiters) < 1024 {
		return
	}
	for uid, ul := range rl.limiters {
		if now.Sub(ul.seen) > rl.idle {
			delete(rl.limiters, uid)
		}
	}
}
