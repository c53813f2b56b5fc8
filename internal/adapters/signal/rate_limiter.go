package signal

import (
	"sync"
	"time"

	"github.com/stagehand-live/stagehand/internal/domain"
)

// JoinRateLimiter throttles join attempts per peer over a sliding
// window.
type JoinRateLimiter struct {
	mu       sync.Mutex
	history  map[domain.PeerID][]time.Time
	limit    int
	interval time.Duration
}

func NewJoinRateLimiter(limit int, interval time.Duration) *JoinRateLimiter {
	return &JoinRateLimiter{
		history:  make(map[domain.PeerID][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

func (rl *JoinRateLimiter) Allow(peerID domain.PeerID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[peerID]
	fresh := make([]time.Time, 0, len(attempts))
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[peerID] = fresh
		return false
	}

	fresh = append(fresh, now)
	rl.history[peerID] = fresh
	return true
}
