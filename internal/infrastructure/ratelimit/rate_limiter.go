package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

const (
	ActionSendMessage   = "send_message"
	ActionTyping        = "typing"
	ActionFriendRequest = "friend_request"
	ActionUpload        = "upload"
	ActionHTTP          = "http"
)

// Limit is a token bucket: Burst tokens, refilled one every Every.
type Limit struct {
	Burst int
	Every time.Duration
}

// DefaultLimits are applied per user and action.
var DefaultLimits = map[string]Limit{
	ActionSendMessage:   {Burst: 10, Every: 6 * time.Second},
	ActionTyping:        {Burst: 30, Every: 2 * time.Second},
	ActionFriendRequest: {Burst: 10, Every: 6 * time.Minute},
	ActionUpload:        {Burst: 5, Every: 12 * time.Second},
	ActionHTTP:          {Burst: 60, Every: time.Second},
}

var fallbackLimit = Limit{Burst: 20, Every: 3 * time.Second}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter manages rate limiting for different users and actions
type RateLimiter struct {
	clock   clockwork.Clock
	limits  map[string]Limit
	buckets map[string]*bucket
	mutex   sync.Mutex
}

func NewRateLimiter(clock clockwork.Clock, limits map[string]Limit) *RateLimiter {
	if limits == nil {
		limits = DefaultLimits
	}
	return &RateLimiter{
		clock:   clock,
		limits:  limits,
		buckets: make(map[string]*bucket),
	}
}

// Allow consumes a token for the user's action. When none is left it
// reports how long until the next one.
func (rl *RateLimiter) Allow(userID, action string) (bool, time.Duration) {
	now := rl.clock.Now()
	key := userID + ":" + action

	rl.mutex.Lock()
	b, ok := rl.buckets[key]
	if !ok {
		l, found := rl.limits[action]
		if !found {
			l = fallbackLimit
		}
		b = &bucket{limiter: rate.NewLimiter(rate.Every(l.Every), l.Burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	rl.mutex.Unlock()

	if b.limiter.AllowN(now, 1) {
		return true, 0
	}

	r := b.limiter.ReserveN(now, 1)
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	return false, wait
}

// Cleanup removes buckets idle for longer than maxIdle.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) int {
	now := rl.clock.Now()

	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	removed := 0
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > maxIdle {
			delete(rl.buckets, key)
			removed++
		}
	}
	return removed
}

// StartCleanupRoutine runs Cleanup every interval until ctx ends.
func (rl *RateLimiter) StartCleanupRoutine(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := rl.clock.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				rl.Cleanup(time.Hour)
			}
		}
	}()
}
