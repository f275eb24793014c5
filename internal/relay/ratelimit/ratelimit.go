// Package ratelimit gates proxy admission per user identity with dual
// token buckets: a long ceiling and a short burst ceiling.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds rate limiter ceilings and windows
type Config struct {
	LongMax     int           // Requests allowed per long window
	LongWindow  time.Duration // Long window span
	BurstMax    int           // Requests allowed per burst window
	BurstWindow time.Duration // Burst window span
}

// DefaultConfig returns the default rate limiter configuration
func DefaultConfig() Config {
	return Config{
		LongMax:     1000,
		LongWindow:  15 * time.Minute,
		BurstMax:    100,
		BurstWindow: time.Minute,
	}
}

// userLimit holds both buckets for one user identity. The mutex
// serializes reserve/cancel pairs so a rejected admission restores its
// tokens exactly and concurrent admissions never overshoot a ceiling.
type userLimit struct {
	mu       sync.Mutex
	long     *rate.Limiter
	burst    *rate.Limiter
	lastSeen time.Time
}

// Limiter admits or rejects requests per user identity. Each user gets
// two token buckets sized to the configured ceilings, refilled at the
// ceiling-per-window rate; users are independent partitions.
type Limiter struct {
	cfg   Config
	mu    sync.RWMutex
	users map[string]*userLimit
}

// NewLimiter creates a rate limiter with the given configuration
func NewLimiter(cfg Config) *Limiter {
	if cfg.LongMax <= 0 {
		cfg.LongMax = DefaultConfig().LongMax
	}
	if cfg.LongWindow <= 0 {
		cfg.LongWindow = DefaultConfig().LongWindow
	}
	if cfg.BurstMax <= 0 {
		cfg.BurstMax = DefaultConfig().BurstMax
	}
	if cfg.BurstWindow <= 0 {
		cfg.BurstWindow = DefaultConfig().BurstWindow
	}

	return &Limiter{
		cfg:   cfg,
		users: make(map[string]*userLimit),
	}
}

// user returns the limit state for userID, creating it lazily
func (l *Limiter) user(userID string) *userLimit {
	l.mu.RLock()
	ul, ok := l.users[userID]
	l.mu.RUnlock()
	if ok {
		return ul
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if ul, ok = l.users[userID]; ok {
		return ul
	}
	ul = &userLimit{
		long:  rate.NewLimiter(rate.Every(l.cfg.LongWindow/time.Duration(l.cfg.LongMax)), l.cfg.LongMax),
		burst: rate.NewLimiter(rate.Every(l.cfg.BurstWindow/time.Duration(l.cfg.BurstMax)), l.cfg.BurstMax),
	}
	l.users[userID] = ul
	return ul
}

// Admit reports whether a request for userID is within both ceilings.
// A rejected request consumes no budget: reservations that cannot be
// satisfied immediately are cancelled, and a long-ceiling rejection
// hands back the burst token it already took.
func (l *Limiter) Admit(userID string) bool {
	ul := l.user(userID)

	ul.mu.Lock()
	defer ul.mu.Unlock()

	now := time.Now()
	ul.lastSeen = now

	burstRes := ul.burst.ReserveN(now, 1)
	if !burstRes.OK() || burstRes.DelayFrom(now) > 0 {
		burstRes.CancelAt(now)
		return false
	}

	longRes := ul.long.ReserveN(now, 1)
	if !longRes.OK() || longRes.DelayFrom(now) > 0 {
		longRes.CancelAt(now)
		burstRes.CancelAt(now)
		return false
	}

	return true
}

// Sweep discards per-user state idle for longer than the long window
func (l *Limiter) Sweep() {
	cutoff := time.Now().Add(-l.cfg.LongWindow)

	l.mu.Lock()
	defer l.mu.Unlock()
	for userID, ul := range l.users {
		ul.mu.Lock()
		idle := ul.lastSeen.Before(cutoff)
		ul.mu.Unlock()
		if idle {
			delete(l.users, userID)
		}
	}
}
