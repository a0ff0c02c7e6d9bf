package middleware

import (
	"sync"
	"time"
)

// loginAttempt tracks login attempts from an IP
type loginAttempt struct {
	count    int
	firstAt  time.Time
	lockedAt time.Time
	isLocked bool
}

// RateLimiter throttles repeated login attempts per IP
type RateLimiter struct {
	mu           sync.Mutex
	attempts     map[string]*loginAttempt
	maxAttempts  int
	windowPeriod time.Duration
	lockDuration time.Duration
}

// Global login rate limiter instance
var LoginRateLimiter *RateLimiter

// InitLoginRateLimiter initializes the global login rate limiter
func InitLoginRateLimiter() {
	LoginRateLimiter = NewRateLimiter(5, 15*time.Minute, 30*time.Minute)
	go LoginRateLimiter.startCleanup()
}

// NewRateLimiter creates a new rate limiter.
// maxAttempts failed logins inside windowPeriod lock the IP for
// lockDuration.
func NewRateLimiter(maxAttempts int, windowPeriod, lockDuration time.Duration) *RateLimiter {
	return &RateLimiter{
		attempts:     make(map[string]*loginAttempt),
		maxAttempts:  maxAttempts,
		windowPeriod: windowPeriod,
		lockDuration: lockDuration,
	}
}

// startCleanup periodically removes expired entries
func (rl *RateLimiter) startCleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	for range ticker.C {
		rl.cleanup()
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for ip, attempt := range rl.attempts {
		if attempt.isLocked {
			if now.Sub(attempt.lockedAt) > rl.lockDuration {
				delete(rl.attempts, ip)
			}
		} else if now.Sub(attempt.firstAt) > rl.windowPeriod {
			delete(rl.attempts, ip)
		}
	}
}

// Check reports whether an IP may attempt a login and, when locked, how
// long until the lock expires
func (rl *RateLimiter) Check(ip string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	attempt, exists := rl.attempts[ip]
	if !exists {
		return true, 0
	}

	if attempt.isLocked {
		remaining := rl.lockDuration - now.Sub(attempt.lockedAt)
		if remaining > 0 {
			return false, remaining
		}
		delete(rl.attempts, ip)
		return true, 0
	}

	if now.Sub(attempt.firstAt) > rl.windowPeriod {
		delete(rl.attempts, ip)
		return true, 0
	}

	if attempt.count >= rl.maxAttempts {
		return false, rl.windowPeriod - now.Sub(attempt.firstAt)
	}
	return true, 0
}

// RecordAttempt records a login attempt for an IP. A successful login
// clears the counter.
func (rl *RateLimiter) RecordAttempt(ip string, success bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if success {
		delete(rl.attempts, ip)
		return
	}

	now := time.Now()
	attempt, exists := rl.attempts[ip]
	if !exists || now.Sub(attempt.firstAt) > rl.windowPeriod {
		rl.attempts[ip] = &loginAttempt{count: 1, firstAt: now}
		return
	}

	attempt.count++
	if attempt.count >= rl.maxAttempts {
		attempt.isLocked = true
		attempt.lockedAt = now
	}
}
