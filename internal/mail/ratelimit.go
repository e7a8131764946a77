package mail

import (
	"fmt"
	"sync"
	"time"
)

// RateLimiter enforces hourly and daily send caps over a sliding window of
// send timestamps. History is pruned lazily on every read; there is no
// background timer. State lives for the process lifetime only.
type RateLimiter struct {
	mu          sync.Mutex
	history     []time.Time
	hourlyLimit int
	dailyLimit  int
	totalSent   int

	now func() time.Time
}

// Statistics is a point-in-time snapshot of send activity.
type Statistics struct {
	TotalSent       int `json:"total_sent"`
	SentLastHour    int `json:"sent_last_hour"`
	SentLast24h     int `json:"sent_last_24h"`
	HourlyLimit     int `json:"hourly_limit"`
	DailyLimit      int `json:"daily_limit"`
	HourlyRemaining int `json:"hourly_remaining"`
	DailyRemaining  int `json:"daily_remaining"`
}

// NewRateLimiter creates a rate limiter with the given caps.
func NewRateLimiter(hourlyLimit, dailyLimit int) *RateLimiter {
	return &RateLimiter{
		hourlyLimit: hourlyLimit,
		dailyLimit:  dailyLimit,
		now:         time.Now,
	}
}

// MaySend reports whether another send is allowed right now. When it is not,
// the returned reason is human-readable and names the exhausted cap.
func (r *RateLimiter) MaySend() (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.prune(now)

	recentHour := 0
	oneHourAgo := now.Add(-time.Hour)
	for _, ts := range r.history {
		if ts.After(oneHourAgo) {
			recentHour++
		}
	}
	if recentHour >= r.hourlyLimit {
		return false, fmt.Sprintf("hourly limit reached: %d/%d emails", recentHour, r.hourlyLimit)
	}
	if len(r.history) >= r.dailyLimit {
		return false, fmt.Sprintf("daily limit reached: %d/%d emails", len(r.history), r.dailyLimit)
	}
	return true, "rate limits ok"
}

// RecordSend appends a send timestamp. Call only after a transport send is
// confirmed successful, never speculatively.
func (r *RateLimiter) RecordSend() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, r.now())
	r.totalSent++
}

// Statistics returns current sending statistics.
func (r *RateLimiter) Statistics() Statistics {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.prune(now)

	recentHour := 0
	oneHourAgo := now.Add(-time.Hour)
	for _, ts := range r.history {
		if ts.After(oneHourAgo) {
			recentHour++
		}
	}
	return Statistics{
		TotalSent:       r.totalSent,
		SentLastHour:    recentHour,
		SentLast24h:     len(r.history),
		HourlyLimit:     r.hourlyLimit,
		DailyLimit:      r.dailyLimit,
		HourlyRemaining: r.hourlyLimit - recentHour,
		DailyRemaining:  r.dailyLimit - len(r.history),
	}
}

// prune drops timestamps older than 24 hours. Caller must hold the lock.
func (r *RateLimiter) prune(now time.Time) {
	oneDayAgo := now.Add(-24 * time.Hour)
	kept := r.history[:0]
	for _, ts := range r.history {
		if ts.After(oneDayAgo) {
			kept = append(kept, ts)
		}
	}
	r.history = kept
}
