package gateway

import (
	"sync"
	"time"
)

// DefaultMessagesPerMinute bounds how many frames one connection may
// send in any sliding one minute window.
const DefaultMessagesPerMinute = 120

// MessageLimiter implements sliding window rate limiting for one
// connection's inbound frames.
type MessageLimiter struct {
	mu        sync.Mutex
	perMinute int
	arrivals  []time.Time
}

// NewMessageLimiter creates a limiter allowing perMinute frames per
// sliding window. Zero or negative perMinute selects the default.
func NewMessageLimiter(perMinute int) *MessageLimiter {
	if perMinute <= 0 {
		perMinute = DefaultMessagesPerMinute
	}
	return &MessageLimiter{
		perMinute: perMinute,
		arrivals:  make([]time.Time, 0),
	}
}

// Allow records one frame arrival and reports whether it fits the
// window.
func (l *MessageLimiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()

	// Drop arrivals that slid out of the window
	cutoff := now.Add(-time.Minute)
	valid := make([]time.Time, 0, len(l.arrivals))
	for _, arrival := range l.arrivals {
		if arrival.After(cutoff) {
			valid = append(valid, arrival)
		}
	}
	l.arrivals = valid

	if len(l.arrivals) >= l.perMinute {
		return false
	}

	l.arrivals = append(l.arrivals, now)
	return true
}

// Count returns how many arrivals sit inside the current window.
func (l *MessageLimiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-time.Minute)
	valid := make([]time.Time, 0, len(l.arrivals))
	for _, arrival := range l.arrivals {
		if arrival.After(cutoff) {
			valid = append(valid, arrival)
		}
	}
	l.arrivals = valid

	return len(l.arrivals)
}
