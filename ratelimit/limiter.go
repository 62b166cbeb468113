package ratelimit

import (
	"sync"
	"time"
)

// Defaults for the per-IP admission window.
const (
	DefaultLimit  = 10
	DefaultWindow = time.Hour
)

// pruneThreshold is the IP-table size past which Admit prunes inline.
const pruneThreshold = 1024

// Limiter is a sliding-window admission gate keyed by client IP.
// Every call is recorded, admitted or not, so a sustained abuser keeps
// being rejected rather than having its window quietly reset.
type Limiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	seen   map[string][]time.Time
	now    func() time.Time
}

// New returns a Limiter admitting at most limit requests per IP within
// the trailing window. Non-positive arguments select the defaults.
func New(limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		limit:  limit,
		window: window,
		seen:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Admit records a request from ip and reports whether it falls within
// the window limit. The limit+1th request in a window returns false.
func (l *Limiter) Admit(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	cutoff := now.Add(-l.window)
	recent := trim(l.seen[ip], cutoff)
	recent = append(recent, now)
	l.seen[ip] = recent
	if len(l.seen) > pruneThreshold {
		l.pruneLocked(cutoff)
	}
	return len(recent) <= l.limit
}

// Prune drops IPs whose every recorded request has left the window.
// Safe to run from a timer; Admit also invokes it under table pressure.
func (l *Limiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(l.now().Add(-l.window))
}

func (l *Limiter) pruneLocked(cutoff time.Time) {
	for ip, stamps := range l.seen {
		if len(trim(stamps, cutoff)) == 0 {
			delete(l.seen, ip)
		}
	}
}

// trim returns the suffix of stamps at or after cutoff. Stamps are
// appended in order, so a linear scan from the front suffices.
func trim(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && stamps[i].Before(cutoff) {
		i++
	}
	return stamps[i:]
}
