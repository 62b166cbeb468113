package ratelimit

import (
	"fmt"
	"testing"
	"time"
)

func frozenLimiter(limit int, window time.Duration, at time.Time) (*Limiter, *time.Time) {
	now := at
	l := New(limit, window)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestAdmitWithinLimit(t *testing.T) {
	l := New(10, time.Hour)
	for i := 1; i <= 10; i++ {
		if !l.Admit("198.51.100.7") {
			t.Fatalf("call %d should have been admitted", i)
		}
	}
	if l.Admit("198.51.100.7") {
		t.Error("call 11 within the window should be rejected")
	}
}

func TestRejectedCallsStillCount(t *testing.T) {
	start := time.Date(2019, 6, 1, 12, 0, 0, 0, time.UTC)
	l, now := frozenLimiter(10, time.Hour, start)
	for i := 0; i < 15; i++ {
		l.Admit("198.51.100.7")
		*now = now.Add(time.Minute)
	}
	// 15 calls over 15 minutes: the window still holds more than 10
	// entries, so the attacker stays rejected instead of being reset.
	if l.Admit("198.51.100.7") {
		t.Error("sustained abuser should remain rejected")
	}
}

func TestWindowSlides(t *testing.T) {
	start := time.Date(2019, 6, 1, 12, 0, 0, 0, time.UTC)
	l, now := frozenLimiter(2, time.Hour, start)
	l.Admit("198.51.100.7")
	l.Admit("198.51.100.7")
	if l.Admit("198.51.100.7") {
		t.Fatal("third call should be rejected")
	}
	*now = start.Add(time.Hour + time.Minute)
	if !l.Admit("198.51.100.7") {
		t.Error("requests older than the window should no longer count")
	}
}

func TestIPsAreIndependent(t *testing.T) {
	l := New(1, time.Hour)
	if !l.Admit("198.51.100.7") {
		t.Fatal("first IP should be admitted")
	}
	if !l.Admit("198.51.100.8") {
		t.Error("a different IP has its own window")
	}
}

func TestPruneDropsIdleIPs(t *testing.T) {
	start := time.Date(2019, 6, 1, 12, 0, 0, 0, time.UTC)
	l, now := frozenLimiter(10, time.Hour, start)
	for i := 0; i < 20; i++ {
		l.Admit(fmt.Sprintf("198.51.100.%d", i))
	}
	*now = start.Add(2 * time.Hour)
	l.Prune()
	if got := len(l.seen); got != 0 {
		t.Errorf("Prune left %d idle IP entries, want 0", got)
	}
}

func TestDefaults(t *testing.T) {
	l := New(0, 0)
	if l.limit != DefaultLimit || l.window != DefaultWindow {
		t.Errorf("New(0, 0) = limit %d window %v, want defaults", l.limit, l.window)
	}
}
