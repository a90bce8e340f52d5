package ratelimit

import (
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name           string
		bytesPerSecond int64
		expectNil      bool
	}{
		{"valid rate", 1024, false},
		{"zero rate is unlimited", 0, true},
		{"negative rate is unlimited", -1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(tt.bytesPerSecond)
			if tt.expectNil && l != nil {
				t.Fatalf("expected nil limiter for rate %d", tt.bytesPerSecond)
			}
			if !tt.expectNil && l == nil {
				t.Fatalf("expected non-nil limiter for rate %d", tt.bytesPerSecond)
			}
		})
	}
}

func TestTakeNilIsNoop(t *testing.T) {
	var l *Limiter
	if d := l.Take(1 << 20); d != 0 {
		t.Fatalf("nil limiter should never wait, got %v", d)
	}
}

func TestTakeWithinBudget(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }
	l := NewWithClock(1000, clock)

	if d := l.Take(500); d != 0 {
		t.Fatalf("expected no wait within budget, got %v", d)
	}
}

func TestTakeOverBudgetReturnsWait(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }
	l := NewWithClock(1000, clock)

	l.Take(1000) // drain the initial burst allowance
	d := l.Take(500)
	if d <= 0 {
		t.Fatalf("expected a positive wait once tokens are exhausted, got %v", d)
	}
}

func TestRefillOverTime(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }
	l := NewWithClock(1000, clock)

	l.Take(1000)
	now = now.Add(500 * time.Millisecond)
	if d := l.Take(400); d != 0 {
		t.Fatalf("expected refill to cover a 400-byte request after 500ms, got wait %v", d)
	}
}
