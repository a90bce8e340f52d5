package reactor

import (
	"testing"
	"time"
)

func TestSchedulerFiresExpiredInOrder(t *testing.T) {
	base := time.Unix(0, 0)
	now := base
	s := NewSchedulerWithClock(func() time.Time { return now })

	var order []string
	s.CallLater(2*time.Second, func() { order = append(order, "second") })
	s.CallLater(1*time.Second, func() { order = append(order, "first") })

	now = base.Add(3 * time.Second)
	s.Tick()

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("expected deadline order [first second], got %v", order)
	}
}

func TestSchedulerCancelPreventsFiring(t *testing.T) {
	base := time.Unix(0, 0)
	now := base
	s := NewSchedulerWithClock(func() time.Time { return now })

	fired := false
	h := s.CallLater(time.Second, func() { fired = true })
	h.Cancel()
	h.Cancel() // idempotent

	now = base.Add(2 * time.Second)
	s.Tick()

	if fired {
		t.Fatal("expected cancelled timer to never fire")
	}
}

func TestSchedulerCallEveryRepeats(t *testing.T) {
	base := time.Unix(0, 0)
	now := base
	s := NewSchedulerWithClock(func() time.Time { return now })

	count := 0
	s.CallEvery(time.Second, func() { count++ })

	for _, ms := range []int{1500, 2500, 3500} {
		now = base.Add(time.Duration(ms) * time.Millisecond)
		s.Tick()
	}

	if count != 3 {
		t.Fatalf("expected 3 firings by 3.5s with a 1s period, got %d", count)
	}
}

func TestSchedulerTickReturnsTimeUntilNext(t *testing.T) {
	base := time.Unix(0, 0)
	now := base
	s := NewSchedulerWithClock(func() time.Time { return now })

	s.CallLater(5*time.Second, func() {})
	wait := s.Tick()
	if wait <= 4*time.Second || wait > 5*time.Second {
		t.Fatalf("expected wait close to 5s, got %v", wait)
	}
}

func TestSchedulerTickEmptyReturnsNegative(t *testing.T) {
	s := NewScheduler()
	if got := s.Tick(); got != -1 {
		t.Fatalf("expected -1 for an empty scheduler, got %v", got)
	}
}

func TestSchedulerReschedule(t *testing.T) {
	base := time.Unix(0, 0)
	now := base
	s := NewSchedulerWithClock(func() time.Time { return now })

	var firedAt time.Time
	h := s.CallLater(time.Second, func() { firedAt = now })
	h = s.Reschedule(h, 3*time.Second)

	now = base.Add(2 * time.Second)
	s.Tick()
	if !firedAt.IsZero() {
		t.Fatal("expected original 1s deadline to be cancelled by Reschedule")
	}

	now = base.Add(4 * time.Second)
	s.Tick()
	if firedAt != now {
		t.Fatal("expected rescheduled call to fire at the new deadline")
	}
	_ = h
}
