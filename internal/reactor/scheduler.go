package reactor

import (
	"container/heap"
	"time"
)

// Handle references a scheduled call so it can be cancelled or
// rescheduled. Cancellation is idempotent and always safe (spec §5).
type Handle struct {
	entry *timerEntry
}

// Cancel marks the scheduled call as cancelled. It never fires again.
// Calling Cancel more than once is a no-op.
func (h Handle) Cancel() {
	if h.entry == nil {
		return
	}
	h.entry.cancelled = true
}

type timerEntry struct {
	deadline  time.Time
	fn        func()
	cancelled bool
	repeat    time.Duration // 0 means one-shot
	seq       uint64        // insertion order, for tie-breaking
	index     int           // heap index, maintained by container/heap
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Scheduler is a monotonic-time priority queue of deferred and periodic
// callbacks (C2). It is not safe for concurrent use: each Reactor owns
// exactly one Scheduler and drives it from its own goroutine.
type Scheduler struct {
	now  func() time.Time
	heap timerHeap
	seq  uint64
}

// NewScheduler creates a scheduler using the monotonic wall clock. Tests
// may substitute a fake clock via NewSchedulerWithClock.
func NewScheduler() *Scheduler {
	return NewSchedulerWithClock(time.Now)
}

// NewSchedulerWithClock creates a scheduler using a caller-supplied
// monotonic time source, so tests can control timer firing precisely.
func NewSchedulerWithClock(now func() time.Time) *Scheduler {
	return &Scheduler{now: now}
}

// CallLater schedules fn to run once after delay.
func (s *Scheduler) CallLater(delay time.Duration, fn func()) Handle {
	e := &timerEntry{deadline: s.now().Add(delay), fn: fn, seq: s.nextSeq()}
	heap.Push(&s.heap, e)
	return Handle{entry: e}
}

// CallEvery schedules fn to run every interval, starting after the first
// interval elapses. After each firing the next deadline is the Tick's
// current time plus interval, so one late Tick fires fn once rather than
// once per missed interval.
func (s *Scheduler) CallEvery(interval time.Duration, fn func()) Handle {
	e := &timerEntry{deadline: s.now().Add(interval), fn: fn, repeat: interval, seq: s.nextSeq()}
	heap.Push(&s.heap, e)
	return Handle{entry: e}
}

// Reschedule cancels the call behind h and inserts a fresh one-shot call
// firing after newDelay. O(log n).
func (s *Scheduler) Reschedule(h Handle, newDelay time.Duration) Handle {
	h.Cancel()
	return s.CallLater(newDelay, h.entry.fn)
}

func (s *Scheduler) nextSeq() uint64 {
	s.seq++
	return s.seq
}

// Tick fires every expired, non-cancelled entry in non-decreasing
// deadline order (ties broken by insertion order) and returns the
// duration until the next pending entry fires, or -1 if the scheduler
// is empty.
func (s *Scheduler) Tick() time.Duration {
	now := s.now()
	for s.heap.Len() > 0 {
		next := s.heap[0]
		if next.cancelled {
			heap.Pop(&s.heap)
			continue
		}
		if next.deadline.After(now) {
			break
		}
		heap.Pop(&s.heap)
		if next.repeat > 0 {
			next.deadline = now.Add(next.repeat)
			heap.Push(&s.heap, next)
		}
		next.fn()
	}
	for s.heap.Len() > 0 {
		if s.heap[0].cancelled {
			heap.Pop(&s.heap)
			continue
		}
		return s.heap[0].deadline.Sub(s.now())
	}
	return -1
}

// Len reports the number of live (including not-yet-lazily-deleted
// cancelled) entries; useful for tests and diagnostics only.
func (s *Scheduler) Len() int { return s.heap.Len() }
