package reactor

import (
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// Channel is the hook set a Reactor dispatches readiness events to. An
// async channel (C4), a listening acceptor, or a connector all implement
// this so the reactor never knows about sockets directly.
type Channel interface {
	// FD returns the raw file descriptor this channel watches.
	FD() int
	// WantMask reports which of Read/Write the channel currently wants
	// registered; the reactor re-syncs the poller to match after every
	// dispatch (write interest is only held while a producer queue is
	// non-empty, per spec §3's Channel invariants).
	WantMask() Mask
	HandleRead()
	HandleWrite()
	// HandleClose is invoked once, when the reactor removes the channel
	// (ErrHup, explicit Close, or reactor shutdown).
	HandleClose()
	// HandleError is invoked when HandleRead/HandleWrite panics; it must
	// close the channel itself.
	HandleError(err error)
}

// Reactor is the single-threaded dispatch loop (C3): it owns one Poller
// and one Scheduler and fans poll/timer events out to registered
// Channels. A process normally runs one Reactor per OS thread (async
// model: many sessions per reactor; thread/process/pre-fork models: one
// reactor per worker).
type Reactor struct {
	Poller    Poller
	Scheduler *Scheduler
	Logger    *slog.Logger

	mu       sync.Mutex
	channels map[int]Channel
	stop     bool
	softExit bool

	// selfPipe wakes a blocked Poll() call when Stop or SoftExit is
	// invoked from another goroutine, or on SIGINT/SIGTERM.
	selfPipeR, selfPipeW *os.File
}

// DefaultPollTimeout bounds how long Poll() ever blocks when no timer is
// pending, so the reactor periodically notices a Stop() call even
// without a self-pipe byte (belt and suspenders).
const DefaultPollTimeout = 1 * time.Second

// New creates a Reactor with a platform-appropriate Poller and a fresh
// Scheduler.
func New(maxConns MaxFDHint, logger *slog.Logger) (*Reactor, error) {
	return NewWithPoller(nil, maxConns, logger)
}

// NewWithPoller creates a Reactor on top of a caller-supplied Poller,
// falling back to the platform default when p is nil. Tests use this to
// inject a fake poller.
func NewWithPoller(p Poller, maxConns MaxFDHint, logger *slog.Logger) (*Reactor, error) {
	if p == nil {
		pp, err := newPlatformPoller(maxConns)
		if err != nil {
			return nil, err
		}
		p = pp
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reactor{
		Poller:    p,
		Scheduler: NewScheduler(),
		Logger:    logger,
		channels:  make(map[int]Channel),
	}
	pr, pw, err := os.Pipe()
	if err == nil {
		r.selfPipeR, r.selfPipeW = pr, pw
		_ = r.Poller.Register(int(pr.Fd()), Read)
	}
	return r, nil
}

// RegisterChannel adds ch to the reactor, watching whatever mask it
// currently wants.
func (r *Reactor) RegisterChannel(ch Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.Poller.Register(ch.FD(), ch.WantMask()); err != nil {
		return err
	}
	r.channels[ch.FD()] = ch
	return nil
}

// UnregisterChannel removes ch and fires its HandleClose hook.
func (r *Reactor) UnregisterChannel(ch Channel) {
	r.mu.Lock()
	_, ok := r.channels[ch.FD()]
	if ok {
		delete(r.channels, ch.FD())
	}
	r.mu.Unlock()
	if ok {
		_ = r.Poller.Unregister(ch.FD())
		ch.HandleClose()
	}
}

// Resync re-reads ch.WantMask() and updates the poller registration.
// Channels call this whenever their producer queue transitions between
// empty and non-empty, per the "writer only registered when non-empty"
// invariant.
func (r *Reactor) Resync(ch Channel) {
	_ = r.Poller.Modify(ch.FD(), ch.WantMask())
}

// CallLater and CallEvery proxy to the reactor's scheduler for callers
// that only have a *Reactor in hand.
func (r *Reactor) CallLater(d time.Duration, fn func()) Handle { return r.Scheduler.CallLater(d, fn) }
func (r *Reactor) CallEvery(d time.Duration, fn func()) Handle { return r.Scheduler.CallEvery(d, fn) }

// Stop flips the stop flag and wakes a blocked Poll call.
func (r *Reactor) Stop() {
	r.mu.Lock()
	r.stop = true
	r.mu.Unlock()
	r.wake()
}

// SoftExit requests the loop exit once the channel map drains naturally,
// rather than immediately.
func (r *Reactor) SoftExit() {
	r.mu.Lock()
	r.softExit = true
	r.mu.Unlock()
	r.wake()
}

func (r *Reactor) wake() {
	if r.selfPipeW != nil {
		_, _ = r.selfPipeW.Write([]byte{0})
	}
}

// CloseAll closes every registered channel and drops every scheduled
// call, per spec §4.3's close_all contract.
func (r *Reactor) CloseAll() {
	r.mu.Lock()
	chans := make([]Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		chans = append(chans, ch)
	}
	r.channels = make(map[int]Channel)
	r.mu.Unlock()
	for _, ch := range chans {
		_ = r.Poller.Unregister(ch.FD())
		ch.HandleClose()
	}
	r.Scheduler.heap = nil
}

// Run drives the dispatch loop until Stop is called, or SoftExit is
// requested and the channel map has drained, or ServeOnce-style external
// termination occurs. It installs a SIGINT/SIGTERM handler that calls
// Stop.
func (r *Reactor) Run() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		if _, ok := <-sigCh; ok {
			r.Stop()
		}
	}()
	for r.tick() {
	}
}

// RunOnce performs exactly one poll+dispatch+scheduler-tick pass; it is
// the building block for serve_once-style tests.
func (r *Reactor) RunOnce() { r.tick() }

func (r *Reactor) tick() bool {
	r.mu.Lock()
	if r.stop {
		r.mu.Unlock()
		return false
	}
	if r.softExit && len(r.channels) == 0 {
		r.mu.Unlock()
		return false
	}
	r.mu.Unlock()

	timeout := r.Scheduler.Tick()
	if timeout < 0 || timeout > DefaultPollTimeout {
		timeout = DefaultPollTimeout
	}

	events, err := r.Poller.Poll(timeout)
	if err != nil {
		r.Logger.Error("poller error", "err", err)
		return true
	}

	for _, ev := range events {
		r.dispatch(ev)
	}
	return true
}

func (r *Reactor) dispatch(ev Event) {
	if r.selfPipeR != nil && ev.FD == int(r.selfPipeR.Fd()) {
		buf := make([]byte, 64)
		_, _ = r.selfPipeR.Read(buf)
		return
	}

	r.mu.Lock()
	ch, ok := r.channels[ev.FD]
	r.mu.Unlock()
	if !ok {
		return
	}

	r.safeDispatch(ch, ev)

	r.mu.Lock()
	_, stillRegistered := r.channels[ev.FD]
	r.mu.Unlock()
	if stillRegistered {
		r.Resync(ch)
	}
}

// safeDispatch implements §4.3 step 3 and §7's propagation policy: a
// panic from a read/write hook is caught and routed to HandleError,
// which must close the channel; a panic escaping HandleError itself
// forces an unconditional close without propagating out of the loop.
func (r *Reactor) safeDispatch(ch Channel, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.Logger.Error("panic escaped error handler; forcing close", "fd", ev.FD, "panic", rec)
			r.UnregisterChannel(ch)
		}
	}()

	func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.Logger.Error("channel hook panicked", "fd", ev.FD, "panic", rec)
				ch.HandleError(panicToError(rec))
			}
		}()
		if ev.Events&ErrHup != 0 {
			r.UnregisterChannel(ch)
			return
		}
		if ev.Events&Read != 0 {
			ch.HandleRead()
		}
		r.mu.Lock()
		_, ok := r.channels[ev.FD]
		r.mu.Unlock()
		if ok && ev.Events&Write != 0 {
			ch.HandleWrite()
		}
	}()
}

func panicToError(rec any) error {
	if err, ok := rec.(error); ok {
		return err
	}
	return &panicError{rec}
}

type panicError struct{ v any }

func (p *panicError) Error() string { return "panic in reactor hook" }
