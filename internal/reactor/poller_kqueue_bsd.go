//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

func newPlatformPoller(_ MaxFDHint) (Poller, error) {
	return newKqueuePoller()
}

// kqueuePoller is the BSD/macOS C1 backend.
type kqueuePoller struct {
	kq  int
	buf []unix.Kevent_t
	// watched tracks the last-registered mask per fd so Modify can diff
	// and only toggle the filters that changed.
	watched map[int]Mask
}

func newKqueuePoller() (*kqueuePoller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	return &kqueuePoller{kq: kq, buf: make([]unix.Kevent_t, 256), watched: make(map[int]Mask)}, nil
}

func (p *kqueuePoller) apply(fd int, old, new Mask) error {
	var changes []unix.Kevent_t
	addOrDel := func(filter int16, want bool) {
		flags := uint16(unix.EV_ADD | unix.EV_ENABLE)
		if !want {
			flags = unix.EV_DELETE
		}
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: filter, Flags: flags})
	}
	if (old&Read != 0) != (new&Read != 0) {
		addOrDel(unix.EVFILT_READ, new&Read != 0)
	}
	if (old&Write != 0) != (new&Write != 0) {
		addOrDel(unix.EVFILT_WRITE, new&Write != 0)
	}
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	return err
}

func (p *kqueuePoller) Register(fd int, mask Mask) error {
	if err := p.apply(fd, 0, mask); err != nil {
		return err
	}
	p.watched[fd] = mask
	return nil
}

func (p *kqueuePoller) Modify(fd int, mask Mask) error {
	old := p.watched[fd]
	if err := p.apply(fd, old, mask); err != nil {
		return err
	}
	p.watched[fd] = mask
	return nil
}

func (p *kqueuePoller) Unregister(fd int) error {
	old, ok := p.watched[fd]
	if !ok {
		return nil
	}
	delete(p.watched, fd)
	return p.apply(fd, old, 0)
}

func (p *kqueuePoller) Poll(timeout time.Duration) ([]Event, error) {
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}
	for {
		n, err := unix.Kevent(p.kq, nil, p.buf, ts)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, err
		}
		byFD := make(map[int]Mask, n)
		for i := 0; i < n; i++ {
			ev := p.buf[i]
			fd := int(ev.Ident)
			var m Mask
			switch int16(ev.Filter) {
			case unix.EVFILT_READ:
				m = Read
			case unix.EVFILT_WRITE:
				m = Write
			}
			if ev.Flags&unix.EV_EOF != 0 || ev.Flags&unix.EV_ERROR != 0 {
				m |= ErrHup
			}
			byFD[fd] |= m
		}
		out := make([]Event, 0, len(byFD))
		for fd, m := range byFD {
			out = append(out, Event{FD: fd, Events: m})
		}
		return out, nil
	}
}

func (p *kqueuePoller) Close() error {
	return unix.Close(p.kq)
}
