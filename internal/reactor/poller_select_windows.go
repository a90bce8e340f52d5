//go:build windows

package reactor

import (
	"time"

	"golang.org/x/sys/windows"
)

func newPlatformPoller(maxConns MaxFDHint) (Poller, error) {
	return newSelectPoller(maxConns), nil
}

// selectPoller is the Windows C1 backend. Windows exposes no epoll/kqueue
// equivalent through golang.org/x/sys without going through IOCP and
// cgo-free raw completion ports, which is out of scope for this module;
// winsock select is the closest uniform fit and is what x/sys/windows
// actually binds, so it is used here even though it caps out at
// FD_SETSIZE (64 by default on Windows) per spec §4.1's "select must cap
// at the platform's FD limit" clause.
type selectPoller struct {
	maxConns int
	fds      map[int]Mask
}

func newSelectPoller(maxConns MaxFDHint) *selectPoller {
	max := int(maxConns)
	if max <= 0 || max > 64 {
		max = 64
	}
	return &selectPoller{maxConns: max, fds: make(map[int]Mask)}
}

func (p *selectPoller) Register(fd int, mask Mask) error {
	if len(p.fds) >= p.maxConns {
		return windows.WSAEMFILE
	}
	p.fds[fd] = mask
	return nil
}

func (p *selectPoller) Modify(fd int, mask Mask) error {
	p.fds[fd] = mask
	return nil
}

func (p *selectPoller) Unregister(fd int) error {
	delete(p.fds, fd)
	return nil
}

func (p *selectPoller) Poll(timeout time.Duration) ([]Event, error) {
	var rset, wset windows.FdSet
	for fd, mask := range p.fds {
		if mask&Read != 0 {
			fdSetAdd(&rset, fd)
		}
		if mask&Write != 0 {
			fdSetAdd(&wset, fd)
		}
	}
	var tv *windows.Timeval
	if timeout >= 0 {
		t := windows.NsecToTimeval(timeout.Nanoseconds())
		tv = &t
	}
	n, err := windows.Select(0, &rset, &wset, nil, tv)
	if err != nil || n <= 0 {
		return nil, err
	}
	out := make([]Event, 0, n)
	for fd := range p.fds {
		var m Mask
		if fdSetHas(&rset, fd) {
			m |= Read
		}
		if fdSetHas(&wset, fd) {
			m |= Write
		}
		if m != 0 {
			out = append(out, Event{FD: fd, Events: m})
		}
	}
	return out, nil
}

func (p *selectPoller) Close() error {
	return nil
}

func fdSetAdd(set *windows.FdSet, fd int) {
	set.Bits[fd/64] |= 1 << (uint(fd) % 64)
}

func fdSetHas(set *windows.FdSet, fd int) bool {
	return set.Bits[fd/64]&(1<<(uint(fd)%64)) != 0
}
