//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd && !dragonfly && !windows

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

func newPlatformPoller(_ MaxFDHint) (Poller, error) {
	return newPollPoller(), nil
}

// pollPoller is the portable poll(2) fallback used on platforms without
// a native epoll/kqueue binding (spec §4.1: "poll" tier).
type pollPoller struct {
	fds map[int]Mask
}

func newPollPoller() *pollPoller {
	return &pollPoller{fds: make(map[int]Mask)}
}

func (p *pollPoller) Register(fd int, mask Mask) error {
	p.fds[fd] = mask
	return nil
}

func (p *pollPoller) Modify(fd int, mask Mask) error {
	p.fds[fd] = mask
	return nil
}

func (p *pollPoller) Unregister(fd int) error {
	delete(p.fds, fd)
	return nil
}

func toPollEvents(mask Mask) int16 {
	var ev int16
	if mask&Read != 0 {
		ev |= unix.POLLIN
	}
	if mask&Write != 0 {
		ev |= unix.POLLOUT
	}
	return ev
}

func (p *pollPoller) Poll(timeout time.Duration) ([]Event, error) {
	fds := make([]unix.PollFd, 0, len(p.fds))
	for fd, mask := range p.fds {
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: toPollEvents(mask)})
	}
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	for {
		n, err := unix.Poll(fds, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}
		out := make([]Event, 0, n)
		for _, pfd := range fds {
			if pfd.Revents == 0 {
				continue
			}
			var m Mask
			if pfd.Revents&unix.POLLIN != 0 {
				m |= Read
			}
			if pfd.Revents&unix.POLLOUT != 0 {
				m |= Write
			}
			if pfd.Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
				m |= ErrHup
			}
			out = append(out, Event{FD: int(pfd.Fd), Events: m})
		}
		return out, nil
	}
}

func (p *pollPoller) Close() error {
	return nil
}
