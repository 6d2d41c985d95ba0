//go:build !linux && !darwin && (freebsd || netbsd || openbsd || dragonfly || solaris)

package ring

import (
	"sync"

	"golang.org/x/sys/unix"
)

// pollPoller is the poll(2)-based fallback poller, grounded on
// original_source/ring/poller.py's PollImpl. It is O(n) in the number of
// registered fds per call, same as the Python original; acceptable for a
// fallback path exercised only on platforms without a native
// edge-triggered multiplexer in golang.org/x/sys/unix's Go API.
type pollPoller struct {
	mu   sync.Mutex
	cbs  map[int]ioCallback
	mask map[int]ioEvents
}

func newPoller() (poller, error) {
	return &pollPoller{
		cbs:  make(map[int]ioCallback),
		mask: make(map[int]ioEvents),
	}, nil
}

func (p *pollPoller) register(fd int, events ioEvents, cb ioCallback) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cbs[fd] = cb
	p.mask[fd] = events
	return nil
}

func (p *pollPoller) modify(fd int, events ioEvents) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.cbs[fd]; !ok {
		return ErrFDNotRegistered
	}
	p.mask[fd] = events
	return nil
}

func (p *pollPoller) unregister(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cbs, fd)
	delete(p.mask, fd)
	return nil
}

func toPollEvents(ev ioEvents) int16 {
	var out int16
	if ev&evRead != 0 {
		out |= unix.POLLIN
	}
	if ev&evWrite != 0 {
		out |= unix.POLLOUT
	}
	return out
}

func fromPollEvents(ev int16) ioEvents {
	var out ioEvents
	if ev&(unix.POLLIN|unix.POLLHUP) != 0 {
		out |= evRead
	}
	if ev&unix.POLLOUT != 0 {
		out |= evWrite
	}
	if ev&(unix.POLLERR|unix.POLLNVAL) != 0 {
		out |= evError
	}
	return out
}

func (p *pollPoller) poll(timeoutMs int) (int, error) {
	p.mu.Lock()
	fds := make([]unix.PollFd, 0, len(p.cbs))
	for fd, mask := range p.mask {
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: toPollEvents(mask)})
	}
	p.mu.Unlock()

	if len(fds) == 0 {
		return 0, nil
	}

	n, err := unix.Poll(fds, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	for _, pfd := range fds {
		if pfd.Revents == 0 {
			continue
		}
		fd := int(pfd.Fd)
		p.mu.Lock()
		cb := p.cbs[fd]
		p.mu.Unlock()
		if cb != nil {
			cb(fd, fromPollEvents(pfd.Revents))
		}
	}
	return n, nil
}

func (p *pollPoller) close() error {
	return nil
}
