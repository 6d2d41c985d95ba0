//go:build linux

package ring

import (
	"sync"

	"golang.org/x/sys/unix"
)

// epollPoller is the Linux poller backend, grounded on the teacher's
// FastPoller (preallocated event buffer) but with a map keyed by fd in
// place of its direct fd-indexed callback table, and without its
// cache-line padding and version-counter optimizations, which exist there
// to protect a far hotter per-tick throughput path than this reactor
// needs.
type epollPoller struct {
	epfd int

	mu   sync.Mutex
	cbs  map[int]ioCallback
	mask map[int]ioEvents

	eventBuf [256]unix.EpollEvent
}

func newPoller() (poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{
		epfd: fd,
		cbs:  make(map[int]ioCallback),
		mask: make(map[int]ioEvents),
	}, nil
}

func toEpollEvents(ev ioEvents) uint32 {
	var out uint32
	if ev&evRead != 0 {
		out |= unix.EPOLLIN
	}
	if ev&evWrite != 0 {
		out |= unix.EPOLLOUT
	}
	return out
}

func fromEpollEvents(ev uint32) ioEvents {
	var out ioEvents
	if ev&(unix.EPOLLIN|unix.EPOLLHUP) != 0 {
		out |= evRead
	}
	if ev&unix.EPOLLOUT != 0 {
		out |= evWrite
	}
	if ev&unix.EPOLLERR != 0 {
		out |= evError
	}
	return out
}

func (p *epollPoller) register(fd int, events ioEvents, cb ioCallback) error {
	p.mu.Lock()
	_, exists := p.cbs[fd]
	p.cbs[fd] = cb
	p.mask[fd] = events
	p.mu.Unlock()

	ev := &unix.EpollEvent{Events: toEpollEvents(events), Fd: int32(fd)}
	op := unix.EPOLL_CTL_ADD
	if exists {
		op = unix.EPOLL_CTL_MOD
	}
	return unix.EpollCtl(p.epfd, op, fd, ev)
}

func (p *epollPoller) modify(fd int, events ioEvents) error {
	p.mu.Lock()
	if _, ok := p.cbs[fd]; !ok {
		p.mu.Unlock()
		return ErrFDNotRegistered
	}
	p.mask[fd] = events
	p.mu.Unlock()

	ev := &unix.EpollEvent{Events: toEpollEvents(events), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev)
}

func (p *epollPoller) unregister(fd int) error {
	p.mu.Lock()
	_, ok := p.cbs[fd]
	delete(p.cbs, fd)
	delete(p.mask, fd)
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) poll(timeoutMs int) (int, error) {
	n, err := unix.EpollWait(p.epfd, p.eventBuf[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Fd)
		p.mu.Lock()
		cb := p.cbs[fd]
		p.mu.Unlock()
		if cb != nil {
			cb(fd, fromEpollEvents(p.eventBuf[i].Events))
		}
	}
	return n, nil
}

func (p *epollPoller) close() error {
	return unix.Close(p.epfd)
}
