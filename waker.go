//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly || solaris

package ring

import (
	"sync"

	"golang.org/x/sys/unix"
)

// waker is a self-pipe (socket pair) wrapping a counting semaphore over
// bytes, grounded directly on original_source/ring/waker.py. It is the
// only mechanism by which one thread wakes another thread blocked inside
// a poller.
type waker struct {
	mu     sync.Mutex
	r, w   int
	closed bool

	// isolated poller used only by wait(); never shared with a reactor's
	// own poller, matching the Python original's dedicated select/poll
	// instance.
	wp poller
}

func newWaker() (*waker, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, err
	}
	for _, fd := range fds {
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(fds[0])
			_ = unix.Close(fds[1])
			return nil, err
		}
	}
	wp, err := newPoller()
	if err != nil {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
		return nil, err
	}
	return &waker{r: fds[0], w: fds[1], wp: wp}, nil
}

// FD is the fd an external reactor can register for readability.
func (w *waker) FD() int {
	return w.r
}

// wake writes one byte, unblocking a pending wait/poll on FD(). Idempotent
// in the sense that multiple wakes before a deplete collapse to "readable",
// bounded only by the socket pair's own buffer.
func (w *waker) wake() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	for {
		_, err := unix.Write(w.w, []byte{1})
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			// Pipe buffer saturated with pending wakeups: already
			// guaranteed readable, nothing more to do.
			return nil
		}
		return err
	}
}

// deplete drains one queued wakeup byte, or returns Again if none are
// pending.
func (w *waker) deplete() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	var buf [1]byte
	_, err := unix.Read(w.r, buf[:])
	if err != nil {
		if wouldBlock(err) || err == unix.EINTR {
			return Again
		}
		return err
	}
	return nil
}

// wait blocks until woken or timeoutMs elapses (negative blocks
// indefinitely). Returns Again on timeout.
func (w *waker) wait(timeoutMs int) error {
	woken := false
	if err := w.wp.register(w.r, evRead, func(int, ioEvents) { woken = true }); err != nil {
		return err
	}
	defer w.wp.unregister(w.r)

	n, err := w.wp.poll(timeoutMs)
	if err != nil {
		return err
	}
	if n == 0 || !woken {
		return Again
	}
	return nil
}

func (w *waker) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	_ = w.wp.close()
	err1 := unix.Close(w.r)
	err2 := unix.Close(w.w)
	if err1 != nil {
		return err1
	}
	return err2
}
