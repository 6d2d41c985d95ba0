package ring

import "sync"

// Mailbox is a lock-protected command queue plus a cross-thread waker fd,
// grounded directly on original_source/ring/events.py's Mailbox: the sole
// cross-thread signaling mechanism in the system. send() enqueues and, if
// the reader was not previously readable, wakes it; after send returns,
// at least one of (pipe non-empty, waker signaled) holds.
type Mailbox struct {
	mu     sync.Mutex
	queue  []Mail
	w      *waker
	active bool // true once the waker has been signaled and not yet depleted
}

// NewMailbox constructs a Mailbox with its own waker.
func NewMailbox() (*Mailbox, error) {
	w, err := newWaker()
	if err != nil {
		return nil, err
	}
	return &Mailbox{w: w}, nil
}

// FD is the fd an external reactor can poll for readability, matching
// spec's "waker_fd" property.
func (m *Mailbox) FD() int {
	return m.w.FD()
}

// Send enqueues mail and wakes a blocked Recv if necessary.
func (m *Mailbox) Send(mail Mail) error {
	m.mu.Lock()
	wasEmpty := len(m.queue) == 0
	m.queue = append(m.queue, mail)
	needWake := wasEmpty && !m.active
	if needWake {
		m.active = true
	}
	m.mu.Unlock()

	if needWake {
		return m.w.wake()
	}
	return nil
}

// Recv returns the next envelope, or Again if none is available within
// timeoutMs (negative blocks indefinitely, 0 does not block).
func (m *Mailbox) Recv(timeoutMs int) (Mail, error) {
	for {
		m.mu.Lock()
		if len(m.queue) != 0 {
			mail := m.queue[0]
			m.queue = m.queue[1:]
			m.mu.Unlock()
			return mail, nil
		}
		m.mu.Unlock()

		if timeoutMs == 0 {
			return Mail{}, Again
		}

		if err := m.w.wait(timeoutMs); err != nil {
			return Mail{}, err
		}
		_ = m.w.deplete()
		m.mu.Lock()
		m.active = false
		m.mu.Unlock()
	}
}

// DrainInto deposits every currently-queued envelope into dst, without
// blocking. Socket state machines do not call it: Socket.processCommands
// drains pending commands one at a time through Recv(0).
func (m *Mailbox) DrainInto(dst *[]Mail) {
	m.mu.Lock()
	*dst = append(*dst, m.queue...)
	m.queue = nil
	m.mu.Unlock()
}

// Close releases the mailbox's waker.
func (m *Mailbox) Close() error {
	return m.w.close()
}
