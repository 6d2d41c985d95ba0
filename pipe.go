package ring

import "sync"

// Pipe is a bounded FIFO of messages with an optional high-water-mark and
// a derived low-water-mark, grounded directly on
// original_source/ring/pipes.py.
type Pipe struct {
	mu sync.Mutex

	queue []any
	hwm   int // 0 means unbounded
	lwm   int

	watermark    int
	messagesRead int
	readable     bool
}

// NewPipe constructs a Pipe. hwm of 0 means unbounded (no backpressure).
func NewPipe(hwm int) *Pipe {
	p := &Pipe{hwm: hwm}
	if hwm > 0 {
		p.lwm = (hwm + 1 + 1) / 2 // ceil((hwm+1)/2)
	}
	return p
}

// WriteAvailable reports whether a write would currently be accepted
// (false once the pipe holds high-water-mark messages).
func (p *Pipe) WriteAvailable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeAvailableLocked()
}

func (p *Pipe) writeAvailableLocked() bool {
	return p.hwm == 0 || p.watermark < p.hwm
}

// Write enqueues data, returning was-readable-before-write (used by
// producers to decide whether to kick the consumer). It fails with Again
// if the pipe is full, unless data is the Done sentinel, which always
// succeeds (Done bypasses the HWM as a drain signal).
func (p *Pipe) Write(data any) (wasReadableBeforeWrite bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, isDone := data.(Done); !isDone && !p.writeAvailableLocked() {
		return false, Again
	}

	wasReadableBeforeWrite = p.readable
	p.queue = append(p.queue, data)
	p.watermark++
	p.readable = true
	return wasReadableBeforeWrite, nil
}

// Front returns the next message without removing it, or Again if empty.
func (p *Pipe) Front() (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return nil, Again
	}
	return p.queue[0], nil
}

// ReadAvailable reports whether a Read would currently succeed.
func (p *Pipe) ReadAvailable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		p.readable = false
		return false
	}
	return true
}

// Read pops the next message, returning (message, lwmReached). lwmReached
// is true on every LWM-th read, counted from the pipe's creation (the
// count is not reset by saturation or Clear), used to signal producers to
// resume. Fails with Again if empty.
func (p *Pipe) Read() (any, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.queue) == 0 {
		p.readable = false
		return nil, false, Again
	}

	v := p.queue[0]
	p.queue = p.queue[1:]
	p.watermark--
	p.messagesRead++

	var lwmReached bool
	if p.lwm > 0 {
		p.messagesRead %= p.lwm
		lwmReached = p.messagesRead%p.lwm == 0
	}
	return v, lwmReached, nil
}

// Clear empties the pipe.
func (p *Pipe) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = nil
	p.watermark = 0
}
