package ring

import (
	"container/heap"
	"sync"
	"time"
)

const pollTimeoutMs = 1000

type pendingCallback struct {
	fn func()
}

// Reactor cooperatively multiplexes fd readiness, deferred callbacks, and
// timed callbacks on a single goroutine, grounded directly on
// original_source/ring/io_loop.py's IOLoop/_loop() (the "Main iteration"
// in spec §4.1 is a direct paraphrase of that method), with Go
// concurrency idioms (mutex-guarded pending slice, panic-recovering
// callback execution) taken from the teacher's loop.go.
type Reactor struct {
	log *Logger

	p poller
	w *waker

	mu             sync.Mutex
	pending        []pendingCallback
	timers         timerHeap
	nextSeq        uint64
	pauseRequested bool

	state     atomicLoopState
	stopOnce  sync.Once
	startOnce sync.Once
	runningGo chan struct{} // closed once the loop goroutine has started
}

// NewReactor constructs a Reactor. It does not start running until
// Start is called.
func NewReactor(log *Logger) (*Reactor, error) {
	log = orDefault(log)
	p, err := newPoller()
	if err != nil {
		return nil, err
	}
	w, err := newWaker()
	if err != nil {
		_ = p.close()
		return nil, err
	}
	r := &Reactor{
		log:       log,
		p:         p,
		w:         w,
		runningGo: make(chan struct{}),
	}
	if err := r.p.register(r.w.FD(), evRead, func(int, ioEvents) {
		_ = r.w.deplete()
	}); err != nil {
		_ = w.close()
		_ = p.close()
		return nil, err
	}
	return r, nil
}

// Register records cb keyed by fd and registers fd with the poller for
// events. Safe to call from any goroutine, mirroring io_loop.py's
// poller_thread_safe decorator: the loop is woken unconditionally (not
// just when the caller can prove it's off-thread) so a blocked poll
// picks up the new registration immediately instead of waiting out
// pollTimeoutMs on the poll(2) fallback.
func (r *Reactor) Register(fd int, events ioEvents, cb func(events ioEvents)) error {
	wrapped := func(fd int, ev ioEvents) { cb(ev) }
	err := r.p.register(fd, events, wrapped)
	_ = r.w.wake()
	return err
}

// Modify updates the event mask for fd.
func (r *Reactor) Modify(fd int, events ioEvents) error {
	err := r.p.modify(fd, events)
	_ = r.w.wake()
	return err
}

// Unregister stops monitoring fd.
func (r *Reactor) Unregister(fd int) error {
	err := r.p.unregister(fd)
	_ = r.w.wake()
	return err
}

// NextTick enqueues a zero-delay callback, running on the next reactor
// iteration. If called off the reactor goroutine, wakes the loop.
func (r *Reactor) NextTick(cb func()) {
	r.mu.Lock()
	r.pending = append(r.pending, pendingCallback{fn: cb})
	r.mu.Unlock()
	_ = r.w.wake()
}

// AddFuture attaches a done-callback to fut that re-schedules cb(f) on
// the reactor goroutine, since fut's completion may occur on any
// goroutine (e.g. a user thread resolving a connect future).
func (r *Reactor) AddFuture(fut *Future[any], cb func(*Future[any])) {
	fut.AddDoneCallback(func(f *Future[any]) {
		r.NextTick(func() { cb(f) })
	})
}

// SetTimeout schedules cb to run after d elapses, returning a handle
// that ClearTimeout can cancel. Grounded on
// original_source/ring/io_loop.py's Timeout/_COUNTER and the teacher's
// ScheduleTimer (container/heap, monotonic-sequence tie-break).
func (r *Reactor) SetTimeout(d time.Duration, cb func()) *timerHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSeq++
	h := &timerHandle{deadline: time.Now().Add(d), seq: r.nextSeq, callback: cb}
	heap.Push(&r.timers, h)
	return h
}

// ClearTimeout cancels a pending timeout by lazy deletion (nulling its
// callback); idempotent.
func (r *Reactor) ClearTimeout(h *timerHandle) {
	if h == nil {
		return
	}
	r.mu.Lock()
	h.callback = nil
	r.mu.Unlock()
}

// Start runs the reactor loop on the calling goroutine until Stop or
// Pause returns it. It is intended to be the entire body of a dedicated
// goroutine (see Context). After a Pause, Start may be called again
// (from the same or a different goroutine) to resume the loop with its
// waker, poller registrations and pending timers all intact.
func (r *Reactor) Start(ready func()) {
	r.state.store(loopRunning)
	r.startOnce.Do(func() { close(r.runningGo) })
	if ready != nil {
		ready()
	}
	r.loop()
}

// Stop tears down the reactor: drops pending callbacks/timers and
// releases the poller and waker. Safe to call from any goroutine; wakes
// the loop so a blocked poll returns promptly.
func (r *Reactor) Stop() {
	r.stopOnce.Do(func() {
		r.state.store(loopStopping)
		_ = r.w.wake()
	})
}

// Pause requests that the running Start call return at the top of the
// next iteration, without releasing the waker, poller registrations, or
// pending timers/callbacks, per io_loop.py's pause() (unlike stop(),
// nothing is torn down). Safe to call from any goroutine; wakes the loop
// so a blocked poll returns promptly. A later Start resumes the loop
// exactly where it left off.
func (r *Reactor) Pause() {
	r.mu.Lock()
	r.pauseRequested = true
	r.mu.Unlock()
	_ = r.w.wake()
}

func (r *Reactor) loop() {
	for {
		r.mu.Lock()
		cbs := r.pending
		r.pending = nil
		r.mu.Unlock()

		var pendingTimers []*timerHandle
		now := time.Now()
		r.mu.Lock()
		for r.timers.Len() != 0 {
			top := r.timers[0]
			if top.callback == nil {
				heap.Pop(&r.timers)
				continue
			}
			if !now.Before(top.deadline) {
				pendingTimers = append(pendingTimers, heap.Pop(&r.timers).(*timerHandle))
				continue
			}
			break
		}
		r.mu.Unlock()

		for _, c := range cbs {
			r.safeExecute(c.fn)
		}

		for _, t := range pendingTimers {
			cb := t.callback
			t.callback = nil
			if cb != nil {
				r.safeExecute(cb)
			}
		}

		if r.state.load() == loopStopping {
			r.finishStop()
			return
		}

		r.mu.Lock()
		paused := r.pauseRequested
		r.pauseRequested = false
		r.mu.Unlock()
		if paused {
			r.state.store(loopIdle)
			return
		}

		r.mu.Lock()
		numCbs := len(r.pending)
		var timeout int
		switch {
		case numCbs != 0:
			timeout = 0
		case r.timers.Len() != 0:
			d := time.Until(r.timers[0].deadline)
			ms := int(d / time.Millisecond)
			if ms < 0 {
				ms = 0
			}
			if ms > pollTimeoutMs {
				ms = pollTimeoutMs
			}
			timeout = ms
		default:
			timeout = pollTimeoutMs
		}
		r.mu.Unlock()

		r.state.store(loopSleeping)
		_, err := r.p.poll(timeout)
		r.state.store(loopRunning)
		if err != nil {
			r.log.Err().Err(err).Log("reactor poll error")
		}
	}
}

func (r *Reactor) finishStop() {
	r.mu.Lock()
	r.pending = nil
	r.timers = nil
	r.mu.Unlock()
	_ = r.w.close()
	_ = r.p.close()
	r.state.store(loopStopped)
}

// safeExecute runs fn, catching and logging a panic so one failing
// callback never kills the reactor, matching spec §4.1 step 3/4 and
// §7's "Callbacks running on the reactor catch and log all failures".
func (r *Reactor) safeExecute(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Err().Interface("panic", rec).Log("reactor callback panicked")
		}
	}()
	fn()
}
