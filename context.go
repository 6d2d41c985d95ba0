package ring

import (
	"sync"
	"time"
)

// Context hosts the two reactor goroutines every socket in a process
// shares — an io-loop that drives sockets and stream engines, and a
// reaper that drains mailboxes during close — grounded directly on
// original_source/ring/context.py.
type Context struct {
	log *Logger

	ioLoop     *Reactor
	reaperLoop *Reactor

	ioLoopDone chan struct{}
	reaperDone chan struct{}
}

type contextConfig struct {
	log *Logger
}

// ContextOption configures a Context at construction.
type ContextOption func(*contextConfig)

// WithLogger attaches a structured logger to the Context and the
// reactors it owns.
func WithLogger(l *Logger) ContextOption {
	return func(c *contextConfig) { c.log = l }
}

// NewContext starts the io-loop and reaper goroutines, blocking until
// both have initialized, mirroring context.py's two-Event synchronized
// startup (there, each Event guards against reading a nil IOLoop before
// its thread has run far enough to construct one).
func NewContext(opts ...ContextOption) (*Context, error) {
	cfg := &contextConfig{}
	for _, o := range opts {
		o(cfg)
	}
	log := orDefault(cfg.log)

	ioLoop, err := NewReactor(log)
	if err != nil {
		return nil, err
	}
	reaper, err := NewReactor(log)
	if err != nil {
		return nil, err
	}

	c := &Context{
		log:        log,
		ioLoop:     ioLoop,
		reaperLoop: reaper,
		ioLoopDone: make(chan struct{}),
		reaperDone: make(chan struct{}),
	}

	var ready sync.WaitGroup
	ready.Add(2)
	go func() {
		ioLoop.Start(ready.Done)
		close(c.ioLoopDone)
	}()
	go func() {
		reaper.Start(ready.Done)
		close(c.reaperDone)
	}()
	ready.Wait()

	log.Info().Log("context started")
	return c, nil
}

func (c *Context) reactor() *Reactor { return c.ioLoop }
func (c *Context) reaper() *Reactor  { return c.reaperLoop }
func (c *Context) logger() *Logger   { return c.log }

// runInBackground posts cb onto the io-loop, matching context.py's
// run_in_background (an io_loop.next_tick call).
func (c *Context) runInBackground(cb func()) {
	c.ioLoop.NextTick(cb)
}

// Stop gracefully shuts down both reactor goroutines, giving each up to
// five seconds before logging an error, matching context.py's stop().
func (c *Context) Stop() {
	c.ioLoop.NextTick(c.ioLoop.Stop)
	if !waitWithTimeout(c.ioLoopDone, 5*time.Second) {
		c.log.Err().Log("context io-loop thread failed to stop within 5s")
	}

	c.reaperLoop.NextTick(c.reaperLoop.Stop)
	if !waitWithTimeout(c.reaperDone, 5*time.Second) {
		c.log.Err().Log("context reaper thread failed to stop within 5s")
	}
}

func waitWithTimeout(ch <-chan struct{}, d time.Duration) bool {
	select {
	case <-ch:
		return true
	case <-time.After(d):
		return false
	}
}
