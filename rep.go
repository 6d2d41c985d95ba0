package ring

import "sync"

// replierImpl implements connImpl for REPLIER sockets, grounded directly
// on original_source/ring/replier.py: fans in many peer connections,
// round-robins recv across them in FIFO order (an engine stays at the
// front of recvQueue until its buffered messages are exhausted), and
// routes each Send back to whichever peer the last Recv came from.
//
// attachEngine runs on the io-loop goroutine (from Socket.onAccept);
// send/recv run on whichever goroutine calls Socket.Send/Recv;
// connectionClose/connectionFinalize run wherever processCommands is
// draining the mailbox (user goroutine or reaper goroutine). mu guards
// every field below against that concurrent access — the Python original
// gets this for free from the GIL, Go does not.
type replierImpl struct {
	socket *Socket

	mu          sync.Mutex
	connections map[int]*engineConn
	recvQueue   []int
	outActive   map[int]bool

	lastReceivedEngineID int
	shouldRecv            bool
	closing               bool
}

func newReplierImpl(s *Socket) *replierImpl {
	return &replierImpl{
		socket:                s,
		connections:           make(map[int]*engineConn),
		outActive:             make(map[int]bool),
		lastReceivedEngineID: -1,
		shouldRecv:           true,
	}
}

func (r *replierImpl) fd() int { return r.socket.listenFD }

func (r *replierImpl) attachEngine(engine *StreamEngine) {
	r.mu.Lock()
	r.connections[engine.ID()] = &engineConn{engine: engine, recvPipe: engine.recvPipe, sendPipe: engine.sendPipe}
	r.outActive[engine.ID()] = true
	r.mu.Unlock()
	engine.activateRecv()
}

func (r *replierImpl) closeImpl() {
	r.mu.Lock()
	r.closing = true
	conns := make([]*engineConn, 0, len(r.connections))
	for _, c := range r.connections {
		conns = append(conns, c)
	}
	empty := len(conns) == 0
	r.mu.Unlock()

	if empty {
		_ = r.socket.mailbox.Send(Mail{Command: cmdFinalize})
		return
	}
	for _, c := range conns {
		if wasReadable, err := c.sendPipe.Write(Done{}); err == nil && !wasReadable {
			c.engine.activateSend()
		}
	}
}

func (r *replierImpl) send(data []byte) error {
	r.mu.Lock()
	if r.shouldRecv {
		r.mu.Unlock()
		return &InconsistentStateError{Message: "should not send before recv"}
	}
	c, ok := r.connections[r.lastReceivedEngineID]
	if !ok {
		r.mu.Unlock()
		// The peer that sent the request we're replying to has since
		// disconnected; nothing to route the reply to.
		return &InconsistentStateError{Message: "peer connection no longer exists"}
	}
	if !r.outActive[r.lastReceivedEngineID] {
		r.mu.Unlock()
		return Again
	}

	wasReadable, err := c.sendPipe.Write(data)
	if err != nil {
		r.outActive[r.lastReceivedEngineID] = false
		r.mu.Unlock()
		return err
	}
	r.shouldRecv = true
	r.mu.Unlock()

	if !wasReadable {
		c.engine.activateSend()
	}
	return nil
}

func (r *replierImpl) recv() ([]byte, error) {
	r.mu.Lock()
	if !r.shouldRecv {
		r.mu.Unlock()
		return nil, &InconsistentStateError{Message: "should not recv again"}
	}
	if len(r.recvQueue) == 0 {
		r.mu.Unlock()
		return nil, Again
	}

	engineID := r.recvQueue[0]
	c, ok := r.connections[engineID]
	if !ok {
		r.recvQueue = r.recvQueue[1:]
		r.mu.Unlock()
		return nil, Again
	}

	v, _, err := c.recvPipe.Read()
	if err != nil {
		r.mu.Unlock()
		return nil, Again
	}
	r.lastReceivedEngineID = engineID

	drained := !c.recvPipe.ReadAvailable()
	if drained {
		r.recvQueue = r.recvQueue[1:]
	}
	r.shouldRecv = false
	r.mu.Unlock()

	if drained {
		c.engine.activateRecv()
	}
	return v.([]byte), nil
}

func (r *replierImpl) recvAvailable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.recvQueue) != 0
}

func (r *replierImpl) sendAvailable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outActive[r.lastReceivedEngineID]
}

func (r *replierImpl) activateSend(engineID int) {
	r.mu.Lock()
	r.outActive[engineID] = true
	r.mu.Unlock()
}

func (r *replierImpl) activateRecv(engineID int) {
	r.mu.Lock()
	r.recvQueue = append(r.recvQueue, engineID)
	r.mu.Unlock()
}

func (r *replierImpl) connectionClose(engineID int, err error) {
	if engineID == listenerEngineID {
		_ = r.socket.ctx.reactor().Unregister(r.socket.listenFD)
		return
	}

	r.mu.Lock()
	if engineID == r.lastReceivedEngineID {
		r.shouldRecv = true
	}
	if c, ok := r.connections[engineID]; ok {
		c.recvPipe.Clear()
		c.sendPipe.Clear()
		delete(r.connections, engineID)
	}
	delete(r.outActive, engineID)
	finalize := r.closing && len(r.connections) == 0
	r.mu.Unlock()

	if finalize {
		_ = r.socket.mailbox.Send(Mail{Command: cmdFinalize})
	}
}

func (r *replierImpl) connectionFinalize() {
	r.mu.Lock()
	r.connections = nil
	r.outActive = nil
	r.recvQueue = nil
	r.mu.Unlock()
}

// Replier is a REP socket: fans in many REQUESTERs, replying to each in
// the order its request was received.
type Replier struct{ s *Socket }

// NewReplier constructs an idle REPLIER socket bound to ctx.
func NewReplier(ctx *Context) (*Replier, error) {
	s, err := newSocket(ctx, KindReplier)
	if err != nil {
		return nil, err
	}
	return &Replier{s: s}, nil
}

// Bind listens for REQUESTERs at host:port.
func (r *Replier) Bind(host string, port int) error { return r.s.bind(host, port) }

// Recv reads the next request. flags accepts NonBlock.
func (r *Replier) Recv(flags ...int) ([]byte, error) { return r.s.Recv(flagOf(flags)) }

// Send replies to whichever peer the last Recv came from. flags accepts
// NonBlock.
func (r *Replier) Send(data []byte, flags ...int) error { return r.s.Send(data, flagOf(flags)) }

// Close begins closing the socket.
func (r *Replier) Close() error { return r.s.Close() }

// GetSockName returns the bound local address.
func (r *Replier) GetSockName() (string, int, error) { return r.s.GetSockName() }

// Poll reports readiness for the requested PollIn/PollOut conditions.
func (r *Replier) Poll(events int) int { return r.s.Poll(events) }
