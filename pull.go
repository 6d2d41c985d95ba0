package ring

import "sync"

// pullerImpl implements connImpl for PULLER sockets, grounded directly
// on original_source/ring/puller.py: fans in many PUSHER peers, recv
// only, round-robin FIFO across connections identical to REPLIER's.
//
// mu guards connections/recvQueue/closing the same way replierImpl's
// does: attachEngine runs on the io-loop goroutine while recv and
// connectionClose run on whichever goroutine is calling Socket.Recv or
// draining the mailbox.
type pullerImpl struct {
	socket *Socket

	mu          sync.Mutex
	connections map[int]*engineConn
	recvQueue   []int
	closing     bool
}

func newPullerImpl(s *Socket) *pullerImpl {
	return &pullerImpl{socket: s, connections: make(map[int]*engineConn)}
}

func (p *pullerImpl) fd() int { return p.socket.listenFD }

func (p *pullerImpl) attachEngine(engine *StreamEngine) {
	p.mu.Lock()
	p.connections[engine.ID()] = &engineConn{engine: engine, recvPipe: engine.recvPipe, sendPipe: engine.sendPipe}
	p.mu.Unlock()
	engine.activateRecv()
}

func (p *pullerImpl) closeImpl() {
	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		return
	}
	p.closing = true
	conns := make([]*engineConn, 0, len(p.connections))
	for _, c := range p.connections {
		conns = append(conns, c)
	}
	empty := len(conns) == 0
	p.mu.Unlock()

	if empty {
		_ = p.socket.mailbox.Send(Mail{Command: cmdFinalize})
		return
	}
	for _, c := range conns {
		if wasReadable, err := c.sendPipe.Write(Done{}); err == nil && !wasReadable {
			c.engine.activateSend()
		}
	}
}

func (p *pullerImpl) send([]byte) error {
	return &InconsistentStateError{Message: "puller does not send"}
}

func (p *pullerImpl) recv() ([]byte, error) {
	p.mu.Lock()
	if len(p.recvQueue) == 0 {
		p.mu.Unlock()
		return nil, Again
	}

	engineID := p.recvQueue[0]
	c, ok := p.connections[engineID]
	if !ok {
		p.recvQueue = p.recvQueue[1:]
		p.mu.Unlock()
		return nil, Again
	}

	v, _, err := c.recvPipe.Read()
	if err != nil {
		p.mu.Unlock()
		return nil, Again
	}
	drained := !c.recvPipe.ReadAvailable()
	if drained {
		p.recvQueue = p.recvQueue[1:]
	}
	p.mu.Unlock()

	if drained {
		c.engine.activateRecv()
	}
	return v.([]byte), nil
}

func (p *pullerImpl) recvAvailable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.recvQueue) != 0
}

func (p *pullerImpl) sendAvailable() bool { return false }

func (p *pullerImpl) activateSend(int) { panic("ring: puller does not receive send events") }

func (p *pullerImpl) activateRecv(engineID int) {
	p.mu.Lock()
	p.recvQueue = append(p.recvQueue, engineID)
	p.mu.Unlock()
}

func (p *pullerImpl) connectionClose(engineID int, err error) {
	if engineID == listenerEngineID {
		_ = p.socket.ctx.reactor().Unregister(p.socket.listenFD)
		return
	}

	p.mu.Lock()
	if c, ok := p.connections[engineID]; ok {
		c.recvPipe.Clear()
		c.sendPipe.Clear()
		delete(p.connections, engineID)
	}
	finalize := p.closing && len(p.connections) == 0
	p.mu.Unlock()

	if finalize {
		_ = p.socket.mailbox.Send(Mail{Command: cmdFinalize})
	}
}

func (p *pullerImpl) connectionFinalize() {
	p.mu.Lock()
	p.connections = nil
	p.recvQueue = nil
	p.mu.Unlock()
}

// Puller is a PULL socket: fans in many PUSHER peers, recv only.
type Puller struct{ s *Socket }

// NewPuller constructs an idle PULLER socket bound to ctx.
func NewPuller(ctx *Context) (*Puller, error) {
	s, err := newSocket(ctx, KindPuller)
	if err != nil {
		return nil, err
	}
	return &Puller{s: s}, nil
}

// Bind listens for PUSHERs at host:port.
func (p *Puller) Bind(host string, port int) error { return p.s.bind(host, port) }

// Recv reads the next message from whichever peer has one queued.
// flags accepts NonBlock.
func (p *Puller) Recv(flags ...int) ([]byte, error) { return p.s.Recv(flagOf(flags)) }

// Close begins closing the socket.
func (p *Puller) Close() error { return p.s.Close() }

// GetSockName returns the bound local address.
func (p *Puller) GetSockName() (string, int, error) { return p.s.GetSockName() }

// Poll reports readiness for the requested PollIn/PollOut conditions.
func (p *Puller) Poll(events int) int { return p.s.Poll(events) }
