package ring

// pusherImpl implements connImpl for PUSHER sockets, grounded directly
// on original_source/ring/pusher.py: fire-and-forget send only, no recv.
type pusherImpl struct {
	socket *Socket
	engine *StreamEngine

	sendPipe      *Pipe
	sendActivated bool
}

func newPusherImpl(s *Socket, engine *StreamEngine) *pusherImpl {
	return &pusherImpl{socket: s, engine: engine, sendPipe: engine.sendPipe, sendActivated: true}
}

func (p *pusherImpl) fd() int                          { return p.engine.stream.FD() }
func (p *pusherImpl) attachEngine(engine *StreamEngine) {} // unreachable: PUSHER never binds

func (p *pusherImpl) closeImpl() {
	if wasReadable, err := p.sendPipe.Write(Done{}); err == nil && !wasReadable {
		p.engine.activateSend()
	}
	p.sendActivated = false
}

func (p *pusherImpl) recv() ([]byte, error) {
	return nil, &InconsistentStateError{Message: "pusher does not receive"}
}

func (p *pusherImpl) send(data []byte) error {
	if !p.sendActivated {
		return Again
	}

	wasReadable, err := p.sendPipe.Write(data)
	if err != nil {
		p.sendActivated = false
		return err
	}
	if !wasReadable {
		p.engine.activateSend()
	}
	return nil
}

func (p *pusherImpl) recvAvailable() bool { return false }

func (p *pusherImpl) sendAvailable() bool {
	p.sendActivated = p.sendPipe.WriteAvailable()
	return p.sendActivated
}

func (p *pusherImpl) activateSend(int) { p.sendActivated = true }
func (p *pusherImpl) activateRecv(int) { panic("ring: pusher does not receive recv events") }

func (p *pusherImpl) connectionClose(int, error) {
	p.sendPipe.Clear()
	_ = p.socket.mailbox.Send(Mail{Command: cmdFinalize})
}

func (p *pusherImpl) connectionFinalize() {
	p.sendPipe = nil
}

// Pusher is a PUSH socket: fire-and-forget sends, no recv.
type Pusher struct{ s *Socket }

// NewPusher constructs an idle PUSHER socket bound to ctx.
func NewPusher(ctx *Context) (*Pusher, error) {
	s, err := newSocket(ctx, KindPusher)
	if err != nil {
		return nil, err
	}
	return &Pusher{s: s}, nil
}

// Connect dials a PULLER at host:port.
func (p *Pusher) Connect(host string, port int) error { return p.s.connect(host, port) }

// Send queues data for delivery. flags accepts NonBlock.
func (p *Pusher) Send(data []byte, flags ...int) error { return p.s.Send(data, flagOf(flags)) }

// Close begins closing the socket.
func (p *Pusher) Close() error { return p.s.Close() }

// GetSockName returns the connection's local address.
func (p *Pusher) GetSockName() (string, int, error) { return p.s.GetSockName() }

// Poll reports readiness for the requested PollIn/PollOut conditions.
func (p *Pusher) Poll(events int) int { return p.s.Poll(events) }
