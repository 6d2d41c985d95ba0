package ring

// requesterImpl implements connImpl for REQUESTER sockets, grounded
// directly on original_source/ring/requester.py: one engine for the
// socket's whole lifetime, alternating strictly between one Send and one
// Recv.
type requesterImpl struct {
	socket *Socket
	engine *StreamEngine

	recvPipe *Pipe
	sendPipe *Pipe

	recvActivated bool
	sendActivated bool
	shouldSend    bool
}

func newRequesterImpl(s *Socket, engine *StreamEngine) *requesterImpl {
	return &requesterImpl{
		socket:        s,
		engine:        engine,
		recvPipe:      engine.recvPipe,
		sendPipe:      engine.sendPipe,
		recvActivated: true,
		sendActivated: true,
		shouldSend:    true,
	}
}

func (r *requesterImpl) fd() int                          { return r.engine.stream.FD() }
func (r *requesterImpl) attachEngine(engine *StreamEngine) {} // unreachable: REQUESTER never binds

func (r *requesterImpl) closeImpl() {
	if wasReadable, err := r.sendPipe.Write(Done{}); err == nil && !wasReadable {
		r.engine.activateSend()
	}
	r.sendActivated = false
}

func (r *requesterImpl) recv() ([]byte, error) {
	if r.shouldSend {
		return nil, &InconsistentStateError{Message: "should not recv without send"}
	}
	if !r.recvActivated {
		return nil, Again
	}

	v, _, err := r.recvPipe.Read()
	if err != nil {
		r.recvActivated = false
		r.engine.activateRecv()
		return nil, err
	}
	r.shouldSend = true
	return v.([]byte), nil
}

func (r *requesterImpl) send(data []byte) error {
	if !r.shouldSend {
		return &InconsistentStateError{Message: "should not send again"}
	}
	if !r.sendActivated {
		return Again
	}

	wasReadable, err := r.sendPipe.Write(data)
	if err != nil {
		r.sendActivated = false
		return err
	}
	if !wasReadable {
		r.engine.activateSend()
	}
	r.shouldSend = false
	return nil
}

func (r *requesterImpl) recvAvailable() bool {
	r.recvActivated = r.recvPipe.ReadAvailable()
	return r.recvActivated
}

func (r *requesterImpl) sendAvailable() bool {
	r.sendActivated = r.sendPipe.WriteAvailable()
	return r.sendActivated
}

func (r *requesterImpl) activateSend(int) { r.sendActivated = true }
func (r *requesterImpl) activateRecv(int) { r.recvActivated = true }

func (r *requesterImpl) connectionClose(int, error) {
	r.recvPipe.Clear()
	r.sendPipe.Clear()
	_ = r.socket.mailbox.Send(Mail{Command: cmdFinalize})
}

func (r *requesterImpl) connectionFinalize() {
	r.recvPipe = nil
	r.sendPipe = nil
}

// Requester is a REQ socket: Send, then Recv, strictly alternating.
type Requester struct{ s *Socket }

// NewRequester constructs an idle REQUESTER socket bound to ctx.
func NewRequester(ctx *Context) (*Requester, error) {
	s, err := newSocket(ctx, KindRequester)
	if err != nil {
		return nil, err
	}
	return &Requester{s: s}, nil
}

// Connect dials a REPLIER at host:port.
func (r *Requester) Connect(host string, port int) error { return r.s.connect(host, port) }

// Send submits a request. flags accepts NonBlock.
func (r *Requester) Send(data []byte, flags ...int) error { return r.s.Send(data, flagOf(flags)) }

// Recv reads the matching reply. flags accepts NonBlock.
func (r *Requester) Recv(flags ...int) ([]byte, error) { return r.s.Recv(flagOf(flags)) }

// Close begins closing the socket.
func (r *Requester) Close() error { return r.s.Close() }

// GetSockName returns the connection's local address.
func (r *Requester) GetSockName() (string, int, error) { return r.s.GetSockName() }

// Poll reports readiness for the requested PollIn/PollOut conditions.
func (r *Requester) Poll(events int) int { return r.s.Poll(events) }
