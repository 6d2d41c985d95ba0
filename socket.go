package ring

import (
	"net"
	"sync"

	"golang.org/x/sys/unix"
)

// socketKind selects a Socket's wire role, matching
// original_source/ring/connection.py's REPLIER/REQUESTER/PULLER/PUSHER
// integer constants.
type socketKind int

const (
	KindReplier socketKind = iota + 1
	KindRequester
	KindPuller
	KindPusher
)

// backlog is the listen(2) backlog for REPLIER/PULLER binds.
const backlog = 128

// NonBlock requests a non-blocking Send/Recv: Again is returned to the
// caller instead of blocking until the operation becomes possible.
const NonBlock = 1

// PollIn and PollOut are the bits Socket.Poll accepts and returns.
const (
	PollIn  = 1
	PollOut = 1 << 1
)

// listenerEngineID is the sentinel connectionClose would receive for the
// master listening socket itself, per connection.py's engine_id == -1
// branch. StreamEngine ids are assigned from a monotonic counter
// starting at 1 (see engineIDCounter), so this value is never actually
// produced; the branch is kept, audited, and documented rather than
// deleted, since its absence would silently diverge from the behavior
// the branch was written to guard against if engine id allocation ever
// changes.
const listenerEngineID = -1

type socketState int32

const (
	stateIdle socketState = iota
	stateOpen
	stateClosing
	stateClosed
)

// engineConn bundles the per-connection state a REPLIER or PULLER tracks
// for each accepted peer.
type engineConn struct {
	engine   *StreamEngine
	recvPipe *Pipe
	sendPipe *Pipe
}

// connImpl is the per-socket-type behavior plugged into Socket, grounded
// directly on original_source/ring/connection_impl.py's ConnectionImpl
// and its four concrete subclasses (requester.py, replier.py, pusher.py,
// puller.py).
type connImpl interface {
	fd() int
	attachEngine(engine *StreamEngine)
	closeImpl()
	recv() ([]byte, error)
	send(data []byte) error
	recvAvailable() bool
	sendAvailable() bool
	activateSend(engineID int)
	activateRecv(engineID int)
	connectionClose(engineID int, err error)
	connectionFinalize()
}

// Socket is the shared façade across REQUESTER, REPLIER, PUSHER and
// PULLER sockets, grounded directly on
// original_source/ring/connection.py's Connection. Bind/Connect/Send/Recv
// are intended to be called from a single goroutine per Socket, matching
// the original's own single-owner assumption (its self._lock is declared
// but never actually taken in any method).
type Socket struct {
	kind socketKind
	ctx  *Context

	mu    sync.Mutex
	state socketState

	mailbox *Mailbox
	impl    connImpl

	listenFD  int
	boundHost string
	boundPort int
}

func newSocket(ctx *Context, kind socketKind) (*Socket, error) {
	mb, err := NewMailbox()
	if err != nil {
		return nil, err
	}
	return &Socket{kind: kind, ctx: ctx, mailbox: mb, state: stateIdle, listenFD: -1}, nil
}

func (s *Socket) getState() socketState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Socket) setState(v socketState) {
	s.mu.Lock()
	s.state = v
	s.mu.Unlock()
}

// bind listens on host:port. Only valid for REPLIER and PULLER sockets.
func (s *Socket) bind(host string, port int) error {
	switch s.getState() {
	case stateClosing, stateClosed:
		return ConnectionClosed
	case stateOpen:
		return ConnectionInUse
	}
	if s.kind != KindReplier && s.kind != KindPuller {
		return &InconsistentStateError{Message: "bind is not applicable to this socket type"}
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return err
	}

	sa, err := sockaddrFor(host, port)
	if err != nil {
		_ = unix.Close(fd)
		return err
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return err
	}
	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return err
	}

	s.listenFD = fd
	s.boundHost, s.boundPort = host, port

	switch s.kind {
	case KindReplier:
		s.impl = newReplierImpl(s)
	case KindPuller:
		s.impl = newPullerImpl(s)
	}

	if err := s.ctx.reactor().Register(fd, evRead, s.onAccept); err != nil {
		_ = unix.Close(fd)
		return err
	}
	s.setState(stateOpen)
	return nil
}

// connect dials host:port. Only valid for REQUESTER and PUSHER sockets.
func (s *Socket) connect(host string, port int) error {
	switch s.getState() {
	case stateClosing, stateClosed:
		return ConnectionClosed
	case stateOpen:
		return ConnectionInUse
	}
	if s.kind != KindRequester && s.kind != KindPusher {
		return &InconsistentStateError{Message: "connect is not applicable to this socket type"}
	}

	fd, err := dialFD()
	if err != nil {
		return err
	}
	stream := NewSocketStream(s.ctx.reactor(), s.ctx.logger(), fd)
	recvPipe := NewPipe(0)
	sendPipe := NewPipe(0)
	engine := newStreamEngine(s.ctx, stream, recvPipe, sendPipe, s.mailbox)

	switch s.kind {
	case KindRequester:
		s.impl = newRequesterImpl(s, engine)
	case KindPusher:
		s.impl = newPusherImpl(s, engine)
	}

	s.setState(stateOpen)
	engine.activateConnect(host, port)

	return s.processCommands(-1)
}

func (s *Socket) onAccept(ev ioEvents) {
	for {
		connFD, _, err := unix.Accept(s.listenFD)
		if err != nil {
			return // wouldBlock once the backlog drains; any other error is transient.
		}
		_ = unix.SetNonblock(connFD, true)

		stream := NewSocketStream(s.ctx.reactor(), s.ctx.logger(), connFD)
		recvPipe := NewPipe(0)
		sendPipe := NewPipe(0)
		engine := newStreamEngine(s.ctx, stream, recvPipe, sendPipe, s.mailbox)
		s.impl.attachEngine(engine)
	}
}

// close begins a graceful shutdown: the impl drains in-flight sends
// before the underlying engines actually close, and the socket finishes
// transitioning to stateClosed once a FINALIZE envelope arrives.
func (s *Socket) close() error {
	if s.getState() != stateOpen {
		return ConnectionClosed
	}
	s.impl.closeImpl()
	if s.listenFD >= 0 {
		_ = s.ctx.reactor().Unregister(s.listenFD)
	}
	if err := s.ctx.reaper().Register(s.mailbox.FD(), evRead, func(ioEvents) {
		_ = s.processCommands(0)
	}); err != nil {
		return err
	}
	s.setState(stateClosing)
	return nil
}

func (s *Socket) finalize() {
	if s.listenFD >= 0 {
		_ = unix.Close(s.listenFD)
	}
	_ = s.ctx.reaper().Unregister(s.mailbox.FD())
	_ = s.mailbox.Close()
	s.setState(stateClosed)
}

// processCommands drains the mailbox, applying ACTIVATE_SEND/RECV to the
// impl and surfacing a non-reset-family ERROR as the call's return value,
// matching connection.py's _process_commands: block (timeoutMs<0) or
// poll once (timeoutMs==0) for the first envelope, then keep draining
// with a zero timeout until Again.
func (s *Socket) processCommands(timeoutMs int) error {
	for {
		mail, err := s.mailbox.Recv(timeoutMs)
		if err != nil {
			if err == Again {
				return nil
			}
			return err
		}

		switch mail.Command {
		case cmdActivateSend:
			s.impl.activateSend(mail.EngineID)
		case cmdActivateRecv:
			s.impl.activateRecv(mail.EngineID)
		case cmdConnectSuccess:
			// Nothing to do; the caller was just blocking for this.
		case cmdError:
			s.impl.connectionClose(mail.EngineID, mail.Err)
			if !isResetFamily(mail.Err) {
				return mail.Err
			}
		case cmdClosed:
			s.impl.connectionClose(mail.EngineID, nil)
		case cmdFinalize:
			s.impl.connectionFinalize()
			s.finalize()
			return nil
		}

		timeoutMs = 0
	}
}

// Recv reads the next message. By default it blocks until one is
// available; pass NonBlock to return Again instead.
func (s *Socket) Recv(flags int) ([]byte, error) {
	if s.getState() != stateOpen {
		return nil, ConnectionClosed
	}
	if err := s.processCommands(0); err != nil {
		return nil, err
	}
	if s.getState() != stateOpen {
		return nil, ConnectionClosed
	}

	v, err := s.impl.recv()
	if err == nil {
		return v, nil
	}
	if err != Again {
		return nil, err
	}
	if flags&NonBlock != 0 {
		return nil, Again
	}

	for {
		if err := s.processCommands(-1); err != nil {
			return nil, err
		}
		if s.getState() != stateOpen {
			return nil, ConnectionClosed
		}
		v, err := s.impl.recv()
		if err == nil {
			return v, nil
		}
		if err != Again {
			return nil, err
		}
	}
}

// Send writes data. By default it blocks until the send can be
// submitted; pass NonBlock to return Again instead.
func (s *Socket) Send(data []byte, flags int) error {
	if s.getState() != stateOpen {
		return ConnectionClosed
	}
	if err := s.processCommands(0); err != nil {
		return err
	}
	if s.getState() != stateOpen {
		return ConnectionClosed
	}

	err := s.impl.send(data)
	if err == nil {
		return nil
	}
	if err != Again {
		return err
	}
	if flags&NonBlock != 0 {
		return Again
	}

	for {
		if err := s.processCommands(-1); err != nil {
			return err
		}
		if s.getState() != stateOpen {
			return ConnectionClosed
		}
		err := s.impl.send(data)
		if err == nil {
			return nil
		}
		if err != Again {
			return err
		}
	}
}

// Close begins closing the socket, waiting for in-flight work to drain.
func (s *Socket) Close() error { return s.close() }

// GetSockName returns the socket's local address.
func (s *Socket) GetSockName() (string, int, error) {
	if s.getState() != stateOpen {
		return "", 0, ConnectionClosed
	}
	sa, err := unix.Getsockname(s.impl.fd())
	if err != nil {
		return "", 0, err
	}
	return sockaddrToHostPort(sa)
}

// Poll reports which of the requested PollIn/PollOut conditions
// currently hold.
func (s *Socket) Poll(events int) int {
	if s.impl == nil {
		return 0
	}
	var mask int
	if events&PollIn != 0 && s.impl.recvAvailable() {
		mask |= PollIn
	}
	if events&PollOut != 0 && s.impl.sendAvailable() {
		mask |= PollOut
	}
	return mask
}

func sockaddrFor(host string, port int) (unix.Sockaddr, error) {
	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil || len(ips) == 0 {
			if err == nil {
				err = &ConnectionError{Op: "resolve " + host}
			}
			return nil, err
		}
		ip = ips[0]
	}
	if ip4 := ip.To4(); ip4 != nil {
		var a unix.SockaddrInet4
		copy(a.Addr[:], ip4)
		a.Port = port
		return &a, nil
	}
	var a unix.SockaddrInet6
	copy(a.Addr[:], ip.To16())
	a.Port = port
	return &a, nil
}

func sockaddrToHostPort(sa unix.Sockaddr) (string, int, error) {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(a.Addr[:]).String(), a.Port, nil
	case *unix.SockaddrInet6:
		return net.IP(a.Addr[:]).String(), a.Port, nil
	default:
		return "", 0, &InconsistentStateError{Message: "unsupported sockaddr family"}
	}
}

func flagOf(flags []int) int {
	if len(flags) == 0 {
		return 0
	}
	return flags[0]
}
