package ring

import (
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-ringmq/internal/wire"
)

var engineIDCounter atomic.Int64

// StreamEngine drives a single connection's wire protocol on top of a
// SocketStream, grounded directly on
// original_source/ring/stream_engine.py. It owns no socket-type
// semantics (REQ/REP/PUSH/PULL framing decisions live in socket.go and
// its per-type files); its job is exactly: read one wire message at a
// time into recvPipe, and drain sendPipe onto the wire, one frame chain
// at a time.
type StreamEngine struct {
	id int64

	ctx      *Context
	stream   *SocketStream
	recvPipe *Pipe
	sendPipe *Pipe
	mailbox  *Mailbox

	mu                sync.Mutex
	backgroundSending bool
	closed            bool
}

// newStreamEngine constructs a StreamEngine. The caller (socket.go) owns
// wiring recvPipe/sendPipe to its own state machine.
func newStreamEngine(ctx *Context, stream *SocketStream, recvPipe, sendPipe *Pipe, mailbox *Mailbox) *StreamEngine {
	return &StreamEngine{
		id:       engineIDCounter.Add(1),
		ctx:      ctx,
		stream:   stream,
		recvPipe: recvPipe,
		sendPipe: sendPipe,
		mailbox:  mailbox,
	}
}

// ID returns the engine's process-unique identifier, used to tag mail
// addressed to a specific connection.
func (e *StreamEngine) ID() int { return int(e.id) }

// close is the manual teardown path. Racing against a spontaneous fail()
// is handled by the closed flag: a double-close re-posts TYPE_FINALIZE so
// a caller blocked waiting for the close to complete is still woken, per
// stream_engine.py's _close() comment.
func (e *StreamEngine) close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		_ = e.mailbox.Send(Mail{Command: cmdFinalize, EngineID: int(e.id)})
		return
	}
	e.closed = true
	e.mu.Unlock()

	_ = e.stream.Close()
	_ = e.mailbox.Send(Mail{Command: cmdClosed, EngineID: int(e.id)})
}

// fail is the spontaneous-error teardown path. If the engine is already
// closed, the outside world no longer cares (it already posted Done to
// the send pipe and tore the engine down itself), so fail is silent.
func (e *StreamEngine) fail(cause error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	_ = e.stream.Close()
	_ = e.mailbox.Send(Mail{Command: cmdError, EngineID: int(e.id), Err: newSocketError(cause)})
}

// connectUnit dials addr, resolving once connected.
func (e *StreamEngine) connectUnit(host string, port int) unit[struct{}] {
	started := false
	return func(sent any, sendErr error) step[struct{}] {
		if !started {
			started = true
			return Await[struct{}](e.stream.Connect(host, port))
		}
		if sendErr != nil {
			return Fail[struct{}](sendErr)
		}
		return Complete(struct{}{})
	}
}

// recvUnit reads one complete wire message: a header/body pair per
// frame, continuing while FlagMore is set and concatenating bodies in
// arrival order, per protocol.py's generate_payload_frame counterpart on
// the receive side.
func (e *StreamEngine) recvUnit() unit[[]byte] {
	const (
		phaseHeader = iota
		phaseBody
	)
	phase := phaseHeader
	started := false
	var buf []byte
	var more bool
	var bodyLen int

	return func(sent any, sendErr error) step[[]byte] {
		if sendErr != nil {
			return Fail[[]byte](sendErr)
		}
		if !started {
			started = true
			return Await[[]byte](e.stream.ReadWithLength(wire.HeaderLen))
		}
		switch phase {
		case phaseHeader:
			header := sent.([]byte)
			m, bl, err := wire.DecodeHeader(header)
			if err != nil {
				return Fail[[]byte](&ProtocolError{Message: "bad frame header", Cause: err})
			}
			more, bodyLen = m, bl
			phase = phaseBody
			return Await[[]byte](e.stream.ReadWithLength(bodyLen))
		default:
			buf = append(buf, sent.([]byte)...)
			if more {
				phase = phaseHeader
				return Await[[]byte](e.stream.ReadWithLength(wire.HeaderLen))
			}
			return Complete(buf)
		}
	}
}

// sendUnit writes data as a chain of wire frames.
func (e *StreamEngine) sendUnit(data []byte) unit[struct{}] {
	frames := wire.EncodeFrames(data)
	idx := 0
	started := false
	return func(sent any, sendErr error) step[struct{}] {
		if sendErr != nil {
			return Fail[struct{}](sendErr)
		}
		if started && idx >= len(frames) {
			return Complete(struct{}{})
		}
		started = true
		frame := frames[idx]
		idx++
		return Await[struct{}](e.stream.Write(frame))
	}
}

// attemptConnect runs connectUnit and reports the outcome via mailbox.
func (e *StreamEngine) attemptConnect(host string, port int) {
	fut := runCoroutine(e.ctx.reactor(), e.connectUnit(host, port))
	fut.AddDoneCallback(func(f *Future[struct{}]) {
		if _, err := f.Result(); err != nil {
			e.fail(err)
			return
		}
		_ = e.mailbox.Send(Mail{Command: cmdConnectSuccess, EngineID: int(e.id)})
	})
}

// attemptRecv reads exactly one message and deposits it into recvPipe,
// activating the peer (via ACTIVATE_RECV) only if the pipe was empty
// before this write — i.e. the consumer had drained it and gone idle.
func (e *StreamEngine) attemptRecv() {
	fut := runCoroutine(e.ctx.reactor(), e.recvUnit())
	fut.AddDoneCallback(func(f *Future[[]byte]) {
		msg, err := f.Result()
		if err != nil {
			e.fail(err)
			return
		}
		wasReadable, werr := e.recvPipe.Write(msg)
		if werr != nil {
			e.fail(werr)
			return
		}
		if !wasReadable {
			_ = e.mailbox.Send(Mail{Command: cmdActivateRecv, EngineID: int(e.id)})
		}
	})
}

// attemptSend drains sendPipe onto the wire one message at a time,
// self-rescheduling while the pipe keeps yielding data and going idle
// (backgroundSending = false) once it hits Again, per
// stream_engine.py's _attempt_send background-loop discipline.
func (e *StreamEngine) attemptSend() {
	e.mu.Lock()
	if e.backgroundSending {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	front, lwmReached, err := e.sendPipe.Read()
	if err != nil {
		return // Again: queue empty, nothing to do.
	}
	if e.handleSendFront(front, lwmReached) {
		return
	}

	e.mu.Lock()
	e.backgroundSending = true
	e.mu.Unlock()

	e.sendLoop(front.([]byte))
}

// handleSendFront applies the Done-sentinel/low-watermark handling common
// to the trigger-once and background-loop call sites. It returns true if
// the caller should stop (Done was observed and the engine is closing).
func (e *StreamEngine) handleSendFront(front any, lwmReached bool) bool {
	if _, isDone := front.(Done); isDone {
		e.close()
		return true
	}
	if lwmReached {
		_ = e.mailbox.Send(Mail{Command: cmdActivateSend, EngineID: int(e.id)})
	}
	return false
}

func (e *StreamEngine) sendLoop(data []byte) {
	fut := runCoroutine(e.ctx.reactor(), e.sendUnit(data))
	fut.AddDoneCallback(func(f *Future[struct{}]) {
		if _, err := f.Result(); err != nil {
			e.fail(err)
			return
		}

		front, lwmReached, err := e.sendPipe.Read()
		if err != nil {
			e.mu.Lock()
			e.backgroundSending = false
			e.mu.Unlock()
			return
		}
		if e.handleSendFront(front, lwmReached) {
			return
		}
		e.sendLoop(front.([]byte))
	})
}

// activateConnect, activateSend and activateRecv post the corresponding
// attempt onto the engine's reactor, matching stream_engine.py's
// activate_connect/activate_send/activate_recv (each a
// context.run_in_background call).
func (e *StreamEngine) activateConnect(host string, port int) {
	e.ctx.runInBackground(func() { e.attemptConnect(host, port) })
}

func (e *StreamEngine) activateSend() {
	e.ctx.runInBackground(e.attemptSend)
}

func (e *StreamEngine) activateRecv() {
	e.ctx.runInBackground(e.attemptRecv)
}
