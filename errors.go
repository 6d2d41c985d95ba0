package ring

import (
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// Again signals that a non-blocking operation would have blocked. It is
// never propagated past a blocking call unless the caller opted into
// non-blocking mode via the NONBLOCK flag.
var Again = errors.New("ring: would block")

// Done is the terminal sentinel written to a send-pipe to signal that the
// engine owning it should drain, close its stream, and report CLOSED. It
// is not an error: it is a control value that flows through the same pipe
// as ordinary messages.
type Done struct{}

// IsDone reports whether v is the Done sentinel.
func IsDone(v any) bool {
	_, ok := v.(Done)
	return ok
}

// ConnectionClosedError is returned by socket operations attempted after
// the socket has finished closing.
type ConnectionClosedError struct{}

func (*ConnectionClosedError) Error() string { return "ring: connection closed" }

// ConnectionClosed is a shared instance for errors.Is comparisons.
var ConnectionClosed error = &ConnectionClosedError{}

// ConnectionInUseError is returned when bind/connect is attempted on a
// socket that is already open.
type ConnectionInUseError struct{}

func (*ConnectionInUseError) Error() string { return "ring: connection already in use" }

// ConnectionInUse is a shared instance for errors.Is comparisons.
var ConnectionInUse error = &ConnectionInUseError{}

// InconsistentStateError is raised when a socket's send/recv calls are
// made out of the order its type mandates (e.g. REQ.recv before REQ.send).
type InconsistentStateError struct {
	Message string
}

func (e *InconsistentStateError) Error() string {
	if e.Message == "" {
		return "ring: inconsistent state"
	}
	return "ring: inconsistent state: " + e.Message
}

// ProtocolError is raised when the wire protocol is violated (e.g. a
// frame header claims an impossible length).
type ProtocolError struct {
	Message string
	Cause   error
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ring: protocol error: %s: %v", e.Message, e.Cause)
	}
	return "ring: protocol error: " + e.Message
}

func (e *ProtocolError) Unwrap() error { return e.Cause }

// ConnectionError wraps a lower-level errno encountered on a socket.
type ConnectionError struct {
	Errno unix.Errno
	Op    string
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("ring: connection error during %s: %v", e.Op, e.Errno)
}

func (e *ConnectionError) Unwrap() error { return e.Errno }

// SocketError wraps an arbitrary lower-level error surfaced from the
// reactor thread to the user thread via a mailbox ERROR envelope.
type SocketError struct {
	Cause error
	Stack string
}

func (e *SocketError) Error() string {
	return fmt.Sprintf("ring: socket error: %v", e.Cause)
}

func (e *SocketError) Unwrap() error { return e.Cause }

// newSocketError captures the current goroutine's stack alongside cause,
// mirroring the Python original's sys.exc_info() capture of the stack at
// the point of failure.
func newSocketError(cause error) *SocketError {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return &SocketError{Cause: cause, Stack: string(buf[:n])}
}

// resetFamily lists errno values that indicate peer-induced connection
// loss rather than a program error. These are handled quietly: the
// engine is closed and removed from bookkeeping, but the error is never
// raised to the user. Darwin additionally reports EPROTOTYPE for a reset
// connection during certain races.
var resetFamily = map[unix.Errno]struct{}{
	unix.ECONNRESET:   {},
	unix.ECONNABORTED: {},
	unix.EPIPE:        {},
	unix.ETIMEDOUT:    {},
	unix.EPROTOTYPE:   {}, // Darwin: observed on a reset connection race.
}

// isResetFamily reports whether err represents a peer-induced connection
// loss that should be handled quietly per the error-handling design.
func isResetFamily(err error) bool {
	var errno unix.Errno
	if errors.As(err, &errno) {
		_, ok := resetFamily[errno]
		return ok
	}
	return false
}

// wouldBlock reports whether err is the kind of errno that means "try
// again later" for a non-blocking fd.
func wouldBlock(err error) bool {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno == unix.EAGAIN || errno == unix.EWOULDBLOCK || errno == unix.EINPROGRESS
	}
	return false
}
