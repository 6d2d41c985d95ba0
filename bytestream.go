package ring

import (
	"bytes"
	"net"
	"sync"

	"golang.org/x/sys/unix"
)

// readRequest describes a single pending read, either for a fixed length
// or up to a delimiter.
type readRequest struct {
	length    int    // >=0 for a fixed-length read, -1 for delimiter
	delimiter []byte // non-nil for a delimiter read
	fut       *Future[[]byte]
}

// writeChunk is one queued write, split to at most wireMaxChunk bytes on
// enqueue per spec §4.3 ("Write buffer... each ≤128 KiB").
type writeChunk struct {
	data   []byte
	offset int
}

const wireMaxChunk = 128 * 1024

// SocketStream is a non-blocking TCP wrapper built on the Reactor,
// grounded directly on original_source/ring/stream.py (buffer/readiness
// discipline) and original_source/ring/reader.py (BufferReader's
// block-sequence read buffer).
type SocketStream struct {
	r   *Reactor
	log *Logger

	mu       sync.Mutex
	fd       int
	stopping bool
	stopped  bool

	readBlocks [][]byte // unconsumed read data, in arrival order
	readOffset int      // offset into readBlocks[0]
	readSize   int      // total unconsumed bytes across readBlocks
	pendingRd  *readRequest

	writeQueue       []writeChunk
	writeCompletions []writeCompletion
	mask             ioEvents
}

// NewSocketStream wraps an already-created, non-blocking socket fd.
func NewSocketStream(r *Reactor, log *Logger, fd int) *SocketStream {
	return &SocketStream{r: r, log: orDefault(log), fd: fd}
}

// FD returns the underlying socket file descriptor.
func (s *SocketStream) FD() int { return s.fd }

// dialFD creates a non-blocking TCP socket and returns its fd, unconnected.
func dialFD() (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// Connect dials host:port asynchronously, resolving once the connection
// completes or fails.
func (s *SocketStream) Connect(host string, port int) *Future[struct{}] {
	out := NewFuture[struct{}]()
	addrs, err := net.LookupIP(host)
	if err != nil || len(addrs) == 0 {
		if err == nil {
			err = &ConnectionError{Op: "resolve " + host}
		}
		out.SetError(err)
		return out
	}
	var sa unix.Sockaddr
	if ip4 := addrs[0].To4(); ip4 != nil {
		var a unix.SockaddrInet4
		copy(a.Addr[:], ip4)
		a.Port = port
		sa = &a
	} else {
		var a unix.SockaddrInet6
		copy(a.Addr[:], addrs[0].To16())
		a.Port = port
		sa = &a
	}

	err = unix.Connect(s.fd, sa)
	if err == nil {
		out.SetResult(struct{}{})
		return out
	}
	if !wouldBlock(err) {
		out.SetError(&ConnectionError{Errno: toErrno(err), Op: "connect"})
		return out
	}

	s.addMask(evWrite)
	s.reregister(func(ev ioEvents) {
		s.mu.Lock()
		s.mask &^= evWrite
		s.mu.Unlock()
		_ = s.reregisterMask()

		errno, gerr := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if gerr != nil {
			s.closeWithError(gerr)
			out.SetError(gerr)
			return
		}
		if errno != 0 {
			cerr := unix.Errno(errno)
			s.closeWithError(cerr)
			out.SetError(&ConnectionError{Errno: cerr, Op: "connect"})
			return
		}
		out.SetResult(struct{}{})
	})
	return out
}

func toErrno(err error) unix.Errno {
	if e, ok := err.(unix.Errno); ok {
		return e
	}
	return 0
}

// ReadWithLength reads exactly n bytes. Only one pending read may exist
// at a time; overlapping calls fail with InconsistentStateError.
func (s *SocketStream) ReadWithLength(n int) *Future[[]byte] {
	return s.startRead(readRequest{length: n, fut: NewFuture[[]byte]()})
}

// ReadWithDelimiter reads up to and including the first occurrence of
// delim.
func (s *SocketStream) ReadWithDelimiter(delim []byte) *Future[[]byte] {
	return s.startRead(readRequest{length: -1, delimiter: delim, fut: NewFuture[[]byte]()})
}

func (s *SocketStream) startRead(req readRequest) *Future[[]byte] {
	s.mu.Lock()
	if s.stopped || s.stopping {
		s.mu.Unlock()
		req.fut.SetError(ConnectionClosed)
		return req.fut
	}
	if s.pendingRd != nil {
		s.mu.Unlock()
		req.fut.SetError(&InconsistentStateError{Message: "overlapping read"})
		return req.fut
	}
	s.pendingRd = &req
	satisfied := s.tryServeReadLocked()
	s.mu.Unlock()

	if !satisfied {
		s.addMask(evRead)
		_ = s.reregisterMask()
	}
	return req.fut
}

// tryServeReadLocked attempts to satisfy s.pendingRd from buffered data.
// Must be called with s.mu held. Returns true if it resolved (and
// cleared) the pending read.
func (s *SocketStream) tryServeReadLocked() bool {
	req := s.pendingRd
	if req == nil {
		return true
	}

	if req.delimiter != nil {
		idx, total := s.findDelimiterLocked(req.delimiter)
		if idx < 0 {
			return false
		}
		out := s.extractLocked(total)
		s.pendingRd = nil
		req.fut.SetResult(out)
		return true
	}

	if s.readSize < req.length {
		return false
	}
	out := s.extractLocked(req.length)
	s.pendingRd = nil
	req.fut.SetResult(out)
	return true
}

// findDelimiterLocked copies every unconsumed byte in readBlocks into one
// buffer and searches it for delim; it does not retain block-boundary
// overlap between calls, so each call rescans all buffered data. Returns
// the delimiter's offset and the number of bytes to extract (through and
// including the delimiter), or idx -1 if not yet found.
func (s *SocketStream) findDelimiterLocked(delim []byte) (idx int, total int) {
	var buf bytes.Buffer
	first := true
	for _, b := range s.readBlocks {
		chunk := b
		if first {
			chunk = b[s.readOffset:]
			first = false
		}
		buf.Write(chunk)
	}
	flat := buf.Bytes()
	i := bytes.Index(flat, delim)
	if i < 0 {
		return -1, 0
	}
	return i, i + len(delim)
}

// extractLocked removes and returns the first n unconsumed bytes.
func (s *SocketStream) extractLocked(n int) []byte {
	out := make([]byte, 0, n)
	for n > 0 && len(s.readBlocks) > 0 {
		block := s.readBlocks[0]
		avail := block[s.readOffset:]
		if len(avail) <= n {
			out = append(out, avail...)
			n -= len(avail)
			s.readSize -= len(avail)
			s.readBlocks = s.readBlocks[1:]
			s.readOffset = 0
		} else {
			out = append(out, avail[:n]...)
			s.readSize -= n
			s.readOffset += n
			n = 0
		}
	}
	return out
}

// Write enqueues data for sending, returning a future that resolves once
// the entire payload has been flushed to the socket. Writes may be
// pipelined: multiple Write calls queue independently.
func (s *SocketStream) Write(data []byte) *Future[struct{}] {
	out := NewFuture[struct{}]()
	if len(data) == 0 {
		out.SetResult(struct{}{})
		return out
	}

	s.mu.Lock()
	if s.stopped || s.stopping {
		s.mu.Unlock()
		out.SetError(ConnectionClosed)
		return out
	}
	for off := 0; off < len(data); off += wireMaxChunk {
		end := off + wireMaxChunk
		if end > len(data) {
			end = len(data)
		}
		s.writeQueue = append(s.writeQueue, writeChunk{data: data[off:end]})
	}
	// Track completion via a sentinel appended after the real chunks so
	// Write's future resolves only once every chunk it enqueued has
	// drained, even if other Writes are interleaved.
	s.writeCompletions = append(s.writeCompletions, writeCompletion{
		afterChunks: len(s.writeQueue),
		fut:         out,
	})
	s.mu.Unlock()

	s.addMask(evWrite)
	_ = s.reregisterMask()
	return out
}

type writeCompletion struct {
	afterChunks int
	fut         *Future[struct{}]
}

func (s *SocketStream) addMask(ev ioEvents) {
	s.mu.Lock()
	s.mask |= ev
	s.mu.Unlock()
}

func (s *SocketStream) reregister(cb func(ioEvents)) {
	s.mu.Lock()
	mask := s.mask
	s.mu.Unlock()
	_ = s.r.Register(s.fd, mask, cb)
}

func (s *SocketStream) reregisterMask() error {
	s.mu.Lock()
	mask := s.mask
	s.mu.Unlock()
	return s.r.Register(s.fd, mask, s.onEvent)
}

// onEvent is the steady-state readiness callback once connected: drains
// readable data into the buffer (serving a pending read if possible) and
// drains the write queue.
func (s *SocketStream) onEvent(ev ioEvents) {
	if ev&evError != 0 {
		s.closeWithError(&ConnectionError{Op: "poll"})
		return
	}
	if ev&evRead != 0 {
		s.handleReadable()
	}
	if ev&evWrite != 0 {
		s.handleWritable()
	}
}

func (s *SocketStream) handleReadable() {
	buf := make([]byte, 64*1024)
	n, err := unix.Read(s.fd, buf)
	if err != nil {
		if wouldBlock(err) || err == unix.EINTR {
			return
		}
		s.closeWithError(err)
		return
	}
	if n == 0 {
		// EOF is treated as a reset per spec §4.3.
		s.closeWithError(unix.ECONNRESET)
		return
	}

	s.mu.Lock()
	s.readBlocks = append(s.readBlocks, buf[:n])
	s.readSize += n
	satisfied := s.tryServeReadLocked()
	if satisfied {
		// READ stays armed as long as the stream is open (edge-triggered
		// discipline: don't drop the mask just because the pending read
		// was served), per spec §4.3.
	}
	s.mu.Unlock()
}

func (s *SocketStream) handleWritable() {
	for {
		s.mu.Lock()
		if len(s.writeQueue) == 0 {
			s.mask &^= evWrite
			s.mu.Unlock()
			_ = s.reregisterMask()
			return
		}
		chunk := &s.writeQueue[0]
		s.mu.Unlock()

		n, err := unix.Write(s.fd, chunk.data[chunk.offset:])
		if err != nil {
			if wouldBlock(err) || err == unix.EINTR {
				return
			}
			s.closeWithError(err)
			return
		}

		s.mu.Lock()
		chunk.offset += n
		done := chunk.offset >= len(chunk.data)
		if done {
			s.writeQueue = s.writeQueue[1:]
			for i := range s.writeCompletions {
				s.writeCompletions[i].afterChunks--
			}
			var remaining []writeCompletion
			for _, wc := range s.writeCompletions {
				if wc.afterChunks <= 0 {
					wc.fut.SetResult(struct{}{})
				} else {
					remaining = append(remaining, wc)
				}
			}
			s.writeCompletions = remaining
		}
		s.mu.Unlock()
	}
}

// Close is idempotent: unregisters the fd, closes the socket, and fails
// every pending future.
func (s *SocketStream) Close() error {
	return s.closeWithError(ConnectionClosed)
}

func (s *SocketStream) closeWithError(cause error) error {
	s.mu.Lock()
	if s.stopped || s.stopping {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	pendingRd := s.pendingRd
	s.pendingRd = nil
	completions := s.writeCompletions
	s.writeCompletions = nil
	s.mu.Unlock()

	_ = s.r.Unregister(s.fd)
	_ = unix.Close(s.fd)

	werr := &StreamClosedError{Cause: cause}
	if pendingRd != nil {
		pendingRd.fut.SetError(werr)
	}
	for _, wc := range completions {
		wc.fut.SetError(werr)
	}

	if cause != nil && cause != ConnectionClosed && isResetFamily(cause) {
		s.log.Debug().Err(cause).Log("stream closed: peer reset")
	}

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	return nil
}

// StreamClosedError wraps the cause of a stream closure (a deliberate
// Close(), a peer reset, or an unrelated I/O error).
type StreamClosedError struct {
	Cause error
}

func (e *StreamClosedError) Error() string {
	return "ring: stream closed: " + errString(e.Cause)
}

func (e *StreamClosedError) Unwrap() error { return e.Cause }

func errString(err error) string {
	if err == nil {
		return "unknown"
	}
	return err.Error()
}
