package ring

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContext(t *testing.T) *Context {
	t.Helper()
	ctx, err := NewContext()
	require.NoError(t, err)
	t.Cleanup(ctx.Stop)
	return ctx
}

func TestReqRep_echoRoundTrip(t *testing.T) {
	ctx := newTestContext(t)

	rep, err := NewReplier(ctx)
	require.NoError(t, err)
	require.NoError(t, rep.Bind("127.0.0.1", 0))
	host, port, err := rep.GetSockName()
	require.NoError(t, err)

	req, err := NewRequester(ctx)
	require.NoError(t, err)
	require.NoError(t, req.Connect(host, port))

	require.NoError(t, req.Send([]byte("ping")))
	msg, err := rep.Recv()
	require.NoError(t, err)
	assert.Equal(t, "ping", string(msg))

	require.NoError(t, rep.Send(msg))
	reply, err := req.Recv()
	require.NoError(t, err)
	assert.Equal(t, "ping", string(reply))
}

func TestReqRep_fragmentedMessage(t *testing.T) {
	ctx := newTestContext(t)

	rep, err := NewReplier(ctx)
	require.NoError(t, err)
	require.NoError(t, rep.Bind("127.0.0.1", 0))
	host, port, err := rep.GetSockName()
	require.NoError(t, err)

	req, err := NewRequester(ctx)
	require.NoError(t, err)
	require.NoError(t, req.Connect(host, port))

	// Large enough to split across several wire frames.
	payload := make([]byte, 128*1024*8+513)
	for i := range payload {
		payload[i] = byte(i)
	}

	require.NoError(t, req.Send(payload))
	msg, err := rep.Recv()
	require.NoError(t, err)
	assert.Equal(t, payload, msg)
}

func TestReqRep_strictAlternationEnforced(t *testing.T) {
	ctx := newTestContext(t)

	rep, err := NewReplier(ctx)
	require.NoError(t, err)
	require.NoError(t, rep.Bind("127.0.0.1", 0))
	host, port, err := rep.GetSockName()
	require.NoError(t, err)

	req, err := NewRequester(ctx)
	require.NoError(t, err)
	require.NoError(t, req.Connect(host, port))

	_, err = req.Recv(NonBlock)
	assert.Error(t, err, "recv before send must be rejected")

	require.NoError(t, req.Send([]byte("a")))
	err = req.Send([]byte("b"), NonBlock)
	assert.Error(t, err, "second send before recv must be rejected")
}

func TestReplier_roundRobinsAcrossRequesters(t *testing.T) {
	ctx := newTestContext(t)

	rep, err := NewReplier(ctx)
	require.NoError(t, err)
	require.NoError(t, rep.Bind("127.0.0.1", 0))
	host, port, err := rep.GetSockName()
	require.NoError(t, err)

	const n = 3
	reqs := make([]*Requester, n)
	for i := range reqs {
		r, err := NewRequester(ctx)
		require.NoError(t, err)
		require.NoError(t, r.Connect(host, port))
		reqs[i] = r
	}

	seen := make(map[string]bool)
	for i, r := range reqs {
		require.NoError(t, r.Send([]byte(fmt.Sprintf("msg-%d", i))))
	}
	for i := 0; i < n; i++ {
		msg, err := rep.Recv()
		require.NoError(t, err)
		seen[string(msg)] = true
		require.NoError(t, rep.Send(msg))
	}
	assert.Len(t, seen, n)

	for i, r := range reqs {
		reply, err := r.Recv()
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("msg-%d", i), string(reply))
	}
}

func TestPushPull_fanInFromManyPushers(t *testing.T) {
	ctx := newTestContext(t)

	pull, err := NewPuller(ctx)
	require.NoError(t, err)
	require.NoError(t, pull.Bind("127.0.0.1", 0))
	host, port, err := pull.GetSockName()
	require.NoError(t, err)

	const n = 4
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			push, err := NewPusher(ctx)
			if !assert.NoError(t, err) {
				return
			}
			if !assert.NoError(t, push.Connect(host, port)) {
				return
			}
			assert.NoError(t, push.Send([]byte(fmt.Sprintf("job-%d", i))))
		}()
	}
	wg.Wait()

	got := make(map[string]bool)
	for i := 0; i < n; i++ {
		msg, err := pull.Recv()
		require.NoError(t, err)
		got[string(msg)] = true
	}
	assert.Len(t, got, n)
}

func TestPushPull_acceptRacesConcurrentRecv(t *testing.T) {
	ctx := newTestContext(t)

	pull, err := NewPuller(ctx)
	require.NoError(t, err)
	require.NoError(t, pull.Bind("127.0.0.1", 0))
	host, port, err := pull.GetSockName()
	require.NoError(t, err)

	const n = 50

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			push, err := NewPusher(ctx)
			if !assert.NoError(t, err) {
				return
			}
			if !assert.NoError(t, push.Connect(host, port)) {
				return
			}
			assert.NoError(t, push.Send([]byte(fmt.Sprintf("job-%d", i))))
		}()
	}

	// Recv starts draining before wg.Wait() below lets any pusher finish
	// connecting, so onAccept's writes into pullerImpl.connections race
	// against recv's reads of the same map on this goroutine.
	got := make(map[string]bool)
	for i := 0; i < n; i++ {
		msg, err := pull.Recv()
		require.NoError(t, err)
		got[string(msg)] = true
	}
	wg.Wait()
	assert.Len(t, got, n)
}

func TestPusher_implRejectsRecv(t *testing.T) {
	ctx := newTestContext(t)

	pull, err := NewPuller(ctx)
	require.NoError(t, err)
	require.NoError(t, pull.Bind("127.0.0.1", 0))
	host, port, err := pull.GetSockName()
	require.NoError(t, err)

	push, err := NewPusher(ctx)
	require.NoError(t, err)
	require.NoError(t, push.Connect(host, port))

	impl, ok := push.s.impl.(*pusherImpl)
	require.True(t, ok)
	_, err = impl.recv()
	assert.Error(t, err, "a PUSHER must reject recv")
}

func TestPuller_implRejectsSend(t *testing.T) {
	ctx := newTestContext(t)

	pull, err := NewPuller(ctx)
	require.NoError(t, err)
	require.NoError(t, pull.Bind("127.0.0.1", 0))

	impl, ok := pull.s.impl.(*pullerImpl)
	require.True(t, ok)
	err = impl.send([]byte("x"))
	assert.Error(t, err, "a PULLER must reject send")
}

func TestPushPull_deliversManyMessagesInOrder(t *testing.T) {
	ctx := newTestContext(t)

	pull, err := NewPuller(ctx)
	require.NoError(t, err)
	require.NoError(t, pull.Bind("127.0.0.1", 0))
	host, port, err := pull.GetSockName()
	require.NoError(t, err)

	push, err := NewPusher(ctx)
	require.NoError(t, err)
	require.NoError(t, push.Connect(host, port))

	for i := 0; i < 20; i++ {
		require.NoError(t, push.Send([]byte(fmt.Sprintf("m-%d", i))))
	}

	for i := 0; i < 20; i++ {
		msg, err := pull.Recv()
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("m-%d", i), string(msg))
	}
}

func TestRequester_peerResetSurfacesAsError(t *testing.T) {
	ctx := newTestContext(t)

	rep, err := NewReplier(ctx)
	require.NoError(t, err)
	require.NoError(t, rep.Bind("127.0.0.1", 0))
	host, port, err := rep.GetSockName()
	require.NoError(t, err)

	req, err := NewRequester(ctx)
	require.NoError(t, err)
	require.NoError(t, req.Connect(host, port))
	require.NoError(t, req.Send([]byte("ping")))

	_, err = rep.Recv()
	require.NoError(t, err)
	require.NoError(t, rep.Close())

	time.Sleep(50 * time.Millisecond)
	_, err = req.Recv()
	assert.Error(t, err, "requester must observe the peer going away")
}
