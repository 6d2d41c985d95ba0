package ring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailbox_sendRecvOrder(t *testing.T) {
	mb, err := NewMailbox()
	require.NoError(t, err)
	defer mb.Close()

	require.NoError(t, mb.Send(Mail{Command: cmdActivateRecv, EngineID: 1}))
	require.NoError(t, mb.Send(Mail{Command: cmdActivateSend, EngineID: 2}))

	m, err := mb.Recv(0)
	require.NoError(t, err)
	assert.Equal(t, cmdActivateRecv, m.Command)
	assert.Equal(t, 1, m.EngineID)

	m, err = mb.Recv(0)
	require.NoError(t, err)
	assert.Equal(t, cmdActivateSend, m.Command)
	assert.Equal(t, 2, m.EngineID)

	_, err = mb.Recv(0)
	assert.Equal(t, Again, err)
}

func TestMailbox_recvTimesOutWhenEmpty(t *testing.T) {
	mb, err := NewMailbox()
	require.NoError(t, err)
	defer mb.Close()

	start := time.Now()
	_, err = mb.Recv(20)
	assert.Equal(t, Again, err)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestMailbox_crossGoroutineWakeup(t *testing.T) {
	mb, err := NewMailbox()
	require.NoError(t, err)
	defer mb.Close()

	done := make(chan Mail, 1)
	go func() {
		m, err := mb.Recv(-1)
		require.NoError(t, err)
		done <- m
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, mb.Send(Mail{Command: cmdFinalize}))

	select {
	case m := <-done:
		assert.Equal(t, cmdFinalize, m.Command)
	case <-time.After(time.Second):
		t.Fatal("blocked Recv was never woken by a cross-goroutine Send")
	}
}

func TestMailbox_drainInto(t *testing.T) {
	mb, err := NewMailbox()
	require.NoError(t, err)
	defer mb.Close()

	require.NoError(t, mb.Send(Mail{Command: cmdActivateRecv}))
	require.NoError(t, mb.Send(Mail{Command: cmdActivateSend}))

	var dst []Mail
	mb.DrainInto(&dst)
	assert.Len(t, dst, 2)

	_, err = mb.Recv(0)
	assert.Equal(t, Again, err)
}
