package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipe_fifoOrder(t *testing.T) {
	p := NewPipe(0)

	wasReadable, err := p.Write("a")
	require.NoError(t, err)
	assert.False(t, wasReadable)

	wasReadable, err = p.Write("b")
	require.NoError(t, err)
	assert.True(t, wasReadable)

	v, _, err := p.Read()
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	v, _, err = p.Read()
	require.NoError(t, err)
	assert.Equal(t, "b", v)

	_, _, err = p.Read()
	assert.Equal(t, Again, err)
}

func TestPipe_highWaterMark(t *testing.T) {
	p := NewPipe(2)

	_, err := p.Write(1)
	require.NoError(t, err)
	_, err = p.Write(2)
	require.NoError(t, err)

	assert.False(t, p.WriteAvailable())
	_, err = p.Write(3)
	assert.Equal(t, Again, err)
}

func TestPipe_doneBypassesHighWaterMark(t *testing.T) {
	p := NewPipe(1)

	_, err := p.Write(1)
	require.NoError(t, err)
	assert.False(t, p.WriteAvailable())

	_, err = p.Write(Done{})
	require.NoError(t, err, "Done must always be acceptable, even over HWM")
}

func TestPipe_lowWaterMarkResumesProducer(t *testing.T) {
	p := NewPipe(3) // lwm = ceil((3+1)/2) = 2

	for i := 0; i < 3; i++ {
		_, err := p.Write(i)
		require.NoError(t, err)
	}
	assert.False(t, p.WriteAvailable())

	_, lwmReached, err := p.Read()
	require.NoError(t, err)
	assert.False(t, lwmReached)

	_, lwmReached, err = p.Read()
	require.NoError(t, err)
	assert.True(t, lwmReached, "second read should cross the low-water mark")
}

func TestPipe_readAvailableAndClear(t *testing.T) {
	p := NewPipe(0)
	assert.False(t, p.ReadAvailable())

	_, err := p.Write("x")
	require.NoError(t, err)
	assert.True(t, p.ReadAvailable())

	p.Clear()
	assert.False(t, p.ReadAvailable())
	_, _, err = p.Read()
	assert.Equal(t, Again, err)
}
