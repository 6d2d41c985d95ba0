package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFrames_singleFrame(t *testing.T) {
	frames := EncodeFrames([]byte("ping"))
	require.Len(t, frames, 1)

	more, bodyLen, err := DecodeHeader(frames[0][:HeaderLen])
	require.NoError(t, err)
	assert.False(t, more)
	assert.Equal(t, 4, bodyLen)
	assert.Equal(t, []byte("ping"), frames[0][HeaderLen:])
}

func TestEncodeFrames_empty(t *testing.T) {
	frames := EncodeFrames(nil)
	require.Len(t, frames, 1)

	more, bodyLen, err := DecodeHeader(frames[0][:HeaderLen])
	require.NoError(t, err)
	assert.False(t, more)
	assert.Equal(t, 0, bodyLen)
}

func TestEncodeFrames_fragmented(t *testing.T) {
	payload := make([]byte, (MaxPacketLen-HeaderLen)*3+17)
	for i := range payload {
		payload[i] = byte(i)
	}

	frames := EncodeFrames(payload)
	require.Len(t, frames, 4)

	var reassembled []byte
	for i, frame := range frames {
		more, bodyLen, err := DecodeHeader(frame[:HeaderLen])
		require.NoError(t, err)
		assert.LessOrEqual(t, len(frame), MaxPacketLen)
		if i == len(frames)-1 {
			assert.False(t, more)
		} else {
			assert.True(t, more)
		}
		reassembled = append(reassembled, frame[HeaderLen:HeaderLen+bodyLen]...)
	}
	assert.Equal(t, payload, reassembled)
}

func TestDecodeHeader_shortHeader(t *testing.T) {
	_, _, err := DecodeHeader([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestDecodeHeader_invalidLength(t *testing.T) {
	header := make([]byte, HeaderLen)
	header[1], header[2], header[3], header[4] = 0, 0, 0, 2 // < HeaderLen
	_, _, err := DecodeHeader(header)
	assert.Error(t, err)

	header[4] = 0
	header[3] = 0xFF // absurdly large, > MaxPacketLen
	header[2] = 0xFF
	header[1] = 0xFF
	_, _, err = DecodeHeader(header)
	assert.Error(t, err)
}
