// Package wire implements the length-framed wire protocol shared by all
// four socket types, grounded directly on
// original_source/ring/protocol.py.
package wire

import (
	"encoding/binary"
	"errors"
)

// MaxPacketLen is the maximum on-wire packet size, including the header.
const MaxPacketLen = 128 * 1024

// HeaderLen is the size of a frame header: 1 byte flags, 4 bytes
// big-endian length.
const HeaderLen = 5

// FlagMore marks that more frames follow for the same logical message.
const FlagMore byte = 1 << 0

// FlagControl is reserved and unused by the payload-only protocol this
// package implements; carried as a named constant because the original
// protocol module defines it (see the disabled-handshake Open Question
// decision in SPEC_FULL.md §5).
const FlagControl byte = 1 << 2

// Disabled handshake constants, carried from protocol.py for documentation
// purposes only; no code path reads or writes them. See SPEC_FULL.md §5,
// Open Question decision #1.
const (
	MajorVersion          byte = 1
	MinorVersion          byte = 0
	requesterGreetingByte byte = 'R'
	replierGreetingByte   byte = 'P'
)

// RequesterGreeting and ReplierGreeting are the (unused) handshake
// greetings the original protocol defines but never exchanges.
var (
	RequesterGreeting = []byte{MajorVersion, MinorVersion, requesterGreetingByte}
	ReplierGreeting   = []byte{MajorVersion, MinorVersion, replierGreetingByte}
)

// ErrPayloadTooLarge describes a payload that cannot be represented at
// all. No function in this package returns it: EncodeFrames has no error
// result and chunks any payload into frames; it is kept for completeness
// of the error surface.
var ErrPayloadTooLarge = errors.New("wire: payload exceeds maximum representable frame length")

// EncodeFrames splits payload into a chain of on-wire frames, each at
// most MaxPacketLen bytes including its header, setting FlagMore on every
// frame but the last.
func EncodeFrames(payload []byte) [][]byte {
	const maxBody = MaxPacketLen - HeaderLen

	if len(payload) == 0 {
		return [][]byte{encodeFrame(nil, false)}
	}

	var frames [][]byte
	for offset := 0; offset < len(payload); offset += maxBody {
		end := offset + maxBody
		more := true
		if end >= len(payload) {
			end = len(payload)
			more = false
		}
		frames = append(frames, encodeFrame(payload[offset:end], more))
	}
	return frames
}

func encodeFrame(body []byte, more bool) []byte {
	total := HeaderLen + len(body)
	out := make([]byte, total)
	if more {
		out[0] = FlagMore
	}
	binary.BigEndian.PutUint32(out[1:5], uint32(total))
	copy(out[HeaderLen:], body)
	return out
}

// DecodeHeader parses a 5-byte frame header, returning whether MORE is
// set and the number of body bytes that follow.
func DecodeHeader(header []byte) (more bool, bodyLen int, err error) {
	if len(header) != HeaderLen {
		return false, 0, errors.New("wire: short header")
	}
	flags := header[0]
	length := binary.BigEndian.Uint32(header[1:5])
	if length < HeaderLen || length > MaxPacketLen {
		return false, 0, errors.New("wire: invalid frame length")
	}
	return flags&FlagMore != 0, int(length) - HeaderLen, nil
}
