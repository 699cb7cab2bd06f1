package ws

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Opcode identifies a WebSocket frame type.
type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

// Frame is a decoded WebSocket frame.
type Frame struct {
	Fin     bool
	Opcode  Opcode
	Payload []byte
}

// ErrIncomplete means the buffer does not yet hold a whole frame.
var ErrIncomplete = errors.New("ws: incomplete frame")

// MaxFramePayload bounds a single frame's payload. Larger declared lengths
// are treated as protocol errors before any allocation happens.
const MaxFramePayload = 1 << 20

const (
	finBit    = 0x80
	maskBit   = 0x80
	opcodeMax = 0x0F
)

// Encode serializes f as a server-to-client frame (never masked).
func Encode(f Frame) []byte {
	n := len(f.Payload)

	var header [10]byte
	header[0] = byte(f.Opcode) & opcodeMax
	if f.Fin {
		header[0] |= finBit
	}

	var headerLen int
	switch {
	case n < 126:
		header[1] = byte(n)
		headerLen = 2
	case n <= 0xFFFF:
		header[1] = 126
		binary.BigEndian.PutUint16(header[2:4], uint16(n))
		headerLen = 4
	default:
		header[1] = 127
		binary.BigEndian.PutUint64(header[2:10], uint64(n))
		headerLen = 10
	}

	out := make([]byte, headerLen+n)
	copy(out, header[:headerLen])
	copy(out[headerLen:], f.Payload)
	return out
}

// Decode parses one frame from the front of buf, unmasking client payloads.
// It returns the frame and the number of bytes consumed. ErrIncomplete means
// more bytes are needed; other errors are protocol violations.
func Decode(buf []byte) (Frame, int, error) {
	if len(buf) < 2 {
		return Frame{}, 0, ErrIncomplete
	}

	frame := Frame{
		Fin:    buf[0]&finBit != 0,
		Opcode: Opcode(buf[0] & opcodeMax),
	}
	masked := buf[1]&maskBit != 0
	length := uint64(buf[1] &^ maskBit)
	offset := 2

	switch length {
	case 126:
		if len(buf) < offset+2 {
			return Frame{}, 0, ErrIncomplete
		}
		length = uint64(binary.BigEndian.Uint16(buf[offset : offset+2]))
		offset += 2
	case 127:
		if len(buf) < offset+8 {
			return Frame{}, 0, ErrIncomplete
		}
		length = binary.BigEndian.Uint64(buf[offset : offset+8])
		offset += 8
	}

	if length > MaxFramePayload {
		return Frame{}, 0, fmt.Errorf("ws: frame payload %d exceeds limit", length)
	}

	var maskKey [4]byte
	if masked {
		if len(buf) < offset+4 {
			return Frame{}, 0, ErrIncomplete
		}
		copy(maskKey[:], buf[offset:offset+4])
		offset += 4
	}

	end := offset + int(length)
	if len(buf) < end {
		return Frame{}, 0, ErrIncomplete
	}

	frame.Payload = make([]byte, length)
	copy(frame.Payload, buf[offset:end])
	if masked {
		for i := range frame.Payload {
			frame.Payload[i] ^= maskKey[i%4]
		}
	}
	return frame, end, nil
}
