// Package control implements the host side of the ENet-based control
// stream: message framing, the AES-128-GCM encrypted envelope,
// dispatch to the other streams, and the keepalive/timeout loop.
//
// Grounded on src/session/stream/control/mod.rs (wire semantics, main
// loop, dispatch table) and moonlight-common-go/control/stream.go
// (Go framing idiom; its ENet/crypto calls were left as placeholders
// there, wired for real here).
package control

import (
	"encoding/binary"
	"errors"

	"github.com/moonshine-go/moonshine/internal/protocol"
)

// frameHeaderSize is the 4-byte type(u16 LE) + length(u16 LE) prefix
// on every wire message (spec §4.2).
const frameHeaderSize = 4

// minimumEncryptedLength bounds an Encrypted envelope's payload:
// 4-byte sequence number + 16-byte GCM tag + the smallest possible
// nested control message (its own 4-byte frame header).
const minimumEncryptedLength = 4 + 16 + 4

var (
	ErrShortBuffer    = errors.New("control: buffer shorter than frame header")
	ErrLengthMismatch = errors.New("control: declared length does not match buffer")
)

// Message is one parsed control frame: a type tag and its raw payload.
type Message struct {
	Type    protocol.ControlMessageType
	Payload []byte
}

// ParseMessage reads exactly one frame from buf. The declared length
// must equal the remaining buffer length exactly (spec §4.2) — a
// mismatch is a protocol error, not a partial parse.
func ParseMessage(buf []byte) (Message, error) {
	if len(buf) < frameHeaderSize {
		return Message{}, ErrShortBuffer
	}
	typ := binary.LittleEndian.Uint16(buf[0:2])
	length := binary.LittleEndian.Uint16(buf[2:4])
	if int(length) != len(buf)-frameHeaderSize {
		return Message{}, ErrLengthMismatch
	}
	return Message{Type: protocol.ControlMessageType(typ), Payload: buf[frameHeaderSize:]}, nil
}

// EncryptedEnvelope is the parsed payload of a Type == CtrlEncrypted message.
type EncryptedEnvelope struct {
	SequenceNumber uint32
	Tag            [16]byte
	Ciphertext     []byte
}

// ParseEncryptedEnvelope parses an Encrypted message's payload (spec §4.2).
func ParseEncryptedEnvelope(payload []byte) (EncryptedEnvelope, error) {
	if len(payload) < minimumEncryptedLength {
		return EncryptedEnvelope{}, ErrShortBuffer
	}
	var env EncryptedEnvelope
	env.SequenceNumber = binary.LittleEndian.Uint32(payload[0:4])
	copy(env.Tag[:], payload[4:20])
	env.Ciphertext = payload[20:]
	return env, nil
}

// InputDataPayload strips and validates the 32-bit big-endian length
// prefix on an InputData message's payload (spec §6).
func InputDataPayload(payload []byte) ([]byte, error) {
	if len(payload) < 4 {
		return nil, ErrShortBuffer
	}
	declared := binary.BigEndian.Uint32(payload[0:4])
	if int(declared) != len(payload)-4 {
		return nil, ErrLengthMismatch
	}
	return payload[4:], nil
}
