package control

import (
	"encoding/binary"
	"testing"
)

func buildFrame(typ uint16, payload []byte) []byte {
	buf := make([]byte, frameHeaderSize+len(payload))
	binary.LittleEndian.PutUint16(buf[0:2], typ)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(payload)))
	copy(buf[frameHeaderSize:], payload)
	return buf
}

func TestParseMessageRoundTrip(t *testing.T) {
	frame := buildFrame(0x0200, nil)
	msg, err := ParseMessage(frame)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if msg.Type != 0x0200 {
		t.Errorf("Type = %#x, want 0x0200", msg.Type)
	}
	if len(msg.Payload) != 0 {
		t.Errorf("Payload length = %d, want 0", len(msg.Payload))
	}
}

func TestParseMessageRejectsLengthMismatch(t *testing.T) {
	frame := buildFrame(0x0200, []byte("hello"))
	frame[2] = 99 // corrupt the declared length
	if _, err := ParseMessage(frame); err != ErrLengthMismatch {
		t.Errorf("got %v, want ErrLengthMismatch", err)
	}
}

func TestParseMessageRejectsShortBuffer(t *testing.T) {
	if _, err := ParseMessage([]byte{0x01, 0x02}); err != ErrShortBuffer {
		t.Errorf("got %v, want ErrShortBuffer", err)
	}
}

func TestParseEncryptedEnvelope(t *testing.T) {
	payload := make([]byte, 20+8) // seq(4) + tag(16) + 8-byte ciphertext
	binary.LittleEndian.PutUint32(payload[0:4], 42)
	for i := range payload[4:20] {
		payload[4+i] = byte(i)
	}
	copy(payload[20:], []byte("ciphrtxt"))

	env, err := ParseEncryptedEnvelope(payload)
	if err != nil {
		t.Fatalf("ParseEncryptedEnvelope: %v", err)
	}
	if env.SequenceNumber != 42 {
		t.Errorf("SequenceNumber = %d, want 42", env.SequenceNumber)
	}
	if len(env.Ciphertext) != 8 {
		t.Errorf("Ciphertext length = %d, want 8", len(env.Ciphertext))
	}
}

func TestParseEncryptedEnvelopeRejectsShortPayload(t *testing.T) {
	if _, err := ParseEncryptedEnvelope(make([]byte, 10)); err != ErrShortBuffer {
		t.Errorf("got %v, want ErrShortBuffer", err)
	}
}

func TestInputDataPayload(t *testing.T) {
	inner := []byte("raw input bytes")
	buf := make([]byte, 4+len(inner))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(inner)))
	copy(buf[4:], inner)

	got, err := InputDataPayload(buf)
	if err != nil {
		t.Fatalf("InputDataPayload: %v", err)
	}
	if string(got) != string(inner) {
		t.Errorf("got %q, want %q", got, inner)
	}
}

func TestInputDataPayloadRejectsLengthMismatch(t *testing.T) {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], 99)
	if _, err := InputDataPayload(buf); err != ErrLengthMismatch {
		t.Errorf("got %v, want ErrLengthMismatch", err)
	}
}
