// Package rtp serializes and parses the minimal 12-byte RTP-derived
// header that precedes every audio FEC shard on the wire.
package rtp

import (
	"encoding/binary"
	"errors"

	"github.com/moonshine-go/moonshine/internal/protocol"
)

// ErrShortBuffer is returned by Parse when the buffer is smaller than
// protocol.RTPHeaderSize.
var ErrShortBuffer = errors.New("rtp: buffer shorter than header size")

// Header is the fixed-layout header written before each audio shard.
//
// Padding mirrors a field carried on the reference struct but is never
// placed on the wire: the wire-format table fixes the header at 12
// bytes with the payload starting immediately after SSRC.
type Header struct {
	Flags          uint8
	PacketType     uint8
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
	Padding        uint32
}

// NewAudioHeader builds a header for the audio stream with the fixed
// flags/packet-type pair and a zero SSRC, as required by spec §3.
func NewAudioHeader(sequenceNumber uint16, timestamp uint32) Header {
	return Header{
		Flags:          protocol.RTPFlags,
		PacketType:     protocol.RTPPacketTypeAV,
		SequenceNumber: sequenceNumber,
		Timestamp:      timestamp,
		SSRC:           0,
	}
}

// Serialize writes the 12-byte wire header into dst, which must be at
// least protocol.RTPHeaderSize bytes long, and returns the number of
// bytes written.
func (h Header) Serialize(dst []byte) int {
	_ = dst[protocol.RTPHeaderSize-1] // bounds check hint
	dst[0] = h.Flags
	dst[1] = h.PacketType
	binary.BigEndian.PutUint16(dst[2:4], h.SequenceNumber)
	binary.BigEndian.PutUint32(dst[4:8], h.Timestamp)
	binary.BigEndian.PutUint32(dst[8:12], h.SSRC)
	return protocol.RTPHeaderSize
}

// Bytes allocates and returns the serialized header.
func (h Header) Bytes() []byte {
	buf := make([]byte, protocol.RTPHeaderSize)
	h.Serialize(buf)
	return buf
}

// Parse reads a Header from the front of buf.
func Parse(buf []byte) (Header, error) {
	if len(buf) < protocol.RTPHeaderSize {
		return Header{}, ErrShortBuffer
	}
	return Header{
		Flags:          buf[0],
		PacketType:     buf[1],
		SequenceNumber: binary.BigEndian.Uint16(buf[2:4]),
		Timestamp:      binary.BigEndian.Uint32(buf[4:8]),
		SSRC:           binary.BigEndian.Uint32(buf[8:12]),
	}, nil
}
