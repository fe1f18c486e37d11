// Package audio implements the host's real-time audio path: a PCM
// source is encoded, sharded with Reed-Solomon FEC, framed with RTP
// headers, and sent over UDP to a client discovered via PING.
//
// Grounded on moonshine/src/rtsp/session/audio_stream.rs (packetization,
// discovery, pacing) and moonlight-common-go/audio/stream.go (Go
// idiom for the receive-side equivalent).
package audio

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/moonshine-go/moonshine/internal/fec"
	"github.com/moonshine-go/moonshine/internal/protocol"
	"github.com/moonshine-go/moonshine/internal/rtp"
)

// Config configures one audio stream's transport and pacing.
type Config struct {
	ListenAddr      string        // UDP address to bind, e.g. ":48000"
	PacketDuration  uint32        // RTP timestamp units advanced per encoded packet
	Tick            time.Duration // encode loop pacing, ~10ms per spec §4.1
	DiscoveryPoll   time.Duration // how often to poll for a PING datagram
}

// DefaultConfig returns pacing defaults matching spec §4.1.
func DefaultConfig(listenAddr string) Config {
	return Config{
		ListenAddr:     listenAddr,
		PacketDuration: 960, // 20ms at 48kHz
		Tick:           10 * time.Millisecond,
		DiscoveryPoll:  100 * time.Millisecond,
	}
}

// Stream owns one audio socket, encoder, PCM source, and FEC codec
// for the lifetime of a session.
type Stream struct {
	logger *log.Logger
	cfg    Config
	conn   *net.UDPConn
	source Source
	encoder Encoder
	codec  *fec.ReedSolomon

	mu         sync.Mutex
	clientAddr *net.UDPAddr
	seq        uint16
	timestamp  uint32

	// remoteInputKey is accepted via UpdateKey for parity with the
	// control stream's key-rotation command (spec §4.4). The audio
	// wire format carries no encryption, so it is stored but never
	// read.
	remoteInputKey [16]byte
}

// New binds the audio socket and constructs the FEC codec.
func New(logger *log.Logger, cfg Config, source Source, encoder Encoder) (*Stream, error) {
	addr, err := net.ResolveUDPAddr("udp", cfg.ListenAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	codec, err := fec.NewAudioCodec()
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &Stream{logger: logger, cfg: cfg, conn: conn, source: source, encoder: encoder, codec: codec}, nil
}

// UpdateKey stores the rotated remote-input key.
func (s *Stream) UpdateKey(key [16]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteInputKey = key
}

// Run drives PING-based client discovery and the encode/packetize/send
// loop until ctx is cancelled or a fatal error occurs.
func (s *Stream) Run(ctx context.Context) error {
	defer s.conn.Close()

	discoveryDone := make(chan struct{})
	go func() {
		defer close(discoveryDone)
		s.discoverClient(ctx)
	}()

	frame := make([]int16, s.encoder.FrameSize()*s.source.Channels())
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			<-discoveryDone
			return nil
		case <-ticker.C:
			if err := s.source.Read(frame); err != nil {
				if errors.Is(err, ErrNeedMoreInput) {
					continue
				}
				if errors.Is(err, io.EOF) {
					<-discoveryDone
					return nil
				}
				<-discoveryDone
				return err
			}

			packet, err := s.encoder.Encode(frame)
			if err != nil {
				if errors.Is(err, ErrEncoderClosed) {
					<-discoveryDone
					return nil
				}
				<-discoveryDone
				return err
			}

			if err := s.sendPacket(packet); err != nil {
				s.logger.Printf("audio: send failed: %v", err)
				<-discoveryDone
				return err
			}
		}
	}
}

// discoverClient polls for a "PING" datagram and records its sender
// as the active client address. PING is idempotent and may repeat to
// update the address (spec §4.1).
func (s *Stream) discoverClient(ctx context.Context) {
	buf := make([]byte, 1500)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.conn.SetReadDeadline(time.Now().Add(s.cfg.DiscoveryPoll))
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		if string(buf[:n]) == "PING" {
			s.mu.Lock()
			s.clientAddr = addr
			s.mu.Unlock()
		}
	}
}

// sendPacket shards packet into K=4 data + M=2 parity FEC shards and
// emits one RTP-framed UDP datagram per shard (spec §4.1).
func (s *Stream) sendPacket(packet []byte) error {
	s.mu.Lock()
	addr := s.clientAddr
	s.mu.Unlock()
	if addr == nil {
		return nil // no client discovered yet; drop silently
	}

	k := s.codec.DataShards()
	m := s.codec.ParityShards()
	shardLen := (len(packet) + k - 1) / k
	if shardLen == 0 {
		shardLen = 1
	}

	shards := make([][]byte, k+m)
	for i := 0; i < k; i++ {
		shards[i] = make([]byte, shardLen)
		start := i * shardLen
		if start < len(packet) {
			end := start + shardLen
			if end > len(packet) {
				end = len(packet)
			}
			copy(shards[i], packet[start:end])
		}
	}
	for i := k; i < k+m; i++ {
		shards[i] = make([]byte, shardLen)
	}

	if err := s.codec.Encode(shards); err != nil {
		return err
	}

	s.mu.Lock()
	timestamp := s.timestamp
	s.timestamp += s.cfg.PacketDuration
	s.mu.Unlock()

	for _, shard := range shards {
		s.mu.Lock()
		seq := s.seq
		s.seq++
		s.mu.Unlock()

		header := rtp.NewAudioHeader(seq, timestamp)
		datagram := make([]byte, protocol.RTPHeaderSize+len(shard))
		header.Serialize(datagram)
		copy(datagram[protocol.RTPHeaderSize:], shard)

		if _, err := s.conn.WriteToUDP(datagram, addr); err != nil {
			return err
		}
	}
	return nil
}
