package control

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/codecat/go-enet"

	"github.com/moonshine-go/moonshine/internal/cryptoutil"
	"github.com/moonshine-go/moonshine/internal/protocol"
)

// AudioStream is the subset of internal/audio.Stream the control
// stream drives on StartB. Declared locally (rather than imported) so
// internal/audio and internal/control never need to import each other.
type AudioStream interface {
	Run(ctx context.Context) error
}

// VideoStream is the subset of internal/video.Stream the control
// stream drives on StartB and on IDR requests.
type VideoStream interface {
	Start(ctx context.Context) error
	RequestIDRFrame()
}

// Config configures the ENet host and keepalive timing.
type Config struct {
	Port          uint16
	MaxPeers      uint64
	StreamTimeout time.Duration
}

type commandKind int

const cmdUpdateKey commandKind = iota

type command struct {
	kind commandKind
	key  [16]byte
}

// Stream is the host side of the control channel: an ENet host, the
// current decryption key, and the video/audio collaborators it
// gates (spec §4.2).
type Stream struct {
	logger *log.Logger
	cfg    Config

	commands chan command

	mu    sync.Mutex
	gcm   *cryptoutil.GCMContext
	audio AudioStream
	video VideoStream
}

// New builds a control stream bound to key, the session's initial
// remote-input AES-GCM key.
func New(logger *log.Logger, cfg Config, key [16]byte) (*Stream, error) {
	gcm, err := cryptoutil.NewGCMContext(key[:])
	if err != nil {
		return nil, err
	}
	return &Stream{
		logger:   logger,
		cfg:      cfg,
		gcm:      gcm,
		commands: make(chan command, 10),
	}, nil
}

// BindCollaborators attaches the video/audio streams that StartB and
// IDR-request dispatch act on.
func (s *Stream) BindCollaborators(audio AudioStream, video VideoStream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = audio
	s.video = video
}

// UpdateKey rotates the AES-GCM key used to decrypt subsequent
// envelopes. There is no key-id negotiation in the envelope itself —
// sequencing after rotation is the caller's responsibility (spec §4.2).
func (s *Stream) UpdateKey(key [16]byte) {
	select {
	case s.commands <- command{kind: cmdUpdateKey, key: key}:
	default:
		s.logger.Printf("control: command queue full, dropping key update")
	}
}

// Run binds the ENet host on cfg.Port and services it until ctx is
// cancelled or the keepalive deadline passes without a Ping (spec
// §4.2/§5). It returns nil on either clean shutdown path.
func (s *Stream) Run(ctx context.Context) error {
	host, err := enet.NewHost(enet.NewListenAddress(s.cfg.Port), s.cfg.MaxPeers, protocol.CtrlChannelLimit, 0, 0)
	if err != nil {
		return err
	}
	defer host.Destroy()

	deadline := time.Now().Add(s.cfg.StreamTimeout)

	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-s.commands:
			s.handleCommand(cmd)
		default:
		}

		if time.Now().After(deadline) {
			s.logger.Printf("control: keepalive timeout, shutting down session")
			return nil
		}

		event, err := host.Service(1000)
		if err != nil {
			return err
		}

		switch event.GetType() {
		case enet.EventConnect:
			s.logger.Printf("control: peer connected")
		case enet.EventDisconnect:
			s.logger.Printf("control: peer disconnected")
		case enet.EventReceive:
			packet := event.GetPacket()
			if s.handleDatagram(ctx, packet.GetData()) {
				deadline = time.Now().Add(s.cfg.StreamTimeout)
			}
		}
	}
}

func (s *Stream) handleCommand(cmd command) {
	switch cmd.kind {
	case cmdUpdateKey:
		gcm, err := cryptoutil.NewGCMContext(cmd.key[:])
		if err != nil {
			s.logger.Printf("control: key rotation failed: %v", err)
			return
		}
		s.mu.Lock()
		s.gcm = gcm
		s.mu.Unlock()
	}
}

// handleDatagram parses and dispatches one datagram, returning true
// when the keepalive deadline should reset.
func (s *Stream) handleDatagram(ctx context.Context, data []byte) bool {
	msg, err := ParseMessage(data)
	if err != nil {
		s.logger.Printf("control: dropping malformed datagram: %v", err)
		return false
	}
	return s.dispatch(ctx, msg)
}

// dispatch processes one message, recursing exactly once to unwrap an
// Encrypted envelope (a nested Encrypted envelope is a protocol error
// and is dropped — spec §4.2).
func (s *Stream) dispatch(ctx context.Context, msg Message) bool {
	if msg.Type == protocol.CtrlEncrypted {
		return s.dispatchEncrypted(ctx, msg)
	}
	return s.dispatchPlain(ctx, msg)
}

func (s *Stream) dispatchEncrypted(ctx context.Context, msg Message) bool {
	env, err := ParseEncryptedEnvelope(msg.Payload)
	if err != nil {
		s.logger.Printf("control: dropping malformed encrypted envelope: %v", err)
		return false
	}

	s.mu.Lock()
	gcm := s.gcm
	s.mu.Unlock()

	iv := cryptoutil.ControlIV(env.SequenceNumber)
	plaintext, err := gcm.Open(env.Ciphertext, iv, env.Tag[:])
	if err != nil {
		s.logger.Printf("control: decryption failed, dropping datagram")
		return false
	}

	inner, err := ParseMessage(plaintext)
	if err != nil {
		s.logger.Printf("control: dropping malformed decrypted message: %v", err)
		return false
	}
	if inner.Type == protocol.CtrlEncrypted {
		s.logger.Printf("control: nested encrypted envelope, protocol error")
		return false
	}
	return s.dispatchPlain(ctx, inner)
}

func (s *Stream) dispatchPlain(ctx context.Context, msg Message) bool {
	switch msg.Type {
	case protocol.CtrlPing:
		return true
	case protocol.CtrlStartB:
		s.startCollaborators(ctx)
		return false
	case protocol.CtrlRequestIdrFrame, protocol.CtrlInvalidateReferenceFrames:
		s.mu.Lock()
		video := s.video
		s.mu.Unlock()
		if video != nil {
			video.RequestIDRFrame()
		}
		return false
	case protocol.CtrlInputData:
		if _, err := InputDataPayload(msg.Payload); err != nil {
			s.logger.Printf("control: malformed input data: %v", err)
		}
		// Injecting input into the host OS is an external collaborator (spec §1).
		return false
	default:
		s.logger.Printf("control: ignoring message type %s", msg.Type)
		return false
	}
}

func (s *Stream) startCollaborators(ctx context.Context) {
	s.mu.Lock()
	audio, video := s.audio, s.video
	s.mu.Unlock()

	if audio != nil {
		go func() {
			if err := audio.Run(ctx); err != nil {
				s.logger.Printf("control: audio stream exited: %v", err)
			}
		}()
	}
	if video != nil {
		go func() {
			if err := video.Start(ctx); err != nil {
				s.logger.Printf("control: video stream exited: %v", err)
			}
		}()
	}
}
