package session

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/moonshine-go/moonshine/internal/audio"
	"github.com/moonshine-go/moonshine/internal/control"
	"github.com/moonshine-go/moonshine/internal/video"
)

// ErrSessionClosed is returned by Session command methods once Close
// has closed the session's command queue.
var ErrSessionClosed = errors.New("session: command queue is closed")

// VideoFactory builds the video pipeline for a session launch. Video
// capture/encoding is an external collaborator (spec §1); the factory
// is how a deployment plugs one in.
type VideoFactory func(video.Context) (video.Stream, error)

// AudioFactory builds the audio stream for a session launch.
type AudioFactory func(audio.Config) (*audio.Stream, error)

// ControlStream is the subset of internal/control.Stream the session
// manager drives. Declared locally so tests can substitute a fake
// without binding a real ENet host.
type ControlStream interface {
	Run(ctx context.Context) error
	BindCollaborators(audio control.AudioStream, video control.VideoStream)
	UpdateKey(key [16]byte)
}

// ControlFactory builds the control stream for a session launch.
type ControlFactory func(control.Config, [16]byte) (ControlStream, error)

type commandKind int

const (
	cmdStartStream commandKind = iota
	cmdStopStream
	cmdUpdateKeys
)

type command struct {
	kind       commandKind
	videoCtx   video.Context
	audioCfg   audio.Config
	controlCfg control.Config
	keys       Keys
}

// Session owns one active streaming session: its command queue
// (capacity 10, per spec §4.4), its three real-time streams, and
// their shared cooperative shutdown context.
type Session struct {
	// ID is a random per-instance identifier. Nothing in this package
	// logs or broadcasts it, and it has no meaning on the wire.
	ID uuid.UUID

	logger *log.Logger

	newVideo   VideoFactory
	newAudio   AudioFactory
	newControl ControlFactory

	commands  chan command
	closeOnce sync.Once
	closed    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	current Context
	video   video.Stream
	audio   *audio.Stream
	control ControlStream
}

// New builds a Session ready to accept commands. Call Run in its own
// goroutine to start processing them.
func New(logger *log.Logger, newVideo VideoFactory, newAudio AudioFactory, newControl ControlFactory) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:         uuid.New(),
		logger:     logger,
		newVideo:   newVideo,
		newAudio:   newAudio,
		newControl: newControl,
		commands:   make(chan command, 10),
		closed:     make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// StartStream constructs the video, audio, and control streams, binds
// the video and audio streams to the control stream (which starts them
// when it receives StartB), and runs the control stream on the
// session's shared shutdown context (spec §4.4).
func (s *Session) StartStream(videoCtx video.Context, audioCfg audio.Config, controlCfg control.Config) error {
	return s.enqueue(command{kind: cmdStartStream, videoCtx: videoCtx, audioCfg: audioCfg, controlCfg: controlCfg})
}

// StopStream triggers the shared shutdown context; all three streams
// observe it and exit at their next suspension point.
func (s *Session) StopStream() error {
	return s.enqueue(command{kind: cmdStopStream})
}

// UpdateKeys replaces the session's stored keys and forwards them to
// the audio and control streams; if either is absent the command is
// logged and dropped (spec §4.4).
func (s *Session) UpdateKeys(keys Keys) error {
	return s.enqueue(command{kind: cmdUpdateKeys, keys: keys})
}

func (s *Session) enqueue(cmd command) error {
	// Check closed first: once Close has run, the send case below would
	// be a send on a closed channel, which panics if select picks it.
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}
	select {
	case s.commands <- cmd:
		return nil
	case <-s.closed:
		return ErrSessionClosed
	}
}

// Close closes the command queue. Run drains any remaining commands,
// shuts down active streams, and returns.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		close(s.commands)
	})
}

// Run processes commands until the queue is closed (spec §4.4). Call
// it from its own goroutine.
func (s *Session) Run() {
	defer s.shutdownStreams()
	for cmd := range s.commands {
		switch cmd.kind {
		case cmdStartStream:
			s.handleStartStream(cmd)
		case cmdStopStream:
			s.shutdownStreams()
		case cmdUpdateKeys:
			s.handleUpdateKeys(cmd.keys)
		}
	}
}

func (s *Session) handleStartStream(cmd command) {
	s.mu.Lock()
	defer s.mu.Unlock()

	videoStream, err := s.newVideo(cmd.videoCtx)
	if err != nil {
		s.logger.Printf("session: video setup failed: %v", err)
		return
	}
	audioStream, err := s.newAudio(cmd.audioCfg)
	if err != nil {
		s.logger.Printf("session: audio setup failed: %v", err)
		return
	}
	controlStream, err := s.newControl(cmd.controlCfg, s.current.Keys.RemoteInputKey)
	if err != nil {
		s.logger.Printf("session: control setup failed: %v", err)
		return
	}
	controlStream.BindCollaborators(audioStream, videoStream)

	s.video = videoStream
	s.audio = audioStream
	s.control = controlStream

	go func() {
		if err := controlStream.Run(s.ctx); err != nil {
			s.logger.Printf("session: control stream exited: %v", err)
		}
		// The control stream gates the others; its exit (timeout,
		// fatal error, or cancellation) ends the whole session.
		s.shutdownStreams()
	}()
}

func (s *Session) handleUpdateKeys(keys Keys) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current.Keys = keys
	if s.audio == nil || s.control == nil {
		s.logger.Printf("session: UpdateKeys dropped, no active stream")
		return
	}
	s.audio.UpdateKey(keys.RemoteInputKey)
	s.control.UpdateKey(keys.RemoteInputKey)
}

func (s *Session) shutdownStreams() {
	s.cancel()
}
