// Package video declares the capture/encode pipeline contract the
// control stream drives. The pipeline itself — screen capture, codec
// selection, bitstream encoding — is an external collaborator; this
// package only fixes the shape the session manager and control stream
// depend on.
package video

import "context"

// Stream is a running video capture/encode pipeline bound to one
// session. Implementations own their own goroutines and exit when ctx
// is cancelled.
type Stream interface {
	// Start begins encoding and transmitting video frames. It returns
	// once the stream has exited, either because ctx was cancelled or
	// because of a fatal encoder/transport error.
	Start(ctx context.Context) error

	// RequestIDRFrame asks the encoder to emit a fresh keyframe on its
	// next opportunity, in response to a client's InvalidateReferenceFrames
	// or RequestIdrFrame control message.
	RequestIDRFrame()
}

// Context carries the parameters a video stream is launched with.
type Context struct {
	Width       int
	Height      int
	RefreshRate int
}
