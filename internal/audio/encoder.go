package audio

import (
	"errors"
	"io"

	"gopkg.in/hraban/opus.v2"
)

// ErrEncoderClosed signals a clean end of stream from the encoder
// (the PCM source signals its own end with io.EOF): the caller should
// stop ticking without treating it as a failure (spec §4.1/§7).
var ErrEncoderClosed = errors.New("audio: encoder reached end of stream")

// Encoder compresses one fixed-size PCM frame at a time. FrameSize is
// the number of samples per channel the encoder expects per call.
type Encoder interface {
	SampleRate() int
	Channels() int
	FrameSize() int
	Encode(pcm []int16) ([]byte, error)
}

// SelectSampleRate picks the highest rate in supported, or 44100 if
// supported is empty (spec §4.1).
func SelectSampleRate(supported []int) int {
	if len(supported) == 0 {
		return 44100
	}
	best := supported[0]
	for _, r := range supported[1:] {
		if r > best {
			best = r
		}
	}
	return best
}

// SelectChannels picks the highest channel count in supported,
// defaulting to stereo (2) when supported is empty (spec §4.1).
func SelectChannels(supported []int) int {
	if len(supported) == 0 {
		return 2
	}
	best := supported[0]
	for _, c := range supported[1:] {
		if c > best {
			best = c
		}
	}
	return best
}

// OpusEncoder adapts gopkg.in/hraban/opus.v2 to the Encoder interface.
// The Rust original places an mp2/libavcodec placeholder here; we
// substitute opus, the ecosystem's standard pure-Go-callable codec
// binding, behind the same contract.
type OpusEncoder struct {
	enc        *opus.Encoder
	sampleRate int
	channels   int
	frameSize  int
	buf        []byte
}

// NewOpusEncoder builds an opus encoder at sampleRate/channels,
// sized for frameDurationMs milliseconds per frame (20ms is typical).
func NewOpusEncoder(sampleRate, channels, frameDurationMs int) (*OpusEncoder, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppAudio)
	if err != nil {
		return nil, err
	}
	frameSize := sampleRate * frameDurationMs / 1000
	return &OpusEncoder{
		enc:        enc,
		sampleRate: sampleRate,
		channels:   channels,
		frameSize:  frameSize,
		buf:        make([]byte, 4000), // generous upper bound for a compressed opus frame
	}, nil
}

func (e *OpusEncoder) SampleRate() int { return e.sampleRate }
func (e *OpusEncoder) Channels() int   { return e.channels }
func (e *OpusEncoder) FrameSize() int  { return e.frameSize }

func (e *OpusEncoder) Encode(pcm []int16) ([]byte, error) {
	n, err := e.enc.Encode(pcm, e.buf)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEncoderClosed
		}
		return nil, err
	}
	out := make([]byte, n)
	copy(out, e.buf[:n])
	return out, nil
}
