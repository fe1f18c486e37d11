package audio

import (
	"errors"
	"math"
)

// ErrNeedMoreInput is a transient condition: the source has fewer
// samples ready than requested. The stream loop retries on its next
// tick rather than treating this as an error (spec §4.1).
var ErrNeedMoreInput = errors.New("audio: source needs more input")

// Source produces PCM frames for the encoder. Read must fill exactly
// len(out) samples (interleaved across Channels) or return
// ErrNeedMoreInput, io.EOF, or a hard error.
type Source interface {
	Channels() int
	Read(out []int16) error
}

// SineSource synthesizes a fixed-frequency tone. The reference
// implementation uses this as a PCM source placeholder; a production
// deployment substitutes a real capture source behind the same
// interface (spec §9).
type SineSource struct {
	sampleRate int
	channels   int
	frequency  float64
	phase      float64
	amplitude  float64
}

// NewSineSource builds a placeholder source at sampleRate/channels
// emitting a 440 Hz tone.
func NewSineSource(sampleRate, channels int) *SineSource {
	return &SineSource{
		sampleRate: sampleRate,
		channels:   channels,
		frequency:  440,
		amplitude:  0.25 * math.MaxInt16,
	}
}

func (s *SineSource) Channels() int { return s.channels }

func (s *SineSource) Read(out []int16) error {
	step := 2 * math.Pi * s.frequency / float64(s.sampleRate)
	frames := len(out) / s.channels
	for i := 0; i < frames; i++ {
		sample := int16(s.amplitude * math.Sin(s.phase))
		for c := 0; c < s.channels; c++ {
			out[i*s.channels+c] = sample
		}
		s.phase += step
		if s.phase > 2*math.Pi {
			s.phase -= 2 * math.Pi
		}
	}
	return nil
}
