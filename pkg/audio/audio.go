// Package audio defines the raw PCM contracts shared by the capture and
// playback sides of the conversation pipeline (C1/C2), plus the WAV
// container helpers the STT adapters use to ship audio over HTTP.
package audio

import (
	"bytes"
	"context"
	"fmt"

	wavdec "github.com/go-audio/wav"
)

// Format describes the fixed shape of every frame a Source produces.
// All frames from one Source share the same Format for the life of the
// stream — there is no runtime renegotiation.
type Format struct {
	SampleRate int
	Channels   int
	BlockSize  int // samples per channel per frame
}

// BytesPerFrame returns the number of bytes a single frame occupies
// (16-bit signed little-endian samples).
func (f Format) BytesPerFrame() int {
	return f.BlockSize * f.Channels * 2
}

// FrameDuration returns the playback duration of one frame, in seconds.
func (f Format) FrameDuration() float64 {
	if f.SampleRate == 0 {
		return 0
	}
	return float64(f.BlockSize) / float64(f.SampleRate)
}

// FrameSink receives PCM frames pushed by a Source. Implementations must be
// non-blocking and safe to call from the Source's own goroutine.
type FrameSink func(frame []byte)

// Source produces a bounded stream of fixed-size PCM frames (C1). Start
// begins delivery to sink and returns immediately; Stop guarantees no
// further deliveries once it returns. Both must be safe to call from a
// goroutine other than the one driving the conversation loop.
type Source interface {
	Format() Format
	Start(sink FrameSink) error
	Stop() error
}

// Sink renders raw PCM audio (C2). Play blocks until rendering completes,
// fails, or ctx is cancelled; it must not be called from a context that
// cannot tolerate blocking — callers needing non-blocking behavior should
// run it on a worker goroutine (see pkg/conversation's offload pool).
type Sink interface {
	SampleRate() int
	Play(ctx context.Context, pcm []byte) error
}

// NewWavBuffer wraps raw 16-bit little-endian mono PCM in a minimal WAV
// (RIFF) container for transport to STT backends that expect a file upload
// rather than a raw byte stream.
func NewWavBuffer(pcm []byte, sampleRate int) []byte {
	return newWavBuffer(pcm, sampleRate, 1)
}

// DecodePCM extracts raw 16-bit little-endian PCM samples from a WAV
// container, used by tests and debugging tools that need to round-trip
// audio produced by NewWavBuffer or a third-party encoder.
func DecodePCM(wav []byte) ([]byte, int, error) {
	dec := wavdec.NewDecoder(bytes.NewReader(wav))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("audio: decode wav: %w", err)
	}
	out := make([]byte, 0, len(buf.Data)*2)
	for _, s := range buf.Data {
		out = append(out, byte(s), byte(s>>8))
	}
	return out, buf.Format.SampleRate, nil
}
