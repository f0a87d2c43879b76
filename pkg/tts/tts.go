// Package tts defines the speech-synthesis capability (C5).
package tts

import "context"

// Voice selects a synthesis voice identity; the set of valid values is
// backend-specific.
type Voice string

// Language is a BCP-47-ish language hint; empty means the backend's default.
type Language string

// ChunkFunc receives one chunk of synthesized PCM as it streams in.
// Returning an error aborts the synthesis.
type ChunkFunc func(chunk []byte) error

// Synthesizer turns text into speech audio (C5). SampleRate reports the
// rate of the PCM this Synthesizer produces, needed by the driver to hand
// the result to an audio.Sink.
type Synthesizer interface {
	SampleRate() int
	Synthesize(ctx context.Context, text string, voice Voice, lang Language) ([]byte, error)
	Name() string
}

// StreamingSynthesizer is satisfied by backends that can deliver audio
// incrementally rather than only as one complete buffer. The conversation
// Driver calls only Synthesize, so playback starts once synthesis finishes.
type StreamingSynthesizer interface {
	Synthesizer
	StreamSynthesize(ctx context.Context, text string, voice Voice, lang Language, onChunk ChunkFunc) error
}
