// Package stt defines the transcription capability (C4): turn a raw PCM
// utterance into text.
package stt

import "context"

// Language is a BCP-47-ish language hint passed to the transcription
// backend; empty means auto-detect.
type Language string

// Transcriber turns a PCM utterance into text. Implementations receive raw
// 16-bit PCM at the sample rate they were configured for — WAV framing, if
// the backend's API requires it, is the implementation's concern.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, lang Language) (string, error)
	Name() string
}
