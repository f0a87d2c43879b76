package conversation

import "errors"

// Sentinel errors the Driver wraps around its dependencies' failures,
// grounded on the teacher's pkg/orchestrator/errors.go taxonomy and
// extended with ErrToolLoopExceeded for the tool sub-loop this spec adds.
var (
	// ErrEmptyTranscription is never returned by Run — an empty
	// transcription is a valid, silent outcome (spec.md §7
	// UnintelligibleInput) — but it's exported so tests and logging call
	// sites can refer to the condition by name.
	ErrEmptyTranscription = errors.New("transcription returned empty text")

	ErrTranscriptionFailed = errors.New("speech-to-text transcription failed")

	ErrLLMFailed = errors.New("language model generation failed")

	ErrTTSFailed = errors.New("text-to-speech synthesis failed")

	ErrPlaybackFailed = errors.New("audio playback failed")

	// ErrToolLoopExceeded marks a turn that hit MaxToolTurns without the
	// model returning a tool-free reply. The driver does not abort on
	// this — it synthesizes a canned reply and continues — but the error
	// is still recorded in the turn's Event stream for observability.
	ErrToolLoopExceeded = errors.New("tool sub-loop exceeded its turn budget")
)
