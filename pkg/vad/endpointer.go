package vad

import (
	"context"
	"io"
	"time"

	"github.com/malonecentral/malone-agent/pkg/audio"
)

// Endpointer consumes a stream of fixed-size PCM frames and produces one
// complete utterance per call to Next (C9). It owns no goroutine of its
// own — Next blocks its caller directly, which in Go supersedes the
// short-timeout polling an asyncio implementation needs for
// cancellation responsiveness: select on ctx.Done() returns immediately.
type Endpointer struct {
	Detector          Detector
	Format            audio.Format
	SilenceThreshold  time.Duration
	MinSpeechDuration time.Duration
}

// New creates an Endpointer with the spec's defaults: 0.8s silence
// threshold, 0.3s minimum speech duration.
func New(detector Detector, format audio.Format) *Endpointer {
	return &Endpointer{
		Detector:          detector,
		Format:            format,
		SilenceThreshold:  800 * time.Millisecond,
		MinSpeechDuration: 300 * time.Millisecond,
	}
}

// Next drains frames until one complete utterance is detected, discarding
// micro-speech utterances shorter than MinSpeechDuration and looping until a
// qualifying one is found (or ctx is cancelled / frames is closed).
//
// speaking reports whether the driver is currently in the SPEAKING state;
// frames arriving while true are discarded for echo suppression and never
// appear in the returned utterance. onListening, if non-nil, is called
// exactly once per utterance at the moment speech onset is confirmed, so
// the caller can transition its state machine IDLE→LISTENING.
func (e *Endpointer) Next(ctx context.Context, frames <-chan []byte, speaking func() bool, onListening func()) ([]byte, error) {
	for {
		utterance, ok, err := e.collect(ctx, frames, speaking, onListening)
		if err != nil {
			return nil, err
		}
		if ok {
			return utterance, nil
		}
		// Utterance was too short; the detector has been reset. Loop to
		// start collecting the next one.
	}
}

// collect runs one onset-to-endpoint cycle. ok is false when the collected
// speech was shorter than MinSpeechDuration (discarded, not an error).
func (e *Endpointer) collect(ctx context.Context, frames <-chan []byte, speaking func() bool, onListening func()) (utterance []byte, ok bool, err error) {
	var buf []byte
	active := false
	var silence time.Duration
	frameDur := time.Duration(e.Format.FrameDuration() * float64(time.Second))

	for {
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case frame, open := <-frames:
			if !open {
				return nil, false, io.EOF
			}

			if speaking != nil && speaking() {
				continue
			}

			isSpeech := e.Detector.IsSpeech(frame, e.Format.SampleRate)

			switch {
			case !active && !isSpeech:
				// drop

			case !active && isSpeech:
				active = true
				silence = 0
				buf = append(buf, frame...)
				if onListening != nil {
					onListening()
				}

			case active && isSpeech:
				silence = 0
				buf = append(buf, frame...)

			case active && !isSpeech:
				buf = append(buf, frame...)
				silence += frameDur
				if silence >= e.SilenceThreshold {
					duration := time.Duration(float64(len(buf)) / float64(e.Format.SampleRate*2) * float64(time.Second))
					if duration >= e.MinSpeechDuration {
						return buf, true, nil
					}
					e.Detector.Reset()
					return nil, false, nil
				}
			}
		}
	}
}
