package vad

import (
	"context"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/malonecentral/malone-agent/pkg/audio"
)

// fixedDetector reports a frame as speech based on a byte-content marker
// rather than real RMS math, so tests can construct exact frame sequences.
type fixedDetector struct {
	resets int
}

const speechMarker = 0x7f

func (f *fixedDetector) IsSpeech(frame []byte, _ int) bool {
	return len(frame) > 0 && frame[0] == speechMarker
}
func (f *fixedDetector) Reset() { f.resets++ }

func speechFrameN(blockSize int) []byte {
	frame := make([]byte, blockSize*2)
	frame[0] = speechMarker
	return frame
}

func silenceFrameN(blockSize int) []byte {
	return make([]byte, blockSize*2)
}

func testFormat() audio.Format {
	return audio.Format{SampleRate: 16000, Channels: 1, BlockSize: 480}
}

// TestEndpointerCorrectness implements spec.md §8 testable property 3:
// k non-speech frames, m>=1 speech frames, then ceil(silence_threshold/frame_duration)
// non-speech frames yields exactly one utterance of the expected length,
// provided the speech run meets min_speech_duration.
func TestEndpointerCorrectness(t *testing.T) {
	format := testFormat()
	det := &fixedDetector{}
	ep := New(det, format)
	ep.SilenceThreshold = 800 * time.Millisecond
	ep.MinSpeechDuration = 300 * time.Millisecond

	frameDur := format.FrameDuration() // 30ms
	tailFrames := int(math.Ceil(ep.SilenceThreshold.Seconds() / frameDur))

	// m frames of speech must satisfy m*frameDur >= min_speech_duration (300ms)
	m := int(math.Ceil(ep.MinSpeechDuration.Seconds()/frameDur)) + 2 // comfortably over
	k := 5

	frames := make(chan []byte, k+m+tailFrames+1)
	for i := 0; i < k; i++ {
		frames <- silenceFrameN(format.BlockSize)
	}
	for i := 0; i < m; i++ {
		frames <- speechFrameN(format.BlockSize)
	}
	for i := 0; i < tailFrames; i++ {
		frames <- silenceFrameN(format.BlockSize)
	}
	close(frames)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var listened bool
	utterance, err := ep.Next(ctx, frames, func() bool { return false }, func() { listened = true })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !listened {
		t.Error("expected onListening to fire on speech onset")
	}

	expectedLen := (m + tailFrames) * format.BlockSize * 2
	if len(utterance) != expectedLen {
		t.Errorf("expected utterance length %d, got %d", expectedLen, len(utterance))
	}
}

// TestEndpointerDropsMicroSpeech implements the "otherwise" branch of
// property 3: speech shorter than min_speech_duration produces no
// utterance and resets the detector.
func TestEndpointerDropsMicroSpeech(t *testing.T) {
	format := testFormat()
	det := &fixedDetector{}
	ep := New(det, format)
	ep.SilenceThreshold = 200 * time.Millisecond
	ep.MinSpeechDuration = 300 * time.Millisecond

	frameDur := format.FrameDuration()
	tailFrames := int(math.Ceil(ep.SilenceThreshold.Seconds() / frameDur))

	// One speech frame only (30ms) is well under the 300ms minimum.
	frames := make(chan []byte, 1+tailFrames+1)
	frames <- speechFrameN(format.BlockSize)
	for i := 0; i < tailFrames; i++ {
		frames <- silenceFrameN(format.BlockSize)
	}
	// Trailing silence forever after — close the channel so Next observes EOF
	// once the micro-speech is discarded and it tries to collect the next one.
	close(frames)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := ep.Next(ctx, frames, func() bool { return false }, nil)
	if err == nil {
		t.Fatal("expected an error (EOF) since only a micro-utterance was offered")
	}
	if det.resets == 0 {
		t.Error("expected VAD Reset to be called after discarding micro-speech")
	}
}

// TestEndpointerEchoSuppression implements spec.md §8 testable property 4:
// frames enqueued while the driver reports SPEAKING never appear in any
// subsequent utterance.
func TestEndpointerEchoSuppression(t *testing.T) {
	format := testFormat()
	det := &fixedDetector{}
	ep := New(det, format)
	ep.SilenceThreshold = 200 * time.Millisecond
	ep.MinSpeechDuration = 30 * time.Millisecond

	frameDur := format.FrameDuration()
	tailFrames := int(math.Ceil(ep.SilenceThreshold.Seconds() / frameDur))

	var speaking atomic.Bool
	speaking.Store(true)
	frames := make(chan []byte, 10+tailFrames+1)
	// These frames arrive while SPEAKING and must be discarded entirely,
	// even though they are marked as "speech" by the detector.
	for i := 0; i < 10; i++ {
		frames <- speechFrameN(format.BlockSize)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		speaking.Store(false)
		frames <- speechFrameN(format.BlockSize)
		for i := 0; i < tailFrames; i++ {
			frames <- silenceFrameN(format.BlockSize)
		}
		close(frames)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	utterance, err := ep.Next(ctx, frames, func() bool { return speaking.Load() }, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedLen := (1 + tailFrames) * format.BlockSize * 2
	if len(utterance) != expectedLen {
		t.Errorf("expected utterance made only of post-SPEAKING frames (len %d), got %d", expectedLen, len(utterance))
	}
}
