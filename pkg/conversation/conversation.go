// Package conversation implements the Driver (C10): the synchronous main
// loop and bounded LLM/tool sub-loop that turn a stream of PCM frames into
// spoken replies, grounded on the teacher's pkg/orchestrator/orchestrator.go
// and managed_stream.go (state handling, event emission, echo-guard
// draining) and generalized with the tool sub-loop spec.md §4.10 requires
// and the teacher never implements.
package conversation

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/malonecentral/malone-agent/internal/logging"
	"github.com/malonecentral/malone-agent/pkg/audio"
	"github.com/malonecentral/malone-agent/pkg/llm"
	"github.com/malonecentral/malone-agent/pkg/metrics"
	"github.com/malonecentral/malone-agent/pkg/stt"
	"github.com/malonecentral/malone-agent/pkg/tools"
	"github.com/malonecentral/malone-agent/pkg/transcript"
	"github.com/malonecentral/malone-agent/pkg/tts"
	"github.com/malonecentral/malone-agent/pkg/vad"
)

// Config holds the Driver's tunables, all defaulted by DefaultConfig.
type Config struct {
	// MaxToolTurns bounds the LLM/tool sub-loop (spec.md §4.10 step 5,
	// MAX_TOOL_TURNS). Default 8.
	MaxToolTurns int

	// FrameQueueSize bounds the producer-to-driver frame channel (spec.md
	// §5: default 200 frames, ≈6s at 30ms/frame).
	FrameQueueSize int

	// EchoGuardDelay is the settle time after playback before the VAD is
	// reset and the driver returns to IDLE (spec.md §4.10 step 8). Default
	// 500ms.
	EchoGuardDelay time.Duration

	// MaxConcurrentOffload bounds how many blocking calls (transcribe,
	// synthesize, play) may run concurrently. Default 2.
	MaxConcurrentOffload int64

	// Voice and Language select the TTS/STT backend parameters for every
	// turn; this driver has no per-session voice switching (spec.md has no
	// operation for it).
	Voice    tts.Voice
	Language string
}

// DefaultConfig returns the spec.md §4.10/§5 defaults.
func DefaultConfig() Config {
	return Config{
		MaxToolTurns:         8,
		FrameQueueSize:       200,
		EchoGuardDelay:       500 * time.Millisecond,
		MaxConcurrentOffload: 2,
		Voice:                "",
		Language:             "en",
	}
}

// Driver runs the main loop described in spec.md §4.10. It is not safe for
// concurrent use by multiple goroutines calling Run simultaneously — the
// spec's concurrency model is a single cooperative loop (spec.md §5).
type Driver struct {
	Source      audio.Source
	Sink        audio.Sink
	Endpointer  *vad.Endpointer
	Transcriber stt.Transcriber
	LLM         llm.Capability
	TTS         tts.Synthesizer
	Executor    *tools.Executor // nil disables tool calling entirely
	Transcript  *transcript.Log
	Logger      logging.Logger
	Metrics     *metrics.Metrics // nil disables instrumentation entirely

	Config Config

	// Output receives the "You: ..." / "Malone: ..." turn transcript lines
	// spec.md §4.10 steps 4/6 print. Defaults to io.Discard.
	Output io.Writer

	frames  chan []byte
	events  chan Event
	offload *offloader
	state   atomic.Int32
}

// New constructs a Driver. Transcript, Logger, and Output are defaulted
// when left zero so callers only need to set them when they care.
func New(d Driver) *Driver {
	if d.Config.MaxToolTurns <= 0 {
		d.Config.MaxToolTurns = 8
	}
	if d.Config.FrameQueueSize <= 0 {
		d.Config.FrameQueueSize = 200
	}
	if d.Config.EchoGuardDelay <= 0 {
		d.Config.EchoGuardDelay = 500 * time.Millisecond
	}
	if d.Transcript == nil {
		d.Transcript = transcript.New("", 50)
	}
	if d.Logger == nil {
		d.Logger = logging.NoOp{}
	}
	if d.Output == nil {
		d.Output = io.Discard
	}

	driver := d
	driver.frames = make(chan []byte, d.Config.FrameQueueSize)
	driver.events = make(chan Event, 64)
	driver.offload = newOffloader(d.Config.MaxConcurrentOffload)
	driver.state.Store(int32(StateIdle))
	return &driver
}

// Events returns the Driver's observability channel. Consuming it is
// optional; events are dropped non-blocking when the channel is full or
// unread, matching the teacher's emit discipline.
func (d *Driver) Events() <-chan Event {
	return d.events
}

// State reports the Driver's current position in the state machine. Reads
// may be stale by design (spec.md §9: lock-free atomic, stale reads
// acceptable) since the Endpointer only needs an approximate signal to
// decide whether to discard a frame.
func (d *Driver) State() State {
	return State(d.state.Load())
}

func (d *Driver) setState(s State) {
	d.state.Store(int32(s))
}

func (d *Driver) isSpeaking() bool {
	return d.State() == StateSpeaking
}

// Run starts the audio source and drives turns until ctx is cancelled or
// the source closes its frame stream. Source.Stop is always called before
// Run returns, satisfying spec.md §8 property 7 (cancellation safety).
func (d *Driver) Run(ctx context.Context) error {
	if err := d.Source.Start(d.pushFrame); err != nil {
		return fmt.Errorf("conversation: starting audio source: %w", err)
	}
	defer d.Source.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := d.turn(ctx); err != nil {
			return err
		}
	}
}

// pushFrame is the audio.FrameSink handed to Source.Start: a bounded,
// non-blocking MPSC enqueue (spec.md §5 overflow policy — drop the new
// frame when the queue is full).
func (d *Driver) pushFrame(frame []byte) {
	select {
	case d.frames <- frame:
	default:
	}
}

// turn runs exactly one pass of the spec.md §4.10 main loop. It returns a
// non-nil error only for conditions that must abort the Driver entirely
// (context cancellation, or the frame stream closing) — every other
// failure (empty transcription, LLM/TTS/playback errors) is handled
// in-band per spec.md §7 and turn returns nil so Run keeps looping.
func (d *Driver) turn(ctx context.Context) error {
	start := time.Now()
	d.setState(StateIdle)

	utterance, err := d.Endpointer.Next(ctx, d.frames, d.isSpeaking, func() {
		d.setState(StateListening)
		d.emit(Event{Type: EventListening})
	})
	if err != nil {
		return err
	}

	d.setState(StateProcessing)
	d.emit(Event{Type: EventThinking})

	text, err := d.transcribe(ctx, utterance)
	if err != nil {
		d.logger().Error("transcription failed", "error", err)
		d.emit(Event{Type: EventError, Data: err.Error()})
		d.recordTurnError(ctx, "transcribe")
		return nil
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	fmt.Fprintf(d.Output, "You: %s\n", text)
	d.Transcript.AppendUser(text)

	reply, err := d.runToolLoop(ctx)
	if err != nil {
		d.logger().Error("llm generation failed", "error", err)
		d.emit(Event{Type: EventError, Data: err.Error()})
		d.recordTurnError(ctx, "llm")
		return nil
	}

	fmt.Fprintf(d.Output, "Malone: %s\n", reply)

	d.setState(StateSpeaking)
	d.emit(Event{Type: EventSpeaking})
	d.speak(ctx, reply)

	d.echoGuard(ctx)

	if d.Metrics != nil {
		d.Metrics.TurnDuration.Record(ctx, time.Since(start).Seconds())
	}
	return nil
}

func (d *Driver) recordTurnError(ctx context.Context, stage string) {
	if d.Metrics != nil {
		d.Metrics.RecordTurnError(ctx, stage)
	}
}

// transcribe offloads Transcriber.Transcribe so a slow backend can't block
// the frame producer, wrapping any failure in ErrTranscriptionFailed. An
// empty result is not an error (spec.md §7 UnintelligibleInput) — the
// caller checks for that itself.
func (d *Driver) transcribe(ctx context.Context, utterance []byte) (string, error) {
	start := time.Now()
	var text string
	err := d.offload.run(ctx, func(ctx context.Context) error {
		var err error
		text, err = d.Transcriber.Transcribe(ctx, utterance, stt.Language(d.Config.Language))
		return err
	})
	if d.Metrics != nil {
		d.Metrics.TranscribeDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	return text, nil
}

// runToolLoop implements spec.md §4.10 step 5: the bounded LLM/tool
// sub-loop. Tool calls within one response are invoked strictly
// sequentially, in model order (spec.md §5's ordering guarantee).
func (d *Driver) runToolLoop(ctx context.Context) (string, error) {
	start := time.Now()
	if d.Metrics != nil {
		defer func() {
			d.Metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
		}()
	}

	var toolDefs []tools.Descriptor
	if d.Executor != nil {
		toolDefs = d.Executor.Schemas()
	}

	for i := 0; i < d.Config.MaxToolTurns; i++ {
		resp, err := d.LLM.Chat(ctx, d.Transcript.Snapshot(), toolDefs)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrLLMFailed, err)
		}

		if len(resp.ToolCalls) == 0 {
			d.Transcript.AppendAssistantText(resp.Content)
			return resp.Content, nil
		}

		d.Transcript.AppendAssistantToolCalls(resp.Content, resp.ToolCalls)
		for _, call := range resp.ToolCalls {
			d.emit(Event{Type: EventToolCall, Data: call.Name})
			result := d.invokeTool(ctx, call)
			d.emit(Event{Type: EventToolResult, Data: call.Name})
			d.Transcript.AppendToolResult(call.ID, result)
		}
	}

	const exceededReply = "(tool loop exceeded)"
	d.Transcript.AppendAssistantText(exceededReply)
	d.logger().Warn("tool sub-loop exceeded its turn budget", "max_turns", d.Config.MaxToolTurns)
	d.emit(Event{Type: EventError, Data: ErrToolLoopExceeded.Error()})
	return exceededReply, nil
}

func (d *Driver) invokeTool(ctx context.Context, call transcript.ToolCall) string {
	if d.Executor == nil {
		if d.Metrics != nil {
			d.Metrics.RecordToolCall(ctx, call.Name, "error", 0)
		}
		return fmt.Sprintf("Error: unknown tool %q: no tool executor configured", call.Name)
	}

	start := time.Now()
	result := d.Executor.Invoke(ctx, call.Name, call.Arguments)
	if d.Metrics != nil {
		status := "ok"
		if strings.HasPrefix(result, "Error:") {
			status = "error"
		}
		d.Metrics.RecordToolCall(ctx, call.Name, status, time.Since(start).Seconds())
	}
	return result
}

// speak synthesizes and plays reply. Failures are logged and emitted as
// Events but never propagated — spec.md §4.10 step 7: "Any TTS/sink
// failure is caught and logged; it does NOT abort the driver."
func (d *Driver) speak(ctx context.Context, reply string) {
	start := time.Now()
	var pcm []byte
	err := d.offload.run(ctx, func(ctx context.Context) error {
		var err error
		pcm, err = d.TTS.Synthesize(ctx, reply, d.Config.Voice, tts.Language(d.Config.Language))
		return err
	})
	if d.Metrics != nil {
		d.Metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		d.logger().Error("tts synthesis failed", "error", err)
		d.emit(Event{Type: EventError, Data: fmt.Sprintf("%v: %v", ErrTTSFailed, err)})
		d.recordTurnError(ctx, "tts")
		return
	}

	err = d.offload.run(ctx, func(ctx context.Context) error {
		return d.Sink.Play(ctx, pcm)
	})
	if err != nil {
		d.logger().Error("playback failed", "error", err)
		d.emit(Event{Type: EventError, Data: fmt.Sprintf("%v: %v", ErrPlaybackFailed, err)})
		d.recordTurnError(ctx, "playback")
	}
}

// echoGuard implements spec.md §4.10 step 8: drain whatever accumulated in
// the frame queue while speaking (likely the driver's own voice picked up
// by the mic), hold for EchoGuardDelay, then reset the VAD before
// returning to IDLE.
func (d *Driver) echoGuard(ctx context.Context) {
	d.drainFrames()

	select {
	case <-time.After(d.Config.EchoGuardDelay):
	case <-ctx.Done():
	}

	if d.Endpointer != nil && d.Endpointer.Detector != nil {
		d.Endpointer.Detector.Reset()
	}
	d.setState(StateIdle)
}

func (d *Driver) drainFrames() {
	for {
		select {
		case <-d.frames:
		default:
			return
		}
	}
}

func (d *Driver) emit(e Event) {
	select {
	case d.events <- e:
	default:
	}
}

func (d *Driver) logger() logging.Logger {
	if d.Logger == nil {
		return logging.NoOp{}
	}
	return d.Logger
}
