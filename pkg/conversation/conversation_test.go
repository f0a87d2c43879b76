package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/malonecentral/malone-agent/pkg/audio"
	"github.com/malonecentral/malone-agent/pkg/llm"
	"github.com/malonecentral/malone-agent/pkg/stt"
	"github.com/malonecentral/malone-agent/pkg/tools"
	"github.com/malonecentral/malone-agent/pkg/transcript"
	"github.com/malonecentral/malone-agent/pkg/tts"
	"github.com/malonecentral/malone-agent/pkg/vad"
)

// Scenarios S4 (router-to-cloud-by-keyword) and S5 (cloud fails, local
// succeeds) and the Endpointer's own transition-table/echo-suppression
// properties (including S6, utterance too short) are exercised in
// pkg/llm and pkg/vad respectively — this file covers the scenarios and
// properties that only the Driver itself can exercise: S1, S2, S3, and
// testable properties 6 (tool-loop boundedness) and 7 (cancellation
// safety).

const testBlockSize = 480

func testFormat() audio.Format {
	return audio.Format{SampleRate: 16000, Channels: 1, BlockSize: testBlockSize}
}

func speechFrame() []byte {
	frame := make([]byte, testBlockSize*2)
	frame[0] = 1
	return frame
}

func silenceFrame() []byte {
	return make([]byte, testBlockSize*2)
}

// fakeSource lets a test push frames directly into whatever FrameSink the
// Driver registered, simulating a real capture thread without any audio
// hardware.
type fakeSource struct {
	format audio.Format

	mu      sync.Mutex
	sink    audio.FrameSink
	stopped bool
}

func (s *fakeSource) Format() audio.Format { return s.format }

func (s *fakeSource) Start(sink audio.FrameSink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
	return nil
}

func (s *fakeSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *fakeSource) push(frame []byte) {
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink != nil {
		sink(frame)
	}
}

func (s *fakeSource) pushUtterance(speechFrames, tailSilenceFrames int) {
	for i := 0; i < speechFrames; i++ {
		s.push(speechFrame())
	}
	for i := 0; i < tailSilenceFrames; i++ {
		s.push(silenceFrame())
	}
}

type fakeSink struct {
	mu     sync.Mutex
	played [][]byte
	err    error
}

func (s *fakeSink) SampleRate() int { return 24000 }

func (s *fakeSink) Play(_ context.Context, pcm []byte) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.played = append(s.played, pcm)
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.played)
}

type fakeTranscriber struct {
	text  string
	err   error
	calls atomic.Int32
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ []byte, _ stt.Language) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func (f *fakeTranscriber) Name() string { return "fake_stt" }

type fakeSynth struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeSynth) SampleRate() int { return 24000 }

func (f *fakeSynth) Synthesize(_ context.Context, text string, _ tts.Voice, _ tts.Language) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return []byte("audio:" + text), nil
}

func (f *fakeSynth) Name() string { return "fake_tts" }

func (f *fakeSynth) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.texts))
	copy(out, f.texts)
	return out
}

// fakeCapability returns one canned llm.Response per call, in order, and
// records how many times Chat was invoked.
type fakeCapability struct {
	mu        sync.Mutex
	responses []llm.Response
	calls     int
}

func (f *fakeCapability) Chat(_ context.Context, _ []transcript.Message, _ []tools.Descriptor) (llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls >= len(f.responses) {
		return llm.Response{}, fmt.Errorf("fakeCapability: no response configured for call %d", f.calls+1)
	}
	resp := f.responses[f.calls]
	f.calls++
	return resp, nil
}

func (f *fakeCapability) Name() string { return "fake_llm" }

func (f *fakeCapability) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// alwaysCapability returns the same response forever — used by the
// tool-loop-boundedness test, which needs more calls than any fixed slice.
type alwaysCapability struct {
	resp  llm.Response
	calls atomic.Int32
}

func (a *alwaysCapability) Chat(_ context.Context, _ []transcript.Message, _ []tools.Descriptor) (llm.Response, error) {
	a.calls.Add(1)
	return a.resp, nil
}

func (a *alwaysCapability) Name() string { return "always_llm" }

type fakeTool struct {
	name  string
	out   string
	calls atomic.Int32
}

func (t *fakeTool) Descriptor() tools.Descriptor {
	return tools.Descriptor{Name: t.name, Description: "test tool", Parameters: map[string]any{"type": "object"}}
}

func (t *fakeTool) Execute(context.Context, map[string]any) (any, error) {
	t.calls.Add(1)
	return t.out, nil
}

func newTestEndpointer(detector vad.Detector) *vad.Endpointer {
	ep := vad.New(detector, testFormat())
	// Tiny thresholds so tests don't need hundreds of simulated frames.
	ep.SilenceThreshold = 90 * time.Millisecond  // 3 frames
	ep.MinSpeechDuration = 30 * time.Millisecond // 1 frame
	return ep
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// TestS1SimpleQA: a plain Q&A turn with no tool calls.
func TestS1SimpleQA(t *testing.T) {
	source := &fakeSource{format: testFormat()}
	sink := &fakeSink{}
	transcriber := &fakeTranscriber{text: "what time is it"}
	synth := &fakeSynth{}
	capability := &fakeCapability{responses: []llm.Response{{Content: "It is noon."}}}

	d := New(Driver{
		Source:      source,
		Sink:        sink,
		Endpointer:  newTestEndpointer(&fixedDetectorStub{}),
		Transcriber: transcriber,
		LLM:         capability,
		TTS:         synth,
		Transcript:  transcript.New("sys", 50),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	source.pushUtterance(2, 4)
	waitFor(t, time.Second, func() bool { return sink.count() == 1 })

	cancel()
	<-done

	snap := d.Transcript.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 messages (system, user, assistant), got %d: %+v", len(snap), snap)
	}
	if snap[1].Role != transcript.RoleUser || snap[1].Text != "what time is it" {
		t.Errorf("unexpected user message: %+v", snap[1])
	}
	if snap[2].Role != transcript.RoleAssistant || snap[2].Text != "It is noon." {
		t.Errorf("unexpected assistant message: %+v", snap[2])
	}

	if got := synth.snapshot(); len(got) != 1 || got[0] != "It is noon." {
		t.Errorf("expected synthesizer called once with 'It is noon.', got %v", got)
	}
}

// TestS2ToolSingleRound: one tool call round-trips before the final reply.
func TestS2ToolSingleRound(t *testing.T) {
	source := &fakeSource{format: testFormat()}
	sink := &fakeSink{}
	transcriber := &fakeTranscriber{text: "turn on the lamp"}
	synth := &fakeSynth{}
	capability := &fakeCapability{responses: []llm.Response{
		{ToolCalls: []transcript.ToolCall{{ID: "t1", Name: "toggle", Arguments: map[string]any{"id": "lamp"}}}},
		{Content: "Done."},
	}}

	registry := tools.NewRegistry()
	tool := &fakeTool{name: "toggle", out: "OK"}
	if err := registry.Register(tool); err != nil {
		t.Fatalf("register tool: %v", err)
	}

	d := New(Driver{
		Source:      source,
		Sink:        sink,
		Endpointer:  newTestEndpointer(&fixedDetectorStub{}),
		Transcriber: transcriber,
		LLM:         capability,
		TTS:         synth,
		Executor:    tools.NewExecutor(registry),
		Transcript:  transcript.New("sys", 50),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	source.pushUtterance(2, 4)
	waitFor(t, time.Second, func() bool { return sink.count() == 1 })

	cancel()
	<-done

	snap := d.Transcript.Snapshot()
	if len(snap) != 5 {
		t.Fatalf("expected 5 messages, got %d: %+v", len(snap), snap)
	}
	if snap[1].Role != transcript.RoleUser {
		t.Errorf("message 1 should be user, got %+v", snap[1])
	}
	if snap[2].Role != transcript.RoleAssistant || len(snap[2].ToolCalls) != 1 || snap[2].ToolCalls[0].ID != "t1" {
		t.Errorf("message 2 should be assistant with tool_calls=[t1], got %+v", snap[2])
	}
	if snap[3].Role != transcript.RoleTool || snap[3].ToolCallID != "t1" || snap[3].Text != "OK" {
		t.Errorf("message 3 should be tool_result(t1, OK), got %+v", snap[3])
	}
	if snap[4].Role != transcript.RoleAssistant || snap[4].Text != "Done." {
		t.Errorf("message 4 should be assistant(Done.), got %+v", snap[4])
	}

	if capability.callCount() != 2 {
		t.Errorf("expected exactly 2 LLM calls, got %d", capability.callCount())
	}
	if tool.calls.Load() != 1 {
		t.Errorf("expected exactly 1 tool invocation, got %d", tool.calls.Load())
	}
}

// TestS3EmptyTranscript: an empty transcription produces no transcript
// append and no LLM call; the driver silently returns to IDLE.
func TestS3EmptyTranscript(t *testing.T) {
	source := &fakeSource{format: testFormat()}
	sink := &fakeSink{}
	transcriber := &fakeTranscriber{text: ""}
	synth := &fakeSynth{}
	capability := &fakeCapability{}

	d := New(Driver{
		Source:      source,
		Sink:        sink,
		Endpointer:  newTestEndpointer(&fixedDetectorStub{}),
		Transcriber: transcriber,
		LLM:         capability,
		TTS:         synth,
		Transcript:  transcript.New("sys", 50),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	source.pushUtterance(2, 4)
	waitFor(t, time.Second, func() bool { return transcriber.calls.Load() >= 1 })
	waitFor(t, time.Second, func() bool { return d.State() == StateIdle })

	cancel()
	<-done

	if got := len(d.Transcript.Snapshot()); got != 1 {
		t.Errorf("expected only the system message, got %d messages", got)
	}
	if capability.callCount() != 0 {
		t.Errorf("expected no LLM calls, got %d", capability.callCount())
	}
	if sink.count() != 0 {
		t.Errorf("expected no playback, got %d", sink.count())
	}
}

// TestToolLoopBoundedness implements spec.md §8 testable property 6: the
// tool sub-loop never exceeds MaxToolTurns LLM calls for a single turn,
// and synthesizes the canned exceeded-reply instead of looping forever.
func TestToolLoopBoundedness(t *testing.T) {
	source := &fakeSource{format: testFormat()}
	sink := &fakeSink{}
	transcriber := &fakeTranscriber{text: "keep calling tools forever"}
	synth := &fakeSynth{}
	capability := &alwaysCapability{resp: llm.Response{
		ToolCalls: []transcript.ToolCall{{Name: "noop"}},
	}}

	registry := tools.NewRegistry()
	tool := &fakeTool{name: "noop", out: "ok"}
	if err := registry.Register(tool); err != nil {
		t.Fatalf("register tool: %v", err)
	}

	cfg := DefaultConfig()
	cfg.MaxToolTurns = 3

	d := New(Driver{
		Source:      source,
		Sink:        sink,
		Endpointer:  newTestEndpointer(&fixedDetectorStub{}),
		Transcriber: transcriber,
		LLM:         capability,
		TTS:         synth,
		Executor:    tools.NewExecutor(registry),
		Transcript:  transcript.New("sys", 50),
		Config:      cfg,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	source.pushUtterance(2, 4)
	waitFor(t, time.Second, func() bool { return sink.count() == 1 })

	cancel()
	<-done

	if got := capability.calls.Load(); got != int32(cfg.MaxToolTurns) {
		t.Errorf("expected exactly MaxToolTurns=%d LLM calls, got %d", cfg.MaxToolTurns, got)
	}
	if got := tool.calls.Load(); got != int32(cfg.MaxToolTurns) {
		t.Errorf("expected exactly MaxToolTurns=%d tool invocations, got %d", cfg.MaxToolTurns, got)
	}

	snap := d.Transcript.Snapshot()
	last := snap[len(snap)-1]
	if last.Role != transcript.RoleAssistant || last.Text != "(tool loop exceeded)" {
		t.Errorf("expected canned exceeded reply as the final message, got %+v", last)
	}
	if got := synth.snapshot(); len(got) != 1 || got[0] != "(tool loop exceeded)" {
		t.Errorf("expected the canned reply to be synthesized, got %v", got)
	}
}

// TestCancellationSafety implements spec.md §8 testable property 7: on
// context cancellation, Run returns promptly and Source.Stop is always
// called, even if cancellation lands mid-turn (blocked inside an offloaded
// call).
func TestCancellationSafety(t *testing.T) {
	source := &fakeSource{format: testFormat()}
	sink := &fakeSink{}

	blockUntilCancelled := make(chan struct{})
	transcriber := &blockingTranscriber{release: blockUntilCancelled}
	synth := &fakeSynth{}
	capability := &fakeCapability{responses: []llm.Response{{Content: "unused"}}}

	d := New(Driver{
		Source:      source,
		Sink:        sink,
		Endpointer:  newTestEndpointer(&fixedDetectorStub{}),
		Transcriber: transcriber,
		LLM:         capability,
		TTS:         synth,
		Transcript:  transcript.New("sys", 50),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	source.pushUtterance(2, 4)
	waitFor(t, time.Second, func() bool { return transcriber.started.Load() })

	cancel()
	close(blockUntilCancelled)

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return promptly after cancellation")
	}

	waitFor(t, time.Second, func() bool {
		source.mu.Lock()
		defer source.mu.Unlock()
		return source.stopped
	})
}

// blockingTranscriber never returns until release is closed, simulating a
// slow backend call that ctx cancellation can't directly interrupt.
type blockingTranscriber struct {
	release chan struct{}
	started atomic.Bool
}

// Transcribe deliberately ignores ctx — it only returns once release is
// closed — so the test proves Run returns on cancellation even though this
// call is still in flight underneath it.
func (b *blockingTranscriber) Transcribe(_ context.Context, _ []byte, _ stt.Language) (string, error) {
	b.started.Store(true)
	<-b.release
	return "", errors.New("transcriber released after cancellation")
}

func (b *blockingTranscriber) Name() string { return "blocking_stt" }

// fixedDetectorStub treats every frame with a leading 1 byte as speech,
// matching speechFrame/silenceFrame above.
type fixedDetectorStub struct{}

func (fixedDetectorStub) IsSpeech(frame []byte, _ int) bool { return len(frame) > 0 && frame[0] == 1 }
func (fixedDetectorStub) Reset()                            {}
