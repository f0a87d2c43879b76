// Package streaming implements tts.StreamingSynthesizer against a Versa-
// protocol voice service: a single persistent websocket connection that
// accepts one JSON synthesis request and streams back binary PCM chunks
// terminated by a text "EOS" (or "ERR:" on failure).
package streaming

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/malonecentral/malone-agent/pkg/tts"
)

// Synthesizer speaks text through a Versa-protocol voice service.
type Synthesizer struct {
	apiKey     string
	host       string
	scheme     string // "wss" in production, "ws" in tests against a plain httptest server
	sampleRate int

	mu   sync.Mutex
	conn *websocket.Conn
}

// New constructs a Synthesizer against host (e.g. "api.versa.voice").
func New(apiKey, host string, sampleRate int) *Synthesizer {
	if sampleRate == 0 {
		sampleRate = 24000
	}
	return &Synthesizer{apiKey: apiKey, host: host, scheme: "wss", sampleRate: sampleRate}
}

func (s *Synthesizer) Name() string    { return "versa" }
func (s *Synthesizer) SampleRate() int { return s.sampleRate }

func (s *Synthesizer) getConn(ctx context.Context) (*websocket.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return s.conn, nil
	}

	u := url.URL{Scheme: s.scheme, Host: s.host, Path: "/ws", RawQuery: "api_key=" + s.apiKey}
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("versa: failed to connect: %w", err)
	}
	s.conn = conn
	return conn, nil
}

// Synthesize collects the full streamed response into one buffer.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, voice tts.Voice, lang tts.Language) ([]byte, error) {
	var audio []byte
	err := s.StreamSynthesize(ctx, text, voice, lang, func(chunk []byte) error {
		audio = append(audio, chunk...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return audio, nil
}

// StreamSynthesize sends one synthesis request and forwards each binary
// frame to onChunk until the server sends a text "EOS" frame.
func (s *Synthesizer) StreamSynthesize(ctx context.Context, text string, voice tts.Voice, lang tts.Language, onChunk tts.ChunkFunc) error {
	conn, err := s.getConn(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	req := map[string]any{
		"text":    text,
		"voice":   string(voice),
		"lang":    string(lang),
		"speed":   1.05,
		"steps":   5,
		"version": "versa-1.0",
	}

	if err := wsjson.Write(ctx, conn, req); err != nil {
		s.conn = nil
		conn.Close(websocket.StatusAbnormalClosure, "failed to write json")
		return fmt.Errorf("versa: failed to send synthesis request: %w", err)
	}

	for {
		messageType, payload, err := conn.Read(ctx)
		if err != nil {
			s.conn = nil
			conn.Close(websocket.StatusAbnormalClosure, "failed to read")
			return fmt.Errorf("versa: failed to read: %w", err)
		}

		switch messageType {
		case websocket.MessageBinary:
			if err := onChunk(payload); err != nil {
				return err
			}
		case websocket.MessageText:
			msg := string(payload)
			if msg == "EOS" {
				return nil
			}
			if len(msg) >= 4 && msg[:4] == "ERR:" {
				return fmt.Errorf("versa: synthesis error: %s", msg)
			}
		}
	}
}

// Close tears down the persistent connection, if one is open.
func (s *Synthesizer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		err := s.conn.Close(websocket.StatusNormalClosure, "")
		s.conn = nil
		return err
	}
	return nil
}

var _ tts.StreamingSynthesizer = (*Synthesizer)(nil)
