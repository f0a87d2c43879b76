// Package groq implements stt.Transcriber against Groq's Whisper-compatible
// transcription endpoint.
package groq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/malonecentral/malone-agent/pkg/audio"
	"github.com/malonecentral/malone-agent/pkg/stt"
)

// Transcriber calls Groq's OpenAI-compatible /audio/transcriptions endpoint.
type Transcriber struct {
	apiKey     string
	url        string
	model      string
	sampleRate int
}

// New constructs a Transcriber. model defaults to "whisper-large-v3-turbo".
func New(apiKey, model string, sampleRate int) *Transcriber {
	if model == "" {
		model = "whisper-large-v3-turbo"
	}
	if sampleRate == 0 {
		sampleRate = 16000
	}
	return &Transcriber{
		apiKey:     apiKey,
		url:        "https://api.groq.com/openai/v1/audio/transcriptions",
		model:      model,
		sampleRate: sampleRate,
	}
}

func (t *Transcriber) Name() string { return "groq_stt" }

func (t *Transcriber) Transcribe(ctx context.Context, pcm []byte, lang stt.Language) (string, error) {
	wavData := audio.NewWavBuffer(pcm, t.sampleRate)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if err := writer.WriteField("model", t.model); err != nil {
		return "", err
	}
	if lang != "" {
		if err := writer.WriteField("language", string(lang)); err != nil {
			return "", err
		}
	}

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, bytes.NewReader(wavData)); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp any
		json.NewDecoder(resp.Body).Decode(&errResp)
		return "", fmt.Errorf("groq stt error (status %d): %v", resp.StatusCode, errResp)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Text), nil
}
