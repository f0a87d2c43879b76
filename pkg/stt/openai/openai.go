// Package openai implements stt.Transcriber against OpenAI's
// /audio/transcriptions endpoint.
package openai

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

// Transcriber calls OpenAI's Whisper transcription endpoint.
type Transcriber struct {
	apiKey     string
	url        string
	model      string
	sampleRate int
}

// New constructs a Transcriber. model defaults to "whisper-1".
func New(apiKey, model string, sampleRate int) *Transcriber {
	if model == "" {
		model = "whisper-1"
	}
	if sampleRate == 0 {
		sampleRate = 16000
	}
	return &Transcriber{
		apiKey:     apiKey,
		url:        "https://api.openai.com/v1/audio/transcriptions",
		model:      model,
		sampleRate: sampleRate,
	}
}

func (t *Transcriber) Name() string { return "openai_stt" }

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
	if _, err := part.Write(wavData); err != nil {
		return "", err
	}
	writer.Close()

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
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("openai stt error: %s (status %d)", string(respBody), resp.StatusCode)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Text), nil
}
