package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/nescampos/coralmultichannel/pkg/logger"
)

// WhisperTranscriber speaks the OpenAI-compatible /audio/transcriptions
// API, which also covers Groq and local whisper servers.
type WhisperTranscriber struct {
	apiBase  string
	apiKey   string
	model    string
	language string
	client   *http.Client
}

func NewWhisperTranscriber(opts Options) *WhisperTranscriber {
	if opts.APIBase == "" {
		opts.APIBase = "https://api.openai.com/v1"
	}
	if opts.Model == "" {
		opts.Model = "whisper-1"
	}
	return &WhisperTranscriber{
		apiBase:  opts.APIBase,
		apiKey:   opts.APIKey,
		model:    opts.Model,
		language: opts.Language,
		client:   &http.Client{Timeout: 120 * time.Second},
	}
}

func (w *WhisperTranscriber) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return "", fmt.Errorf("copy audio data: %w", err)
	}

	writer.WriteField("model", w.model)
	writer.WriteField("response_format", "json")
	if w.language != "" {
		writer.WriteField("language", w.language)
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.apiBase+"/audio/transcriptions", &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+w.apiKey)

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("whisper error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode whisper response: %w", err)
	}

	logger.DebugCF("speech", "Transcription complete",
		map[string]interface{}{"text_len": len(result.Text)})
	return result.Text, nil
}

// ElevenLabsTranscriber uses the ElevenLabs speech-to-text endpoint.
type ElevenLabsTranscriber struct {
	apiBase string
	apiKey  string
	model   string
	client  *http.Client
}

func NewElevenLabsTranscriber(opts Options) *ElevenLabsTranscriber {
	if opts.APIBase == "" {
		opts.APIBase = "https://api.elevenlabs.io/v1"
	}
	if opts.Model == "" {
		opts.Model = "scribe_v1"
	}
	return &ElevenLabsTranscriber{
		apiBase: opts.APIBase,
		apiKey:  opts.APIKey,
		model:   opts.Model,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (e *ElevenLabsTranscriber) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return "", fmt.Errorf("copy audio data: %w", err)
	}
	writer.WriteField("model_id", e.model)
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.apiBase+"/speech-to-text", &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("elevenlabs request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("elevenlabs error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode elevenlabs response: %w", err)
	}
	return result.Text, nil
}
