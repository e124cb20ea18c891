package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OpenAISynthesizer speaks the OpenAI /audio/speech API.
type OpenAISynthesizer struct {
	apiBase string
	apiKey  string
	model   string
	voice   string
	client  *http.Client
}

func NewOpenAISynthesizer(opts Options) *OpenAISynthesizer {
	if opts.APIBase == "" {
		opts.APIBase = "https://api.openai.com/v1"
	}
	if opts.Model == "" {
		opts.Model = "tts-1"
	}
	if opts.Voice == "" {
		opts.Voice = "alloy"
	}
	return &OpenAISynthesizer{
		apiBase: opts.APIBase,
		apiKey:  opts.APIKey,
		model:   opts.Model,
		voice:   opts.Voice,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (s *OpenAISynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	payload, err := json.Marshal(map[string]string{
		"model": s.model,
		"input": text,
		"voice": s.voice,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiBase+"/audio/speech", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("tts error (status %d): %s", resp.StatusCode, string(respBody))
	}
	return io.ReadAll(resp.Body)
}

// ElevenLabsSynthesizer renders speech with the ElevenLabs API. Voice
// holds the ElevenLabs voice ID.
type ElevenLabsSynthesizer struct {
	apiBase string
	apiKey  string
	model   string
	voice   string
	client  *http.Client
}

func NewElevenLabsSynthesizer(opts Options) *ElevenLabsSynthesizer {
	if opts.APIBase == "" {
		opts.APIBase = "https://api.elevenlabs.io/v1"
	}
	if opts.Model == "" {
		opts.Model = "eleven_monolingual_v1"
	}
	if opts.Voice == "" {
		opts.Voice = "21m00Tcm4TlvDq8ikWAM"
	}
	return &ElevenLabsSynthesizer{
		apiBase: opts.APIBase,
		apiKey:  opts.APIKey,
		model:   opts.Model,
		voice:   opts.Voice,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (s *ElevenLabsSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	payload, err := json.Marshal(map[string]string{
		"text":     text,
		"model_id": s.model,
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/text-to-speech/%s", s.apiBase, s.voice)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("elevenlabs error (status %d): %s", resp.StatusCode, string(respBody))
	}
	return io.ReadAll(resp.Body)
}
