package speech

import (
	"context"
	"fmt"
	"io"
)

// Transcriber converts recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
}

// Synthesizer renders text as MP3 audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

type Options struct {
	Provider string
	APIBase  string
	APIKey   string
	Model    string
	Voice    string
	Language string
}

func NewTranscriber(opts Options) (Transcriber, error) {
	switch opts.Provider {
	case "", "whisper", "openai":
		return NewWhisperTranscriber(opts), nil
	case "elevenlabs":
		return NewElevenLabsTranscriber(opts), nil
	default:
		return nil, fmt.Errorf("unsupported transcription provider: %s", opts.Provider)
	}
}

func NewSynthesizer(opts Options) (Synthesizer, error) {
	switch opts.Provider {
	case "", "openai":
		return NewOpenAISynthesizer(opts), nil
	case "elevenlabs":
		return NewElevenLabsSynthesizer(opts), nil
	default:
		return nil, fmt.Errorf("unsupported synthesis provider: %s", opts.Provider)
	}
}
