package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Whisper transcribes each chunk with the OpenAI audio transcription API.
type Whisper struct {
	client   *openai.Client
	model    string
	language string
}

// NewWhisper builds an OpenAI transcription adapter. baseURL may be empty.
func NewWhisper(apiKey, model, language, baseURL string) *Whisper {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if model == "" {
		model = openai.Whisper1
	}
	// The API takes ISO-639-1 codes; "en-US" becomes "en".
	lang, _, _ := strings.Cut(language, "-")
	return &Whisper{
		client:   openai.NewClientWithConfig(config),
		model:    model,
		language: strings.ToLower(lang),
	}
}

func (w *Whisper) Name() string { return "openai" }

func (w *Whisper) Transcribe(ctx context.Context, chunk Chunk) (Result, error) {
	if len(chunk.Data) == 0 {
		return Result{}, ErrEmptyAudio
	}

	filename := "chunk.webm"
	if chunk.Format == FormatWAV {
		filename = "chunk.wav"
	}

	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: filename,
		Reader:   bytes.NewReader(chunk.Data),
		Language: w.language,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return Result{}, fmt.Errorf("openai transcription: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return Result{}, ErrNoSpeech
	}

	// Whisper reports per-segment average log probabilities; exp of their
	// mean is used as the chunk confidence.
	confidence := 0.9
	if len(resp.Segments) > 0 {
		var sum float64
		for _, s := range resp.Segments {
			sum += s.AvgLogprob
		}
		confidence = math.Exp(sum / float64(len(resp.Segments)))
	}

	return Result{Text: text, Confidence: clampConfidence(confidence)}, nil
}
