package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrTransient marks engine failures worth retrying on a later chunk, such
// as quota or availability errors.
var ErrTransient = errors.New("transient transcription failure")

type recognizeFunc func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)

// Google transcribes each chunk with Cloud Speech-to-Text synchronous
// recognition. Credentials come from GOOGLE_APPLICATION_CREDENTIALS.
type Google struct {
	recognize recognizeFunc
	close     func() error
	language  string
	model     string
}

func NewGoogle(ctx context.Context, model, language string) (*Google, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	return &Google{
		recognize: func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
			return c.Recognize(ctx, req)
		},
		close:    c.Close,
		language: language,
		model:    model,
	}, nil
}

func (g *Google) Name() string { return "google" }

func (g *Google) Close() error {
	if g.close == nil {
		return nil
	}
	return g.close()
}

func (g *Google) Transcribe(ctx context.Context, chunk Chunk) (Result, error) {
	if len(chunk.Data) == 0 {
		return Result{}, ErrEmptyAudio
	}

	resp, err := g.recognize(ctx, &speechpb.RecognizeRequest{
		Config: g.recognitionConfig(chunk.Format),
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: chunk.Data},
		},
	})
	if err != nil {
		return Result{}, classifyGoogleError(err)
	}

	var parts []string
	var confidence float64
	var scored int
	for _, r := range resp.GetResults() {
		if len(r.GetAlternatives()) == 0 {
			continue
		}
		alt := r.GetAlternatives()[0]
		if t := strings.TrimSpace(alt.GetTranscript()); t != "" {
			parts = append(parts, t)
			confidence += float64(alt.GetConfidence())
			scored++
		}
	}
	if scored == 0 {
		return Result{}, ErrNoSpeech
	}

	return Result{
		Text:       strings.Join(parts, " "),
		Confidence: clampConfidence(confidence / float64(scored)),
	}, nil
}

func (g *Google) recognitionConfig(format string) *speechpb.RecognitionConfig {
	cfg := &speechpb.RecognitionConfig{
		LanguageCode:               g.language,
		Model:                      g.model,
		EnableAutomaticPunctuation: true,
	}
	if format == FormatWAV {
		cfg.Encoding = speechpb.RecognitionConfig_LINEAR16
		cfg.SampleRateHertz = 16000
	} else {
		cfg.Encoding = speechpb.RecognitionConfig_WEBM_OPUS
		cfg.SampleRateHertz = 48000
	}
	return cfg
}

func classifyGoogleError(err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Aborted:
		return fmt.Errorf("google transcription: %w: %w", ErrTransient, err)
	case codes.InvalidArgument:
		return fmt.Errorf("google transcription: rejected audio: %w", err)
	default:
		return fmt.Errorf("google transcription: %w", err)
	}
}
