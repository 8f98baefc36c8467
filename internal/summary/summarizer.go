// Package summary turns accumulated transcript text into formatted
// transcripts and summaries. Every generative operation has a deterministic
// counterpart in fallback.go that callers use when the backend is missing,
// slow or failing.
package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sjawhar/meetscribe/internal/llm"
)

var (
	// ErrUnavailable means no generative backend is configured.
	ErrUnavailable = errors.New("summarization backend unavailable")
	// ErrTranscriptTooShort means the input is below the summarization floor.
	ErrTranscriptTooShort = errors.New("transcript too short to summarize")
)

const minSummaryWords = 20

const (
	defaultSystemPrompt = "You summarize meeting transcripts. Respond in markdown with the sections Overview, Key Points, Decisions and Action Items. Only use facts present in the transcript."
	defaultUserTemplate = "Meeting date: {{date}}\n\nTranscript:\n{{transcript}}"

	generalSystemPrompt = "Summarize the following text concisely in markdown."

	enhanceSystemPrompt = "You clean up fragments from a live speech recognizer. Fix obvious recognition errors, punctuation and casing in the new fragment using the preceding fragments as context. Reply with the corrected fragment only. Never add content that was not spoken."

	formatSystemPrompt = "You format raw speech recognizer output into a readable transcript. Keep every [mm:ss] timestamp, merge broken sentences, and add speaker labels only when the text makes the speaker obvious. Reply with the transcript only."
)

// Options tunes a Service. Zero values select defaults.
type Options struct {
	MaxInputChars  int
	SystemPrompt   string
	UserTemplate   string
	Timeout        time.Duration
	EnhanceTimeout time.Duration
}

// Service is the generative side of summarization. A Service built with a nil
// client answers every call with ErrUnavailable.
type Service struct {
	client         llm.Client
	maxInputChars  int
	systemPrompt   string
	userTemplate   string
	timeout        time.Duration
	enhanceTimeout time.Duration

	backoff []time.Duration
	sleep   func(context.Context, time.Duration) error
	now     func() time.Time
}

func New(client llm.Client, opts Options) *Service {
	s := &Service{
		client:         client,
		maxInputChars:  opts.MaxInputChars,
		systemPrompt:   opts.SystemPrompt,
		userTemplate:   opts.UserTemplate,
		timeout:        opts.Timeout,
		enhanceTimeout: opts.EnhanceTimeout,
		backoff:        []time.Duration{1 * time.Second, 4 * time.Second},
		sleep:          sleepContext,
		now:            time.Now,
	}
	if s.maxInputChars <= 0 {
		s.maxInputChars = 12000
	}
	if s.systemPrompt == "" {
		s.systemPrompt = defaultSystemPrompt
	}
	if s.userTemplate == "" {
		s.userTemplate = defaultUserTemplate
	}
	if s.timeout <= 0 {
		s.timeout = 60 * time.Second
	}
	if s.enhanceTimeout <= 0 {
		s.enhanceTimeout = 5 * time.Second
	}
	return s
}

// Available reports whether a generative backend is configured.
func (s *Service) Available() bool {
	return s != nil && s.client != nil
}

// Model reports the backend model identifier, if resolved.
func (s *Service) Model() string {
	if !s.Available() {
		return ""
	}
	return s.client.Model()
}

// Summarize produces a short summary of arbitrary text.
func (s *Service) Summarize(ctx context.Context, text string) (string, error) {
	if !s.Available() {
		return "", ErrUnavailable
	}
	text = strings.TrimSpace(text)
	if len(strings.Fields(text)) < minSummaryWords {
		return "", ErrTranscriptTooShort
	}
	return s.completeWithRetry(ctx, s.timeout, []llm.Message{
		llm.System(generalSystemPrompt),
		llm.User(Truncate(text, s.maxInputChars)),
	})
}

// SummarizeTranscript produces the structured meeting summary for a finished
// transcript.
func (s *Service) SummarizeTranscript(ctx context.Context, transcript string) (string, error) {
	if !s.Available() {
		return "", ErrUnavailable
	}
	transcript = strings.TrimSpace(transcript)
	if len(strings.Fields(transcript)) < minSummaryWords {
		return "", ErrTranscriptTooShort
	}

	date := s.now().UTC().Format("2006-01-02")
	user := strings.ReplaceAll(s.userTemplate, "{{transcript}}", Truncate(transcript, s.maxInputChars))
	user = strings.ReplaceAll(user, "{{date}}", date)

	return s.completeWithRetry(ctx, s.timeout, []llm.Message{
		llm.System(s.systemPrompt),
		llm.User(user),
	})
}

// Enhance rewrites one live fragment using the most recent fragments as
// context. It makes a single attempt bounded by the enhance timeout.
func (s *Service) Enhance(ctx context.Context, recent []string, fragment string) (string, error) {
	if !s.Available() {
		return "", ErrUnavailable
	}

	var b strings.Builder
	b.WriteString("Previous fragments:\n")
	for _, r := range recent {
		b.WriteString("- ")
		b.WriteString(r)
		b.WriteByte('\n')
	}
	b.WriteString("\nNew fragment:\n")
	b.WriteString(fragment)

	return s.complete(ctx, s.enhanceTimeout, []llm.Message{
		llm.System(enhanceSystemPrompt),
		llm.User(Truncate(b.String(), s.maxInputChars)),
	})
}

// FormatTranscript asks the backend for a readable version of the raw
// fragments. chunkCount and duration are passed as context.
func (s *Service) FormatTranscript(ctx context.Context, fragments []Fragment, chunkCount int, duration time.Duration) (string, error) {
	if !s.Available() {
		return "", ErrUnavailable
	}
	if len(fragments) == 0 {
		return "", ErrTranscriptTooShort
	}

	raw := FallbackTranscript(fragments)
	user := fmt.Sprintf("Audio chunks: %d\nRecording length: %s\n\nRaw transcript:\n%s",
		chunkCount, duration.Truncate(time.Second), Truncate(raw, s.maxInputChars))

	return s.completeWithRetry(ctx, s.timeout, []llm.Message{
		llm.System(formatSystemPrompt),
		llm.User(user),
	})
}

func (s *Service) completeWithRetry(ctx context.Context, timeout time.Duration, messages []llm.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= len(s.backoff); attempt++ {
		result, err := s.complete(ctx, timeout, messages)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, llm.ErrNoModel) || ctx.Err() != nil || attempt == len(s.backoff) {
			break
		}
		log.Debug().Err(err).Int("attempt", attempt+1).Msg("Summarization attempt failed, retrying")
		if err := s.sleep(ctx, s.backoff[attempt]); err != nil {
			break
		}
	}
	return "", fmt.Errorf("summarize: %w", lastErr)
}

// complete bounds one backend call by timeout even when the client does not
// honor context cancellation.
func (s *Service) complete(ctx context.Context, timeout time.Duration, messages []llm.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := s.client.Complete(ctx, messages)
		done <- result{text: strings.TrimSpace(text), err: err}
	}()

	select {
	case r := <-done:
		if r.err == nil && r.text == "" {
			return "", llm.ErrEmptyResponse
		}
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
