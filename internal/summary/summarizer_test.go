package summary

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sjawhar/meetscribe/internal/llm"
)

type mockLLMClient struct {
	mu           sync.Mutex
	calls        int
	failFirst    int
	response     string
	err          error
	block        chan struct{}
	lastMessages []llm.Message
}

func (m *mockLLMClient) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	m.mu.Lock()
	m.calls++
	calls := m.calls
	m.lastMessages = append([]llm.Message(nil), messages...)
	m.mu.Unlock()

	if m.block != nil {
		<-m.block
	}
	if m.err != nil && calls <= m.failFirst {
		return "", m.err
	}
	return m.response, nil
}

func (m *mockLLMClient) Model() string { return "mock/test" }

func (m *mockLLMClient) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func newTestService(client llm.Client, opts Options) *Service {
	s := New(client, opts)
	s.sleep = func(context.Context, time.Duration) error { return nil }
	s.now = func() time.Time { return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC) }
	return s
}

func TestSummarizeTranscriptRendersTemplate(t *testing.T) {
	transcript := buildTranscript(25)
	client := &mockLLMClient{response: "  ## Summary  "}
	s := newTestService(client, Options{SystemPrompt: "system", UserTemplate: "Date={{date}}\nBody={{transcript}}"})

	got, err := s.SummarizeTranscript(context.Background(), transcript)
	if err != nil {
		t.Fatalf("SummarizeTranscript failed: %v", err)
	}
	if got != "## Summary" {
		t.Fatalf("expected trimmed summary, got %q", got)
	}
	if len(client.lastMessages) != 2 || client.lastMessages[0].Content != "system" {
		t.Fatalf("unexpected messages: %#v", client.lastMessages)
	}
	if !strings.Contains(client.lastMessages[1].Content, "Date=2026-03-14") {
		t.Fatalf("expected rendered date in user content, got %q", client.lastMessages[1].Content)
	}
	if !strings.Contains(client.lastMessages[1].Content, "Body="+transcript) {
		t.Fatalf("expected rendered transcript in user content, got %q", client.lastMessages[1].Content)
	}
}

func TestSummarizeSkipsShortTranscript(t *testing.T) {
	client := &mockLLMClient{response: "should-not-be-used"}
	s := newTestService(client, Options{})

	_, err := s.SummarizeTranscript(context.Background(), "too short")
	if !errors.Is(err, ErrTranscriptTooShort) {
		t.Fatalf("expected ErrTranscriptTooShort, got %v", err)
	}
	if _, err := s.Summarize(context.Background(), "also short"); !errors.Is(err, ErrTranscriptTooShort) {
		t.Fatalf("expected ErrTranscriptTooShort, got %v", err)
	}
	if client.callCount() != 0 {
		t.Fatalf("expected zero llm calls, got %d", client.callCount())
	}
}

func TestNilClientIsUnavailable(t *testing.T) {
	s := New(nil, Options{})
	ctx := context.Background()

	if s.Available() {
		t.Fatal("expected service without client to be unavailable")
	}
	if _, err := s.Summarize(ctx, buildTranscript(30)); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Summarize: expected ErrUnavailable, got %v", err)
	}
	if _, err := s.SummarizeTranscript(ctx, buildTranscript(30)); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("SummarizeTranscript: expected ErrUnavailable, got %v", err)
	}
	if _, err := s.Enhance(ctx, []string{"a", "b", "c"}, "d"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Enhance: expected ErrUnavailable, got %v", err)
	}
	if _, err := s.FormatTranscript(ctx, []Fragment{{Text: "x"}}, 1, time.Second); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("FormatTranscript: expected ErrUnavailable, got %v", err)
	}
}

func TestSummarizeRetries(t *testing.T) {
	client := &mockLLMClient{response: "retry-success", err: errors.New("temporary"), failFirst: 2}
	s := New(client, Options{})
	var sleeps []time.Duration
	s.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	got, err := s.SummarizeTranscript(context.Background(), buildTranscript(25))
	if err != nil {
		t.Fatalf("SummarizeTranscript failed: %v", err)
	}
	if got != "retry-success" {
		t.Fatalf("expected retry-success, got %q", got)
	}
	if client.callCount() != 3 {
		t.Fatalf("expected 3 llm calls, got %d", client.callCount())
	}
	if len(sleeps) != 2 || sleeps[0] != time.Second || sleeps[1] != 4*time.Second {
		t.Fatalf("unexpected sleep durations: %#v", sleeps)
	}
}

func TestSummarizeGivesUpAfterRetries(t *testing.T) {
	client := &mockLLMClient{err: errors.New("down"), failFirst: 100}
	s := newTestService(client, Options{})

	_, err := s.SummarizeTranscript(context.Background(), buildTranscript(25))
	if err == nil || !strings.Contains(err.Error(), "down") {
		t.Fatalf("expected wrapped backend error, got %v", err)
	}
	if client.callCount() != 3 {
		t.Fatalf("expected 3 attempts, got %d", client.callCount())
	}
}

func TestSummarizeDoesNotRetryWithoutModel(t *testing.T) {
	client := &mockLLMClient{err: llm.ErrNoModel, failFirst: 100}
	s := newTestService(client, Options{})

	if _, err := s.SummarizeTranscript(context.Background(), buildTranscript(25)); !errors.Is(err, llm.ErrNoModel) {
		t.Fatalf("expected ErrNoModel, got %v", err)
	}
	if client.callCount() != 1 {
		t.Fatalf("expected a single attempt, got %d", client.callCount())
	}
}

func TestSummarizeTruncatesInput(t *testing.T) {
	client := &mockLLMClient{response: "ok"}
	s := newTestService(client, Options{MaxInputChars: 200, UserTemplate: "{{transcript}}"})

	long := buildTranscript(500)
	if _, err := s.SummarizeTranscript(context.Background(), long); err != nil {
		t.Fatalf("SummarizeTranscript failed: %v", err)
	}

	sent := client.lastMessages[1].Content
	if sent != Truncate(long, 200) {
		t.Fatalf("expected deterministic truncation, got %d runes", len([]rune(sent)))
	}
	if len([]rune(sent)) > 200 {
		t.Fatalf("expected at most 200 runes, got %d", len([]rune(sent)))
	}
}

func TestEnhanceTimesOutOnUnresponsiveClient(t *testing.T) {
	client := &mockLLMClient{response: "late", block: make(chan struct{})}
	defer close(client.block)
	s := newTestService(client, Options{EnhanceTimeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := s.Enhance(context.Background(), []string{"a", "b", "c"}, "d")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("enhance exceeded its ceiling: %v", elapsed)
	}
}

func TestEnhanceIncludesContext(t *testing.T) {
	client := &mockLLMClient{response: "Cleaned fragment."}
	s := newTestService(client, Options{})

	got, err := s.Enhance(context.Background(), []string{"first", "second", "third"}, "fourth")
	if err != nil {
		t.Fatalf("Enhance failed: %v", err)
	}
	if got != "Cleaned fragment." {
		t.Fatalf("unexpected enhancement %q", got)
	}
	user := client.lastMessages[1].Content
	for _, want := range []string{"- first", "- second", "- third", "New fragment:\nfourth"} {
		if !strings.Contains(user, want) {
			t.Fatalf("expected %q in prompt, got %q", want, user)
		}
	}
}

func TestEmptyBackendResponseIsAnError(t *testing.T) {
	client := &mockLLMClient{response: "   "}
	s := newTestService(client, Options{})

	if _, err := s.Enhance(context.Background(), nil, "x"); !errors.Is(err, llm.ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestFormatTranscriptPassesStatistics(t *testing.T) {
	client := &mockLLMClient{response: "[00:00] Hello there."}
	s := newTestService(client, Options{})

	fragments := []Fragment{{Offset: 0, Text: "hello there"}, {Offset: 2 * time.Second, Text: "general kenobi"}}
	got, err := s.FormatTranscript(context.Background(), fragments, 3, 3*time.Second)
	if err != nil {
		t.Fatalf("FormatTranscript failed: %v", err)
	}
	if got != "[00:00] Hello there." {
		t.Fatalf("unexpected transcript %q", got)
	}
	user := client.lastMessages[1].Content
	for _, want := range []string{"Audio chunks: 3", "Recording length: 3s", "[00:02] general kenobi"} {
		if !strings.Contains(user, want) {
			t.Fatalf("expected %q in prompt, got %q", want, user)
		}
	}
}

func buildTranscript(wordCount int) string {
	words := make([]string, 0, wordCount)
	for i := 0; i < wordCount; i++ {
		words = append(words, "word")
	}
	return strings.Join(words, " ")
}
