package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sjawhar/meetscribe/internal/events"
	"github.com/sjawhar/meetscribe/internal/export"
	"github.com/sjawhar/meetscribe/internal/storage"
	"github.com/sjawhar/meetscribe/internal/summary"
	"github.com/sjawhar/meetscribe/internal/transcribe"
)

type storedTranscript struct {
	content string
	summary string
	chunks  []storage.TimestampChunk
}

type storeMock struct {
	mu          sync.Mutex
	nextID      int
	owners      map[string]string
	status      map[string]string
	history     map[string][]string
	duration    map[string]float64
	transcripts map[string]storedTranscript

	createErr     error
	transcriptErr error
	statusErr     error
}

func newStoreMock() *storeMock {
	return &storeMock{
		owners:      map[string]string{},
		status:      map[string]string{},
		history:     map[string][]string{},
		duration:    map[string]float64{},
		transcripts: map[string]storedTranscript{},
	}
}

func (s *storeMock) CreateSessionStub(_ context.Context, owner, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return "", s.createErr
	}
	s.nextID++
	id := fmt.Sprintf("session-%d", s.nextID)
	s.owners[id] = owner
	s.status[id] = "recording"
	return id, nil
}

func (s *storeMock) UpdateSessionStatus(_ context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statusErr != nil {
		return s.statusErr
	}
	s.status[id] = status
	s.history[id] = append(s.history[id], status)
	return nil
}

func (s *storeMock) UpdateSessionDuration(_ context.Context, id string, seconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.duration[id] = seconds
	return nil
}

func (s *storeMock) StoreTranscript(_ context.Context, id, content, summaryText string, chunks []storage.TimestampChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transcriptErr != nil {
		return s.transcriptErr
	}
	s.transcripts[id] = storedTranscript{content: content, summary: summaryText, chunks: chunks}
	return nil
}

func (s *storeMock) statusOf(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status[id]
}

func (s *storeMock) transcriptOf(id string) (storedTranscript, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, ok := s.transcripts[id]
	return tr, ok
}

type sentEvent struct {
	conn  string
	event string
	data  any
}

type sinkMock struct {
	mu     sync.Mutex
	events []sentEvent
}

func (s *sinkMock) Send(connID, event string, data any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, sentEvent{conn: connID, event: event, data: data})
}

func (s *sinkMock) all() []sentEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentEvent(nil), s.events...)
}

func (s *sinkMock) named(event string) []sentEvent {
	var out []sentEvent
	for _, e := range s.all() {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

func (s *sinkMock) names() []string {
	var out []string
	for _, e := range s.all() {
		out = append(out, e.event)
	}
	return out
}

func (s *sinkMock) statuses() []State {
	var out []State
	for _, e := range s.named(EventStatusUpdate) {
		out = append(out, e.data.(StatusPayload).Status)
	}
	return out
}

// scriptedTranscriber answers by chunk timestamp. Entries in gate block the
// call until the channel is closed.
type scriptedTranscriber struct {
	mu      sync.Mutex
	fail    map[int64]error
	gate    map[int64]chan struct{}
	started chan int64
	calls   []int64
}

func (s *scriptedTranscriber) Name() string { return "scripted" }

func (s *scriptedTranscriber) Transcribe(_ context.Context, chunk transcribe.Chunk) (transcribe.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, chunk.Timestamp)
	gate := s.gate[chunk.Timestamp]
	err := s.fail[chunk.Timestamp]
	started := s.started
	s.mu.Unlock()

	if started != nil {
		started <- chunk.Timestamp
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return transcribe.Result{}, err
	}
	return transcribe.Result{Text: fmt.Sprintf("fragment %d", chunk.Timestamp), Confidence: 0.9}, nil
}

type summarizerMock struct {
	mu        sync.Mutex
	available bool
	err       error
	panicMsg  string
	enhanced  [][]string
	formatted int
}

func (s *summarizerMock) Available() bool { return s.available }

func (s *summarizerMock) Enhance(_ context.Context, recent []string, fragment string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enhanced = append(s.enhanced, append([]string(nil), recent...))
	if s.err != nil {
		return "", s.err
	}
	return "Enhanced " + fragment, nil
}

func (s *summarizerMock) FormatTranscript(_ context.Context, fragments []summary.Fragment, _ int, _ time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.formatted++
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if s.err != nil {
		return "", s.err
	}
	return fmt.Sprintf("formatted %d fragments", len(fragments)), nil
}

func (s *summarizerMock) SummarizeTranscript(context.Context, string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "## Generated summary", nil
}

type publisherMock struct {
	mu       sync.Mutex
	partials []events.PartialEvent
	finals   []events.FinalEvent
	err      error
}

func (p *publisherMock) PublishPartial(_ context.Context, e events.PartialEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.partials = append(p.partials, e)
	return p.err
}

func (p *publisherMock) PublishFinal(_ context.Context, e events.FinalEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finals = append(p.finals, e)
	return p.err
}

type exporterMock struct {
	mu   sync.Mutex
	docs []export.Document
}

func (e *exporterMock) Export(_ context.Context, doc export.Document) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.docs = append(e.docs, doc)
	return errors.New("drive unavailable")
}

type extractorMock struct {
	mu    sync.Mutex
	calls int
	audio []byte
	err   error
}

func (e *extractorMock) ExtractAudio(context.Context, []byte, string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	return e.audio, e.err
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 2, 26, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testEnv struct {
	manager *Manager
	store   *storeMock
	sink    *sinkMock
	clock   *fakeClock
}

func newTestEnv(t *testing.T, deps Deps, opts Options) *testEnv {
	t.Helper()

	store := newStoreMock()
	sink := &sinkMock{}
	if deps.Store == nil {
		deps.Store = store
	}
	if deps.Transcriber == nil {
		deps.Transcriber = transcribe.NewSimulator()
	}
	deps.Sink = sink
	if opts.IdleGrace == 0 {
		opts.IdleGrace = time.Minute
	}

	m := NewManager(deps, opts)
	clock := newFakeClock()
	m.now = clock.Now

	return &testEnv{manager: m, store: store, sink: sink, clock: clock}
}

func chunkAt(ts int64) AudioChunk {
	return AudioChunk{Data: make([]byte, 1000), Timestamp: ts, Size: 1000}
}
