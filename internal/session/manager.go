package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sjawhar/meetscribe/internal/events"
	"github.com/sjawhar/meetscribe/internal/logging"
	"github.com/sjawhar/meetscribe/internal/metrics"
	"github.com/sjawhar/meetscribe/internal/transcribe"
)

// enhanceContext is how many earlier partials are offered when enhancing a
// new fragment. Enhancement starts once that many exist.
const enhanceContext = 3

type Options struct {
	// ChunkInterval is the nominal capture length of one chunk. Session
	// duration grows by this much per chunk rather than by measured audio.
	ChunkInterval  time.Duration
	IdleGrace      time.Duration
	SweepInterval  time.Duration
	MaxUploadBytes int64
	PublishTimeout time.Duration
	ExportTimeout  time.Duration
}

// Deps are the Manager's collaborators. Store and Transcriber are required;
// the rest may be nil.
type Deps struct {
	Store       Store
	Transcriber Transcriber
	Summarizer  Summarizer
	Sink        Sink
	Publisher   Publisher
	Exporter    Exporter
	Extractor   Extractor
	Metrics     *metrics.Metrics
}

// Manager runs the recording pipeline for every connection: the state
// machine, chunk ingestion, finalization, uploads and the idle sweep.
// Commands for one session run one at a time in arrival order; sessions are
// independent of each other.
type Manager struct {
	store       Store
	transcriber Transcriber
	summarizer  Summarizer
	sink        Sink
	publisher   Publisher
	exporter    Exporter
	extractor   Extractor
	metrics     *metrics.Metrics

	registry *Registry
	opts     Options
	now      func() time.Time

	background sync.WaitGroup
}

func NewManager(deps Deps, opts Options) *Manager {
	if opts.ChunkInterval <= 0 {
		opts.ChunkInterval = time.Second
	}
	if opts.IdleGrace <= 0 {
		opts.IdleGrace = 2 * time.Minute
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 15 * time.Second
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 2 * time.Second
	}
	if opts.ExportTimeout <= 0 {
		opts.ExportTimeout = 30 * time.Second
	}

	sink := deps.Sink
	if sink == nil {
		sink = discardSink{}
	}

	return &Manager{
		store:       deps.Store,
		transcriber: deps.Transcriber,
		summarizer:  deps.Summarizer,
		sink:        sink,
		publisher:   deps.Publisher,
		exporter:    deps.Exporter,
		extractor:   deps.Extractor,
		metrics:     deps.Metrics,
		registry:    NewRegistry(),
		opts:        opts,
		now:         time.Now,
	}
}

type discardSink struct{}

func (discardSink) Send(string, string, any) {}

// Start creates a session for connID and persists its stub record. It fails
// with ErrSessionExists while the connection owns a live session.
func (m *Manager) Start(ctx context.Context, connID, owner string, mode Mode) (*Session, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	s, prev, err := m.registry.Create(connID, func() (*Session, error) {
		id, err := m.store.CreateSessionStub(ctx, owner, string(mode))
		if err != nil {
			m.metrics.RecordPersistenceError("create_session")
			return nil, fmt.Errorf("create session stub: %w: %w", ErrPersistence, err)
		}
		return newSession(id, connID, owner, mode, m.now()), nil
	})
	if err != nil {
		return nil, err
	}
	if prev != nil {
		m.metrics.RecordSessionRemoved()
	}

	m.metrics.RecordSessionStart(string(mode))
	log := logging.WithSession(s.ID, connID)
	log.Info().
		Str("owner", owner).
		Str("mode", string(mode)).
		Msg("Session started")

	m.sink.Send(connID, EventSessionStarted, StartedPayload{SessionID: s.ID, Mode: mode})
	m.sendStatus(s, StateRecording)
	return s, nil
}

// Ingest transcribes one chunk and emits its partial transcript. A chunk the
// adapter cannot transcribe is skipped: the returned Partial has no text and
// no event is emitted, but the session carries on.
func (m *Manager) Ingest(ctx context.Context, connID, sessionID string, chunk AudioChunk) (Partial, error) {
	if len(chunk.Data) == 0 {
		return Partial{}, fmt.Errorf("%w: empty payload", ErrInvalidChunk)
	}
	if chunk.Timestamp <= 0 {
		return Partial{}, fmt.Errorf("%w: timestamp must be positive", ErrInvalidChunk)
	}

	s, err := m.lookup(connID, sessionID)
	if err != nil {
		return Partial{}, err
	}
	m.enter(s)
	defer m.leave(s)

	size := chunk.Size
	if size <= 0 {
		size = len(chunk.Data)
	}

	now := m.now()
	s.mu.Lock()
	if err := ingestable(s.state); err != nil {
		s.mu.Unlock()
		return Partial{}, err
	}
	meta := s.buf.AddChunk(chunk.Timestamp, size, now)
	s.lastActivity = now
	var recent []string
	if s.buf.PartialCount() >= enhanceContext {
		recent = s.buf.Recent(enhanceContext)
	}
	s.mu.Unlock()

	m.metrics.RecordChunk(len(chunk.Data))
	log := logging.WithSession(s.ID, connID)

	text, confidence, ok := m.transcribeChunk(ctx, log, transcribe.Chunk{
		Data:       chunk.Data,
		Timestamp:  chunk.Timestamp,
		Size:       size,
		Format:     transcribe.FormatWebM,
		ReceivedAt: now,
	})
	if ok && recent != nil {
		text = m.enhance(ctx, log, recent, text)
	}

	s.mu.Lock()
	s.duration += m.opts.ChunkInterval
	if !ok {
		s.mu.Unlock()
		return Partial{ChunkNumber: meta.Number, Timestamp: chunk.Timestamp}, nil
	}
	p := Partial{
		ChunkNumber: meta.Number,
		Timestamp:   chunk.Timestamp,
		Text:        text,
		Confidence:  confidence,
	}
	s.buf.AddPartial(p)
	s.mu.Unlock()

	m.emitPartial(ctx, s, p)
	return p, nil
}

func (m *Manager) Pause(ctx context.Context, connID, sessionID string) error {
	return m.apply(ctx, connID, sessionID, CmdPause)
}

func (m *Manager) Resume(ctx context.Context, connID, sessionID string) error {
	return m.apply(ctx, connID, sessionID, CmdResume)
}

// Cancel abandons a session. No summary is produced.
func (m *Manager) Cancel(ctx context.Context, connID, sessionID string) error {
	return m.apply(ctx, connID, sessionID, CmdCancel)
}

func (m *Manager) apply(ctx context.Context, connID, sessionID string, cmd Command) error {
	s, err := m.lookup(connID, sessionID)
	if err != nil {
		return err
	}
	m.enter(s)
	defer m.leave(s)

	s.mu.Lock()
	from := s.state
	to, err := Next(from, cmd)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = to
	s.lastActivity = m.now()
	if to == StateCancelled {
		s.buf.Reset()
	}
	s.mu.Unlock()

	log := logging.WithSession(s.ID, connID)
	log.Info().Str("from", string(from)).Str("to", string(to)).Msg("Session transition")

	if err := m.store.UpdateSessionStatus(context.WithoutCancel(ctx), s.ID, string(to)); err != nil {
		m.reportPersistence(s, log, "update_status", err)
	}
	m.sendStatus(s, to)

	if to == StateCancelled {
		m.metrics.RecordSessionEnd(string(to))
		m.release(s)
	}
	return nil
}

// Stop finalizes the session: it always reaches completed and always emits
// session:completed, falling back to deterministic output where a backend
// fails.
func (m *Manager) Stop(ctx context.Context, connID, sessionID string) (Result, error) {
	s, err := m.lookup(connID, sessionID)
	if err != nil {
		return Result{}, err
	}
	m.enter(s)
	defer m.leave(s)

	return m.finalize(ctx, s)
}

// Status reports the state of the session connID owns. Completed and
// cancelled sessions are no longer held and yield ErrNoSession.
func (m *Manager) Status(connID, sessionID string) (State, error) {
	s, err := m.lookup(connID, sessionID)
	if err != nil {
		return "", err
	}
	return s.State(), nil
}

// Disconnect records that connID went away. Live sessions stay registered
// until the idle sweep interrupts them; already interrupted ones are
// dropped.
func (m *Manager) Disconnect(connID string) {
	s, ok := m.registry.Get(connID)
	if !ok {
		return
	}

	s.mu.Lock()
	s.detached = true
	state := s.state
	s.mu.Unlock()

	log := logging.WithSession(s.ID, connID)
	if state.Terminal() {
		m.release(s)
		log.Debug().Str("state", string(state)).Msg("Dropped session of closed connection")
		return
	}
	log.Info().Str("state", string(state)).Msg("Connection closed with live session")
}

// Active lists every session the registry holds.
func (m *Manager) Active() []Info {
	sessions := m.registry.Sessions()
	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	return out
}

// Wait blocks until background exports have finished.
func (m *Manager) Wait() {
	m.background.Wait()
}

func (m *Manager) lookup(connID, sessionID string) (*Session, error) {
	s, ok := m.registry.Get(connID)
	if !ok {
		return nil, ErrNoSession
	}
	if sessionID != s.ID {
		return nil, fmt.Errorf("%w: %q", ErrSessionMismatch, sessionID)
	}
	return s, nil
}

func (m *Manager) enter(s *Session) {
	s.lane.acquire()
	s.mu.Lock()
	s.busy++
	s.mu.Unlock()
}

func (m *Manager) leave(s *Session) {
	s.mu.Lock()
	s.busy--
	s.mu.Unlock()
	s.lane.release()
}

func (m *Manager) release(s *Session) {
	if m.registry.Remove(s.ConnID, s) {
		m.metrics.RecordSessionRemoved()
	}
}

func ingestable(state State) error {
	switch state {
	case StateRecording:
		return nil
	case StatePaused:
		return ErrStaleState
	default:
		return &TransitionError{From: state, Command: CmdIngest}
	}
}

func (m *Manager) transcribeChunk(ctx context.Context, log zerolog.Logger, chunk transcribe.Chunk) (string, float64, bool) {
	start := time.Now()
	res, err := m.transcriber.Transcribe(ctx, chunk)
	m.metrics.RecordTranscription(m.transcriber.Name(), time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, transcribe.ErrNoSpeech) {
			m.metrics.RecordChunkSkipped("no_speech")
			return "", 0, false
		}
		log.Warn().Err(err).Str("adapter", m.transcriber.Name()).Msg("Transcription failed, skipping chunk")
		m.metrics.RecordChunkSkipped("adapter_error")
		return "", 0, false
	}

	text := strings.TrimSpace(res.Text)
	if text == "" {
		m.metrics.RecordChunkSkipped("no_speech")
		return "", 0, false
	}
	return text, res.Confidence, true
}

func (m *Manager) summarizerReady() bool {
	return m.summarizer != nil && m.summarizer.Available()
}

func (m *Manager) enhance(ctx context.Context, log zerolog.Logger, recent []string, text string) string {
	if !m.summarizerReady() {
		return text
	}
	out, err := guard(func() (string, error) { return m.summarizer.Enhance(ctx, recent, text) })
	out = strings.TrimSpace(out)
	if err != nil || out == "" {
		log.Debug().Err(err).Msg("Enhancement failed, using raw fragment")
		m.metrics.RecordFallback("enhance")
		return text
	}
	return out
}

func (m *Manager) emitPartial(ctx context.Context, s *Session, p Partial) {
	m.sink.Send(s.ConnID, EventTranscriptPartial, PartialPayload{
		SessionID:   s.ID,
		Text:        p.Text,
		Timestamp:   p.Timestamp,
		ChunkNumber: p.ChunkNumber,
		Confidence:  p.Confidence,
	})

	if m.publisher == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.PublishTimeout)
	defer cancel()
	if err := m.publisher.PublishPartial(pctx, events.PartialEvent{
		SessionID:   s.ID,
		Owner:       s.Owner,
		ChunkNumber: p.ChunkNumber,
		Text:        p.Text,
		Timestamp:   p.Timestamp,
		Confidence:  p.Confidence,
		EmittedAt:   m.now().UTC(),
	}); err != nil {
		log := logging.WithSession(s.ID, s.ConnID)
		log.Warn().Err(err).Msg("Failed to publish partial transcript")
	}
}

func (m *Manager) sendStatus(s *Session, state State) {
	m.sink.Send(s.ConnID, EventStatusUpdate, StatusPayload{SessionID: s.ID, Status: state})
}

func (m *Manager) reportPersistence(s *Session, log zerolog.Logger, op string, err error) {
	log.Error().Err(err).Str("operation", op).Msg("Persistence failed")
	m.metrics.RecordPersistenceError(op)
	m.sink.Send(s.ConnID, EventError, MessagePayload{
		Message: "Failed to save session state: " + err.Error(),
		Code:    CodePersistence,
	})
}

// guard turns a panicking backend call into an error.
func guard(fn func() (string, error)) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("backend panic: %v", r)
		}
	}()
	return fn()
}
