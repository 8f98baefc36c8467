package session

import (
	"context"
	"sync"
	"time"

	"github.com/sjawhar/meetscribe/internal/events"
	"github.com/sjawhar/meetscribe/internal/export"
	"github.com/sjawhar/meetscribe/internal/storage"
	"github.com/sjawhar/meetscribe/internal/summary"
	"github.com/sjawhar/meetscribe/internal/transcribe"
)

// Mode is how a session's audio is captured.
type Mode string

const (
	ModeMicrophone  Mode = "microphone"
	ModeTabAudio    Mode = "tab-audio"
	ModeVideoUpload Mode = "video-upload"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeMicrophone, ModeTabAudio, ModeVideoUpload:
		return true
	}
	return false
}

// Outbound event names.
const (
	EventSessionStarted    = "session:started"
	EventTranscriptPartial = "transcript:partial"
	EventStatusUpdate      = "status:update"
	EventVideoProcessing   = "video:processing"
	EventVideoError        = "video:error"
	EventError             = "error"
	EventSessionCompleted  = "session:completed"
)

type StartedPayload struct {
	SessionID string `json:"sessionId"`
	Mode      Mode   `json:"mode"`
}

type PartialPayload struct {
	SessionID   string  `json:"sessionId"`
	Text        string  `json:"text"`
	Timestamp   int64   `json:"timestamp"`
	ChunkNumber int     `json:"chunkNumber"`
	Confidence  float64 `json:"confidence"`
}

type StatusPayload struct {
	SessionID string `json:"sessionId,omitempty"`
	Status    State  `json:"status"`
}

type MessagePayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type CompletedPayload struct {
	SessionID  string  `json:"sessionId"`
	Transcript string  `json:"transcript"`
	Summary    string  `json:"summary"`
	Duration   float64 `json:"duration"`
}

// Store is the persistence collaborator. Every call is a single attempt.
type Store interface {
	CreateSessionStub(ctx context.Context, owner, mode string) (string, error)
	UpdateSessionStatus(ctx context.Context, id, status string) error
	UpdateSessionDuration(ctx context.Context, id string, seconds float64) error
	StoreTranscript(ctx context.Context, sessionID, content, summary string, chunks []storage.TimestampChunk) error
}

// Summarizer is the generative side of finalization and enhancement.
// Callers fall back to the deterministic formatters in package summary on
// any error.
type Summarizer interface {
	Available() bool
	Enhance(ctx context.Context, recent []string, fragment string) (string, error)
	FormatTranscript(ctx context.Context, fragments []summary.Fragment, chunkCount int, duration time.Duration) (string, error)
	SummarizeTranscript(ctx context.Context, transcript string) (string, error)
}

// Sink delivers events to the client behind a connection.
type Sink interface {
	Send(connID, event string, data any)
}

type Publisher interface {
	PublishPartial(ctx context.Context, event events.PartialEvent) error
	PublishFinal(ctx context.Context, event events.FinalEvent) error
}

type Exporter interface {
	Export(ctx context.Context, doc export.Document) error
}

type Extractor interface {
	ExtractAudio(ctx context.Context, video []byte, filename string) ([]byte, error)
}

// Transcriber is the per-chunk transcription adapter.
type Transcriber = transcribe.Adapter

// Session is the in-memory state of one recording. Identity fields are set
// at creation and never change; everything else is guarded by mu.
type Session struct {
	ID        string
	ConnID    string
	Owner     string
	Mode      Mode
	StartedAt time.Time

	lane *lane

	mu           sync.Mutex
	state        State
	duration     time.Duration
	lastActivity time.Time
	buf          *Buffer
	transcript   string
	summary      string
	// busy counts commands holding the lane; the idle sweep skips busy
	// sessions.
	busy     int
	detached bool
}

func newSession(id, connID, owner string, mode Mode, now time.Time) *Session {
	return &Session{
		ID:           id,
		ConnID:       connID,
		Owner:        owner,
		Mode:         mode,
		StartedAt:    now,
		lane:         newLane(),
		state:        StateRecording,
		lastActivity: now,
		buf:          NewBuffer(),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info is a point-in-time view of a session.
type Info struct {
	SessionID       string    `json:"sessionId"`
	ConnectionID    string    `json:"connectionId"`
	Owner           string    `json:"owner"`
	Mode            Mode      `json:"mode"`
	State           State     `json:"state"`
	StartedAt       time.Time `json:"startedAt"`
	DurationSeconds float64   `json:"durationSeconds"`
	Chunks          int       `json:"chunks"`
	Partials        int       `json:"partials"`
	// Transcript and Summary are set once the session is interrupted or
	// completed. An interrupted session has no summary.
	Transcript      string    `json:"transcript,omitempty"`
	Summary         string    `json:"summary,omitempty"`
}

func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		SessionID:       s.ID,
		ConnectionID:    s.ConnID,
		Owner:           s.Owner,
		Mode:            s.Mode,
		State:           s.state,
		StartedAt:       s.StartedAt,
		DurationSeconds: s.duration.Seconds(),
		Chunks:          s.buf.ChunkCount(),
		Partials:        s.buf.PartialCount(),
		Transcript:      s.transcript,
		Summary:         s.summary,
	}
}

// AudioChunk is one inbound chunk as decoded by the transport.
type AudioChunk struct {
	Data      []byte
	Timestamp int64
	Size      int
}

// Upload is one inbound video upload as decoded by the transport.
type Upload struct {
	Data     []byte
	Filename string
	FileSize int64
}

// Result is the outcome of a finalization.
type Result struct {
	SessionID  string
	Transcript string
	Summary    string
	Duration   time.Duration
	// PersistErr is set when the transcript could not be stored. The result
	// is still delivered to the client.
	PersistErr error
}
