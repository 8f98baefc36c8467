package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Session is the durable record of one recording session.
type Session struct {
	ID              string     `json:"id"`
	Owner           string     `json:"owner"`
	Mode            string     `json:"mode"`
	Status          string     `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds float64    `json:"duration_seconds"`
}

// TimestampChunk is one partial transcription as stored with the final
// transcript.
type TimestampChunk struct {
	ChunkNumber int     `json:"chunkNumber"`
	Timestamp   int64   `json:"timestamp"`
	Text        string  `json:"text"`
	Confidence  float64 `json:"confidence"`
}

// Transcript is the stored final transcript and summary of a session.
type Transcript struct {
	SessionID       string           `json:"session_id"`
	Content         string           `json:"content"`
	Summary         string           `json:"summary"`
	TimestampChunks []TimestampChunk `json:"timestamp_chunks"`
	CreatedAt       time.Time        `json:"created_at"`
}

// Statuses after which a session row gets an ended_at.
var endedStatuses = map[string]bool{
	"completed":   true,
	"cancelled":   true,
	"interrupted": true,
}

type SQLiteStore struct {
	db    *sql.DB
	newID func() string
	now   func() time.Time
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "meetscribe.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{
		db:    db,
		newID: uuid.NewString,
		now:   time.Now,
	}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			mode TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			duration_seconds REAL NOT NULL DEFAULT 0
		);
	`); err != nil {
		return fmt.Errorf("create sessions table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS transcripts (
			session_id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			timestamp_chunks TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL,
			FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);
	`); err != nil {
		return fmt.Errorf("create transcripts table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_sessions_owner_started ON sessions(owner, started_at)"); err != nil {
		return fmt.Errorf("create sessions index: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// CreateSessionStub inserts a recording session row and returns its new
// identifier.
func (s *SQLiteStore) CreateSessionStub(ctx context.Context, owner, mode string) (string, error) {
	if strings.TrimSpace(owner) == "" {
		return "", errors.New("session owner is required")
	}

	id := s.newID()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(id, owner, mode, status, started_at) VALUES(?, ?, ?, 'recording', ?)`,
		id,
		owner,
		mode,
		formatTime(s.now()),
	)
	if err != nil {
		return "", fmt.Errorf("create session for %s: %w", owner, err)
	}
	return id, nil
}

func (s *SQLiteStore) UpdateSessionStatus(ctx context.Context, id, status string) error {
	var res sql.Result
	var err error
	if endedStatuses[status] {
		res, err = s.db.ExecContext(ctx,
			`UPDATE sessions SET status = ?, ended_at = COALESCE(ended_at, ?) WHERE id = ?`,
			status, formatTime(s.now()), id,
		)
	} else {
		res, err = s.db.ExecContext(ctx, `UPDATE sessions SET status = ? WHERE id = ?`, status, id)
	}
	if err != nil {
		return fmt.Errorf("update status for session %s: %w", id, err)
	}
	return requireRow(res, "update status")
}

func (s *SQLiteStore) UpdateSessionDuration(ctx context.Context, id string, seconds float64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET duration_seconds = ? WHERE id = ?`, seconds, id)
	if err != nil {
		return fmt.Errorf("update duration for session %s: %w", id, err)
	}
	return requireRow(res, "update duration")
}

// StoreTranscript writes the transcript of a session, replacing any earlier
// one.
func (s *SQLiteStore) StoreTranscript(ctx context.Context, sessionID, content, summary string, chunks []TimestampChunk) error {
	if chunks == nil {
		chunks = []TimestampChunk{}
	}
	encoded, err := json.Marshal(chunks)
	if err != nil {
		return fmt.Errorf("encode timestamp chunks for session %s: %w", sessionID, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO transcripts(session_id, content, summary, timestamp_chunks, created_at)
		 VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
			content = excluded.content,
			summary = excluded.summary,
			timestamp_chunks = excluded.timestamp_chunks`,
		sessionID,
		content,
		summary,
		string(encoded),
		formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("store transcript for session %s: %w", sessionID, err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner, mode, status, started_at, ended_at, duration_seconds FROM sessions WHERE id = ?`,
		id,
	)
	sess, err := scanSession(row)
	if err != nil {
		return Session{}, fmt.Errorf("query session %s: %w", id, err)
	}
	return sess, nil
}

// ListSessions returns sessions newest first. An empty owner lists all
// owners; limit <= 0 means 50.
func (s *SQLiteStore) ListSessions(ctx context.Context, owner string, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner, mode, status, started_at, ended_at, duration_seconds
		 FROM sessions
		 WHERE (? = '' OR owner = ?)
		 ORDER BY started_at DESC
		 LIMIT ?`,
		owner, owner, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sessions := make([]Session, 0, 16)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions rows: %w", err)
	}

	return sessions, nil
}

func (s *SQLiteStore) GetTranscript(ctx context.Context, sessionID string) (Transcript, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, content, summary, timestamp_chunks, created_at FROM transcripts WHERE session_id = ?`,
		sessionID,
	)

	var tr Transcript
	var chunks, createdAt string
	if err := row.Scan(&tr.SessionID, &tr.Content, &tr.Summary, &chunks, &createdAt); err != nil {
		return Transcript{}, fmt.Errorf("query transcript for session %s: %w", sessionID, err)
	}
	if err := json.Unmarshal([]byte(chunks), &tr.TimestampChunks); err != nil {
		return Transcript{}, fmt.Errorf("decode timestamp chunks for session %s: %w", sessionID, err)
	}
	parsed, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Transcript{}, fmt.Errorf("parse transcript %s created_at: %w", sessionID, err)
	}
	tr.CreatedAt = parsed

	return tr, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var sess Session
	var startedAt string
	var endedAt sql.NullString
	if err := row.Scan(&sess.ID, &sess.Owner, &sess.Mode, &sess.Status, &startedAt, &endedAt, &sess.DurationSeconds); err != nil {
		return Session{}, err
	}

	parsedStart, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return Session{}, fmt.Errorf("parse started_at: %w", err)
	}
	sess.StartedAt = parsedStart

	if endedAt.Valid {
		parsedEnd, err := time.Parse(time.RFC3339Nano, endedAt.String)
		if err != nil {
			return Session{}, fmt.Errorf("parse ended_at: %w", err)
		}
		sess.EndedAt = &parsedEnd
	}

	return sess, nil
}

func requireRow(res sql.Result, op string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
