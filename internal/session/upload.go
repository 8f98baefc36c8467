package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sjawhar/meetscribe/internal/logging"
	"github.com/sjawhar/meetscribe/internal/transcribe"
)

// Extracted audio is mono 16-bit PCM at 16 kHz behind a 44-byte header.
const (
	wavHeaderBytes    = 44
	wavBytesPerSecond = 16000 * 2
)

// Upload extracts audio from a video, transcribes it as a single chunk and
// finalizes the session. Oversized uploads are rejected before anything else
// happens. An extraction failure leaves the session recording.
func (m *Manager) Upload(ctx context.Context, connID, sessionID string, up Upload) (Result, error) {
	declared := up.FileSize
	if actual := int64(len(up.Data)); actual > declared {
		declared = actual
	}
	if m.opts.MaxUploadBytes > 0 && declared > m.opts.MaxUploadBytes {
		return Result{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrUploadTooLarge, declared, m.opts.MaxUploadBytes)
	}
	if len(up.Data) == 0 {
		return Result{}, fmt.Errorf("%w: empty upload", ErrInvalidChunk)
	}

	s, err := m.lookup(connID, sessionID)
	if err != nil {
		return Result{}, err
	}
	m.enter(s)
	defer m.leave(s)

	if err := m.touchRecording(s); err != nil {
		return Result{}, err
	}
	log := logging.WithSession(s.ID, connID)

	if m.extractor == nil {
		return Result{}, fmt.Errorf("%w: no extractor configured", ErrExtractionFailed)
	}

	m.sink.Send(connID, EventVideoProcessing, MessagePayload{Message: "Extracting audio from video..."})
	audio, err := m.extractor.ExtractAudio(ctx, up.Data, up.Filename)
	if err != nil {
		log.Warn().Err(err).Str("filename", up.Filename).Msg("Audio extraction failed")
		return Result{}, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}

	if err := m.touchRecording(s); err != nil {
		return Result{}, err
	}

	m.sink.Send(connID, EventVideoProcessing, MessagePayload{Message: "Transcribing audio..."})
	now := m.now()
	ts := now.UnixMilli()

	s.mu.Lock()
	meta := s.buf.AddChunk(ts, len(audio), now)
	s.mu.Unlock()
	m.metrics.RecordChunk(len(audio))

	text, confidence, ok := m.transcribeChunk(ctx, log, transcribe.Chunk{
		Data:       audio,
		Timestamp:  ts,
		Size:       len(audio),
		Format:     transcribe.FormatWAV,
		ReceivedAt: now,
	})

	p := Partial{ChunkNumber: meta.Number, Timestamp: ts, Text: text, Confidence: confidence}
	s.mu.Lock()
	s.duration += extractedDuration(audio)
	if ok {
		s.buf.AddPartial(p)
	}
	s.mu.Unlock()
	if ok {
		m.emitPartial(ctx, s, p)
	}

	m.sink.Send(connID, EventVideoProcessing, MessagePayload{Message: "Generating summary..."})
	return m.finalize(ctx, s)
}

// touchRecording checks that s still accepts audio and marks it active.
func (m *Manager) touchRecording(s *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ingestable(s.state); err != nil {
		return err
	}
	s.lastActivity = m.now()
	return nil
}

func extractedDuration(audio []byte) time.Duration {
	n := len(audio) - wavHeaderBytes
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / wavBytesPerSecond
}

// IsUploadError reports whether err belongs on the upload's own error event
// rather than the generic one.
func IsUploadError(err error) bool {
	return errors.Is(err, ErrUploadTooLarge) || errors.Is(err, ErrExtractionFailed)
}
