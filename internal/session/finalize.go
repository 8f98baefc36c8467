package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sjawhar/meetscribe/internal/events"
	"github.com/sjawhar/meetscribe/internal/export"
	"github.com/sjawhar/meetscribe/internal/logging"
	"github.com/sjawhar/meetscribe/internal/summary"
)

// finalize must be called with the session's lane held.
func (m *Manager) finalize(ctx context.Context, s *Session) (Result, error) {
	ctx = context.WithoutCancel(ctx)
	begin := time.Now()
	log := logging.WithSession(s.ID, s.ConnID)

	s.mu.Lock()
	from := s.state
	to, err := Next(from, CmdStop)
	if err != nil {
		s.mu.Unlock()
		return Result{}, err
	}
	s.state = to
	fragments := s.buf.Fragments(m.opts.ChunkInterval)
	chunks := s.buf.TimestampChunks()
	chunkCount := s.buf.ChunkCount()
	accumulated := s.duration
	s.mu.Unlock()

	log.Info().
		Str("from", string(from)).
		Int("chunks", chunkCount).
		Int("partials", len(fragments)).
		Msg("Session processing")
	m.sendStatus(s, StateProcessing)

	var persistErr error
	if err := m.store.UpdateSessionStatus(ctx, s.ID, string(StateProcessing)); err != nil {
		persistErr = errors.Join(persistErr, m.persistFailure(log, "update_status", err))
	}

	transcript := m.buildTranscript(ctx, log, fragments, chunkCount, accumulated)
	summaryText := m.buildSummary(ctx, log, transcript)

	wall := m.now().Sub(s.StartedAt)
	if err := m.store.StoreTranscript(ctx, s.ID, transcript, summaryText, chunks); err != nil {
		persistErr = errors.Join(persistErr, m.persistFailure(log, "store_transcript", err))
	}
	if err := m.store.UpdateSessionDuration(ctx, s.ID, wall.Seconds()); err != nil {
		persistErr = errors.Join(persistErr, m.persistFailure(log, "update_duration", err))
	}
	if err := m.store.UpdateSessionStatus(ctx, s.ID, string(StateCompleted)); err != nil {
		persistErr = errors.Join(persistErr, m.persistFailure(log, "update_status", err))
	}

	s.mu.Lock()
	s.state = StateCompleted
	if wall > s.duration {
		s.duration = wall
	}
	s.transcript = transcript
	s.summary = summaryText
	s.buf.Reset()
	s.mu.Unlock()

	m.sendStatus(s, StateCompleted)
	if persistErr != nil {
		m.sink.Send(s.ConnID, EventError, MessagePayload{
			Message: "Failed to save the session; the transcript and summary below were not stored.",
			Code:    CodePersistence,
		})
	}
	m.sink.Send(s.ConnID, EventSessionCompleted, CompletedPayload{
		SessionID:  s.ID,
		Transcript: transcript,
		Summary:    summaryText,
		Duration:   wall.Seconds(),
	})

	m.metrics.RecordSessionEnd(string(StateCompleted))
	m.metrics.RecordFinalization(time.Since(begin).Seconds())
	log.Info().
		Dur("duration", wall).
		Bool("persisted", persistErr == nil).
		Msg("Session completed")

	m.publishFinal(ctx, log, s, transcript, summaryText, wall, chunkCount)
	m.exportAsync(s, transcript, summaryText, wall)
	m.release(s)

	return Result{
		SessionID:  s.ID,
		Transcript: transcript,
		Summary:    summaryText,
		Duration:   wall,
		PersistErr: persistErr,
	}, nil
}

// buildTranscript prefers the backend's formatted transcript and falls back
// to the timestamped concatenation of fragments.
func (m *Manager) buildTranscript(ctx context.Context, log zerolog.Logger, fragments []summary.Fragment, chunkCount int, duration time.Duration) string {
	fallback := summary.FallbackTranscript(fragments)
	if len(fragments) == 0 {
		return fallback
	}
	if !m.summarizerReady() {
		log.Debug().Msg("No transcript formatter configured, using fallback transcript")
		m.metrics.RecordFallback("transcript")
		return fallback
	}

	out, err := guard(func() (string, error) {
		return m.summarizer.FormatTranscript(ctx, fragments, chunkCount, duration)
	})
	out = strings.TrimSpace(out)
	if err != nil || out == "" {
		log.Warn().Err(err).Msg("Transcript formatting failed, using fallback transcript")
		m.metrics.RecordFallback("transcript")
		return fallback
	}
	return out
}

// buildSummary prefers the backend's summary and falls back to the
// structural summary of the full transcript.
func (m *Manager) buildSummary(ctx context.Context, log zerolog.Logger, transcript string) string {
	if !m.summarizerReady() {
		log.Debug().Msg("No summarizer configured, using structural summary")
		m.metrics.RecordFallback("summary")
		return summary.StructuralSummary(transcript)
	}

	out, err := guard(func() (string, error) {
		return m.summarizer.SummarizeTranscript(ctx, transcript)
	})
	out = strings.TrimSpace(out)
	switch {
	case errors.Is(err, summary.ErrTranscriptTooShort):
		log.Debug().Msg("Transcript too short to summarize, using structural summary")
	case err != nil || out == "":
		log.Warn().Err(err).Msg("Summarization failed, using structural summary")
	default:
		return out
	}
	m.metrics.RecordFallback("summary")
	return summary.StructuralSummary(transcript)
}

func (m *Manager) persistFailure(log zerolog.Logger, op string, err error) error {
	log.Error().Err(err).Str("operation", op).Msg("Persistence failed")
	m.metrics.RecordPersistenceError(op)
	return err
}

func (m *Manager) publishFinal(ctx context.Context, log zerolog.Logger, s *Session, transcript, summaryText string, duration time.Duration, chunkCount int) {
	if m.publisher == nil {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, m.opts.PublishTimeout)
	defer cancel()
	if err := m.publisher.PublishFinal(pctx, events.FinalEvent{
		SessionID:       s.ID,
		Owner:           s.Owner,
		Mode:            string(s.Mode),
		Status:          string(StateCompleted),
		Transcript:      transcript,
		Summary:         summaryText,
		DurationSeconds: duration.Seconds(),
		ChunkCount:      chunkCount,
		EmittedAt:       m.now().UTC(),
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to publish final transcript")
	}
}

func (m *Manager) exportAsync(s *Session, transcript, summaryText string, duration time.Duration) {
	if m.exporter == nil {
		return
	}
	doc := export.Document{
		SessionID:  s.ID,
		Owner:      s.Owner,
		Mode:       string(s.Mode),
		StartedAt:  s.StartedAt,
		Duration:   duration,
		Transcript: transcript,
		Summary:    summaryText,
	}

	m.background.Add(1)
	go func() {
		defer m.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.ExportTimeout)
		defer cancel()
		if err := m.exporter.Export(ctx, doc); err != nil {
			log := logging.WithSession(doc.SessionID, s.ConnID)
			log.Warn().Err(err).Msg("Export failed")
		}
	}()
}
