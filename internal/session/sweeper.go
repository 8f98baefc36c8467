package session

import (
	"context"
	"time"

	"github.com/sjawhar/meetscribe/internal/logging"
	"github.com/sjawhar/meetscribe/internal/summary"
)

// Run sweeps for idle sessions every SweepInterval until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep interrupts every recording or paused session that has seen no
// activity for longer than IdleGrace and reports how many it interrupted.
// Sessions with a command in flight are never idle.
func (m *Manager) Sweep(ctx context.Context) int {
	now := m.now()
	n := 0
	for _, s := range m.registry.Sessions() {
		if m.interruptIfIdle(ctx, s, now) {
			n++
		}
	}
	return n
}

func (m *Manager) interruptIfIdle(ctx context.Context, s *Session, now time.Time) bool {
	s.mu.Lock()
	if s.busy > 0 || now.Sub(s.lastActivity) <= m.opts.IdleGrace {
		s.mu.Unlock()
		return false
	}
	to, err := Next(s.state, CmdInterrupt)
	if err != nil {
		s.mu.Unlock()
		return false
	}
	from := s.state
	s.state = to
	idle := now.Sub(s.lastActivity)
	transcript := summary.FallbackTranscript(s.buf.Fragments(m.opts.ChunkInterval))
	chunks := s.buf.TimestampChunks()
	duration := s.duration
	detached := s.detached
	s.transcript = transcript
	s.buf.Reset()
	s.mu.Unlock()

	log := logging.WithSession(s.ID, s.ConnID)
	log.Info().
		Str("from", string(from)).
		Dur("idle", idle).
		Msg("Session interrupted")

	ctx = context.WithoutCancel(ctx)
	if err := m.store.UpdateSessionStatus(ctx, s.ID, string(StateInterrupted)); err != nil {
		m.persistFailure(log, "update_status", err)
	}
	if err := m.store.StoreTranscript(ctx, s.ID, transcript, "", chunks); err != nil {
		m.persistFailure(log, "store_transcript", err)
	}
	if err := m.store.UpdateSessionDuration(ctx, s.ID, duration.Seconds()); err != nil {
		m.persistFailure(log, "update_duration", err)
	}

	m.metrics.RecordSessionEnd(string(StateInterrupted))
	if detached {
		m.release(s)
	} else {
		m.sendStatus(s, StateInterrupted)
	}
	return true
}
