package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestNextMatchesTransitionTable(t *testing.T) {
	states := []State{StateRecording, StatePaused, StateProcessing, StateCompleted, StateCancelled, StateInterrupted}
	commands := []Command{CmdPause, CmdResume, CmdStop, CmdFinish, CmdCancel, CmdInterrupt}

	legal := map[string]State{
		"recording/pause":     StatePaused,
		"recording/stop":      StateProcessing,
		"recording/cancel":    StateCancelled,
		"recording/interrupt": StateInterrupted,
		"paused/resume":       StateRecording,
		"paused/stop":         StateProcessing,
		"paused/cancel":       StateCancelled,
		"paused/interrupt":    StateInterrupted,
		"processing/finish":   StateCompleted,
		"processing/cancel":   StateCancelled,
	}

	for _, from := range states {
		for _, cmd := range commands {
			key := fmt.Sprintf("%s/%s", from, cmd)
			to, err := Next(from, cmd)
			want, ok := legal[key]
			if ok {
				if err != nil || to != want {
					t.Errorf("%s: expected %s, got %s, %v", key, want, to, err)
				}
				continue
			}
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("%s: expected rejection, got %v", key, err)
			}
			if to != from {
				t.Errorf("%s: rejected transition changed state to %s", key, to)
			}
		}
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []State{StateCompleted, StateCancelled, StateInterrupted} {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range []State{StateRecording, StatePaused, StateProcessing} {
		if s.Terminal() {
			t.Errorf("expected %s to be live", s)
		}
	}
}

func TestTransitionErrorMessage(t *testing.T) {
	err := &TransitionError{From: StateProcessing, Command: CmdPause}
	if err.Error() != "cannot pause a session that is processing" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("x: %w", ErrUploadTooLarge), CodeSizeLimit},
		{ErrStaleState, CodeStaleState},
		{&TransitionError{From: StatePaused, Command: CmdPause}, CodeInvalidState},
		{ErrSessionExists, CodeInvalidState},
		{ErrNoSession, CodeNotFound},
		{ErrSessionMismatch, CodeNotFound},
		{ErrExtractionFailed, CodeExtraction},
		{fmt.Errorf("create: %w: %w", ErrPersistence, errors.New("locked")), CodePersistence},
		{ErrInvalidChunk, CodeInvalidPayload},
		{ErrInvalidMode, CodeInvalidPayload},
	}
	for _, tt := range tests {
		if got := ErrorCode(tt.err); got != tt.want {
			t.Errorf("ErrorCode(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestLaneAdmitsInTicketOrder(t *testing.T) {
	l := newLane()
	l.acquire()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			l.acquire()
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			l.release()
		}(i)
		// Give each goroutine time to take its ticket before the next.
		waitForTickets(t, l, uint64(i+2))
	}

	l.release()
	wg.Wait()

	for i, n := range order {
		if n != i {
			t.Fatalf("expected FIFO order, got %v", order)
		}
	}
}

func waitForTickets(t *testing.T, l *lane, n uint64) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		l.mu.Lock()
		issued := l.next
		l.mu.Unlock()
		if issued >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d tickets", n)
}

func TestBufferAccumulates(t *testing.T) {
	b := NewBuffer()
	now := time.Now()

	first := b.AddChunk(100, 10, now)
	second := b.AddChunk(200, 20, now)
	if first.Number != 1 || second.Number != 2 {
		t.Fatalf("expected sequential chunk numbers, got %d, %d", first.Number, second.Number)
	}

	b.AddPartial(Partial{ChunkNumber: 1, Timestamp: 100, Text: "one"})
	b.AddPartial(Partial{ChunkNumber: 3, Timestamp: 300, Text: "three"})

	if got := b.Recent(3); len(got) != 2 || got[0] != "one" || got[1] != "three" {
		t.Fatalf("unexpected recent %v", got)
	}
	frags := b.Fragments(2 * time.Second)
	if frags[1].Offset != 4*time.Second {
		t.Fatalf("expected offset from chunk number, got %v", frags[1].Offset)
	}
	if chunks := b.TimestampChunks(); len(chunks) != 2 || chunks[1].ChunkNumber != 3 {
		t.Fatalf("unexpected timestamp chunks %+v", chunks)
	}

	b.Reset()
	if b.ChunkCount() != 0 || b.PartialCount() != 0 {
		t.Fatal("expected empty buffer after reset")
	}
}
