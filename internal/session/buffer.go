package session

import (
	"time"

	"github.com/sjawhar/meetscribe/internal/storage"
	"github.com/sjawhar/meetscribe/internal/summary"
)

// ChunkMeta is what a session keeps about a received chunk once it has been
// transcribed. The audio itself is never retained.
type ChunkMeta struct {
	Number     int
	Timestamp  int64
	Size       int
	ReceivedAt time.Time
}

// Partial is one chunk's transcription result.
type Partial struct {
	ChunkNumber int     `json:"chunkNumber"`
	Timestamp   int64   `json:"timestamp"`
	Text        string  `json:"text"`
	Confidence  float64 `json:"confidence"`
}

// Buffer accumulates chunk metadata and partial transcripts in arrival
// order. Chunk numbers are assigned here, so a skipped chunk leaves a gap in
// the partial sequence.
type Buffer struct {
	chunks   []ChunkMeta
	partials []Partial
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

func (b *Buffer) AddChunk(timestamp int64, size int, receivedAt time.Time) ChunkMeta {
	meta := ChunkMeta{
		Number:     len(b.chunks) + 1,
		Timestamp:  timestamp,
		Size:       size,
		ReceivedAt: receivedAt,
	}
	b.chunks = append(b.chunks, meta)
	return meta
}

func (b *Buffer) AddPartial(p Partial) {
	b.partials = append(b.partials, p)
}

// Recent returns the texts of the last n partials, oldest first.
func (b *Buffer) Recent(n int) []string {
	if n > len(b.partials) {
		n = len(b.partials)
	}
	out := make([]string, 0, n)
	for _, p := range b.partials[len(b.partials)-n:] {
		out = append(out, p.Text)
	}
	return out
}

func (b *Buffer) ChunkCount() int   { return len(b.chunks) }
func (b *Buffer) PartialCount() int { return len(b.partials) }

// Fragments places every partial at (chunk number - 1) * interval.
func (b *Buffer) Fragments(interval time.Duration) []summary.Fragment {
	out := make([]summary.Fragment, 0, len(b.partials))
	for _, p := range b.partials {
		out = append(out, summary.Fragment{
			Offset: time.Duration(p.ChunkNumber-1) * interval,
			Text:   p.Text,
		})
	}
	return out
}

func (b *Buffer) TimestampChunks() []storage.TimestampChunk {
	out := make([]storage.TimestampChunk, 0, len(b.partials))
	for _, p := range b.partials {
		out = append(out, storage.TimestampChunk{
			ChunkNumber: p.ChunkNumber,
			Timestamp:   p.Timestamp,
			Text:        p.Text,
			Confidence:  p.Confidence,
		})
	}
	return out
}

// Reset drops everything once a session reaches a terminal state.
func (b *Buffer) Reset() {
	b.chunks = nil
	b.partials = nil
}
