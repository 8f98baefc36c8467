// Package transcribe turns single audio chunks into text. Real engines and
// the deterministic simulator share the Adapter interface.
package transcribe

import (
	"context"
	"errors"
	"time"
)

// Audio formats a chunk may carry. Browsers record webm/opus; extracted video
// audio is 16 kHz mono WAV.
const (
	FormatWebM = "webm"
	FormatWAV  = "wav"
)

var (
	// ErrEmptyAudio is returned for chunks without payload.
	ErrEmptyAudio = errors.New("empty audio chunk")
	// ErrNoSpeech is returned when an engine answered but recognized nothing.
	ErrNoSpeech = errors.New("no speech recognized")
)

// Chunk is one slice of captured audio.
type Chunk struct {
	Data       []byte
	Timestamp  int64 // capture time declared by the client, unix ms
	Size       int
	Format     string
	ReceivedAt time.Time
}

// Result is the recognized text for one chunk with a confidence in [0, 1].
type Result struct {
	Text       string
	Confidence float64
}

type Adapter interface {
	Transcribe(ctx context.Context, chunk Chunk) (Result, error)
	Name() string
}

func clampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}
