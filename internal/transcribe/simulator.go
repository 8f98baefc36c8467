package transcribe

import (
	"context"
	"sync"
)

// SimulatedPhrases is the fixed rotation used by the Simulator.
var SimulatedPhrases = []string{
	"Okay, let's get started with today's agenda.",
	"The first item is the quarterly roadmap review.",
	"We agreed to move the launch to the second week of the month.",
	"Can everyone see the shared document on their screen?",
	"I think the main risk is the integration testing timeline.",
	"Sarah needs to follow up with the design team by Friday.",
	"Let's capture that as an action item for next week.",
	"Does anyone have questions before we move on?",
}

const (
	minSimulatedConfidence = 0.85
	maxSimulatedConfidence = 0.99
)

// Simulator is an explicit test double used when no speech engine is
// configured. Phrases rotate through SimulatedPhrases in call order. The
// confidence mixes the call counter with the chunk size and arrival time, so
// a given call sequence always yields the same output.
type Simulator struct {
	mu      sync.Mutex
	counter uint64
}

func NewSimulator() *Simulator {
	return &Simulator{}
}

func (s *Simulator) Name() string { return "simulator" }

func (s *Simulator) Transcribe(ctx context.Context, chunk Chunk) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if len(chunk.Data) == 0 {
		return Result{}, ErrEmptyAudio
	}

	s.mu.Lock()
	n := s.counter
	s.counter++
	s.mu.Unlock()

	size := uint64(chunk.Size)
	if size == 0 {
		size = uint64(len(chunk.Data))
	}
	var arrival uint64
	if !chunk.ReceivedAt.IsZero() {
		arrival = uint64(chunk.ReceivedAt.UnixMilli())
	}

	phrase := SimulatedPhrases[n%uint64(len(SimulatedPhrases))]

	// splitmix-style mixing keeps neighbouring inputs apart.
	seed := n*0x9E3779B97F4A7C15 ^ size*0xBF58476D1CE4E5B9 ^ arrival*0x94D049BB133111EB
	seed ^= seed >> 31
	spread := float64(seed%1000) / 999
	confidence := minSimulatedConfidence + spread*(maxSimulatedConfidence-minSimulatedConfidence)

	return Result{Text: phrase, Confidence: clampConfidence(confidence)}, nil
}
