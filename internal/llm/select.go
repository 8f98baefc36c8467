package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrNoModel is returned by a Selector when no candidate could be used.
var ErrNoModel = errors.New("no usable model")

const probeTimeout = 15 * time.Second

// KeyFunc returns the API key for a provider name, or "" when unset.
type KeyFunc func(provider string) string

type factoryFunc func(provider, apiKey, model string, opts ...Option) (Client, error)

// Selector resolves an ordered list of "provider/model" candidates to one
// working client. Resolution happens on first use and is memoized, including
// a failed resolution, so callers on the hot path never re-probe.
//
// Selector itself satisfies Client by delegating to the resolved client.
type Selector struct {
	candidates []string
	keys       KeyFunc
	opts       []Option

	factory factoryFunc
	probe   func(ctx context.Context, c Client) error

	once   sync.Once
	client Client
	err    error
	model  atomic.Value
}

func NewSelector(candidates []string, keys KeyFunc, opts ...Option) *Selector {
	return &Selector{
		candidates: append([]string(nil), candidates...),
		keys:       keys,
		opts:       opts,
		factory:    NewClient,
		probe:      pingModel,
	}
}

// Resolve returns the memoized client, running candidate selection the first
// time it is called. The probe ignores cancellation of ctx so that one
// abandoned caller cannot poison the memoized result.
func (s *Selector) Resolve(ctx context.Context) (Client, error) {
	s.once.Do(func() {
		s.client, s.err = s.selectModel(context.WithoutCancel(ctx))
		if s.client != nil {
			s.model.Store(s.client.Model())
		}
	})
	return s.client, s.err
}

func (s *Selector) selectModel(ctx context.Context) (Client, error) {
	logger := log.With().Str("component", "llm").Logger()

	var tried int
	for _, candidate := range s.candidates {
		provider, model, err := ParseModel(candidate)
		if err != nil {
			logger.Warn().Err(err).Msg("Skipping model candidate")
			continue
		}
		key := ""
		if s.keys != nil {
			key = s.keys(provider)
		}
		if key == "" {
			logger.Debug().Str("model", candidate).Msg("No API key for model candidate")
			continue
		}

		tried++
		client, err := s.factory(provider, key, model, s.opts...)
		if err != nil {
			logger.Warn().Err(err).Str("model", candidate).Msg("Model candidate unavailable")
			continue
		}

		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err = s.probe(probeCtx, client)
		cancel()
		if err != nil {
			logger.Warn().Err(err).Str("model", candidate).Msg("Model candidate failed probe")
			continue
		}

		logger.Info().Str("model", candidate).Msg("Selected model")
		return client, nil
	}

	if tried == 0 {
		return nil, fmt.Errorf("%w: no candidate has an API key", ErrNoModel)
	}
	return nil, fmt.Errorf("%w: all %d candidates failed", ErrNoModel, tried)
}

// Model reports the resolved model, or "" before resolution or after a
// failed one. It never blocks on an in-flight resolution.
func (s *Selector) Model() string {
	if v, ok := s.model.Load().(string); ok {
		return v
	}
	return ""
}

func (s *Selector) Complete(ctx context.Context, messages []Message) (string, error) {
	c, err := s.Resolve(ctx)
	if err != nil {
		return "", err
	}
	return c.Complete(ctx, messages)
}

func pingModel(ctx context.Context, c Client) error {
	_, err := c.Complete(ctx, []Message{User("Reply with the single word OK.")})
	return err
}
