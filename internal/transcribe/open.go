package transcribe

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/sjawhar/meetscribe/internal/config"
)

// Open builds the adapter selected by cfg, wrapped with the configured
// latency ceiling. The simulator is used when the selected engine has no
// credentials or cannot be created.
func Open(ctx context.Context, cfg config.Config) Adapter {
	timeout := cfg.ParsedTranscriptionTimeout()
	tc := cfg.Transcription

	var adapter Adapter
	switch cfg.EffectiveTranscriptionProvider() {
	case config.ProviderDeepgram:
		adapter = NewDeepgram(cfg.DeepgramAPIKey, tc.Model, tc.Language)
	case config.ProviderOpenAI:
		adapter = NewWhisper(cfg.OpenAIAPIKey, tc.Model, tc.Language, "")
	case config.ProviderGoogle:
		g, err := NewGoogle(ctx, tc.Model, tc.Language)
		if err != nil {
			log.Warn().Err(err).Msg("Google speech unavailable, using transcription simulator")
			break
		}
		adapter = g
	}

	if adapter == nil {
		adapter = NewSimulator()
	}
	log.Info().Str("adapter", adapter.Name()).Dur("timeout", timeout).Msg("Transcription adapter ready")
	return WithTimeout(adapter, timeout)
}
