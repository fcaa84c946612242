package app

import (
	"fmt"
	"strings"

	"github.com/ent0n29/langhub/internal/config"
	"github.com/ent0n29/langhub/internal/voice"
)

type voiceSetup struct {
	providers        *voice.Providers
	resolvedProvider string
	detail           string
}

// resolveVoiceProviders picks the provider new routes use. The mock provider
// is always registered so route overrides can target it.
func resolveVoiceProviders(cfg config.Config) (voiceSetup, error) {
	voiceMode := strings.ToLower(strings.TrimSpace(cfg.VoiceProvider))
	if voiceMode == "" {
		voiceMode = "auto"
	}
	mock := voice.NewMockProvider()

	newElevenLabs := func() (*voice.ElevenLabsProvider, bool) {
		if strings.TrimSpace(cfg.ElevenLabsAPIKey) == "" {
			return nil, false
		}
		return voice.NewElevenLabsProvider(voice.ElevenLabsConfig{
			APIKey:              cfg.ElevenLabsAPIKey,
			WSBaseURL:           cfg.ElevenLabsWSBaseURL,
			ModelID:             cfg.ElevenLabsTTSModel,
			DefaultOutputFormat: cfg.ElevenLabsTTSOutputFormat,
		}), true
	}

	switch voiceMode {
	case "elevenlabs":
		p, ok := newElevenLabs()
		if !ok {
			return voiceSetup{}, fmt.Errorf("VOICE_PROVIDER=elevenlabs but ELEVENLABS_API_KEY is not set")
		}
		return voiceSetup{
			providers:        voice.NewProviders(p, mock),
			resolvedProvider: voice.ElevenLabsProviderName,
			detail:           "elevenlabs stream",
		}, nil
	case "mock":
		return voiceSetup{
			providers:        voice.NewProviders(mock),
			resolvedProvider: voice.MockProviderName,
			detail:           "mock",
		}, nil
	case "auto":
		p, ok := newElevenLabs()
		if !ok {
			return voiceSetup{
				providers:        voice.NewProviders(mock),
				resolvedProvider: voice.MockProviderName,
				detail:           "mock (no elevenlabs key)",
			}, nil
		}
		// Registered under the primary's name, so elevenlabs routes fail
		// over to mock clips transparently.
		failover := voice.NewFailoverSynthesizer(p, mock, "")
		return voiceSetup{
			providers:        voice.NewProviders(failover, mock),
			resolvedProvider: voice.ElevenLabsProviderName,
			detail:           "elevenlabs stream (automatic mock fallback)",
		}, nil
	default:
		return voiceSetup{}, fmt.Errorf("invalid VOICE_PROVIDER: %q (expected auto|elevenlabs|mock)", cfg.VoiceProvider)
	}
}
