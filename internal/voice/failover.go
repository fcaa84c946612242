package voice

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
)

// NewFailoverSynthesizer prefers primary and switches to fallback when a
// primary synthesis fails. Once fallback succeeds, it stays active until
// fallback fails; then primary is retried. The wrapper keeps the primary's
// name so route tables keep resolving to it.
func NewFailoverSynthesizer(primary, fallback Synthesizer, fallbackVoiceID string) Synthesizer {
	return &failoverSynthesizer{
		primary:         primary,
		fallback:        fallback,
		fallbackVoiceID: strings.TrimSpace(fallbackVoiceID),
	}
}

type failoverSynthesizer struct {
	fallbackActive  atomic.Bool
	primary         Synthesizer
	fallback        Synthesizer
	fallbackVoiceID string
}

func (p *failoverSynthesizer) Name() string { return p.primary.Name() }

// FallbackActive reports whether the sticky fallback is currently in use.
func (p *failoverSynthesizer) FallbackActive() bool { return p.fallbackActive.Load() }

func (p *failoverSynthesizer) Synthesize(ctx context.Context, req SynthesisRequest) (Audio, error) {
	if p.fallbackActive.Load() {
		out, fbErr := p.synthesizeFallback(ctx, req)
		if fbErr == nil {
			return out, nil
		}
		// Fallback failed after being active; try primary again.
		out, prErr := p.primary.Synthesize(ctx, req)
		if prErr == nil {
			p.fallbackActive.Store(false)
			return out, nil
		}
		return Audio{}, fmt.Errorf("tts fallback failed: %v; tts primary failed: %w", fbErr, prErr)
	}

	out, prErr := p.primary.Synthesize(ctx, req)
	if prErr == nil {
		return out, nil
	}
	out, fbErr := p.synthesizeFallback(ctx, req)
	if fbErr != nil {
		return Audio{}, fmt.Errorf("tts primary failed: %v; tts fallback failed: %w", prErr, fbErr)
	}
	p.fallbackActive.Store(true)
	return out, nil
}

func (p *failoverSynthesizer) synthesizeFallback(ctx context.Context, req SynthesisRequest) (Audio, error) {
	if p.fallbackVoiceID != "" {
		req.VoiceID = p.fallbackVoiceID
	}
	return p.fallback.Synthesize(ctx, req)
}
