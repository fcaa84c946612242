// Package detect is the boundary to the language Detection Engine.
package detect

import (
	"context"

	"github.com/ent0n29/langhub/internal/language"
)

// Detector guesses the language of text or audio. Implementations must not
// fail on well-formed input: empty or garbage input yields a low-confidence
// result instead of an error.
type Detector interface {
	DetectText(ctx context.Context, text string) (language.Detection, error)
	DetectAudio(ctx context.Context, audio []byte, transcriptHint string) (language.Detection, error)
}

// StubDetector delegates to caller-supplied funcs. A nil func yields a zero
// confidence result for the fallback language.
type StubDetector struct {
	Fallback  language.Code
	TextFunc  func(ctx context.Context, text string) (language.Detection, error)
	AudioFunc func(ctx context.Context, audio []byte, transcriptHint string) (language.Detection, error)
}

func (s *StubDetector) DetectText(ctx context.Context, text string) (language.Detection, error) {
	if s.TextFunc == nil {
		return lowConfidence(s.Fallback, language.SourceText), nil
	}
	return s.TextFunc(ctx, text)
}

func (s *StubDetector) DetectAudio(ctx context.Context, audio []byte, transcriptHint string) (language.Detection, error) {
	if s.AudioFunc == nil {
		return lowConfidence(s.Fallback, language.SourceAudio), nil
	}
	return s.AudioFunc(ctx, audio, transcriptHint)
}

// Fixed returns a detection for lang with the given confidence and a single
// alternative entry.
func Fixed(lang language.Code, confidence float64, source language.Source) language.Detection {
	return language.Detection{
		Language:     lang,
		Confidence:   confidence,
		Source:       source,
		Alternatives: []language.Alternative{{Language: lang, Score: confidence}},
	}
}

func lowConfidence(fallback language.Code, source language.Source) language.Detection {
	return language.Detection{
		Language:     fallback,
		Confidence:   0,
		Source:       source,
		Alternatives: []language.Alternative{},
	}
}
