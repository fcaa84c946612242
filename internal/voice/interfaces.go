package voice

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ent0n29/langhub/internal/language"
)

// ErrSynthesis is wrapped by every provider-side synthesis failure.
var ErrSynthesis = errors.New("speech synthesis failed")

type TTSSettings struct {
	Stability       float64
	SimilarityBoost float64
	Speed           float64
}

type SynthesisRequest struct {
	Text     string
	VoiceID  string
	ModelID  string
	Language language.Code
	Settings TTSSettings
}

// Audio is a complete synthesized clip.
type Audio struct {
	Data   []byte
	Format string
}

// Synthesizer turns text into audio for one provider.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, req SynthesisRequest) (Audio, error)
}

// ProviderError describes a failed synthesis call.
type ProviderError struct {
	Provider  string
	Code      string
	Detail    string
	Retryable bool
	Cause     error
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s): %s", e.Provider, ErrSynthesis, e.Code, e.Detail)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, ErrSynthesis, e.Detail)
}

func (e *ProviderError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrSynthesis, e.Cause}
	}
	return []error{ErrSynthesis}
}

// AsProviderError extracts provider failure details from err.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// Providers is a concurrency-safe set of synthesizers keyed by provider name.
type Providers struct {
	mu     sync.RWMutex
	byName map[string]Synthesizer
}

func NewProviders(synths ...Synthesizer) *Providers {
	p := &Providers{byName: make(map[string]Synthesizer, len(synths))}
	for _, s := range synths {
		p.byName[s.Name()] = s
	}
	return p
}

// Register binds name to s, replacing any previous binding.
func (p *Providers) Register(name string, s Synthesizer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byName[name] = s
}

func (p *Providers) Get(name string) (Synthesizer, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.byName[name]
	return s, ok
}

func (p *Providers) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.byName))
	for name := range p.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
