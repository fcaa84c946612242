package routing

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ent0n29/langhub/internal/language"
)

var ErrUnsupportedLanguage = errors.New("unsupported language")

// Route is the provider and voice used to synthesize one language. Routes are
// values; switching replaces the whole Route.
type Route struct {
	Provider string        `json:"provider"`
	VoiceID  string        `json:"voiceId"`
	Language language.Code `json:"language"`
}

func (r Route) IsZero() bool { return r.Provider == "" && r.VoiceID == "" }

// Voice is one selectable voice for a language.
type Voice struct {
	ID       string        `json:"voiceId"`
	Provider string        `json:"provider"`
	Language language.Code `json:"language"`
}

// Table maps supported languages to their default Route. Lookups are safe for
// concurrent use with Swap.
type Table struct {
	mu        sync.RWMutex
	supported language.Set
	fallback  language.Code
	routes    map[language.Code]Route
	voices    map[language.Code][]Voice
}

// NewTable builds a table from a voice catalog. The first catalog voice of each
// language becomes its default route; languages with no catalog entry get a
// generated voice id on provider. fallback must be in supported.
func NewTable(supported language.Set, fallback language.Code, provider string, catalog Catalog) (*Table, error) {
	if !supported.Contains(fallback) {
		return nil, fmt.Errorf("routing: fallback language %q: %w", fallback, ErrUnsupportedLanguage)
	}
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return nil, errors.New("routing: provider is required")
	}
	t := &Table{
		supported: supported,
		fallback:  fallback,
		routes:    make(map[language.Code]Route, supported.Len()),
		voices:    make(map[language.Code][]Voice, supported.Len()),
	}
	for _, lang := range supported.List() {
		ids := catalog[lang]
		if len(ids) == 0 {
			ids = []string{defaultVoiceID(provider, lang)}
		}
		for _, id := range ids {
			t.addVoiceLocked(Voice{ID: id, Provider: provider, Language: lang})
		}
		t.routes[lang] = Route{Provider: provider, VoiceID: ids[0], Language: lang}
	}
	return t, nil
}

func defaultVoiceID(provider string, lang language.Code) string {
	return string(lang) + "_" + provider
}

// Resolve returns the default route of lang, or the fallback language's route
// when lang is not supported. ok is false in the latter case.
func (t *Table) Resolve(lang language.Code) (Route, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if r, found := t.routes[lang]; found {
		return r, true
	}
	return t.routes[t.fallback], false
}

// Fallback returns the fallback language and its route.
func (t *Table) Fallback() (language.Code, Route) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.fallback, t.routes[t.fallback]
}

func (t *Table) Supported() language.Set { return t.supported }

func (t *Table) Supports(lang language.Code) bool { return t.supported.Contains(lang) }

// ListVoices returns the registered voices for lang. Unknown or unsupported
// languages yield an empty list.
func (t *Table) ListVoices(lang language.Code) []Voice {
	t.mu.RLock()
	defer t.mu.RUnlock()
	voices := t.voices[lang]
	out := make([]Voice, len(voices))
	copy(out, voices)
	return out
}

// HasVoice reports whether voiceID is registered for lang.
func (t *Table) HasVoice(lang language.Code, voiceID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, v := range t.voices[lang] {
		if v.ID == voiceID {
			return true
		}
	}
	return false
}

// Swap replaces the default route of a supported language and registers its
// voice. Sessions already on lang keep their old route until their next switch.
func (t *Table) Swap(lang language.Code, route Route) (Route, error) {
	if !t.supported.Contains(lang) {
		return Route{}, fmt.Errorf("routing: swap %q: %w", lang, ErrUnsupportedLanguage)
	}
	route.Provider = strings.TrimSpace(route.Provider)
	route.VoiceID = strings.TrimSpace(route.VoiceID)
	if route.Provider == "" || route.VoiceID == "" {
		return Route{}, errors.New("routing: provider and voice id are required")
	}
	route.Language = lang

	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.routes[lang]
	t.routes[lang] = route
	t.addVoiceLocked(Voice{ID: route.VoiceID, Provider: route.Provider, Language: lang})
	return prev, nil
}

// Routes returns a snapshot of every default route ordered by language.
func (t *Table) Routes() []Route {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Route, 0, len(t.routes))
	for _, r := range t.routes {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Language < out[j].Language })
	return out
}

func (t *Table) addVoiceLocked(v Voice) {
	for _, existing := range t.voices[v.Language] {
		if existing.ID == v.ID && existing.Provider == v.Provider {
			return
		}
	}
	t.voices[v.Language] = append(t.voices[v.Language], v)
}
