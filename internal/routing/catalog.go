package routing

import (
	"fmt"
	"strings"

	"github.com/ent0n29/langhub/internal/language"
)

// Catalog lists voice ids per language for one provider. The first id is the
// language default.
type Catalog map[language.Code][]string

// ElevenLabs premade voices all speak the multilingual model, so languages
// share a small pool with a distinct default each.
var elevenLabsCatalog = Catalog{
	"en": {"21m00Tcm4TlvDq8ikWAM", "pNInz6obpgDQGcFmaJgB"},
	"es": {"ErXwobaYiN019PkySvjV", "EXAVITQu4vr4xnSDxMaL"},
	"cs": {"pNInz6obpgDQGcFmaJgB", "21m00Tcm4TlvDq8ikWAM"},
	"sk": {"pNInz6obpgDQGcFmaJgB"},
	"de": {"EXAVITQu4vr4xnSDxMaL", "ErXwobaYiN019PkySvjV"},
	"fr": {"EXAVITQu4vr4xnSDxMaL"},
	"pl": {"ErXwobaYiN019PkySvjV"},
	"it": {"21m00Tcm4TlvDq8ikWAM"},
	"pt": {"ErXwobaYiN019PkySvjV"},
}

// DefaultCatalog returns the built-in catalog for provider. Providers without
// one get generated per-language ids from NewTable.
func DefaultCatalog(provider string) Catalog {
	switch provider {
	case "elevenlabs":
		out := make(Catalog, len(elevenLabsCatalog))
		for lang, ids := range elevenLabsCatalog {
			out[lang] = append([]string(nil), ids...)
		}
		return out
	default:
		return Catalog{}
	}
}

// ParseOverrides parses "lang=provider:voice" pairs separated by commas.
func ParseOverrides(raw string) (map[language.Code]Route, error) {
	out := make(map[language.Code]Route)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lang, target, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("route override %q: want lang=provider:voice", part)
		}
		provider, voiceID, ok := strings.Cut(target, ":")
		code := language.Normalize(lang)
		provider = strings.TrimSpace(provider)
		voiceID = strings.TrimSpace(voiceID)
		if !ok || code == "" || provider == "" || voiceID == "" {
			return nil, fmt.Errorf("route override %q: want lang=provider:voice", part)
		}
		out[code] = Route{Provider: provider, VoiceID: voiceID, Language: code}
	}
	return out, nil
}

// Apply swaps in every override. Overrides for unsupported languages fail.
func (t *Table) Apply(overrides map[language.Code]Route) error {
	for lang, r := range overrides {
		if _, err := t.Swap(lang, r); err != nil {
			return err
		}
	}
	return nil
}
