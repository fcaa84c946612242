package detect

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/ent0n29/langhub/internal/language"
)

// evidenceForFullConfidence is how many weighted hits a language needs before
// its share of the evidence is reported unscaled.
const evidenceForFullConfidence = 3.0

// mixedShare is the minimum evidence share for a runner-up language to mark
// an utterance as mixed.
const mixedShare = 0.3

var stopwords = map[language.Code][]string{
	"en": {"the", "and", "is", "are", "you", "i", "to", "of", "in", "it", "what", "how", "hello", "hi", "there",
		"thanks", "thank", "please", "yes", "my", "can", "with", "need", "help", "this", "that", "for", "have",
		"do", "not", "we", "your", "today", "good", "morning", "would", "like", "speak", "english", "account"},
	"es": {"el", "la", "los", "las", "y", "es", "está", "estás", "que", "de", "en", "un", "una", "hola", "gracias",
		"por", "favor", "sí", "mi", "con", "necesito", "ayuda", "cómo", "como", "para", "buenos", "días", "quiero",
		"hablar", "español", "cuenta", "usted", "pero", "muy"},
	"cs": {"a", "je", "jsem", "to", "na", "se", "že", "dobrý", "den", "děkuji", "prosím", "ano", "ne", "můj", "moje",
		"potřebuji", "pomoc", "jak", "se", "máte", "chci", "mluvit", "česky", "účet", "účtem", "ahoj", "vás", "mám"},
	"sk": {"a", "je", "som", "to", "na", "sa", "že", "dobrý", "deň", "ďakujem", "prosím", "áno", "nie", "môj",
		"potrebujem", "pomoc", "ako", "máte", "chcem", "hovoriť", "slovensky", "účet", "ahoj", "vás", "mám"},
	"de": {"der", "die", "das", "und", "ist", "ich", "sie", "nicht", "mit", "ein", "eine", "hallo", "danke", "bitte",
		"ja", "nein", "mein", "brauche", "hilfe", "wie", "guten", "tag", "möchte", "sprechen", "deutsch", "konto"},
	"fr": {"le", "la", "les", "et", "est", "je", "vous", "pas", "avec", "un", "une", "bonjour", "merci", "oui",
		"non", "mon", "besoin", "aide", "comment", "voudrais", "parler", "français", "compte", "pour", "suis"},
	"it": {"il", "lo", "la", "gli", "e", "è", "sono", "non", "con", "un", "una", "ciao", "grazie", "per", "favore",
		"sì", "mio", "bisogno", "aiuto", "come", "buongiorno", "vorrei", "parlare", "italiano", "conto"},
	"pl": {"i", "jest", "nie", "to", "na", "się", "że", "dzień", "dobry", "dziękuję", "proszę", "tak", "mój",
		"potrzebuję", "pomocy", "jak", "chcę", "mówić", "po", "polsku", "konto", "cześć"},
	"pt": {"o", "a", "os", "as", "e", "é", "não", "com", "um", "uma", "olá", "obrigado", "obrigada", "por", "favor",
		"sim", "meu", "preciso", "ajuda", "como", "bom", "dia", "quero", "falar", "português", "conta", "você"},
}

var distinctiveRunes = map[language.Code]string{
	"es": "ñ¿¡",
	"cs": "ěřůčšž",
	"sk": "ľĺŕäô",
	"de": "ßäöü",
	"fr": "çèêëœà",
	"pl": "ąęłńśźż",
	"pt": "ãõç",
	"it": "ìò",
}

// Heuristic is a dependency-free Detector that scores stopword and diacritic
// evidence for each candidate language.
type Heuristic struct {
	candidates  language.Set
	fallback    language.Code
	audioFactor float64
	index       map[string][]language.Code
	now         func() time.Time
}

// NewHeuristic builds a detector restricted to candidates. Audio detections
// derived from transcript hints are scaled by audioFactor.
func NewHeuristic(candidates language.Set, fallback language.Code, audioFactor float64) *Heuristic {
	if audioFactor <= 0 || audioFactor > 1 {
		audioFactor = 0.85
	}
	h := &Heuristic{
		candidates:  candidates,
		fallback:    fallback,
		audioFactor: audioFactor,
		index:       make(map[string][]language.Code),
		now:         time.Now,
	}
	for lang, words := range stopwords {
		if candidates.Len() > 0 && !candidates.Contains(lang) {
			continue
		}
		seen := make(map[string]bool, len(words))
		for _, w := range words {
			if seen[w] {
				continue
			}
			seen[w] = true
			h.index[w] = append(h.index[w], lang)
		}
	}
	return h
}

func (h *Heuristic) DetectText(_ context.Context, text string) (language.Detection, error) {
	return h.detect(text, language.SourceText), nil
}

// DetectAudio relies on an upstream transcript; without one the result is a
// zero-confidence fallback.
func (h *Heuristic) DetectAudio(_ context.Context, _ []byte, transcriptHint string) (language.Detection, error) {
	d := h.detect(transcriptHint, language.SourceAudio)
	d.Confidence = language.ClampConfidence(d.Confidence * h.audioFactor)
	for i := range d.Alternatives {
		d.Alternatives[i].Score = language.ClampConfidence(d.Alternatives[i].Score * h.audioFactor)
	}
	return d, nil
}

func (h *Heuristic) detect(text string, source language.Source) language.Detection {
	out := language.Detection{
		Language:     h.fallback,
		Source:       source,
		Alternatives: []language.Alternative{},
		DetectedAt:   h.now().UTC(),
	}
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return out
	}

	scores := make(map[language.Code]float64)
	tokens := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, tok := range tokens {
		langs := h.index[tok]
		if len(langs) == 0 {
			continue
		}
		// Shared stopwords split their weight.
		w := 1.0 / float64(len(langs))
		for _, l := range langs {
			scores[l] += w
		}
	}
	for lang, runes := range distinctiveRunes {
		if h.candidates.Len() > 0 && !h.candidates.Contains(lang) {
			continue
		}
		for _, r := range text {
			if strings.ContainsRune(runes, r) {
				scores[lang] += 0.5
			}
		}
	}

	total := 0.0
	for _, s := range scores {
		total += s
	}
	if total == 0 {
		return out
	}

	alts := make([]language.Alternative, 0, len(scores))
	for lang, s := range scores {
		coverage := s / evidenceForFullConfidence
		if coverage > 1 {
			coverage = 1
		}
		alts = append(alts, language.Alternative{
			Language: lang,
			Score:    round3(language.ClampConfidence(s / total * coverage)),
		})
	}
	language.SortAlternatives(alts)

	out.Language = alts[0].Language
	out.Confidence = alts[0].Score
	out.Alternatives = alts

	for _, alt := range alts {
		if scores[alt.Language]/total >= mixedShare {
			out.DetectedLanguages = append(out.DetectedLanguages, alt.Language)
		}
	}
	out.MixedLanguages = len(out.DetectedLanguages) > 1
	if !out.MixedLanguages {
		out.DetectedLanguages = nil
	}
	return out
}

func round3(v float64) float64 {
	return float64(int(v*1000+0.5)) / 1000
}
