package router

import (
	"errors"
	"time"

	"github.com/ent0n29/langhub/internal/language"
	"github.com/ent0n29/langhub/internal/routing"
	"github.com/ent0n29/langhub/internal/session"
)

// Session returns a copy of the session state.
func (r *Router) Session(sessionID string) (*session.LanguageSession, error) {
	s, err := r.sessions.Get(sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	return s, err
}

func (r *Router) Sessions() []*session.LanguageSession {
	return r.sessions.List()
}

type Stats struct {
	Session           *session.LanguageSession `json:"session"`
	DurationMS        int64                    `json:"durationMs"`
	AverageConfidence float64                  `json:"averageConfidence"`
	LanguagesSeen     []language.Code          `json:"languagesSeen"`
}

// SessionStats summarizes a session, including its retained detection history.
func (r *Router) SessionStats(sessionID string) (Stats, error) {
	s, err := r.Session(sessionID)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{
		Session:       s,
		DurationMS:    time.Since(s.StartedAt).Milliseconds(),
		LanguagesSeen: []language.Code{},
	}
	seen := make(map[language.Code]bool)
	sum := 0.0
	for _, d := range s.History {
		sum += d.Confidence
		if !seen[d.Language] {
			seen[d.Language] = true
			st.LanguagesSeen = append(st.LanguagesSeen, d.Language)
		}
	}
	if n := len(s.History); n > 0 {
		st.AverageConfidence = sum / float64(n)
	}
	return st, nil
}

// SessionRoute returns the session's current route, or the fallback route for
// unknown sessions. ok reports whether the session exists.
func (r *Router) SessionRoute(sessionID string) (routing.Route, bool) {
	s, err := r.sessions.Get(sessionID)
	if err != nil {
		_, route := r.routes.Fallback()
		return route, false
	}
	return s.Route, true
}

type Health struct {
	Status              string                `json:"status"`
	ActiveSessions      int                   `json:"activeSessions"`
	LanguageCounts      map[language.Code]int `json:"languageCounts"`
	SupportedLanguages  []language.Code       `json:"supportedLanguages"`
	FallbackLanguage    language.Code         `json:"fallbackLanguage"`
	ConfidenceThreshold float64               `json:"confidenceThreshold"`
	Providers           []string              `json:"providers"`
	UptimeSeconds       int64                 `json:"uptimeSeconds"`
}

func (r *Router) Health() Health {
	fallback, _ := r.routes.Fallback()
	status := "ok"
	r.mu.Lock()
	if r.closed {
		status = "closed"
	}
	r.mu.Unlock()
	return Health{
		Status:              status,
		ActiveSessions:      r.sessions.ActiveCount(),
		LanguageCounts:      r.sessions.LanguageCounts(),
		SupportedLanguages:  r.routes.Supported().List(),
		FallbackLanguage:    fallback,
		ConfidenceThreshold: r.cfg.ConfidenceThreshold,
		Providers:           r.providers.Names(),
		UptimeSeconds:       int64(time.Since(r.startedAt).Seconds()),
	}
}

func (r *Router) ListVoices(lang language.Code) []routing.Voice {
	return r.routes.ListVoices(language.Normalize(string(lang)))
}

func (r *Router) Supports(lang language.Code) bool {
	return r.routes.Supports(language.Normalize(string(lang)))
}

// SwapRoute replaces the default route of lang for future switches.
func (r *Router) SwapRoute(lang language.Code, route routing.Route) (routing.Route, error) {
	lang = language.Normalize(string(lang))
	prev, err := r.routes.Swap(lang, route)
	if err != nil {
		return routing.Route{}, err
	}
	r.logger.Infow("route swapped", "language", lang, "provider", route.Provider, "voice_id", route.VoiceID, "previous_voice_id", prev.VoiceID)
	return prev, nil
}

// Route resolves the default route for lang. ok is false when lang is
// unsupported and the fallback route was returned instead.
func (r *Router) Route(lang language.Code) (routing.Route, bool) {
	return r.routes.Resolve(language.Normalize(string(lang)))
}
