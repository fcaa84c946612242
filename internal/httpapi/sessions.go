package httpapi

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ent0n29/langhub/internal/eventstore"
	"github.com/ent0n29/langhub/internal/language"
	"github.com/ent0n29/langhub/internal/router"
)

type startSessionRequest struct {
	SessionID string        `json:"sessionId"`
	Hint      language.Hint `json:"hint"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	id := strings.TrimSpace(req.SessionID)
	if id == "" {
		id = uuid.NewString()
	}
	sess, err := s.router.StartSession(r.Context(), id, req.Hint)
	if err != nil {
		s.respondRouterError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"sessions": s.router.Sessions()})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	stats, err := s.router.SessionStats(chi.URLParam(r, "id"))
	if err != nil {
		s.respondRouterError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSessionRoute(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	route, active := s.router.SessionRoute(id)
	respondJSON(w, http.StatusOK, map[string]any{
		"sessionId": id,
		"active":    active,
		"route":     route,
	})
}

type detectRequest struct {
	Text           string `json:"text"`
	AudioBuffer    string `json:"audioBuffer"`
	TranscriptHint string `json:"transcriptHint"`
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	id := chi.URLParam(r, "id")

	var (
		d   language.Detection
		err error
	)
	switch {
	case req.AudioBuffer != "":
		audio, decodeErr := base64.StdEncoding.DecodeString(req.AudioBuffer)
		if decodeErr != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", "audioBuffer must be base64")
			return
		}
		d, err = s.router.ProcessAudio(r.Context(), id, audio, req.TranscriptHint)
	case strings.TrimSpace(req.Text) != "":
		d, err = s.router.ProcessText(r.Context(), id, req.Text)
	default:
		respondError(w, http.StatusBadRequest, "invalid_request", "text or audioBuffer is required")
		return
	}
	if err != nil {
		s.respondRouterError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}

type setLanguageRequest struct {
	Language  string `json:"language"`
	Confirmed bool   `json:"confirmed"`
}

// handleSetLanguage is a router-level override: unsupported codes move the
// session to the fallback language.
func (s *Server) handleSetLanguage(w http.ResponseWriter, r *http.Request) {
	var req setLanguageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	lang := language.Normalize(req.Language)
	if lang == "" {
		respondError(w, http.StatusBadRequest, "invalid_language", "language is required")
		return
	}
	sess, err := s.router.SetSessionLanguage(r.Context(), chi.URLParam(r, "id"), lang, req.Confirmed)
	if err != nil {
		s.respondRouterError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.router.EndSession(r.Context(), id); err != nil {
		s.respondRouterError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessionId": id, "status": "ended"})
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "event store not configured")
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	records, err := s.store.SessionEvents(r.Context(), chi.URLParam(r, "id"), limit)
	if errors.Is(err, eventstore.ErrNotFound) {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "event_store_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": records})
}

func (s *Server) respondRouterError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, router.ErrSessionNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, router.ErrUnsupportedLanguage):
		respondError(w, http.StatusBadRequest, "invalid_language", err.Error())
	case errors.Is(err, router.ErrClosed):
		respondError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
	default:
		s.logger.Warnw("router request failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
