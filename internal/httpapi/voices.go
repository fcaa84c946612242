package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/langhub/internal/audio"
	"github.com/ent0n29/langhub/internal/language"
	"github.com/ent0n29/langhub/internal/router"
	"github.com/ent0n29/langhub/internal/routing"
	"github.com/ent0n29/langhub/internal/voice"
)

type listVoicesResponse struct {
	Language language.Code   `json:"language"`
	Default  routing.Route   `json:"default"`
	Voices   []routing.Voice `json:"voices"`
}

func (s *Server) handleListVoices(w http.ResponseWriter, r *http.Request) {
	lang := language.Normalize(r.URL.Query().Get("language"))
	if lang == "" {
		respondError(w, http.StatusBadRequest, "invalid_language", "query parameter language is required")
		return
	}
	voices := s.router.ListVoices(lang)
	if voices == nil {
		voices = []routing.Voice{}
	}
	resp := listVoicesResponse{Language: lang, Voices: voices}
	if s.router.Supports(lang) {
		resp.Default, _ = s.router.Route(lang)
	}
	respondJSON(w, http.StatusOK, resp)
}

type swapRouteRequest struct {
	Provider string `json:"provider"`
	VoiceID  string `json:"voiceId"`
}

func (s *Server) handleSwapRoute(w http.ResponseWriter, r *http.Request) {
	var req swapRouteRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	lang := language.Normalize(chi.URLParam(r, "language"))
	route := routing.Route{Provider: strings.TrimSpace(req.Provider), VoiceID: strings.TrimSpace(req.VoiceID)}
	prev, err := s.router.SwapRoute(lang, route)
	switch {
	case errors.Is(err, routing.ErrUnsupportedLanguage):
		respondError(w, http.StatusBadRequest, "invalid_language", err.Error())
		return
	case err != nil:
		respondError(w, http.StatusBadRequest, "invalid_route", err.Error())
		return
	}
	route.Language = lang
	respondJSON(w, http.StatusOK, map[string]any{"previous": prev, "route": route})
}

type speechRequest struct {
	Text     string            `json:"text"`
	VoiceID  string            `json:"voiceId"`
	ModelID  string            `json:"modelId"`
	Settings *speechSettingsIn `json:"settings"`
}

type speechSettingsIn struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarityBoost"`
	Speed           float64 `json:"speed"`
}

// handleSpeech renders text with the session's current route. Raw PCM output
// is wrapped as WAV so browsers can play it.
func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	var req speechRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}
	opts := router.SpeechOptions{VoiceID: strings.TrimSpace(req.VoiceID), ModelID: strings.TrimSpace(req.ModelID)}
	if req.Settings != nil {
		opts.Settings = voice.TTSSettings{
			Stability:       req.Settings.Stability,
			SimilarityBoost: req.Settings.SimilarityBoost,
			Speed:           req.Settings.Speed,
		}
	}

	clip, route, err := s.router.SynthesizeSpeech(r.Context(), chi.URLParam(r, "id"), req.Text, opts)
	if err != nil {
		if _, ok := voice.AsProviderError(err); ok {
			respondError(w, http.StatusBadGateway, "synthesis_failed", err.Error())
			return
		}
		s.respondRouterError(w, err)
		return
	}

	out := clip.Data
	contentType := mimeForTTSFormat(clip.Format)
	if sampleRate, ok := pcmSampleRate(clip.Format); ok {
		wav, err := audio.EncodeWAVPCM16LE(out, sampleRate)
		if err != nil {
			respondError(w, http.StatusBadGateway, "synthesis_failed", err.Error())
			return
		}
		out = wav
		contentType = "audio/wav"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Audio-Format", clip.Format)
	w.Header().Set("X-Voice-Provider", route.Provider)
	w.Header().Set("X-Voice-Id", route.VoiceID)
	w.Header().Set("X-Language", string(route.Language))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func mimeForTTSFormat(format string) string {
	f := strings.ToLower(strings.TrimSpace(format))
	switch {
	case strings.Contains(f, "wav"):
		return "audio/wav"
	case strings.Contains(f, "mp3"):
		return "audio/mpeg"
	case strings.Contains(f, "ogg"):
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}

// pcmSampleRate reports the sample rate of raw "pcm_<rate>" formats. Formats
// already in a WAV container are not raw.
func pcmSampleRate(format string) (int, bool) {
	f := strings.ToLower(strings.TrimSpace(format))
	if strings.Contains(f, "wav") {
		return 0, false
	}
	rest, ok := strings.CutPrefix(f, "pcm_")
	if !ok {
		return 0, false
	}
	sr, err := strconv.Atoi(rest)
	if err != nil || sr <= 0 {
		return 16000, true
	}
	return sr, true
}
