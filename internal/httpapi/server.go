package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/langhub/internal/config"
	"github.com/ent0n29/langhub/internal/eventstore"
	"github.com/ent0n29/langhub/internal/hub"
	"github.com/ent0n29/langhub/internal/observability"
	"github.com/ent0n29/langhub/internal/router"
)

type Server struct {
	cfg      config.Config
	router   *router.Router
	hub      *hub.Hub
	store    eventstore.Store
	metrics  *observability.Metrics
	logger   *zap.SugaredLogger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, r *router.Router, h *hub.Hub, store eventstore.Store, metrics *observability.Metrics, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Server{
		cfg:     cfg,
		router:  r,
		hub:     h,
		store:   store,
		metrics: metrics,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browsers may only attach from the same origin unless
				// APP_ALLOW_ANY_ORIGIN is set.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/perf/latency", s.handlePerfLatency)
		r.Get("/ws", s.handleWS)

		r.Get("/sessions", s.handleListSessions)
		r.Post("/sessions", s.handleStartSession)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Get("/sessions/{id}/route", s.handleSessionRoute)
		r.Post("/sessions/{id}/detect", s.handleDetect)
		r.Put("/sessions/{id}/language", s.handleSetLanguage)
		r.Post("/sessions/{id}/speech", s.handleSpeech)
		r.Post("/sessions/{id}/end", s.handleEndSession)
		r.Get("/sessions/{id}/events", s.handleSessionEvents)

		r.Get("/voices", s.handleListVoices)
		r.Put("/routes/{language}", s.handleSwapRoute)
	})
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	h := s.router.Health()
	if h.Status != "ok" {
		respondError(w, http.StatusServiceUnavailable, "not_ready", "router is "+h.Status)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":           "ready",
		"event_store_mode": s.eventStoreMode(),
	})
}

type healthResponse struct {
	Router         router.Health `json:"router"`
	Hub            hub.Status    `json:"hub"`
	EventStoreMode string        `json:"eventStoreMode"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, healthResponse{
		Router:         s.router.Health(),
		Hub:            s.hub.Status(),
		EventStoreMode: s.eventStoreMode(),
	})
}

func (s *Server) eventStoreMode() string {
	switch s.store.(type) {
	case nil:
		return "disabled"
	case *eventstore.PostgresStore:
		return "postgres"
	default:
		return "in-memory"
	}
}

// handleWS attaches a websocket client to a session. The hub owns all writes;
// this goroutine only reads.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	clientID := strings.TrimSpace(r.URL.Query().Get("client_id"))
	if clientID != "" {
		if _, exists := s.hub.Client(clientID); exists {
			respondError(w, http.StatusConflict, "client_exists", "client_id is already attached")
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	metadata := map[string]string{
		"remote_addr": r.RemoteAddr,
		"user_agent":  r.UserAgent(),
	}
	client, err := s.hub.AddClient(conn, sessionID, clientID, metadata)
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	defer s.hub.RemoveClient(client)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadLimit(2 << 20)
	conn.SetPongHandler(func(string) error {
		client.Touch()
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			client.Touch()
			continue
		}
		s.hub.HandleMessage(ctx, client, data)
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
