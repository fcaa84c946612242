package hub

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ent0n29/langhub/internal/events"
	"github.com/ent0n29/langhub/internal/language"
	"github.com/ent0n29/langhub/internal/observability"
	"github.com/ent0n29/langhub/internal/protocol"
	"github.com/ent0n29/langhub/internal/router"
	"github.com/ent0n29/langhub/internal/routing"
	"github.com/ent0n29/langhub/internal/session"
	"github.com/ent0n29/langhub/internal/voice"
)

var (
	ErrClientExists = errors.New("client already attached")
	ErrClosed       = errors.New("hub closed")
)

// Router is the part of the session router the hub drives.
type Router interface {
	Session(sessionID string) (*session.LanguageSession, error)
	SessionRoute(sessionID string) (routing.Route, bool)
	Health() router.Health
	Supports(lang language.Code) bool
	ListVoices(lang language.Code) []routing.Voice
	SetSessionLanguage(ctx context.Context, sessionID string, lang language.Code, confirmed bool) (*session.LanguageSession, error)
	ProcessText(ctx context.Context, sessionID, text string) (language.Detection, error)
	ProcessAudio(ctx context.Context, sessionID string, audio []byte, transcriptHint string) (language.Detection, error)
	PreviewVoice(ctx context.Context, sessionID string, lang language.Code, voiceID, text string) (voice.Audio, routing.Route, error)
	EndSession(ctx context.Context, sessionID string) error
}

type Config struct {
	HeartbeatInterval time.Duration
	ClientTimeout     time.Duration
	SendBuffer        int
	WriteTimeout      time.Duration
	// EndIdleSessions ends a session once heartbeat eviction leaves it with
	// no attached clients.
	EndIdleSessions bool
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.ClientTimeout <= 0 {
		c.ClientTimeout = 2 * c.HeartbeatInterval
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	return c
}

// Hub tracks attached clients and fans domain events out to them.
type Hub struct {
	cfg     Config
	router  Router
	metrics *observability.Metrics
	logger  *zap.SugaredLogger

	mu        sync.RWMutex
	clients   map[string]*Client
	bySession map[string]map[string]*Client
	closed    bool
	writers   sync.WaitGroup
}

func New(cfg Config, r Router, metrics *observability.Metrics, logger *zap.SugaredLogger) *Hub {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Hub{
		cfg:       cfg.withDefaults(),
		router:    r,
		metrics:   metrics,
		logger:    logger,
		clients:   make(map[string]*Client),
		bySession: make(map[string]map[string]*Client),
	}
}

// Status is the hub half of a language_status payload.
type Status struct {
	ConnectedClients    int   `json:"connectedClients"`
	AttachedSessions    int   `json:"attachedSessions"`
	HeartbeatIntervalMS int64 `json:"heartbeatIntervalMs"`
	ClientTimeoutMS     int64 `json:"clientTimeoutMs"`
}

// LanguageStatus is the welcome frame payload sent on attach.
type LanguageStatus struct {
	ClientID string                   `json:"clientId"`
	Session  *session.LanguageSession `json:"session"`
	Route    routing.Route            `json:"route"`
	Health   router.Health            `json:"health"`
	Hub      Status                   `json:"hub"`
}

type languageSetPayload struct {
	Session *session.LanguageSession `json:"session"`
}

type availableVoicesPayload struct {
	Language language.Code   `json:"language"`
	Voices   []routing.Voice `json:"voices"`
}

// AddClient attaches socket to sessionID. The session does not have to exist
// yet. The welcome language_status frame is queued before the client becomes
// visible to broadcasts, so it is always the first frame written.
//
// The session snapshot is read while h.mu is held. Broadcast picks its targets
// under the same lock, and the router mutates a session before publishing, so
// every event is either reflected in the snapshot or delivered after it.
func (h *Hub) AddClient(socket Socket, sessionID, clientID string, metadata map[string]string) (*Client, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		clientID = uuid.NewString()
	}

	c := newClient(clientID, sessionID, socket, metadata, h.cfg.SendBuffer, time.Now())

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	if _, ok := h.clients[clientID]; ok {
		h.mu.Unlock()
		return nil, ErrClientExists
	}
	sess, _ := h.router.Session(sessionID)
	route, _ := h.router.SessionRoute(sessionID)
	welcome := LanguageStatus{
		ClientID: clientID,
		Session:  sess,
		Route:    route,
		Health:   h.router.Health(),
		Hub:      h.statusLocked(),
	}
	welcome.Hub.ConnectedClients++
	if _, ok := h.bySession[sessionID]; !ok {
		welcome.Hub.AttachedSessions++
	}
	h.enqueueFrame(c, protocol.NewFrame(protocol.EventLanguageStatus, welcome))

	h.clients[clientID] = c
	peers, ok := h.bySession[sessionID]
	if !ok {
		peers = make(map[string]*Client)
		h.bySession[sessionID] = peers
	}
	peers[clientID] = c
	total := len(h.clients)
	h.writers.Add(1)
	h.mu.Unlock()

	go func() {
		defer h.writers.Done()
		c.writeLoop(h.cfg.WriteTimeout, func(err error) {
			h.logger.Debugw("client write failed", "client_id", c.ID, "session_id", c.SessionID, "error", err)
			h.RemoveClient(c)
		})
	}()

	h.metrics.SetConnectedClients(total)
	h.logger.Infow("client connected", "client_id", clientID, "session_id", sessionID, "clients", total)
	return c, nil
}

// RemoveClient detaches c. It reports how many clients remain on c's session.
// Removing a client twice is a no-op.
func (h *Hub) RemoveClient(c *Client) int {
	remaining, removed := h.detach(c)
	if !removed {
		return remaining
	}
	h.logger.Infow("client disconnected", "client_id", c.ID, "session_id", c.SessionID, "session_clients", remaining)
	return remaining
}

func (h *Hub) detach(c *Client) (int, bool) {
	if c == nil {
		return 0, false
	}
	h.mu.Lock()
	cur, ok := h.clients[c.ID]
	if !ok || cur != c {
		remaining := len(h.bySession[c.SessionID])
		h.mu.Unlock()
		return remaining, false
	}
	delete(h.clients, c.ID)
	peers := h.bySession[c.SessionID]
	delete(peers, c.ID)
	remaining := len(peers)
	if remaining == 0 {
		delete(h.bySession, c.SessionID)
	}
	total := len(h.clients)
	h.mu.Unlock()

	c.close()
	h.metrics.SetConnectedClients(total)
	return remaining, true
}

func (h *Hub) Client(clientID string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[clientID]
	return c, ok
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) SessionClientCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.bySession[sessionID])
}

func (h *Hub) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.statusLocked()
}

func (h *Hub) statusLocked() Status {
	return Status{
		ConnectedClients:    len(h.clients),
		AttachedSessions:    len(h.bySession),
		HeartbeatIntervalMS: h.cfg.HeartbeatInterval.Milliseconds(),
		ClientTimeoutMS:     h.cfg.ClientTimeout.Milliseconds(),
	}
}

// Broadcast delivers e to every client on its session that subscribed to its
// kind. The originating client always receives its own language_detected.
func (h *Hub) Broadcast(e events.Event) int {
	start := time.Now()
	payload, err := json.Marshal(protocol.EventFrame(e))
	if err != nil {
		h.logger.Errorw("event encode failed", "kind", e.Kind(), "session_id", e.Session(), "error", err)
		return 0
	}
	kind := e.Kind()
	origin := e.Origin()

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.bySession[e.Session()]))
	for _, c := range h.bySession[e.Session()] {
		if c.wants(kind) || (kind == events.KindLanguageDetected && origin != "" && c.ID == origin) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if h.enqueue(c, payload) {
			delivered++
		}
	}
	h.metrics.ObserveFanout(time.Since(start))
	return delivered
}

// Run broadcasts every event from sub until ctx ends or sub closes.
func (h *Hub) Run(ctx context.Context, sub *events.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C():
			if !ok {
				return
			}
			h.Broadcast(e)
		}
	}
}

// HandleMessage processes one inbound frame from c. Every inbound frame counts
// as client activity.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, raw []byte) {
	c.Touch()
	msg, err := protocol.ParseClientMessage(raw)
	if err != nil {
		requestType := protocol.MessageTypeOf(raw)
		h.metrics.ObserveWSMessage("in", requestType)
		var de *protocol.DecodeError
		if errors.As(err, &de) {
			h.reply(c, protocol.ErrorFrame(de.Code, de.Message, de.Param, requestType))
			return
		}
		h.reply(c, protocol.ErrorFrame(protocol.CodeInvalidMessage, protocol.MessageInvalidFormat, "", requestType))
		return
	}
	h.metrics.ObserveWSMessage("in", protocol.MessageTypeOf(raw))
	ctx = events.WithOrigin(ctx, c.ID)

	switch m := msg.(type) {
	case protocol.Subscribe:
		subs, added := c.subscribe(m.Events)
		h.reply(c, protocol.NewFrame(protocol.EventSubscribed, protocol.SubscriptionState{Subscriptions: subs, Changed: added}))
	case protocol.Unsubscribe:
		subs, removed := c.unsubscribe(m.Events)
		h.reply(c, protocol.NewFrame(protocol.EventUnsubscribed, protocol.SubscriptionState{Subscriptions: subs, Changed: removed}))
	case protocol.SetLanguage:
		h.handleSetLanguage(ctx, c, m)
	case protocol.DetectLanguage:
		h.handleDetect(ctx, c, m)
	case protocol.TestVoice:
		h.handleTestVoice(ctx, c, m)
	case protocol.GetAvailableVoices:
		lang := language.Normalize(m.Language)
		voices := h.router.ListVoices(lang)
		if voices == nil {
			voices = []routing.Voice{}
		}
		h.reply(c, protocol.NewFrame(protocol.EventAvailableVoices, availableVoicesPayload{Language: lang, Voices: voices}))
	case protocol.Ping:
		h.reply(c, protocol.NewFrame(protocol.EventPong, protocol.PongPayload{Timestamp: time.Now().UTC()}))
	}
}

func (h *Hub) handleSetLanguage(ctx context.Context, c *Client, m protocol.SetLanguage) {
	requestType := string(protocol.TypeSetLanguage)
	lang := language.Normalize(m.Language)
	if lang == "" || !h.router.Supports(lang) {
		h.reply(c, protocol.ErrorFrame(protocol.CodeInvalidLanguage, protocol.MessageInvalidLang, "language", requestType))
		return
	}
	s, err := h.router.SetSessionLanguage(ctx, c.SessionID, lang, m.Confirmed)
	if err != nil {
		h.replyRouterError(c, err, protocol.CodeInvalidMessage, requestType)
		return
	}
	h.reply(c, protocol.NewFrame(protocol.EventLanguageSet, languageSetPayload{Session: s}))
}

// handleDetect has no direct reply on success: the resulting language_detected
// event reaches the requester through Broadcast.
func (h *Hub) handleDetect(ctx context.Context, c *Client, m protocol.DetectLanguage) {
	requestType := string(protocol.TypeDetectLanguage)
	var err error
	if len(m.Audio) > 0 {
		_, err = h.router.ProcessAudio(ctx, c.SessionID, m.Audio, m.TranscriptHint)
	} else {
		_, err = h.router.ProcessText(ctx, c.SessionID, m.Text)
	}
	if err != nil {
		h.replyRouterError(c, err, protocol.CodeDetectionFailed, requestType)
	}
}

func (h *Hub) handleTestVoice(ctx context.Context, c *Client, m protocol.TestVoice) {
	requestType := string(protocol.TypeTestVoice)
	lang := language.Normalize(m.Language)
	if lang == "" || !h.router.Supports(lang) {
		h.reply(c, protocol.ErrorFrame(protocol.CodeInvalidLanguage, protocol.MessageInvalidLang, "language", requestType))
		return
	}
	clip, route, err := h.router.PreviewVoice(ctx, c.SessionID, lang, m.VoiceID, m.Text)
	if err != nil {
		h.logger.Warnw("voice test failed", "client_id", c.ID, "language", lang, "voice_id", m.VoiceID, "error", err)
		h.reply(c, protocol.ErrorFrame(protocol.CodeSynthesisFailed, err.Error(), "", requestType))
		return
	}
	h.reply(c, protocol.NewFrame(protocol.EventVoiceTestResult, protocol.VoiceTestResult{
		Language: string(lang),
		VoiceID:  route.VoiceID,
		Provider: route.Provider,
		Format:   clip.Format,
		Audio:    base64.StdEncoding.EncodeToString(clip.Data),
	}))
}

func (h *Hub) replyRouterError(c *Client, err error, fallbackCode, requestType string) {
	switch {
	case errors.Is(err, router.ErrSessionNotFound):
		h.reply(c, protocol.ErrorFrame(protocol.CodeSessionNotFound, "Session not found", "", requestType))
	case errors.Is(err, router.ErrUnsupportedLanguage):
		h.reply(c, protocol.ErrorFrame(protocol.CodeInvalidLanguage, protocol.MessageInvalidLang, "language", requestType))
	default:
		h.reply(c, protocol.ErrorFrame(fallbackCode, err.Error(), "", requestType))
	}
}

func (h *Hub) reply(c *Client, f protocol.Frame) {
	if h.enqueueFrame(c, f) {
		h.metrics.ObserveWSMessage("out", f.Event)
	}
}

func (h *Hub) enqueueFrame(c *Client, f protocol.Frame) bool {
	payload, err := json.Marshal(f)
	if err != nil {
		h.logger.Errorw("frame encode failed", "event", f.Event, "client_id", c.ID, "error", err)
		return false
	}
	return h.enqueue(c, payload)
}

func (h *Hub) enqueue(c *Client, payload []byte) bool {
	if c.enqueue(payload) {
		return true
	}
	select {
	case <-c.done:
	default:
		h.metrics.IncDroppedFrames()
		h.logger.Debugw("client buffer full, frame dropped", "client_id", c.ID, "session_id", c.SessionID)
	}
	return false
}

// Cleanup detaches every client and waits for their writers to exit. The hub
// accepts no clients afterwards.
func (h *Hub) Cleanup() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*Client)
	h.bySession = make(map[string]map[string]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	h.writers.Wait()
	h.metrics.SetConnectedClients(0)
	h.logger.Infow("hub closed", "clients", len(clients))
}
