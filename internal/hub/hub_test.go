package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/langhub/internal/detect"
	"github.com/ent0n29/langhub/internal/events"
	"github.com/ent0n29/langhub/internal/language"
	"github.com/ent0n29/langhub/internal/protocol"
	"github.com/ent0n29/langhub/internal/router"
	"github.com/ent0n29/langhub/internal/routing"
	"github.com/ent0n29/langhub/internal/session"
	"github.com/ent0n29/langhub/internal/voice"
)

type wireFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type fakeSocket struct {
	mu     sync.Mutex
	frames []wireFrame
	pings  int
	closed bool

	// block, when set, stalls WriteMessage until closed. started receives
	// once per write attempt.
	block   chan struct{}
	started chan struct{}
}

func (s *fakeSocket) SetWriteDeadline(time.Time) error { return nil }

func (s *fakeSocket) WriteMessage(_ int, data []byte) error {
	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.block != nil {
		<-s.block
	}
	var f wireFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("closed")
	}
	s.frames = append(s.frames, f)
	return nil
}

func (s *fakeSocket) WriteControl(messageType int, _ []byte, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if messageType == websocket.PingMessage {
		s.pings++
	}
	return nil
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSocket) events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.frames))
	for _, f := range s.frames {
		out = append(out, f.Event)
	}
	return out
}

func (s *fakeSocket) last() wireFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return wireFrame{}
	}
	return s.frames[len(s.frames)-1]
}

func (s *fakeSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSocket) pingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pings
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitFrames(t *testing.T, s *fakeSocket, n int) []string {
	t.Helper()
	waitFor(t, "frames", func() bool { return len(s.events()) >= n })
	return s.events()
}

type fixture struct {
	hub    *Hub
	router *router.Router
	bus    *events.Bus
	script map[string]language.Detection
	mu     sync.Mutex
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	return newFixtureWithSynth(t, cfg, voice.NewMockProvider())
}

func newFixtureWithSynth(t *testing.T, cfg Config, synth voice.Synthesizer) *fixture {
	t.Helper()
	table, err := routing.NewTable(language.ParseSet("en,es,cs"), "en", "mock", routing.Catalog{"es": {"es_a", "es_b"}})
	if err != nil {
		t.Fatalf("NewTable() error = %v", err)
	}
	f := &fixture{bus: events.NewBus(), script: map[string]language.Detection{}}
	det := &detect.StubDetector{
		Fallback: "en",
		TextFunc: func(_ context.Context, text string) (language.Detection, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			if d, ok := f.script[text]; ok {
				return d, nil
			}
			return detect.Fixed("en", 0.1, language.SourceText), nil
		},
	}
	r, err := router.New(router.Config{}, router.Deps{
		Routes:    table,
		Detector:  det,
		Providers: voice.NewProviders(synth),
		Bus:       f.bus,
	})
	if err != nil {
		t.Fatalf("router.New() error = %v", err)
	}
	t.Cleanup(r.Close)
	f.router = r
	f.hub = New(cfg, r, nil, nil)
	t.Cleanup(f.hub.Cleanup)
	return f
}

func (f *fixture) scriptText(text string, d language.Detection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script[text] = d
}

// run starts broadcasting. Events published before run are not delivered.
func (f *fixture) run(t *testing.T) {
	t.Helper()
	sub := f.bus.Subscribe("hub", 256)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		sub.Close()
	})
	go f.hub.Run(ctx, sub)
}

func (f *fixture) start(t *testing.T, sessionID string) {
	t.Helper()
	if _, err := f.router.StartSession(context.Background(), sessionID, language.Hint{}); err != nil {
		t.Fatalf("StartSession(%s) error = %v", sessionID, err)
	}
}

func (f *fixture) attach(t *testing.T, sessionID string) (*Client, *fakeSocket) {
	t.Helper()
	sock := &fakeSocket{}
	c, err := f.hub.AddClient(sock, sessionID, "", nil)
	if err != nil {
		t.Fatalf("AddClient() error = %v", err)
	}
	waitFrames(t, sock, 1)
	return c, sock
}

func send(t *testing.T, f *fixture, c *Client, msg any) {
	t.Helper()
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	f.hub.HandleMessage(context.Background(), c, raw)
}

func TestAddClientSendsLanguageStatusFirst(t *testing.T) {
	f := newFixture(t, Config{})
	f.start(t, "s1")
	c, sock := f.attach(t, "s1")

	first := sock.events()[0]
	if first != protocol.EventLanguageStatus {
		t.Fatalf("first frame = %q, want %q", first, protocol.EventLanguageStatus)
	}
	var status LanguageStatus
	if err := json.Unmarshal(sock.last().Data, &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.ClientID != c.ID || status.Session == nil || status.Session.SessionID != "s1" {
		t.Fatalf("status = %+v", status)
	}
	if status.Route.Language != "en" || status.Hub.ConnectedClients != 1 {
		t.Fatalf("status route/hub = %+v / %+v", status.Route, status.Hub)
	}
	if got := c.Subscriptions(); len(got) != 1 || got[0] != protocol.SubscribeAll {
		t.Fatalf("default subscriptions = %v, want [all]", got)
	}
}

func TestAddClientBeforeSessionExists(t *testing.T) {
	f := newFixture(t, Config{})
	_, sock := f.attach(t, "pending")
	var status LanguageStatus
	if err := json.Unmarshal(sock.last().Data, &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Session != nil {
		t.Fatalf("session = %+v, want nil", status.Session)
	}
	if status.Route.Language != "en" {
		t.Fatalf("route = %+v, want fallback", status.Route)
	}
}

func TestAddClientRejectsDuplicateID(t *testing.T) {
	f := newFixture(t, Config{})
	if _, err := f.hub.AddClient(&fakeSocket{}, "s1", "c1", nil); err != nil {
		t.Fatalf("AddClient() error = %v", err)
	}
	if _, err := f.hub.AddClient(&fakeSocket{}, "s1", "c1", nil); !errors.Is(err, ErrClientExists) {
		t.Fatalf("duplicate AddClient() error = %v, want ErrClientExists", err)
	}
}

func TestBroadcastStaysWithinSession(t *testing.T) {
	f := newFixture(t, Config{})
	f.start(t, "A")
	f.start(t, "B")
	var aSocks, bSocks []*fakeSocket
	for i := 0; i < 3; i++ {
		_, s := f.attach(t, "A")
		aSocks = append(aSocks, s)
	}
	for i := 0; i < 2; i++ {
		_, s := f.attach(t, "B")
		bSocks = append(bSocks, s)
	}
	f.run(t)

	f.scriptText("hola que tal", detect.Fixed("es", 0.95, language.SourceText))
	if _, err := f.router.ProcessText(context.Background(), "A", "hola que tal"); err != nil {
		t.Fatalf("ProcessText() error = %v", err)
	}

	want := []string{protocol.EventLanguageStatus, "language_detected", "language_changed", "route_switched"}
	for i, s := range aSocks {
		got := waitFrames(t, s, len(want))
		for j := range want {
			if got[j] != want[j] {
				t.Fatalf("A client %d frames = %v, want %v", i, got, want)
			}
		}
	}
	time.Sleep(30 * time.Millisecond)
	for i, s := range bSocks {
		if got := s.events(); len(got) != 1 {
			t.Fatalf("B client %d frames = %v, want only welcome", i, got)
		}
	}
}

func TestSubscriptionFiltersAndOriginDelivery(t *testing.T) {
	f := newFixture(t, Config{})
	f.start(t, "s1")
	origin, originSock := f.attach(t, "s1")
	watcher, watcherSock := f.attach(t, "s1")
	f.run(t)

	for _, c := range []*Client{origin, watcher} {
		send(t, f, c, map[string]any{"type": "unsubscribe", "events": []string{"all"}})
		send(t, f, c, map[string]any{"type": "subscribe", "events": []string{"language_changed"}})
	}
	waitFrames(t, originSock, 3)
	waitFrames(t, watcherSock, 3)

	f.scriptText("dobrý den", detect.Fixed("cs", 0.9, language.SourceText))
	send(t, f, origin, map[string]any{"type": "detect_language", "text": "dobrý den"})

	gotOrigin := waitFrames(t, originSock, 5)
	if gotOrigin[3] != "language_detected" || gotOrigin[4] != "language_changed" {
		t.Fatalf("origin frames = %v", gotOrigin)
	}
	gotWatcher := waitFrames(t, watcherSock, 4)
	time.Sleep(30 * time.Millisecond)
	gotWatcher = watcherSock.events()
	if len(gotWatcher) != 4 || gotWatcher[3] != "language_changed" {
		t.Fatalf("watcher frames = %v, want only language_changed after replies", gotWatcher)
	}
}

func TestSubscribeIsIdempotent(t *testing.T) {
	f := newFixture(t, Config{})
	c, sock := f.attach(t, "s1")
	send(t, f, c, map[string]any{"type": "subscribe", "events": []string{"language_changed"}})
	send(t, f, c, map[string]any{"type": "subscribe", "events": []string{"language_changed", "language_changed"}})
	waitFrames(t, sock, 3)

	var state protocol.SubscriptionState
	if err := json.Unmarshal(sock.last().Data, &state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(state.Subscriptions) != 2 || state.Subscriptions[0] != "all" || state.Subscriptions[1] != "language_changed" {
		t.Fatalf("subscriptions = %v", state.Subscriptions)
	}
	if len(state.Changed) != 0 {
		t.Fatalf("changed = %v, want none for an existing subscription", state.Changed)
	}

	send(t, f, c, map[string]any{"type": "unsubscribe", "events": []string{"language_changed"}})
	waitFrames(t, sock, 4)
	if got := c.Subscriptions(); len(got) != 1 || got[0] != "all" {
		t.Fatalf("after unsubscribe = %v, want [all]", got)
	}
}

func TestSubscribeChangedRestoresPriorState(t *testing.T) {
	f := newFixture(t, Config{})
	c, sock := f.attach(t, "s1")
	send(t, f, c, map[string]any{"type": "subscribe", "events": []string{"language_changed"}})
	waitFrames(t, sock, 2)
	before := c.Subscriptions()

	send(t, f, c, map[string]any{"type": "subscribe", "events": []string{"language_changed", "route_switched"}})
	waitFrames(t, sock, 3)
	var state protocol.SubscriptionState
	if err := json.Unmarshal(sock.last().Data, &state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(state.Changed) != 1 || state.Changed[0] != "route_switched" {
		t.Fatalf("changed = %v, want [route_switched]", state.Changed)
	}

	send(t, f, c, map[string]any{"type": "unsubscribe", "events": state.Changed})
	waitFrames(t, sock, 4)
	if err := json.Unmarshal(sock.last().Data, &state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(state.Changed) != 1 || state.Changed[0] != "route_switched" {
		t.Fatalf("removed = %v, want [route_switched]", state.Changed)
	}
	after := c.Subscriptions()
	if len(after) != len(before) || after[0] != before[0] || after[1] != before[1] {
		t.Fatalf("subscriptions = %v, want %v", after, before)
	}
}

func TestUnsubscribedClientMissesSessionDetections(t *testing.T) {
	f := newFixture(t, Config{})
	f.start(t, "s1")
	quiet, quietSock := f.attach(t, "s1")
	sibling, siblingSock := f.attach(t, "s1")
	f.run(t)

	send(t, f, quiet, map[string]any{"type": "unsubscribe", "events": []string{"all", "language_detected"}})
	waitFrames(t, quietSock, 2)
	if got := quiet.Subscriptions(); len(got) != 0 {
		t.Fatalf("subscriptions = %v, want none", got)
	}

	// Below threshold, so the only event is language_detected.
	if _, err := f.router.ProcessText(context.Background(), "s1", "something"); err != nil {
		t.Fatalf("ProcessText() error = %v", err)
	}
	got := waitFrames(t, siblingSock, 2)
	if got[1] != "language_detected" {
		t.Fatalf("sibling frames = %v", got)
	}

	send(t, f, sibling, map[string]any{"type": "detect_language", "text": "something else"})
	got = waitFrames(t, siblingSock, 3)
	if got[2] != "language_detected" {
		t.Fatalf("sibling frames = %v", got)
	}

	time.Sleep(30 * time.Millisecond)
	if got := quietSock.events(); len(got) != 2 || got[1] != protocol.EventUnsubscribed {
		t.Fatalf("unsubscribed client frames = %v, want welcome and unsubscribed", got)
	}
}

func TestSetUnsupportedLanguageLeavesSession(t *testing.T) {
	f := newFixture(t, Config{})
	f.start(t, "s1")
	c, sock := f.attach(t, "s1")

	f.hub.HandleMessage(context.Background(), c, []byte(`{"type":"set_language","language":"xx"}`))
	waitFrames(t, sock, 2)
	last := sock.last()
	if last.Event != protocol.EventError {
		t.Fatalf("event = %q, want error", last.Event)
	}
	var p protocol.ErrorPayload
	if err := json.Unmarshal(last.Data, &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Message != "Invalid language code" || p.Code != protocol.CodeInvalidLanguage {
		t.Fatalf("payload = %+v", p)
	}
	s, err := f.router.Session("s1")
	if err != nil {
		t.Fatalf("Session() error = %v", err)
	}
	if s.CurrentLanguage != "en" || s.SwitchCount != 0 {
		t.Fatalf("session = %s after %d switches, want en after 0", s.CurrentLanguage, s.SwitchCount)
	}
}

func TestHandleMessageErrors(t *testing.T) {
	f := newFixture(t, Config{})
	f.start(t, "s1")
	c, sock := f.attach(t, "s1")

	tests := []struct {
		name        string
		raw         string
		code        string
		requestType string
	}{
		{name: "malformed json", raw: `{not json`, code: protocol.CodeInvalidMessage, requestType: "invalid"},
		{name: "unknown type", raw: `{"type":"dance"}`, code: protocol.CodeUnknownType, requestType: "unknown"},
		{name: "unknown event name", raw: `{"type":"subscribe","events":["nope"]}`, code: protocol.CodeInvalidMessage, requestType: "subscribe"},
		{name: "unsupported language", raw: `{"type":"set_language","language":"ja"}`, code: protocol.CodeInvalidLanguage, requestType: "set_language"},
		{name: "voice test unsupported", raw: `{"type":"test_voice","language":"ja","text":"hi"}`, code: protocol.CodeInvalidLanguage, requestType: "test_voice"},
	}
	for i, tc := range tests {
		f.hub.HandleMessage(context.Background(), c, []byte(tc.raw))
		waitFrames(t, sock, i+2)
		last := sock.last()
		if last.Event != protocol.EventError {
			t.Fatalf("%s: event = %q, want error", tc.name, last.Event)
		}
		var p protocol.ErrorPayload
		if err := json.Unmarshal(last.Data, &p); err != nil {
			t.Fatalf("%s: decode: %v", tc.name, err)
		}
		if p.Code != tc.code || p.RequestType != tc.requestType {
			t.Fatalf("%s: payload = %+v, want code %q type %q", tc.name, p, tc.code, tc.requestType)
		}
	}
	if f.hub.ClientCount() != 1 {
		t.Fatalf("client dropped after bad input")
	}
}

func TestSetLanguageUnknownSession(t *testing.T) {
	f := newFixture(t, Config{})
	c, sock := f.attach(t, "ghost")
	send(t, f, c, map[string]any{"type": "set_language", "language": "es"})
	waitFrames(t, sock, 2)
	var p protocol.ErrorPayload
	if err := json.Unmarshal(sock.last().Data, &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Code != protocol.CodeSessionNotFound {
		t.Fatalf("code = %q, want %q", p.Code, protocol.CodeSessionNotFound)
	}
}

func TestSetLanguageRepliesWithSession(t *testing.T) {
	f := newFixture(t, Config{})
	f.start(t, "s1")
	c, sock := f.attach(t, "s1")
	send(t, f, c, map[string]any{"type": "set_language", "language": "ES", "confirmed": true})
	waitFrames(t, sock, 2)

	last := sock.last()
	if last.Event != protocol.EventLanguageSet {
		t.Fatalf("event = %q, want language_set", last.Event)
	}
	var p languageSetPayload
	if err := json.Unmarshal(last.Data, &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Session == nil || p.Session.CurrentLanguage != "es" || !p.Session.Confirmed {
		t.Fatalf("session = %+v", p.Session)
	}
}

func TestPingVoicesAndVoiceTest(t *testing.T) {
	f := newFixture(t, Config{})
	c, sock := f.attach(t, "s1")

	send(t, f, c, map[string]any{"type": "ping"})
	waitFrames(t, sock, 2)
	if sock.last().Event != protocol.EventPong {
		t.Fatalf("event = %q, want pong", sock.last().Event)
	}

	send(t, f, c, map[string]any{"type": "get_available_voices", "language": "es"})
	waitFrames(t, sock, 3)
	var voices availableVoicesPayload
	if err := json.Unmarshal(sock.last().Data, &voices); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if voices.Language != "es" || len(voices.Voices) != 2 {
		t.Fatalf("voices = %+v", voices)
	}

	send(t, f, c, map[string]any{"type": "get_available_voices", "language": "ja"})
	waitFrames(t, sock, 4)
	if err := json.Unmarshal(sock.last().Data, &voices); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if voices.Voices == nil || len(voices.Voices) != 0 {
		t.Fatalf("ja voices = %#v, want empty list", voices.Voices)
	}

	send(t, f, c, map[string]any{"type": "test_voice", "language": "es", "voiceId": "es_b", "text": "hola"})
	waitFrames(t, sock, 5)
	var result protocol.VoiceTestResult
	if err := json.Unmarshal(sock.last().Data, &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.VoiceID != "es_b" || result.Provider != "mock" || result.Audio == "" {
		t.Fatalf("voice test = %+v", result)
	}
}

type outageSynth struct{}

func (outageSynth) Name() string { return "mock" }

func (outageSynth) Synthesize(context.Context, voice.SynthesisRequest) (voice.Audio, error) {
	return voice.Audio{}, &voice.ProviderError{Provider: "mock", Code: "http_503", Detail: "outage", Retryable: true}
}

func TestVoiceTestFailureRepliesToRequester(t *testing.T) {
	f := newFixtureWithSynth(t, Config{}, outageSynth{})
	f.start(t, "s1")
	requester, reqSock := f.attach(t, "s1")
	_, siblingSock := f.attach(t, "s1")
	f.run(t)

	send(t, f, requester, map[string]any{"type": "test_voice", "language": "es", "voiceId": "es_b", "text": "hola"})

	got := waitFrames(t, reqSock, 3)
	seen := map[string]bool{}
	for _, e := range got[1:] {
		seen[e] = true
	}
	if !seen[protocol.EventError] || !seen["tts_error"] {
		t.Fatalf("requester frames = %v, want error and tts_error", got)
	}
	reqSock.mu.Lock()
	var p protocol.ErrorPayload
	for _, fr := range reqSock.frames {
		if fr.Event == protocol.EventError {
			if err := json.Unmarshal(fr.Data, &p); err != nil {
				reqSock.mu.Unlock()
				t.Fatalf("decode: %v", err)
			}
		}
	}
	reqSock.mu.Unlock()
	if p.Code != protocol.CodeSynthesisFailed || p.RequestType != "test_voice" {
		t.Fatalf("error payload = %+v", p)
	}

	sibling := waitFrames(t, siblingSock, 2)
	time.Sleep(30 * time.Millisecond)
	sibling = siblingSock.events()
	if len(sibling) != 2 || sibling[1] != "tts_error" {
		t.Fatalf("sibling frames = %v, want welcome and tts_error", sibling)
	}

	if f.hub.ClientCount() != 2 || reqSock.isClosed() {
		t.Fatalf("requester dropped after synthesis failure")
	}
	send(t, f, requester, map[string]any{"type": "ping"})
	waitFrames(t, reqSock, 4)
	if reqSock.last().Event != protocol.EventPong {
		t.Fatalf("event = %q, want pong", reqSock.last().Event)
	}
}

// broadcastingRouter broadcasts an event on hub from inside Session, which
// AddClient calls while building the welcome snapshot.
type broadcastingRouter struct {
	*router.Router
	hub   *Hub
	event events.Event
	once  sync.Once
}

func (r *broadcastingRouter) Session(sessionID string) (*session.LanguageSession, error) {
	r.once.Do(func() {
		done := make(chan struct{})
		go func() {
			r.hub.Broadcast(r.event)
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(100 * time.Millisecond):
		}
	})
	return r.Router.Session(sessionID)
}

func TestEventDuringWelcomeSnapshotIsDelivered(t *testing.T) {
	f := newFixture(t, Config{})
	f.start(t, "s1")
	br := &broadcastingRouter{
		Router: f.router,
		event:  events.LanguageChanged{Meta: events.Meta{SessionID: "s1", At: time.Now()}, From: "en", To: "es"},
	}
	h := New(Config{}, br, nil, nil)
	t.Cleanup(h.Cleanup)
	br.hub = h

	sock := &fakeSocket{}
	if _, err := h.AddClient(sock, "s1", "", nil); err != nil {
		t.Fatalf("AddClient() error = %v", err)
	}
	got := waitFrames(t, sock, 2)
	if got[0] != protocol.EventLanguageStatus || got[1] != "language_changed" {
		t.Fatalf("frames = %v, want welcome then language_changed", got)
	}
}

func TestSweepEvictsStaleClientsAndPingsLive(t *testing.T) {
	f := newFixture(t, Config{HeartbeatInterval: time.Second, ClientTimeout: 2 * time.Second})
	f.start(t, "s1")
	stale, staleSock := f.attach(t, "s1")
	_, liveSock := f.attach(t, "s1")

	now := time.Now()
	stale.setLastActivity(now.Add(-3 * time.Second))

	if n := f.hub.sweep(context.Background(), now); n != 1 {
		t.Fatalf("evicted = %d, want 1", n)
	}
	if f.hub.ClientCount() != 1 || f.hub.SessionClientCount("s1") != 1 {
		t.Fatalf("clients = %d, want 1", f.hub.ClientCount())
	}
	waitFor(t, "stale socket close", staleSock.isClosed)
	waitFor(t, "ping", func() bool { return liveSock.pingCount() == 1 })
	if _, err := f.router.Session("s1"); err != nil {
		t.Fatalf("session ended without EndIdleSessions: %v", err)
	}
}

func TestSweepEndsIdleSession(t *testing.T) {
	f := newFixture(t, Config{HeartbeatInterval: time.Second, ClientTimeout: time.Second, EndIdleSessions: true})
	f.start(t, "s1")
	c, _ := f.attach(t, "s1")
	now := time.Now()
	c.setLastActivity(now.Add(-2 * time.Second))

	f.hub.sweep(context.Background(), now)
	if _, err := f.router.Session("s1"); !errors.Is(err, router.ErrSessionNotFound) {
		t.Fatalf("Session() error = %v, want ErrSessionNotFound", err)
	}
}

func TestInboundMessageRefreshesActivity(t *testing.T) {
	f := newFixture(t, Config{ClientTimeout: time.Second})
	c, _ := f.attach(t, "s1")
	c.setLastActivity(time.Now().Add(-time.Hour))
	send(t, f, c, map[string]any{"type": "ping"})
	if n := f.hub.sweep(context.Background(), time.Now()); n != 0 {
		t.Fatalf("evicted = %d, want 0", n)
	}
}

func TestRemoveClientIsIdempotent(t *testing.T) {
	f := newFixture(t, Config{})
	c, sock := f.attach(t, "s1")
	if got := f.hub.RemoveClient(c); got != 0 {
		t.Fatalf("remaining = %d, want 0", got)
	}
	f.hub.RemoveClient(c)
	waitFor(t, "socket close", sock.isClosed)
	if f.hub.ClientCount() != 0 {
		t.Fatalf("clients = %d, want 0", f.hub.ClientCount())
	}
	select {
	case <-c.Done():
	default:
		t.Fatalf("client not marked done")
	}
}

func TestFullBufferDropsFrames(t *testing.T) {
	f := newFixture(t, Config{SendBuffer: 1})
	f.start(t, "s1")
	sock := &fakeSocket{block: make(chan struct{}), started: make(chan struct{}, 8)}
	if _, err := f.hub.AddClient(sock, "s1", "slow", nil); err != nil {
		t.Fatalf("AddClient() error = %v", err)
	}
	<-sock.started

	e := events.LanguageFallback{Meta: events.Meta{SessionID: "s1", At: time.Now()}, Requested: "ja", Fallback: "en", Reason: "test"}
	if got := f.hub.Broadcast(e); got != 1 {
		t.Fatalf("first broadcast delivered = %d, want 1", got)
	}
	if got := f.hub.Broadcast(e); got != 0 {
		t.Fatalf("second broadcast delivered = %d, want 0", got)
	}
	close(sock.block)
	waitFrames(t, sock, 2)
}

func TestCleanupClosesClients(t *testing.T) {
	f := newFixture(t, Config{})
	_, a := f.attach(t, "s1")
	_, b := f.attach(t, "s2")
	f.hub.Cleanup()
	if !a.isClosed() || !b.isClosed() {
		t.Fatalf("sockets not closed")
	}
	if _, err := f.hub.AddClient(&fakeSocket{}, "s1", "", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("AddClient() after Cleanup error = %v, want ErrClosed", err)
	}
}
