// Package router owns the language state of every live call session. Each
// session is driven by its own actor so that detections, switches and manual
// overrides for one call are totally ordered while calls proceed in parallel.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/langhub/internal/detect"
	"github.com/ent0n29/langhub/internal/events"
	"github.com/ent0n29/langhub/internal/language"
	"github.com/ent0n29/langhub/internal/observability"
	"github.com/ent0n29/langhub/internal/policy"
	"github.com/ent0n29/langhub/internal/routing"
	"github.com/ent0n29/langhub/internal/session"
	"github.com/ent0n29/langhub/internal/voice"
)

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrUnsupportedLanguage = routing.ErrUnsupportedLanguage
	ErrClosed              = errors.New("router closed")
)

type Config struct {
	// ConfidenceThreshold is the minimum detection confidence that may switch
	// a session's language.
	ConfidenceThreshold float64
	// SwitchMargin is the minimum lead over the runner-up language. Zero
	// disables the check.
	SwitchMargin float64
	HistoryLimit int
	MailboxSize  int
}

func (c Config) withDefaults() Config {
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = 0.75
	}
	if c.SwitchMargin < 0 {
		c.SwitchMargin = 0
	}
	if c.HistoryLimit < 0 {
		c.HistoryLimit = 0
	}
	if c.MailboxSize <= 0 {
		c.MailboxSize = 64
	}
	return c
}

// Deps are the collaborators a Router drives.
type Deps struct {
	Sessions  *session.Manager
	Routes    *routing.Table
	Detector  detect.Detector
	Providers *voice.Providers
	Bus       *events.Bus
	Metrics   *observability.Metrics
	Logger    *zap.SugaredLogger
}

type Router struct {
	cfg       Config
	sessions  *session.Manager
	routes    *routing.Table
	detector  detect.Detector
	providers *voice.Providers
	bus       *events.Bus
	metrics   *observability.Metrics
	logger    *zap.SugaredLogger
	startedAt time.Time

	mu     sync.Mutex
	actors map[string]*actor
	closed bool
}

func New(cfg Config, deps Deps) (*Router, error) {
	if deps.Routes == nil || deps.Detector == nil || deps.Providers == nil || deps.Bus == nil {
		return nil, errors.New("router: routes, detector, providers and bus are required")
	}
	if deps.Sessions == nil {
		deps.Sessions = session.NewManager()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	return &Router{
		cfg:       cfg.withDefaults(),
		sessions:  deps.Sessions,
		routes:    deps.Routes,
		detector:  deps.Detector,
		providers: deps.Providers,
		bus:       deps.Bus,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		startedAt: time.Now().UTC(),
		actors:    make(map[string]*actor),
	}, nil
}

// StartSession creates the session and emits SessionStarted. Starting an
// existing session returns it unchanged without emitting anything.
func (r *Router) StartSession(ctx context.Context, sessionID string, hint language.Hint) (*session.LanguageSession, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	for attempt := 0; attempt < 3; attempt++ {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, ErrClosed
		}
		if a, ok := r.actors[sessionID]; ok {
			r.mu.Unlock()
			out, err := call(ctx, a, func() (*session.LanguageSession, error) {
				s, err := r.sessions.Get(sessionID)
				if err != nil {
					return nil, ErrSessionNotFound
				}
				return s, nil
			})
			if errors.Is(err, ErrSessionNotFound) {
				// Raced with EndSession; the actor is gone, start afresh.
				continue
			}
			return out, err
		}

		a := newActor(sessionID, r.cfg.MailboxSize)
		r.actors[sessionID] = a
		resCh := make(chan result[*session.LanguageSession], 1)
		// Seeded before the actor runs so SessionStarted precedes any event
		// caused by jobs queued right after.
		a.mailbox <- func() {
			s, err := r.start(ctx, sessionID, hint)
			resCh <- result[*session.LanguageSession]{val: s, err: err}
		}
		go a.run()
		r.mu.Unlock()

		out, err := await(ctx, a, resCh)
		if err != nil {
			if _, getErr := r.sessions.Get(sessionID); getErr != nil {
				r.retire(a)
			}
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("start session %s: %w", sessionID, ErrSessionNotFound)
}

func (r *Router) start(ctx context.Context, sessionID string, hint language.Hint) (*session.LanguageSession, error) {
	fallback, _ := r.routes.Fallback()
	lang := fallback
	supported := true
	requested, hinted := hint.Resolve()
	// The dialing prefix is only needed to resolve the hint. Sessions and
	// events carry the caller number with all but its last two digits masked.
	hint.PhoneNumber, _ = policy.MaskDigits(hint.PhoneNumber, 2)
	if hinted {
		if r.routes.Supports(requested) {
			lang = requested
		} else {
			supported = false
		}
	}
	route, _ := r.routes.Resolve(lang)

	s, err := r.sessions.Create(session.LanguageSession{
		SessionID:       sessionID,
		CurrentLanguage: lang,
		Supported:       supported,
		Route:           route,
		Hint:            hint,
	})
	if errors.Is(err, session.ErrAlreadyExists) {
		// Left behind by a start whose caller gave up; adopt it.
		return r.sessions.Get(sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("create session %s: %w", sessionID, err)
	}
	r.metrics.SetActiveSessions(r.sessions.ActiveCount())
	r.logger.Infow("session started", "session_id", sessionID, "language", lang, "provider", route.Provider, "voice_id", route.VoiceID)

	meta := events.NewMeta(ctx, sessionID)
	r.publish(events.SessionStarted{Meta: meta, Language: lang, Supported: supported, Route: route, Hint: hint})
	if !supported {
		r.publish(events.LanguageFallback{Meta: meta, Requested: requested, Fallback: lang, Reason: "hint"})
	}
	return s, nil
}

// ProcessText detects the language of text and applies the switching policy.
func (r *Router) ProcessText(ctx context.Context, sessionID, text string) (language.Detection, error) {
	return r.process(ctx, sessionID, language.SourceText, func() (language.Detection, error) {
		return r.detector.DetectText(ctx, text)
	})
}

// ProcessAudio detects the language of an audio buffer. transcriptHint is an
// optional transcript produced upstream for the same audio.
func (r *Router) ProcessAudio(ctx context.Context, sessionID string, audio []byte, transcriptHint string) (language.Detection, error) {
	return r.process(ctx, sessionID, language.SourceAudio, func() (language.Detection, error) {
		return r.detector.DetectAudio(ctx, audio, transcriptHint)
	})
}

func (r *Router) process(ctx context.Context, sessionID string, source language.Source, run func() (language.Detection, error)) (language.Detection, error) {
	a, err := r.actor(sessionID)
	if err != nil {
		return language.Detection{}, err
	}
	return call(ctx, a, func() (language.Detection, error) {
		cur, err := r.sessions.Get(sessionID)
		if err != nil {
			return language.Detection{}, ErrSessionNotFound
		}
		began := time.Now()
		d, err := run()
		if err != nil {
			return language.Detection{}, fmt.Errorf("detect language: %w", err)
		}
		d = normalizeDetection(d, source)
		dec := r.decide(cur, d)
		r.metrics.ObserveDetection(string(source), dec.reason, time.Since(began))
		if err := r.applyDetection(ctx, cur, d, dec); err != nil {
			return language.Detection{}, err
		}
		return d, nil
	})
}

func normalizeDetection(d language.Detection, source language.Source) language.Detection {
	d = d.Clone()
	d.Language = language.Normalize(string(d.Language))
	d.Confidence = language.ClampConfidence(d.Confidence)
	if d.Source == "" {
		d.Source = source
	}
	if d.DetectedAt.IsZero() {
		d.DetectedAt = time.Now().UTC()
	}
	if d.Alternatives == nil {
		d.Alternatives = []language.Alternative{}
	}
	for i := range d.Alternatives {
		d.Alternatives[i].Language = language.Normalize(string(d.Alternatives[i].Language))
	}
	language.SortAlternatives(d.Alternatives)
	return d
}

type decision struct {
	switchTo language.Code
	route    routing.Route
	fallback bool
	reason   string
}

func (d decision) switches() bool { return d.switchTo != "" }

// decide applies the switching policy: a detection switches the session iff
// it names another language with confidence at or above the threshold, is not
// a tie, and leads the runner-up by at least the configured margin. Confident
// detections of unsupported languages target the fallback language.
func (r *Router) decide(cur *session.LanguageSession, d language.Detection) decision {
	switch {
	case d.Confidence < r.cfg.ConfidenceThreshold:
		return decision{reason: "below_threshold"}
	case d.IsTie():
		return decision{reason: "tie"}
	case r.cfg.SwitchMargin > 0 && d.Margin() < r.cfg.SwitchMargin:
		return decision{reason: "below_margin"}
	}
	target := d.Language
	route, supported := r.routes.Resolve(target)
	if !supported {
		target = route.Language
	}
	if target == cur.CurrentLanguage {
		return decision{reason: "stay"}
	}
	return decision{switchTo: target, route: route, fallback: !supported, reason: "switch"}
}

func (r *Router) applyDetection(ctx context.Context, cur *session.LanguageSession, d language.Detection, dec decision) error {
	updated, err := r.sessions.Update(cur.SessionID, func(s *session.LanguageSession) {
		s.RecordDetection(d, r.cfg.HistoryLimit)
		if dec.reason == "stay" || dec.switches() {
			s.Confirmed = true
		}
		if dec.switches() {
			s.CurrentLanguage = dec.switchTo
			s.Route = dec.route
			s.Supported = !dec.fallback
			s.SwitchCount++
		}
	})
	if err != nil {
		return ErrSessionNotFound
	}

	meta := events.NewMeta(ctx, cur.SessionID)
	r.publish(events.LanguageDetected{
		Meta:            meta,
		Detection:       d,
		CurrentLanguage: cur.CurrentLanguage,
		WillSwitch:      dec.switches(),
	})
	if !dec.switches() {
		return nil
	}
	if dec.fallback {
		r.publish(events.LanguageFallback{Meta: meta, Requested: d.Language, Fallback: dec.switchTo, Reason: "detection"})
	}
	r.publish(events.LanguageChanged{
		Meta:       meta,
		From:       cur.CurrentLanguage,
		To:         dec.switchTo,
		Confidence: d.Confidence,
		Confirmed:  updated.Confirmed,
	})
	r.publish(events.RouteSwitched{Meta: meta, From: cur.Route, To: dec.route})
	r.metrics.ObserveSwitch(string(dec.switchTo), "auto")
	r.logger.Infow("language switched",
		"session_id", cur.SessionID,
		"from", cur.CurrentLanguage,
		"to", dec.switchTo,
		"confidence", d.Confidence,
		"source", d.Source,
	)
	return nil
}

// SetSessionLanguage overrides the session language regardless of detection
// confidence. Unsupported codes move the session to the fallback language and
// emit LanguageFallback.
func (r *Router) SetSessionLanguage(ctx context.Context, sessionID string, lang language.Code, confirmed bool) (*session.LanguageSession, error) {
	a, err := r.actor(sessionID)
	if err != nil {
		return nil, err
	}
	requested := language.Normalize(string(lang))
	return call(ctx, a, func() (*session.LanguageSession, error) {
		cur, err := r.sessions.Get(sessionID)
		if err != nil {
			return nil, ErrSessionNotFound
		}
		route, supported := r.routes.Resolve(requested)
		target := route.Language
		updated, err := r.sessions.Update(sessionID, func(s *session.LanguageSession) {
			s.CurrentLanguage = target
			s.Route = route
			s.Confirmed = confirmed
			s.Supported = supported
			s.SwitchCount++
		})
		if err != nil {
			return nil, ErrSessionNotFound
		}

		meta := events.NewMeta(ctx, sessionID)
		if !supported {
			r.publish(events.LanguageFallback{Meta: meta, Requested: requested, Fallback: target, Reason: "manual"})
		}
		r.publish(events.LanguageChanged{
			Meta:       meta,
			From:       cur.CurrentLanguage,
			To:         target,
			Confidence: 1,
			Manual:     true,
			Confirmed:  confirmed,
		})
		r.publish(events.RouteSwitched{Meta: meta, From: cur.Route, To: route})
		r.metrics.ObserveSwitch(string(target), "manual")
		r.logger.Infow("language set manually", "session_id", sessionID, "from", cur.CurrentLanguage, "to", target, "confirmed", confirmed)
		return updated, nil
	})
}

// SpeechOptions override per-call synthesis parameters.
type SpeechOptions struct {
	VoiceID  string
	ModelID  string
	Settings voice.TTSSettings
}

// SynthesizeSpeech renders text with the session's current route. The
// provider call runs on the session actor, so later work for the session
// queues behind it. Provider failures are broadcast as SynthesisError and
// returned; the session keeps its language and route.
func (r *Router) SynthesizeSpeech(ctx context.Context, sessionID, text string, opts SpeechOptions) (voice.Audio, routing.Route, error) {
	a, err := r.actor(sessionID)
	if err != nil {
		return voice.Audio{}, routing.Route{}, err
	}
	res, err := call(ctx, a, func() (speechResult, error) {
		if err := ctx.Err(); err != nil {
			return speechResult{}, err
		}
		s, err := r.sessions.Get(sessionID)
		if err != nil {
			return speechResult{}, ErrSessionNotFound
		}
		route := s.Route
		if opts.VoiceID != "" {
			route.VoiceID = opts.VoiceID
		}
		out, synthErr := r.synthesize(ctx, route, text, opts)
		if synthErr != nil {
			if ctx.Err() == nil {
				r.reportSynthesisError(ctx, sessionID, route, synthErr)
			}
			return speechResult{route: route}, fmt.Errorf("synthesize session %s: %w", sessionID, synthErr)
		}
		return speechResult{audio: out, route: route}, nil
	})
	return res.audio, res.route, err
}

type speechResult struct {
	audio voice.Audio
	route routing.Route
}

// PreviewVoice synthesizes text with an explicit language and voice without
// changing any session. A failure is reported as SynthesisError on sessionID
// when that session exists.
func (r *Router) PreviewVoice(ctx context.Context, sessionID string, lang language.Code, voiceID, text string) (voice.Audio, routing.Route, error) {
	lang = language.Normalize(string(lang))
	if !r.routes.Supports(lang) {
		return voice.Audio{}, routing.Route{}, fmt.Errorf("preview voice %q: %w", lang, ErrUnsupportedLanguage)
	}
	route, _ := r.routes.Resolve(lang)
	if v := strings.TrimSpace(voiceID); v != "" {
		route.VoiceID = v
	}
	out, err := r.synthesize(ctx, route, text, SpeechOptions{})
	if err == nil {
		return out, route, nil
	}
	if a, aerr := r.actor(sessionID); aerr == nil {
		// Published on the actor to stay ordered with the session's events.
		_ = a.do(context.WithoutCancel(ctx), func() error {
			if _, err := r.sessions.Get(sessionID); err != nil {
				return ErrSessionNotFound
			}
			r.reportSynthesisError(ctx, sessionID, route, err)
			return nil
		})
	}
	return voice.Audio{}, route, err
}

// reportSynthesisError publishes a SynthesisError. Callers run on the
// session's actor.
func (r *Router) reportSynthesisError(ctx context.Context, sessionID string, route routing.Route, synthErr error) {
	evt := events.SynthesisError{
		Meta:     events.NewMeta(ctx, sessionID),
		Language: route.Language,
		Provider: route.Provider,
		VoiceID:  route.VoiceID,
		Error:    synthErr.Error(),
	}
	if pe, ok := voice.AsProviderError(synthErr); ok {
		evt.Retryable = pe.Retryable
	}
	r.publish(evt)
	r.logger.Warnw("speech synthesis failed", "session_id", sessionID, "provider", route.Provider, "voice_id", route.VoiceID, "error", synthErr)
}

func (r *Router) synthesize(ctx context.Context, route routing.Route, text string, opts SpeechOptions) (voice.Audio, error) {
	synth, ok := r.providers.Get(route.Provider)
	if !ok {
		return voice.Audio{}, &voice.ProviderError{
			Provider: route.Provider,
			Code:     "provider_unavailable",
			Detail:   "no synthesizer registered",
		}
	}
	began := time.Now()
	out, err := synth.Synthesize(ctx, voice.SynthesisRequest{
		Text:     text,
		VoiceID:  route.VoiceID,
		ModelID:  opts.ModelID,
		Language: route.Language,
		Settings: opts.Settings,
	})
	if err != nil {
		code := "unknown"
		if pe, ok := voice.AsProviderError(err); ok && pe.Code != "" {
			code = pe.Code
		}
		r.metrics.ObserveProviderError(route.Provider, code)
		return voice.Audio{}, err
	}
	r.metrics.ObserveSynthesis(time.Since(began))
	return out, nil
}

// EndSession removes the session and emits SessionEnded. Ending an unknown
// session is a no-op.
func (r *Router) EndSession(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	a, ok := r.actors[sessionID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	err := a.do(ctx, func() error {
		defer r.retire(a)
		s, err := r.sessions.End(sessionID)
		if err != nil {
			return nil
		}
		var duration time.Duration
		if s.EndedAt != nil {
			duration = s.EndedAt.Sub(s.StartedAt)
		}
		r.metrics.SetActiveSessions(r.sessions.ActiveCount())
		r.publish(events.SessionEnded{
			Meta:           events.NewMeta(ctx, sessionID),
			Language:       s.CurrentLanguage,
			DetectionCount: s.DetectionCount,
			SwitchCount:    s.SwitchCount,
			DurationMS:     duration.Milliseconds(),
		})
		r.logger.Infow("session ended",
			"session_id", sessionID,
			"language", s.CurrentLanguage,
			"detections", s.DetectionCount,
			"switches", s.SwitchCount,
			"duration_ms", duration.Milliseconds(),
		)
		return nil
	})
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	return err
}

// retire removes a from the actor set and stops it.
func (r *Router) retire(a *actor) {
	r.mu.Lock()
	if cur, ok := r.actors[a.sessionID]; ok && cur == a {
		delete(r.actors, a.sessionID)
	}
	r.mu.Unlock()
	a.quit()
}

func (r *Router) actor(sessionID string) (*actor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	a, ok := r.actors[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return a, nil
}

func (r *Router) publish(e events.Event) {
	r.bus.Publish(e)
	r.metrics.ObserveEvent(string(e.Kind()))
}

// Close stops every session actor. Sessions stay in the registry.
func (r *Router) Close() {
	r.mu.Lock()
	r.closed = true
	actors := make([]*actor, 0, len(r.actors))
	for id, a := range r.actors {
		actors = append(actors, a)
		delete(r.actors, id)
	}
	r.mu.Unlock()
	for _, a := range actors {
		a.quit()
	}
}
