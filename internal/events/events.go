package events

import (
	"context"
	"time"

	"github.com/ent0n29/langhub/internal/language"
	"github.com/ent0n29/langhub/internal/routing"
)

// Kind names a domain event. The values double as wire event names.
type Kind string

const (
	KindSessionStarted   Kind = "session_started"
	KindLanguageDetected Kind = "language_detected"
	KindLanguageChanged  Kind = "language_changed"
	KindRouteSwitched    Kind = "route_switched"
	KindSessionEnded     Kind = "session_ended"
	KindSynthesisError   Kind = "tts_error"
	KindLanguageFallback Kind = "language_fallback"
)

// Kinds lists every domain event kind.
func Kinds() []Kind {
	return []Kind{
		KindSessionStarted,
		KindLanguageDetected,
		KindLanguageChanged,
		KindRouteSwitched,
		KindSessionEnded,
		KindSynthesisError,
		KindLanguageFallback,
	}
}

// ParseKind maps a wire name to its Kind.
func ParseKind(name string) (Kind, bool) {
	for _, k := range Kinds() {
		if string(k) == name {
			return k, true
		}
	}
	return "", false
}

// Event is one of the concrete event types in this package.
type Event interface {
	Kind() Kind
	Session() string
	Time() time.Time
	// Origin is the client id whose request caused the event, if any.
	Origin() string
	isEvent()
}

// Meta is embedded by every event.
type Meta struct {
	SessionID string    `json:"sessionId"`
	At        time.Time `json:"at"`
	OriginID  string    `json:"-"`
}

func (m Meta) Session() string { return m.SessionID }
func (m Meta) Time() time.Time { return m.At }
func (m Meta) Origin() string { return m.OriginID }
func (Meta) isEvent() {}

// NewMeta stamps an event for sessionID with the origin carried by ctx.
func NewMeta(ctx context.Context, sessionID string) Meta {
	return Meta{SessionID: sessionID, At: time.Now().UTC(), OriginID: OriginFrom(ctx)}
}

type SessionStarted struct {
	Meta
	Language  language.Code `json:"language"`
	Supported bool          `json:"supported"`
	Route     routing.Route `json:"route"`
	Hint      language.Hint `json:"hint"`
}

func (SessionStarted) Kind() Kind { return KindSessionStarted }

type LanguageDetected struct {
	Meta
	Detection       language.Detection `json:"detection"`
	CurrentLanguage language.Code      `json:"currentLanguage"`
	WillSwitch      bool               `json:"willSwitch"`
}

func (LanguageDetected) Kind() Kind { return KindLanguageDetected }

type LanguageChanged struct {
	Meta
	From       language.Code `json:"from"`
	To         language.Code `json:"to"`
	Confidence float64       `json:"confidence"`
	Manual     bool          `json:"manual"`
	Confirmed  bool          `json:"confirmed"`
}

func (LanguageChanged) Kind() Kind { return KindLanguageChanged }

type RouteSwitched struct {
	Meta
	From routing.Route `json:"from"`
	To   routing.Route `json:"to"`
}

func (RouteSwitched) Kind() Kind { return KindRouteSwitched }

type SessionEnded struct {
	Meta
	Language       language.Code `json:"language"`
	DetectionCount int           `json:"detectionCount"`
	SwitchCount    int           `json:"switchCount"`
	DurationMS     int64         `json:"durationMs"`
}

func (SessionEnded) Kind() Kind { return KindSessionEnded }

type SynthesisError struct {
	Meta
	Language  language.Code `json:"language"`
	Provider  string        `json:"provider"`
	VoiceID   string        `json:"voiceId"`
	Error     string        `json:"error"`
	Retryable bool          `json:"retryable"`
}

func (SynthesisError) Kind() Kind { return KindSynthesisError }

// LanguageFallback reports that an unsupported language was requested and the
// session was placed on the fallback language instead.
type LanguageFallback struct {
	Meta
	Requested language.Code `json:"requested"`
	Fallback  language.Code `json:"fallback"`
	Reason    string        `json:"reason"`
}

func (LanguageFallback) Kind() Kind { return KindLanguageFallback }

type originKey struct{}

// WithOrigin tags ctx with the client id that issued a request.
func WithOrigin(ctx context.Context, clientID string) context.Context {
	if clientID == "" {
		return ctx
	}
	return context.WithValue(ctx, originKey{}, clientID)
}

func OriginFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(originKey{}).(string)
	return v
}
