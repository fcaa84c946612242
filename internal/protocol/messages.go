package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/langhub/internal/events"
)

// MessageType identifies inbound client frames.
type MessageType string

const (
	TypeSubscribe          MessageType = "subscribe"
	TypeUnsubscribe        MessageType = "unsubscribe"
	TypeSetLanguage        MessageType = "set_language"
	TypeDetectLanguage     MessageType = "detect_language"
	TypeTestVoice          MessageType = "test_voice"
	TypeGetAvailableVoices MessageType = "get_available_voices"
	TypePing               MessageType = "ping"
)

// Error codes carried by error frames.
const (
	CodeInvalidMessage   = "invalid_message"
	CodeUnknownType      = "unknown_type"
	CodeInvalidLanguage  = "invalid_language"
	CodeSessionNotFound  = "session_not_found"
	CodeSynthesisFailed  = "synthesis_failed"
	CodeDetectionFailed  = "detection_failed"
	MessageInvalidFormat = "Invalid message format"
	MessageUnknownType   = "Unknown message type"
	MessageInvalidLang   = "Invalid language code"
)

// SubscribeAll is the subscription sentinel matching every event.
const SubscribeAll = "all"

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func invalid(param string) *DecodeError {
	return &DecodeError{Code: CodeInvalidMessage, Message: MessageInvalidFormat, Param: param}
}

type Envelope struct {
	Type MessageType `json:"type"`
}

type Subscribe struct {
	Events []string `json:"events"`
}

type Unsubscribe struct {
	Events []string `json:"events"`
}

type SetLanguage struct {
	Language  string `json:"language"`
	Confirmed bool   `json:"confirmed"`
}

type DetectLanguage struct {
	Text           string `json:"text,omitempty"`
	AudioBuffer    string `json:"audioBuffer,omitempty"`
	TranscriptHint string `json:"transcriptHint,omitempty"`

	// Audio is AudioBuffer decoded from base64.
	Audio []byte `json:"-"`
}

type TestVoice struct {
	Language string `json:"language"`
	VoiceID  string `json:"voiceId"`
	Text     string `json:"text"`
}

type GetAvailableVoices struct {
	Language string `json:"language"`
}

type Ping struct{}

// ParseClientMessage decodes one inbound frame into its typed message. All
// failures are *DecodeError.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, invalid("")
	}
	if env.Type == "" {
		return nil, invalid("type")
	}

	switch env.Type {
	case TypeSubscribe:
		var msg Subscribe
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, invalid("events")
		}
		names, err := validateEventNames(msg.Events)
		if err != nil {
			return nil, err
		}
		msg.Events = names
		return msg, nil
	case TypeUnsubscribe:
		var msg Unsubscribe
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, invalid("events")
		}
		names, err := validateEventNames(msg.Events)
		if err != nil {
			return nil, err
		}
		msg.Events = names
		return msg, nil
	case TypeSetLanguage:
		var msg SetLanguage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, invalid("")
		}
		msg.Language = strings.TrimSpace(msg.Language)
		if msg.Language == "" {
			return nil, invalid("language")
		}
		return msg, nil
	case TypeDetectLanguage:
		var msg DetectLanguage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, invalid("")
		}
		if strings.TrimSpace(msg.Text) == "" && msg.AudioBuffer == "" {
			return nil, invalid("text")
		}
		if msg.AudioBuffer != "" {
			audio, err := base64.StdEncoding.DecodeString(msg.AudioBuffer)
			if err != nil {
				return nil, invalid("audioBuffer")
			}
			msg.Audio = audio
		}
		return msg, nil
	case TypeTestVoice:
		var msg TestVoice
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, invalid("")
		}
		switch {
		case strings.TrimSpace(msg.Language) == "":
			return nil, invalid("language")
		case strings.TrimSpace(msg.Text) == "":
			return nil, invalid("text")
		}
		return msg, nil
	case TypeGetAvailableVoices:
		var msg GetAvailableVoices
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, invalid("")
		}
		if strings.TrimSpace(msg.Language) == "" {
			return nil, invalid("language")
		}
		return msg, nil
	case TypePing:
		return Ping{}, nil
	default:
		return nil, &DecodeError{Code: CodeUnknownType, Message: MessageUnknownType, Param: string(env.Type)}
	}
}

// validateEventNames requires a non-empty list of known event names or the
// "all" sentinel, and returns it deduplicated.
func validateEventNames(names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, invalid("events")
	}
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name != SubscribeAll {
			if _, ok := events.ParseKind(name); !ok {
				return nil, invalid("events")
			}
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out, nil
}

// MessageTypeOf reports the declared type of a raw frame for logging and
// metrics, or "invalid" when it cannot be read.
func MessageTypeOf(raw []byte) string {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		return "invalid"
	}
	switch env.Type {
	case TypeSubscribe, TypeUnsubscribe, TypeSetLanguage, TypeDetectLanguage,
		TypeTestVoice, TypeGetAvailableVoices, TypePing:
		return string(env.Type)
	default:
		return "unknown"
	}
}

// Reply event names. Domain events use events.Kind values.
const (
	EventLanguageStatus  = "language_status"
	EventSubscribed      = "subscribed"
	EventUnsubscribed    = "unsubscribed"
	EventLanguageSet     = "language_set"
	EventVoiceTestResult = "voice_test_result"
	EventAvailableVoices = "available_voices"
	EventPong            = "pong"
	EventError           = "error"
)

// Frame is every server to client message.
type Frame struct {
	Event     string    `json:"event"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

func NewFrame(event string, data any) Frame {
	return Frame{Event: event, Data: data, Timestamp: time.Now().UTC()}
}

// EventFrame wraps a domain event.
func EventFrame(e events.Event) Frame {
	return Frame{Event: string(e.Kind()), Data: e, Timestamp: e.Time()}
}

type ErrorPayload struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Param       string `json:"param,omitempty"`
	RequestType string `json:"requestType,omitempty"`
}

func ErrorFrame(code, message, param, requestType string) Frame {
	return NewFrame(EventError, ErrorPayload{Code: code, Message: message, Param: param, RequestType: requestType})
}

// SubscriptionState answers subscribe and unsubscribe. Changed lists the names
// the request actually added or removed; names already in that state are left
// out.
type SubscriptionState struct {
	Subscriptions []string `json:"subscriptions"`
	Changed       []string `json:"changed"`
}

type PongPayload struct {
	Timestamp time.Time `json:"timestamp"`
}

type VoiceTestResult struct {
	Language string `json:"language"`
	VoiceID  string `json:"voiceId"`
	Provider string `json:"provider"`
	Format   string `json:"format"`
	Audio    string `json:"audio"`
}
