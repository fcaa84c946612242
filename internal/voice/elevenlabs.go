package voice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/langhub/internal/reliability"
)

const ElevenLabsProviderName = "elevenlabs"

type ElevenLabsConfig struct {
	APIKey              string
	WSBaseURL           string
	ModelID             string
	DefaultOutputFormat string
	// ReadTimeout bounds the wait for each upstream frame.
	ReadTimeout time.Duration
}

// ElevenLabsProvider synthesizes through the stream-input websocket API and
// collects the streamed chunks into one clip.
type ElevenLabsProvider struct {
	cfg    ElevenLabsConfig
	dialer *websocket.Dialer
}

func NewElevenLabsProvider(cfg ElevenLabsConfig) *ElevenLabsProvider {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = "eleven_multilingual_v2"
	}
	if strings.TrimSpace(cfg.DefaultOutputFormat) == "" {
		cfg.DefaultOutputFormat = "mp3_44100_128"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 20 * time.Second
	}
	return &ElevenLabsProvider{cfg: cfg, dialer: websocket.DefaultDialer}
}

func (p *ElevenLabsProvider) Name() string { return ElevenLabsProviderName }

func (p *ElevenLabsProvider) Synthesize(ctx context.Context, req SynthesisRequest) (Audio, error) {
	if strings.TrimSpace(req.VoiceID) == "" {
		return Audio{}, p.fail("invalid_request", "voice_id is required", nil)
	}
	if strings.TrimSpace(req.Text) == "" {
		return Audio{}, p.fail("invalid_request", "text is required", nil)
	}
	modelID := strings.TrimSpace(req.ModelID)
	if modelID == "" {
		modelID = p.cfg.ModelID
	}

	u, err := url.Parse(strings.TrimRight(p.cfg.WSBaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(req.VoiceID) + "/stream-input")
	if err != nil {
		return Audio{}, p.fail("invalid_url", err.Error(), err)
	}
	q := u.Query()
	q.Set("model_id", modelID)
	q.Set("output_format", p.cfg.DefaultOutputFormat)
	q.Set("auto_mode", "true")
	if req.Language != "" {
		q.Set("language_code", string(req.Language))
	}
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("xi-api-key", p.cfg.APIKey)

	conn, res, err := p.dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		code := "dial_failed"
		retryable := true
		if res != nil {
			code = "http_" + strconv.Itoa(res.StatusCode)
			retryable = reliability.IsRetryableHTTPStatus(res.StatusCode)
		}
		return Audio{}, &ProviderError{Provider: p.Name(), Code: code, Detail: fmt.Sprintf("dial tts websocket: %v", err), Retryable: retryable, Cause: err}
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	s := ttsSettings(req.Settings)
	// Prime the stream as documented for TTS websocket flows.
	messages := []map[string]any{
		{
			"text": " ",
			"voice_settings": map[string]any{
				"stability":        s.Stability,
				"similarity_boost": s.SimilarityBoost,
				"speed":            s.Speed,
			},
		},
		{"text": req.Text, "try_trigger_generation": true},
		{"text": ""},
	}
	for _, m := range messages {
		if err := conn.WriteJSON(m); err != nil {
			return Audio{}, p.fail("write_failed", err.Error(), err)
		}
	}

	var clip []byte
	for {
		_ = conn.SetReadDeadline(time.Now().Add(p.cfg.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return Audio{}, p.fail("canceled", ctx.Err().Error(), ctx.Err())
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && len(clip) > 0 {
				return Audio{Data: clip, Format: p.cfg.DefaultOutputFormat}, nil
			}
			return Audio{}, &ProviderError{Provider: p.Name(), Code: "read_failed", Detail: err.Error(), Retryable: true, Cause: err}
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			continue
		}
		if errMsg := asString(raw["error"]); errMsg != "" {
			code := asString(raw["message_type"])
			if code == "" {
				code = "error"
			}
			return Audio{}, &ProviderError{Provider: p.Name(), Code: code, Detail: errMsg, Retryable: reliability.IsRetryableRealtimeMessageType(code)}
		}
		if chunk := asString(raw["audio"]); chunk != "" {
			decoded, err := base64.StdEncoding.DecodeString(chunk)
			if err != nil {
				return Audio{}, p.fail("invalid_audio", err.Error(), err)
			}
			clip = append(clip, decoded...)
		}
		if asBool(raw["isFinal"]) || asBool(raw["is_final"]) {
			return Audio{Data: clip, Format: p.cfg.DefaultOutputFormat}, nil
		}
	}
}

func (p *ElevenLabsProvider) fail(code, detail string, cause error) *ProviderError {
	return &ProviderError{Provider: p.Name(), Code: code, Detail: detail, Cause: cause}
}

func ttsSettings(in TTSSettings) TTSSettings {
	out := in
	if out.Stability <= 0 {
		out.Stability = 0.42
	} else if out.Stability > 1 {
		out.Stability = 1
	}
	if out.SimilarityBoost <= 0 {
		out.SimilarityBoost = 0.85
	} else if out.SimilarityBoost > 1 {
		out.SimilarityBoost = 1
	}
	if out.Speed <= 0 {
		out.Speed = 1.0
	}
	if out.Speed < 0.7 {
		out.Speed = 0.7
	} else if out.Speed > 1.2 {
		out.Speed = 1.2
	}
	return out
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func asBool(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return false
}
