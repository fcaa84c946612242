package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

func newElevenLabsTestServer(t *testing.T, respond func(conn *websocket.Conn)) (*httptest.Server, <-chan string) {
	t.Helper()
	seenPath := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case seenPath <- r.URL.Path + "?" + r.URL.RawQuery:
		default:
		}
		if r.Header.Get("xi-api-key") != "test-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// prime, text, close-input
		for i := 0; i < 3; i++ {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
		respond(conn)
	}))
	t.Cleanup(srv.Close)
	return srv, seenPath
}

func TestElevenLabsProviderCollectsAudio(t *testing.T) {
	srv, seenPath := newElevenLabsTestServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(map[string]any{"audio": base64.StdEncoding.EncodeToString([]byte("abc"))})
		_ = conn.WriteJSON(map[string]any{"audio": base64.StdEncoding.EncodeToString([]byte("def"))})
		_ = conn.WriteJSON(map[string]any{"isFinal": true})
	})

	p := NewElevenLabsProvider(ElevenLabsConfig{
		APIKey:    "test-key",
		WSBaseURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
	})
	out, err := p.Synthesize(context.Background(), SynthesisRequest{Text: "Hola", VoiceID: "voice-es", Language: "es"})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if string(out.Data) != "abcdef" {
		t.Fatalf("Data = %q, want %q", out.Data, "abcdef")
	}
	if out.Format != "mp3_44100_128" {
		t.Fatalf("Format = %q, want default output format", out.Format)
	}
	path := <-seenPath
	if !strings.Contains(path, "/v1/text-to-speech/voice-es/stream-input") || !strings.Contains(path, "language_code=es") {
		t.Fatalf("request path = %q, want voice + language", path)
	}
}

func TestElevenLabsProviderSurfacesUpstreamError(t *testing.T) {
	srv, _ := newElevenLabsTestServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(map[string]any{"message_type": "rate_limited", "error": "slow down"})
	})

	p := NewElevenLabsProvider(ElevenLabsConfig{
		APIKey:    "test-key",
		WSBaseURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
	})
	_, err := p.Synthesize(context.Background(), SynthesisRequest{Text: "Hola", VoiceID: "voice-es"})
	if !errors.Is(err, ErrSynthesis) {
		t.Fatalf("error = %v, want ErrSynthesis", err)
	}
	pe, ok := AsProviderError(err)
	if !ok {
		t.Fatalf("error = %T, want *ProviderError", err)
	}
	if pe.Code != "rate_limited" || !pe.Retryable {
		t.Fatalf("provider error = %+v, want retryable rate_limited", pe)
	}
}

func TestElevenLabsProviderDialFailureIsClassified(t *testing.T) {
	srv, _ := newElevenLabsTestServer(t, func(*websocket.Conn) {})

	p := NewElevenLabsProvider(ElevenLabsConfig{
		APIKey:    "wrong-key",
		WSBaseURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
	})
	_, err := p.Synthesize(context.Background(), SynthesisRequest{Text: "Hola", VoiceID: "voice-es"})
	pe, ok := AsProviderError(err)
	if !ok {
		t.Fatalf("error = %v, want *ProviderError", err)
	}
	if pe.Code != "http_401" || pe.Retryable {
		t.Fatalf("provider error = %+v, want non-retryable http_401", pe)
	}
}
