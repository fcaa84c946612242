package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/langhub/internal/audio"
	"github.com/ent0n29/langhub/internal/events"
	"github.com/ent0n29/langhub/internal/protocol"
)

type options struct {
	baseURL         string
	clients         int
	detections      int
	detectTimeout   time.Duration
	interDetectWait time.Duration
	texts           []string
	speech          bool
	verbose         bool
}

type startSessionResponse struct {
	SessionID string `json:"sessionId"`
}

type detectRequest struct {
	Text string `json:"text"`
}

type speechRequest struct {
	Text string `json:"text"`
}

type wsFrame struct {
	Event string `json:"event"`
}

// delivery is one language_detected frame seen by one client.
type delivery struct {
	client int
	at     time.Time
}

var defaultTexts = []string{
	"Hello, how are you doing today? I would like to book a table for two.",
	"Hola, ¿cómo estás? Me gustaría reservar una mesa para dos personas.",
	"Dobrý den, jak se máte? Chtěl bych si rezervovat stůl pro dva.",
	"Guten Tag, wie geht es Ihnen? Ich möchte einen Tisch für zwei reservieren.",
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fanoutprobe: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "fanoutprobe: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var textsRaw string
	var timeoutMS int
	var interMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "langhub base URL")
	flag.IntVar(&cfg.clients, "clients", 8, "websocket clients attached to the probe session")
	flag.IntVar(&cfg.detections, "detections", 20, "number of detections to drive")
	flag.IntVar(&timeoutMS, "timeout-ms", 5000, "timeout waiting for every client to see a detection, in milliseconds")
	flag.IntVar(&interMS, "inter-detect-ms", 50, "delay between detections in milliseconds")
	flag.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	flag.BoolVar(&cfg.speech, "speech", false, "synthesize the last utterance on the session route after the run")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print probe progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.clients <= 0 || cfg.clients > 10000 {
		return options{}, fmt.Errorf("clients must be in [1,10000]")
	}
	if cfg.detections <= 0 {
		return options{}, fmt.Errorf("detections must be > 0")
	}
	if timeoutMS < 100 {
		timeoutMS = 100
	}
	if interMS < 0 {
		interMS = 0
	}
	cfg.detectTimeout = time.Duration(timeoutMS) * time.Millisecond
	cfg.interDetectWait = time.Duration(interMS) * time.Millisecond

	texts, err := splitTexts(textsRaw)
	if err != nil {
		return options{}, err
	}
	cfg.texts = texts
	return cfg, nil
}

func splitTexts(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return append([]string(nil), defaultTexts...), nil
	}
	var out []string
	for _, part := range strings.Split(raw, "|") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("texts produced no non-empty utterances")
	}
	return out, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	httpClient := &http.Client{Timeout: 30 * time.Second}
	sessionID, err := startSession(ctx, httpClient, cfg.baseURL)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer func() {
		_ = endSession(context.Background(), httpClient, cfg.baseURL, sessionID)
	}()

	wsURL, err := wsURLForSession(cfg.baseURL, sessionID)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}

	deliveries := make(chan delivery, cfg.clients*4)
	readErrCh := make(chan error, cfg.clients)
	conns := make([]*websocket.Conn, 0, cfg.clients)
	defer func() {
		for _, conn := range conns {
			_ = conn.Close()
		}
	}()
	for i := 0; i < cfg.clients; i++ {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			return fmt.Errorf("open websocket %d: %w", i, err)
		}
		conns = append(conns, conn)
		if err := awaitWelcome(conn, cfg.detectTimeout); err != nil {
			return fmt.Errorf("client %d welcome: %w", i, err)
		}
		go readLoop(conn, i, deliveries, readErrCh)
	}

	if cfg.verbose {
		fmt.Printf("fanoutprobe: session=%s clients=%d detections=%d\n", sessionID, cfg.clients, cfg.detections)
	}

	latencies := make([]time.Duration, 0, cfg.clients*cfg.detections)
	for i := 0; i < cfg.detections; i++ {
		text := cfg.texts[i%len(cfg.texts)]
		sentAt := time.Now()
		if err := detect(ctx, httpClient, cfg.baseURL, sessionID, text); err != nil {
			return fmt.Errorf("detection %d: %w", i+1, err)
		}
		got, err := collect(deliveries, readErrCh, cfg.clients, sentAt, cfg.detectTimeout)
		if err != nil {
			return fmt.Errorf("detection %d: %w", i+1, err)
		}
		latencies = append(latencies, got...)
		if cfg.verbose {
			s := summarize(got)
			fmt.Printf("fanoutprobe: detection %d/%d p50=%s max=%s\n", i+1, cfg.detections, s.P50, s.Max)
		}
		if cfg.interDetectWait > 0 && i < cfg.detections-1 {
			time.Sleep(cfg.interDetectWait)
		}
	}

	s := summarize(latencies)
	fmt.Printf("fanoutprobe: deliveries=%d p50=%s p95=%s p99=%s max=%s\n", s.Count, s.P50, s.P95, s.P99, s.Max)

	if cfg.speech {
		text := cfg.texts[(cfg.detections-1)%len(cfg.texts)]
		format, d, err := synthesize(ctx, httpClient, cfg.baseURL, sessionID, text)
		if err != nil {
			return fmt.Errorf("speech: %w", err)
		}
		fmt.Printf("fanoutprobe: speech format=%s duration=%s\n", format, d)
	}
	return nil
}

func startSession(ctx context.Context, client *http.Client, baseURL string) (string, error) {
	body, status, err := postJSON(ctx, client, baseURL+"/v1/sessions", struct{}{})
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("HTTP %d: %s", status, strings.TrimSpace(string(body)))
	}
	var out startSessionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return "", fmt.Errorf("missing sessionId in response")
	}
	return out.SessionID, nil
}

func endSession(ctx context.Context, client *http.Client, baseURL, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return nil
	}
	_, _, err := postJSON(ctx, client, baseURL+"/v1/sessions/"+url.PathEscape(sessionID)+"/end", nil)
	return err
}

func detect(ctx context.Context, client *http.Client, baseURL, sessionID, text string) error {
	body, status, err := postJSON(ctx, client, baseURL+"/v1/sessions/"+url.PathEscape(sessionID)+"/detect", detectRequest{Text: text})
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", status, strings.TrimSpace(string(body)))
	}
	return nil
}

func synthesize(ctx context.Context, client *http.Client, baseURL, sessionID, text string) (string, time.Duration, error) {
	payload, err := json.Marshal(speechRequest{Text: text})
	if err != nil {
		return "", 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/sessions/"+url.PathEscape(sessionID)+"/speech", bytes.NewReader(payload))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 32<<20))
	if err != nil {
		return "", 0, err
	}
	if res.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	format := res.Header.Get("X-Audio-Format")
	if !strings.Contains(res.Header.Get("Content-Type"), "wav") {
		return format, 0, nil
	}
	d, err := audio.WAVDuration(body)
	if err != nil {
		return format, 0, fmt.Errorf("decode wav: %w", err)
	}
	return format, d, nil
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, in any) ([]byte, int, error) {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, 0, err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, reader)
	if err != nil {
		return nil, 0, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, 0, err
	}
	return body, res.StatusCode, nil
}

func wsURLForSession(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/ws"
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// awaitWelcome reads the language_status frame every client gets on attach.
func awaitWelcome(conn *websocket.Conn, timeout time.Duration) error {
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	defer conn.SetReadDeadline(time.Time{})
	_, data, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	var f wsFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	if f.Event != protocol.EventLanguageStatus {
		return fmt.Errorf("first frame %q, want language_status", f.Event)
	}
	return nil
}

func readLoop(conn *websocket.Conn, client int, out chan<- delivery, readErrCh chan<- error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErrCh <- fmt.Errorf("client %d: %w", client, err):
			default:
			}
			return
		}
		var f wsFrame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		if f.Event == string(events.KindLanguageDetected) {
			out <- delivery{client: client, at: time.Now()}
		}
	}
}

// collect waits until every client has seen one language_detected frame and
// returns the per-client latency since sentAt.
func collect(in <-chan delivery, readErrCh <-chan error, clients int, sentAt time.Time, timeout time.Duration) ([]time.Duration, error) {
	seen := make(map[int]struct{}, clients)
	out := make([]time.Duration, 0, clients)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for len(seen) < clients {
		select {
		case d := <-in:
			if _, dup := seen[d.client]; dup {
				continue
			}
			seen[d.client] = struct{}{}
			out = append(out, d.at.Sub(sentAt))
		case err := <-readErrCh:
			return nil, fmt.Errorf("ws read: %w", err)
		case <-timer.C:
			return nil, fmt.Errorf("%d of %d clients received language_detected before timeout", len(seen), clients)
		}
	}
	return out, nil
}

type summary struct {
	Count int
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
	Max   time.Duration
}

func summarize(samples []time.Duration) summary {
	if len(samples) == 0 {
		return summary{}
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return summary{
		Count: len(sorted),
		P50:   percentile(sorted, 0.50),
		P95:   percentile(sorted, 0.95),
		P99:   percentile(sorted, 0.99),
		Max:   sorted[len(sorted)-1],
	}
}

// percentile uses nearest-rank on an ascending slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
