package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ent0n29/langhub/internal/language"
	"github.com/ent0n29/langhub/internal/routing"
)

// Config contains all runtime settings for the language hub.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool
	LogLevel         string

	SupportedLanguages    language.Set
	FallbackLanguage      language.Code
	ConfidenceThreshold   float64
	SwitchMargin          float64
	AudioConfidenceFactor float64
	DetectionHistory      int
	RouteOverrides        map[language.Code]routing.Route

	RouterMailboxSize int

	HeartbeatInterval time.Duration
	ClientTimeout     time.Duration
	SendBuffer        int
	EndIdleSessions   bool

	VoiceProvider             string
	ElevenLabsAPIKey          string
	ElevenLabsWSBaseURL       string
	ElevenLabsTTSModel        string
	ElevenLabsTTSOutputFormat string

	DatabaseURL       string
	EventStoreRetries int
}

const defaultSupported = "en,es,cs,de,fr,sk,pl,it,pt"

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                  envOrDefault("APP_BIND_ADDR", ":8080"),
		ShutdownTimeout:           15 * time.Second,
		MetricsNamespace:          envOrDefault("APP_METRICS_NAMESPACE", "langhub"),
		LogLevel:                  strings.ToLower(envOrDefault("APP_LOG_LEVEL", "info")),
		SupportedLanguages:        language.ParseSet(envOrDefault("LANG_SUPPORTED", defaultSupported)),
		FallbackLanguage:          language.Normalize(envOrDefault("LANG_FALLBACK", "en")),
		ConfidenceThreshold:       0.75,
		AudioConfidenceFactor:     0.85,
		DetectionHistory:          20,
		RouterMailboxSize:         64,
		HeartbeatInterval:         30 * time.Second,
		ClientTimeout:             60 * time.Second,
		SendBuffer:                64,
		VoiceProvider:             strings.ToLower(envOrDefault("VOICE_PROVIDER", "auto")),
		ElevenLabsAPIKey:          stringsTrimSpace("ELEVENLABS_API_KEY"),
		ElevenLabsWSBaseURL:       envOrDefault("ELEVENLABS_WS_BASE_URL", "wss://api.elevenlabs.io"),
		ElevenLabsTTSModel:        envOrDefault("ELEVENLABS_TTS_MODEL_ID", "eleven_multilingual_v2"),
		ElevenLabsTTSOutputFormat: envOrDefault("ELEVENLABS_TTS_OUTPUT_FORMAT", "mp3_44100_128"),
		DatabaseURL:               stringsTrimSpace("DATABASE_URL"),
		EventStoreRetries:         3,
	}
	var err error
	if cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin); err != nil {
		return Config{}, err
	}
	if cfg.ConfidenceThreshold, err = floatFromEnv("LANG_CONFIDENCE_THRESHOLD", cfg.ConfidenceThreshold); err != nil {
		return Config{}, err
	}
	if cfg.SwitchMargin, err = floatFromEnv("LANG_SWITCH_MARGIN", cfg.SwitchMargin); err != nil {
		return Config{}, err
	}
	if cfg.AudioConfidenceFactor, err = floatFromEnv("LANG_AUDIO_CONFIDENCE_FACTOR", cfg.AudioConfidenceFactor); err != nil {
		return Config{}, err
	}
	if cfg.DetectionHistory, err = intFromEnv("LANG_DETECTION_HISTORY", cfg.DetectionHistory); err != nil {
		return Config{}, err
	}
	if cfg.RouteOverrides, err = routing.ParseOverrides(stringsTrimSpace("LANG_ROUTES")); err != nil {
		return Config{}, fmt.Errorf("LANG_ROUTES parse error: %w", err)
	}
	if cfg.RouterMailboxSize, err = intFromEnv("ROUTER_MAILBOX_SIZE", cfg.RouterMailboxSize); err != nil {
		return Config{}, err
	}
	if cfg.HeartbeatInterval, err = durationFromEnv("HUB_HEARTBEAT_INTERVAL", cfg.HeartbeatInterval); err != nil {
		return Config{}, err
	}
	if cfg.ClientTimeout, err = durationFromEnv("HUB_CLIENT_TIMEOUT", cfg.ClientTimeout); err != nil {
		return Config{}, err
	}
	if cfg.SendBuffer, err = intFromEnv("HUB_SEND_BUFFER", cfg.SendBuffer); err != nil {
		return Config{}, err
	}
	if cfg.EndIdleSessions, err = boolFromEnv("HUB_END_IDLE_SESSIONS", cfg.EndIdleSessions); err != nil {
		return Config{}, err
	}
	if cfg.EventStoreRetries, err = intFromEnv("EVENT_STORE_RETRIES", cfg.EventStoreRetries); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch {
	case c.SupportedLanguages.Len() == 0:
		return fmt.Errorf("LANG_SUPPORTED must list at least one language")
	case !c.SupportedLanguages.Contains(c.FallbackLanguage):
		return fmt.Errorf("LANG_FALLBACK %q must be one of LANG_SUPPORTED", c.FallbackLanguage)
	case c.ConfidenceThreshold <= 0 || c.ConfidenceThreshold > 1:
		return fmt.Errorf("LANG_CONFIDENCE_THRESHOLD must be in (0,1]")
	case c.SwitchMargin < 0 || c.SwitchMargin >= 1:
		return fmt.Errorf("LANG_SWITCH_MARGIN must be in [0,1)")
	case c.AudioConfidenceFactor <= 0 || c.AudioConfidenceFactor > 1:
		return fmt.Errorf("LANG_AUDIO_CONFIDENCE_FACTOR must be in (0,1]")
	case c.DetectionHistory < 0:
		return fmt.Errorf("LANG_DETECTION_HISTORY must be >= 0")
	case c.RouterMailboxSize <= 0:
		return fmt.Errorf("ROUTER_MAILBOX_SIZE must be positive")
	case c.HeartbeatInterval < time.Second:
		return fmt.Errorf("HUB_HEARTBEAT_INTERVAL must be at least 1s")
	case c.ClientTimeout < c.HeartbeatInterval:
		return fmt.Errorf("HUB_CLIENT_TIMEOUT must be >= HUB_HEARTBEAT_INTERVAL")
	case c.SendBuffer <= 0:
		return fmt.Errorf("HUB_SEND_BUFFER must be positive")
	case c.EventStoreRetries <= 0:
		return fmt.Errorf("EVENT_STORE_RETRIES must be positive")
	}
	switch c.VoiceProvider {
	case "auto", "elevenlabs", "mock":
	default:
		return fmt.Errorf("VOICE_PROVIDER must be one of auto, elevenlabs, mock")
	}
	if c.VoiceProvider == "elevenlabs" && c.ElevenLabsAPIKey == "" {
		return fmt.Errorf("ELEVENLABS_API_KEY is required when VOICE_PROVIDER=elevenlabs")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("APP_LOG_LEVEL must be one of debug, info, warn, error")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\n' || v[0] == '\t' || v[0] == '\r') {
		v = v[1:]
	}
	for len(v) > 0 {
		c := v[len(v)-1]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			v = v[:len(v)-1]
			continue
		}
		break
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
