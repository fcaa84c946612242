package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	ActiveSessions   prometheus.Gauge
	ConnectedClients prometheus.Gauge
	DomainEvents     *prometheus.CounterVec
	Detections       *prometheus.CounterVec
	LanguageSwitches *prometheus.CounterVec
	WSMessages       *prometheus.CounterVec
	DroppedFrames    prometheus.Counter
	EvictedClients   prometheus.Counter
	ProviderErrors   *prometheus.CounterVec
	EventStoreErrors prometheus.Counter
	SynthesisLatency prometheus.Histogram
	DetectionLatency *prometheus.HistogramVec

	window *LatencyWindow
}

// NewMetrics registers instruments on reg, or on the default registry when reg
// is nil.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live language sessions.",
		}),
		ConnectedClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_clients",
			Help:      "Number of attached WebSocket clients.",
		}),
		DomainEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "domain_events_total",
			Help:      "Router events by type.",
		}, []string{"event"}),
		Detections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "Language detections by source and decision.",
		}, []string{"source", "decision"}),
		LanguageSwitches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "language_switches_total",
			Help:      "Session language switches by target language and trigger.",
		}, []string{"language", "trigger"}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		DroppedFrames: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_dropped_frames_total",
			Help:      "Outbound frames dropped because a client send buffer was full.",
		}),
		EvictedClients: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_evicted_clients_total",
			Help:      "Clients removed by the heartbeat monitor.",
		}),
		ProviderErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by provider and code.",
		}, []string{"provider", "code"}),
		EventStoreErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_store_errors_total",
			Help:      "Events that could not be persisted after retries.",
		}),
		SynthesisLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_latency_ms",
			Help:      "Speech synthesis latency in milliseconds.",
			Buckets:   []float64{50, 100, 200, 300, 500, 800, 1200, 2000, 4000},
		}),
		DetectionLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "detection_latency_ms",
			Help:      "Language detection latency in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}, []string{"source"}),
		window: NewLatencyWindow(512),
	}
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

func (m *Metrics) SetConnectedClients(n int) {
	if m == nil {
		return
	}
	m.ConnectedClients.Set(float64(n))
}

func (m *Metrics) ObserveEvent(kind string) {
	if m == nil {
		return
	}
	m.DomainEvents.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveDetection(source, decision string, d time.Duration) {
	if m == nil {
		return
	}
	m.Detections.WithLabelValues(source, decision).Inc()
	m.DetectionLatency.WithLabelValues(source).Observe(float64(d.Milliseconds()))
	stage := StageDetectText
	if source == "audio" {
		stage = StageDetectAudio
	}
	m.window.Observe(stage, d)
	m.window.ObserveIndicator("decision_" + decision)
}

func (m *Metrics) ObserveSwitch(lang, trigger string) {
	if m == nil {
		return
	}
	m.LanguageSwitches.WithLabelValues(lang, trigger).Inc()
}

func (m *Metrics) ObserveSynthesis(d time.Duration) {
	if m == nil {
		return
	}
	m.SynthesisLatency.Observe(float64(d.Milliseconds()))
	m.window.Observe(StageSynthesize, d)
}

func (m *Metrics) ObserveProviderError(provider, code string) {
	if m == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(provider, code).Inc()
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) ObserveFanout(d time.Duration) {
	if m == nil {
		return
	}
	m.window.Observe(StageFanout, d)
}

func (m *Metrics) IncDroppedFrames() {
	if m == nil {
		return
	}
	m.DroppedFrames.Inc()
	m.window.ObserveIndicator("frame_dropped")
}

func (m *Metrics) IncEvictedClients() {
	if m == nil {
		return
	}
	m.EvictedClients.Inc()
}

func (m *Metrics) IncEventStoreErrors() {
	if m == nil {
		return
	}
	m.EventStoreErrors.Inc()
}

// SnapshotLatency returns the rolling latency window.
func (m *Metrics) SnapshotLatency() LatencySnapshot {
	if m == nil {
		return (*LatencyWindow)(nil).Snapshot()
	}
	return m.window.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
