package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ent0n29/langhub/internal/events"
	"github.com/ent0n29/langhub/internal/observability"
	"github.com/ent0n29/langhub/internal/policy"
	"github.com/ent0n29/langhub/internal/reliability"
)

type SinkConfig struct {
	Retries     int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// WriteTimeout bounds one Append attempt.
	WriteTimeout time.Duration
}

func (c SinkConfig) withDefaults() SinkConfig {
	if c.Retries <= 0 {
		c.Retries = 3
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 50 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 2 * time.Second
	}
	return c
}

// Sink persists bus events. Persistence is best-effort: failures are logged
// and counted, never surfaced to the router.
type Sink struct {
	store   Store
	cfg     SinkConfig
	metrics *observability.Metrics
	logger  *zap.SugaredLogger
}

func NewSink(store Store, cfg SinkConfig, metrics *observability.Metrics, logger *zap.SugaredLogger) *Sink {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Sink{store: store, cfg: cfg.withDefaults(), metrics: metrics, logger: logger}
}

// Run persists every event from sub until ctx ends or sub closes.
func (s *Sink) Run(ctx context.Context, sub *events.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C():
			if !ok {
				return
			}
			if err := s.Record(ctx, e); err != nil {
				s.metrics.IncEventStoreErrors()
				s.logger.Warnw("event persist failed",
					"session_id", e.Session(),
					"kind", e.Kind(),
					"error", err,
				)
			}
		}
	}
}

// Record persists one event with retries. Every attempt carries the same
// record id so a retried insert cannot duplicate a committed one.
func (s *Sink) Record(ctx context.Context, e events.Event) error {
	rec, err := NewRecord(e)
	if err != nil {
		return err
	}
	rec.ID = uuid.NewString()
	return reliability.Retry(ctx, s.cfg.Retries, s.cfg.BaseBackoff, s.cfg.MaxBackoff, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
		defer cancel()
		return s.store.Append(ctx, rec)
	})
}

// NewRecord builds the stored form of e. Caller phone numbers keep their last
// two digits and provider error text has PII masked.
func NewRecord(e events.Event) (Record, error) {
	redacted := false
	switch v := e.(type) {
	case events.SessionStarted:
		if masked, changed := policy.MaskDigits(v.Hint.PhoneNumber, 2); changed {
			v.Hint.PhoneNumber = masked
			redacted = true
		}
		e = v
	case events.SynthesisError:
		if clean, changed := policy.RedactPII(v.Error); changed {
			v.Error = clean
			redacted = true
		}
		e = v
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return Record{}, fmt.Errorf("encode %s event: %w", e.Kind(), err)
	}
	return Record{
		SessionID: e.Session(),
		Kind:      e.Kind(),
		Payload:   payload,
		Redacted:  redacted,
		At:        e.Time(),
	}, nil
}
