// Package eventstore persists session lifecycle events.
package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/ent0n29/langhub/internal/events"
)

// ErrNotFound is returned when a session has no stored events.
var ErrNotFound = errors.New("no events for session")

// Record is one persisted domain event.
type Record struct {
	ID        string          `json:"id"`
	SessionID string          `json:"sessionId"`
	Kind      events.Kind     `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Redacted  bool            `json:"redacted"`
	At        time.Time       `json:"at"`
}

// Store appends records and reads them back per session in append order.
type Store interface {
	Append(ctx context.Context, record Record) error
	SessionEvents(ctx context.Context, sessionID string, limit int) ([]Record, error)
	Close() error
}

// NewStore creates a postgres-backed store when configured, otherwise in-memory.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
