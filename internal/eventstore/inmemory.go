package eventstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps records in process for local runs and tests.
type InMemoryStore struct {
	mu       sync.RWMutex
	records  map[string][]Record
	capacity int
}

// NewInMemoryStore keeps at most 1000 records per session.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string][]Record), capacity: 1000}
}

func (s *InMemoryStore) Append(_ context.Context, record Record) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.At.IsZero() {
		record.At = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	arr := append(s.records[record.SessionID], record)
	if len(arr) > s.capacity {
		arr = append([]Record(nil), arr[len(arr)-s.capacity:]...)
	}
	s.records[record.SessionID] = arr
	return nil
}

// SessionEvents returns the newest limit records in append order. A limit of
// zero or less returns everything.
func (s *InMemoryStore) SessionEvents(_ context.Context, sessionID string, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.records[sessionID]
	if len(arr) == 0 {
		return nil, ErrNotFound
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]Record, limit)
	copy(out, arr[len(arr)-limit:])
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
