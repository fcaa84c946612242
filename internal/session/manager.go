package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ent0n29/langhub/internal/language"
	"github.com/ent0n29/langhub/internal/routing"
)

var (
	ErrNotFound      = errors.New("session not found")
	ErrAlreadyExists = errors.New("session already exists")
)

// LanguageSession is the language state of one call.
type LanguageSession struct {
	SessionID       string               `json:"sessionId"`
	CurrentLanguage language.Code        `json:"currentLanguage"`
	Confirmed       bool                 `json:"confirmed"`
	Supported       bool                 `json:"supported"`
	DetectionCount  int                  `json:"detectionCount"`
	SwitchCount     int                  `json:"switchCount"`
	LastDetection   *language.Detection  `json:"lastDetection,omitempty"`
	Route           routing.Route        `json:"route"`
	Hint            language.Hint        `json:"hint"`
	History         []language.Detection `json:"history,omitempty"`
	StartedAt       time.Time            `json:"startedAt"`
	LastActivityAt  time.Time            `json:"lastActivityAt"`
	EndedAt         *time.Time           `json:"endedAt,omitempty"`
}

// RecordDetection stores d as the latest detection and keeps at most limit
// history entries, dropping the oldest.
func (s *LanguageSession) RecordDetection(d language.Detection, limit int) {
	d = d.Clone()
	s.DetectionCount++
	s.LastDetection = &d
	if !d.DetectedAt.IsZero() {
		s.LastActivityAt = d.DetectedAt
	}
	if limit <= 0 {
		return
	}
	s.History = append(s.History, d)
	if over := len(s.History) - limit; over > 0 {
		s.History = append([]language.Detection(nil), s.History[over:]...)
	}
}

// Manager owns every live LanguageSession. Readers get deep copies; writes go
// through Update.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*LanguageSession
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*LanguageSession)}
}

func (m *Manager) Create(s LanguageSession) (*LanguageSession, error) {
	if s.SessionID == "" {
		return nil, errors.New("session id is required")
	}
	now := time.Now().UTC()
	if s.StartedAt.IsZero() {
		s.StartedAt = now
	}
	if s.LastActivityAt.IsZero() {
		s.LastActivityAt = s.StartedAt
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.SessionID]; exists {
		return nil, ErrAlreadyExists
	}
	stored := clone(&s)
	m.sessions[s.SessionID] = stored
	return clone(stored), nil
}

func (m *Manager) Get(sessionID string) (*LanguageSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// Update applies fn to the stored session under the write lock and returns a
// copy of the result. fn must not retain s.
func (m *Manager) Update(sessionID string, fn func(s *LanguageSession)) (*LanguageSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	fn(s)
	return clone(s), nil
}

// End removes the session and returns its final state stamped with EndedAt.
func (m *Manager) End(sessionID string) (*LanguageSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.sessions, sessionID)
	now := time.Now().UTC()
	s.EndedAt = &now
	s.LastActivityAt = now
	return clone(s), nil
}

// List returns copies of all sessions ordered by start time.
func (m *Manager) List() []*LanguageSession {
	m.mu.RLock()
	out := make([]*LanguageSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, clone(s))
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// LanguageCounts reports how many sessions are on each language.
func (m *Manager) LanguageCounts() map[language.Code]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[language.Code]int)
	for _, s := range m.sessions {
		out[s.CurrentLanguage]++
	}
	return out
}

func clone(s *LanguageSession) *LanguageSession {
	c := *s
	if s.LastDetection != nil {
		d := s.LastDetection.Clone()
		c.LastDetection = &d
	}
	if s.History != nil {
		c.History = make([]language.Detection, len(s.History))
		for i, d := range s.History {
			c.History[i] = d.Clone()
		}
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return &c
}
