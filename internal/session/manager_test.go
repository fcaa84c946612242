package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/langhub/internal/language"
	"github.com/ent0n29/langhub/internal/routing"
)

func TestManagerCreateGetEnd(t *testing.T) {
	m := NewManager()
	s, err := m.Create(LanguageSession{
		SessionID:       "call-1",
		CurrentLanguage: "en",
		Supported:       true,
		Route:           routing.Route{Provider: "mock", VoiceID: "en_mock", Language: "en"},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if s.StartedAt.IsZero() {
		t.Fatalf("StartedAt should be set")
	}
	if _, err := m.Create(LanguageSession{SessionID: "call-1"}); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate Create() error = %v, want ErrAlreadyExists", err)
	}

	got, err := m.Get("call-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.CurrentLanguage != "en" || got.Route.VoiceID != "en_mock" {
		t.Fatalf("unexpected session state: %+v", got)
	}
	if m.ActiveCount() != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", m.ActiveCount())
	}

	ended, err := m.End("call-1")
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.EndedAt == nil {
		t.Fatalf("EndedAt should be set")
	}
	if _, err := m.Get("call-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after End error = %v, want ErrNotFound", err)
	}
	if _, err := m.End("call-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second End() error = %v, want ErrNotFound", err)
	}
}

func TestManagerGetReturnsDeepCopy(t *testing.T) {
	m := NewManager()
	if _, err := m.Create(LanguageSession{SessionID: "s"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	_, err := m.Update("s", func(s *LanguageSession) {
		s.RecordDetection(language.Detection{
			Language:     "es",
			Confidence:   0.9,
			Alternatives: []language.Alternative{{Language: "en", Score: 0.1}},
			DetectedAt:   time.Now(),
		}, 5)
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, _ := m.Get("s")
	got.LastDetection.Alternatives[0].Score = 1
	got.History[0].Language = "cs"
	got.CurrentLanguage = "de"

	again, _ := m.Get("s")
	if again.LastDetection.Alternatives[0].Score != 0.1 || again.History[0].Language != "es" || again.CurrentLanguage != "" {
		t.Fatalf("stored session was mutated through a copy: %+v", again)
	}
}

func TestRecordDetectionCapsHistory(t *testing.T) {
	var s LanguageSession
	for i := 0; i < 5; i++ {
		s.RecordDetection(language.Detection{Language: "en", Confidence: float64(i) / 10}, 3)
	}
	if s.DetectionCount != 5 {
		t.Fatalf("DetectionCount = %d, want 5", s.DetectionCount)
	}
	if len(s.History) != 3 {
		t.Fatalf("len(History) = %d, want 3", len(s.History))
	}
	if s.History[0].Confidence != 0.2 || s.LastDetection.Confidence != 0.4 {
		t.Fatalf("history kept wrong entries: %+v", s.History)
	}
}

func TestManagerUpdateUnknown(t *testing.T) {
	m := NewManager()
	if _, err := m.Update("missing", func(*LanguageSession) {}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Update() error = %v, want ErrNotFound", err)
	}
}

func TestManagerConcurrentUpdates(t *testing.T) {
	m := NewManager()
	for _, id := range []string{"a", "b"} {
		if _, err := m.Create(LanguageSession{SessionID: id, CurrentLanguage: "en"}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "a"
			if i%2 == 1 {
				id = "b"
			}
			_, _ = m.Update(id, func(s *LanguageSession) { s.SwitchCount++ })
			_ = m.List()
		}(i)
	}
	wg.Wait()
	a, _ := m.Get("a")
	b, _ := m.Get("b")
	if a.SwitchCount != 25 || b.SwitchCount != 25 {
		t.Fatalf("SwitchCount = %d/%d, want 25/25", a.SwitchCount, b.SwitchCount)
	}
	if counts := m.LanguageCounts(); counts["en"] != 2 {
		t.Fatalf("LanguageCounts() = %v", counts)
	}
}
