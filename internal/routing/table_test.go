package routing

import (
	"errors"
	"sync"
	"testing"

	"github.com/ent0n29/langhub/internal/language"
)

func newTestTable(t *testing.T) *Table {
	t.Helper()
	table, err := NewTable(language.ParseSet("en,es,cs"), "en", "mock", Catalog{"es": {"es_a", "es_b"}})
	if err != nil {
		t.Fatalf("NewTable() error = %v", err)
	}
	return table
}

func TestNewTableRejectsUnsupportedFallback(t *testing.T) {
	_, err := NewTable(language.ParseSet("es,cs"), "en", "mock", nil)
	if !errors.Is(err, ErrUnsupportedLanguage) {
		t.Fatalf("error = %v, want ErrUnsupportedLanguage", err)
	}
}

func TestResolveIsTotal(t *testing.T) {
	table := newTestTable(t)

	r, ok := table.Resolve("es")
	if !ok || r.VoiceID != "es_a" || r.Provider != "mock" || r.Language != "es" {
		t.Fatalf("Resolve(es) = %+v, %v", r, ok)
	}
	r, ok = table.Resolve("cs")
	if !ok || r.VoiceID != "cs_mock" {
		t.Fatalf("Resolve(cs) = %+v, %v, want generated voice", r, ok)
	}
	r, ok = table.Resolve("ja")
	if ok {
		t.Fatalf("Resolve(ja) ok = true, want false")
	}
	if r.Language != "en" || r.VoiceID != "en_mock" {
		t.Fatalf("Resolve(ja) = %+v, want fallback route", r)
	}
}

func TestListVoicesEmptyForUnknownLanguage(t *testing.T) {
	table := newTestTable(t)
	if got := table.ListVoices("ja"); len(got) != 0 {
		t.Fatalf("ListVoices(ja) = %v, want empty", got)
	}
	got := table.ListVoices("es")
	if len(got) != 2 || got[0].ID != "es_a" || got[1].ID != "es_b" {
		t.Fatalf("ListVoices(es) = %+v", got)
	}
	got[0].ID = "mutated"
	if table.ListVoices("es")[0].ID != "es_a" {
		t.Fatalf("ListVoices returned shared storage")
	}
}

func TestSwapReplacesDefaultRoute(t *testing.T) {
	table := newTestTable(t)
	prev, err := table.Swap("es", Route{Provider: "elevenlabs", VoiceID: "xyz"})
	if err != nil {
		t.Fatalf("Swap() error = %v", err)
	}
	if prev.VoiceID != "es_a" {
		t.Fatalf("previous route = %+v, want es_a", prev)
	}
	r, _ := table.Resolve("es")
	if r.Provider != "elevenlabs" || r.VoiceID != "xyz" || r.Language != "es" {
		t.Fatalf("Resolve(es) after swap = %+v", r)
	}
	if !table.HasVoice("es", "xyz") {
		t.Fatalf("swapped voice not registered")
	}
	if _, err := table.Swap("ja", Route{Provider: "mock", VoiceID: "v"}); !errors.Is(err, ErrUnsupportedLanguage) {
		t.Fatalf("Swap(ja) error = %v, want ErrUnsupportedLanguage", err)
	}
	if _, err := table.Swap("es", Route{Provider: "mock"}); err == nil {
		t.Fatalf("Swap() without voice succeeded")
	}
}

func TestSwapConcurrentWithResolve(t *testing.T) {
	table := newTestTable(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = table.Swap("cs", Route{Provider: "mock", VoiceID: "cs_x"})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if r, _ := table.Resolve("cs"); r.Language != "cs" {
					t.Errorf("Resolve(cs) = %+v", r)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestParseOverrides(t *testing.T) {
	got, err := ParseOverrides(" es=elevenlabs:abc , CS-cz=mock:cs_voice,")
	if err != nil {
		t.Fatalf("ParseOverrides() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if r := got["cs"]; r.Provider != "mock" || r.VoiceID != "cs_voice" {
		t.Fatalf("cs override = %+v", r)
	}
	for _, bad := range []string{"es", "es=elevenlabs", "=mock:v", "es=:v"} {
		if _, err := ParseOverrides(bad); err == nil {
			t.Fatalf("ParseOverrides(%q) succeeded, want error", bad)
		}
	}
}

func TestDefaultCatalogIsCopied(t *testing.T) {
	c := DefaultCatalog("elevenlabs")
	c["en"][0] = "changed"
	if DefaultCatalog("elevenlabs")["en"][0] == "changed" {
		t.Fatalf("DefaultCatalog shares storage")
	}
	if len(DefaultCatalog("mock")) != 0 {
		t.Fatalf("mock catalog should be empty")
	}
}
