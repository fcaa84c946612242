package observability

import (
	"testing"
	"time"
)

func TestLatencyWindowSnapshot(t *testing.T) {
	w := NewLatencyWindow(8)
	w.Observe(StageSynthesize, 500*time.Millisecond)
	w.Observe(StageSynthesize, 700*time.Millisecond)
	w.Observe(StageSynthesize, 900*time.Millisecond)
	w.ObserveIndicator("language_switch")
	w.ObserveIndicator("language_switch")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != StageSynthesize {
		t.Fatalf("Stage = %q, want %q", s.Stage, StageSynthesize)
	}
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.LastMS != 900 {
		t.Fatalf("LastMS = %.2f, want 900", s.LastMS)
	}
	if s.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", s.P50MS)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if s.TargetP95MS != 800 {
		t.Fatalf("TargetP95MS = %.2f, want 800", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators = %+v, want one with count 2", snap.Indicators)
	}
}

func TestLatencyWindowWrapsAround(t *testing.T) {
	w := NewLatencyWindow(2)
	for _, ms := range []int{10, 20, 30} {
		w.Observe(StageFanout, time.Duration(ms)*time.Millisecond)
	}
	s := w.Snapshot().Stages[0]
	if s.Samples != 2 || s.AvgMS != 25 {
		t.Fatalf("stats = %+v, want 2 samples averaging 25", s)
	}
	w.Reset()
	if len(w.Snapshot().Stages) != 0 {
		t.Fatalf("Reset() kept samples")
	}
}

func TestNilLatencyWindowIsSafe(t *testing.T) {
	var w *LatencyWindow
	w.Observe(StageDetectText, time.Millisecond)
	w.ObserveIndicator("x")
	if snap := w.Snapshot(); len(snap.Stages) != 0 {
		t.Fatalf("nil snapshot has stages")
	}
}
