package language

import (
	"sort"
	"time"
)

// Source identifies what a detection was computed from.
type Source string

const (
	SourceText    Source = "text"
	SourceAudio   Source = "audio"
	SourceContext Source = "context"
)

type Alternative struct {
	Language Code    `json:"language"`
	Score    float64 `json:"score"`
}

// Detection is the immutable result of one detection call.
type Detection struct {
	Language          Code          `json:"language"`
	Confidence        float64       `json:"confidence"`
	Source            Source        `json:"source"`
	Alternatives      []Alternative `json:"alternatives"`
	MixedLanguages    bool          `json:"mixedLanguages,omitempty"`
	DetectedLanguages []Code        `json:"detectedLanguages,omitempty"`
	DetectedAt        time.Time     `json:"detectedAt"`
}

// IsTie reports whether another language scored at least as high as the
// winning one.
func (d Detection) IsTie() bool {
	for _, alt := range d.Alternatives {
		if alt.Language != d.Language && alt.Score >= d.Confidence {
			return true
		}
	}
	return false
}

// Margin is the confidence lead over the best competing language.
func (d Detection) Margin() float64 {
	best := 0.0
	for _, alt := range d.Alternatives {
		if alt.Language != d.Language && alt.Score > best {
			best = alt.Score
		}
	}
	return d.Confidence - best
}

func (d Detection) Clone() Detection {
	c := d
	if d.Alternatives != nil {
		c.Alternatives = append([]Alternative(nil), d.Alternatives...)
	}
	if d.DetectedLanguages != nil {
		c.DetectedLanguages = append([]Code(nil), d.DetectedLanguages...)
	}
	return c
}

// SortAlternatives orders alternatives by descending score, then code.
func SortAlternatives(alts []Alternative) {
	sort.SliceStable(alts, func(i, j int) bool {
		if alts[i].Score == alts[j].Score {
			return alts[i].Language < alts[j].Language
		}
		return alts[i].Score > alts[j].Score
	})
}

// ClampConfidence bounds v to [0,1].
func ClampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
