package moderation

import (
	"github.com/jonreiter/govader"
)

// VaderScorer scores polarity with the VADER lexicon and rules. The
// analyzer is read-only after construction and safe for concurrent use.
type VaderScorer struct {
	analyzer *govader.SentimentIntensityAnalyzer
}

// NewVaderScorer loads the VADER lexicon. Build it once at startup.
func NewVaderScorer() *VaderScorer {
	return &VaderScorer{analyzer: govader.NewSentimentIntensityAnalyzer()}
}

// Compound returns VADER's normalized compound score in [-1, 1].
func (v *VaderScorer) Compound(text string) float64 {
	// Curly apostrophes would hide negations like "don’t" from VADER.
	return v.analyzer.PolarityScores(quoteReplacer.Replace(text)).Compound
}
