package moderation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedScorer returns the same compound score for every text.
type fixedScorer float64

func (f fixedScorer) Compound(string) float64 { return float64(f) }

func TestSignals_Adjustment(t *testing.T) {
	lex := DefaultLexicon()

	tests := []struct {
		name      string
		text      string
		raw       float64
		positive  bool
		sentiment float64
	}{
		{"positive with profanity is boosted", "you've got the guts to do scary shit", -0.4, true, -0.1},
		{"filler gets the larger boost", "this project is cool as fuck", -0.2, true, 0.3},
		{"fuck it filler", "say fuck it and move forward", -0.6, true, -0.1},
		{"no profanity no boost", "you are amazing", -0.2, true, -0.2},
		{"positive raw score untouched", "beautiful shit right there", 0.5, true, 0.5},
		{"no positive context no boost", "this is shit", -0.5, false, -0.5},
		{"zero raw is boosted", "brave as hell and that shit worked", 0, true, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewSignalExtractor(lex, fixedScorer(tt.raw), DefaultPolicy())
			s := e.Extract(tt.text)
			assert.Equal(t, tt.positive, s.PositiveContext)
			assert.InDelta(t, tt.raw, s.RawSentiment, 1e-9)
			assert.InDelta(t, tt.sentiment, s.Sentiment, 1e-9)
		})
	}
}

func TestSignals_Clamped(t *testing.T) {
	policy := DefaultPolicy()
	policy.SentimentBoost = 1.5

	e := NewSignalExtractor(DefaultLexicon(), fixedScorer(0), policy)
	s := e.Extract("you've got the guts to do scary shit")
	assert.Equal(t, 1.0, s.Sentiment)
}

func TestSignals_PositiveContextSets(t *testing.T) {
	e := NewSignalExtractor(DefaultLexicon(), nil, DefaultPolicy())

	for _, text := range []string{
		"you look so gorgeous",
		"I'm so proud of you",
		"you got this",
		"she is killing it tonight",
		"it takes courage",
	} {
		assert.True(t, e.Extract(text).PositiveContext, text)
	}
	for _, text := range []string{"hello there", "this is shit", "gutsy"} {
		assert.False(t, e.Extract(text).PositiveContext, text)
	}
}

func TestVaderScorer(t *testing.T) {
	v := NewVaderScorer()

	assert.Greater(t, v.Compound("I love this, it is wonderful"), 0.0)
	assert.Less(t, v.Compound("I hate this, it is terrible"), 0.0)
	assert.Equal(t, v.Compound("same input"), v.Compound("same input"))
	assert.Zero(t, v.Compound("the stream starts at nine"))
}

func TestVaderScorer_Rules(t *testing.T) {
	v := NewVaderScorer()

	assert.Greater(t, v.Compound("The food here is pretty decent"), 0.0)
	assert.Less(t, v.Compound("this is not good"), 0.0, "negation flips polarity")
	assert.Greater(t, v.Compound("very good"), v.Compound("good"))
	assert.Greater(t, v.Compound("great!!!"), v.Compound("great"))

	for _, text := range []string{"love love love love love love", "kill kill kill kill kill"} {
		c := v.Compound(text)
		assert.LessOrEqual(t, c, 1.0)
		assert.GreaterOrEqual(t, c, -1.0)
	}
}

func TestSignals_ProfanityBoostWithVader(t *testing.T) {
	e := NewSignalExtractor(DefaultLexicon(), NewVaderScorer(), DefaultPolicy())

	s := e.Extract("You've got the guts to do scary shit, and that's strength.")
	require.True(t, s.PositiveContext)
	require.Less(t, s.RawSentiment, 0.0)
	assert.InDelta(t, s.RawSentiment+DefaultPolicy().SentimentBoost, s.Sentiment, 1e-9)
	assert.GreaterOrEqual(t, s.Sentiment, DefaultPolicy().OverrideMinSentiment)
}
