package moderation

// SentimentScorer returns a compound polarity in [-1, 1].
type SentimentScorer interface {
	Compound(text string) float64
}

// Signals qualifies raw lexical hits.
type Signals struct {
	PositiveContext bool
	// Sentiment is the adjusted compound score consumed by override rules.
	Sentiment float64
	// RawSentiment is the scorer's unadjusted output.
	RawSentiment float64
	// SoftProfanity is set when the text contains soft profanity.
	SoftProfanity bool
}

// SignalExtractor detects motivational or complimentary language and
// sentiment polarity.
type SignalExtractor struct {
	lexicon *Lexicon
	scorer  SentimentScorer
	policy  Policy
}

// NewSignalExtractor builds an extractor. A nil scorer yields neutral
// sentiment for every text.
func NewSignalExtractor(lexicon *Lexicon, scorer SentimentScorer, policy Policy) *SignalExtractor {
	return &SignalExtractor{lexicon: lexicon, scorer: scorer, policy: policy}
}

// Extract computes the signals for raw text.
func (e *SignalExtractor) Extract(text string) Signals {
	return e.extract(text, normalize(text))
}

func (e *SignalExtractor) extract(text, norm string) Signals {
	s := Signals{
		PositiveContext: e.lexicon.isPositive(norm),
		SoftProfanity:   e.lexicon.HasSoftProfanity(norm),
	}
	if e.scorer != nil {
		s.RawSentiment = e.scorer.Compound(text)
	}
	s.Sentiment = s.RawSentiment

	// Profanity drags VADER's score down even when it is used as an
	// intensifier in an otherwise positive sentence.
	if s.PositiveContext && s.RawSentiment <= 0 && s.SoftProfanity {
		delta := e.policy.SentimentBoost
		if e.lexicon.hasFiller(norm) {
			delta = e.policy.FillerBoost
		}
		s.Sentiment = clamp(s.RawSentiment+delta, -1, 1)
	}
	return s
}

func clamp(v, lo, hi float64) float64 {
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	default:
		return v
	}
}
