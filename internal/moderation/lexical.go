package moderation

import (
	"context"
	"strings"
)

// Lexical is the in-process keyword and pattern classifier. It performs no
// I/O and never returns an error.
type Lexical struct {
	lexicon *Lexicon
	signals *SignalExtractor
	policy  Policy
}

// NewLexical builds a lexical classifier over lexicon. The scorer feeds the
// context signals attached to every result.
func NewLexical(lexicon *Lexicon, scorer SentimentScorer, policy Policy) *Lexical {
	return &Lexical{
		lexicon: lexicon,
		signals: NewSignalExtractor(lexicon, scorer, policy),
		policy:  policy,
	}
}

// Lexicon exposes the word list the classifier was built with.
func (c *Lexical) Lexicon() *Lexicon { return c.lexicon }

// Classify implements Classifier.
func (c *Lexical) Classify(_ context.Context, text string) (ClassificationResult, error) {
	return c.classify(text), nil
}

func (c *Lexical) classify(text string) ClassificationResult {
	if strings.TrimSpace(text) == "" {
		return Clean(text, MethodNone)
	}

	norm := normalize(text)
	sig := c.signals.extract(text, norm)
	scan := c.lexicon.stripAllowed(norm)

	var (
		counts   [SeverityHigh + 1]int
		terms    []string
		insult   bool
		profane  bool
		severity = SeverityNone
	)
	hit := func(name string, sev Severity) {
		counts[sev]++
		terms = append(terms, name)
		if sev > severity {
			severity = sev
		}
	}

	for _, t := range c.lexicon.terms {
		if !t.re.MatchString(scan) {
			continue
		}
		sev := t.Severity
		if t.Soft {
			profane = true
			attack := t.attack.MatchString(scan)
			if attack {
				insult = true
			} else if sig.PositiveContext && sev < SeverityHigh {
				sev = SeverityLow
			}
		}
		if t.Insult && sev >= SeverityMedium {
			insult = true
		}
		hit(t.Text, sev)
	}
	for _, p := range c.lexicon.patterns {
		if p.re.MatchString(scan) {
			insult = true
			hit(p.name, SeverityHigh)
		}
	}

	raw := float64(counts[SeverityHigh])*weightHigh +
		float64(counts[SeverityMedium])*weightMedium +
		float64(counts[SeverityLow])*weightLow
	score := 0.0
	if c.policy.ScoreDivisor > 0 {
		score = min(raw/c.policy.ScoreDivisor, 1.0)
	}

	res := ClassificationResult{
		IsToxic:         score > c.policy.ToxicThreshold || counts[SeverityHigh] > 0,
		Score:           score,
		DetectedTerms:   terms,
		hits:            terms,
		Method:          MethodLexical,
		MaskedText:      c.lexicon.Mask(text),
		Sentiment:       sig.Sentiment,
		PositiveContext: sig.PositiveContext,
		Severity:        severity,
		Quality:         qualityFlags(text),
		Categories: map[string]float64{
			"toxicity":        score,
			"severe_toxicity": flag(counts[SeverityHigh] > 0),
			"threat":          flag(counts[SeverityHigh] > 0),
			"insult":          flag(insult),
			"profanity":       flag(profane),
		},
	}
	res.ShouldWarn = res.IsToxic
	// Severity survives clearTerms so the cascade can tell "no hits" from
	// "hits below the threshold".
	res.clearTerms()
	return res
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
