package moderation

// Policy holds the tunable thresholds of the lexical pass and the cascade's
// override rules. The defaults were tuned by hand against chat transcripts;
// treat them as configuration, not as constants.
type Policy struct {
	// ToxicThreshold is the normalized lexical score above which text is toxic.
	ToxicThreshold float64 `mapstructure:"toxic_threshold"`
	// ScoreDivisor normalizes the weighted hit sum into [0, 1].
	ScoreDivisor float64 `mapstructure:"score_divisor"`
	// OverrideMinSentiment is the lowest adjusted sentiment at which
	// positive context may clear a toxic verdict.
	OverrideMinSentiment float64 `mapstructure:"override_min_sentiment"`
	// WarnMinScore suppresses warnings for toxic verdicts scoring below it.
	WarnMinScore float64 `mapstructure:"warn_min_score"`
	// InsultCategories are remote categories that positive context never clears.
	InsultCategories []string `mapstructure:"insult_categories"`
	// SentimentBoost and FillerBoost counteract profanity in positive text.
	SentimentBoost float64 `mapstructure:"sentiment_boost"`
	FillerBoost    float64 `mapstructure:"filler_boost"`
}

// Severity weights of the lexical score.
const (
	weightHigh   = 1.0
	weightMedium = 0.6
	weightLow    = 0.2
)

// DefaultPolicy returns the thresholds used in production.
func DefaultPolicy() Policy {
	return Policy{
		ToxicThreshold:       0.3,
		ScoreDivisor:         3.0,
		OverrideMinSentiment: -0.3,
		WarnMinScore:         0,
		InsultCategories:     []string{"insult", "harassment", "harassment/threatening"},
		SentimentBoost:       0.3,
		FillerBoost:          0.5,
	}
}

func (p Policy) isInsultCategory(name string) bool {
	for _, c := range p.InsultCategories {
		if c == name {
			return true
		}
	}
	return false
}
