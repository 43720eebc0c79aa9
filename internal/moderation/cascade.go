package moderation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/whisper/moderation/internal/metrics"
)

// Budget gates calls to the remote classifier. When it denies a call the
// cascade settles on the lexical verdict.
type Budget interface {
	Allow(ctx context.Context) bool
}

// Cascade orchestrates the lexical pass, context signals and the remote
// classifier into a single verdict.
type Cascade struct {
	local  Classifier
	remote Classifier
	budget Budget
	policy Policy
	log    *logrus.Entry
}

// CascadeOption configures optional collaborators.
type CascadeOption func(*Cascade)

// WithRemote adds a remote classifier for ambiguous text.
func WithRemote(remote Classifier) CascadeOption {
	return func(c *Cascade) { c.remote = remote }
}

// WithBudget limits how often the remote classifier is consulted.
func WithBudget(b Budget) CascadeOption {
	return func(c *Cascade) { c.budget = b }
}

// NewCascade builds a cascade around the always-available local classifier.
func NewCascade(local Classifier, policy Policy, logger *logrus.Logger, opts ...CascadeOption) *Cascade {
	c := &Cascade{
		local:  local,
		policy: policy,
		log:    logger.WithField("component", "cascade"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify implements Classifier. The cascade never fails.
func (c *Cascade) Classify(ctx context.Context, text string) (ClassificationResult, error) {
	return c.Analyze(ctx, text), nil
}

// Analyze classifies text. Identical input yields identical output as long
// as the remote classifier is deterministic.
func (c *Cascade) Analyze(ctx context.Context, text string) ClassificationResult {
	if strings.TrimSpace(text) == "" {
		return Clean(text, MethodNone)
	}

	start := time.Now()
	res := c.analyze(ctx, text)
	metrics.ClassifyLatency.WithLabelValues(string(res.Method)).Observe(time.Since(start).Seconds())
	return res
}

func (c *Cascade) analyze(ctx context.Context, text string) ClassificationResult {
	lex, err := c.local.Classify(ctx, text)
	if err != nil {
		// Local classifiers are in-process; treat a failure as clean
		// rather than blocking delivery.
		c.log.WithError(err).Warn("local classifier failed")
		return Clean(text, MethodLexical)
	}

	if lex.IsToxic && lex.Severity == SeverityHigh && !lex.PositiveContext {
		metrics.CascadeFastPath.WithLabelValues("toxic").Inc()
		return c.finish(lex, lex)
	}
	if lex.Severity == SeverityNone && !lex.PositiveContext {
		metrics.CascadeFastPath.WithLabelValues("clean").Inc()
		return c.finish(lex, lex)
	}

	remote, ok := c.consultRemote(ctx, text)
	if !ok {
		return c.finish(lex, c.settleLexical(lex))
	}
	return c.finish(lex, c.merge(lex, remote))
}

// consultRemote returns the remote verdict, or false when the lexical
// result must stand on its own.
func (c *Cascade) consultRemote(ctx context.Context, text string) (ClassificationResult, bool) {
	if c.remote == nil {
		return ClassificationResult{}, false
	}
	if c.budget != nil && !c.budget.Allow(ctx) {
		c.log.Debug("remote budget exhausted, using lexical verdict")
		return ClassificationResult{}, false
	}
	res, err := c.remote.Classify(ctx, text)
	if err != nil {
		entry := c.log.WithError(err)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			entry.Debug("remote classification abandoned")
		} else {
			entry.Info("remote classifier unavailable, falling back to lexical verdict")
		}
		return ClassificationResult{}, false
	}
	return res, true
}

// settleLexical applies the override rule to a lexical-only verdict.
func (c *Cascade) settleLexical(lex ClassificationResult) ClassificationResult {
	out := lex
	if !out.IsToxic {
		return out
	}
	if c.overridable(lex, lex.Categories["insult"] > 0) {
		return overridden(out)
	}
	return out
}

// merge combines the lexical and remote verdicts.
func (c *Cascade) merge(lex, remote ClassificationResult) ClassificationResult {
	out := lex
	out.Method = MethodLexicalRemote
	out.Categories = mergeCategories(lex.Categories, remote.Categories)
	out.Score = max(lex.Score, remote.Score)

	insult := lex.Categories["insult"] > 0 || c.remoteInsult(remote)

	switch {
	case remote.IsToxic:
		out.IsToxic = true
		if c.overridable(lex, insult) {
			return overridden(out)
		}
		out.DetectedTerms = lex.hits
		out.ShouldWarn = true
	case lex.IsToxic:
		if c.overridable(lex, lex.Categories["insult"] > 0) {
			return overridden(out)
		}
		out.ShouldWarn = true
	default:
		out.IsToxic = false
		out.Score = remote.Score
	}
	return out
}

// overridable reports whether positive context may clear a toxic verdict.
// High-severity lexical hits are never cleared.
func (c *Cascade) overridable(lex ClassificationResult, insult bool) bool {
	return lex.PositiveContext &&
		!insult &&
		lex.Severity != SeverityHigh &&
		lex.Sentiment >= c.policy.OverrideMinSentiment
}

// remoteInsult reports whether the remote classifier's strongest category
// is one of the insult categories.
func (c *Cascade) remoteInsult(remote ClassificationResult) bool {
	top, best := "", -1.0
	for name, score := range remote.Categories {
		if score > best || (score == best && name < top) {
			top, best = name, score
		}
	}
	return top != "" && c.policy.isInsultCategory(top)
}

// finish attaches the fields every result carries and enforces the
// non-toxic invariant.
func (c *Cascade) finish(lex, out ClassificationResult) ClassificationResult {
	out.MaskedText = lex.MaskedText
	out.Sentiment = lex.Sentiment
	out.PositiveContext = lex.PositiveContext
	out.Quality = lex.Quality
	if out.IsToxic && out.Score < c.policy.WarnMinScore {
		out.ShouldWarn = false
	}
	out.clearTerms()
	return out
}

func overridden(r ClassificationResult) ClassificationResult {
	r.IsToxic = false
	r.Overridden = true
	r.ShouldWarn = false
	return r
}

func mergeCategories(lex, remote map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(lex)+len(remote))
	for k, v := range lex {
		out[k] = v
	}
	for k, v := range remote {
		out[k] = v
	}
	return out
}
