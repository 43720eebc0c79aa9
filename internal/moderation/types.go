// Package moderation classifies chat messages and speech transcripts.
//
// Classification runs as a cascade: an in-process lexical pass that never
// fails, a context signal pass (positive/motivational language, sentiment),
// and an optional remote classifier consulted only for ambiguous text. The
// cascade always produces exactly one ClassificationResult.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxMessageBytes = 4096 // largest payload accepted from the transport
	MaxTextChars    = 2000
)

// Method records which classifiers contributed to a result.
type Method string

const (
	MethodNone          Method = "none" // empty input, nothing ran
	MethodLexical       Method = "lexical"
	MethodRemote        Method = "remote"
	MethodLexicalRemote Method = "lexical+remote"
)

// Severity is the strongest lexical hit in a text.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	default:
		return "none"
	}
}

// MarshalText lets Severity appear as a word in JSON output.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ClassificationResult is the canonical verdict for one piece of text.
// When IsToxic is false DetectedTerms is always empty.
type ClassificationResult struct {
	IsToxic         bool               `json:"is_toxic"`
	Score           float64            `json:"score"`
	Categories      map[string]float64 `json:"categories"`
	DetectedTerms   []string           `json:"detected_terms"`
	Method          Method             `json:"method"`
	MaskedText      string             `json:"masked_text"`
	Sentiment       float64            `json:"sentiment"`
	PositiveContext bool               `json:"positive_context"`

	// Severity of the strongest lexical hit, SeverityNone for remote-only results.
	Severity Severity `json:"severity"`
	// ShouldWarn is set on toxic verdicts that must be enforced.
	ShouldWarn bool `json:"should_warn"`
	// Overridden is set when positive context cleared an otherwise toxic verdict.
	Overridden bool `json:"overridden"`
	// Quality holds informational spam flags (url, phone, char_flood, ...).
	Quality []string `json:"quality,omitempty"`

	// hits keeps lexical matches of sub-threshold verdicts for merging.
	hits []string
}

// Clean returns a non-toxic result for text.
func Clean(text string, method Method) ClassificationResult {
	return ClassificationResult{
		Categories: map[string]float64{},
		Method:     method,
		MaskedText: text,
	}
}

// clearTerms enforces the non-toxic invariant on r.
func (r *ClassificationResult) clearTerms() {
	if !r.IsToxic {
		r.DetectedTerms = nil
		r.ShouldWarn = false
	}
}

// Classifier produces a verdict for a piece of text. Implementations
// report failures through the error so callers can fall back.
type Classifier interface {
	Classify(ctx context.Context, text string) (ClassificationResult, error)
}

// ModerationRequest is published to moderation.check by the transport
// for every chat message or speech transcript chunk.
type ModerationRequest struct {
	Text      string `json:"text"`
	SubjectID string `json:"subject_id"`
	ContextID string `json:"context_id"`
}

var errMissingIdentity = errors.New("subject_id and context_id are required")

// Validate checks the request at the transport boundary. Empty text is
// valid: it is moderated as trivially clean.
func (r ModerationRequest) Validate() error {
	if r.SubjectID == "" || r.ContextID == "" {
		return errMissingIdentity
	}
	if len(r.Text) > MaxMessageBytes {
		return fmt.Errorf("text exceeds %d byte limit", MaxMessageBytes)
	}
	if utf8.RuneCountInString(r.Text) > MaxTextChars {
		return fmt.Errorf("text exceeds %d character limit", MaxTextChars)
	}
	if !utf8.ValidString(r.Text) {
		return fmt.Errorf("text contains invalid UTF-8")
	}
	return nil
}

// Key builds the storage key for a (subject, context) pair. The context
// length prefix keeps ids containing ':' from colliding.
func Key(subjectID, contextID string) string {
	var b strings.Builder
	b.Grow(len(subjectID) + len(contextID) + 8)
	fmt.Fprintf(&b, "%d:%s:%s", len(contextID), contextID, subjectID)
	return b.String()
}
