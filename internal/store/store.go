// Package store persists violation records and active timeouts.
//
// The moderation core reaches storage only through the narrow Repository
// interface. Violations are append-only; a timeout is upserted when a mute
// is issued and again when it expires.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/whisper/moderation/internal/escalation"
)

// ViolationRecord is an immutable audit entry for one confirmed violation.
type ViolationRecord struct {
	ID            uuid.UUID       `json:"id"`
	SubjectID     string          `json:"subject_id"`
	ContextID     string          `json:"context_id"`
	Text          string          `json:"text"`
	Score         float64         `json:"score"`
	DetectedTerms []string        `json:"detected_terms"`
	Tier          escalation.Tier `json:"tier"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewViolationRecord stamps a record with a fresh id.
func NewViolationRecord(subjectID, contextID, text string, score float64, terms []string, tier escalation.Tier, now time.Time) ViolationRecord {
	return ViolationRecord{
		ID:            uuid.New(),
		SubjectID:     subjectID,
		ContextID:     contextID,
		Text:          text,
		Score:         score,
		DetectedTerms: append([]string(nil), terms...),
		Tier:          tier,
		CreatedAt:     now.UTC(),
	}
}

// ActiveTimeout is a time-bounded mute of a subject in a context.
type ActiveTimeout struct {
	SubjectID string    `json:"subject_id"`
	ContextID string    `json:"context_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Active    bool      `json:"is_active"`
}

// ActiveAt reports whether the timeout still silences the subject at now.
// A timeout past its expiry is inactive even if nobody flipped the flag.
func (t ActiveTimeout) ActiveAt(now time.Time) bool {
	return t.Active && now.Before(t.ExpiresAt)
}

// Remaining returns how long the timeout still runs at now.
func (t ActiveTimeout) Remaining(now time.Time) time.Duration {
	if !t.ActiveAt(now) {
		return 0
	}
	return t.ExpiresAt.Sub(now)
}

// ViolationStore is the append-only violation log.
type ViolationStore interface {
	AppendViolation(ctx context.Context, rec ViolationRecord) error
	CountViolations(ctx context.Context, subjectID, contextID string) (int, error)
}

// TimeoutStore keeps the latest timeout per (subject, context).
type TimeoutStore interface {
	// UpsertTimeout stores t unless a newer timeout is already stored.
	UpsertTimeout(ctx context.Context, t ActiveTimeout) error
	// ActiveTimeout returns the stored timeout if it is flagged active,
	// nil otherwise. Callers apply expiry themselves.
	ActiveTimeout(ctx context.Context, subjectID, contextID string) (*ActiveTimeout, error)
}

// Repository is everything the moderation core persists.
type Repository interface {
	ViolationStore
	TimeoutStore
}

// Split combines independent backends, e.g. Postgres for the audit log
// and Redis for timeouts.
type Split struct {
	ViolationStore
	TimeoutStore
}
