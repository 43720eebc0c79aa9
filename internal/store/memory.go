package store

import (
	"context"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/whisper/moderation/internal/moderation"
)

// Memory is a process-local Repository used in tests, the CLI and
// deployments without a database.
type Memory struct {
	violations *xsync.MapOf[string, []ViolationRecord]
	timeouts   *xsync.MapOf[string, ActiveTimeout]
}

// NewMemory returns an empty repository.
func NewMemory() *Memory {
	return &Memory{
		violations: xsync.NewMapOf[string, []ViolationRecord](),
		timeouts:   xsync.NewMapOf[string, ActiveTimeout](),
	}
}

func (m *Memory) AppendViolation(_ context.Context, rec ViolationRecord) error {
	m.violations.Compute(moderation.Key(rec.SubjectID, rec.ContextID), func(old []ViolationRecord, _ bool) ([]ViolationRecord, bool) {
		// Copy on write so readers holding the old slice are unaffected.
		next := make([]ViolationRecord, len(old), len(old)+1)
		copy(next, old)
		return append(next, rec), false
	})
	return nil
}

func (m *Memory) CountViolations(_ context.Context, subjectID, contextID string) (int, error) {
	recs, _ := m.violations.Load(moderation.Key(subjectID, contextID))
	return len(recs), nil
}

// Violations returns the log for a pair, oldest first.
func (m *Memory) Violations(subjectID, contextID string) []ViolationRecord {
	recs, _ := m.violations.Load(moderation.Key(subjectID, contextID))
	return append([]ViolationRecord(nil), recs...)
}

func (m *Memory) UpsertTimeout(_ context.Context, t ActiveTimeout) error {
	m.timeouts.Compute(moderation.Key(t.SubjectID, t.ContextID), func(old ActiveTimeout, loaded bool) (ActiveTimeout, bool) {
		if loaded && old.IssuedAt.After(t.IssuedAt) {
			return old, false
		}
		return t, false
	})
	return nil
}

func (m *Memory) ActiveTimeout(_ context.Context, subjectID, contextID string) (*ActiveTimeout, error) {
	t, ok := m.timeouts.Load(moderation.Key(subjectID, contextID))
	if !ok || !t.Active {
		return nil, nil
	}
	return &t, nil
}
