// Package ledger counts confirmed violations per (subject, context) pair.
//
// Counts only grow. Each Increment is atomic: two concurrent violations
// from the same subject in the same context always observe different
// counts. A new context id starts from zero.
package ledger

import (
	"context"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/whisper/moderation/internal/moderation"
)

// Ledger is the violation counter consulted by the dispatcher.
type Ledger interface {
	// Increment records one violation and returns the new count.
	Increment(ctx context.Context, subjectID, contextID string) (int, error)
	// Count returns the current count, 0 if none was recorded.
	Count(ctx context.Context, subjectID, contextID string) (int, error)
}

// Memory is a process-local Ledger. Updates lock only the affected key.
type Memory struct {
	counts *xsync.MapOf[string, int]
}

// NewMemory returns an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{counts: xsync.NewMapOf[string, int]()}
}

func (m *Memory) Increment(_ context.Context, subjectID, contextID string) (int, error) {
	n, _ := m.counts.Compute(moderation.Key(subjectID, contextID), func(old int, _ bool) (int, bool) {
		return old + 1, false
	})
	return n, nil
}

func (m *Memory) Count(_ context.Context, subjectID, contextID string) (int, error) {
	n, _ := m.counts.Load(moderation.Key(subjectID, contextID))
	return n, nil
}
