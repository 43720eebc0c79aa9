package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/whisper/moderation/internal/moderation"
)

// ViolationCounter reports how many violations the persistent log holds
// for a pair.
type ViolationCounter interface {
	CountViolations(ctx context.Context, subjectID, contextID string) (int, error)
}

// Seeded is a process-local Ledger whose counters start from the
// violation log. A key is read from the log once, on first use; later
// updates stay in memory. Counts therefore survive a restart as long as
// every increment is followed by a logged violation.
type Seeded struct {
	log    ViolationCounter
	counts *xsync.MapOf[string, *seededCount]
}

type seededCount struct {
	mu     sync.Mutex
	loaded bool
	n      int
}

// NewSeeded returns a ledger seeded from log.
func NewSeeded(log ViolationCounter) *Seeded {
	return &Seeded{log: log, counts: xsync.NewMapOf[string, *seededCount]()}
}

func (s *Seeded) Increment(ctx context.Context, subjectID, contextID string) (int, error) {
	c, err := s.lockLoaded(ctx, subjectID, contextID)
	if err != nil {
		return 0, err
	}
	defer c.mu.Unlock()
	c.n++
	return c.n, nil
}

func (s *Seeded) Count(ctx context.Context, subjectID, contextID string) (int, error) {
	c, err := s.lockLoaded(ctx, subjectID, contextID)
	if err != nil {
		return 0, err
	}
	defer c.mu.Unlock()
	return c.n, nil
}

// lockLoaded returns the locked counter for a pair, seeding it first if
// needed. A failed seed leaves the counter unloaded so the next call
// retries.
func (s *Seeded) lockLoaded(ctx context.Context, subjectID, contextID string) (*seededCount, error) {
	c, _ := s.counts.LoadOrCompute(moderation.Key(subjectID, contextID), func() *seededCount {
		return &seededCount{}
	})
	c.mu.Lock()
	if c.loaded {
		return c, nil
	}
	n, err := s.log.CountViolations(ctx, subjectID, contextID)
	if err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("ledger: seed from violation log: %w", err)
	}
	c.n, c.loaded = n, true
	return c, nil
}
