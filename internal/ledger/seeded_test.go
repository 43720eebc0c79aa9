package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/moderation/internal/escalation"
	"github.com/whisper/moderation/internal/store"
)

// countingLog wraps a violation log and counts seed reads.
type countingLog struct {
	ViolationCounter
	reads atomic.Int32
	err   error
}

func (l *countingLog) CountViolations(ctx context.Context, subjectID, contextID string) (int, error) {
	l.reads.Add(1)
	if l.err != nil {
		return 0, l.err
	}
	return l.ViolationCounter.CountViolations(ctx, subjectID, contextID)
}

func logWith(t *testing.T, subjectID, contextID string, n int) *store.Memory {
	t.Helper()
	log := store.NewMemory()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		tier := escalation.TierForCount(i + 1)
		rec := store.NewViolationRecord(subjectID, contextID, "i will kill you", 1, []string{"kill"}, tier, now)
		require.NoError(t, log.AppendViolation(context.Background(), rec))
	}
	return log
}

func TestSeeded_StartsFromViolationLog(t *testing.T) {
	ctx := context.Background()
	log := &countingLog{ViolationCounter: logWith(t, "alice", "stream-1", 2)}
	l := NewSeeded(log)

	n, err := l.Count(ctx, "alice", "stream-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = l.Increment(ctx, "alice", "stream-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = l.Increment(ctx, "alice", "stream-2")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "other contexts start from their own log")

	assert.EqualValues(t, 2, log.reads.Load(), "each key is read from the log once")
}

func TestSeeded_SurvivesRebuild(t *testing.T) {
	ctx := context.Background()
	log := store.NewMemory()

	first := NewSeeded(log)
	for _i := 0; _i < 3; _i++ {
		n, err := first.Increment(ctx, "bob", "stream-1")
		require.NoError(t, err)
		rec := store.NewViolationRecord("bob", "stream-1", "x", 1, nil, escalation.TierForCount(n), time.Now())
		require.NoError(t, log.AppendViolation(ctx, rec))
	}

	restarted := NewSeeded(log)
	n, err := restarted.Count(ctx, "bob", "stream-1")
	require.NoError(t, err)
	assert.Equal(t, escalation.TerminateAt, n)
}

func TestSeeded_SeedFailureRetries(t *testing.T) {
	ctx := context.Background()
	log := &countingLog{ViolationCounter: logWith(t, "carol", "c", 1), err: errors.New("db down")}
	l := NewSeeded(log)

	_, err := l.Increment(ctx, "carol", "c")
	require.Error(t, err)
	_, err = l.Count(ctx, "carol", "c")
	require.Error(t, err)

	log.err = nil
	n, err := l.Increment(ctx, "carol", "c")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "a failed seed does not count")
}

func TestSeeded_ConcurrentIncrementsSeedOnce(t *testing.T) {
	ctx := context.Background()
	log := &countingLog{ViolationCounter: logWith(t, "racer", "ctx", 5)}
	l := NewSeeded(log)
	const workers = 64

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen []int
	)
	for _i := 0; _i < workers; _i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := l.Increment(ctx, "racer", "ctx")
			assert.NoError(t, err)
			mu.Lock()
			seen = append(seen, n)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Ints(seen)
	for i, n := range seen {
		require.Equal(t, i+6, n)
	}
	assert.EqualValues(t, 1, log.reads.Load())
}
