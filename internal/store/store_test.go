package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/moderation/internal/escalation"
)

// repositories returns every backend available in this environment. The
// in-memory store always runs; Redis and Postgres are skipped when absent.
func repositories(t *testing.T) map[string]Repository {
	t.Helper()
	repos := map[string]Repository{"memory": NewMemory()}

	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	if client.Ping(context.Background()).Err() == nil {
		cleanRedis(t, client)
		repos["memory+redis"] = Split{ViolationStore: NewMemory(), TimeoutStore: NewRedisTimeouts(client)}
	} else {
		client.Close()
	}

	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		db, err := OpenPostgres(context.Background(), dsn)
		require.NoError(t, err)
		require.NoError(t, Migrate(db))
		_, err = db.Exec(`DELETE FROM violations WHERE subject_id LIKE 'test_%'; DELETE FROM active_timeouts WHERE subject_id LIKE 'test_%'`)
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		repos["postgres"] = NewPostgres(db)
	}
	return repos
}

func cleanRedis(t *testing.T, client *redis.Client) {
	ctx := context.Background()
	clean := func() {
		iter := client.Scan(ctx, 0, TimeoutPrefix+"*test_*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	clean()
	t.Cleanup(func() {
		clean()
		client.Close()
	})
}

func TestRepository_Violations(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()

			n, err := repo.CountViolations(ctx, "test_v", "ctx-v")
			require.NoError(t, err)
			assert.Zero(t, n)

			for i, tier := range []escalation.Tier{escalation.Warned, escalation.Muted} {
				rec := NewViolationRecord("test_v", "ctx-v", "bad text", 0.5, []string{"kill"}, tier, now.Add(time.Duration(i)*time.Second))
				require.NoError(t, repo.AppendViolation(ctx, rec))
			}
			require.NoError(t, repo.AppendViolation(ctx, NewViolationRecord("test_v", "ctx-other", "x", 0.4, nil, escalation.Warned, now)))

			n, err = repo.CountViolations(ctx, "test_v", "ctx-v")
			require.NoError(t, err)
			assert.Equal(t, 2, n)
		})
	}
}

func TestRepository_Timeouts(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			issued := time.Now().Truncate(time.Millisecond)

			got, err := repo.ActiveTimeout(ctx, "test_t", "ctx-t")
			require.NoError(t, err)
			assert.Nil(t, got)

			to := ActiveTimeout{
				SubjectID: "test_t",
				ContextID: "ctx-t",
				IssuedAt:  issued,
				ExpiresAt: issued.Add(time.Minute),
				Active:    true,
			}
			require.NoError(t, repo.UpsertTimeout(ctx, to))

			got, err = repo.ActiveTimeout(ctx, "test_t", "ctx-t")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.True(t, got.ExpiresAt.Equal(to.ExpiresAt))
			assert.True(t, got.ActiveAt(issued.Add(30*time.Second)))

			// An expiry for an older timeout must not clobber the current one.
			stale := to
			stale.IssuedAt = issued.Add(-time.Hour)
			stale.ExpiresAt = issued.Add(-59 * time.Minute)
			stale.Active = false
			require.NoError(t, repo.UpsertTimeout(ctx, stale))
			got, err = repo.ActiveTimeout(ctx, "test_t", "ctx-t")
			require.NoError(t, err)
			require.NotNil(t, got)

			expired := to
			expired.Active = false
			require.NoError(t, repo.UpsertTimeout(ctx, expired))
			got, err = repo.ActiveTimeout(ctx, "test_t", "ctx-t")
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestActiveTimeout_ActiveAt(t *testing.T) {
	issued := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	to := ActiveTimeout{IssuedAt: issued, ExpiresAt: issued.Add(time.Minute), Active: true}

	assert.True(t, to.ActiveAt(issued))
	assert.True(t, to.ActiveAt(issued.Add(59*time.Second)))
	assert.False(t, to.ActiveAt(issued.Add(time.Minute)))
	assert.False(t, to.ActiveAt(issued.Add(2*time.Minute)))
	assert.Equal(t, 30*time.Second, to.Remaining(issued.Add(30*time.Second)))
	assert.Zero(t, to.Remaining(issued.Add(time.Hour)))

	to.Active = false
	assert.False(t, to.ActiveAt(issued))
}

func TestNewViolationRecord(t *testing.T) {
	terms := []string{"kill"}
	rec := NewViolationRecord("s", "c", "text", 0.9, terms, escalation.Terminated, time.Now())
	terms[0] = "mutated"

	assert.NotEqual(t, rec.ID.String(), "00000000-0000-0000-0000-000000000000")
	assert.Equal(t, []string{"kill"}, rec.DetectedTerms, "record must not alias the caller's slice")
	assert.Equal(t, time.UTC, rec.CreatedAt.Location())
}

func TestMemory_ViolationsLog(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.AppendViolation(ctx, NewViolationRecord("s", "c", "one", 0.4, nil, escalation.Warned, time.Now())))
	require.NoError(t, m.AppendViolation(ctx, NewViolationRecord("s", "c", "two", 0.4, nil, escalation.Muted, time.Now())))

	log := m.Violations("s", "c")
	require.Len(t, log, 2)
	assert.Equal(t, "one", log[0].Text)
	assert.Equal(t, escalation.Muted, log[1].Tier)
}
