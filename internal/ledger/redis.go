package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/whisper/moderation/internal/moderation"
)

// ViolationsPrefix is the Redis key prefix for violation counters:
//
//	Key:   violations:<len(context)>:<context>:<subject>
//	Value: count
//	TTL:   optional, set when the key has none
const ViolationsPrefix = "violations:"

// Redis is a Ledger shared by every moderator instance. INCR makes each
// increment atomic on the server.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a ledger on client. A positive ttl bounds how long a
// context's counters live after its first violation; zero keeps them
// forever.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Increment(ctx context.Context, subjectID, contextID string) (int, error) {
	key := ViolationsPrefix + moderation.Key(subjectID, contextID)

	// INCR and EXPIRE NX commit together: either the count moves and the
	// key has a TTL, or nothing changes. NX keeps the window from sliding.
	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		if r.ttl > 0 {
			pipe.ExpireNX(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("ledger: incr: %w", err)
	}
	return int(incr.Val()), nil
}

func (r *Redis) Count(ctx context.Context, subjectID, contextID string) (int, error) {
	key := ViolationsPrefix + moderation.Key(subjectID, contextID)

	val, err := r.client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ledger: get: %w", err)
	}
	return val, nil
}
