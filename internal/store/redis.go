package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/whisper/moderation/internal/moderation"
)

// TimeoutPrefix is the Redis key prefix for timeout records, stored as
// hashes that expire together with the timeout:
//
//	Key:    timeout:<len(context)>:<context>:<subject>
//	Fields: issued_at, expires_at (unix ms), active ("1"/"0")
//	Expiry: expires_at
const TimeoutPrefix = "timeout:"

// upsertScript writes a timeout unless a newer one is stored. Marking a
// timeout inactive deletes the key.
var upsertScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'issued_at')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
	return 0
end
if ARGV[3] == '0' then
	redis.call('DEL', KEYS[1])
	return 1
end
redis.call('HSET', KEYS[1], 'issued_at', ARGV[1], 'expires_at', ARGV[2], 'active', ARGV[3])
redis.call('PEXPIREAT', KEYS[1], ARGV[2])
return 1
`)

// RedisTimeouts is a TimeoutStore shared by every moderator instance.
type RedisTimeouts struct {
	client *redis.Client
}

// NewRedisTimeouts creates a timeout store on client.
func NewRedisTimeouts(client *redis.Client) *RedisTimeouts {
	return &RedisTimeouts{client: client}
}

func (r *RedisTimeouts) UpsertTimeout(ctx context.Context, t ActiveTimeout) error {
	key := TimeoutPrefix + moderation.Key(t.SubjectID, t.ContextID)
	active := "0"
	if t.Active {
		active = "1"
	}
	err := upsertScript.Run(ctx, r.client, []string{key},
		t.IssuedAt.UnixMilli(), t.ExpiresAt.UnixMilli(), active).Err()
	if err != nil {
		return fmt.Errorf("store: redis upsert timeout: %w", err)
	}
	return nil
}

func (r *RedisTimeouts) ActiveTimeout(ctx context.Context, subjectID, contextID string) (*ActiveTimeout, error) {
	key := TimeoutPrefix + moderation.Key(subjectID, contextID)

	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("store: redis active timeout: %w", err)
	}
	if len(fields) == 0 || fields["active"] != "1" {
		return nil, nil
	}

	issued, err := strconv.ParseInt(fields["issued_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("store: redis timeout issued_at: %w", err)
	}
	expires, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("store: redis timeout expires_at: %w", err)
	}
	return &ActiveTimeout{
		SubjectID: subjectID,
		ContextID: contextID,
		IssuedAt:  time.UnixMilli(issued),
		ExpiresAt: time.UnixMilli(expires),
		Active:    true,
	}, nil
}
