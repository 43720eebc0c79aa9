// Package ratelimit provides Redis-backed fixed-window rate limiting using
// INCR + EXPIRE. The moderator uses it to cap how often the cascade may
// spend a call on the remote classifier, across every instance sharing
// the Redis.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Rule defines a rate limiting policy: the Redis key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        `mapstructure:"key"`    // Redis key prefix (e.g., "rl:remote:")
	Limit  int           `mapstructure:"limit"`  // max count in the window
	Window time.Duration `mapstructure:"window"` // time window
}

// RuleRemote allows 600 remote classifier calls per minute per identifier.
var RuleRemote = Rule{Key: "rl:remote:", Limit: 600, Window: time.Minute}

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client *redis.Client
	log    *logrus.Entry
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client, logger *logrus.Logger) *Limiter {
	return &Limiter{client: client, log: logger.WithField("component", "ratelimit")}
}

// Allow counts one request for identifier against rule and reports whether
// it is still inside the window's limit. INCR and EXPIRE NX run in one
// transaction, so the window starts on the first request and a crash between
// the two commands cannot leave a counter without a TTL.
//
// On Redis errors Allow fails open: it returns true together with the error.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, rule.Window)
		return nil
	})
	if err != nil {
		l.log.WithError(err).WithField("key", key).Warn("rate limit check failed, failing open")
		return true, err
	}
	return incr.Val() <= int64(rule.Limit), nil
}

// Remaining returns the number of requests the identifier has left in the
// current window for the given rule. Returns the full limit if the key does not
// exist yet. On Redis errors it returns the full limit (fail open).
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	key := rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return rule.Limit, nil
	}
	if err != nil {
		l.log.WithError(err).WithField("key", key).Warn("rate limit lookup failed, failing open")
		return rule.Limit, err
	}

	return max(rule.Limit-count, 0), nil
}

// Budget binds a limiter to one identifier and rule. It satisfies the
// cascade's remote budget: Allow reports whether another remote call may
// be spent now.
type Budget struct {
	limiter    *Limiter
	identifier string
	rule       Rule
}

// Budget returns the spending budget for identifier under rule.
func (l *Limiter) Budget(identifier string, rule Rule) *Budget {
	return &Budget{limiter: l, identifier: identifier, rule: rule}
}

func (b *Budget) Allow(ctx context.Context) bool {
	ok, _ := b.limiter.Allow(ctx, b.identifier, b.rule)
	return ok
}
