// Package engine assembles the moderation pipeline from configuration.
// Backends left nil fall back to process-local implementations.
package engine

import (
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/whisper/moderation/internal/clock"
	"github.com/whisper/moderation/internal/config"
	"github.com/whisper/moderation/internal/enforcement"
	"github.com/whisper/moderation/internal/ledger"
	"github.com/whisper/moderation/internal/moderation"
	"github.com/whisper/moderation/internal/ratelimit"
	"github.com/whisper/moderation/internal/remote"
	"github.com/whisper/moderation/internal/store"
	"github.com/whisper/moderation/internal/timeout"
)

// Backends are the external collaborators. All fields are optional.
type Backends struct {
	Redis      *redis.Client
	DB         *sql.DB
	Notifier   timeout.Notifier
	Terminator enforcement.Terminator
	Clock      clock.Clock
	// Scorer overrides the VADER sentiment scorer.
	Scorer moderation.SentimentScorer
}

// Engine is a wired moderation pipeline.
type Engine struct {
	Cascade    *moderation.Cascade
	Ledger     ledger.Ledger
	Repository store.Repository
	Scheduler  *timeout.Scheduler
	Dispatcher *enforcement.Dispatcher
}

// New builds the pipeline described by cfg on top of b.
func New(cfg config.Config, logger *logrus.Logger, b Backends) (*Engine, error) {
	if b.Clock == nil {
		b.Clock = clock.Real()
	}

	cascade, err := NewCascade(cfg, logger, b)
	if err != nil {
		return nil, err
	}

	e := &Engine{Cascade: cascade}

	var violations store.ViolationStore = store.NewMemory()
	var timeouts store.TimeoutStore = store.NewMemory()
	if b.DB != nil {
		pg := store.NewPostgres(b.DB)
		violations, timeouts = pg, pg
	}
	switch {
	case b.Redis != nil:
		e.Ledger = ledger.NewRedis(b.Redis, cfg.Enforcement.LedgerTTL)
		timeouts = store.NewRedisTimeouts(b.Redis)
	case b.DB != nil:
		// No shared counter: rebuild counts from the violation log so a
		// restart does not reset anyone's standing.
		e.Ledger = ledger.NewSeeded(violations)
	default:
		e.Ledger = ledger.NewMemory()
	}
	e.Repository = store.Split{ViolationStore: violations, TimeoutStore: timeouts}

	e.Scheduler = timeout.NewScheduler(b.Clock, e.Repository, b.Notifier, logger)

	opts := []enforcement.Option{
		enforcement.WithPolicy(cfg.Enforcement.Escalation()),
		enforcement.WithClock(b.Clock),
	}
	if b.Terminator != nil {
		opts = append(opts, enforcement.WithTerminator(b.Terminator))
	}
	e.Dispatcher = enforcement.NewDispatcher(cascade, e.Ledger, e.Repository, e.Scheduler, logger, opts...)
	return e, nil
}

// NewCascade builds the classifier cascade alone, e.g. for offline
// analysis.
func NewCascade(cfg config.Config, logger *logrus.Logger, b Backends) (*moderation.Cascade, error) {
	scorer := b.Scorer
	if scorer == nil {
		scorer = moderation.NewVaderScorer()
	}
	lexical := moderation.NewLexical(moderation.DefaultLexicon(), scorer, cfg.Policy)

	var opts []moderation.CascadeOption
	if cfg.Remote.Enabled {
		client, err := remote.New(cfg.Remote, logger)
		if err != nil {
			return nil, fmt.Errorf("engine: remote classifier: %w", err)
		}
		opts = append(opts, moderation.WithRemote(client))

		if cfg.Budget.Enabled && b.Redis != nil {
			limiter := ratelimit.NewLimiter(b.Redis, logger)
			opts = append(opts, moderation.WithBudget(limiter.Budget("global", cfg.Budget.Rule)))
		}
	}
	return moderation.NewCascade(lexical, cfg.Policy, logger, opts...), nil
}
