// Package remote calls an external moderation service.
//
// Every provider rides the same HTTP stack: rate-limit responses (429) are
// retried with deterministic exponential backoff, every other failure is
// returned immediately, and a circuit breaker stops calling a provider that
// keeps failing. Errors always wrap ErrUnavailable so the cascade can fall
// back to its lexical verdict.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"

	"github.com/whisper/moderation/internal/metrics"
	"github.com/whisper/moderation/internal/moderation"
)

var (
	// ErrUnavailable is returned whenever no usable verdict was obtained.
	ErrUnavailable = errors.New("remote: classifier unavailable")
	// ErrRateLimited is returned when the provider kept answering 429.
	ErrRateLimited = errors.New("remote: rate limited")
)

// Verdict is a provider response normalized to category scores.
type Verdict struct {
	Flagged        bool               `json:"flagged"`
	CategoryScores map[string]float64 `json:"category_scores"`
}

// Provider performs one moderation call.
type Provider interface {
	Moderate(ctx context.Context, text string) (Verdict, error)
}

// Config configures the remote classifier.
type Config struct {
	// Enabled false leaves the cascade on the lexical pass alone.
	Enabled  bool          `mapstructure:"enabled"`
	Provider string        `mapstructure:"provider"` // "http" or "openai"
	Endpoint string        `mapstructure:"endpoint"`
	APIKey   string        `mapstructure:"api_key"`
	Model    string        `mapstructure:"model"`
	Timeout  time.Duration `mapstructure:"timeout"`

	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`

	// HighConfidence marks a verdict toxic when any category exceeds it,
	// even if the provider did not flag the text.
	HighConfidence float64 `mapstructure:"high_confidence"`

	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`

	CacheSize int           `mapstructure:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

// DefaultConfig returns sensible defaults for the generic HTTP provider.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		Provider:        "http",
		Endpoint:        "http://localhost:8085/moderate",
		Model:           "omni-moderation-latest",
		Timeout:         5 * time.Second,
		MaxAttempts:     3,
		BaseDelay:       time.Second,
		HighConfidence:  0.7,
		BreakerFailures: 5,
		BreakerCooldown: 30 * time.Second,
		CacheSize:       4096,
		CacheTTL:        5 * time.Minute,
	}
}

// Client is a moderation.Classifier backed by a remote provider.
type Client struct {
	provider       Provider
	breaker        *gobreaker.CircuitBreaker
	group          singleflight.Group
	cache          *expirable.LRU[string, moderation.ClassificationResult]
	highConfidence float64
	timeout        time.Duration
	log            *logrus.Entry
}

// New builds a client for the provider named in cfg.
func New(cfg Config, logger *logrus.Logger) (*Client, error) {
	rc := NewRetryClient(cfg, logger)

	var p Provider
	switch cfg.Provider {
	case "http", "":
		p = NewHTTPProvider(rc, cfg.Endpoint, cfg.APIKey)
	case "openai":
		p = NewOpenAIProvider(rc.StandardClient(), cfg)
	default:
		return nil, fmt.Errorf("remote: unknown provider %q", cfg.Provider)
	}
	return NewClient(p, cfg, logger), nil
}

// NewClient wraps an existing provider with the breaker and result cache.
func NewClient(p Provider, cfg Config, logger *logrus.Logger) *Client {
	log := logger.WithField("component", "remote")

	c := &Client{
		provider:       p,
		highConfidence: cfg.HighConfidence,
		timeout:        cfg.Timeout,
		log:            log,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "remote-classifier",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return cfg.BreakerFailures > 0 && counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			// A caller giving up says nothing about the provider's health.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{"from": from.String(), "to": to.String()}).Warn("circuit breaker state change")
		},
	})
	if cfg.CacheSize > 0 {
		c.cache = expirable.NewLRU[string, moderation.ClassificationResult](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	return c
}

// Classify implements moderation.Classifier.
func (c *Client) Classify(ctx context.Context, text string) (moderation.ClassificationResult, error) {
	if c.cache != nil {
		if res, ok := c.cache.Get(text); ok {
			metrics.RemoteRequests.WithLabelValues("cached").Inc()
			return res, nil
		}
	}

	// Callers sharing a flight each wait on their own ctx. The shared call
	// is detached from whichever caller started it so one caller giving up
	// does not fail the others.
	ch := c.group.DoChan(text, func() (interface{}, error) {
		callCtx, cancel := c.detach(ctx)
		defer cancel()
		return c.breaker.Execute(func() (interface{}, error) {
			return c.provider.Moderate(callCtx, text)
		})
	})
	var (
		v   interface{}
		err error
	)
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case r := <-ch:
		v, err = r.Val, r.Err
	}
	if err != nil {
		metrics.RemoteRequests.WithLabelValues(outcome(err)).Inc()
		return moderation.ClassificationResult{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	metrics.RemoteRequests.WithLabelValues("ok").Inc()

	res := c.toResult(v.(Verdict))
	if c.cache != nil {
		c.cache.Add(text, res)
	}
	return res, nil
}

func (c *Client) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return context.WithCancel(ctx)
}

// State reports the circuit breaker state, for health endpoints and tests.
func (c *Client) State() gobreaker.State {
	return c.breaker.State()
}

func (c *Client) toResult(v Verdict) moderation.ClassificationResult {
	res := moderation.ClassificationResult{
		IsToxic:    v.Flagged,
		Categories: make(map[string]float64, len(v.CategoryScores)),
		Method:     moderation.MethodRemote,
	}
	for name, score := range v.CategoryScores {
		res.Categories[name] = score
		res.Score = max(res.Score, score)
		if score > c.highConfidence {
			res.IsToxic = true
		}
	}
	return res
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	case errors.Is(err, context.Canceled):
		return "abandoned"
	default:
		return "error"
	}
}
