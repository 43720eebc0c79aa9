package remote

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// NewRetryClient builds the HTTP client shared by all providers. Only 429
// responses are retried, up to MaxAttempts total attempts, waiting
// BaseDelay, 2*BaseDelay, 4*BaseDelay... in between.
func NewRetryClient(cfg Config, logger *logrus.Logger) *retryablehttp.Client {
	attempts := max(cfg.MaxAttempts, 1)

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	rc.RetryMax = attempts - 1
	rc.RetryWaitMin = cfg.BaseDelay
	rc.RetryWaitMax = cfg.BaseDelay << attempts
	rc.CheckRetry = retryOnRateLimit
	rc.Backoff = doublingBackoff
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = leveledLogger{logger.WithField("component", "remote-http")}
	return rc
}

// retryOnRateLimit retries 429 responses and nothing else. Transport
// errors and 5xx fall through to the caller, which degrades to the
// lexical verdict instead of waiting.
func retryOnRateLimit(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil || resp == nil {
		return false, err
	}
	return resp.StatusCode == http.StatusTooManyRequests, nil
}

// doublingBackoff waits min << attemptNum, capped at max. No jitter keeps
// retry timing reproducible.
func doublingBackoff(min, max time.Duration, attemptNum int, _ *http.Response) time.Duration {
	wait := min << attemptNum
	if wait > max || wait <= 0 {
		return max
	}
	return wait
}

// leveledLogger adapts logrus to retryablehttp.LeveledLogger.
type leveledLogger struct {
	entry *logrus.Entry
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.with(kv).Error(msg) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.with(kv).Info(msg) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.with(kv).Debug(msg) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.with(kv).Warn(msg) }

func (l leveledLogger) with(kv []interface{}) *logrus.Entry {
	fields := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			fields[k] = kv[i+1]
		}
	}
	return l.entry.WithFields(fields)
}
