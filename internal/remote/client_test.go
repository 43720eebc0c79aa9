package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/moderation/internal/moderation"
)

func testConfig(endpoint string) Config {
	cfg := DefaultConfig()
	cfg.Endpoint = endpoint
	cfg.BaseDelay = time.Millisecond
	cfg.Timeout = 2 * time.Second
	cfg.CacheSize = 0
	return cfg
}

func newTestClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	logger, _ := test.NewNullLogger()
	c, err := New(cfg, logger)
	require.NoError(t, err)
	return c
}

// scriptedServer answers with the given status codes in order, then keeps
// repeating the last one.
func scriptedServer(t *testing.T, body string, statuses ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(hits.Add(1)) - 1
		status := statuses[min(n, len(statuses)-1)]

		var req httpRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("server: decode request: %v", err)
		}
		w.WriteHeader(status)
		if status == http.StatusOK {
			_, _ = w.Write([]byte(body))
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestClassify_Success(t *testing.T) {
	srv, hits := scriptedServer(t, `{"flagged":false,"category_scores":{"harassment":0.12,"violence":0.4}}`, http.StatusOK)
	c := newTestClient(t, testConfig(srv.URL))

	res, err := c.Classify(context.Background(), "hello")
	require.NoError(t, err)
	assert.EqualValues(t, 1, hits.Load())
	assert.False(t, res.IsToxic)
	assert.Equal(t, moderation.MethodRemote, res.Method)
	assert.InDelta(t, 0.4, res.Score, 1e-9)
	assert.Equal(t, map[string]float64{"harassment": 0.12, "violence": 0.4}, res.Categories)
}

func TestClassify_HighConfidenceCategoryIsToxic(t *testing.T) {
	srv, _ := scriptedServer(t, `{"flagged":false,"category_scores":{"harassment":0.71}}`, http.StatusOK)
	c := newTestClient(t, testConfig(srv.URL))

	res, err := c.Classify(context.Background(), "text")
	require.NoError(t, err)
	assert.True(t, res.IsToxic)
}

func TestClassify_ProviderFlagIsToxic(t *testing.T) {
	srv, _ := scriptedServer(t, `{"flagged":true,"category_scores":{"hate":0.3}}`, http.StatusOK)
	c := newTestClient(t, testConfig(srv.URL))

	res, err := c.Classify(context.Background(), "text")
	require.NoError(t, err)
	assert.True(t, res.IsToxic)
}

func TestClassify_RetriesRateLimitThenSucceeds(t *testing.T) {
	srv, hits := scriptedServer(t, `{"flagged":true,"category_scores":{"hate":0.9}}`,
		http.StatusTooManyRequests, http.StatusTooManyRequests, http.StatusOK)
	c := newTestClient(t, testConfig(srv.URL))

	res, err := c.Classify(context.Background(), "text")
	require.NoError(t, err)
	assert.EqualValues(t, 3, hits.Load())
	assert.True(t, res.IsToxic)
}

func TestClassify_RateLimitExhausted(t *testing.T) {
	srv, hits := scriptedServer(t, "", http.StatusTooManyRequests)
	c := newTestClient(t, testConfig(srv.URL))

	_, err := c.Classify(context.Background(), "text")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.EqualValues(t, 3, hits.Load(), "three attempts in total")
}

func TestClassify_OtherFailuresAreNotRetried(t *testing.T) {
	srv, hits := scriptedServer(t, "", http.StatusInternalServerError)
	c := newTestClient(t, testConfig(srv.URL))

	_, err := c.Classify(context.Background(), "text")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.False(t, errors.Is(err, ErrRateLimited))
	assert.EqualValues(t, 1, hits.Load())
}

func TestClassify_MalformedResponse(t *testing.T) {
	srv, _ := scriptedServer(t, `{"flagged":`, http.StatusOK)
	c := newTestClient(t, testConfig(srv.URL))

	_, err := c.Classify(context.Background(), "text")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClassify_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := newTestClient(t, testConfig(url))
	_, err := c.Classify(context.Background(), "text")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClassify_ContextCancelledDuringBackoff(t *testing.T) {
	srv, _ := scriptedServer(t, "", http.StatusTooManyRequests)
	cfg := testConfig(srv.URL)
	cfg.BaseDelay = time.Minute
	c := newTestClient(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Classify(ctx, "text")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestClassify_BreakerOpens(t *testing.T) {
	srv, hits := scriptedServer(t, "", http.StatusInternalServerError)
	cfg := testConfig(srv.URL)
	cfg.BreakerFailures = 2
	cfg.BreakerCooldown = time.Hour
	c := newTestClient(t, cfg)

	for i := 0; i < 2; i++ {
		_, err := c.Classify(context.Background(), "text")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, c.State())

	_, err := c.Classify(context.Background(), "text")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.EqualValues(t, 2, hits.Load(), "open breaker must not reach the provider")
}

func TestClassify_CacheServesRepeats(t *testing.T) {
	srv, hits := scriptedServer(t, `{"flagged":false,"category_scores":{"hate":0.1}}`, http.StatusOK)
	cfg := testConfig(srv.URL)
	cfg.CacheSize = 16
	cfg.CacheTTL = time.Minute
	c := newTestClient(t, cfg)

	first, err := c.Classify(context.Background(), "same text")
	require.NoError(t, err)
	second, err := c.Classify(context.Background(), "same text")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, hits.Load())
}

// blockingProvider holds every call until release is closed.
type blockingProvider struct {
	calls   atomic.Int32
	release chan struct{}
}

func (p *blockingProvider) Moderate(ctx context.Context, _ string) (Verdict, error) {
	p.calls.Add(1)
	select {
	case <-p.release:
		return Verdict{Flagged: true, CategoryScores: map[string]float64{"hate": 0.9}}, nil
	case <-ctx.Done():
		return Verdict{}, ctx.Err()
	}
}

func TestClassify_SingleflightCollapsesConcurrentCalls(t *testing.T) {
	p := &blockingProvider{release: make(chan struct{})}
	logger, _ := test.NewNullLogger()
	c := NewClient(p, testConfig(""), logger)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]moderation.ClassificationResult, callers)
	started := make(chan struct{}, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started <- struct{}{}
			res, err := c.Classify(context.Background(), "same text")
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	for i := 0; i < callers; i++ {
		<-started
	}
	require.Eventually(t, func() bool { return p.calls.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(p.release)
	wg.Wait()

	assert.LessOrEqual(t, p.calls.Load(), int32(callers))
	for _, res := range results {
		assert.True(t, res.IsToxic)
	}
}

func TestClassify_SharedCallOutlivesCancelledCaller(t *testing.T) {
	p := &blockingProvider{release: make(chan struct{})}
	logger, _ := test.NewNullLogger()
	c := NewClient(p, testConfig(""), logger)

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := c.Classify(leaderCtx, "same text")
		leaderErr <- err
	}()
	require.Eventually(t, func() bool { return p.calls.Load() == 1 }, time.Second, time.Millisecond)

	follower := make(chan moderation.ClassificationResult, 1)
	go func() {
		res, err := c.Classify(context.Background(), "same text")
		assert.NoError(t, err)
		follower <- res
	}()
	time.Sleep(20 * time.Millisecond)

	cancelLeader()
	err := <-leaderErr
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, context.Canceled)

	close(p.release)
	select {
	case res := <-follower:
		assert.True(t, res.IsToxic)
	case <-time.After(time.Second):
		t.Fatal("follower never received the shared verdict")
	}
	assert.EqualValues(t, 1, p.calls.Load())
	assert.Equal(t, gobreaker.StateClosed, c.State())
}

func TestNew_UnknownProvider(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cfg := DefaultConfig()
	cfg.Provider = "carrier-pigeon"
	_, err := New(cfg, logger)
	assert.Error(t, err)
}

func TestDoublingBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{10, 8 * time.Second},
	}
	for _, tt := range tests {
		got := doublingBackoff(time.Second, 8*time.Second, tt.attempt, nil)
		assert.Equal(t, tt.want, got, "attempt %d", tt.attempt)
	}
}

func TestOpenAIProvider(t *testing.T) {
	var hits atomic.Int32
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/moderations"), r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		code := int(status.Load())
		w.WriteHeader(code)
		if code != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"modr-1","model":"omni-moderation-latest","results":[{"flagged":true,` +
			`"categories":{"harassment":true},"category_scores":{"harassment":0.91,"violence":0.02}}]}`))
	}))
	t.Cleanup(srv.Close)

	cfg := testConfig(srv.URL)
	cfg.Provider = "openai"
	cfg.APIKey = "sk-test"
	c := newTestClient(t, cfg)

	res, err := c.Classify(context.Background(), "you are awful")
	require.NoError(t, err)
	assert.True(t, res.IsToxic)
	assert.InDelta(t, 0.91, res.Categories["harassment"], 1e-9)
	assert.InDelta(t, 0.91, res.Score, 1e-9)

	status.Store(http.StatusTooManyRequests)
	hits.Store(0)
	_, err = c.Classify(context.Background(), "another text")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.EqualValues(t, 3, hits.Load())
}
