package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
)

const maxResponseBytes = 1 << 20

// HTTPProvider speaks the generic moderation protocol:
//
//	POST {"text": "..."}  ->  {"flagged": bool, "category_scores": {"name": score}}
type HTTPProvider struct {
	client   *retryablehttp.Client
	endpoint string
	apiKey   string
}

type httpRequest struct {
	Text string `json:"text"`
}

// NewHTTPProvider returns a provider posting to endpoint. apiKey is sent as
// a bearer token when non-empty.
func NewHTTPProvider(client *retryablehttp.Client, endpoint, apiKey string) *HTTPProvider {
	return &HTTPProvider{client: client, endpoint: endpoint, apiKey: apiKey}
}

func (p *HTTPProvider) Moderate(ctx context.Context, text string) (Verdict, error) {
	body, err := json.Marshal(httpRequest{Text: text})
	if err != nil {
		return Verdict{}, fmt.Errorf("remote: marshal request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, body)
	if err != nil {
		return Verdict{}, fmt.Errorf("remote: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return Verdict{}, fmt.Errorf("remote: post: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Verdict{}, ErrRateLimited
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Verdict{}, fmt.Errorf("remote: unexpected status %d", resp.StatusCode)
	}

	var v Verdict
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&v); err != nil {
		return Verdict{}, fmt.Errorf("remote: decode response: %w", err)
	}
	return v, nil
}
