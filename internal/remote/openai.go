package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAIProvider calls the OpenAI moderation endpoint.
type OpenAIProvider struct {
	client openai.Client
	model  string
}

// NewOpenAIProvider builds a provider on top of hc, normally the retry
// client's StandardClient so 429 handling stays in one place. The SDK's own
// retries are disabled.
func NewOpenAIProvider(hc *http.Client, cfg Config) *OpenAIProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(hc),
		option.WithMaxRetries(0),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}
	model := cfg.Model
	if model == "" {
		model = string(openai.ModerationModelOmniModerationLatest)
	}
	return &OpenAIProvider{client: openai.NewClient(opts...), model: model}
}

func (p *OpenAIProvider) Moderate(ctx context.Context, text string) (Verdict, error) {
	resp, err := p.client.Moderations.New(ctx, openai.ModerationNewParams{
		Input: openai.ModerationNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.ModerationModel(p.model),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
			return Verdict{}, ErrRateLimited
		}
		return Verdict{}, fmt.Errorf("remote: openai moderation: %w", err)
	}
	if len(resp.Results) == 0 {
		return Verdict{}, errors.New("remote: openai moderation: empty results")
	}

	r := resp.Results[0]
	s := r.CategoryScores
	return Verdict{
		Flagged: r.Flagged,
		CategoryScores: map[string]float64{
			"harassment":             s.Harassment,
			"harassment/threatening": s.HarassmentThreatening,
			"hate":                   s.Hate,
			"hate/threatening":       s.HateThreatening,
			"illicit":                s.Illicit,
			"illicit/violent":        s.IllicitViolent,
			"self-harm":              s.SelfHarm,
			"self-harm/instructions": s.SelfHarmInstructions,
			"self-harm/intent":       s.SelfHarmIntent,
			"sexual":                 s.Sexual,
			"sexual/minors":          s.SexualMinors,
			"violence":               s.Violence,
			"violence/graphic":       s.ViolenceGraphic,
		},
	}, nil
}
