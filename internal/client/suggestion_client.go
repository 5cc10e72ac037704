package client

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pesio-ai/be-rt-workflow/internal/httpclient"
	"github.com/pesio-ai/be-rt-workflow/internal/service"
)

// SuggestionClient calls the suggestion gateway (LLM or rule-based). Results
// are purely advisory. The gateway rate-limits under load, so calls retry
// with exponential backoff within a bounded window.
type SuggestionClient struct {
	client     *httpclient.Client
	maxElapsed time.Duration
}

// NewSuggestionClient creates a new suggestion gateway client.
func NewSuggestionClient(baseURL string) *SuggestionClient {
	return &SuggestionClient{
		client:     httpclient.NewClient(baseURL),
		maxElapsed: 30 * time.Second,
	}
}

type suggestRequest struct {
	Payload map[string]interface{} `json:"payload"`
}

// Suggest returns an advisory suggestion for one item payload.
func (c *SuggestionClient) Suggest(ctx context.Context, payload map[string]interface{}) (*service.Suggestion, error) {
	req := suggestRequest{Payload: payload}

	var resp service.Suggestion
	operation := func() error {
		return c.client.Post(ctx, "/api/v1/suggest", req, &resp)
	}

	policy := backoff.WithContext(
		backoff.NewExponentialBackOff(backoff.WithMaxElapsedTime(c.maxElapsed)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("suggestion gateway: %w", err)
	}
	return &resp, nil
}
