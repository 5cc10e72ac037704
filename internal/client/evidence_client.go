package client

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"

	"github.com/pesio-ai/be-rt-workflow/internal/httpclient"
)

// EvidenceClient stores and retrieves evidence documents via the document
// store service. Payloads travel base64-encoded in JSON envelopes.
type EvidenceClient struct {
	client *httpclient.Client
}

// NewEvidenceClient creates a new evidence store client.
func NewEvidenceClient(baseURL string) *EvidenceClient {
	return &EvidenceClient{
		client: httpclient.NewClient(baseURL),
	}
}

type putEvidenceRequest struct {
	ItemID  string `json:"item_id"`
	Payload string `json:"payload"`
}

type putEvidenceResponse struct {
	Ref string `json:"ref"`
}

// PutEvidence stores a document and returns its reference.
func (c *EvidenceClient) PutEvidence(ctx context.Context, itemID string, payload []byte) (string, error) {
	req := putEvidenceRequest{
		ItemID:  itemID,
		Payload: base64.StdEncoding.EncodeToString(payload),
	}

	var resp putEvidenceResponse
	if err := c.client.Post(ctx, "/api/v1/evidence", req, &resp); err != nil {
		return "", fmt.Errorf("failed to store evidence: %w", err)
	}
	return resp.Ref, nil
}

type getEvidenceResponse struct {
	Ref     string `json:"ref"`
	Payload string `json:"payload"`
}

// GetEvidence fetches a stored document by reference.
func (c *EvidenceClient) GetEvidence(ctx context.Context, ref string) ([]byte, error) {
	path := fmt.Sprintf("/api/v1/evidence/get?ref=%s", url.QueryEscape(ref))

	var resp getEvidenceResponse
	if err := c.client.Get(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("failed to get evidence: %w", err)
	}

	data, err := base64.StdEncoding.DecodeString(resp.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode evidence payload: %w", err)
	}
	return data, nil
}
