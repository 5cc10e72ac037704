package client

import (
	"context"
	"fmt"
	"net/url"

	"github.com/pesio-ai/be-rt-workflow/internal/httpclient"
	"github.com/pesio-ai/be-rt-workflow/internal/repository"
)

// IdentityClient resolves reviewer roles from the platform identity service.
type IdentityClient struct {
	client *httpclient.Client
}

// NewIdentityClient creates a new identity service client.
func NewIdentityClient(baseURL string) *IdentityClient {
	return &IdentityClient{
		client: httpclient.NewClient(baseURL),
	}
}

type actorRoleResponse struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
}

// GetActorRole returns the reviewer role an actor holds.
func (c *IdentityClient) GetActorRole(ctx context.Context, actorID string) (repository.DecisionRole, error) {
	path := fmt.Sprintf("/api/v1/actors/role?id=%s", url.QueryEscape(actorID))

	var resp actorRoleResponse
	if err := c.client.Get(ctx, path, &resp); err != nil {
		return "", fmt.Errorf("failed to resolve actor role: %w", err)
	}

	switch repository.DecisionRole(resp.Role) {
	case repository.RoleTester, repository.RoleReportOwner:
		return repository.DecisionRole(resp.Role), nil
	}
	return "", fmt.Errorf("identity service returned unknown role %q for actor %s", resp.Role, actorID)
}
