package client

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/pesio-ai/be-plt-approvals/internal/approval"
	"github.com/pesio-ai/be-plt-approvals/internal/errors"
)

// IdentityClient resolves users against the platform identity service.
// It backs the approver existence checks at chain configuration time and
// the display names quoted in refusal messages.
type IdentityClient struct {
	client *Client
}

// NewIdentityClient creates a client for the identity service at baseURL.
func NewIdentityClient(baseURL string, timeout time.Duration) *IdentityClient {
	return &IdentityClient{client: NewClientWithTimeout(baseURL, timeout)}
}

// userResponse mirrors the identity service's user payload.
type userResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

// FindUser fetches a user by id.
func (c *IdentityClient) FindUser(ctx context.Context, userID string) (*approval.User, error) {
	var resp userResponse
	path := fmt.Sprintf("/api/v1/users/%s", url.PathEscape(userID))
	if err := c.client.Get(ctx, path, &resp); err != nil {
		if errors.HasCode(err, errors.ErrCodeNotFound) {
			return nil, errors.NotFound("user", userID)
		}
		return nil, err
	}
	return &approval.User{ID: resp.ID, DisplayName: resp.DisplayName}, nil
}

// UserExists reports whether the identity service knows the user.
func (c *IdentityClient) UserExists(ctx context.Context, userID string) (bool, error) {
	_, err := c.FindUser(ctx, userID)
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
