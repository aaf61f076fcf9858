package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// ErrUnauthenticated is returned when a token does not resolve to a user.
var ErrUnauthenticated = errors.New("unauthenticated")

// AuthPort defines the interface for authentication operations.
// This is the port that other modules use to access auth functionality.
type AuthPort interface {
	ValidateToken(ctx context.Context, token string) (*Claims, error)
}

// AuthAdapter implements AuthPort using the service container.
type AuthAdapter struct {
	container mono.ServiceContainer
}

// NewAuthAdapter creates a new AuthAdapter.
func NewAuthAdapter(container mono.ServiceContainer) *AuthAdapter {
	return &AuthAdapter{container: container}
}

// ValidateToken validates an access token and returns claims.
func (a *AuthAdapter) ValidateToken(ctx context.Context, token string) (*Claims, error) {
	req := ValidateTokenRequest{Token: token}
	var resp ValidateTokenResponse

	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceValidateToken,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("%s request failed: %w", ServiceValidateToken, err)
	}

	if !resp.Valid {
		return nil, fmt.Errorf("%w: %s", ErrUnauthenticated, resp.Error)
	}

	return &Claims{UserID: resp.UserID, Email: resp.Email}, nil
}
