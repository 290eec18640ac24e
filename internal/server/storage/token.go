package storage

import (
	"context"
	"time"

	"github.com/iudanet/edusession/internal/models"
)

// TokenStorage defines interface for refresh token persistence
type TokenStorage interface {
	// SaveRefreshToken stores a newly issued refresh token
	SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error

	// GetRefreshToken retrieves refresh token by token value, revoked ones included
	// Returns ErrTokenNotFound if token doesn't exist
	GetRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error)

	// RevokeRefreshToken marks token as revoked
	// Returns ErrTokenNotFound if token doesn't exist or is already revoked
	RevokeRefreshToken(ctx context.Context, token string, at time.Time) error

	// RevokeUserTokens revokes every active token of a user
	// Returns number of revoked tokens
	RevokeUserTokens(ctx context.Context, userID string, at time.Time) (int, error)

	// DeleteExpiredTokens removes tokens that expired before now
	// Returns number of deleted tokens
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int, error)
}
