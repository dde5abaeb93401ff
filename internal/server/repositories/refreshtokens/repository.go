// Package refreshtokens stores the opaque refresh tokens issued alongside
// access tokens.
package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/attendkeeper/internal/server/models"
)

type Repository interface {
	// Create stores token for userID, valid until expiresAt.
	Create(ctx context.Context, userID, token string, expiresAt time.Time) error

	// Find returns common.ErrorNotFound when the token is unknown.
	Find(ctx context.Context, token string) (*models.RefreshToken, error)

	// Delete revokes one token. Unknown tokens are not an error.
	Delete(ctx context.Context, token string) error

	// DeleteExpired drops the user's tokens that expired before now.
	DeleteExpired(ctx context.Context, userID string, now time.Time) (int64, error)
}
