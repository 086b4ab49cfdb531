package auth

import (
	"context"
	"errors"
	"time"

	"github.com/franciscosanchezn/gin-oauth-token/internal/models"
)

// ErrNotFound is returned by the stores when a row does not exist, or no
// longer qualifies: a consumed code, a revoked token, a lost rotation race.
var ErrNotFound = errors.New("record not found")

// ClientStore looks up registered clients. The token endpoint never writes to it.
type ClientStore interface {
	FindByClientID(ctx context.Context, clientID string) (*models.OAuthClient, error)
}

// CodeStore persists single-use authorization codes.
type CodeStore interface {
	// Create stores a code issued by the consent flow.
	Create(ctx context.Context, code *models.OAuthCode) error
	// FindAndDelete removes the code and returns it. Of several concurrent
	// callers for the same code, exactly one gets the row.
	FindAndDelete(ctx context.Context, code string) (*models.OAuthCode, error)
}

// TokenStore persists issued access/refresh token pairs.
type TokenStore interface {
	// Create issues a new token pair starting a new rotation family.
	Create(ctx context.Context, clientID, userID, scopes string) (*models.OAuthToken, error)
	FindActiveByRefreshToken(ctx context.Context, refreshToken string) (*models.OAuthToken, error)
	// Revoke marks the token revoked. It returns ErrNotFound when the token
	// is unknown or was already revoked.
	Revoke(ctx context.Context, tokenID string) error
	// Rotate revokes old and issues its successor in one step. It returns
	// ErrNotFound when old was revoked in the meantime.
	Rotate(ctx context.Context, old *models.OAuthToken) (*models.OAuthToken, error)
	// RevokeFamily revokes every token of the rotation family of an already
	// revoked refresh token and returns how many were still active.
	RevokeFamily(ctx context.Context, refreshToken string) (int64, error)
}

// Purger removes rows that can never be exchanged again.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
