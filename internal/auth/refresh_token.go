package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-oauth2/oauth2/v4"
	"github.com/sirupsen/logrus"

	"github.com/franciscosanchezn/gin-oauth-token/internal/metrics"
	"github.com/franciscosanchezn/gin-oauth-token/internal/models"
)

// RefreshTokenGrant rotates a refresh token into a new token pair
// (RFC 6749 section 6).
type RefreshTokenGrant struct {
	clients ClientStore
	tokens  TokenStore
	now     func() time.Time
	metrics metrics.Recorder

	// revokeFamilyOnReuse revokes the whole rotation family when a revoked
	// refresh token is presented again.
	revokeFamilyOnReuse bool
}

// RefreshOptions configures a RefreshTokenGrant.
type RefreshOptions struct {
	Now                 func() time.Time
	Metrics             metrics.Recorder
	RevokeFamilyOnReuse bool
}

func NewRefreshTokenGrant(clients ClientStore, tokens TokenStore, opts RefreshOptions) *RefreshTokenGrant {
	g := &RefreshTokenGrant{
		clients:             clients,
		tokens:              tokens,
		now:                 opts.Now,
		metrics:             opts.Metrics,
		revokeFamilyOnReuse: opts.RevokeFamilyOnReuse,
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.metrics == nil {
		g.metrics = metrics.NewNoopMetrics()
	}
	return g
}

func (g *RefreshTokenGrant) GrantType() oauth2.GrantType {
	return oauth2.Refreshing
}

func (g *RefreshTokenGrant) Handle(ctx context.Context, req GrantRequest) (*models.OAuthToken, error) {
	refreshToken := req.Get("refresh_token")
	clientID := req.Get("client_id")
	if refreshToken == "" || clientID == "" {
		return nil, invalidRequest("refresh_token and client_id are required")
	}

	ctx, cancel := detach(ctx)
	defer cancel()

	token, err := g.tokens.FindActiveByRefreshToken(ctx, refreshToken)
	if errors.Is(err, ErrNotFound) {
		if g.revokeFamilyOnReuse {
			g.revokeFamily(ctx, refreshToken)
		}
		return nil, invalidGrant("refresh token is invalid, expired or revoked")
	}
	if err != nil {
		return nil, serverError(fmt.Errorf("loading refresh token: %w", err))
	}

	client, err := g.clients.FindByClientID(ctx, token.ClientID)
	if errors.Is(err, ErrNotFound) {
		return nil, serverError(fmt.Errorf("client %q of refresh token no longer exists", token.ClientID))
	}
	if err != nil {
		return nil, serverError(fmt.Errorf("loading client: %w", err))
	}

	if token.IsRefreshExpiredAt(g.now()) {
		if err := g.tokens.Revoke(ctx, token.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return nil, serverError(fmt.Errorf("revoking expired refresh token: %w", err))
		}
		g.metrics.RecordTokenRevoked("expired")
		return nil, invalidGrant("refresh token has expired")
	}

	if clientID != token.ClientID {
		return nil, invalidClient(http.StatusBadRequest, "client_id does not match the refresh token")
	}

	if secret := req.Get("client_secret"); secret != "" && !verifyClientSecret(client, secret) {
		return nil, invalidClient(http.StatusUnauthorized, "client authentication failed")
	}

	successor, err := g.tokens.Rotate(ctx, token)
	if errors.Is(err, ErrNotFound) {
		// Another request rotated this token first.
		return nil, invalidGrant("refresh token is invalid, expired or revoked")
	}
	if err != nil {
		return nil, serverError(fmt.Errorf("rotating refresh token: %w", err))
	}
	g.metrics.RecordTokenRevoked("rotated")

	log.WithFields(logrus.Fields{
		"grant_type": oauth2.Refreshing,
		"client_id":  successor.ClientID,
		"user_id":    successor.UserID,
		"token_id":   successor.ID,
		"parent_id":  successor.ParentID,
		"family_id":  successor.FamilyID,
	}).Info("Refresh token rotated")

	return successor, nil
}

// revokeFamily handles the replay of a refresh token that was already
// revoked. Failures are logged only: the caller gets invalid_grant anyway.
func (g *RefreshTokenGrant) revokeFamily(ctx context.Context, refreshToken string) {
	revoked, err := g.tokens.RevokeFamily(ctx, refreshToken)
	if errors.Is(err, ErrNotFound) {
		return
	}
	if err != nil {
		log.WithError(err).Error("Failed to revoke token family after refresh token reuse")
		return
	}
	g.metrics.RecordRefreshReuse(revoked)
	log.WithField("revoked_tokens", revoked).Warn("Revoked refresh token presented again, token family revoked")
}
