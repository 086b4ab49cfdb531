package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-oauth2/oauth2/v4"
	"github.com/sirupsen/logrus"

	"github.com/franciscosanchezn/gin-oauth-token/internal/models"
	"github.com/franciscosanchezn/gin-oauth-token/internal/pkce"
)

// AuthorizationCodeGrant exchanges an authorization code for a token pair
// (RFC 6749 section 4.1.3, RFC 7636 section 4.6).
type AuthorizationCodeGrant struct {
	clients ClientStore
	codes   CodeStore
	tokens  TokenStore
	now     func() time.Time
}

func NewAuthorizationCodeGrant(clients ClientStore, codes CodeStore, tokens TokenStore, now func() time.Time) *AuthorizationCodeGrant {
	if now == nil {
		now = time.Now
	}
	return &AuthorizationCodeGrant{clients: clients, codes: codes, tokens: tokens, now: now}
}

func (g *AuthorizationCodeGrant) GrantType() oauth2.GrantType {
	return oauth2.AuthorizationCode
}

func (g *AuthorizationCodeGrant) Handle(ctx context.Context, req GrantRequest) (*models.OAuthToken, error) {
	code := req.Get("code")
	redirectURI := req.Get("redirect_uri")
	clientID := req.Get("client_id")
	if code == "" || redirectURI == "" || clientID == "" {
		return nil, invalidRequest("code, redirect_uri and client_id are required")
	}

	ctx, cancel := detach(ctx)
	defer cancel()

	// The code is gone from here on, whatever the outcome of the checks below.
	authCode, err := g.codes.FindAndDelete(ctx, code)
	if errors.Is(err, ErrNotFound) {
		return nil, invalidGrant("authorization code is invalid or has already been used")
	}
	if err != nil {
		return nil, serverError(fmt.Errorf("consuming authorization code: %w", err))
	}

	client, err := g.clients.FindByClientID(ctx, authCode.ClientID)
	if errors.Is(err, ErrNotFound) {
		return nil, serverError(fmt.Errorf("client %q of authorization code no longer exists", authCode.ClientID))
	}
	if err != nil {
		return nil, serverError(fmt.Errorf("loading client: %w", err))
	}

	if authCode.IsExpiredAt(g.now()) {
		return nil, invalidGrant("authorization code has expired")
	}

	if clientID != authCode.ClientID {
		return nil, invalidClient(http.StatusBadRequest, "client_id does not match the authorization code")
	}

	if gerr := authenticateCodeExchange(client, authCode, req); gerr != nil {
		return nil, gerr
	}

	if redirectURI != authCode.RedirectURI {
		return nil, invalidGrant("redirect_uri does not match the authorization request")
	}

	token, err := g.tokens.Create(ctx, authCode.ClientID, authCode.UserID, authCode.Scopes)
	if err != nil {
		return nil, serverError(fmt.Errorf("issuing token: %w", err))
	}

	log.WithFields(logrus.Fields{
		"grant_type": oauth2.AuthorizationCode,
		"client_id":  token.ClientID,
		"user_id":    token.UserID,
		"token_id":   token.ID,
		"pkce":       authCode.UsesPKCE(),
	}).Info("Authorization code exchanged")

	return token, nil
}

// authenticateCodeExchange applies exactly one client authentication path.
// A presented secret is authoritative even when the code also carries a
// PKCE challenge.
func authenticateCodeExchange(client *models.OAuthClient, authCode *models.OAuthCode, req GrantRequest) *GrantError {
	if secret := req.Get("client_secret"); secret != "" {
		if !verifyClientSecret(client, secret) {
			return invalidClient(http.StatusUnauthorized, "client authentication failed")
		}
		return nil
	}

	if authCode.UsesPKCE() {
		verifier := req.Get("code_verifier")
		if verifier == "" {
			return invalidRequest("code_verifier is required")
		}
		if !pkce.Verify(verifier, authCode.CodeChallenge, authCode.CodeChallengeMethod) {
			return invalidGrant("code_verifier does not match the code challenge")
		}
		return nil
	}

	return invalidClient(http.StatusUnauthorized, "client authentication failed")
}
