package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-oauth2/oauth2/v4"
	"github.com/go-oauth2/oauth2/v4/generates"
	oauthmodels "github.com/go-oauth2/oauth2/v4/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/franciscosanchezn/gin-oauth-token/internal/models"
)

// NewOpaqueGenerator returns the go-oauth2 generator producing random opaque
// access and refresh tokens.
func NewOpaqueGenerator() oauth2.AccessGenerate {
	return generates.NewAccessGenerate()
}

// JWTAccessGenerate issues HMAC-signed JWT access tokens. Refresh tokens stay
// opaque: they are only ever looked up by the store.
type JWTAccessGenerate struct {
	SignedKey    []byte
	SignedMethod jwt.SigningMethod
	refresh      oauth2.AccessGenerate
}

// AccessClaims are the claims carried by a JWT access token.
type AccessClaims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// NewJWTAccessGenerate creates a JWT access token generator
func NewJWTAccessGenerate(key []byte, method jwt.SigningMethod) *JWTAccessGenerate {
	return &JWTAccessGenerate{
		SignedKey:    key,
		SignedMethod: method,
		refresh:      generates.NewAccessGenerate(),
	}
}

// Token generates a JWT access token and, if requested, an opaque refresh token
func (g *JWTAccessGenerate) Token(ctx context.Context, data *oauth2.GenerateBasic, isGenRefresh bool) (string, string, error) {
	if data.TokenInfo == nil {
		return "", "", errors.New("cannot generate token: missing token info")
	}
	if data.UserID == "" {
		return "", "", errors.New("cannot generate token: no user ID available")
	}

	info := data.TokenInfo
	claims := AccessClaims{
		Scope: info.GetScope(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   data.UserID,
			Audience:  jwt.ClaimStrings{data.Client.GetID()},
			IssuedAt:  jwt.NewNumericDate(info.GetAccessCreateAt()),
			ExpiresAt: jwt.NewNumericDate(info.GetAccessCreateAt().Add(info.GetAccessExpiresIn())),
		},
	}

	access, err := jwt.NewWithClaims(g.SignedMethod, claims).SignedString(g.SignedKey)
	if err != nil {
		return "", "", fmt.Errorf("signing access token: %w", err)
	}

	refresh := ""
	if isGenRefresh {
		_, refresh, err = g.refresh.Token(ctx, data, true)
		if err != nil {
			return "", "", err
		}
	}

	return access, refresh, nil
}

// tokenIssuer builds new token rows. Both store backends share it so that
// generation happens outside their write transactions.
type tokenIssuer struct {
	generator  oauth2.AccessGenerate
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// TokenOptions configures how a TokenStore issues tokens.
type TokenOptions struct {
	Generator  oauth2.AccessGenerate
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Now        func() time.Time
}

func newTokenIssuer(opts TokenOptions) tokenIssuer {
	issuer := tokenIssuer{
		generator:  opts.Generator,
		accessTTL:  opts.AccessTTL,
		refreshTTL: opts.RefreshTTL,
		now:        opts.Now,
	}
	if issuer.generator == nil {
		issuer.generator = NewOpaqueGenerator()
	}
	if issuer.accessTTL <= 0 {
		issuer.accessTTL = time.Hour
	}
	if issuer.refreshTTL <= 0 {
		issuer.refreshTTL = 30 * 24 * time.Hour
	}
	if issuer.now == nil {
		issuer.now = time.Now
	}
	return issuer
}

// issue creates an unsaved token. A nil parent starts a new rotation family.
func (i tokenIssuer) issue(ctx context.Context, clientID, userID, scopes string, parent *models.OAuthToken) (*models.OAuthToken, error) {
	now := i.now()
	scopes = strings.Join(strings.Fields(scopes), " ")

	access, refresh, err := i.generator.Token(ctx, &oauth2.GenerateBasic{
		Client:   &oauthmodels.Client{ID: clientID},
		UserID:   userID,
		CreateAt: now,
		TokenInfo: &oauthmodels.Token{
			ClientID:         clientID,
			UserID:           userID,
			Scope:            scopes,
			AccessCreateAt:   now,
			AccessExpiresIn:  i.accessTTL,
			RefreshCreateAt:  now,
			RefreshExpiresIn: i.refreshTTL,
		},
	}, true)
	if err != nil {
		return nil, fmt.Errorf("generating tokens: %w", err)
	}
	if access == "" || refresh == "" {
		return nil, errors.New("generating tokens: generator returned an empty token")
	}

	token := &models.OAuthToken{
		ID:               uuid.NewString(),
		ClientID:         clientID,
		UserID:           userID,
		AccessToken:      access,
		RefreshToken:     refresh,
		Scopes:           scopes,
		AccessExpiresAt:  now.Add(i.accessTTL),
		RefreshExpiresAt: now.Add(i.refreshTTL),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if parent != nil {
		token.ParentID = parent.ID
		token.FamilyID = parent.FamilyID
	}
	if token.FamilyID == "" {
		token.FamilyID = token.ID
	}
	return token, nil
}
