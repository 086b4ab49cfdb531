package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOAuthClientAllowsRedirectURI(t *testing.T) {
	client := &OAuthClient{RedirectURIs: "https://app.example/cb http://localhost:3000/callback"}

	testCases := []struct {
		uri  string
		want bool
	}{
		{uri: "https://app.example/cb", want: true},
		{uri: "http://localhost:3000/callback", want: true},
		{uri: "https://app.example/cb/", want: false},
		{uri: "https://APP.example/cb", want: false},
		{uri: "https://app.example/cb?x=1", want: false},
		{uri: "", want: false},
	}
	for _, tt := range testCases {
		t.Run(tt.uri, func(t *testing.T) {
			assert.Equal(t, tt.want, client.AllowsRedirectURI(tt.uri))
		})
	}
}

func TestOAuthClientIsConfidential(t *testing.T) {
	assert.True(t, (&OAuthClient{Secret: "$2a$10$hash"}).IsConfidential())
	assert.False(t, (&OAuthClient{}).IsConfidential())
}

func TestExpiryBoundaries(t *testing.T) {
	expiry := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	code := &OAuthCode{ExpiresAt: expiry}
	token := &OAuthToken{RefreshExpiresAt: expiry}

	assert.False(t, code.IsExpiredAt(expiry.Add(-time.Nanosecond)))
	assert.True(t, code.IsExpiredAt(expiry), "a code is invalid from its expiry instant on")
	assert.False(t, token.IsRefreshExpiredAt(expiry.Add(-time.Nanosecond)))
	assert.True(t, token.IsRefreshExpiredAt(expiry))
}

func TestOAuthCodeUsesPKCE(t *testing.T) {
	assert.True(t, (&OAuthCode{CodeChallenge: "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"}).UsesPKCE())
	assert.False(t, (&OAuthCode{}).UsesPKCE())
}

func TestOAuthTokenScopeList(t *testing.T) {
	assert.Equal(t, []string{"read", "write"}, (&OAuthToken{Scopes: "read  write "}).ScopeList())
	assert.Empty(t, (&OAuthToken{}).ScopeList())
}
