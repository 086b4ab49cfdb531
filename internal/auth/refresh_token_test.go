package auth

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/go-oauth2/oauth2/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/franciscosanchezn/gin-oauth-token/internal/models"
)

func issueInitialToken(t *testing.T, env *testEnv, clientID string) *models.OAuthToken {
	t.Helper()
	token, err := env.stores.Tokens.Create(context.Background(), clientID, "user-42", "read write")
	require.NoError(t, err)
	return token
}

func TestRefreshTokenGrantType(t *testing.T) {
	g := NewRefreshTokenGrant(nil, nil, RefreshOptions{})
	assert.Equal(t, oauth2.Refreshing, g.GrantType())
}

func TestRefreshTokenGrantRotation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		env.putClient(t, "web-app", "s3cret", testRedirectURI)
		original := issueInitialToken(t, env, "web-app")
		rec := newRecordingMetrics()

		env.clock.Advance(time.Hour)
		req := GrantRequest{"refresh_token": original.RefreshToken, "client_id": "web-app", "client_secret": "s3cret"}
		rotated, err := env.refreshGrant(RefreshOptions{Metrics: rec}).Handle(ctx, req)
		require.NoError(t, err)

		assert.NotEqual(t, original.AccessToken, rotated.AccessToken)
		assert.NotEqual(t, original.RefreshToken, rotated.RefreshToken)
		assert.Equal(t, original.ClientID, rotated.ClientID)
		assert.Equal(t, original.UserID, rotated.UserID)
		assert.Equal(t, original.Scopes, rotated.Scopes)
		assert.Equal(t, original.ID, rotated.ParentID)
		assert.Equal(t, original.FamilyID, rotated.FamilyID)
		assert.Equal(t, env.clock.Now().Add(testRefreshTTL), rotated.RefreshExpiresAt)
		assert.Equal(t, 1, rec.revoked["rotated"])

		t.Run("old refresh token never succeeds again", func(t *testing.T) {
			_, err := env.refreshGrant(RefreshOptions{}).Handle(ctx, req)
			assertGrantError(t, err, "invalid_grant", http.StatusBadRequest)

			_, err = env.stores.Tokens.FindActiveByRefreshToken(ctx, original.RefreshToken)
			assert.ErrorIs(t, err, ErrNotFound)
		})

		t.Run("successor rotates in turn", func(t *testing.T) {
			next, err := env.refreshGrant(RefreshOptions{}).Handle(ctx, GrantRequest{
				"refresh_token": rotated.RefreshToken,
				"client_id":     "web-app",
			})
			require.NoError(t, err)
			assert.Equal(t, rotated.ID, next.ParentID)
			assert.Equal(t, original.FamilyID, next.FamilyID)
		})
	})
}

func TestRefreshTokenGrantPublicClient(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		env.putClient(t, "spa", "", testRedirectURI)
		original := issueInitialToken(t, env, "spa")

		rotated, err := env.refreshGrant(RefreshOptions{}).Handle(context.Background(), GrantRequest{
			"refresh_token": original.RefreshToken,
			"client_id":     "spa",
		})
		require.NoError(t, err)
		assert.Equal(t, "spa", rotated.ClientID)
	})
}

func TestRefreshTokenGrantRejections(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		env.putClient(t, "web-app", "s3cret", testRedirectURI)
		env.putClient(t, "other-app", "other-secret", testRedirectURI)

		testCases := []struct {
			name       string
			req        func(token *models.OAuthToken) GrantRequest
			wantCode   string
			wantStatus int
		}{
			{
				name:       "missing refresh_token",
				req:        func(*models.OAuthToken) GrantRequest { return GrantRequest{"client_id": "web-app"} },
				wantCode:   "invalid_request",
				wantStatus: http.StatusBadRequest,
			},
			{
				name: "missing client_id",
				req: func(tok *models.OAuthToken) GrantRequest {
					return GrantRequest{"refresh_token": tok.RefreshToken}
				},
				wantCode:   "invalid_request",
				wantStatus: http.StatusBadRequest,
			},
			{
				name: "unknown refresh token",
				req: func(*models.OAuthToken) GrantRequest {
					return GrantRequest{"refresh_token": "nope", "client_id": "web-app"}
				},
				wantCode:   "invalid_grant",
				wantStatus: http.StatusBadRequest,
			},
			{
				name: "client_id mismatch",
				req: func(tok *models.OAuthToken) GrantRequest {
					return GrantRequest{"refresh_token": tok.RefreshToken, "client_id": "other-app", "client_secret": "other-secret"}
				},
				wantCode:   "invalid_client",
				wantStatus: http.StatusBadRequest,
			},
			{
				name: "wrong secret",
				req: func(tok *models.OAuthToken) GrantRequest {
					return GrantRequest{"refresh_token": tok.RefreshToken, "client_id": "web-app", "client_secret": "guess"}
				},
				wantCode:   "invalid_client",
				wantStatus: http.StatusUnauthorized,
			},
		}

		for _, tt := range testCases {
			t.Run(tt.name, func(t *testing.T) {
				token := issueInitialToken(t, env, "web-app")
				_, err := env.refreshGrant(RefreshOptions{}).Handle(ctx, tt.req(token))
				assertGrantError(t, err, tt.wantCode, tt.wantStatus)

				// a rejected refresh leaves the token usable
				_, err = env.stores.Tokens.FindActiveByRefreshToken(ctx, token.RefreshToken)
				assert.NoError(t, err)
			})
		}
	})
}

func TestRefreshTokenGrantExpired(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		env.putClient(t, "web-app", "s3cret", testRedirectURI)
		token := issueInitialToken(t, env, "web-app")
		rec := newRecordingMetrics()

		env.clock.Advance(testRefreshTTL)

		_, err := env.refreshGrant(RefreshOptions{Metrics: rec}).Handle(ctx, GrantRequest{
			"refresh_token": token.RefreshToken,
			"client_id":     "web-app",
			"client_secret": "s3cret",
		})
		assertGrantError(t, err, "invalid_grant", http.StatusBadRequest)
		assert.Equal(t, 1, rec.revoked["expired"])

		_, err = env.stores.Tokens.FindActiveByRefreshToken(ctx, token.RefreshToken)
		assert.ErrorIs(t, err, ErrNotFound, "expired token must be revoked")
	})
}

func TestRefreshTokenGrantMissingClient(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		token := issueInitialToken(t, env, "deleted-app")

		_, err := env.refreshGrant(RefreshOptions{}).Handle(context.Background(), GrantRequest{
			"refresh_token": token.RefreshToken,
			"client_id":     "deleted-app",
		})
		assertGrantError(t, err, "server_error", http.StatusInternalServerError)
	})
}

func TestRefreshTokenGrantConcurrentRotation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		env.putClient(t, "web-app", "s3cret", testRedirectURI)
		token := issueInitialToken(t, env, "web-app")
		grant := env.refreshGrant(RefreshOptions{})

		const attempts = 8
		results := make([]*models.OAuthToken, attempts)
		errs := make([]error, attempts)

		var g errgroup.Group
		for i := 0; i < attempts; i++ {
			i := i
			g.Go(func() error {
				results[i], errs[i] = grant.Handle(ctx, GrantRequest{
					"refresh_token": token.RefreshToken,
					"client_id":     "web-app",
					"client_secret": "s3cret",
				})
				return nil
			})
		}
		require.NoError(t, g.Wait())

		var winners []*models.OAuthToken
		for i, err := range errs {
			if err == nil {
				winners = append(winners, results[i])
				continue
			}
			assertGrantError(t, err, "invalid_grant", http.StatusBadRequest)
		}
		require.Len(t, winners, 1)

		_, err := env.stores.Tokens.FindActiveByRefreshToken(ctx, winners[0].RefreshToken)
		assert.NoError(t, err)
	})
}

func TestRefreshTokenGrantReuse(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		env.putClient(t, "web-app", "s3cret", testRedirectURI)

		rotateOnce := func(t *testing.T, opts RefreshOptions) (*models.OAuthToken, *models.OAuthToken) {
			original := issueInitialToken(t, env, "web-app")
			successor, err := env.refreshGrant(opts).Handle(ctx, GrantRequest{
				"refresh_token": original.RefreshToken,
				"client_id":     "web-app",
			})
			require.NoError(t, err)
			return original, successor
		}

		t.Run("successor survives by default", func(t *testing.T) {
			original, successor := rotateOnce(t, RefreshOptions{})

			_, err := env.refreshGrant(RefreshOptions{}).Handle(ctx, GrantRequest{
				"refresh_token": original.RefreshToken,
				"client_id":     "web-app",
			})
			assertGrantError(t, err, "invalid_grant", http.StatusBadRequest)

			_, err = env.stores.Tokens.FindActiveByRefreshToken(ctx, successor.RefreshToken)
			assert.NoError(t, err)
		})

		t.Run("family revoked when enabled", func(t *testing.T) {
			rec := newRecordingMetrics()
			opts := RefreshOptions{Metrics: rec, RevokeFamilyOnReuse: true}
			original, successor := rotateOnce(t, opts)
			unrelated := issueInitialToken(t, env, "web-app")

			_, err := env.refreshGrant(opts).Handle(ctx, GrantRequest{
				"refresh_token": original.RefreshToken,
				"client_id":     "web-app",
			})
			assertGrantError(t, err, "invalid_grant", http.StatusBadRequest)

			_, err = env.stores.Tokens.FindActiveByRefreshToken(ctx, successor.RefreshToken)
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = env.stores.Tokens.FindActiveByRefreshToken(ctx, unrelated.RefreshToken)
			assert.NoError(t, err)

			assert.Equal(t, 1, rec.reuse)
			assert.Equal(t, int64(1), rec.family)
		})

		t.Run("unknown token revokes nothing", func(t *testing.T) {
			rec := newRecordingMetrics()
			_, err := env.refreshGrant(RefreshOptions{Metrics: rec, RevokeFamilyOnReuse: true}).Handle(ctx, GrantRequest{
				"refresh_token": "never-issued",
				"client_id":     "web-app",
			})
			assertGrantError(t, err, "invalid_grant", http.StatusBadRequest)
			assert.Equal(t, 0, rec.reuse)
		})
	})
}
