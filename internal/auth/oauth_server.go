package auth

import (
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/franciscosanchezn/gin-oauth-token/internal/metrics"
)

// TokenPath is where the token endpoint is mounted. LegacyTokenPath is kept
// for clients configured against the bare path.
const (
	TokenPath       = "/oauth/token"
	LegacyTokenPath = "/token"
)

// Stores bundles the persistence collaborators of the token service.
type Stores struct {
	Clients ClientStore
	Codes   CodeStore
	Tokens  TokenStore
	Purgers []Purger
}

// NewGormStores backs every store with the given gorm database.
func NewGormStores(db *gorm.DB, opts TokenOptions) Stores {
	codes := NewGormCodeStore(db)
	tokens := NewGormTokenStore(db, opts)
	return Stores{
		Clients: NewGormClientStore(db),
		Codes:   codes,
		Tokens:  tokens,
		Purgers: []Purger{codes, tokens},
	}
}

// NewBoltStores backs every store with a single bbolt database.
func NewBoltStores(store *BoltStore) Stores {
	return Stores{
		Clients: store,
		Codes:   store.Codes(),
		Tokens:  store.Tokens(),
		Purgers: []Purger{store},
	}
}

// Options tunes the token service.
type Options struct {
	// AccessTTL is reported as expires_in. It should match the TTL the token
	// store issues access tokens with.
	AccessTTL           time.Duration
	RevokeFamilyOnReuse bool
	Metrics             metrics.Recorder
	Now                 func() time.Time
}

type OAuthService struct {
	stores   Stores
	endpoint *TokenEndpoint
}

func NewOAuthService(stores Stores, opts Options) *OAuthService {
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoopMetrics()
	}
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = time.Hour
	}

	authCode := NewAuthorizationCodeGrant(stores.Clients, stores.Codes, stores.Tokens, opts.Now)
	refresh := NewRefreshTokenGrant(stores.Clients, stores.Tokens, RefreshOptions{
		Now:                 opts.Now,
		Metrics:             opts.Metrics,
		RevokeFamilyOnReuse: opts.RevokeFamilyOnReuse,
	})

	return &OAuthService{
		stores:   stores,
		endpoint: NewTokenEndpoint(opts.AccessTTL, opts.Metrics, authCode, refresh),
	}
}

// Endpoint returns the gin handler of the token endpoint.
func (o *OAuthService) Endpoint() *TokenEndpoint {
	return o.endpoint
}

// Sweeper returns a Sweeper over the stores of the service.
func (o *OAuthService) Sweeper(interval time.Duration) *Sweeper {
	return NewSweeper(interval, o.stores.Purgers...)
}

// RegisterRoutes mounts the token endpoint for every method so that
// unsupported ones get an OAuth style 405 instead of a plain 404.
func (o *OAuthService) RegisterRoutes(r gin.IRouter) {
	r.Any(TokenPath, o.endpoint.ServeToken)
	r.Any(LegacyTokenPath, o.endpoint.ServeToken)
}
