package auth

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/franciscosanchezn/gin-oauth-token/internal/models"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type clientWriter interface {
	PutClient(ctx context.Context, client *models.OAuthClient) error
}

type testEnv struct {
	stores   Stores
	registry clientWriter
	clock    *testClock
}

const (
	testAccessTTL  = time.Hour
	testRefreshTTL = 24 * time.Hour
)

func testTokenOptions(clock *testClock) TokenOptions {
	return TokenOptions{AccessTTL: testAccessTTL, RefreshTTL: testRefreshTTL, Now: clock.Now}
}

func newTestGormDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.OAuthClient{}, &models.OAuthCode{}, &models.OAuthToken{}))
	return db
}

func newGormEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := newTestClock()
	db := newTestGormDB(t)
	return &testEnv{
		stores:   NewGormStores(db, testTokenOptions(clock)),
		registry: NewGormClientStore(db),
		clock:    clock,
	}
}

func newBoltEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := newTestClock()
	store, err := OpenBoltStore(filepath.Join(t.TempDir(), "nested", "oauth.db"), testTokenOptions(clock))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return &testEnv{stores: NewBoltStores(store), registry: store, clock: clock}
}

// forEachBackend runs fn against every store implementation.
func forEachBackend(t *testing.T, fn func(t *testing.T, env *testEnv)) {
	t.Run("gorm", func(t *testing.T) { fn(t, newGormEnv(t)) })
	t.Run("bolt", func(t *testing.T) { fn(t, newBoltEnv(t)) })
}

// putClient registers a client; an empty secret registers a public client.
func (e *testEnv) putClient(t *testing.T, id, secret string, redirectURIs ...string) {
	t.Helper()
	client := &models.OAuthClient{ID: id, Name: id, Scopes: "read write"}
	for i, uri := range redirectURIs {
		if i > 0 {
			client.RedirectURIs += " "
		}
		client.RedirectURIs += uri
	}
	if secret != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
		require.NoError(t, err)
		client.Secret = string(hash)
	}
	require.NoError(t, e.registry.PutClient(context.Background(), client))
}

// putCode stores code, defaulting to a ten minute lifetime.
func (e *testEnv) putCode(t *testing.T, code models.OAuthCode) {
	t.Helper()
	if code.ExpiresAt.IsZero() {
		code.ExpiresAt = e.clock.Now().Add(10 * time.Minute)
	}
	if code.UserID == "" {
		code.UserID = "user-42"
	}
	require.NoError(t, e.stores.Codes.Create(context.Background(), &code))
}

func (e *testEnv) codeGrant() *AuthorizationCodeGrant {
	return NewAuthorizationCodeGrant(e.stores.Clients, e.stores.Codes, e.stores.Tokens, e.clock.Now)
}

func (e *testEnv) refreshGrant(opts RefreshOptions) *RefreshTokenGrant {
	opts.Now = e.clock.Now
	return NewRefreshTokenGrant(e.stores.Clients, e.stores.Tokens, opts)
}

func assertGrantError(t *testing.T, err error, code string, status int) {
	t.Helper()
	var gerr *GrantError
	require.True(t, errors.As(err, &gerr), "expected *GrantError, got %v", err)
	assert.Equal(t, code, gerr.Code())
	assert.Equal(t, status, gerr.Status)
}

type recordingMetrics struct {
	mu       sync.Mutex
	issued   map[string]int
	failures map[string]int
	revoked  map[string]int
	reuse    int
	family   int64
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		issued:   map[string]int{},
		failures: map[string]int{},
		revoked:  map[string]int{},
	}
}

func (m *recordingMetrics) RecordTokenIssued(grantType string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issued[grantType]++
}

func (m *recordingMetrics) RecordGrantFailure(grantType, errorCode string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[grantType+"/"+errorCode]++
}

func (m *recordingMetrics) RecordTokenRevoked(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[reason]++
}

func (m *recordingMetrics) RecordRefreshReuse(revoked int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reuse++
	m.family += revoked
}
