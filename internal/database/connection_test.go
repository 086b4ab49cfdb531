package database

import (
	"context"
	"testing"
	"time"

	"github.com/franciscosanchezn/gin-oauth-token/internal/config"
	"github.com/franciscosanchezn/gin-oauth-token/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	pg := DatabaseConfig{Driver: "postgres", Host: "db", Port: "5432", User: "u", Password: "p", Name: "oauth", SSLMode: "disable"}
	assert.Equal(t, "host=db user=u password=p dbname=oauth port=5432 sslmode=disable", pg.DSN())

	lite := DatabaseConfig{Driver: "sqlite", Path: "oauth.sqlite"}
	assert.Equal(t, "oauth.sqlite", lite.DSN())

	unknown := DatabaseConfig{Driver: "mysql"}
	assert.Empty(t, unknown.DSN())
}

func TestStringMasksPassword(t *testing.T) {
	cfg := DatabaseConfig{Driver: "postgres", Password: "hunter2"}
	assert.NotContains(t, cfg.String(), "hunter2")
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(&config.Config{DBDriver: "sqlite", DBPath: "x.sqlite", DBHost: "h"})
	assert.Equal(t, "sqlite", cfg.Driver)
	assert.Equal(t, "x.sqlite", cfg.Path)
	assert.Equal(t, 5, cfg.MaxRetries)
}

func TestInitDatabaseSQLiteAndMigrate(t *testing.T) {
	db, err := InitDatabase(context.Background(), DatabaseConfig{Driver: "sqlite", Path: ":memory:", MaxRetries: 1})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	assert.True(t, db.Migrator().HasTable(&models.OAuthClient{}))
	assert.True(t, db.Migrator().HasTable(&models.OAuthCode{}))
	assert.True(t, db.Migrator().HasTable(&models.OAuthToken{}))
}

func TestInitDatabaseUnsupportedDriver(t *testing.T) {
	start := time.Now()
	_, err := InitDatabase(context.Background(), DatabaseConfig{Driver: "mysql", MaxRetries: 3, RetryDelay: time.Second})
	assert.ErrorIs(t, err, ErrUnsupportedDriver)
	// no retries for a configuration error
	assert.Less(t, time.Since(start), time.Second)
}
