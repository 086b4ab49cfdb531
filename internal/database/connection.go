package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/franciscosanchezn/gin-oauth-token/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var log = logrus.New()

// ErrUnsupportedDriver is returned for a driver other than sqlite or postgres
var ErrUnsupportedDriver = errors.New("unsupported database driver")

func init() {
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetLevel(logrus.InfoLevel)
}

// SetLogLevel aligns the package logger with the application level
func SetLogLevel(level logrus.Level) {
	log.SetLevel(level)
}

// InitDatabase initializes the database connection based on the provided configuration
// It supports both PostgreSQL and SQLite drivers with retry logic and connection pooling
func InitDatabase(ctx context.Context, cfg DatabaseConfig) (*gorm.DB, error) {
	var db *gorm.DB
	var err error

	driver := strings.ToLower(cfg.Driver)

	log.WithFields(logrus.Fields{
		"db_driver": driver,
		"db_host":   cfg.Host,
		"db_name":   cfg.Name,
		"db_path":   cfg.Path,
	}).Info("Initializing database connection")

	maxRetries := cfg.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	delay := cfg.RetryDelay

	for attempt := 1; attempt <= maxRetries; attempt++ {
		log.WithFields(logrus.Fields{
			"attempt":     attempt,
			"max_retries": maxRetries,
		}).Debug("Attempting database connection")

		db, err = open(driver, cfg)
		if err != nil {
			if errors.Is(err, ErrUnsupportedDriver) {
				return nil, err
			}
		} else if err = ping(ctx, db); err == nil {
			log.WithFields(logrus.Fields{
				"db_driver": driver,
				"attempt":   attempt,
			}).Info("Database initialized successfully")
			return db, nil
		}

		log.WithFields(logrus.Fields{
			"attempt": attempt,
			"error":   err.Error(),
		}).Warn("Database connection attempt failed")

		// Don't wait after the last attempt
		if attempt < maxRetries {
			log.WithField("delay", delay).Info("Retrying database connection")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", maxRetries, err)
}

func open(driver string, cfg DatabaseConfig) (*gorm.DB, error) {
	gormConfig := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}

	switch driver {
	case "postgres", "postgresql":
		log.WithField("dsn_host", cfg.Host).Debug("Connecting to PostgreSQL")
		return gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
	case "sqlite", "":
		log.WithField("db_path", cfg.Path).Debug("Connecting to SQLite")
		db, err := gorm.Open(sqlite.Open(cfg.DSN()), gormConfig)
		if err != nil {
			return nil, err
		}
		// SQLite allows a single writer; serializing connections keeps the
		// conditional deletes and updates from failing with SQLITE_BUSY.
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("%w: %s (supported: postgres, sqlite)", ErrUnsupportedDriver, cfg.Driver)
	}
}

func ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		log.WithError(err).Error("Failed to get database instance")
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		log.WithError(err).Error("Failed to ping database")
		return err
	}
	if db.Dialector.Name() != "sqlite" {
		configureConnectionPool(sqlDB)
	}
	return nil
}

// Migrate creates or updates the OAuth tables
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.OAuthClient{}, &models.OAuthCode{}, &models.OAuthToken{}); err != nil {
		return fmt.Errorf("migrating oauth tables: %w", err)
	}
	log.Info("OAuth tables migrated")
	return nil
}

// configureConnectionPool sets up connection pool parameters
func configureConnectionPool(sqlDB *sql.DB) {
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	log.WithFields(logrus.Fields{
		"max_open_conns":    25,
		"max_idle_conns":    5,
		"conn_max_lifetime": "5m",
	}).Debug("Connection pool configured")
}
