package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Create a new instance of the logger
// Configure it to log at the desired level
// and format it as JSON for structured logging
var log = logrus.New()

func init() {
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetLevel(LevelForEnvironment(GetEnvWithDefault("APP_ENV", "development")))
}

// Supported values for the enumerated settings
const (
	StoreBackendGorm = "gorm"
	StoreBackendBolt = "bolt"

	AccessTokenFormatOpaque = "opaque"
	AccessTokenFormatJWT    = "jwt"

	minJWTSecretLength = 32
)

// Config used for the application configuration, loading the input from environment variables
type Config struct {
	// Server Configuration
	Port   int    `json:"port"`
	Host   string `json:"host"`
	AppEnv string `json:"app_env"`

	// Logging configuration
	LogLevel string `json:"log_level"`

	// Storage configuration
	StoreBackend string `json:"store_backend"`
	DBDriver     string `json:"db_driver"`
	DBPath       string `json:"db_path"`
	DBHost       string `json:"db_host"`
	DBPort       string `json:"db_port"`
	DBName       string `json:"db_name"`
	DBUser       string `json:"db_user"`
	DBPassword   string `json:"db_password"`
	DBSSLMode    string `json:"db_sslmode"`
	BoltPath     string `json:"bolt_path"`

	// Token configuration
	AccessTokenTTL            time.Duration `json:"access_token_ttl"`
	RefreshTokenTTL           time.Duration `json:"refresh_token_ttl"`
	AccessTokenFormat         string        `json:"access_token_format"`
	JWTSecret                 string        `json:"jwt_secret"`
	RefreshReuseRevokesFamily bool          `json:"refresh_reuse_revokes_family"`
	SweepInterval             time.Duration `json:"sweep_interval"`

	// HTTP surface
	CORSAllowedOrigins []string `json:"cors_allowed_origins"`
	MetricsEnabled     bool     `json:"metrics_enabled"`
	MetricsToken       string   `json:"metrics_token"`
}

// String returns a string representation of Config with sensitive data masked
func (c *Config) String() string {
	return fmt.Sprintf("Config{Port: %d, Host: %s, AppEnv: %s, LogLevel: %s, StoreBackend: %s, DBDriver: %s, DBPath: %s, DBHost: %s, DBPort: %s, DBName: %s, DBUser: %s, DBPassword: [REDACTED], BoltPath: %s, AccessTokenTTL: %s, RefreshTokenTTL: %s, AccessTokenFormat: %s, JWTSecret: %s, RefreshReuseRevokesFamily: %t, CORSAllowedOrigins: %v, MetricsEnabled: %t, MetricsToken: %s}",
		c.Port, c.Host, c.AppEnv, c.LogLevel, c.StoreBackend, c.DBDriver, c.DBPath, c.DBHost, c.DBPort, c.DBName, c.DBUser,
		c.BoltPath, c.AccessTokenTTL, c.RefreshTokenTTL, c.AccessTokenFormat, maskSecret(c.JWTSecret),
		c.RefreshReuseRevokesFamily, c.CORSAllowedOrigins, c.MetricsEnabled, maskSecret(c.MetricsToken))
}

// maskSecret hides a secret while still showing whether it was set
func maskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	return "[REDACTED]"
}

// LoadConfig read the proper configuration from environment variables and returns a Config struct
// Returns an error if any variable is invalid
func LoadConfig() (*Config, error) {
	log.Info("Loading configuration from environment variables")
	port, err := strconv.Atoi(GetEnvWithDefault("APP_PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid APP_PORT: %w", err)
	}

	config := &Config{
		Port:     port,
		Host:     GetEnvWithDefault("APP_HOST", "localhost"),
		AppEnv:   GetEnvWithDefault("APP_ENV", "development"),
		LogLevel: os.Getenv("LOG_LEVEL"),

		StoreBackend: strings.ToLower(GetEnvWithDefault("STORE_BACKEND", StoreBackendGorm)),
		DBDriver:     strings.ToLower(GetEnvWithDefault("DB_DRIVER", "sqlite")),
		DBPath:       GetEnvWithDefault("DB_PATH", "oauth.sqlite"),
		DBHost:       GetEnvWithDefault("DB_HOST", "localhost"),
		DBPort:       GetEnvWithDefault("DB_PORT", "5432"),
		DBName:       GetEnvWithDefault("DB_NAME", "oauth"),
		DBUser:       GetEnvWithDefault("DB_USER", "oauth"),
		DBPassword:   os.Getenv("DB_PASSWORD"),
		DBSSLMode:    GetEnvWithDefault("DB_SSLMODE", "disable"),
		BoltPath:     GetEnvWithDefault("BOLT_PATH", "oauth.db"),

		AccessTokenTTL:            GetEnvAsType("ACCESS_TOKEN_TTL", time.Hour),
		RefreshTokenTTL:           GetEnvAsType("REFRESH_TOKEN_TTL", 30*24*time.Hour),
		AccessTokenFormat:         strings.ToLower(GetEnvWithDefault("ACCESS_TOKEN_FORMAT", AccessTokenFormatOpaque)),
		JWTSecret:                 os.Getenv("JWT_SECRET"),
		RefreshReuseRevokesFamily: GetEnvAsType("REFRESH_REUSE_REVOKES_FAMILY", false),
		SweepInterval:             GetEnvAsType("SWEEP_INTERVAL", 10*time.Minute),

		CORSAllowedOrigins: splitList(GetEnvWithDefault("CORS_ALLOWED_ORIGINS", "*")),
		MetricsEnabled:     GetEnvAsType("METRICS_ENABLED", true),
		MetricsToken:       os.Getenv("METRICS_TOKEN"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	log.Infof("Configuration loaded: %s", config.String())
	return config, nil
}

// Validate checks the enumerated settings and the token lifetimes
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("APP_PORT out of range: %d", c.Port)
	}

	switch c.StoreBackend {
	case StoreBackendGorm:
		switch c.DBDriver {
		case "sqlite", "postgres", "postgresql":
		default:
			return fmt.Errorf("unsupported DB_DRIVER %q (supported: sqlite, postgres)", c.DBDriver)
		}
	case StoreBackendBolt:
		if c.BoltPath == "" {
			return errors.New("BOLT_PATH is required when STORE_BACKEND=bolt")
		}
	default:
		return fmt.Errorf("unsupported STORE_BACKEND %q (supported: gorm, bolt)", c.StoreBackend)
	}

	if c.AccessTokenTTL <= 0 {
		return errors.New("ACCESS_TOKEN_TTL must be positive")
	}
	if c.RefreshTokenTTL <= 0 {
		return errors.New("REFRESH_TOKEN_TTL must be positive")
	}

	switch c.AccessTokenFormat {
	case AccessTokenFormatOpaque:
	case AccessTokenFormatJWT:
		if len(c.JWTSecret) < minJWTSecretLength {
			return fmt.Errorf("JWT_SECRET must be at least %d bytes when ACCESS_TOKEN_FORMAT=jwt", minJWTSecretLength)
		}
	default:
		return fmt.Errorf("unsupported ACCESS_TOKEN_FORMAT %q (supported: opaque, jwt)", c.AccessTokenFormat)
	}

	if c.LogLevel != "" {
		if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
			return fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
	}

	return nil
}

// Level returns LOG_LEVEL when set, the APP_ENV default otherwise
func (c *Config) Level() logrus.Level {
	if level, err := logrus.ParseLevel(c.LogLevel); err == nil && c.LogLevel != "" {
		return level
	}
	return LevelForEnvironment(c.AppEnv)
}

// LevelForEnvironment maps APP_ENV to the default logrus level
func LevelForEnvironment(environment string) logrus.Level {
	switch environment {
	case "development":
		return logrus.DebugLevel
	case "production":
		return logrus.ErrorLevel
	default:
		// Default to info level for other environments
		return logrus.InfoLevel
	}
}

// Helper to get environment with default values
func GetEnvWithDefault(key, defaultValue string) string {
	log.Tracef("Getting environment variable: %s", key)
	value := os.Getenv(key)
	if value == "" {
		log.Debugf("Environment variable %s not set, using default value: %s", key, defaultValue)
		return defaultValue
	}
	return value
}

// GetEnvAsType retrieves an environment variable and converts it to the specified type
// using generic type handling.
func GetEnvAsType[T any](key string, defaultValue T) T {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var result T
	switch any(result).(type) {
	case int:
		intValue, err := strconv.Atoi(value)
		if err != nil {
			return defaultValue
		}
		return any(intValue).(T)
	case string:
		return any(value).(T)
	case bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return defaultValue
		}
		return any(boolValue).(T)
	case time.Duration:
		durationValue, err := time.ParseDuration(value)
		if err != nil {
			log.Warnf("Invalid duration for %s: %q, using default value: %v", key, value, defaultValue)
			return defaultValue
		}
		return any(durationValue).(T)
	default:
		return defaultValue // Fallback for unsupported types
	}
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
