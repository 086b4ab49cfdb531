package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-oauth2/oauth2/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"golang.org/x/sync/errgroup"

	_ "github.com/franciscosanchezn/gin-oauth-token/docs" // Import generated docs
	"github.com/franciscosanchezn/gin-oauth-token/internal/auth"
	"github.com/franciscosanchezn/gin-oauth-token/internal/config"
	"github.com/franciscosanchezn/gin-oauth-token/internal/database"
	"github.com/franciscosanchezn/gin-oauth-token/internal/metrics"
	"github.com/franciscosanchezn/gin-oauth-token/internal/middleware"
)

const shutdownTimeout = 10 * time.Second

// @title OAuth Token Service
// @version 1.0
// @description OAuth 2.0 token endpoint: authorization_code (with PKCE) and refresh_token grants
// @host localhost:8080
// @BasePath /
func main() {
	// Load environment variables
	loadDotenvFile()

	// Load configuration
	configuration := loadConfig()

	// Initialize logger
	setUpLogger(configuration)

	if err := run(configuration); err != nil {
		log.WithError(err).Fatal("Server stopped with error")
	}
}

// checkPanicErr checks if an error occurred and panics if it did
func checkPanicErr(err error) {
	if err != nil {
		panic(err)
	}
}

// loadDotenvFile loads environment variables from a .env file
// If the file is not found, it will log a warning and use system environment variables
func loadDotenvFile() {
	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file found, using system environment variables")
	}
}

// setUpLogger initializes the loggers with a JSON formatter and the configured level
func setUpLogger(conf *config.Config) {
	level := conf.Level()
	log.SetFormatter(&log.JSONFormatter{})
	log.SetLevel(level)
	auth.SetLogLevel(level)
	database.SetLogLevel(level)

	if level < log.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
}

// loadConfig loads the application configuration from environment variables
// It panics if the configuration is invalid
func loadConfig() *config.Config {
	conf, err := config.LoadConfig()
	checkPanicErr(err)
	return conf
}

// openStores builds the stores for the configured backend. The returned
// closer releases the underlying database.
func openStores(ctx context.Context, conf *config.Config) (auth.Stores, func() error, error) {
	opts := auth.TokenOptions{
		Generator:  accessGenerator(conf),
		AccessTTL:  conf.AccessTokenTTL,
		RefreshTTL: conf.RefreshTokenTTL,
	}

	if conf.StoreBackend == config.StoreBackendBolt {
		store, err := auth.OpenBoltStore(conf.BoltPath, opts)
		if err != nil {
			return auth.Stores{}, nil, err
		}
		log.WithField("path", conf.BoltPath).Info("Using bbolt store")
		return auth.NewBoltStores(store), store.Close, nil
	}

	db, err := database.InitDatabase(ctx, database.FromConfig(conf))
	if err != nil {
		return auth.Stores{}, nil, err
	}
	if err := database.Migrate(db); err != nil {
		return auth.Stores{}, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return auth.Stores{}, nil, err
	}
	return auth.NewGormStores(db, opts), sqlDB.Close, nil
}

// accessGenerator picks the access token format
func accessGenerator(conf *config.Config) oauth2.AccessGenerate {
	if conf.AccessTokenFormat == config.AccessTokenFormatJWT {
		return auth.NewJWTAccessGenerate([]byte(conf.JWTSecret), jwt.SigningMethodHS256)
	}
	return auth.NewOpaqueGenerator()
}

func run(conf *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, closeStores, err := openStores(ctx, conf)
	if err != nil {
		return fmt.Errorf("opening stores: %w", err)
	}
	defer func() {
		if err := closeStores(); err != nil {
			log.WithError(err).Error("Failed to close store")
		}
	}()

	recorder := metrics.Init(conf.MetricsEnabled)
	service := auth.NewOAuthService(stores, auth.Options{
		AccessTTL:           conf.AccessTokenTTL,
		RevokeFamilyOnReuse: conf.RefreshReuseRevokesFamily,
		Metrics:             recorder,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf("%v:%d", conf.Host, conf.Port),
		Handler:           setupRouter(conf, service),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("Starting server on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		service.Sweeper(conf.SweepInterval).Run(ctx)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// setupRouter initializes the Gin router and sets up the routes
// It returns the configured router
func setupRouter(conf *config.Config, service *auth.OAuthService) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(log.StandardLogger()))
	router.Use(middleware.CORS(conf.CORSAllowedOrigins))

	setupRoutes(router, conf, service)

	return router
}

// setupRoutes defines the routes for the Gin router
func setupRoutes(router *gin.Engine, conf *config.Config, service *auth.OAuthService) {
	// Health check endpoint
	router.GET("/health", healthCheckHandler)

	// Token endpoint, plus the legacy bare path
	service.RegisterRoutes(router)

	if conf.MetricsEnabled {
		router.GET("/metrics", middleware.BearerToken(conf.MetricsToken), gin.WrapH(metrics.Handler()))
	}

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
}

// healthCheckHandler handles the health check endpoint
// @Summary Health check
// @Description Check if the service is running
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func healthCheckHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "gin-oauth-token",
	})
}
