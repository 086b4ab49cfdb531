package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/franciscosanchezn/gin-oauth-token/internal/auth"
	"github.com/franciscosanchezn/gin-oauth-token/internal/config"
	"github.com/franciscosanchezn/gin-oauth-token/internal/database"
	"github.com/franciscosanchezn/gin-oauth-token/internal/services"
)

// Registers a development client and mints an authorization code for it,
// standing in for the developer console and the consent screen.
func main() {
	clientID := flag.String("client", "dev-client", "Client ID")
	secret := flag.String("secret", "dev-secret-123", "Client secret (empty registers a public PKCE client)")
	redirectURI := flag.String("redirect-uri", "http://localhost:3000/callback", "Registered redirect URI")
	userID := flag.String("user", "dev-user", "Resource owner the code is issued for")
	scopes := flag.String("scopes", "read write", "Granted scopes")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file found, using system environment variables")
	}
	conf, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Invalid configuration: ", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	registry, lookup, codes, closeFn := openStores(ctx, conf)
	defer closeFn()

	svc := services.NewClientService(registry, lookup, codes)
	if _, err := svc.RegisterClient(ctx, services.RegisterClientRequest{
		ClientID:     *clientID,
		Name:         "Development Client",
		Secret:       *secret,
		RedirectURIs: []string{*redirectURI},
		Scopes:       *scopes,
	}); err != nil {
		log.Fatal("Failed to register client: ", err)
	}

	verifier, err := services.NewVerifier()
	if err != nil {
		log.Fatal("Failed to generate code verifier: ", err)
	}
	issued, err := svc.IssueCode(ctx, services.IssueCodeRequest{
		ClientID:    *clientID,
		UserID:      *userID,
		RedirectURI: *redirectURI,
		Scopes:      *scopes,
		Verifier:    verifier,
	})
	if err != nil {
		log.Fatal("Failed to issue authorization code: ", err)
	}

	fmt.Printf("✓ Development OAuth client registered\n")
	fmt.Printf("Client ID: %s\n", *clientID)
	if *secret != "" {
		fmt.Printf("Client Secret: %s\n", *secret)
	}
	fmt.Printf("Authorization code (expires %s): %s\n", issued.Code.ExpiresAt.Format(time.RFC3339), issued.Code.Code)
	fmt.Printf("Code verifier: %s\n", issued.Verifier)
	fmt.Println("\nExchange it with:")
	fmt.Printf("curl -X POST http://%s:%d%s \\\n", conf.Host, conf.Port, auth.TokenPath)
	fmt.Printf("  -d 'grant_type=authorization_code' \\\n")
	fmt.Printf("  -d 'code=%s' \\\n", issued.Code.Code)
	fmt.Printf("  -d 'redirect_uri=%s' \\\n", *redirectURI)
	fmt.Printf("  -d 'client_id=%s' \\\n", *clientID)
	fmt.Printf("  -d 'code_verifier=%s'\n", issued.Verifier)
}

func openStores(ctx context.Context, conf *config.Config) (services.ClientRegistry, auth.ClientStore, auth.CodeStore, func()) {
	if conf.StoreBackend == config.StoreBackendBolt {
		store, err := auth.OpenBoltStore(conf.BoltPath, auth.TokenOptions{})
		if err != nil {
			log.Fatal("Failed to open bolt store: ", err)
		}
		return store, store, store.Codes(), func() { store.Close() }
	}

	db, err := database.InitDatabase(ctx, database.FromConfig(conf))
	if err != nil {
		log.Fatal("Failed to connect to database: ", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal("Failed to migrate database: ", err)
	}
	clients := auth.NewGormClientStore(db)
	return clients, clients, auth.NewGormCodeStore(db), func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}
}
