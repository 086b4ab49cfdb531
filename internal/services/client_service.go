package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-oauth2/oauth2/v4"
	"github.com/go-oauth2/oauth2/v4/generates"
	oauthmodels "github.com/go-oauth2/oauth2/v4/models"
	"golang.org/x/crypto/bcrypt"

	"github.com/franciscosanchezn/gin-oauth-token/internal/auth"
	"github.com/franciscosanchezn/gin-oauth-token/internal/models"
	"github.com/franciscosanchezn/gin-oauth-token/internal/pkce"
)

// DefaultCodeTTL matches the lifetime the consent flow gives authorization codes.
const DefaultCodeTTL = 10 * time.Minute

// ClientRegistry writes clients. Both store backends implement it.
type ClientRegistry interface {
	PutClient(ctx context.Context, client *models.OAuthClient) error
}

// ClientService stands in for the developer console and the consent screen
// in development: it registers clients and mints authorization codes.
type ClientService interface {
	RegisterClient(ctx context.Context, req RegisterClientRequest) (*models.OAuthClient, error)
	IssueCode(ctx context.Context, req IssueCodeRequest) (*IssuedCode, error)
}

type RegisterClientRequest struct {
	ClientID     string
	Name         string
	Secret       string // plaintext; empty registers a public client
	RedirectURIs []string
	Scopes       string
}

type IssueCodeRequest struct {
	ClientID    string
	UserID      string
	RedirectURI string
	Scopes      string
	// Verifier is the PKCE code verifier. An empty verifier issues a code
	// without challenge, usable only by confidential clients.
	Verifier string
	Method   string
}

// IssuedCode is a stored code together with the verifier that redeems it.
type IssuedCode struct {
	Code     *models.OAuthCode
	Verifier string
}

type clientService struct {
	clients    ClientRegistry
	lookup     auth.ClientStore
	codes      auth.CodeStore
	generator  oauth2.AuthorizeGenerate
	bcryptCost int
	codeTTL    time.Duration
	now        func() time.Time
}

// Option tunes a ClientService.
type Option func(*clientService)

// WithBcryptCost overrides the cost used to hash client secrets.
func WithBcryptCost(cost int) Option {
	return func(s *clientService) { s.bcryptCost = cost }
}

// WithClock overrides the clock used for code expiry.
func WithClock(now func() time.Time) Option {
	return func(s *clientService) { s.now = now }
}

func NewClientService(clients ClientRegistry, lookup auth.ClientStore, codes auth.CodeStore, opts ...Option) ClientService {
	s := &clientService{
		clients:    clients,
		lookup:     lookup,
		codes:      codes,
		generator:  generates.NewAuthorizeGenerate(),
		bcryptCost: bcrypt.DefaultCost,
		codeTTL:    DefaultCodeTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *clientService) RegisterClient(ctx context.Context, req RegisterClientRequest) (*models.OAuthClient, error) {
	if req.ClientID == "" {
		return nil, errors.New("client id is required")
	}
	if len(req.RedirectURIs) == 0 {
		return nil, errors.New("at least one redirect URI is required")
	}

	client := &models.OAuthClient{
		ID:           req.ClientID,
		Name:         req.Name,
		Scopes:       strings.Join(strings.Fields(req.Scopes), " "),
		RedirectURIs: strings.Join(req.RedirectURIs, " "),
		CreatedAt:    s.now(),
		UpdatedAt:    s.now(),
	}
	if req.Secret != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Secret), s.bcryptCost)
		if err != nil {
			return nil, fmt.Errorf("hashing client secret: %w", err)
		}
		client.Secret = string(hash)
	}

	if err := s.clients.PutClient(ctx, client); err != nil {
		return nil, fmt.Errorf("saving client: %w", err)
	}
	return client, nil
}

func (s *clientService) IssueCode(ctx context.Context, req IssueCodeRequest) (*IssuedCode, error) {
	if req.UserID == "" {
		return nil, errors.New("user id is required")
	}

	client, err := s.lookup.FindByClientID(ctx, req.ClientID)
	if err != nil {
		return nil, fmt.Errorf("loading client %q: %w", req.ClientID, err)
	}
	if !client.AllowsRedirectURI(req.RedirectURI) {
		return nil, fmt.Errorf("redirect URI %q is not registered for client %q", req.RedirectURI, req.ClientID)
	}

	now := s.now()
	value, err := s.generator.Token(ctx, &oauth2.GenerateBasic{
		Client:   &oauthmodels.Client{ID: client.ID},
		UserID:   req.UserID,
		CreateAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("generating code: %w", err)
	}

	code := &models.OAuthCode{
		Code:        value,
		ClientID:    client.ID,
		UserID:      req.UserID,
		Scopes:      strings.Join(strings.Fields(req.Scopes), " "),
		RedirectURI: req.RedirectURI,
		ExpiresAt:   now.Add(s.codeTTL),
		CreatedAt:   now,
	}
	if req.Verifier != "" {
		method := req.Method
		if method == "" {
			method = pkce.MethodS256
		}
		challenge, ok := pkce.Challenge(req.Verifier, method)
		if !ok {
			return nil, fmt.Errorf("unsupported code challenge method %q", method)
		}
		code.CodeChallenge = challenge
		code.CodeChallengeMethod = method
	}

	if err := s.codes.Create(ctx, code); err != nil {
		return nil, fmt.Errorf("saving code: %w", err)
	}
	return &IssuedCode{Code: code, Verifier: req.Verifier}, nil
}

// NewVerifier returns a random PKCE code verifier of 43 characters.
func NewVerifier() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
