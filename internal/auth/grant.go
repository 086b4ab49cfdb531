package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/go-oauth2/oauth2/v4"
	oautherrors "github.com/go-oauth2/oauth2/v4/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/franciscosanchezn/gin-oauth-token/internal/models"
)

var log = logrus.New()

func init() {
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetLevel(logrus.InfoLevel)
}

// SetLogLevel aligns the package logger with the application level
func SetLogLevel(level logrus.Level) {
	log.SetLevel(level)
}

// storeTimeout bounds the store calls of one exchange once they are detached
// from the request.
const storeTimeout = 10 * time.Second

// GrantRequest holds the flattened token request parameters.
type GrantRequest map[string]string

// Get returns the parameter value, or "" when absent.
func (r GrantRequest) Get(key string) string {
	return r[key]
}

// GrantHandler validates one grant type and issues tokens for it.
type GrantHandler interface {
	GrantType() oauth2.GrantType
	Handle(ctx context.Context, req GrantRequest) (*models.OAuthToken, error)
}

// GrantError is a protocol error reported to the client verbatim. Cause is
// only ever logged.
type GrantError struct {
	Err         error
	Description string
	Status      int
	Cause       error
}

func (e *GrantError) Error() string {
	if e.Cause != nil {
		return e.Err.Error() + ": " + e.Description + ": " + e.Cause.Error()
	}
	return e.Err.Error() + ": " + e.Description
}

func (e *GrantError) Unwrap() error {
	return e.Err
}

// Code returns the RFC 6749 error code.
func (e *GrantError) Code() string {
	return e.Err.Error()
}

func invalidRequest(description string) *GrantError {
	return &GrantError{Err: oautherrors.ErrInvalidRequest, Description: description, Status: http.StatusBadRequest}
}

func invalidGrant(description string) *GrantError {
	return &GrantError{Err: oautherrors.ErrInvalidGrant, Description: description, Status: http.StatusBadRequest}
}

func invalidClient(status int, description string) *GrantError {
	return &GrantError{Err: oautherrors.ErrInvalidClient, Description: description, Status: status}
}

func unsupportedGrantType(description string) *GrantError {
	return &GrantError{Err: oautherrors.ErrUnsupportedGrantType, Description: description, Status: http.StatusBadRequest}
}

func serverError(cause error) *GrantError {
	return &GrantError{
		Err:         oautherrors.ErrServerError,
		Description: "the server encountered an unexpected error",
		Status:      http.StatusInternalServerError,
		Cause:       cause,
	}
}

// verifyClientSecret compares the presented secret against the stored bcrypt hash.
func verifyClientSecret(client *models.OAuthClient, secret string) bool {
	if !client.IsConfidential() || secret == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(client.Secret), []byte(secret)) == nil
}

// detach keeps a client disconnect from interrupting the store calls of an
// exchange between consuming a grant and issuing its tokens.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
}
