package auth

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-oauth2/oauth2/v4"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/franciscosanchezn/gin-oauth-token/internal/metrics"
	"github.com/franciscosanchezn/gin-oauth-token/internal/models"
)

// maxTokenRequestBytes caps the size of a token request body.
const maxTokenRequestBytes = 64 << 10

const allowedMethods = "POST, OPTIONS"

// TokenEndpoint is the HTTP face of the token service. It parses the request,
// dispatches on grant_type and renders the outcome; persistence is left to
// the grant handlers.
type TokenEndpoint struct {
	grants    map[oauth2.GrantType]GrantHandler
	accessTTL time.Duration
	metrics   metrics.Recorder
}

// NewTokenEndpoint creates a TokenEndpoint serving the given grant handlers
func NewTokenEndpoint(accessTTL time.Duration, recorder metrics.Recorder, handlers ...GrantHandler) *TokenEndpoint {
	if recorder == nil {
		recorder = metrics.NewNoopMetrics()
	}
	grants := make(map[oauth2.GrantType]GrantHandler, len(handlers))
	for _, h := range handlers {
		grants[h.GrantType()] = h
	}
	return &TokenEndpoint{grants: grants, accessTTL: accessTTL, metrics: recorder}
}

// ServeToken godoc
// @Summary Token endpoint
// @Description Exchanges an authorization code (optionally PKCE bound) or a refresh token for a new access/refresh token pair
// @Tags oauth
// @Accept x-www-form-urlencoded
// @Accept json
// @Produce json
// @Param grant_type formData string true "authorization_code or refresh_token"
// @Param code formData string false "Authorization code (authorization_code grant)"
// @Param redirect_uri formData string false "Redirect URI approved at consent (authorization_code grant)"
// @Param code_verifier formData string false "PKCE code verifier (authorization_code grant)"
// @Param refresh_token formData string false "Refresh token (refresh_token grant)"
// @Param client_id formData string true "Client ID"
// @Param client_secret formData string false "Client secret (confidential clients)"
// @Success 200 {object} models.TokenResponse
// @Failure 400 {object} models.OAuth2Error
// @Failure 401 {object} models.OAuth2Error
// @Failure 405 {object} models.OAuth2Error
// @Failure 500 {object} models.OAuth2Error
// @Router /oauth/token [post]
func (e *TokenEndpoint) ServeToken(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")

	switch c.Request.Method {
	case http.MethodPost:
	case http.MethodOptions:
		c.Header("Allow", allowedMethods)
		c.Status(http.StatusNoContent)
		return
	default:
		c.Header("Allow", allowedMethods)
		c.JSON(http.StatusMethodNotAllowed, models.NewOAuth2Error(models.ErrMethodNotAllowed, "only POST is supported"))
		return
	}

	start := time.Now()

	req, gerr := parseTokenRequest(c)
	if gerr != nil {
		e.fail(c, nil, gerr)
		return
	}

	grantType := req.Get("grant_type")
	handler, ok := e.grants[oauth2.GrantType(grantType)]
	if !ok {
		e.fail(c, req, unsupportedGrantType(fmt.Sprintf("grant_type %q is not supported", grantType)))
		return
	}

	token, err := handler.Handle(c.Request.Context(), req)
	if err != nil {
		e.fail(c, req, err)
		return
	}

	e.metrics.RecordTokenIssued(grantType, time.Since(start))
	c.JSON(http.StatusOK, models.TokenResponse{
		AccessToken:  token.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(e.accessTTL / time.Second),
		RefreshToken: token.RefreshToken,
		Scope:        strings.Join(token.ScopeList(), " "),
	})
}

// fail renders err as an RFC 6749 error response. Anything that is not a
// GrantError is reported as server_error without its details.
func (e *TokenEndpoint) fail(c *gin.Context, req GrantRequest, err error) {
	var gerr *GrantError
	if !errors.As(err, &gerr) {
		gerr = serverError(err)
	}

	grantType := req.Get("grant_type")
	entry := log.WithFields(logrus.Fields{
		"grant_type": grantType,
		"client_id":  req.Get("client_id"),
		"error":      gerr.Code(),
		"status":     gerr.Status,
	})
	if gerr.Cause != nil {
		entry.WithError(gerr.Cause).Error("Token request failed")
	} else {
		entry.WithField("description", gerr.Description).Info("Token request rejected")
	}

	if grantType == "" {
		grantType = "unknown"
	}
	e.metrics.RecordGrantFailure(grantType, gerr.Code())

	if gerr.Status == http.StatusUnauthorized {
		c.Header("WWW-Authenticate", `Basic realm="oauth"`)
	}
	c.JSON(gerr.Status, models.NewOAuth2Error(gerr.Code(), gerr.Description))
}

// parseTokenRequest flattens a form-encoded or JSON body into a GrantRequest
// and merges HTTP Basic client credentials into it.
func parseTokenRequest(c *gin.Context) (GrantRequest, *GrantError) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxTokenRequestBytes)

	var (
		req  GrantRequest
		gerr *GrantError
	)
	mediaType, _, _ := mime.ParseMediaType(c.GetHeader("Content-Type"))
	if mediaType == "application/json" {
		req, gerr = parseJSONBody(c.Request.Body)
	} else {
		req, gerr = parseFormBody(c.Request)
	}
	if gerr != nil {
		return nil, gerr
	}

	if gerr := mergeBasicAuth(c.Request, req); gerr != nil {
		return nil, gerr
	}
	return req, nil
}

func parseJSONBody(body io.Reader) (GrantRequest, *GrantError) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, invalidRequest("request body could not be read")
	}
	if !gjson.ValidBytes(data) {
		return nil, invalidRequest("request body is not valid JSON")
	}
	parsed := gjson.ParseBytes(data)
	if !parsed.IsObject() {
		return nil, invalidRequest("request body must be a JSON object")
	}

	req := GrantRequest{}
	var nested string
	parsed.ForEach(func(key, value gjson.Result) bool {
		switch {
		case value.Type == gjson.Null:
		case value.IsObject() || value.IsArray():
			nested = key.String()
			return false
		default:
			req[key.String()] = value.String()
		}
		return true
	})
	if nested != "" {
		return nil, invalidRequest(fmt.Sprintf("parameter %q must be a scalar value", nested))
	}
	return req, nil
}

func parseFormBody(r *http.Request) (GrantRequest, *GrantError) {
	if err := r.ParseForm(); err != nil {
		return nil, invalidRequest("request body is not valid form data")
	}
	req := make(GrantRequest, len(r.PostForm))
	for key, values := range r.PostForm {
		if len(values) > 1 {
			return nil, invalidRequest(fmt.Sprintf("parameter %q is repeated", key))
		}
		req[key] = values[0]
	}
	return req, nil
}

// mergeBasicAuth accepts client credentials from the Authorization header
// (RFC 6749 section 2.3.1). A client may use only one authentication method.
func mergeBasicAuth(r *http.Request, req GrantRequest) *GrantError {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return nil
	}
	if req.Get("client_secret") != "" {
		return invalidRequest("client credentials must not be sent both in the header and the body")
	}

	clientID, err := url.QueryUnescape(user)
	if err != nil {
		return invalidRequest("malformed client credentials in Authorization header")
	}
	secret, err := url.QueryUnescape(pass)
	if err != nil {
		return invalidRequest("malformed client credentials in Authorization header")
	}

	if body := req.Get("client_id"); body != "" && body != clientID {
		return invalidClient(http.StatusBadRequest, "client_id does not match the Authorization header")
	}
	req["client_id"] = clientID
	req["client_secret"] = secret
	return nil
}
