package models

// OAuth2Error represents an OAuth2 error response (RFC 6749 section 5.2)
type OAuth2Error struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	ErrorURI         string `json:"error_uri,omitempty"`
}

// NewOAuth2Error creates a new OAuth2 error response
func NewOAuth2Error(code, description string) OAuth2Error {
	return OAuth2Error{
		Error:            code,
		ErrorDescription: description,
	}
}

// TokenResponse is the successful token endpoint response (RFC 6749 section 5.1)
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

// Error codes that are not part of the go-oauth2 vocabulary
const (
	ErrMethodNotAllowed = "method_not_allowed"
)
