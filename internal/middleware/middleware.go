package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// BearerToken protects an operational endpoint (such as /metrics) with a
// static bearer token. An empty token leaves the endpoint open.
func BearerToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}

		// RFC 6750: Extract Bearer token from Authorization header
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			respondWithOAuth2Error(c, http.StatusUnauthorized, "invalid_request",
				"Missing Authorization header. A valid Bearer token is required.")
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			respondWithOAuth2Error(c, http.StatusUnauthorized, "invalid_request",
				"Authorization header must use Bearer scheme. Format: 'Bearer <token>'")
			return
		}

		provided := strings.TrimPrefix(authHeader, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
			respondWithOAuth2Error(c, http.StatusUnauthorized, "invalid_token", "Bearer token is invalid")
			return
		}

		c.Next()
	}
}

// respondWithOAuth2Error responds with RFC 6750 compliant error format
func respondWithOAuth2Error(c *gin.Context, status int, errorCode, description string) {
	c.Header("WWW-Authenticate", `Bearer realm="metrics", error="`+errorCode+`"`)
	c.JSON(status, gin.H{
		"error":             errorCode,
		"error_description": description,
	})
	c.Abort()
}
