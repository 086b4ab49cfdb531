package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

var (
	corsAllowedMethods = strings.Join([]string{http.MethodPost, http.MethodOptions}, ", ")
	corsAllowedHeaders = strings.Join([]string{"Authorization", "Content-Type", "Accept"}, ", ")
)

// CORS sets the CORS headers for allowed origins and lets the request
// through. Preflight requests are answered by the route itself, and error
// responses carry the same headers as successful ones.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	wildcard := containsWildcard(allowedOrigins)

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}

		header := c.Writer.Header()
		header.Add("Vary", "Origin")
		if !originAllowed(origin, allowedOrigins) {
			c.Next()
			return
		}

		if wildcard {
			header.Set("Access-Control-Allow-Origin", "*")
		} else {
			header.Set("Access-Control-Allow-Origin", origin)
		}
		header.Set("Access-Control-Allow-Methods", corsAllowedMethods)
		header.Set("Access-Control-Allow-Headers", corsAllowedHeaders)
		header.Set("Access-Control-Max-Age", "600")

		c.Next()
	}
}

func originAllowed(origin string, allowed []string) bool {
	for _, candidate := range allowed {
		if candidate == "*" || strings.EqualFold(candidate, origin) {
			return true
		}
	}
	return false
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
