// Package pkce implements the code challenge transformation of RFC 7636.
package pkce

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strings"
)

// Supported code_challenge_method values.
const (
	MethodS256  = "S256"
	MethodPlain = "plain"
)

// Challenge derives the code challenge for verifier. An empty method is
// treated as plain, per RFC 7636 section 4.3. The second return value is
// false for an unknown method.
func Challenge(verifier, method string) (string, bool) {
	switch {
	case method == MethodS256:
		sum := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(sum[:]), true
	case method == "" || strings.EqualFold(method, MethodPlain):
		return verifier, true
	default:
		return "", false
	}
}

// Verify reports whether verifier produces challenge under method.
func Verify(verifier, challenge, method string) bool {
	if verifier == "" || challenge == "" {
		return false
	}
	computed, ok := Challenge(verifier, method)
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
