package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// OAuthClient is a third-party application registered through the developer console.
// It is read-only from the token endpoint's point of view.
type OAuthClient struct {
	ID           string `gorm:"primaryKey"`
	Secret       string // bcrypt hash, empty for public (PKCE-only) clients
	Name         string
	Scopes       string // Space-separated list of allowed scopes
	RedirectURIs string // Space-separated list, matched exactly
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    gorm.DeletedAt `gorm:"index"`
}

func (OAuthClient) TableName() string {
	return "oauth_clients"
}

// IsConfidential reports whether the client was registered with a secret.
func (c *OAuthClient) IsConfidential() bool {
	return c.Secret != ""
}

// AllowsRedirectURI reports whether uri is one of the registered redirect URIs.
// No normalization is applied.
func (c *OAuthClient) AllowsRedirectURI(uri string) bool {
	for _, registered := range strings.Fields(c.RedirectURIs) {
		if registered == uri {
			return true
		}
	}
	return false
}
