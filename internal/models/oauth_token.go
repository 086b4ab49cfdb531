package models

import (
	"strings"
	"time"
)

// OAuthToken is an issued access/refresh token pair.
// Rotation never updates a row in place: the predecessor is revoked and a
// successor pointing at it through ParentID is created.
type OAuthToken struct {
	ID               string `gorm:"primaryKey"`
	ClientID         string `gorm:"not null;index"`
	UserID           string `gorm:"not null;index"`
	AccessToken      string `gorm:"uniqueIndex;not null"`
	RefreshToken     string `gorm:"uniqueIndex;not null"`
	Scopes           string
	AccessExpiresAt  time.Time `gorm:"not null"`
	RefreshExpiresAt time.Time `gorm:"not null;index"`
	Revoked          bool      `gorm:"not null;default:false;index"`
	ParentID         string    `gorm:"index"`
	FamilyID         string    `gorm:"not null;index"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (OAuthToken) TableName() string {
	return "oauth_tokens"
}

// IsRefreshExpiredAt reports whether the refresh token can no longer be exchanged at now.
func (t *OAuthToken) IsRefreshExpiredAt(now time.Time) bool {
	return !now.Before(t.RefreshExpiresAt)
}

// ScopeList returns the scopes as a slice.
func (t *OAuthToken) ScopeList() []string {
	return strings.Fields(t.Scopes)
}
