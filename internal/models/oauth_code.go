package models

import (
	"time"
)

// OAuthCode is a single-use authorization code created by the consent flow.
type OAuthCode struct {
	Code                string `gorm:"primaryKey"`
	ClientID            string `gorm:"not null;index"`
	UserID              string `gorm:"not null"`
	Scopes              string
	RedirectURI         string `gorm:"not null"`
	CodeChallenge       string
	CodeChallengeMethod string
	ExpiresAt           time.Time `gorm:"not null;index"`
	CreatedAt           time.Time
}

func (OAuthCode) TableName() string {
	return "oauth_codes"
}

// IsExpiredAt reports whether the code is no longer valid at now.
func (c *OAuthCode) IsExpiredAt(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// UsesPKCE reports whether the code was bound to a code_challenge.
func (c *OAuthCode) UsesPKCE() bool {
	return c.CodeChallenge != ""
}
