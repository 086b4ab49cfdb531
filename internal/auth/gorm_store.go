package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/franciscosanchezn/gin-oauth-token/internal/models"
)

// Compile-time interface assertions.
var (
	_ ClientStore = (*GormClientStore)(nil)
	_ CodeStore   = (*GormCodeStore)(nil)
	_ TokenStore  = (*GormTokenStore)(nil)
	_ Purger      = (*GormCodeStore)(nil)
	_ Purger      = (*GormTokenStore)(nil)
)

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

type GormClientStore struct {
	db *gorm.DB
}

func NewGormClientStore(db *gorm.DB) *GormClientStore {
	return &GormClientStore{db: db}
}

func (s *GormClientStore) FindByClientID(ctx context.Context, clientID string) (*models.OAuthClient, error) {
	var client models.OAuthClient
	if err := s.db.WithContext(ctx).Where("id = ?", clientID).First(&client).Error; err != nil {
		return nil, notFound(err)
	}
	return &client, nil
}

// PutClient registers or replaces a client. Used by seeding; the token
// endpoint itself never writes clients.
func (s *GormClientStore) PutClient(ctx context.Context, client *models.OAuthClient) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"secret", "name", "scopes", "redirect_uris", "updated_at", "deleted_at"}),
	}).Create(client).Error
}

type GormCodeStore struct {
	db *gorm.DB
}

func NewGormCodeStore(db *gorm.DB) *GormCodeStore {
	return &GormCodeStore{db: db}
}

func (s *GormCodeStore) Create(ctx context.Context, code *models.OAuthCode) error {
	return s.db.WithContext(ctx).Create(code).Error
}

// FindAndDelete reads and deletes the code in one transaction. The delete is
// conditional on the row still existing, so a concurrent exchange that
// already removed it leaves RowsAffected at zero and this call loses.
func (s *GormCodeStore) FindAndDelete(ctx context.Context, code string) (*models.OAuthCode, error) {
	var authCode models.OAuthCode
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("code = ?", code).First(&authCode).Error; err != nil {
			return notFound(err)
		}
		result := tx.Where("code = ?", code).Delete(&models.OAuthCode{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &authCode, nil
}

func (s *GormCodeStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&models.OAuthCode{})
	return result.RowsAffected, result.Error
}

type GormTokenStore struct {
	db *gorm.DB
	tokenIssuer
}

func NewGormTokenStore(db *gorm.DB, opts TokenOptions) *GormTokenStore {
	return &GormTokenStore{db: db, tokenIssuer: newTokenIssuer(opts)}
}

func (s *GormTokenStore) Create(ctx context.Context, clientID, userID, scopes string) (*models.OAuthToken, error) {
	token, err := s.issue(ctx, clientID, userID, scopes, nil)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(token).Error; err != nil {
		return nil, fmt.Errorf("saving token: %w", err)
	}
	return token, nil
}

func (s *GormTokenStore) FindActiveByRefreshToken(ctx context.Context, refreshToken string) (*models.OAuthToken, error) {
	var token models.OAuthToken
	err := s.db.WithContext(ctx).
		Where("refresh_token = ? AND revoked = ?", refreshToken, false).
		First(&token).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &token, nil
}

func (s *GormTokenStore) Revoke(ctx context.Context, tokenID string) error {
	return revokeActive(s.db.WithContext(ctx), tokenID)
}

// revokeActive flips revoked only on a row that is still active, which makes
// it the compare-and-swap deciding concurrent rotations.
func revokeActive(tx *gorm.DB, tokenID string) error {
	result := tx.Model(&models.OAuthToken{}).
		Where("id = ? AND revoked = ?", tokenID, false).
		Update("revoked", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormTokenStore) Rotate(ctx context.Context, old *models.OAuthToken) (*models.OAuthToken, error) {
	successor, err := s.issue(ctx, old.ClientID, old.UserID, old.Scopes, old)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := revokeActive(tx, old.ID); err != nil {
			return err
		}
		if err := tx.Create(successor).Error; err != nil {
			return fmt.Errorf("saving rotated token: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return successor, nil
}

func (s *GormTokenStore) RevokeFamily(ctx context.Context, refreshToken string) (int64, error) {
	var revoked int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var token models.OAuthToken
		err := tx.Where("refresh_token = ? AND revoked = ?", refreshToken, true).First(&token).Error
		if err != nil {
			return notFound(err)
		}
		result := tx.Model(&models.OAuthToken{}).
			Where("family_id = ? AND revoked = ?", token.FamilyID, false).
			Update("revoked", true)
		revoked = result.RowsAffected
		return result.Error
	})
	return revoked, err
}

// PurgeExpired deletes tokens whose refresh token has expired. Revoked tokens
// that have not expired yet are kept so reuse can still be recognized.
func (s *GormTokenStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("refresh_expires_at <= ?", now).Delete(&models.OAuthToken{})
	return result.RowsAffected, result.Error
}
