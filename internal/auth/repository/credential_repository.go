package repository

import (
	"context"
	"errors"
	"time"

	authdomain "mailrecall-backend/internal/auth/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CredentialRepository persists per-owner mailbox credentials.
type CredentialRepository interface {
	// FindByOwner returns nil, nil when the owner has no credential.
	FindByOwner(ctx context.Context, ownerID string) (*authdomain.MailboxCredential, error)
	Save(ctx context.Context, cred *authdomain.MailboxCredential) error
	UpdateTokens(ctx context.Context, ownerID, accessToken, refreshToken string, expiry time.Time) error
	Delete(ctx context.Context, ownerID string) error
}

type credentialRepository struct {
	db *gorm.DB
}

// NewCredentialRepository creates a gorm-backed CredentialRepository.
func NewCredentialRepository(db *gorm.DB) CredentialRepository {
	return &credentialRepository{db: db}
}

func (r *credentialRepository) FindByOwner(ctx context.Context, ownerID string) (*authdomain.MailboxCredential, error) {
	var cred authdomain.MailboxCredential
	err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).First(&cred).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cred, nil
}

// Save inserts or replaces the owner's credential, keeping the original CreatedAt.
func (r *credentialRepository) Save(ctx context.Context, cred *authdomain.MailboxCredential) error {
	now := time.Now()
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}
	cred.UpdatedAt = now
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "owner_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"provider", "email", "access_token", "refresh_token", "token_expiry",
			"imap_server", "imap_port", "imap_username", "imap_password", "updated_at",
		}),
	}).Create(cred).Error
}

// UpdateTokens stores a refreshed OAuth token pair. An empty refresh token keeps the old one.
func (r *credentialRepository) UpdateTokens(ctx context.Context, ownerID, accessToken, refreshToken string, expiry time.Time) error {
	updates := map[string]interface{}{
		"access_token": accessToken,
		"token_expiry": expiry,
		"updated_at":   time.Now(),
	}
	if refreshToken != "" {
		updates["refresh_token"] = refreshToken
	}
	return r.db.WithContext(ctx).Model(&authdomain.MailboxCredential{}).
		Where("owner_id = ?", ownerID).
		Updates(updates).Error
}

func (r *credentialRepository) Delete(ctx context.Context, ownerID string) error {
	return r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Delete(&authdomain.MailboxCredential{}).Error
}
