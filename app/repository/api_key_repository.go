package repository

import (
	"strings"
	"time"

	"github.com/paintgate/paintgate/app/models"
	"gorm.io/gorm"
)

// apiKeyRepository implements the APIKeyRepository interface
type apiKeyRepository struct {
	db *gorm.DB
}

// NewAPIKeyRepository creates a new API key repository instance
func NewAPIKeyRepository(db *gorm.DB) APIKeyRepository {
	return &apiKeyRepository{db: db}
}

func (r *apiKeyRepository) Create(key *models.APIKey) error {
	return r.db.Create(key).Error
}

func (r *apiKeyRepository) GetByID(id uint) (*models.APIKey, error) {
	var key models.APIKey
	err := r.db.First(&key, id).Error
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// GetActiveByHash resolves an active API key hash to its key and account.
// Revoked keys and keys of disabled accounts do not resolve.
func (r *apiKeyRepository) GetActiveByHash(hash string) (*models.APIKey, *models.Account, error) {
	trimmed := strings.TrimSpace(hash)
	if trimmed == "" {
		return nil, nil, gorm.ErrRecordNotFound
	}

	var key models.APIKey
	if err := r.db.Where("key_hash = ? AND revoked_at IS NULL", trimmed).First(&key).Error; err != nil {
		return nil, nil, err
	}

	var account models.Account
	if err := r.db.First(&account, key.AccountID).Error; err != nil {
		return nil, nil, err
	}
	return &key, &account, nil
}

// TouchLastUsed refreshes the last-used timestamp. Best-effort: callers log
// failures instead of failing the request.
func (r *apiKeyRepository) TouchLastUsed(keyID uint) error {
	now := time.Now()
	return r.db.Model(&models.APIKey{}).
		Where("id = ?", keyID).
		Updates(map[string]any{"last_used_at": now}).Error
}

func (r *apiKeyRepository) Revoke(keyID uint) error {
	now := time.Now()
	return r.db.Model(&models.APIKey{}).
		Where("id = ? AND revoked_at IS NULL", keyID).
		Updates(map[string]any{"revoked_at": now}).Error
}

func (r *apiKeyRepository) ListByAccountID(accountID uint) ([]models.APIKey, error) {
	var keys []models.APIKey
	err := r.db.Where("account_id = ?", accountID).Order("id ASC").Find(&keys).Error
	return keys, err
}
