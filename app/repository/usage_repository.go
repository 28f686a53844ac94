package repository

import (
	"time"

	"github.com/paintgate/paintgate/app/models"
	"gorm.io/gorm"
)

// usageRepository implements the UsageRepository interface
type usageRepository struct {
	db *gorm.DB
}

// NewUsageRepository creates a new usage repository instance
func NewUsageRepository(db *gorm.DB) UsageRepository {
	return &usageRepository{db: db}
}

func (r *usageRepository) Record(rec *models.UsageRecord) error {
	return r.db.Create(rec).Error
}

func (r *usageRepository) CountByAccountID(accountID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.UsageRecord{}).Where("account_id = ?", accountID).Count(&count).Error
	return count, err
}

func (r *usageRepository) ListByAccountID(accountID uint, since time.Time, limit int) ([]models.UsageRecord, error) {
	var records []models.UsageRecord
	err := r.db.Where("account_id = ? AND created_at >= ?", accountID, since).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}
