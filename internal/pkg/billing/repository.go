package billing

import (
	"time"

	"github.com/paintgate/paintgate/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the billing service. Tier, status
// and the Stripe references are written through narrow column updates so a
// concurrent ledger debit or credit on the same row is never overwritten.
type Repository interface {
	CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
	GetAccountByID(id uint) (*models.Account, error)
	GetAccountByStripeSubscriptionID(subscriptionID string) (*models.Account, error)
	SetSubscriptionState(accountID uint, tier, status, customerID, subscriptionID string) error
	// DowngradeTier moves the account to tier and restarts the renewal clock,
	// so the free-tier sweeper does not immediately replace a balance retained
	// from the paid period.
	DowngradeTier(accountID uint, tier, status string) error
	SetSubscriptionStatus(accountID uint, status string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) GetAccountByID(id uint) (*models.Account, error) {
	var account models.Account
	if err := r.db.First(&account, id).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *gormRepository) GetAccountByStripeSubscriptionID(subscriptionID string) (*models.Account, error) {
	var account models.Account
	err := r.db.Where("stripe_subscription_id = ?", subscriptionID).First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *gormRepository) SetSubscriptionState(accountID uint, tier, status, customerID, subscriptionID string) error {
	return r.db.Model(&models.Account{}).
		Where("id = ?", accountID).
		Updates(map[string]any{
			"tier":                   tier,
			"subscription_status":    status,
			"stripe_customer_id":     customerID,
			"stripe_subscription_id": subscriptionID,
		}).Error
}

func (r *gormRepository) DowngradeTier(accountID uint, tier, status string) error {
	return r.db.Model(&models.Account{}).
		Where("id = ?", accountID).
		Updates(map[string]any{
			"tier":                tier,
			"subscription_status": status,
			"last_renewal_at":     time.Now(),
		}).Error
}

func (r *gormRepository) SetSubscriptionStatus(accountID uint, status string) error {
	return r.db.Model(&models.Account{}).
		Where("id = ?", accountID).
		Updates(map[string]any{"subscription_status": status}).Error
}
