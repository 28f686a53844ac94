package repository

import (
	"time"

	"github.com/paintgate/paintgate/app/models"
	"gorm.io/gorm"
)

// AccountRepository defines the interface for account-related database operations.
// Token balance mutation is intentionally absent here; all balance changes go
// through the ledger package's atomic conditional updates.
type AccountRepository interface {
	Create(account *models.Account) error
	GetByID(id uint) (*models.Account, error)
	GetByEmail(email string) (*models.Account, error)
	GetByStripeCustomerID(customerID string) (*models.Account, error)
	GetByStripeSubscriptionID(subscriptionID string) (*models.Account, error)
	Update(account *models.Account) error
	List(offset, limit int) ([]models.Account, error)
	Count() (int64, error)
}

// APIKeyRepository defines the interface for credential operations.
type APIKeyRepository interface {
	Create(key *models.APIKey) error
	GetByID(id uint) (*models.APIKey, error)
	// GetActiveByHash resolves an active key hash to the key and its account.
	// Returns gorm.ErrRecordNotFound for unknown or revoked keys.
	GetActiveByHash(hash string) (*models.APIKey, *models.Account, error)
	TouchLastUsed(keyID uint) error
	Revoke(keyID uint) error
	ListByAccountID(accountID uint) ([]models.APIKey, error)
}

// UsageRepository defines the interface for the append-only usage log.
type UsageRepository interface {
	Record(rec *models.UsageRecord) error
	CountByAccountID(accountID uint) (int64, error)
	ListByAccountID(accountID uint, since time.Time, limit int) ([]models.UsageRecord, error)
}

// Repositories holds all repository instances
type Repositories struct {
	Account AccountRepository
	APIKey  APIKeyRepository
	Usage   UsageRepository
}

// NewRepositories creates all repositories from a shared DB handle
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Account: NewAccountRepository(db),
		APIKey:  NewAPIKeyRepository(db),
		Usage:   NewUsageRepository(db),
	}
}
