package ledger

import (
	"time"

	"github.com/paintgate/paintgate/app/models"
	"gorm.io/gorm"
)

// Repository provides the atomic balance updates used by the ledger service.
type Repository interface {
	// Debit runs a single conditional decrement and reports whether a row
	// was affected.
	Debit(accountID uint) (bool, error)
	// Credit runs an additive update against the stored value.
	Credit(accountID uint, amount int64) error
	// ResetToBaseline sets the balance to baseline only while the account is
	// still free-tier and its last renewal predates dueBefore.
	ResetToBaseline(accountID uint, baseline int64, dueBefore time.Time) (bool, error)
	Balance(accountID uint) (int64, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a ledger repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// NewServiceFromDB creates a ledger service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

func (r *gormRepository) Debit(accountID uint) (bool, error) {
	tx := r.db.Model(&models.Account{}).
		Where("id = ? AND tokens > 0", accountID).
		UpdateColumn("tokens", gorm.Expr("tokens - 1"))
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) Credit(accountID uint, amount int64) error {
	return r.db.Model(&models.Account{}).
		Where("id = ?", accountID).
		UpdateColumn("tokens", gorm.Expr("tokens + ?", amount)).Error
}

func (r *gormRepository) ResetToBaseline(accountID uint, baseline int64, dueBefore time.Time) (bool, error) {
	tx := r.db.Model(&models.Account{}).
		Where("id = ? AND tier = ? AND last_renewal_at <= ?", accountID, models.TIER_FREE, dueBefore).
		Updates(map[string]any{
			"tokens":          baseline,
			"last_renewal_at": time.Now(),
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) Balance(accountID uint) (int64, error) {
	var account models.Account
	if err := r.db.Select("tokens").First(&account, accountID).Error; err != nil {
		return 0, err
	}
	return account.Tokens, nil
}
