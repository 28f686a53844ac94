package renewal

import (
	"context"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/paintgate/paintgate/app/models"
	"github.com/paintgate/paintgate/internal/pkg/ledger"
)

const sweepBatchSize = 500

// Repository provides the account selection used by the sweeper.
type Repository interface {
	// ListFreeDueForRenewal returns free-tier accounts whose last renewal
	// predates cutoff, oldest first.
	ListFreeDueForRenewal(cutoff time.Time, limit int) ([]models.Account, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a renewal repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) ListFreeDueForRenewal(cutoff time.Time, limit int) ([]models.Account, error) {
	var accounts []models.Account
	err := r.db.
		Where("tier = ? AND last_renewal_at <= ?", models.TIER_FREE, cutoff).
		Order("last_renewal_at ASC").
		Limit(limit).
		Find(&accounts).Error
	return accounts, err
}

// Service resets free-tier balances to the baseline grant once the renewal
// period has elapsed. Each reset is the ledger's tier-conditional update, so
// an account upgrading mid-sweep is skipped by the database, not by us, and
// overlapping sweeps cannot double-reset because the update also re-checks
// that the account is still due.
type Service struct {
	repo     Repository
	ledger   *ledger.Service
	baseline int64
	period   time.Duration
}

// NewService creates a renewal service from injected collaborators.
func NewService(repo Repository, ledgerSvc *ledger.Service, baseline int64, period time.Duration) *Service {
	return &Service{repo: repo, ledger: ledgerSvc, baseline: baseline, period: period}
}

// NewServiceFromDB creates a renewal service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, baseline int64, period time.Duration) *Service {
	return NewService(NewRepository(db), ledger.NewServiceFromDB(db), baseline, period)
}

// Sweep resets every due free-tier account and returns how many were reset.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.period)
	total := 0

	for {
		accounts, err := s.repo.ListFreeDueForRenewal(cutoff, sweepBatchSize)
		if err != nil {
			return total, err
		}
		if len(accounts) == 0 {
			return total, nil
		}

		progressed := false
		for _, account := range accounts {
			affected, err := s.ledger.ResetToBaseline(ctx, account.ID, s.baseline, cutoff)
			if err != nil {
				fiberlog.Errorf("[Renewal] reset failed for account %d: %v", account.ID, err)
				continue
			}
			if affected {
				total++
				progressed = true
			}
			// Zero rows affected means the account upgraded or another
			// sweep got there first; both are expected.
		}

		if len(accounts) < sweepBatchSize {
			return total, nil
		}
		if !progressed {
			// Every account in a full batch lost its conditional update;
			// bail out instead of spinning on the same selection.
			return total, nil
		}
	}
}

// Period returns the configured renewal period.
func (s *Service) Period() time.Duration {
	return s.period
}
