package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrInsufficientTokens is returned by Debit when the balance is already zero.
var ErrInsufficientTokens = errors.New("insufficient tokens")

// Service owns every mutation of an account's token balance. No other
// component reads tokens and writes them back; all three operations are
// single conditional updates against the stored value, so concurrent debits,
// credits and renewal resets on the same account cannot lose writes.
type Service struct {
	repo Repository
}

// NewService creates a ledger service from an injected repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Debit decrements the balance by exactly one token, only if the current
// value is positive. Losing the race to the last token yields
// ErrInsufficientTokens, never a negative balance.
func (s *Service) Debit(ctx context.Context, accountID uint) error {
	_ = ctx
	if accountID == 0 {
		return errors.New("account_id is required")
	}
	affected, err := s.repo.Debit(accountID)
	if err != nil {
		return err
	}
	if !affected {
		return ErrInsufficientTokens
	}
	return nil
}

// Credit adds amount tokens to the balance. Idempotency is the caller's
// responsibility; the billing reconciler guards grants with its webhook
// event dedup table before calling this.
func (s *Service) Credit(ctx context.Context, accountID uint, amount int64) error {
	_ = ctx
	if accountID == 0 {
		return errors.New("account_id is required")
	}
	if amount < 0 {
		return errors.New("credit amount must be >= 0")
	}
	if amount == 0 {
		return nil
	}
	return s.repo.Credit(accountID, amount)
}

// ResetToBaseline sets the balance to baseline and stamps last_renewal_at,
// but only while the account is still on the free tier and still due. A
// concurrent upgrade or an overlapping sweep makes the update affect zero
// rows, which is reported as false, not an error.
func (s *Service) ResetToBaseline(ctx context.Context, accountID uint, baseline int64, dueBefore time.Time) (bool, error) {
	_ = ctx
	if accountID == 0 {
		return false, errors.New("account_id is required")
	}
	if baseline < 0 {
		return false, errors.New("baseline must be >= 0")
	}
	return s.repo.ResetToBaseline(accountID, baseline, dueBefore)
}

// Balance returns the current token balance for an account.
func (s *Service) Balance(ctx context.Context, accountID uint) (int64, error) {
	_ = ctx
	return s.repo.Balance(accountID)
}
