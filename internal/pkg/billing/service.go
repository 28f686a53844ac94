package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/paintgate/paintgate/app/models"
	"github.com/paintgate/paintgate/internal/pkg/ledger"
)

// Service reconciles provider webhook events into local tier transitions and
// token grants. Idempotency comes from the webhook event dedup table: the
// caller records the event first and only applies it when the insert actually
// created a row. Out-of-order delivery is handled value-idempotently: applying
// the tier an account already holds is a status-only update, while a tier
// change always grants the new tier's allotment.
type Service struct {
	repo    Repository
	ledger  *ledger.Service
	catalog *Catalog
}

// NewService creates a billing service from injected collaborators.
func NewService(repo Repository, ledgerSvc *ledger.Service, catalog *Catalog) *Service {
	return &Service{repo: repo, ledger: ledgerSvc, catalog: catalog}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, catalog *Catalog) *Service {
	return NewService(NewRepository(db), ledger.NewServiceFromDB(db), catalog)
}

// RecordWebhookEvent persists webhook payloads idempotently. The returned
// bool reports whether this delivery was the first one for the event ID.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.WebhookEvent, error) {
	_ = ctx
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.WebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	}
	return s.repo.CreateWebhookEventIfNotExists(event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	_ = ctx
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(webhookEventID, errMsg)
}

// ApplyEvent applies a verified, first-delivery event to account state.
func (s *Service) ApplyEvent(ctx context.Context, event *Event) (*ApplyResult, error) {
	switch event.Type {
	case EventCheckoutCompleted:
		return s.applyCheckoutCompleted(ctx, event.Checkout)
	case EventSubscriptionUpdated:
		return s.applySubscriptionUpdated(ctx, event.Subscription)
	case EventSubscriptionDeleted:
		return s.applySubscriptionDeleted(ctx, event.Subscription)
	case EventInvoicePaymentSucceed:
		return s.applyInvoicePaymentSucceeded(ctx, event.Invoice)
	case EventInvoicePaymentFailed:
		return s.applyInvoicePaymentFailed(ctx, event.Invoice)
	default:
		return nil, ErrUnhandledEventType
	}
}

// applyCheckoutCompleted links the external customer and subscription to the
// account, moves it onto the purchased tier and grants that tier's monthly
// allotment. The grant happens at most once per checkout event because the
// event ID was deduplicated before this runs.
func (s *Service) applyCheckoutCompleted(ctx context.Context, checkout *CheckoutSession) (*ApplyResult, error) {
	if checkout == nil {
		return nil, errors.New("checkout payload is required")
	}
	tier := s.catalog.ByID(checkout.TierID)
	if tier == nil {
		return nil, fmt.Errorf("checkout references unknown tier %q", checkout.TierID)
	}
	account, err := s.repo.GetAccountByID(checkout.AccountID)
	if err != nil {
		return nil, fmt.Errorf("checkout account lookup: %w", err)
	}

	if err := s.repo.SetSubscriptionState(account.ID, tier.ID, models.SUB_STATUS_ACTIVE, checkout.CustomerID, checkout.SubscriptionID); err != nil {
		return nil, err
	}
	if err := s.ledger.Credit(ctx, account.ID, tier.MonthlyTokens); err != nil {
		return nil, err
	}

	fiberlog.Infof("[Billing] account %d checkout completed: tier=%s granted=%d", account.ID, tier.ID, tier.MonthlyTokens)
	return &ApplyResult{AccountID: account.ID, Tier: tier.ID, TokensGranted: tier.MonthlyTokens}, nil
}

// applySubscriptionUpdated resolves the subscription's price to a tier. A
// changed tier is an upgrade/downgrade and immediately entitles the new
// allotment, without proration. An unchanged tier only refreshes the status.
func (s *Service) applySubscriptionUpdated(ctx context.Context, sub *Subscription) (*ApplyResult, error) {
	if sub == nil {
		return nil, errors.New("subscription payload is required")
	}
	account, err := s.lookupSubscriptionAccount(sub)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &ApplyResult{Ignored: true, IgnoredReason: "no linked account for subscription"}, nil
		}
		return nil, err
	}

	tier := s.catalog.ByPriceID(sub.PriceID)
	if tier == nil {
		return nil, fmt.Errorf("subscription references unmapped price %q", sub.PriceID)
	}
	status := normalizeSubscriptionStatus(sub.Status)

	if account.Tier == tier.ID {
		if err := s.repo.SetSubscriptionStatus(account.ID, status); err != nil {
			return nil, err
		}
		return &ApplyResult{AccountID: account.ID, Tier: tier.ID, StatusOnly: true}, nil
	}

	if err := s.repo.SetSubscriptionState(account.ID, tier.ID, status, account.StripeCustomerID, sub.SubscriptionID); err != nil {
		return nil, err
	}
	if err := s.ledger.Credit(ctx, account.ID, tier.MonthlyTokens); err != nil {
		return nil, err
	}

	fiberlog.Infof("[Billing] account %d tier change %s -> %s: granted=%d", account.ID, account.Tier, tier.ID, tier.MonthlyTokens)
	return &ApplyResult{AccountID: account.ID, Tier: tier.ID, TokensGranted: tier.MonthlyTokens}, nil
}

// applySubscriptionDeleted clears the tier and marks the subscription
// canceled. The external references stay for historical correlation and the
// remaining balance stays spendable; the downgrade restarts the renewal
// clock, so the sweeper leaves that balance alone for a full period.
func (s *Service) applySubscriptionDeleted(ctx context.Context, sub *Subscription) (*ApplyResult, error) {
	_ = ctx
	if sub == nil {
		return nil, errors.New("subscription payload is required")
	}
	account, err := s.lookupSubscriptionAccount(sub)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &ApplyResult{Ignored: true, IgnoredReason: "no linked account for subscription"}, nil
		}
		return nil, err
	}

	if err := s.repo.DowngradeTier(account.ID, models.TIER_FREE, models.SUB_STATUS_CANCELED); err != nil {
		return nil, err
	}

	fiberlog.Infof("[Billing] account %d subscription canceled, balance retained", account.ID)
	return &ApplyResult{AccountID: account.ID, Tier: models.TIER_FREE}, nil
}

// applyInvoicePaymentSucceeded is the recurring paid-tier top-up: it grants
// the account's current tier allotment.
func (s *Service) applyInvoicePaymentSucceeded(ctx context.Context, invoice *Invoice) (*ApplyResult, error) {
	if invoice == nil {
		return nil, errors.New("invoice payload is required")
	}
	account, err := s.repo.GetAccountByStripeSubscriptionID(invoice.SubscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &ApplyResult{Ignored: true, IgnoredReason: "no linked account for subscription"}, nil
		}
		return nil, err
	}

	tier := s.catalog.ByID(account.Tier)
	if tier == nil {
		// Account already dropped to free (e.g. a late invoice after
		// cancellation); nothing to grant.
		fiberlog.Warnf("[Billing] invoice %s paid for account %d without a paid tier", invoice.InvoiceID, account.ID)
		return &ApplyResult{AccountID: account.ID, Ignored: true, IgnoredReason: "account holds no paid tier"}, nil
	}

	if err := s.ledger.Credit(ctx, account.ID, tier.MonthlyTokens); err != nil {
		return nil, err
	}

	fiberlog.Infof("[Billing] account %d invoice paid: tier=%s granted=%d", account.ID, tier.ID, tier.MonthlyTokens)
	return &ApplyResult{AccountID: account.ID, Tier: tier.ID, TokensGranted: tier.MonthlyTokens}, nil
}

// applyInvoicePaymentFailed only logs; a status degradation, if the provider
// decides on one, arrives separately as a subscription update.
func (s *Service) applyInvoicePaymentFailed(ctx context.Context, invoice *Invoice) (*ApplyResult, error) {
	_ = ctx
	if invoice == nil {
		return nil, errors.New("invoice payload is required")
	}
	fiberlog.Warnf("[Billing] invoice payment failed for subscription %s", invoice.SubscriptionID)
	return &ApplyResult{Ignored: true, IgnoredReason: "payment failure logged"}, nil
}

// lookupSubscriptionAccount resolves the account by external subscription ID,
// falling back to the account_id metadata for events that arrive before the
// checkout linkage was stored.
func (s *Service) lookupSubscriptionAccount(sub *Subscription) (*models.Account, error) {
	account, err := s.repo.GetAccountByStripeSubscriptionID(sub.SubscriptionID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if sub.AccountID != 0 {
		return s.repo.GetAccountByID(sub.AccountID)
	}
	return nil, gorm.ErrRecordNotFound
}

func normalizeSubscriptionStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case models.SUB_STATUS_PAST_DUE:
		return models.SUB_STATUS_PAST_DUE
	case models.SUB_STATUS_CANCELED:
		return models.SUB_STATUS_CANCELED
	default:
		return models.SUB_STATUS_ACTIVE
	}
}
