package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/paintgate/paintgate/app/models"
	"github.com/paintgate/paintgate/internal/pkg/ledger"
)

type fakeLedgerRepo struct {
	tokens map[uint]int64
}

func (f *fakeLedgerRepo) Debit(accountID uint) (bool, error) {
	if f.tokens[accountID] <= 0 {
		return false, nil
	}
	f.tokens[accountID]--
	return true, nil
}

func (f *fakeLedgerRepo) Credit(accountID uint, amount int64) error {
	f.tokens[accountID] += amount
	return nil
}

func (f *fakeLedgerRepo) ResetToBaseline(accountID uint, baseline int64, dueBefore time.Time) (bool, error) {
	f.tokens[accountID] = baseline
	return true, nil
}

func (f *fakeLedgerRepo) Balance(accountID uint) (int64, error) {
	return f.tokens[accountID], nil
}

type fakeBillingRepo struct {
	accounts map[uint]*models.Account
	events   map[string]*models.WebhookEvent
	nextID   uint
}

func newFakeBillingRepo() *fakeBillingRepo {
	return &fakeBillingRepo{
		accounts: make(map[uint]*models.Account),
		events:   make(map[string]*models.WebhookEvent),
	}
}

func (f *fakeBillingRepo) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	key := event.Provider + "/" + event.ProviderEventID
	if stored, ok := f.events[key]; ok {
		return false, stored, nil
	}
	f.nextID++
	event.ID = f.nextID
	f.events[key] = event
	return true, event, nil
}

func (f *fakeBillingRepo) MarkWebhookProcessed(id uint, processingError string) error {
	for _, ev := range f.events {
		if ev.ID == id {
			now := time.Now()
			ev.ProcessedAt = &now
			ev.ProcessingError = processingError
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (f *fakeBillingRepo) GetAccountByID(id uint) (*models.Account, error) {
	if a, ok := f.accounts[id]; ok {
		clone := *a
		return &clone, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeBillingRepo) GetAccountByStripeSubscriptionID(subscriptionID string) (*models.Account, error) {
	for _, a := range f.accounts {
		if a.StripeSubscriptionID == subscriptionID && subscriptionID != "" {
			clone := *a
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeBillingRepo) SetSubscriptionState(accountID uint, tier, status, customerID, subscriptionID string) error {
	a, ok := f.accounts[accountID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	a.Tier = tier
	a.SubscriptionStatus = status
	a.StripeCustomerID = customerID
	a.StripeSubscriptionID = subscriptionID
	return nil
}

func (f *fakeBillingRepo) DowngradeTier(accountID uint, tier, status string) error {
	a, ok := f.accounts[accountID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	a.Tier = tier
	a.SubscriptionStatus = status
	a.LastRenewalAt = time.Now()
	return nil
}

func (f *fakeBillingRepo) SetSubscriptionStatus(accountID uint, status string) error {
	a, ok := f.accounts[accountID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	a.SubscriptionStatus = status
	return nil
}

func newTestService() (*Service, *fakeBillingRepo, *fakeLedgerRepo) {
	repo := newFakeBillingRepo()
	ledgerRepo := &fakeLedgerRepo{tokens: make(map[uint]int64)}
	svc := NewService(repo, ledger.NewService(ledgerRepo), testCatalog())
	return svc, repo, ledgerRepo
}

func TestRecordWebhookEventDeduplicates(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	in := WebhookEventInput{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: "evt_1",
		EventType:       EventCheckoutCompleted,
		PayloadJSON:     `{"id":"evt_1"}`,
		SignatureValid:  true,
	}

	created, first, err := svc.RecordWebhookEvent(ctx, in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Fatalf("expected first delivery to create the event")
	}

	created, second, err := svc.RecordWebhookEvent(ctx, in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Fatalf("expected redelivery to be deduplicated")
	}
	if first.ID != second.ID {
		t.Fatalf("expected both deliveries to resolve to the same row")
	}
}

func TestRecordWebhookEventMissingID(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	in := WebhookEventInput{
		Provider:    models.BillingProviderStripe,
		EventType:   EventInvoicePaymentFailed,
		PayloadJSON: `{"type":"invoice.payment_failed"}`,
	}

	created, _, err := svc.RecordWebhookEvent(ctx, in)
	if err != nil || !created {
		t.Fatalf("expected payload-hash fallback to create: created=%v err=%v", created, err)
	}

	// The same payload without an ID hashes to the same synthetic key.
	created, _, err = svc.RecordWebhookEvent(ctx, in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Fatalf("expected identical payload to deduplicate via hash")
	}
}

// A first delivery that fails must stay reprocessable: acking the provider's
// retry as a duplicate would lose the event forever.
func TestRecordWebhookEventRetryAfterFailedDelivery(t *testing.T) {
	svc, repo, ledgerRepo := newTestService()
	ctx := context.Background()
	repo.accounts[42] = &models.Account{ID: 42, Tier: models.TIER_FREE}
	ledgerRepo.tokens[42] = 5

	in := WebhookEventInput{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: "evt_retry",
		EventType:       EventCheckoutCompleted,
		PayloadJSON:     `{"id":"evt_retry"}`,
	}

	created, stored, err := svc.RecordWebhookEvent(ctx, in)
	if err != nil || !created {
		t.Fatalf("unexpected first delivery: created=%v err=%v", created, err)
	}
	// First delivery fails, e.g. an invalid signature or an apply error.
	if err := svc.MarkWebhookProcessed(ctx, stored.ID, errors.New("invalid webhook signature")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	created, stored, err = svc.RecordWebhookEvent(ctx, in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Fatalf("expected the retry to hit the existing row")
	}
	if stored.Processed() {
		t.Fatalf("failed delivery must not count as processed")
	}

	// The retry verifies and applies; the grant lands now.
	result, err := svc.ApplyEvent(ctx, &Event{
		Type: EventCheckoutCompleted,
		Checkout: &CheckoutSession{
			SessionID:      "cs_1",
			CustomerID:     "cus_1",
			SubscriptionID: "sub_1",
			AccountID:      42,
			TierID:         models.TIER_PRO,
		},
	})
	if err != nil {
		t.Fatalf("unexpected apply error: %v", err)
	}
	if result.TokensGranted != 1000 || ledgerRepo.tokens[42] != 1005 {
		t.Fatalf("expected the retried grant to land, balance=%d", ledgerRepo.tokens[42])
	}
	if err := svc.MarkWebhookProcessed(ctx, stored.ID, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Only now do further redeliveries read as duplicates.
	_, stored, err = svc.RecordWebhookEvent(ctx, in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !stored.Processed() {
		t.Fatalf("expected successfully applied event to count as processed")
	}
}

func TestApplyCheckoutCompletedGrantsTier(t *testing.T) {
	svc, repo, ledgerRepo := newTestService()
	repo.accounts[42] = &models.Account{ID: 42, Tier: models.TIER_FREE}
	ledgerRepo.tokens[42] = 5

	result, err := svc.ApplyEvent(context.Background(), &Event{
		Type: EventCheckoutCompleted,
		Checkout: &CheckoutSession{
			SessionID:      "cs_1",
			CustomerID:     "cus_1",
			SubscriptionID: "sub_1",
			AccountID:      42,
			TierID:         models.TIER_PRO,
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Tier != models.TIER_PRO || result.TokensGranted != 1000 {
		t.Fatalf("unexpected result: %+v", result)
	}

	// Existing balance is credited, not replaced.
	if got := ledgerRepo.tokens[42]; got != 1005 {
		t.Fatalf("expected balance 1005, got %d", got)
	}

	account := repo.accounts[42]
	if account.Tier != models.TIER_PRO || account.SubscriptionStatus != models.SUB_STATUS_ACTIVE {
		t.Fatalf("unexpected account state: %+v", account)
	}
	if account.StripeCustomerID != "cus_1" || account.StripeSubscriptionID != "sub_1" {
		t.Fatalf("expected external references to be linked: %+v", account)
	}
}

func TestApplyCheckoutUnknownTier(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.accounts[42] = &models.Account{ID: 42, Tier: models.TIER_FREE}

	_, err := svc.ApplyEvent(context.Background(), &Event{
		Type:     EventCheckoutCompleted,
		Checkout: &CheckoutSession{SessionID: "cs_1", CustomerID: "cus_1", SubscriptionID: "sub_1", AccountID: 42, TierID: "enterprise"},
	})
	if err == nil {
		t.Fatalf("expected unknown tier to fail")
	}
}

func TestApplySubscriptionUpdatedSameTierIsStatusOnly(t *testing.T) {
	svc, repo, ledgerRepo := newTestService()
	repo.accounts[42] = &models.Account{
		ID:                   42,
		Tier:                 models.TIER_PRO,
		SubscriptionStatus:   models.SUB_STATUS_ACTIVE,
		StripeSubscriptionID: "sub_1",
	}
	ledgerRepo.tokens[42] = 900

	result, err := svc.ApplyEvent(context.Background(), &Event{
		Type: EventSubscriptionUpdated,
		Subscription: &Subscription{
			SubscriptionID: "sub_1",
			Status:         models.SUB_STATUS_PAST_DUE,
			PriceID:        "price_pro",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.StatusOnly || result.TokensGranted != 0 {
		t.Fatalf("expected status-only update, got %+v", result)
	}
	if got := ledgerRepo.tokens[42]; got != 900 {
		t.Fatalf("re-applying the held tier must not grant tokens, balance=%d", got)
	}
	if repo.accounts[42].SubscriptionStatus != models.SUB_STATUS_PAST_DUE {
		t.Fatalf("expected status refresh, got %q", repo.accounts[42].SubscriptionStatus)
	}
}

func TestApplySubscriptionUpdatedTierChangeGrants(t *testing.T) {
	svc, repo, ledgerRepo := newTestService()
	repo.accounts[42] = &models.Account{
		ID:                   42,
		Tier:                 models.TIER_BASIC,
		SubscriptionStatus:   models.SUB_STATUS_ACTIVE,
		StripeSubscriptionID: "sub_1",
	}
	ledgerRepo.tokens[42] = 50

	result, err := svc.ApplyEvent(context.Background(), &Event{
		Type: EventSubscriptionUpdated,
		Subscription: &Subscription{
			SubscriptionID: "sub_1",
			Status:         "active",
			PriceID:        "price_studio",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Tier != models.TIER_STUDIO || result.TokensGranted != 5000 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if got := ledgerRepo.tokens[42]; got != 5050 {
		t.Fatalf("expected balance 5050, got %d", got)
	}
}

func TestApplySubscriptionUpdatedUnlinkedAccount(t *testing.T) {
	svc, _, _ := newTestService()

	result, err := svc.ApplyEvent(context.Background(), &Event{
		Type:         EventSubscriptionUpdated,
		Subscription: &Subscription{SubscriptionID: "sub_unknown", Status: "active", PriceID: "price_pro"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Ignored {
		t.Fatalf("expected unlinked subscription to be ignored, got %+v", result)
	}
}

func TestApplySubscriptionUpdatedFallsBackToMetadata(t *testing.T) {
	svc, repo, ledgerRepo := newTestService()
	// Update arrives before the checkout linkage was stored.
	repo.accounts[7] = &models.Account{ID: 7, Tier: models.TIER_FREE}
	ledgerRepo.tokens[7] = 2

	result, err := svc.ApplyEvent(context.Background(), &Event{
		Type: EventSubscriptionUpdated,
		Subscription: &Subscription{
			SubscriptionID: "sub_early",
			Status:         "active",
			PriceID:        "price_basic",
			AccountID:      7,
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Tier != models.TIER_BASIC || result.TokensGranted != 200 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if repo.accounts[7].StripeSubscriptionID != "sub_early" {
		t.Fatalf("expected subscription linkage to be stored")
	}
}

func TestApplySubscriptionDeleted(t *testing.T) {
	svc, repo, ledgerRepo := newTestService()
	repo.accounts[42] = &models.Account{
		ID:                   42,
		Tier:                 models.TIER_PRO,
		SubscriptionStatus:   models.SUB_STATUS_ACTIVE,
		StripeCustomerID:     "cus_1",
		StripeSubscriptionID: "sub_1",
		LastRenewalAt:        time.Now().Add(-60 * 24 * time.Hour),
	}
	ledgerRepo.tokens[42] = 321

	result, err := svc.ApplyEvent(context.Background(), &Event{
		Type:         EventSubscriptionDeleted,
		Subscription: &Subscription{SubscriptionID: "sub_1", Status: "canceled"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Tier != models.TIER_FREE {
		t.Fatalf("expected drop to free, got %+v", result)
	}

	account := repo.accounts[42]
	if account.Tier != models.TIER_FREE || account.SubscriptionStatus != models.SUB_STATUS_CANCELED {
		t.Fatalf("unexpected account state: %+v", account)
	}
	// Remaining balance stays spendable and references stay for correlation.
	if ledgerRepo.tokens[42] != 321 {
		t.Fatalf("cancellation must not touch the balance, got %d", ledgerRepo.tokens[42])
	}
	if account.StripeSubscriptionID != "sub_1" {
		t.Fatalf("expected subscription reference to be retained")
	}

	// The downgrade restarts the renewal clock: a stale last_renewal_at would
	// let the next sweep replace the retained balance with the free baseline.
	if time.Since(account.LastRenewalAt) > time.Minute {
		t.Fatalf("expected cancellation to restart the renewal clock, last renewal %v", account.LastRenewalAt)
	}
}

func TestApplyInvoicePaymentSucceeded(t *testing.T) {
	svc, repo, ledgerRepo := newTestService()
	repo.accounts[42] = &models.Account{ID: 42, Tier: models.TIER_BASIC, StripeSubscriptionID: "sub_1"}
	ledgerRepo.tokens[42] = 17

	result, err := svc.ApplyEvent(context.Background(), &Event{
		Type:    EventInvoicePaymentSucceed,
		Invoice: &Invoice{InvoiceID: "in_1", SubscriptionID: "sub_1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TokensGranted != 200 {
		t.Fatalf("expected basic grant of 200, got %+v", result)
	}
	if ledgerRepo.tokens[42] != 217 {
		t.Fatalf("expected balance 217, got %d", ledgerRepo.tokens[42])
	}
}

func TestApplyInvoicePaymentSucceededAfterCancellation(t *testing.T) {
	svc, repo, ledgerRepo := newTestService()
	// A late invoice after the account already dropped to free.
	repo.accounts[42] = &models.Account{ID: 42, Tier: models.TIER_FREE, StripeSubscriptionID: "sub_1"}
	ledgerRepo.tokens[42] = 3

	result, err := svc.ApplyEvent(context.Background(), &Event{
		Type:    EventInvoicePaymentSucceed,
		Invoice: &Invoice{InvoiceID: "in_late", SubscriptionID: "sub_1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Ignored {
		t.Fatalf("expected late invoice to be ignored, got %+v", result)
	}
	if ledgerRepo.tokens[42] != 3 {
		t.Fatalf("ignored invoice must not grant tokens, got %d", ledgerRepo.tokens[42])
	}
}

func TestApplyInvoicePaymentFailed(t *testing.T) {
	svc, _, _ := newTestService()

	result, err := svc.ApplyEvent(context.Background(), &Event{
		Type:    EventInvoicePaymentFailed,
		Invoice: &Invoice{InvoiceID: "in_1", SubscriptionID: "sub_1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Ignored {
		t.Fatalf("expected payment failure to only be logged, got %+v", result)
	}
}

func TestApplyEventUnhandledType(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.ApplyEvent(context.Background(), &Event{Type: "charge.refunded"})
	if !errors.Is(err, ErrUnhandledEventType) {
		t.Fatalf("expected ErrUnhandledEventType, got %v", err)
	}
}

func TestNormalizeSubscriptionStatus(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "active", want: models.SUB_STATUS_ACTIVE},
		{in: "trialing", want: models.SUB_STATUS_ACTIVE},
		{in: "past_due", want: models.SUB_STATUS_PAST_DUE},
		{in: "CANCELED", want: models.SUB_STATUS_CANCELED},
		{in: "", want: models.SUB_STATUS_ACTIVE},
	}

	for _, tt := range tests {
		if got := normalizeSubscriptionStatus(tt.in); got != tt.want {
			t.Fatalf("normalizeSubscriptionStatus(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
