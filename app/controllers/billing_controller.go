package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/paintgate/paintgate/app/models"
	"github.com/paintgate/paintgate/internal/pkg/billing"
	"github.com/paintgate/paintgate/internal/pkg/database"
	"github.com/paintgate/paintgate/internal/pkg/env"
)

var billingCatalog *billing.Catalog

// InitializeBillingController wires the read-only tier catalog.
func InitializeBillingController(catalog *billing.Catalog) {
	billingCatalog = catalog
}

// HandleStripeWebhook ingests provider billing events. The event row is
// inserted before any account state changes, so a redelivered event ID is
// acknowledged as a duplicate without touching the ledger. Only deliveries
// that were applied successfully count as duplicates: a retry of a delivery
// that failed signature verification or failed to apply runs the
// reconciliation again. The provider needs a 2xx on duplicates and on events
// we deliberately ignore, otherwise it retries forever.
func HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("Stripe-Signature"))
	secret := env.GetEnv("STRIPE_WEBHOOK_SECRET", "")

	svc := billing.NewServiceFromDB(database.GetDB(), billingCatalog)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	signatureValid := billing.VerifyStripeWebhookSignature(rawBody, signature, secret, billing.DefaultSignatureTolerance)

	event, parseErr := billing.ParseEvent(rawBody)
	eventID := ""
	eventType := ""
	if event != nil {
		eventID = event.ID
		eventType = event.Type
	}

	created, stored, err := svc.RecordWebhookEvent(ctx, billing.WebhookEventInput{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: eventID,
		EventType:       eventType,
		PayloadJSON:     string(rawBody),
		SignatureValid:  signatureValid,
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}
	if !created && stored.Processed() {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}
	if !signatureValid {
		_ = svc.MarkWebhookProcessed(ctx, stored.ID, errors.New("invalid webhook signature"))
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	}
	if errors.Is(parseErr, billing.ErrUnhandledEventType) {
		_ = svc.MarkWebhookProcessed(ctx, stored.ID, nil)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	}
	if parseErr != nil {
		_ = svc.MarkWebhookProcessed(ctx, stored.ID, parseErr)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	result, applyErr := svc.ApplyEvent(ctx, event)
	_ = svc.MarkWebhookProcessed(ctx, stored.ID, applyErr)
	if applyErr != nil {
		fiberlog.Errorf("[Billing] event %s (%s) apply failed: %v", eventID, eventType, applyErr)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "event_apply_failed"})
	}
	if result != nil && result.Ignored {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}
