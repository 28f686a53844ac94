package controllers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/paintgate/paintgate/app/repository"
	"github.com/paintgate/paintgate/internal/pkg/accountcontext"
)

// HandleAccountInfo returns balance, tier and subscription state for the
// authenticated account. This route sits behind the non-debiting auth
// middleware: checking a balance must not cost a token.
func HandleAccountInfo(c *fiber.Ctx) error {
	acct := accountcontext.Get(c)
	if !acct.Authenticated {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	account, err := repository.GetGlobalFactory().GetAccountRepository().GetByID(acct.AccountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	return c.JSON(fiber.Map{
		"account_id":          account.ID,
		"tokens":              account.Tokens,
		"tier":                account.Tier,
		"subscription_status": account.SubscriptionStatus,
		"last_renewal_at":     account.LastRenewalAt.UTC().Format(time.RFC3339),
	})
}

// HandleAccountUsage returns the most recent usage records for the account.
func HandleAccountUsage(c *fiber.Ctx) error {
	acct := accountcontext.Get(c)
	if !acct.Authenticated {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	since := time.Now().AddDate(0, -1, 0)
	records, err := repository.GetGlobalFactory().GetUsageRepository().ListByAccountID(acct.AccountID, since, 100)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	return c.JSON(fiber.Map{"usage": records})
}
