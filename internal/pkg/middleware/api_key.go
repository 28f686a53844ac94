package middleware

import (
	"errors"
	"log"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/paintgate/paintgate/app/models"
	"github.com/paintgate/paintgate/app/repository"
	"github.com/paintgate/paintgate/internal/pkg/accountcontext"
	"github.com/paintgate/paintgate/internal/pkg/database"
	"github.com/paintgate/paintgate/internal/pkg/ledger"
)

// MeteredAuthMiddleware authenticates requests carrying an API key and debits
// exactly one token before letting the request through. The debit is a single
// conditional update; nothing here holds a lock across the downstream call.
// Usage recording and last-used bookkeeping happen after the call, in the
// controller, and never roll the debit back.
func MeteredAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		apiKey := extractAPIKeyFromHeader(c)
		if apiKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing API key"})
		}

		db := database.GetDB()
		if db == nil {
			log.Print("metered auth middleware: database unavailable")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Database unavailable"})
		}

		hash := models.HashAPIKey(apiKey)
		repo := repository.GetGlobalFactory().GetAPIKeyRepository()
		key, account, err := repo.GetActiveByHash(hash)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid API key"})
			}
			log.Printf("api key lookup failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "API key verification failed"})
		}

		if account.Status != models.STATUS_ACTIVE {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Account disabled"})
		}

		// Pre-debit snapshot: cheap rejection before touching the row.
		if account.Tokens <= 0 {
			return insufficientTokens(c)
		}

		ledgerSvc := ledger.NewServiceFromDB(db)
		if err := ledgerSvc.Debit(c.Context(), account.ID); err != nil {
			if errors.Is(err, ledger.ErrInsufficientTokens) {
				// Lost the race to the last token.
				return insufficientTokens(c)
			}
			log.Printf("token debit failed for account %d: %v", account.ID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Token debit failed"})
		}

		requestID := uuid.NewString()
		accountcontext.Set(c, accountcontext.AccountContext{
			AccountID:       account.ID,
			APIKeyID:        key.ID,
			Tier:            account.Tier,
			TokensRemaining: account.Tokens - 1,
			Authenticated:   true,
		})
		c.Locals(accountcontext.KeyRequestID, requestID)
		c.Locals(accountcontext.KeyFromMetered, true)

		c.Set("X-Request-ID", requestID)
		c.Set("X-Tokens-Charged", "1")
		c.Set("X-Tokens-Remaining", strconv.FormatInt(account.Tokens-1, 10))

		return c.Next()
	}
}

func insufficientTokens(c *fiber.Ctx) error {
	c.Set("X-Tokens-Remaining", "0")
	return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
		"error":            "insufficient_tokens",
		"message":          "Token balance is exhausted",
		"tokens_remaining": 0,
	})
}

func extractAPIKeyFromHeader(c *fiber.Ctx) string {
	apiKey := strings.TrimSpace(c.Get("X-API-Key"))
	if apiKey != "" {
		return apiKey
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
