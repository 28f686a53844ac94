package middleware

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/paintgate/paintgate/app/models"
	"github.com/paintgate/paintgate/app/repository"
	"github.com/paintgate/paintgate/internal/pkg/accountcontext"
)

// APIKeyAuthMiddleware authenticates requests carrying an API key without
// debiting a token. Used for non-metered routes like balance lookups.
func APIKeyAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		apiKey := extractAPIKeyFromHeader(c)
		if apiKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing API key"})
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

		accountcontext.Set(c, accountcontext.AccountContext{
			AccountID:       account.ID,
			APIKeyID:        key.ID,
			Tier:            account.Tier,
			TokensRemaining: account.Tokens,
			Authenticated:   true,
		})

		return c.Next()
	}
}
