package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/paintgate/paintgate/app/controllers"
	"github.com/paintgate/paintgate/internal/pkg/env"
	"github.com/paintgate/paintgate/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	// Rate limiting state lives in Redis so every instance shares it.
	store := redis.New(redis.Config{
		Host: env.GetEnv("CACHE_HOST", "localhost"),
		Port: env.GetEnvInt("CACHE_PORT", 6379),
	})

	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        env.GetEnvInt("API_RATE_LIMIT", 60),
		Expiration: time.Minute,
		Storage:    store,
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "PaintGate API",
		})
	})

	v1 := api.Group("/v1")

	// Metered: one token per call, debited before the engine runs.
	v1.Post("/paint", middleware.MeteredAuthMiddleware(), controllers.HandlePaint)

	// Authenticated but free of charge.
	v1.Get("/account", middleware.APIKeyAuthMiddleware(), controllers.HandleAccountInfo)
	v1.Get("/account/usage", middleware.APIKeyAuthMiddleware(), controllers.HandleAccountUsage)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
