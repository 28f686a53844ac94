package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/paintgate/paintgate/app/controllers"
	"github.com/paintgate/paintgate/internal/pkg/billing"
	"github.com/paintgate/paintgate/internal/pkg/engine"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// Initialize controllers with their collaborators
	controllers.InitializeBillingController(billing.NewCatalogFromEnv())
	controllers.InitializePaintController(engine.NewClientFromEnv())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	// Provider webhooks are authenticated by signature, not by API key,
	// so they live outside the /api group.
	app.Post("/webhook/stripe", controllers.HandleStripeWebhook)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
