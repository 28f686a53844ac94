package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/paintgate/paintgate/app/repository"
	"github.com/paintgate/paintgate/internal/pkg/background"
	"github.com/paintgate/paintgate/internal/pkg/billing"
	"github.com/paintgate/paintgate/internal/pkg/cache"
	"github.com/paintgate/paintgate/internal/pkg/database"
	"github.com/paintgate/paintgate/internal/pkg/env"
	"github.com/paintgate/paintgate/internal/pkg/renewal"
	"github.com/paintgate/paintgate/internal/pkg/router"
)

func main() {
	app := NewApplication()

	// Graceful shutdown: stop the background workers before the listener.
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		if m := background.GetManager(); m != nil {
			m.Stop()
		}
		_ = app.Shutdown()
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()
	repository.InitializeFactory(database.GetDB())

	// Free-tier renewal: sweep once at start, then on a fixed interval.
	catalog := billing.NewCatalogFromEnv()
	renewalPeriod := time.Duration(env.GetEnvInt("RENEWAL_PERIOD_DAYS", 30)) * 24 * time.Hour
	sweepInterval := time.Duration(env.GetEnvInt("RENEWAL_SWEEP_INTERVAL_HOURS", 24)) * time.Hour
	renewalSvc := renewal.NewServiceFromDB(database.GetDB(), catalog.FreeGrant(), renewalPeriod)
	background.Initialize(renewalSvc, sweepInterval).Start()

	app := fiber.New(fiber.Config{
		BodyLimit: 16 * 1024 * 1024, // 16 MiB, plenty for a 512x512 input image
	})

	app.Use(recover.New())
	if env.IsDev() {
		app.Use(logger.New())
	}

	router.InstallRouter(app)

	return app
}
