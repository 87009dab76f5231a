package main

import (
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/code2deploy/payments/app/repository"
	"github.com/code2deploy/payments/internal/pkg/cache"
	"github.com/code2deploy/payments/internal/pkg/database"
	"github.com/code2deploy/payments/internal/pkg/enrollment"
	"github.com/code2deploy/payments/internal/pkg/env"
	"github.com/code2deploy/payments/internal/pkg/gateway"
	"github.com/code2deploy/payments/internal/pkg/mail"
	"github.com/code2deploy/payments/internal/pkg/outbox"
	"github.com/code2deploy/payments/internal/pkg/router"
	"github.com/code2deploy/payments/internal/pkg/settlement"
)

func main() {
	app := NewApplication()

	dispatcher := outbox.NewDispatcher(
		outbox.NewQueue(database.GetDB()),
		mail.SMTPSender{},
		enrollment.NewHTTPEnrollerFromEnv(),
		15*time.Second,
	)
	dispatcher.Start()
	defer dispatcher.Stop()

	// Sweep payments whose verdict never arrived over redirect or webhook.
	sweeper := settlement.NewSweeper(
		settlement.NewCoordinator(settlement.NewStore(database.GetDB()), gateway.NewPayPalClientFromEnv()),
		5*time.Minute,
		15*time.Minute,
	)
	sweeper.Start()
	defer sweeper.Stop()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()
	repository.InitializeFactory(database.GetDB())

	app := fiber.New(fiber.Config{
		AppName: "payments",
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "test"),
		},
	}), monitor.New())

	// ROUTER
	router.InstallRouter(app)

	return app
}
