package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/NewsDesk/app/controllers"
	apiv1 "github.com/ManuelReschke/NewsDesk/internal/api/v1"
	"github.com/ManuelReschke/NewsDesk/internal/pkg/archive"
	"github.com/ManuelReschke/NewsDesk/internal/pkg/billing"
	"github.com/ManuelReschke/NewsDesk/internal/pkg/cache"
	"github.com/ManuelReschke/NewsDesk/internal/pkg/database"
	"github.com/ManuelReschke/NewsDesk/internal/pkg/env"
	"github.com/ManuelReschke/NewsDesk/internal/pkg/razorpay"
	"github.com/ManuelReschke/NewsDesk/internal/pkg/router"
	"github.com/ManuelReschke/NewsDesk/internal/pkg/scheduler"
)

const shutdownTimeout = 15 * time.Second

func main() {
	app, sched := NewApplication()
	sched.Start()

	addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(addr)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("[Server] %v", err)
		}
	case <-ctx.Done():
		log.Info("[Server] shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	sched.Stop(shutdownCtx)
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Errorf("[Server] shutdown: %v", err)
	}
}

func NewApplication() (*fiber.App, *scheduler.Scheduler) {
	env.SetupEnvFile()
	if env.IsDev() {
		log.SetLevel(log.LevelDebug)
	}
	database.SetupDatabase()
	cache.SetupCache()

	// Define possible base paths
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/newsdesk to project root
		"../../../", // Fallback
	}
	basePath := ""
	for _, path := range basePaths {
		if _, err := os.Stat(path + "public/docs/v1/openapi.yml"); err == nil {
			basePath = path
			break
		}
	}
	if basePath == "" {
		panic("Could not find project root directory")
	}

	billingCfg := billing.LoadConfig()
	gateway := newGateway()
	svc := billing.NewServiceFromDB(database.GetDB(), gateway, billingCfg,
		billing.WithPlanCache(billing.NewRedisPlanCache(cache.GetClient(), billingCfg.PlanCacheTTL)),
	)
	dispatcher := billing.NewDispatcher(billingCfg.WebhookSecret, svc.WebhookHandlers(),
		billing.WithEventStore(svc.Repository()),
	)
	if billingCfg.WebhookSecret == "" {
		log.Warn("[Webhook] RAZORPAY_WEBHOOK_SECRET is not set, every delivery will be dropped")
	}

	var sweeperOpts []billing.SweeperOption
	if archiver := newArchiver(); archiver != nil {
		sweeperOpts = append(sweeperOpts, billing.WithArchiver(archiver))
	}
	sweeper := billing.NewSweeper(svc.Repository(), billingCfg.RetentionAge, sweeperOpts...)

	sched, err := scheduler.New(scheduler.LoadConfig(), svc, svc, sweeper)
	if err != nil {
		panic(err)
	}

	app := fiber.New(fiber.Config{
		AppName:      "NewsDesk",
		BodyLimit:    env.GetEnvInt("HTTP_BODY_LIMIT", 1*1024*1024),
		ErrorHandler: controllers.NewErrorHandler(router.WebhookRoute),
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "change-me"),
		},
	}), monitor.New(monitor.Config{Title: "NewsDesk Metrics"}))

	// SWAGGER / OPENAPI
	app.Use(swagger.New(swagger.Config{
		BasePath: "/docs/api/",
		FilePath: basePath + "public/docs/v1/openapi.yml",
		Path:     "v1",
	}))

	// ROUTER
	var limiterStorage fiber.Storage
	if env.GetEnv("RATE_LIMIT_SHARED", "true") == "true" {
		limiterStorage = cache.LimiterStorage()
	}
	server := apiv1.NewAPIServer(controllers.NewBillingController(svc, dispatcher))
	router.InstallRouter(app, router.NewApiRouter(server, router.ApiConfig{
		JWTSecret:      []byte(env.GetEnv("JWT_SECRET", "")),
		LimiterStorage: limiterStorage,
		RateLimit:      env.GetEnvInt("RATE_LIMIT_MAX", 60),
		RateWindow:     env.GetEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
	}))

	return app, sched
}

func newGateway() razorpay.Gateway {
	client, err := razorpay.NewClientFromEnv()
	if err != nil {
		log.Warnf("[Billing] Razorpay client unavailable (%v), user actions will fail", err)
		return razorpay.Disabled()
	}
	return client
}

// newArchiver returns nil when archiving is off; the sweeper then deletes
// without writing a copy.
func newArchiver() billing.Archiver {
	cfg, err := archive.LoadConfig()
	if err != nil {
		panic(err)
	}
	if !cfg.IsEnabled() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	client, err := archive.NewClient(ctx, cfg)
	if err != nil {
		panic(err)
	}
	return client
}
