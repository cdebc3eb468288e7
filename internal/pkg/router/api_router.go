package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	apiv1 "github.com/ManuelReschke/NewsDesk/internal/api/v1"
	"github.com/ManuelReschke/NewsDesk/internal/pkg/middleware"
)

// WebhookRoute is the full path the gateway delivers webhooks to.
const WebhookRoute = "/api/v1" + apiv1.WebhookPath

// ApiConfig configures the /api group.
type ApiConfig struct {
	JWTSecret []byte
	// LimiterStorage shares rate limits between instances; nil keeps them in memory.
	LimiterStorage fiber.Storage
	RateLimit      int
	RateWindow     time.Duration
}

type ApiRouter struct {
	server apiv1.ServerInterface
	cfg    ApiConfig
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	limit := h.cfg.RateLimit
	if limit <= 0 {
		limit = 60
	}
	window := h.cfg.RateWindow
	if window <= 0 {
		window = time.Minute
	}

	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        limit,
		Expiration: window,
		Storage:    h.cfg.LimiterStorage,
		// Gateway retries must never be throttled.
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == WebhookRoute
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate_limited",
				"message": "Too many requests",
			})
		},
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// API v1 routes
	v1 := api.Group("/v1")
	apiv1.RegisterHandlers(v1, h.server, apiv1.Middlewares{
		Auth:  middleware.RequireAuth(h.cfg.JWTSecret),
		Admin: middleware.RequireAdmin,
	})
}

func NewApiRouter(server apiv1.ServerInterface, cfg ApiConfig) *ApiRouter {
	return &ApiRouter{server: server, cfg: cfg}
}
