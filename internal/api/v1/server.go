package apiv1

import (
	"github.com/gofiber/fiber/v2"
)

// Pong is the body of GET /ping.
type Pong struct {
	Ping string `json:"ping"`
}

// ServerInterface lists the v1 operations documented in
// public/docs/v1/openapi.yml.
type ServerInterface interface {
	GetPing(c *fiber.Ctx) error
	GetPlans(c *fiber.Ctx) error

	PostCreateSubscription(c *fiber.Ctx) error
	PostVerifyPayment(c *fiber.Ctx) error
	GetUserSubscriptions(c *fiber.Ctx) error
	GetSubscription(c *fiber.Ctx, id string) error
	PostCancelSubscription(c *fiber.Ctx, id string) error
	PostPauseSubscription(c *fiber.Ctx, id string) error
	PostResumeSubscription(c *fiber.Ctx, id string) error

	PostRazorpayWebhook(c *fiber.Ctx) error

	PostAdminPlan(c *fiber.Ctx) error
	PostAdminSyncPlans(c *fiber.Ctx) error
	DeleteAdminPlan(c *fiber.Ctx, id string) error
	PostAdminResyncSubscription(c *fiber.Ctx, id string) error
}

// Middlewares guard the authenticated and admin operations.
type Middlewares struct {
	Auth  fiber.Handler
	Admin fiber.Handler
}

// WebhookPath is relative to the v1 group.
const WebhookPath = "/webhooks/razorpay"

// RegisterHandlers binds every operation to router.
func RegisterHandlers(router fiber.Router, si ServerInterface, mw Middlewares) {
	auth := mw.Auth
	if auth == nil {
		auth = func(c *fiber.Ctx) error { return c.Next() }
	}
	admin := mw.Admin
	if admin == nil {
		admin = func(c *fiber.Ctx) error { return c.Next() }
	}
	withID := func(fn func(*fiber.Ctx, string) error) fiber.Handler {
		return func(c *fiber.Ctx) error {
			return fn(c, c.Params("id"))
		}
	}

	router.Get("/ping", si.GetPing)
	router.Get("/plans", si.GetPlans)
	router.Post(WebhookPath, si.PostRazorpayWebhook)

	subs := router.Group("/subscriptions")
	subs.Post("/verify", si.PostVerifyPayment)
	subs.Post("/create", auth, si.PostCreateSubscription)
	subs.Get("/user/all", auth, si.GetUserSubscriptions)
	subs.Get("/:id", auth, withID(si.GetSubscription))
	subs.Post("/:id/cancel", auth, withID(si.PostCancelSubscription))
	subs.Post("/:id/pause", auth, withID(si.PostPauseSubscription))
	subs.Post("/:id/resume", auth, withID(si.PostResumeSubscription))

	adm := router.Group("/admin", auth, admin)
	adm.Post("/plans", si.PostAdminPlan)
	adm.Post("/plans/sync", si.PostAdminSyncPlans)
	adm.Delete("/plans/:id", withID(si.DeleteAdminPlan))
	adm.Post("/subscriptions/:id/resync", withID(si.PostAdminResyncSubscription))
}
