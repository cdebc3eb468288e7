package apiv1

import (
	"github.com/gofiber/fiber/v2"

	// Delegate to the controllers to keep behaviour consistent with tests.
	"github.com/ManuelReschke/NewsDesk/app/controllers"
)

// APIServer implements the ServerInterface
type APIServer struct {
	billing *controllers.BillingController
}

// NewAPIServer creates a new API server instance
func NewAPIServer(billing *controllers.BillingController) *APIServer {
	return &APIServer{billing: billing}
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(Pong{Ping: "pong"})
}

func (s *APIServer) GetPlans(c *fiber.Ctx) error {
	return s.billing.HandleListPlans(c)
}

func (s *APIServer) PostCreateSubscription(c *fiber.Ctx) error {
	return s.billing.HandleCreateSubscription(c)
}

// PostVerifyPayment is public; the checkout signature authenticates it.
func (s *APIServer) PostVerifyPayment(c *fiber.Ctx) error {
	return s.billing.HandleVerifyPayment(c)
}

func (s *APIServer) GetUserSubscriptions(c *fiber.Ctx) error {
	return s.billing.HandleListSubscriptions(c)
}

// The id-taking operations read the id from route params themselves; the
// argument only mirrors the documented path.
func (s *APIServer) GetSubscription(c *fiber.Ctx, id string) error {
	return s.billing.HandleGetSubscription(c)
}

func (s *APIServer) PostCancelSubscription(c *fiber.Ctx, id string) error {
	return s.billing.HandleCancelSubscription(c)
}

func (s *APIServer) PostPauseSubscription(c *fiber.Ctx, id string) error {
	return s.billing.HandlePauseSubscription(c)
}

func (s *APIServer) PostResumeSubscription(c *fiber.Ctx, id string) error {
	return s.billing.HandleResumeSubscription(c)
}

func (s *APIServer) PostRazorpayWebhook(c *fiber.Ctx) error {
	return s.billing.HandleRazorpayWebhook(c)
}

func (s *APIServer) PostAdminPlan(c *fiber.Ctx) error {
	return s.billing.HandleAdminCreatePlan(c)
}

func (s *APIServer) PostAdminSyncPlans(c *fiber.Ctx) error {
	return s.billing.HandleAdminSyncPlans(c)
}

func (s *APIServer) DeleteAdminPlan(c *fiber.Ctx, id string) error {
	return s.billing.HandleAdminDeactivatePlan(c)
}

func (s *APIServer) PostAdminResyncSubscription(c *fiber.Ctx, id string) error {
	return s.billing.HandleAdminResyncSubscription(c)
}
