package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/NewsDesk/internal/pkg/billing"
)

// BillingController serves the subscription, plan, admin and webhook routes.
type BillingController struct {
	service    *billing.Service
	dispatcher *billing.Dispatcher
}

func NewBillingController(service *billing.Service, dispatcher *billing.Dispatcher) *BillingController {
	return &BillingController{service: service, dispatcher: dispatcher}
}

type createSubscriptionRequest struct {
	PlanID     string `json:"plan_id"`
	TotalCount int    `json:"total_count"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Contact    string `json:"contact"`
}

type cancelSubscriptionRequest struct {
	CancelAtCycleEnd bool `json:"cancel_at_cycle_end"`
}

// HandleCreateSubscription creates a gateway subscription for the caller.
// Name and email default to the token identity.
func (bc *BillingController) HandleCreateSubscription(c *fiber.Ctx) error {
	uc, ok := requireUser(c)
	if !ok {
		return nil
	}
	var req createSubscriptionRequest
	if err := parseJSON(c, &req); err != nil {
		return respondError(c, err)
	}
	in := billing.CreateSubscriptionInput{
		UserID:     uc.UserID,
		Email:      req.Email,
		Name:       req.Name,
		Contact:    req.Contact,
		PlanID:     req.PlanID,
		TotalCount: req.TotalCount,
	}
	if in.Email == "" {
		in.Email = uc.Email
	}
	if in.Name == "" {
		in.Name = uc.Name
	}

	sub, err := bc.service.CreateSubscription(c.UserContext(), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"subscription": sub,
		"short_url":    sub.ShortURL,
	})
}

// HandleVerifyPayment checks the checkout signature. It needs no login
// because the gateway checkout redirects here directly.
func (bc *BillingController) HandleVerifyPayment(c *fiber.Ctx) error {
	var in billing.VerifyPaymentInput
	if err := parseJSON(c, &in); err != nil {
		return respondError(c, err)
	}
	sub, err := bc.service.VerifyPayment(c.UserContext(), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"verified": true, "subscription": sub})
}

func (bc *BillingController) HandleListSubscriptions(c *fiber.Ctx) error {
	uc, ok := requireUser(c)
	if !ok {
		return nil
	}
	subs, err := bc.service.ListSubscriptions(c.UserContext(), uc.UserID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"subscriptions": subs, "count": len(subs)})
}

func (bc *BillingController) HandleGetSubscription(c *fiber.Ctx) error {
	uc, ok := requireUser(c)
	if !ok {
		return nil
	}
	sub, err := bc.service.GetSubscription(c.UserContext(), uc.UserID, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"subscription": sub})
}

func (bc *BillingController) HandleCancelSubscription(c *fiber.Ctx) error {
	uc, ok := requireUser(c)
	if !ok {
		return nil
	}
	var req cancelSubscriptionRequest
	if err := parseJSON(c, &req); err != nil {
		return respondError(c, err)
	}
	sub, err := bc.service.CancelSubscription(c.UserContext(), uc.UserID, c.Params("id"), req.CancelAtCycleEnd)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"subscription": sub})
}

func (bc *BillingController) HandlePauseSubscription(c *fiber.Ctx) error {
	uc, ok := requireUser(c)
	if !ok {
		return nil
	}
	sub, err := bc.service.PauseSubscription(c.UserContext(), uc.UserID, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"subscription": sub})
}

func (bc *BillingController) HandleResumeSubscription(c *fiber.Ctx) error {
	uc, ok := requireUser(c)
	if !ok {
		return nil
	}
	sub, err := bc.service.ResumeSubscription(c.UserContext(), uc.UserID, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"subscription": sub})
}
