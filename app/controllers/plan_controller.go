package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/NewsDesk/internal/pkg/billing"
	"github.com/ManuelReschke/NewsDesk/internal/pkg/usercontext"
)

// HandleListPlans returns the active plan catalogue.
func (bc *BillingController) HandleListPlans(c *fiber.Ctx) error {
	plans, err := bc.service.ListPlans(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"plans": plans})
}

func (bc *BillingController) HandleAdminCreatePlan(c *fiber.Ctx) error {
	var in billing.CreatePlanInput
	if err := parseJSON(c, &in); err != nil {
		return respondError(c, err)
	}
	plan, err := bc.service.CreatePlan(c.UserContext(), in)
	if err != nil {
		return respondError(c, err)
	}
	log.Infof("[Billing] admin %d created plan %s", usercontext.GetUserID(c), plan.PlanID)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"plan": plan})
}

func (bc *BillingController) HandleAdminSyncPlans(c *fiber.Ctx) error {
	n, err := bc.service.SyncPlans(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"synced": n})
}

// HandleAdminDeactivatePlan hides a plan from the catalogue. Existing
// subscriptions on it are not touched.
func (bc *BillingController) HandleAdminDeactivatePlan(c *fiber.Ctx) error {
	planID := c.Params("id")
	if err := bc.service.DeactivatePlan(c.UserContext(), planID); err != nil {
		return respondError(c, err)
	}
	log.Infof("[Billing] admin %d deactivated plan %s", usercontext.GetUserID(c), planID)
	return c.SendStatus(fiber.StatusNoContent)
}

func (bc *BillingController) HandleAdminResyncSubscription(c *fiber.Ctx) error {
	sub, err := bc.service.ResyncSubscription(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"subscription": sub})
}
