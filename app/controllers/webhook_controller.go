package controllers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/NewsDesk/internal/pkg/billing"
)

const (
	HeaderRazorpaySignature = "X-Razorpay-Signature"
	HeaderRazorpayEventID   = "X-Razorpay-Event-Id"
)

// HandleRazorpayWebhook always acknowledges so the gateway does not retry;
// outcomes are only visible in logs and the webhook event table.
func (bc *BillingController) HandleRazorpayWebhook(c *fiber.Ctx) error {
	// fasthttp reuses the request buffer after the handler returns.
	rawBody := append([]byte(nil), c.BodyRaw()...)

	res := bc.dispatcher.Handle(c.UserContext(), billing.Delivery{
		Body:      rawBody,
		Signature: strings.TrimSpace(c.Get(HeaderRazorpaySignature)),
		EventID:   strings.TrimSpace(c.Get(HeaderRazorpayEventID)),
	})
	log.Debugf("[Webhook] %s -> %s", res.Event, res.Outcome)

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true})
}

// NewErrorHandler is the app-wide fiber error handler. Errors raised before
// the webhook handler runs, such as an oversized body, are still answered
// with an acknowledgement on webhookPath.
func NewErrorHandler(webhookPath string) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}
		if c.Path() == webhookPath && c.Method() == fiber.MethodPost {
			log.Errorf("[Webhook] delivery rejected before dispatch (%d): %v", code, err)
			return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true})
		}
		return jsonError(c, code, "error", err.Error(), nil)
	}
}
