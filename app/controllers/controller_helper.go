package controllers

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/NewsDesk/internal/pkg/billing"
	"github.com/ManuelReschke/NewsDesk/internal/pkg/razorpay"
	"github.com/ManuelReschke/NewsDesk/internal/pkg/usercontext"
)

// ErrorResponse is the JSON body of every non-2xx API response.
type ErrorResponse struct {
	Error   string               `json:"error"`
	Message string               `json:"message"`
	Details []billing.FieldError `json:"details,omitempty"`
}

func jsonError(c *fiber.Ctx, status int, code, message string, details []billing.FieldError) error {
	return c.Status(status).JSON(ErrorResponse{Error: code, Message: message, Details: details})
}

// respondError maps billing and gateway errors to HTTP responses.
func respondError(c *fiber.Ctx, err error) error {
	var (
		validationErr *billing.ValidationError
		conflictErr   *billing.ConflictError
		transitionErr *billing.InvalidStateTransitionError
		notFoundErr   *billing.NotFoundError
		signatureErr  *billing.SignatureError
		gatewayErr    *razorpay.GatewayError
	)
	switch {
	case errors.As(err, &validationErr):
		return jsonError(c, fiber.StatusBadRequest, "validation_error", validationErr.Message, validationErr.Fields)
	case errors.As(err, &conflictErr):
		return jsonError(c, fiber.StatusConflict, "conflict", "An open subscription for this plan already exists", []billing.FieldError{
			{Field: "subscription_id", Message: conflictErr.SubscriptionID},
		})
	case errors.As(err, &transitionErr):
		return jsonError(c, fiber.StatusBadRequest, "invalid_state_transition", transitionErr.Error(), nil)
	case errors.As(err, &notFoundErr):
		return jsonError(c, fiber.StatusNotFound, "not_found", notFoundErr.Error(), nil)
	case errors.As(err, &signatureErr):
		return jsonError(c, fiber.StatusBadRequest, "invalid_signature", signatureErr.Error(), nil)
	case errors.As(err, &gatewayErr):
		log.Errorf("[Billing] %s %s: %v", c.Method(), c.Path(), err)
		return jsonError(c, fiber.StatusBadGateway, "gateway_error", gatewayErr.Message, nil)
	case errors.Is(err, billing.ErrNotConfigured), errors.Is(err, razorpay.ErrNotConfigured):
		log.Errorf("[Billing] %s %s: %v", c.Method(), c.Path(), err)
		return jsonError(c, fiber.StatusServiceUnavailable, "not_configured", "Payments are not available right now", nil)
	default:
		log.Errorf("[Billing] %s %s: %v", c.Method(), c.Path(), err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Something went wrong", nil)
	}
}

// parseJSON decodes the request body; an empty body leaves out untouched so
// validation reports the missing fields.
func parseJSON(c *fiber.Ctx, out interface{}) error {
	body := c.Body()
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &billing.ValidationError{Message: "request body must be valid JSON"}
	}
	return nil
}

// requireUser returns the authenticated user or writes a 401.
func requireUser(c *fiber.Ctx) (usercontext.UserContext, bool) {
	uc := usercontext.GetUserContext(c)
	if !uc.IsLoggedIn || uc.UserID == 0 {
		_ = jsonError(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication", nil)
		return uc, false
	}
	return uc, true
}
