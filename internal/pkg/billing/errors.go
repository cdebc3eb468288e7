package billing

import (
	"errors"
	"fmt"
)

// FieldError describes one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports missing or malformed input.
type ValidationError struct {
	Message string
	Fields  []FieldError
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ConflictError reports a duplicate non-terminal subscription.
type ConflictError struct {
	UserID uint
	PlanID string
	// SubscriptionID is the subscription that blocks the request.
	SubscriptionID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("user %d already has subscription %s for plan %s", e.UserID, e.SubscriptionID, e.PlanID)
}

// InvalidStateTransitionError reports an action that the current status does not allow.
type InvalidStateTransitionError struct {
	Current Status
	Action  Action
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("cannot %s subscription in status %q", e.Action, e.Current)
}

// NotFoundError reports an unknown record. Ownership mismatches are
// reported the same way so ids of other users are not disclosed.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// SignatureError reports a payment signature mismatch on the verify route.
type SignatureError struct {
	SubscriptionID string
}

func (e *SignatureError) Error() string {
	return "Invalid signature"
}

// ErrNotConfigured is returned when a required secret is missing.
var ErrNotConfigured = errors.New("billing is not configured")

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
