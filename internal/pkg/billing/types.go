package billing

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/ManuelReschke/NewsDesk/internal/pkg/razorpay"
)

// Event is the webhook envelope posted by the gateway.
type Event struct {
	Entity    string          `json:"entity"`
	AccountID string          `json:"account_id"`
	Event     string          `json:"event"`
	Contains  []string        `json:"contains"`
	Payload   EventPayload    `json:"payload"`
	CreatedAt int64           `json:"created_at"`
	Raw       json.RawMessage `json:"-"`
}

// EventPayload carries the entities an event refers to. Either may be nil
// depending on the event type.
type EventPayload struct {
	Subscription *SubscriptionEntity `json:"subscription,omitempty"`
	Payment      *PaymentEntity      `json:"payment,omitempty"`
}

type SubscriptionEntity struct {
	Entity razorpay.Subscription `json:"entity"`
}

type PaymentEntity struct {
	Entity razorpay.Payment `json:"entity"`
}

// ParseEvent decodes a webhook body into an Event.
func ParseEvent(body []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, err
	}
	ev.Event = strings.TrimSpace(ev.Event)
	ev.Raw = append(json.RawMessage(nil), body...)
	return &ev, nil
}

// OccurredAt returns the envelope timestamp. Reconciliation handlers stamp
// lifecycle fields with it so a redelivered event writes the same values.
func (e *Event) OccurredAt() time.Time {
	if e.CreatedAt <= 0 {
		return time.Time{}
	}
	return time.Unix(e.CreatedAt, 0).UTC()
}

// Subscription returns the subscription entity, or nil.
func (e *Event) Subscription() *razorpay.Subscription {
	if e.Payload.Subscription == nil {
		return nil
	}
	return &e.Payload.Subscription.Entity
}

// Payment returns the payment entity, or nil.
func (e *Event) Payment() *razorpay.Payment {
	if e.Payload.Payment == nil {
		return nil
	}
	return &e.Payload.Payment.Entity
}

// SubscriptionID resolves the subscription an event refers to. payment.failed
// events may only carry it on the payment or in its notes.
func (e *Event) SubscriptionID() string {
	if sub := e.Subscription(); sub != nil && sub.ID != "" {
		return sub.ID
	}
	if p := e.Payment(); p != nil {
		if p.SubscriptionID != "" {
			return p.SubscriptionID
		}
		return razorpay.NoteString(p.Notes, "subscription_id")
	}
	return ""
}

// CreateSubscriptionInput is the user request to start a subscription.
type CreateSubscriptionInput struct {
	UserID     uint   `json:"-" validate:"required"`
	Email      string `json:"email" validate:"required,email"`
	Name       string `json:"name" validate:"max=200"`
	Contact    string `json:"contact" validate:"omitempty,max=20"`
	PlanID     string `json:"plan_id" validate:"required,max=64"`
	TotalCount int    `json:"total_count" validate:"omitempty,min=1,max=1200"`
}

// cycleLimits is how many billing cycles the gateway accepts per period at
// interval 1, a span of 100 years.
var cycleLimits = map[string]int{
	"daily":   36500,
	"weekly":  5200,
	"monthly": 1200,
	"yearly":  100,
}

// MaxTotalCount returns the largest total_count the gateway accepts for a
// plan, or 0 when the period is unknown.
func MaxTotalCount(period string, interval int) int {
	limit := cycleLimits[period]
	if interval > 1 {
		limit /= interval
	}
	return limit
}

// VerifyPaymentInput is the checkout callback confirming the first payment.
type VerifyPaymentInput struct {
	PaymentID      string `json:"razorpay_payment_id" validate:"required"`
	SubscriptionID string `json:"razorpay_subscription_id" validate:"required"`
	Signature      string `json:"razorpay_signature" validate:"required"`
}

// CreatePlanInput is the admin request to create a gateway plan.
type CreatePlanInput struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"max=1000"`
	Amount      int64  `json:"amount" validate:"required,min=100"`
	Currency    string `json:"currency" validate:"omitempty,len=3"`
	Period      string `json:"period" validate:"required,oneof=daily weekly monthly yearly"`
	Interval    int    `json:"interval" validate:"required,min=1"`
}
