package razorpay

import (
	"encoding/json"
	"time"
)

// Plan is the gateway plan entity. Amounts are in minor currency units.
type Plan struct {
	ID        string          `json:"id"`
	Entity    string          `json:"entity"`
	Interval  int             `json:"interval"`
	Period    string          `json:"period"`
	Item      PlanItem        `json:"item"`
	Notes     json.RawMessage `json:"notes,omitempty"`
	CreatedAt int64           `json:"created_at"`
}

type PlanItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
}

type Customer struct {
	ID        string          `json:"id"`
	Entity    string          `json:"entity"`
	Name      string          `json:"name"`
	Email     string          `json:"email"`
	Contact   string          `json:"contact"`
	Notes     json.RawMessage `json:"notes,omitempty"`
	CreatedAt int64           `json:"created_at"`
}

// Subscription is the gateway subscription entity. Every timestamp is unix
// seconds and may be null until the provider fills it in.
type Subscription struct {
	ID           string          `json:"id"`
	Entity       string          `json:"entity"`
	PlanID       string          `json:"plan_id"`
	CustomerID   string          `json:"customer_id"`
	Status       string          `json:"status"`
	CurrentStart *int64          `json:"current_start"`
	CurrentEnd   *int64          `json:"current_end"`
	EndedAt      *int64          `json:"ended_at"`
	ChargeAt     *int64          `json:"charge_at"`
	StartAt      *int64          `json:"start_at"`
	EndAt        *int64          `json:"end_at"`
	TotalCount   int             `json:"total_count"`
	PaidCount    int             `json:"paid_count"`
	ShortURL     string          `json:"short_url"`
	Notes        json.RawMessage `json:"notes,omitempty"`
	CreatedAt    int64           `json:"created_at"`
}

// Payment is the gateway payment entity. Notes stay raw because the API
// returns [] instead of {} when empty.
type Payment struct {
	ID               string          `json:"id"`
	Entity           string          `json:"entity"`
	Amount           int64           `json:"amount"`
	Currency         string          `json:"currency"`
	Status           string          `json:"status"`
	OrderID          string          `json:"order_id"`
	InvoiceID        string          `json:"invoice_id"`
	SubscriptionID   string          `json:"subscription_id,omitempty"`
	Method           string          `json:"method"`
	Description      string          `json:"description"`
	Email            string          `json:"email"`
	Contact          string          `json:"contact"`
	ErrorCode        string          `json:"error_code"`
	ErrorDescription string          `json:"error_description"`
	ErrorReason      string          `json:"error_reason"`
	Notes            json.RawMessage `json:"notes,omitempty"`
	CreatedAt        int64           `json:"created_at"`
}

// NoteString returns a string value from a notes object, or "" when notes
// are empty, an array, or do not carry key.
func NoteString(notes json.RawMessage, key string) string {
	if len(notes) == 0 {
		return ""
	}
	var m map[string]interface{}
	if err := json.Unmarshal(notes, &m); err != nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// UnixTime converts a nullable unix-seconds value. Zero is treated as unset.
func UnixTime(v *int64) *time.Time {
	if v == nil || *v == 0 {
		return nil
	}
	t := time.Unix(*v, 0).UTC()
	return &t
}

type PlanInput struct {
	Period      string
	Interval    int
	Name        string
	Description string
	Amount      int64
	Currency    string
}

type CustomerInput struct {
	Name    string
	Email   string
	Contact string
}

type SubscriptionInput struct {
	PlanID         string
	CustomerID     string
	TotalCount     int
	CustomerNotify bool
	Notes          map[string]string
}
