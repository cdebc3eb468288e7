package models

import "time"

// SubscriptionStatus is the local lifecycle state of a provider subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusCreated             SubscriptionStatus = "created"
	SubscriptionStatusAuthenticated       SubscriptionStatus = "authenticated"
	SubscriptionStatusActive              SubscriptionStatus = "active"
	SubscriptionStatusPending             SubscriptionStatus = "pending"
	SubscriptionStatusHalted              SubscriptionStatus = "halted"
	SubscriptionStatusCancelled           SubscriptionStatus = "cancelled"
	SubscriptionStatusCompleted           SubscriptionStatus = "completed"
	SubscriptionStatusExpired             SubscriptionStatus = "expired"
	SubscriptionStatusPaused              SubscriptionStatus = "paused"
	SubscriptionStatusPendingCancellation SubscriptionStatus = "pending_cancellation"
	SubscriptionStatusFailed              SubscriptionStatus = "failed"
)

// Subscription mirrors a Razorpay subscription for a single user. The
// provider subscription id is the business key; ID only exists for GORM.
type Subscription struct {
	ID             uint               `gorm:"primaryKey" json:"-"`
	SubscriptionID string             `gorm:"type:varchar(64);not null;index:ux_subscriptions_subscription_id,unique" json:"subscription_id"`
	UserID         uint               `gorm:"not null;index:idx_subscriptions_user_plan,priority:1" json:"user_id"`
	PlanID         string             `gorm:"type:varchar(64);not null;index:idx_subscriptions_user_plan,priority:2" json:"plan_id"`
	CustomerID     string             `gorm:"type:varchar(64);default:''" json:"customer_id"`
	Status         SubscriptionStatus `gorm:"type:varchar(32);not null;default:'created';index:idx_subscriptions_status_updated,priority:1" json:"status"`
	ShortURL       string             `gorm:"type:varchar(255);default:''" json:"short_url,omitempty"`

	TotalCount     int `gorm:"not null;default:0" json:"total_count"`
	PaidCount      int `gorm:"not null;default:0" json:"paid_count"`
	RemainingCount int `gorm:"not null;default:0" json:"remaining_count"`

	CancelAtCycleEnd bool `gorm:"default:false" json:"cancel_at_cycle_end"`

	StartAt       *time.Time `gorm:"type:datetime;default:null" json:"start_at,omitempty"`
	EndAt         *time.Time `gorm:"type:datetime;default:null" json:"end_at,omitempty"`
	CurrentStart  *time.Time `gorm:"type:datetime;default:null" json:"current_start,omitempty"`
	CurrentEnd    *time.Time `gorm:"type:datetime;default:null" json:"current_end,omitempty"`
	ChargeAt      *time.Time `gorm:"type:datetime;default:null" json:"charge_at,omitempty"`
	LastChargedAt *time.Time `gorm:"type:datetime;default:null" json:"last_charged_at,omitempty"`

	LastPaymentID       string     `gorm:"type:varchar(64);default:''" json:"last_payment_id,omitempty"`
	LastFailedPaymentID string     `gorm:"type:varchar(64);default:''" json:"last_failed_payment_id,omitempty"`
	LastFailedAt        *time.Time `gorm:"type:datetime;default:null" json:"last_failed_at,omitempty"`
	FailureReason       string     `gorm:"type:text" json:"failure_reason,omitempty"`

	ActivatedAt *time.Time `gorm:"type:datetime;default:null" json:"activated_at,omitempty"`
	CancelledAt *time.Time `gorm:"type:datetime;default:null" json:"cancelled_at,omitempty"`
	PausedAt    *time.Time `gorm:"type:datetime;default:null" json:"paused_at,omitempty"`
	ResumedAt   *time.Time `gorm:"type:datetime;default:null" json:"resumed_at,omitempty"`
	CompletedAt *time.Time `gorm:"type:datetime;default:null" json:"completed_at,omitempty"`
	HaltedAt    *time.Time `gorm:"type:datetime;default:null" json:"halted_at,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime;index:idx_subscriptions_status_updated,priority:2" json:"updated_at"`
}

// RemainingBillingCycles returns max(total-paid, 0).
func RemainingBillingCycles(total, paid int) int {
	if total-paid > 0 {
		return total - paid
	}
	return 0
}
