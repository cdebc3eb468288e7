package models

import "time"

// Billing provider constants used across billing-related models.
const (
	BillingProviderRazorpay = "razorpay"
)

// BillingAccount links a local user to the provider customer created for
// them, so later subscriptions reuse the same customer.
type BillingAccount struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     uint      `gorm:"not null;index:ux_billing_accounts_user_provider,unique,priority:1" json:"user_id"`
	Provider   string    `gorm:"type:varchar(20);not null;index:ux_billing_accounts_user_provider,unique,priority:2" json:"provider"`
	CustomerID string    `gorm:"type:varchar(64);not null;index" json:"customer_id"`
	Email      string    `gorm:"type:varchar(200);default:''" json:"email"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
