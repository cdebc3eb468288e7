package models

import "time"

// Plan mirrors a provider plan. IsActive is a local soft-delete flag; plans
// are never removed from the table.
type Plan struct {
	ID          uint      `gorm:"primaryKey" json:"-"`
	PlanID      string    `gorm:"type:varchar(64);not null;index:ux_billing_plans_plan_id,unique" json:"plan_id"`
	Name        string    `gorm:"type:varchar(200);not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	Amount      int64     `gorm:"not null;default:0" json:"amount"`
	Currency    string    `gorm:"type:varchar(3);not null;default:'INR'" json:"currency"`
	Period      string    `gorm:"type:varchar(16);not null" json:"period"`
	Interval    int       `gorm:"not null;default:1" json:"interval"`
	IsActive    bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName keeps plans next to the other billing tables.
func (Plan) TableName() string {
	return "billing_plans"
}
