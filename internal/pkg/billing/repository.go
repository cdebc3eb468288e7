package billing

import (
	"context"
	"time"

	"github.com/ManuelReschke/NewsDesk/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SubscriptionPatch is a partial update of a subscription record. Nil fields
// are left untouched.
type SubscriptionPatch struct {
	Status           *Status
	CustomerID       *string
	ShortURL         *string
	TotalCount       *int
	PaidCount        *int
	CancelAtCycleEnd *bool

	StartAt       *time.Time
	EndAt         *time.Time
	CurrentStart  *time.Time
	CurrentEnd    *time.Time
	ChargeAt      *time.Time
	LastChargedAt *time.Time

	LastPaymentID       *string
	LastFailedPaymentID *string
	LastFailedAt        *time.Time
	FailureReason       *string

	// ActivatedAt only fills an empty column; the first activation wins.
	ActivatedAt *time.Time
	CancelledAt *time.Time
	PausedAt    *time.Time
	ResumedAt   *time.Time
	CompletedAt *time.Time
	HaltedAt    *time.Time

	// RequireStatus limits the update to records currently in one of these
	// statuses. Empty means any status.
	RequireStatus []Status
}

// IsEmpty reports whether the patch assigns nothing.
func (p SubscriptionPatch) IsEmpty() bool {
	return len(p.assignments()) == 0
}

func (p SubscriptionPatch) assignments() map[string]interface{} {
	updates := make(map[string]interface{})
	if p.Status != nil {
		updates["status"] = *p.Status
	}
	if p.CustomerID != nil {
		updates["customer_id"] = *p.CustomerID
	}
	if p.ShortURL != nil {
		updates["short_url"] = *p.ShortURL
	}
	if p.CancelAtCycleEnd != nil {
		updates["cancel_at_cycle_end"] = *p.CancelAtCycleEnd
	}

	switch {
	case p.TotalCount != nil && p.PaidCount != nil:
		updates["total_count"] = *p.TotalCount
		updates["paid_count"] = *p.PaidCount
		updates["remaining_count"] = models.RemainingBillingCycles(*p.TotalCount, *p.PaidCount)
	case p.PaidCount != nil:
		updates["paid_count"] = *p.PaidCount
		updates["remaining_count"] = gorm.Expr("CASE WHEN total_count > ? THEN total_count - ? ELSE 0 END", *p.PaidCount, *p.PaidCount)
	case p.TotalCount != nil:
		updates["total_count"] = *p.TotalCount
		updates["remaining_count"] = gorm.Expr("CASE WHEN ? > paid_count THEN ? - paid_count ELSE 0 END", *p.TotalCount, *p.TotalCount)
	}

	setTime := func(column string, v *time.Time) {
		if v != nil {
			updates[column] = v.UTC()
		}
	}
	setTime("start_at", p.StartAt)
	setTime("end_at", p.EndAt)
	setTime("current_start", p.CurrentStart)
	setTime("current_end", p.CurrentEnd)
	setTime("charge_at", p.ChargeAt)
	setTime("last_charged_at", p.LastChargedAt)
	setTime("last_failed_at", p.LastFailedAt)
	setTime("cancelled_at", p.CancelledAt)
	setTime("paused_at", p.PausedAt)
	setTime("resumed_at", p.ResumedAt)
	setTime("completed_at", p.CompletedAt)
	setTime("halted_at", p.HaltedAt)
	if p.ActivatedAt != nil {
		updates["activated_at"] = gorm.Expr("COALESCE(activated_at, ?)", p.ActivatedAt.UTC())
	}

	if p.LastPaymentID != nil {
		updates["last_payment_id"] = *p.LastPaymentID
	}
	if p.LastFailedPaymentID != nil {
		updates["last_failed_payment_id"] = *p.LastFailedPaymentID
	}
	if p.FailureReason != nil {
		updates["failure_reason"] = *p.FailureReason
	}
	return updates
}

// Repository provides DB operations used by the billing service.
type Repository interface {
	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	GetSubscription(ctx context.Context, subscriptionID string) (*models.Subscription, error)
	GetSubscriptionForUser(ctx context.Context, subscriptionID string, userID uint) (*models.Subscription, error)
	ListSubscriptionsByUser(ctx context.Context, userID uint) ([]models.Subscription, error)
	FindOpenSubscription(ctx context.Context, userID uint, planID string) (*models.Subscription, error)
	ApplySubscriptionPatch(ctx context.Context, subscriptionID string, patch SubscriptionPatch) (bool, error)
	ListTerminalSubscriptionsBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Subscription, error)
	DeleteTerminalSubscriptions(ctx context.Context, ids []uint) (int64, error)

	UpsertPlan(ctx context.Context, plan *models.Plan) error
	GetPlan(ctx context.Context, planID string) (*models.Plan, error)
	ListActivePlans(ctx context.Context) ([]models.Plan, error)
	SetPlanActive(ctx context.Context, planID string, active bool) (bool, error)

	GetBillingAccount(ctx context.Context, userID uint, provider string) (*models.BillingAccount, error)
	UpsertBillingAccount(ctx context.Context, account *models.BillingAccount) error

	CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error
	ListFailedWebhookEvents(ctx context.Context, limit int) ([]models.BillingWebhookEvent, error)
	MarkWebhookResynced(ctx context.Context, id uint) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func terminalStatusList() []string {
	out := make([]string, 0, len(terminalStatuses))
	for _, s := range terminalStatuses {
		out = append(out, string(s))
	}
	return out
}

func (r *gormRepository) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	sub.RemainingCount = models.RemainingBillingCycles(sub.TotalCount, sub.PaidCount)
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *gormRepository) GetSubscription(ctx context.Context, subscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).Where("subscription_id = ?", subscriptionID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) GetSubscriptionForUser(ctx context.Context, subscriptionID string, userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Where("subscription_id = ? AND user_id = ?", subscriptionID, userID).
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) ListSubscriptionsByUser(ctx context.Context, userID uint) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC, id DESC").Find(&subs).Error
	return subs, err
}

func (r *gormRepository) FindOpenSubscription(ctx context.Context, userID uint, planID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND plan_id = ? AND status NOT IN ?", userID, planID, terminalStatusList()).
		Order("id DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// ApplySubscriptionPatch writes patch in a single UPDATE. A terminal record
// only matches when the patch keeps its status unchanged. It reports false
// when no row matched.
func (r *gormRepository) ApplySubscriptionPatch(ctx context.Context, subscriptionID string, patch SubscriptionPatch) (bool, error) {
	updates := patch.assignments()
	if len(updates) == 0 {
		return false, nil
	}

	q := r.db.WithContext(ctx).Model(&models.Subscription{}).Where("subscription_id = ?", subscriptionID)
	if patch.Status != nil {
		q = q.Where("(status NOT IN ? OR status = ?)", terminalStatusList(), string(*patch.Status))
	} else {
		q = q.Where("status NOT IN ?", terminalStatusList())
	}
	if len(patch.RequireStatus) > 0 {
		required := make([]string, 0, len(patch.RequireStatus))
		for _, s := range patch.RequireStatus {
			required = append(required, string(s))
		}
		q = q.Where("status IN ?", required)
	}

	tx := q.Updates(updates)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) ListTerminalSubscriptionsBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", terminalStatusList(), cutoff).
		Order("id ASC").
		Limit(limit).
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) DeleteTerminalSubscriptions(ctx context.Context, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx := r.db.WithContext(ctx).
		Where("id IN ? AND status IN ?", ids, terminalStatusList()).
		Delete(&models.Subscription{})
	return tx.RowsAffected, tx.Error
}

func (r *gormRepository) UpsertPlan(ctx context.Context, plan *models.Plan) error {
	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "plan_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name",
			"description",
			"amount",
			"currency",
			"period",
			"interval",
			"updated_at",
		}),
	}).Create(plan).Error; err != nil {
		return err
	}

	// Reload so ID and IsActive reflect the stored row after upsert.
	var stored models.Plan
	if err := db.Where("plan_id = ?", plan.PlanID).First(&stored).Error; err != nil {
		return err
	}
	*plan = stored
	return nil
}

func (r *gormRepository) GetPlan(ctx context.Context, planID string) (*models.Plan, error) {
	var plan models.Plan
	if err := r.db.WithContext(ctx).Where("plan_id = ?", planID).First(&plan).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *gormRepository) ListActivePlans(ctx context.Context) ([]models.Plan, error) {
	var plans []models.Plan
	err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("amount ASC, id ASC").Find(&plans).Error
	return plans, err
}

func (r *gormRepository) SetPlanActive(ctx context.Context, planID string, active bool) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&models.Plan{}).Where("plan_id = ?", planID).Update("is_active", active)
	return tx.RowsAffected > 0, tx.Error
}

func (r *gormRepository) GetBillingAccount(ctx context.Context, userID uint, provider string) (*models.BillingAccount, error) {
	var account models.BillingAccount
	err := r.db.WithContext(ctx).Where("user_id = ? AND provider = ?", userID, provider).First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *gormRepository) UpsertBillingAccount(ctx context.Context, account *models.BillingAccount) error {
	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
			{Name: "provider"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"customer_id",
			"email",
			"updated_at",
		}),
	}).Create(account).Error; err != nil {
		return err
	}

	var stored models.BillingAccount
	if err := db.Where("user_id = ? AND provider = ?", account.UserID, account.Provider).First(&stored).Error; err != nil {
		return err
	}
	*account = stored
	return nil
}

func (r *gormRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	db := r.db.WithContext(ctx)
	tx := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.WithContext(ctx).Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

// ListFailedWebhookEvents returns deliveries whose handler failed and that
// have not been reconciled since.
func (r *gormRepository) ListFailedWebhookEvents(ctx context.Context, limit int) ([]models.BillingWebhookEvent, error) {
	var events []models.BillingWebhookEvent
	err := r.db.WithContext(ctx).
		Where("processing_error <> '' AND resynced_at IS NULL AND subscription_id <> ''").
		Order("id ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *gormRepository) MarkWebhookResynced(ctx context.Context, id uint) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Update("resynced_at", &now).Error
}
