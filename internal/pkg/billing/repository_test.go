package billing

import (
	"context"
	"testing"
	"time"

	"github.com/ManuelReschke/NewsDesk/app/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func intPtr(v int) *int { return &v }

func timePtr(t time.Time) *time.Time { return &t }

func TestApplySubscriptionPatchRecomputesRemaining(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	seedSubscription(t, db, models.Subscription{SubscriptionID: "sub_1", UserID: 1, TotalCount: 12, PaidCount: 1})

	tests := []struct {
		name          string
		patch         SubscriptionPatch
		wantTotal     int
		wantPaid      int
		wantRemaining int
	}{
		{name: "both counters", patch: SubscriptionPatch{TotalCount: intPtr(6), PaidCount: intPtr(2)}, wantTotal: 6, wantPaid: 2, wantRemaining: 4},
		{name: "paid only", patch: SubscriptionPatch{PaidCount: intPtr(5)}, wantTotal: 6, wantPaid: 5, wantRemaining: 1},
		{name: "paid beyond total", patch: SubscriptionPatch{PaidCount: intPtr(9)}, wantTotal: 6, wantPaid: 9, wantRemaining: 0},
		{name: "total only", patch: SubscriptionPatch{TotalCount: intPtr(24)}, wantTotal: 24, wantPaid: 9, wantRemaining: 15},
		{name: "total below paid", patch: SubscriptionPatch{TotalCount: intPtr(3)}, wantTotal: 3, wantPaid: 9, wantRemaining: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			applied, err := repo.ApplySubscriptionPatch(ctx, "sub_1", tt.patch)
			require.NoError(t, err)
			assert.True(t, applied)

			sub := loadSubscription(t, db, "sub_1")
			assert.Equal(t, tt.wantTotal, sub.TotalCount)
			assert.Equal(t, tt.wantPaid, sub.PaidCount)
			assert.Equal(t, tt.wantRemaining, sub.RemainingCount)
			assertRemainingInvariant(t, sub)
		})
	}
}

func TestCreateSubscriptionDerivesRemaining(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)

	sub := &models.Subscription{SubscriptionID: "sub_new", UserID: 1, PlanID: "plan_a", Status: StatusCreated, TotalCount: 4, PaidCount: 1, RemainingCount: 99}
	require.NoError(t, repo.CreateSubscription(context.Background(), sub))
	assertRemainingInvariant(t, loadSubscription(t, db, "sub_new"))
}

func TestApplySubscriptionPatchTerminalGuard(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	cancelledAt := testNow.Add(-time.Hour)
	seedSubscription(t, db, models.Subscription{SubscriptionID: "sub_done", UserID: 1, Status: StatusCancelled, CancelledAt: &cancelledAt})

	applied, err := repo.ApplySubscriptionPatch(ctx, "sub_done", SubscriptionPatch{Status: statusPtr(StatusActive)})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, StatusCancelled, loadSubscription(t, db, "sub_done").Status)

	reason := "card declined"
	applied, err = repo.ApplySubscriptionPatch(ctx, "sub_done", SubscriptionPatch{FailureReason: &reason})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Empty(t, loadSubscription(t, db, "sub_done").FailureReason)

	// A redelivered cancellation writes the same values again.
	applied, err = repo.ApplySubscriptionPatch(ctx, "sub_done", SubscriptionPatch{Status: statusPtr(StatusCancelled), CancelledAt: &cancelledAt})
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestApplySubscriptionPatchRequireStatus(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	seedSubscription(t, db, models.Subscription{SubscriptionID: "sub_1", UserID: 1, Status: StatusPaused})

	applied, err := repo.ApplySubscriptionPatch(ctx, "sub_1", SubscriptionPatch{
		Status:        statusPtr(StatusPaused),
		RequireStatus: []Status{StatusActive},
	})
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = repo.ApplySubscriptionPatch(ctx, "sub_1", SubscriptionPatch{
		Status:        statusPtr(StatusActive),
		RequireStatus: []Status{StatusPaused},
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, StatusActive, loadSubscription(t, db, "sub_1").Status)
}

func TestApplySubscriptionPatchKeepsFirstActivation(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	seedSubscription(t, db, models.Subscription{SubscriptionID: "sub_1", UserID: 1})

	first := testNow
	_, err := repo.ApplySubscriptionPatch(ctx, "sub_1", SubscriptionPatch{Status: statusPtr(StatusActive), ActivatedAt: &first})
	require.NoError(t, err)
	_, err = repo.ApplySubscriptionPatch(ctx, "sub_1", SubscriptionPatch{Status: statusPtr(StatusActive), ActivatedAt: timePtr(first.Add(48 * time.Hour))})
	require.NoError(t, err)

	sub := loadSubscription(t, db, "sub_1")
	require.NotNil(t, sub.ActivatedAt)
	assert.True(t, sub.ActivatedAt.Equal(first), "activated_at = %s", sub.ActivatedAt)
}

func TestApplySubscriptionPatchUnknownRecord(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	applied, err := repo.ApplySubscriptionPatch(context.Background(), "sub_missing", SubscriptionPatch{Status: statusPtr(StatusActive)})
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = repo.ApplySubscriptionPatch(context.Background(), "sub_missing", SubscriptionPatch{})
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestFindOpenSubscriptionSkipsTerminal(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	seedSubscription(t, db, models.Subscription{SubscriptionID: "sub_old", UserID: 1, PlanID: "plan_a", Status: StatusCompleted})
	seedSubscription(t, db, models.Subscription{SubscriptionID: "sub_other_plan", UserID: 1, PlanID: "plan_b", Status: StatusActive})

	_, err := repo.FindOpenSubscription(ctx, 1, "plan_a")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	seedSubscription(t, db, models.Subscription{SubscriptionID: "sub_halted", UserID: 1, PlanID: "plan_a", Status: StatusHalted})
	open, err := repo.FindOpenSubscription(ctx, 1, "plan_a")
	require.NoError(t, err)
	assert.Equal(t, "sub_halted", open.SubscriptionID)
}

func TestUpsertPlanPreservesActiveFlag(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.UpsertPlan(ctx, &models.Plan{PlanID: "plan_a", Name: "Digital", Amount: 19900, Currency: "INR", Period: "monthly", Interval: 1, IsActive: true}))
	ok, err := repo.SetPlanActive(ctx, "plan_a", false)
	require.NoError(t, err)
	assert.True(t, ok)

	plan := &models.Plan{PlanID: "plan_a", Name: "Digital Plus", Amount: 29900, Currency: "INR", Period: "monthly", Interval: 1, IsActive: true}
	require.NoError(t, repo.UpsertPlan(ctx, plan))
	assert.False(t, plan.IsActive)
	assert.Equal(t, "Digital Plus", plan.Name)

	active, err := repo.ListActivePlans(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestUpsertBillingAccount(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.UpsertBillingAccount(ctx, &models.BillingAccount{UserID: 3, Provider: models.BillingProviderRazorpay, CustomerID: "cust_1"}))
	require.NoError(t, repo.UpsertBillingAccount(ctx, &models.BillingAccount{UserID: 3, Provider: models.BillingProviderRazorpay, CustomerID: "cust_2", Email: "a@example.com"}))

	account, err := repo.GetBillingAccount(ctx, 3, models.BillingProviderRazorpay)
	require.NoError(t, err)
	assert.Equal(t, "cust_2", account.CustomerID)
	assert.Equal(t, "a@example.com", account.Email)
}

func TestWebhookEventLog(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	ctx := context.Background()

	newEvent := func() *models.BillingWebhookEvent {
		return &models.BillingWebhookEvent{
			Provider: models.BillingProviderRazorpay, ProviderEventID: "evt_1",
			EventType: EventSubscriptionCharged, SubscriptionID: "sub_1", PayloadJSON: "{}",
		}
	}
	created, stored, err := repo.CreateWebhookEventIfNotExists(ctx, newEvent())
	require.NoError(t, err)
	assert.True(t, created)

	created, again, err := repo.CreateWebhookEventIfNotExists(ctx, newEvent())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, stored.ID, again.ID)

	require.NoError(t, repo.MarkWebhookProcessed(ctx, stored.ID, "boom"))
	failed, err := repo.ListFailedWebhookEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "boom", failed[0].ProcessingError)
	assert.NotNil(t, failed[0].ProcessedAt)

	require.NoError(t, repo.MarkWebhookResynced(ctx, stored.ID))
	failed, err = repo.ListFailedWebhookEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, failed)
}
