package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ManuelReschke/NewsDesk/app/models"
	"github.com/ManuelReschke/NewsDesk/internal/pkg/razorpay"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	testKeySecret     = "key_secret_test"
	testWebhookSecret = "whsec_test"
)

var testNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// Every connection to :memory: is a separate database.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.Subscription{},
		&models.Plan{},
		&models.BillingAccount{},
		&models.BillingWebhookEvent{},
	))
	return db
}

func testConfig() *Config {
	return &Config{
		KeySecret:         testKeySecret,
		WebhookSecret:     testWebhookSecret,
		DefaultTotalCount: 12,
		RetentionAge:      30 * 24 * time.Hour,
		PlanCacheTTL:      time.Minute,
	}
}

func newTestService(t *testing.T, opts ...ServiceOption) (*Service, *fakeGateway, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	gw := newFakeGateway()
	opts = append([]ServiceOption{WithClock(func() time.Time { return testNow })}, opts...)
	return NewServiceFromDB(db, gw, testConfig(), opts...), gw, db
}

func seedSubscription(t *testing.T, db *gorm.DB, sub models.Subscription) *models.Subscription {
	t.Helper()
	if sub.PlanID == "" {
		sub.PlanID = "plan_basic"
	}
	if sub.Status == "" {
		sub.Status = StatusCreated
	}
	sub.RemainingCount = models.RemainingBillingCycles(sub.TotalCount, sub.PaidCount)
	require.NoError(t, db.Create(&sub).Error)
	return &sub
}

func loadSubscription(t *testing.T, db *gorm.DB, id string) *models.Subscription {
	t.Helper()
	var sub models.Subscription
	require.NoError(t, db.Where("subscription_id = ?", id).First(&sub).Error)
	return &sub
}

func assertRemainingInvariant(t *testing.T, sub *models.Subscription) {
	t.Helper()
	require.Equal(t, models.RemainingBillingCycles(sub.TotalCount, sub.PaidCount), sub.RemainingCount,
		"remaining_count for total=%d paid=%d", sub.TotalCount, sub.PaidCount)
}

// fakeGateway is an in-memory razorpay.Gateway that records every call.
type fakeGateway struct {
	mu       sync.Mutex
	calls    []string
	plans    map[string]*razorpay.Plan
	subs     map[string]*razorpay.Subscription
	payments map[string]*razorpay.Payment
	nextID   int
	err      error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		plans:    map[string]*razorpay.Plan{},
		subs:     map[string]*razorpay.Subscription{},
		payments: map[string]*razorpay.Payment{},
	}
}

func (g *fakeGateway) record(op string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, op)
	if g.err != nil {
		return &razorpay.GatewayError{Op: op, Message: g.err.Error(), Err: g.err}
	}
	return nil
}

func (g *fakeGateway) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

func (g *fakeGateway) id(prefix string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	return fmt.Sprintf("%s_%d", prefix, g.nextID)
}

func (g *fakeGateway) addPlan(id, name string, amount int64) {
	g.plans[id] = &razorpay.Plan{
		ID: id, Period: "monthly", Interval: 1,
		Item: razorpay.PlanItem{Name: name, Amount: amount, Currency: "INR"},
	}
}

func (g *fakeGateway) CreatePlan(_ context.Context, in razorpay.PlanInput) (*razorpay.Plan, error) {
	if err := g.record("create_plan"); err != nil {
		return nil, err
	}
	p := &razorpay.Plan{
		ID: g.id("plan"), Period: in.Period, Interval: in.Interval,
		Item: razorpay.PlanItem{Name: in.Name, Description: in.Description, Amount: in.Amount, Currency: in.Currency},
	}
	g.plans[p.ID] = p
	return p, nil
}

func (g *fakeGateway) FetchPlan(_ context.Context, planID string) (*razorpay.Plan, error) {
	if err := g.record("fetch_plan"); err != nil {
		return nil, err
	}
	p, ok := g.plans[planID]
	if !ok {
		return nil, &razorpay.GatewayError{Op: "fetch plan", Message: "The id provided does not exist"}
	}
	return p, nil
}

func (g *fakeGateway) ListPlans(_ context.Context) ([]razorpay.Plan, error) {
	if err := g.record("list_plans"); err != nil {
		return nil, err
	}
	out := make([]razorpay.Plan, 0, len(g.plans))
	for _, p := range g.plans {
		out = append(out, *p)
	}
	return out, nil
}

func (g *fakeGateway) CreateCustomer(_ context.Context, in razorpay.CustomerInput) (*razorpay.Customer, error) {
	if err := g.record("create_customer"); err != nil {
		return nil, err
	}
	return &razorpay.Customer{ID: g.id("cust"), Name: in.Name, Email: in.Email}, nil
}

func (g *fakeGateway) FetchCustomer(_ context.Context, customerID string) (*razorpay.Customer, error) {
	if err := g.record("fetch_customer"); err != nil {
		return nil, err
	}
	return &razorpay.Customer{ID: customerID}, nil
}

func (g *fakeGateway) CreateSubscription(_ context.Context, in razorpay.SubscriptionInput) (*razorpay.Subscription, error) {
	if err := g.record("create_subscription"); err != nil {
		return nil, err
	}
	sub := &razorpay.Subscription{
		ID: g.id("sub"), PlanID: in.PlanID, CustomerID: in.CustomerID, Status: "created",
		TotalCount: in.TotalCount, ShortURL: "https://rzp.io/i/test",
	}
	g.subs[sub.ID] = sub
	cp := *sub
	return &cp, nil
}

func (g *fakeGateway) FetchSubscription(_ context.Context, subscriptionID string) (*razorpay.Subscription, error) {
	if err := g.record("fetch_subscription"); err != nil {
		return nil, err
	}
	sub, ok := g.subs[subscriptionID]
	if !ok {
		return nil, &razorpay.GatewayError{Op: "fetch subscription", Message: "The id provided does not exist"}
	}
	cp := *sub
	return &cp, nil
}

func (g *fakeGateway) setStatus(op, subscriptionID, status string) (*razorpay.Subscription, error) {
	if err := g.record(op); err != nil {
		return nil, err
	}
	sub, ok := g.subs[subscriptionID]
	if !ok {
		sub = &razorpay.Subscription{ID: subscriptionID}
		g.subs[subscriptionID] = sub
	}
	sub.Status = status
	cp := *sub
	return &cp, nil
}

func (g *fakeGateway) CancelSubscription(_ context.Context, subscriptionID string, atCycleEnd bool) (*razorpay.Subscription, error) {
	if atCycleEnd {
		return g.setStatus("cancel_subscription", subscriptionID, "active")
	}
	return g.setStatus("cancel_subscription", subscriptionID, "cancelled")
}

func (g *fakeGateway) PauseSubscription(_ context.Context, subscriptionID string) (*razorpay.Subscription, error) {
	return g.setStatus("pause_subscription", subscriptionID, "paused")
}

func (g *fakeGateway) ResumeSubscription(_ context.Context, subscriptionID string) (*razorpay.Subscription, error) {
	return g.setStatus("resume_subscription", subscriptionID, "active")
}

func (g *fakeGateway) FetchPayment(_ context.Context, paymentID string) (*razorpay.Payment, error) {
	if err := g.record("fetch_payment"); err != nil {
		return nil, err
	}
	p, ok := g.payments[paymentID]
	if !ok {
		return &razorpay.Payment{ID: paymentID, Status: "captured"}, nil
	}
	return p, nil
}

// eventBody builds a webhook envelope. Nil entities are omitted.
func eventBody(t *testing.T, event string, createdAt int64, sub, payment map[string]interface{}) []byte {
	t.Helper()
	payload := map[string]interface{}{}
	contains := []string{}
	if sub != nil {
		payload["subscription"] = map[string]interface{}{"entity": sub}
		contains = append(contains, "subscription")
	}
	if payment != nil {
		payload["payment"] = map[string]interface{}{"entity": payment}
		contains = append(contains, "payment")
	}
	body, err := json.Marshal(map[string]interface{}{
		"entity":     "event",
		"account_id": "acc_test",
		"event":      event,
		"contains":   contains,
		"payload":    payload,
		"created_at": createdAt,
	})
	require.NoError(t, err)
	return body
}

func parseTestEvent(t *testing.T, body []byte) *Event {
	t.Helper()
	ev, err := ParseEvent(body)
	require.NoError(t, err)
	return ev
}
