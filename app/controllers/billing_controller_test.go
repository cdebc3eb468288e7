package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/NewsDesk/app/models"
	"github.com/ManuelReschke/NewsDesk/internal/pkg/billing"
	"github.com/ManuelReschke/NewsDesk/internal/pkg/middleware"
	"github.com/ManuelReschke/NewsDesk/internal/pkg/razorpay"
	"github.com/ManuelReschke/NewsDesk/internal/pkg/usercontext"
)

const (
	testJWTSecret     = "jwt_test_secret"
	testKeySecret     = "key_secret_test"
	testWebhookSecret = "whsec_test"
)

type stubGateway struct {
	mu    sync.Mutex
	calls int
	subs  map[string]*razorpay.Subscription
	err   error
}

func (g *stubGateway) hit(op string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return &razorpay.GatewayError{Op: op, Message: g.err.Error(), Err: g.err}
	}
	return nil
}

func (g *stubGateway) CreatePlan(_ context.Context, in razorpay.PlanInput) (*razorpay.Plan, error) {
	if err := g.hit("create plan"); err != nil {
		return nil, err
	}
	return &razorpay.Plan{ID: "plan_created", Period: in.Period, Interval: in.Interval,
		Item: razorpay.PlanItem{Name: in.Name, Amount: in.Amount, Currency: in.Currency}}, nil
}

func (g *stubGateway) FetchPlan(_ context.Context, planID string) (*razorpay.Plan, error) {
	if err := g.hit("fetch plan"); err != nil {
		return nil, err
	}
	return &razorpay.Plan{ID: planID, Period: "monthly", Interval: 1,
		Item: razorpay.PlanItem{Name: "Digital", Amount: 19900, Currency: "INR"}}, nil
}

func (g *stubGateway) ListPlans(_ context.Context) ([]razorpay.Plan, error) {
	if err := g.hit("list plans"); err != nil {
		return nil, err
	}
	return nil, nil
}

func (g *stubGateway) CreateCustomer(_ context.Context, in razorpay.CustomerInput) (*razorpay.Customer, error) {
	if err := g.hit("create customer"); err != nil {
		return nil, err
	}
	return &razorpay.Customer{ID: "cust_1", Email: in.Email}, nil
}

func (g *stubGateway) FetchCustomer(_ context.Context, id string) (*razorpay.Customer, error) {
	if err := g.hit("fetch customer"); err != nil {
		return nil, err
	}
	return &razorpay.Customer{ID: id}, nil
}

func (g *stubGateway) CreateSubscription(_ context.Context, in razorpay.SubscriptionInput) (*razorpay.Subscription, error) {
	if err := g.hit("create subscription"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	id := fmt.Sprintf("sub_%d", len(g.subs)+1)
	sub := &razorpay.Subscription{ID: id, PlanID: in.PlanID, CustomerID: in.CustomerID, Status: "created",
		TotalCount: in.TotalCount, ShortURL: "https://rzp.io/i/" + id}
	g.subs[id] = sub
	cp := *sub
	return &cp, nil
}

func (g *stubGateway) FetchSubscription(_ context.Context, id string) (*razorpay.Subscription, error) {
	if err := g.hit("fetch subscription"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	sub, ok := g.subs[id]
	if !ok {
		return nil, &razorpay.GatewayError{Op: "fetch subscription", Message: "The id provided does not exist"}
	}
	cp := *sub
	return &cp, nil
}

func (g *stubGateway) setStatus(op, id, status string) (*razorpay.Subscription, error) {
	if err := g.hit(op); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	sub, ok := g.subs[id]
	if !ok {
		sub = &razorpay.Subscription{ID: id}
		g.subs[id] = sub
	}
	sub.Status = status
	cp := *sub
	return &cp, nil
}

func (g *stubGateway) CancelSubscription(_ context.Context, id string, atCycleEnd bool) (*razorpay.Subscription, error) {
	if atCycleEnd {
		return g.setStatus("cancel subscription", id, "active")
	}
	return g.setStatus("cancel subscription", id, "cancelled")
}

func (g *stubGateway) PauseSubscription(_ context.Context, id string) (*razorpay.Subscription, error) {
	return g.setStatus("pause subscription", id, "paused")
}

func (g *stubGateway) ResumeSubscription(_ context.Context, id string) (*razorpay.Subscription, error) {
	return g.setStatus("resume subscription", id, "active")
}

func (g *stubGateway) FetchPayment(_ context.Context, id string) (*razorpay.Payment, error) {
	if err := g.hit("fetch payment"); err != nil {
		return nil, err
	}
	return &razorpay.Payment{ID: id, Status: "captured", CreatedAt: 1740823200}, nil
}

type testEnv struct {
	app *fiber.App
	db  *gorm.DB
	gw  *stubGateway
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.Subscription{}, &models.Plan{}, &models.BillingAccount{}, &models.BillingWebhookEvent{}))

	gw := &stubGateway{subs: map[string]*razorpay.Subscription{}}
	svc := billing.NewServiceFromDB(db, gw, &billing.Config{
		KeySecret:         testKeySecret,
		WebhookSecret:     testWebhookSecret,
		DefaultTotalCount: 12,
		RetentionAge:      24 * time.Hour,
	})
	dispatcher := billing.NewDispatcher(testWebhookSecret, svc.WebhookHandlers(), billing.WithEventStore(svc.Repository()))
	bc := NewBillingController(svc, dispatcher)

	app := fiber.New()
	auth := middleware.RequireAuth([]byte(testJWTSecret))
	app.Get("/plans", bc.HandleListPlans)
	app.Post("/webhooks/razorpay", bc.HandleRazorpayWebhook)
	subs := app.Group("/subscriptions")
	subs.Post("/verify", bc.HandleVerifyPayment)
	subs.Post("/create", auth, bc.HandleCreateSubscription)
	subs.Get("/user/all", auth, bc.HandleListSubscriptions)
	subs.Get("/:id", auth, bc.HandleGetSubscription)
	subs.Post("/:id/cancel", auth, bc.HandleCancelSubscription)
	subs.Post("/:id/pause", auth, bc.HandlePauseSubscription)
	subs.Post("/:id/resume", auth, bc.HandleResumeSubscription)
	admin := app.Group("/admin", auth, middleware.RequireAdmin)
	admin.Post("/plans", bc.HandleAdminCreatePlan)
	admin.Delete("/plans/:id", bc.HandleAdminDeactivatePlan)
	admin.Post("/subscriptions/:id/resync", bc.HandleAdminResyncSubscription)

	return &testEnv{app: app, db: db, gw: gw}
}

func token(t *testing.T, userID uint, admin bool) string {
	t.Helper()
	tok, err := middleware.SignToken([]byte(testJWTSecret), usercontext.UserContext{
		UserID: userID, Email: fmt.Sprintf("user%d@example.com", userID), Name: "Reader", IsAdmin: admin,
	}, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, tok string, body []byte, headers map[string]string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if tok != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+tok)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func (e *testEnv) create(t *testing.T, userID uint) string {
	t.Helper()
	status, body := e.do(t, http.MethodPost, "/subscriptions/create", token(t, userID, false), []byte(`{"plan_id":"plan_basic"}`), nil)
	require.Equal(t, fiber.StatusCreated, status, body)
	sub := body["subscription"].(map[string]interface{})
	return sub["subscription_id"].(string)
}

func TestCreateSubscriptionRoute(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodPost, "/subscriptions/create", token(t, 1, false), []byte(`{"plan_id":"plan_basic"}`), nil)
	require.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, "https://rzp.io/i/sub_1", body["short_url"])
	sub := body["subscription"].(map[string]interface{})
	assert.Equal(t, "created", sub["status"])
	assert.Equal(t, float64(12), sub["remaining_count"])

	calls := env.gw.calls
	status, body = env.do(t, http.MethodPost, "/subscriptions/create", token(t, 1, false), []byte(`{"plan_id":"plan_basic"}`), nil)
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "conflict", body["error"])
	assert.Equal(t, calls, env.gw.calls)
}

func TestCreateSubscriptionRequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodPost, "/subscriptions/create", "", []byte(`{"plan_id":"plan_basic"}`), nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", body["error"])
	assert.Zero(t, env.gw.calls)
}

func TestCreateSubscriptionValidation(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodPost, "/subscriptions/create", token(t, 1, false), []byte(`{}`), nil)
	require.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "validation_error", body["error"])
	details := body["details"].([]interface{})
	require.NotEmpty(t, details)
	assert.Equal(t, "plan_id", details[0].(map[string]interface{})["field"])

	status, body = env.do(t, http.MethodPost, "/subscriptions/create", token(t, 1, false), []byte(`{not json`), nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "validation_error", body["error"])
}

func TestGatewayFailureMapsToBadGateway(t *testing.T) {
	env := newTestEnv(t)
	env.gw.err = errors.New("Authentication failed")

	status, body := env.do(t, http.MethodPost, "/subscriptions/create", token(t, 1, false), []byte(`{"plan_id":"plan_basic"}`), nil)
	assert.Equal(t, fiber.StatusBadGateway, status)
	assert.Equal(t, "gateway_error", body["error"])
	assert.Equal(t, "Authentication failed", body["message"])
}

func TestSubscriptionActions(t *testing.T) {
	env := newTestEnv(t)
	id := env.create(t, 1)
	tok := token(t, 1, false)

	status, body := env.do(t, http.MethodPost, "/subscriptions/"+id+"/pause", tok, nil, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "invalid_state_transition", body["error"])

	require.NoError(t, env.db.Model(&models.Subscription{}).Where("subscription_id = ?", id).
		Update("status", models.SubscriptionStatusActive).Error)

	status, body = env.do(t, http.MethodPost, "/subscriptions/"+id+"/pause", tok, nil, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "paused", body["subscription"].(map[string]interface{})["status"])

	status, body = env.do(t, http.MethodPost, "/subscriptions/"+id+"/resume", tok, nil, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "active", body["subscription"].(map[string]interface{})["status"])

	status, body = env.do(t, http.MethodPost, "/subscriptions/"+id+"/cancel", tok, []byte(`{"cancel_at_cycle_end":false}`), nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "cancelled", body["subscription"].(map[string]interface{})["status"])
}

func TestOtherUsersSubscriptionIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	id := env.create(t, 1)

	status, body := env.do(t, http.MethodGet, "/subscriptions/"+id, token(t, 2, false), nil, nil)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "not_found", body["error"])

	status, _ = env.do(t, http.MethodGet, "/subscriptions/"+id, token(t, 1, false), nil, nil)
	assert.Equal(t, fiber.StatusOK, status)

	status, body = env.do(t, http.MethodGet, "/subscriptions/user/all", token(t, 2, false), nil, nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(0), body["count"])
}

func TestVerifyPaymentRoute(t *testing.T) {
	env := newTestEnv(t)
	id := env.create(t, 1)

	bad, _ := json.Marshal(billing.VerifyPaymentInput{PaymentID: "pay_1", SubscriptionID: id, Signature: "deadbeef"})
	status, body := env.do(t, http.MethodPost, "/subscriptions/verify", "", bad, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "invalid_signature", body["error"])

	var stored models.Subscription
	require.NoError(t, env.db.Where("subscription_id = ?", id).First(&stored).Error)
	assert.Equal(t, models.SubscriptionStatusFailed, stored.Status)
	assert.Equal(t, "Invalid signature", stored.FailureReason)

	env.gw.subs[id].Status = "active"
	env.gw.subs[id].PaidCount = 1
	sig := billing.Sign([]byte("pay_2|"+id), testKeySecret)
	good, _ := json.Marshal(billing.VerifyPaymentInput{PaymentID: "pay_2", SubscriptionID: id, Signature: sig})
	status, body = env.do(t, http.MethodPost, "/subscriptions/verify", "", good, nil)
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, true, body["verified"])
	sub := body["subscription"].(map[string]interface{})
	assert.Equal(t, "active", sub["status"])
	assert.Equal(t, "pay_2", sub["last_payment_id"])
}

func TestWebhookRouteAlwaysAcknowledges(t *testing.T) {
	env := newTestEnv(t)
	id := env.create(t, 1)

	payload, err := json.Marshal(map[string]interface{}{
		"entity":     "event",
		"event":      "subscription.charged",
		"created_at": 1740823200,
		"payload": map[string]interface{}{
			"subscription": map[string]interface{}{"entity": map[string]interface{}{
				"id": id, "status": "active", "total_count": 12, "paid_count": 2,
			}},
			"payment": map[string]interface{}{"entity": map[string]interface{}{
				"id": "pay_9", "created_at": 1740823100,
			}},
		},
	})
	require.NoError(t, err)
	sig := billing.Sign(payload, testWebhookSecret)

	tampered := bytes.Replace(payload, []byte(`"paid_count":2`), []byte(`"paid_count":9`), 1)
	require.NotEqual(t, payload, tampered)
	status, body := env.do(t, http.MethodPost, "/webhooks/razorpay", "", tampered, map[string]string{HeaderRazorpaySignature: sig})
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["received"])

	var stored models.Subscription
	require.NoError(t, env.db.Where("subscription_id = ?", id).First(&stored).Error)
	assert.Equal(t, models.SubscriptionStatusCreated, stored.Status)
	assert.Equal(t, 0, stored.PaidCount)

	status, _ = env.do(t, http.MethodPost, "/webhooks/razorpay", "", payload, nil)
	assert.Equal(t, fiber.StatusOK, status)

	status, _ = env.do(t, http.MethodPost, "/webhooks/razorpay", "", payload, map[string]string{
		HeaderRazorpaySignature: sig,
		HeaderRazorpayEventID:   "evt_1",
	})
	assert.Equal(t, fiber.StatusOK, status)

	require.NoError(t, env.db.Where("subscription_id = ?", id).First(&stored).Error)
	assert.Equal(t, models.SubscriptionStatusActive, stored.Status)
	assert.Equal(t, 2, stored.PaidCount)
	assert.Equal(t, 10, stored.RemainingCount)
	assert.Equal(t, "pay_9", stored.LastPaymentID)
}

func TestAdminRoutes(t *testing.T) {
	env := newTestEnv(t)

	status, _ := env.do(t, http.MethodPost, "/admin/plans", token(t, 1, false), []byte(`{}`), nil)
	assert.Equal(t, fiber.StatusForbidden, status)

	plan := []byte(`{"name":"Digital","amount":19900,"period":"monthly","interval":1}`)
	status, body := env.do(t, http.MethodPost, "/admin/plans", token(t, 9, true), plan, nil)
	require.Equal(t, fiber.StatusCreated, status, body)
	assert.Equal(t, "plan_created", body["plan"].(map[string]interface{})["plan_id"])

	status, body = env.do(t, http.MethodGet, "/plans", "", nil, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["plans"], 1)

	status, _ = env.do(t, http.MethodDelete, "/admin/plans/plan_created", token(t, 9, true), nil, nil)
	assert.Equal(t, fiber.StatusNoContent, status)

	status, body = env.do(t, http.MethodGet, "/plans", "", nil, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["plans"], 0)

	status, _ = env.do(t, http.MethodDelete, "/admin/plans/plan_unknown", token(t, 9, true), nil, nil)
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestAdminResync(t *testing.T) {
	env := newTestEnv(t)
	id := env.create(t, 1)
	env.gw.subs[id].Status = "halted"

	status, body := env.do(t, http.MethodPost, "/admin/subscriptions/"+id+"/resync", token(t, 9, true), nil, nil)
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, "halted", body["subscription"].(map[string]interface{})["status"])
}
