package razorpay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	rzp "github.com/razorpay/razorpay-go"
)

const listPageSize = 100

// Gateway is the subset of the Razorpay API the billing service depends on.
type Gateway interface {
	CreatePlan(ctx context.Context, in PlanInput) (*Plan, error)
	FetchPlan(ctx context.Context, planID string) (*Plan, error)
	ListPlans(ctx context.Context) ([]Plan, error)
	CreateCustomer(ctx context.Context, in CustomerInput) (*Customer, error)
	FetchCustomer(ctx context.Context, customerID string) (*Customer, error)
	CreateSubscription(ctx context.Context, in SubscriptionInput) (*Subscription, error)
	FetchSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string, atCycleEnd bool) (*Subscription, error)
	PauseSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	ResumeSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	FetchPayment(ctx context.Context, paymentID string) (*Payment, error)
}

// The interfaces below match the resource types of razorpay-go so the
// client can be exercised without network access.
type planAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	Fetch(planID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	All(queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type customerAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	Fetch(customerID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type subscriptionAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	Fetch(subscriptionID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	Cancel(subscriptionID string, data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	Pause(subscriptionID string, data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	Resume(subscriptionID string, data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type paymentAPI interface {
	Fetch(paymentID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// Client implements Gateway on top of the official razorpay-go SDK.
type Client struct {
	plans         planAPI
	customers     customerAPI
	subscriptions subscriptionAPI
	payments      paymentAPI
	timeout       time.Duration
}

// NewClient creates a gateway client from credentials.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil || !cfg.IsConfigured() {
		return nil, ErrNotConfigured
	}
	sdk := rzp.NewClient(cfg.KeyID, cfg.KeySecret)
	return &Client{
		plans:         sdk.Plan,
		customers:     sdk.Customer,
		subscriptions: sdk.Subscription,
		payments:      sdk.Payment,
		timeout:       cfg.Timeout,
	}, nil
}

// NewClientFromEnv creates a gateway client from RAZORPAY_* variables.
func NewClientFromEnv() (*Client, error) {
	return NewClient(LoadConfig())
}

func (c *Client) CreatePlan(ctx context.Context, in PlanInput) (*Plan, error) {
	data := map[string]interface{}{
		"period":   in.Period,
		"interval": in.Interval,
		"item": map[string]interface{}{
			"name":        in.Name,
			"description": in.Description,
			"amount":      in.Amount,
			"currency":    in.Currency,
		},
	}
	var out Plan
	err := c.mutate(ctx, "create plan", func() (map[string]interface{}, error) {
		return c.plans.Create(data, nil)
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) FetchPlan(ctx context.Context, planID string) (*Plan, error) {
	var out Plan
	err := c.call(ctx, "fetch plan", func() (map[string]interface{}, error) {
		return c.plans.Fetch(planID, nil, nil)
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListPlans pages through every plan on the account.
func (c *Client) ListPlans(ctx context.Context) ([]Plan, error) {
	var all []Plan
	for skip := 0; ; skip += listPageSize {
		var page struct {
			Count int    `json:"count"`
			Items []Plan `json:"items"`
		}
		query := map[string]interface{}{"count": listPageSize, "skip": skip}
		err := c.call(ctx, "list plans", func() (map[string]interface{}, error) {
			return c.plans.All(query, nil)
		}, &page)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		if len(page.Items) < listPageSize {
			return all, nil
		}
	}
}

// CreateCustomer creates a customer, or returns the existing one for the
// same email/contact instead of failing.
func (c *Client) CreateCustomer(ctx context.Context, in CustomerInput) (*Customer, error) {
	data := map[string]interface{}{
		"name":          in.Name,
		"email":         in.Email,
		"fail_existing": "0",
	}
	if in.Contact != "" {
		data["contact"] = in.Contact
	}
	var out Customer
	err := c.mutate(ctx, "create customer", func() (map[string]interface{}, error) {
		return c.customers.Create(data, nil)
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) FetchCustomer(ctx context.Context, customerID string) (*Customer, error) {
	var out Customer
	err := c.call(ctx, "fetch customer", func() (map[string]interface{}, error) {
		return c.customers.Fetch(customerID, nil, nil)
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateSubscription(ctx context.Context, in SubscriptionInput) (*Subscription, error) {
	data := map[string]interface{}{
		"plan_id":         in.PlanID,
		"total_count":     in.TotalCount,
		"customer_notify": boolFlag(in.CustomerNotify),
	}
	if in.CustomerID != "" {
		data["customer_id"] = in.CustomerID
	}
	if len(in.Notes) > 0 {
		notes := make(map[string]interface{}, len(in.Notes))
		for k, v := range in.Notes {
			notes[k] = v
		}
		data["notes"] = notes
	}
	return c.subscriptionMutation(ctx, "create subscription", func() (map[string]interface{}, error) {
		return c.subscriptions.Create(data, nil)
	})
}

func (c *Client) FetchSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	return c.subscriptionCall(ctx, "fetch subscription", func() (map[string]interface{}, error) {
		return c.subscriptions.Fetch(subscriptionID, nil, nil)
	})
}

func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string, atCycleEnd bool) (*Subscription, error) {
	data := map[string]interface{}{"cancel_at_cycle_end": boolFlag(atCycleEnd)}
	return c.subscriptionMutation(ctx, "cancel subscription", func() (map[string]interface{}, error) {
		return c.subscriptions.Cancel(subscriptionID, data, nil)
	})
}

func (c *Client) PauseSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	data := map[string]interface{}{"pause_at": "now"}
	return c.subscriptionMutation(ctx, "pause subscription", func() (map[string]interface{}, error) {
		return c.subscriptions.Pause(subscriptionID, data, nil)
	})
}

func (c *Client) ResumeSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	data := map[string]interface{}{"resume_at": "now"}
	return c.subscriptionMutation(ctx, "resume subscription", func() (map[string]interface{}, error) {
		return c.subscriptions.Resume(subscriptionID, data, nil)
	})
}

func (c *Client) FetchPayment(ctx context.Context, paymentID string) (*Payment, error) {
	var out Payment
	err := c.call(ctx, "fetch payment", func() (map[string]interface{}, error) {
		return c.payments.Fetch(paymentID, nil, nil)
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) subscriptionCall(ctx context.Context, op string, fn func() (map[string]interface{}, error)) (*Subscription, error) {
	var out Subscription
	if err := c.call(ctx, op, fn, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) subscriptionMutation(ctx context.Context, op string, fn func() (map[string]interface{}, error)) (*Subscription, error) {
	var out Subscription
	if err := c.mutate(ctx, op, fn, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// mutate runs a request that changes gateway state. Once sent it is waited
// for regardless of ctx, so the caller never reports a failure for an action
// the gateway went on to apply.
func (c *Client) mutate(ctx context.Context, op string, fn func() (map[string]interface{}, error), out interface{}) error {
	if err := ctx.Err(); err != nil {
		return newGatewayError(op, err)
	}
	body, err := fn()
	if err != nil {
		return newGatewayError(op, err)
	}
	return decode(op, body, out)
}

// call runs a read-only SDK request and decodes its map response into out.
// The SDK has no context support, so cancellation only releases the caller;
// the request itself finishes in the background.
func (c *Client) call(ctx context.Context, op string, fn func() (map[string]interface{}, error), out interface{}) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return newGatewayError(op, err)
	}

	type result struct {
		body map[string]interface{}
		err  error
	}
	done := make(chan result, 1)
	go func() {
		body, err := fn()
		done <- result{body: body, err: err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return newGatewayError(op, ctx.Err())
	case res = <-done:
	}
	if res.err != nil {
		return newGatewayError(op, res.err)
	}
	return decode(op, res.body, out)
}

func decode(op string, body map[string]interface{}, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return newGatewayError(op, fmt.Errorf("encode response: %w", err))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return newGatewayError(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func boolFlag(v bool) int {
	if v {
		return 1
	}
	return 0
}
