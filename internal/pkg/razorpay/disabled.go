package razorpay

import "context"

// Disabled returns a Gateway whose calls all fail with ErrNotConfigured.
// It lets the server start without credentials; webhook reconciliation does
// not call the gateway and keeps working.
func Disabled() Gateway {
	return disabledGateway{}
}

type disabledGateway struct{}

func (disabledGateway) CreatePlan(context.Context, PlanInput) (*Plan, error) {
	return nil, ErrNotConfigured
}

func (disabledGateway) FetchPlan(context.Context, string) (*Plan, error) {
	return nil, ErrNotConfigured
}

func (disabledGateway) ListPlans(context.Context) ([]Plan, error) {
	return nil, ErrNotConfigured
}

func (disabledGateway) CreateCustomer(context.Context, CustomerInput) (*Customer, error) {
	return nil, ErrNotConfigured
}

func (disabledGateway) FetchCustomer(context.Context, string) (*Customer, error) {
	return nil, ErrNotConfigured
}

func (disabledGateway) CreateSubscription(context.Context, SubscriptionInput) (*Subscription, error) {
	return nil, ErrNotConfigured
}

func (disabledGateway) FetchSubscription(context.Context, string) (*Subscription, error) {
	return nil, ErrNotConfigured
}

func (disabledGateway) CancelSubscription(context.Context, string, bool) (*Subscription, error) {
	return nil, ErrNotConfigured
}

func (disabledGateway) PauseSubscription(context.Context, string) (*Subscription, error) {
	return nil, ErrNotConfigured
}

func (disabledGateway) ResumeSubscription(context.Context, string) (*Subscription, error) {
	return nil, ErrNotConfigured
}

func (disabledGateway) FetchPayment(context.Context, string) (*Payment, error) {
	return nil, ErrNotConfigured
}
