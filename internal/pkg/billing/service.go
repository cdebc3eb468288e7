package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/NewsDesk/app/models"
	"github.com/ManuelReschke/NewsDesk/internal/pkg/razorpay"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// Service runs the subscription lifecycle: user actions against the gateway
// and reconciliation of webhook events into the local store.
type Service struct {
	repo    Repository
	gateway razorpay.Gateway
	cfg     *Config
	plans   PlanCache
	now     func() time.Time
}

// ServiceOption configures optional Service collaborators.
type ServiceOption func(*Service)

// WithPlanCache caches the active plan catalogue.
func WithPlanCache(cache PlanCache) ServiceOption {
	return func(s *Service) {
		s.plans = cache
	}
}

// WithClock overrides the wall clock used for user-action timestamps.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a billing service from an injected repository and gateway.
func NewService(repo Repository, gateway razorpay.Gateway, cfg *Config, opts ...ServiceOption) *Service {
	if cfg == nil {
		cfg = &Config{DefaultTotalCount: 12}
	}
	s := &Service{
		repo:    repo,
		gateway: gateway,
		cfg:     cfg,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, gateway razorpay.Gateway, cfg *Config, opts ...ServiceOption) *Service {
	return NewService(NewRepository(db), gateway, cfg, opts...)
}

// Repository exposes the store, for collaborators such as the dispatcher's
// event log and the retention sweeper.
func (s *Service) Repository() Repository {
	return s.repo
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// CreateSubscription starts a gateway subscription for a user and stores it.
// A second open subscription for the same plan is refused before the
// gateway is contacted.
func (s *Service) CreateSubscription(ctx context.Context, in CreateSubscriptionInput) (*models.Subscription, error) {
	in.PlanID = strings.TrimSpace(in.PlanID)
	in.Email = strings.TrimSpace(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	if err := validateInput(in); err != nil {
		return nil, err
	}

	open, err := s.repo.FindOpenSubscription(ctx, in.UserID, in.PlanID)
	if err == nil {
		return nil, &ConflictError{UserID: in.UserID, PlanID: in.PlanID, SubscriptionID: open.SubscriptionID}
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("lookup open subscription: %w", err)
	}

	plan, err := s.ensurePlan(ctx, in.PlanID)
	if err != nil {
		return nil, err
	}

	totalCount := in.TotalCount
	if totalCount <= 0 {
		totalCount = s.cfg.DefaultTotalCount
	}
	if limit := MaxTotalCount(plan.Period, plan.Interval); limit > 0 && totalCount > limit {
		return nil, &ValidationError{
			Message: "invalid input",
			Fields: []FieldError{{
				Field:   "total_count",
				Message: fmt.Sprintf("must be at most %d for a %s plan with interval %d", limit, plan.Period, plan.Interval),
			}},
		}
	}

	customerID, err := s.ensureCustomer(ctx, in)
	if err != nil {
		return nil, err
	}

	remote, err := s.gateway.CreateSubscription(ctx, razorpay.SubscriptionInput{
		PlanID:         plan.PlanID,
		CustomerID:     customerID,
		TotalCount:     totalCount,
		CustomerNotify: true,
		Notes: map[string]string{
			"user_id": strconv.FormatUint(uint64(in.UserID), 10),
			"plan_id": plan.PlanID,
		},
	})
	if err != nil {
		return nil, err
	}

	status := StatusCreated
	if strings.TrimSpace(remote.Status) != "" {
		status, err = ParseStatus(remote.Status)
		if err != nil {
			log.Errorf("[Billing] Gateway subscription %s created with unrecognised status: %v", remote.ID, err)
			return nil, fmt.Errorf("create subscription %s: %w", remote.ID, err)
		}
	}

	if remote.TotalCount > 0 {
		totalCount = remote.TotalCount
	}
	if remote.CustomerID != "" {
		customerID = remote.CustomerID
	}
	sub := &models.Subscription{
		SubscriptionID: remote.ID,
		UserID:         in.UserID,
		PlanID:         plan.PlanID,
		CustomerID:     customerID,
		Status:         status,
		ShortURL:       remote.ShortURL,
		TotalCount:     totalCount,
		PaidCount:      remote.PaidCount,
		StartAt:        razorpay.UnixTime(remote.StartAt),
		EndAt:          razorpay.UnixTime(remote.EndAt),
		CurrentStart:   razorpay.UnixTime(remote.CurrentStart),
		CurrentEnd:     razorpay.UnixTime(remote.CurrentEnd),
		ChargeAt:       razorpay.UnixTime(remote.ChargeAt),
	}
	if err := s.repo.CreateSubscription(ctx, sub); err != nil {
		log.Errorf("[Billing] Failed to store gateway subscription %s for user %d: %v", remote.ID, in.UserID, err)
		return nil, fmt.Errorf("store subscription: %w", err)
	}

	log.Infof("[Billing] Created subscription %s for user %d on plan %s (%s)", sub.SubscriptionID, sub.UserID, sub.PlanID, sub.Status)
	return sub, nil
}

// ensurePlan returns the local plan, importing it from the gateway on first use.
func (s *Service) ensurePlan(ctx context.Context, planID string) (*models.Plan, error) {
	plan, err := s.repo.GetPlan(ctx, planID)
	if err == nil {
		if !plan.IsActive {
			return nil, &NotFoundError{Resource: "plan", ID: planID}
		}
		return plan, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load plan: %w", err)
	}

	remote, err := s.gateway.FetchPlan(ctx, planID)
	if err != nil {
		log.Warnf("[Billing] Plan %s unknown locally and not fetchable: %v", planID, err)
		return nil, err
	}
	plan = planFromGateway(remote)
	if err := s.repo.UpsertPlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("store plan: %w", err)
	}
	s.invalidatePlans(ctx)
	return plan, nil
}

// ensureCustomer reuses the customer linked to the user or creates one.
func (s *Service) ensureCustomer(ctx context.Context, in CreateSubscriptionInput) (string, error) {
	account, err := s.repo.GetBillingAccount(ctx, in.UserID, models.BillingProviderRazorpay)
	if err == nil && account.CustomerID != "" {
		return account.CustomerID, nil
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("load billing account: %w", err)
	}

	name := in.Name
	if name == "" {
		name = in.Email
	}
	customer, err := s.gateway.CreateCustomer(ctx, razorpay.CustomerInput{
		Name:    name,
		Email:   in.Email,
		Contact: in.Contact,
	})
	if err != nil {
		return "", err
	}

	if err := s.repo.UpsertBillingAccount(ctx, &models.BillingAccount{
		UserID:     in.UserID,
		Provider:   models.BillingProviderRazorpay,
		CustomerID: customer.ID,
		Email:      in.Email,
	}); err != nil {
		// The customer exists at the gateway; the next create will look it
		// up again with fail_existing=0.
		log.Warnf("[Billing] Failed to link customer %s to user %d: %v", customer.ID, in.UserID, err)
	}
	return customer.ID, nil
}

// GetSubscription returns a subscription owned by userID.
func (s *Service) GetSubscription(ctx context.Context, userID uint, subscriptionID string) (*models.Subscription, error) {
	sub, err := s.repo.GetSubscriptionForUser(ctx, strings.TrimSpace(subscriptionID), userID)
	if err != nil {
		return nil, notFoundOr(err, "subscription", subscriptionID)
	}
	return sub, nil
}

// ListSubscriptions returns every subscription of a user, newest first.
func (s *Service) ListSubscriptions(ctx context.Context, userID uint) ([]models.Subscription, error) {
	subs, err := s.repo.ListSubscriptionsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	if subs == nil {
		subs = []models.Subscription{}
	}
	return subs, nil
}

// CancelSubscription cancels immediately, or at the end of the current
// billing cycle when atCycleEnd is set.
func (s *Service) CancelSubscription(ctx context.Context, userID uint, subscriptionID string, atCycleEnd bool) (*models.Subscription, error) {
	return s.runAction(ctx, userID, subscriptionID, ActionCancel,
		func(ctx context.Context, id string) (*razorpay.Subscription, error) {
			return s.gateway.CancelSubscription(ctx, id, atCycleEnd)
		},
		func(remote *razorpay.Subscription, now time.Time) SubscriptionPatch {
			p := cyclePatch(remote)
			p.CancelAtCycleEnd = &atCycleEnd
			if atCycleEnd {
				p.Status = statusPtr(StatusPendingCancellation)
			} else {
				p.Status = statusPtr(StatusCancelled)
				p.CancelledAt = &now
				if end := razorpay.UnixTime(remote.EndedAt); end != nil {
					p.EndAt = end
				}
			}
			return p
		})
}

// PauseSubscription pauses an active subscription.
func (s *Service) PauseSubscription(ctx context.Context, userID uint, subscriptionID string) (*models.Subscription, error) {
	return s.runAction(ctx, userID, subscriptionID, ActionPause,
		s.gateway.PauseSubscription,
		func(remote *razorpay.Subscription, now time.Time) SubscriptionPatch {
			p := cyclePatch(remote)
			p.Status = statusPtr(StatusPaused)
			p.PausedAt = &now
			return p
		})
}

// ResumeSubscription resumes a paused subscription.
func (s *Service) ResumeSubscription(ctx context.Context, userID uint, subscriptionID string) (*models.Subscription, error) {
	return s.runAction(ctx, userID, subscriptionID, ActionResume,
		s.gateway.ResumeSubscription,
		func(remote *razorpay.Subscription, now time.Time) SubscriptionPatch {
			p := cyclePatch(remote)
			p.Status = statusPtr(StatusActive)
			p.ResumedAt = &now
			return p
		})
}

type gatewayAction func(ctx context.Context, subscriptionID string) (*razorpay.Subscription, error)

type patchBuilder func(remote *razorpay.Subscription, now time.Time) SubscriptionPatch

// runAction checks ownership and the allowed source status, calls the
// gateway and persists the result. The status check is repeated inside the
// UPDATE so a concurrent webhook cannot be overwritten.
func (s *Service) runAction(ctx context.Context, userID uint, subscriptionID string, action Action, call gatewayAction, build patchBuilder) (*models.Subscription, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return nil, &ValidationError{
			Message: "subscription id is required",
			Fields:  []FieldError{{Field: "id", Message: "is required"}},
		}
	}

	sub, err := s.repo.GetSubscriptionForUser(ctx, subscriptionID, userID)
	if err != nil {
		return nil, notFoundOr(err, "subscription", subscriptionID)
	}
	if !CanApply(action, sub.Status) {
		return nil, &InvalidStateTransitionError{Current: sub.Status, Action: action}
	}

	remote, err := call(ctx, subscriptionID)
	if err != nil {
		log.Errorf("[Billing] Gateway %s failed for subscription %s: %v", action, subscriptionID, err)
		return nil, err
	}

	patch := build(remote, s.clock())
	patch.RequireStatus = allowedFrom[action]
	applied, err := s.repo.ApplySubscriptionPatch(ctx, subscriptionID, patch)
	if err != nil {
		return nil, fmt.Errorf("update subscription: %w", err)
	}

	updated, err := s.repo.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("reload subscription: %w", err)
	}
	if !applied {
		log.Warnf("[Billing] Subscription %s changed to %s while %s was in flight; kept the newer status", subscriptionID, updated.Status, action)
	} else {
		log.Infof("[Billing] Subscription %s %s by user %d, now %s", subscriptionID, action, userID, updated.Status)
	}
	return updated, nil
}

// VerifyPayment confirms the checkout callback for a subscription's first
// payment. A signature mismatch marks the record failed before the error
// is returned, but only while checkout is still open; an anonymous caller
// cannot downgrade a subscription that already activated.
func (s *Service) VerifyPayment(ctx context.Context, in VerifyPaymentInput) (*models.Subscription, error) {
	in.PaymentID = strings.TrimSpace(in.PaymentID)
	in.SubscriptionID = strings.TrimSpace(in.SubscriptionID)
	in.Signature = strings.TrimSpace(in.Signature)
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if s.cfg.KeySecret == "" {
		return nil, ErrNotConfigured
	}

	if _, err := s.repo.GetSubscription(ctx, in.SubscriptionID); err != nil {
		return nil, notFoundOr(err, "subscription", in.SubscriptionID)
	}

	if !VerifyPaymentSignature(in.PaymentID, in.SubscriptionID, in.Signature, s.cfg.KeySecret) {
		now := s.clock()
		reason := (&SignatureError{}).Error()
		applied, err := s.repo.ApplySubscriptionPatch(ctx, in.SubscriptionID, SubscriptionPatch{
			Status:              statusPtr(StatusFailed),
			FailureReason:       &reason,
			LastFailedPaymentID: &in.PaymentID,
			LastFailedAt:        &now,
			RequireStatus:       checkoutStatuses,
		})
		if err != nil {
			log.Errorf("[Billing] Failed to mark subscription %s failed: %v", in.SubscriptionID, err)
		} else if !applied {
			log.Warnf("[Billing] Subscription %s is past checkout, kept its status", in.SubscriptionID)
		}
		log.Warnf("[Billing] Payment signature mismatch for subscription %s, payment %s", in.SubscriptionID, in.PaymentID)
		return nil, &SignatureError{SubscriptionID: in.SubscriptionID}
	}

	remote, err := s.gateway.FetchSubscription(ctx, in.SubscriptionID)
	if err != nil {
		return nil, err
	}
	payment, err := s.gateway.FetchPayment(ctx, in.PaymentID)
	if err != nil {
		return nil, err
	}

	patch, err := entityPatch(remote)
	if err != nil {
		return nil, err
	}
	patch.LastPaymentID = &payment.ID
	if payment.CreatedAt > 0 {
		patch.LastChargedAt = razorpay.UnixTime(&payment.CreatedAt)
	}
	if *patch.Status == StatusActive {
		now := s.clock()
		patch.ActivatedAt = &now
	}
	if _, err := s.repo.ApplySubscriptionPatch(ctx, in.SubscriptionID, patch); err != nil {
		return nil, fmt.Errorf("update subscription: %w", err)
	}

	updated, err := s.repo.GetSubscription(ctx, in.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("reload subscription: %w", err)
	}
	log.Infof("[Billing] Verified payment %s for subscription %s, now %s", in.PaymentID, in.SubscriptionID, updated.Status)
	return updated, nil
}

// ResyncSubscription overwrites the local status, counters and cycle from
// the gateway. Terminal records only accept a repeat of their status.
func (s *Service) ResyncSubscription(ctx context.Context, subscriptionID string) (*models.Subscription, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if _, err := s.repo.GetSubscription(ctx, subscriptionID); err != nil {
		return nil, notFoundOr(err, "subscription", subscriptionID)
	}

	remote, err := s.gateway.FetchSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	patch, err := entityPatch(remote)
	if err != nil {
		return nil, err
	}
	applied, err := s.repo.ApplySubscriptionPatch(ctx, subscriptionID, patch)
	if err != nil {
		return nil, fmt.Errorf("update subscription: %w", err)
	}

	updated, err := s.repo.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("reload subscription: %w", err)
	}
	if !applied && IsTerminal(updated.Status) && updated.Status != *patch.Status {
		log.Warnf("[Billing] Resync of %s skipped: local status %s is terminal, gateway reports %s", subscriptionID, updated.Status, *patch.Status)
	}
	return updated, nil
}

// ResyncFailedEvents reconciles subscriptions whose webhook handler failed.
// It returns the number of events resolved.
func (s *Service) ResyncFailedEvents(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 50
	}
	events, err := s.repo.ListFailedWebhookEvents(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list failed webhook events: %w", err)
	}

	resolved := 0
	for _, ev := range events {
		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}
		_, err := s.ResyncSubscription(ctx, ev.SubscriptionID)
		if err != nil && !IsNotFound(err) {
			log.Warnf("[Billing] Resync for webhook event %s (%s) failed: %v", ev.ProviderEventID, ev.SubscriptionID, err)
			continue
		}
		if err := s.repo.MarkWebhookResynced(ctx, ev.ID); err != nil {
			log.Errorf("[Billing] Failed to mark webhook event %d resynced: %v", ev.ID, err)
			continue
		}
		resolved++
	}
	return resolved, nil
}

// ListPlans returns the active plan catalogue, from cache when possible.
func (s *Service) ListPlans(ctx context.Context) ([]models.Plan, error) {
	if s.plans != nil {
		plans, ok, err := s.plans.Get(ctx)
		if err != nil {
			log.Warnf("[Billing] Plan cache read failed: %v", err)
		} else if ok {
			return plans, nil
		}
	}

	plans, err := s.repo.ListActivePlans(ctx)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	if plans == nil {
		plans = []models.Plan{}
	}
	if s.plans != nil {
		if err := s.plans.Set(ctx, plans); err != nil {
			log.Warnf("[Billing] Plan cache write failed: %v", err)
		}
	}
	return plans, nil
}

// CreatePlan creates a plan at the gateway and stores it locally.
func (s *Service) CreatePlan(ctx context.Context, in CreatePlanInput) (*models.Plan, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	in.Period = strings.ToLower(strings.TrimSpace(in.Period))
	if in.Currency == "" {
		in.Currency = "INR"
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}

	remote, err := s.gateway.CreatePlan(ctx, razorpay.PlanInput{
		Period:      in.Period,
		Interval:    in.Interval,
		Name:        in.Name,
		Description: in.Description,
		Amount:      in.Amount,
		Currency:    in.Currency,
	})
	if err != nil {
		return nil, err
	}

	plan := planFromGateway(remote)
	if err := s.repo.UpsertPlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("store plan: %w", err)
	}
	s.invalidatePlans(ctx)
	log.Infof("[Billing] Created plan %s (%s, %d %s)", plan.PlanID, plan.Name, plan.Amount, plan.Currency)
	return plan, nil
}

// SyncPlans imports every gateway plan into the local catalogue. Local
// IsActive flags are preserved.
func (s *Service) SyncPlans(ctx context.Context) (int, error) {
	remote, err := s.gateway.ListPlans(ctx)
	if err != nil {
		return 0, err
	}
	synced := 0
	for i := range remote {
		if err := s.repo.UpsertPlan(ctx, planFromGateway(&remote[i])); err != nil {
			return synced, fmt.Errorf("store plan %s: %w", remote[i].ID, err)
		}
		synced++
	}
	s.invalidatePlans(ctx)
	return synced, nil
}

// DeactivatePlan hides a plan from the catalogue and from new subscriptions.
func (s *Service) DeactivatePlan(ctx context.Context, planID string) error {
	planID = strings.TrimSpace(planID)
	ok, err := s.repo.SetPlanActive(ctx, planID, false)
	if err != nil {
		return fmt.Errorf("deactivate plan: %w", err)
	}
	if !ok {
		if _, err := s.repo.GetPlan(ctx, planID); err != nil {
			return notFoundOr(err, "plan", planID)
		}
	}
	s.invalidatePlans(ctx)
	return nil
}

func (s *Service) invalidatePlans(ctx context.Context) {
	if s.plans == nil {
		return
	}
	if err := s.plans.Invalidate(ctx); err != nil {
		log.Warnf("[Billing] Plan cache invalidation failed: %v", err)
	}
}

func planFromGateway(p *razorpay.Plan) *models.Plan {
	currency := p.Item.Currency
	if currency == "" {
		currency = "INR"
	}
	interval := p.Interval
	if interval <= 0 {
		interval = 1
	}
	return &models.Plan{
		PlanID:      p.ID,
		Name:        p.Item.Name,
		Description: p.Item.Description,
		Amount:      p.Item.Amount,
		Currency:    currency,
		Period:      p.Period,
		Interval:    interval,
		IsActive:    true,
	}
}

// cyclePatch copies the billing cycle of a gateway entity, skipping values
// the gateway left empty.
func cyclePatch(remote *razorpay.Subscription) SubscriptionPatch {
	var p SubscriptionPatch
	if remote == nil {
		return p
	}
	p.StartAt = razorpay.UnixTime(remote.StartAt)
	p.EndAt = razorpay.UnixTime(remote.EndAt)
	p.CurrentStart = razorpay.UnixTime(remote.CurrentStart)
	p.CurrentEnd = razorpay.UnixTime(remote.CurrentEnd)
	p.ChargeAt = razorpay.UnixTime(remote.ChargeAt)
	return p
}

// countsPatch assigns the counters of one payload. total_count is absent
// for open-ended subscriptions, in which case the stored total is kept.
func countsPatch(p *SubscriptionPatch, remote *razorpay.Subscription) {
	paid := remote.PaidCount
	p.PaidCount = &paid
	if remote.TotalCount > 0 {
		total := remote.TotalCount
		p.TotalCount = &total
	}
}

// entityPatch mirrors a gateway entity: status, counters and cycle.
func entityPatch(remote *razorpay.Subscription) (SubscriptionPatch, error) {
	status, err := ParseStatus(remote.Status)
	if err != nil {
		return SubscriptionPatch{}, fmt.Errorf("subscription %s: %w", remote.ID, err)
	}
	p := cyclePatch(remote)
	p.Status = &status
	countsPatch(&p, remote)
	if remote.CustomerID != "" {
		p.CustomerID = &remote.CustomerID
	}
	return p, nil
}

func statusPtr(s Status) *Status {
	return &s
}

// notFoundOr maps gorm.ErrRecordNotFound onto NotFoundError and wraps
// anything else.
func notFoundOr(err error, resource, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &NotFoundError{Resource: resource, ID: id}
	}
	return fmt.Errorf("load %s: %w", resource, err)
}
