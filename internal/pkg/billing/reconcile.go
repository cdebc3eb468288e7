package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/NewsDesk/internal/pkg/razorpay"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// Webhook event names handled by the service.
const (
	EventSubscriptionAuthenticated = "subscription.authenticated"
	EventSubscriptionActivated     = "subscription.activated"
	EventSubscriptionCharged       = "subscription.charged"
	EventSubscriptionCompleted     = "subscription.completed"
	EventSubscriptionCancelled     = "subscription.cancelled"
	EventSubscriptionPaused        = "subscription.paused"
	EventSubscriptionResumed       = "subscription.resumed"
	EventSubscriptionPending       = "subscription.pending"
	EventSubscriptionHalted        = "subscription.halted"
	EventPaymentFailed             = "payment.failed"
)

// Handler reconciles one verified webhook event into the store.
type Handler func(ctx context.Context, ev *Event) error

// ErrMissingSubscriptionID is returned for events that name no subscription.
var ErrMissingSubscriptionID = errors.New("event carries no subscription id")

// WebhookHandlers builds the event name to handler mapping used by the
// dispatcher. Each call returns a fresh map.
func (s *Service) WebhookHandlers() map[string]Handler {
	return map[string]Handler{
		EventSubscriptionAuthenticated: s.statusHandler(StatusAuthenticated, nil),
		EventSubscriptionActivated: s.statusHandler(StatusActive, func(p *SubscriptionPatch, ev *Event, at time.Time) {
			copyEntity(p, ev.Subscription())
			p.ActivatedAt = &at
		}),
		EventSubscriptionCharged: s.handleCharged,
		EventSubscriptionCompleted: s.statusHandler(StatusCompleted, func(p *SubscriptionPatch, ev *Event, at time.Time) {
			p.CompletedAt = &at
			p.EndAt = endedAt(ev.Subscription(), at)
		}),
		EventSubscriptionCancelled: s.statusHandler(StatusCancelled, func(p *SubscriptionPatch, ev *Event, at time.Time) {
			p.CancelledAt = &at
			p.EndAt = endedAt(ev.Subscription(), time.Time{})
		}),
		EventSubscriptionPaused: s.statusHandler(StatusPaused, func(p *SubscriptionPatch, ev *Event, at time.Time) {
			copyCycle(p, ev.Subscription())
			p.PausedAt = &at
		}),
		EventSubscriptionResumed: s.statusHandler(StatusActive, func(p *SubscriptionPatch, ev *Event, at time.Time) {
			copyCycle(p, ev.Subscription())
			p.ResumedAt = &at
		}),
		EventSubscriptionPending: s.statusHandler(StatusPending, nil),
		EventSubscriptionHalted: s.statusHandler(StatusHalted, func(p *SubscriptionPatch, _ *Event, at time.Time) {
			p.HaltedAt = &at
		}),
		EventPaymentFailed: s.handlePaymentFailed,
	}
}

type patchFiller func(p *SubscriptionPatch, ev *Event, at time.Time)

// statusHandler sets a fixed status and lets fill add event specific fields.
func (s *Service) statusHandler(status Status, fill patchFiller) Handler {
	return func(ctx context.Context, ev *Event) error {
		p := SubscriptionPatch{Status: statusPtr(status)}
		if fill != nil {
			fill(&p, ev, s.eventTime(ev))
		}
		return s.reconcile(ctx, ev, p)
	}
}

// handleCharged takes the status from the gateway payload, which is active
// for a regular renewal.
func (s *Service) handleCharged(ctx context.Context, ev *Event) error {
	remote := ev.Subscription()
	if remote == nil {
		return fmt.Errorf("%s: missing subscription entity", ev.Event)
	}
	status, err := ParseStatus(remote.Status)
	if err != nil {
		return err
	}

	p := SubscriptionPatch{Status: &status}
	copyEntity(&p, remote)
	if payment := ev.Payment(); payment != nil && payment.ID != "" {
		id := payment.ID
		p.LastPaymentID = &id
		charged := s.eventTime(ev)
		if t := razorpay.UnixTime(&payment.CreatedAt); t != nil {
			charged = *t
		}
		p.LastChargedAt = &charged
	}
	return s.reconcile(ctx, ev, p)
}

// handlePaymentFailed records the failure without touching the status.
func (s *Service) handlePaymentFailed(ctx context.Context, ev *Event) error {
	payment := ev.Payment()
	if payment == nil || payment.ID == "" {
		return fmt.Errorf("%s: missing payment entity", ev.Event)
	}

	failedAt := s.eventTime(ev)
	if t := razorpay.UnixTime(&payment.CreatedAt); t != nil {
		failedAt = *t
	}
	id := payment.ID
	reason := failureReason(payment)
	return s.reconcile(ctx, ev, SubscriptionPatch{
		LastFailedPaymentID: &id,
		LastFailedAt:        &failedAt,
		FailureReason:       &reason,
	})
}

// reconcile applies p to the subscription the event names. Unknown
// subscriptions and writes refused by the terminal guard are logged only.
func (s *Service) reconcile(ctx context.Context, ev *Event, p SubscriptionPatch) error {
	subscriptionID := ev.SubscriptionID()
	if subscriptionID == "" {
		return ErrMissingSubscriptionID
	}

	applied, err := s.repo.ApplySubscriptionPatch(ctx, subscriptionID, p)
	if err != nil {
		return fmt.Errorf("apply %s to %s: %w", ev.Event, subscriptionID, err)
	}
	if applied {
		log.Infof("[Webhook] Applied %s to subscription %s", ev.Event, subscriptionID)
		return nil
	}

	current, err := s.repo.GetSubscription(ctx, subscriptionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warnf("[Webhook] %s for unknown subscription %s ignored", ev.Event, subscriptionID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", subscriptionID, err)
	}
	if IsTerminal(current.Status) {
		log.Warnf("[Webhook] %s for subscription %s skipped: status %s is terminal", ev.Event, subscriptionID, current.Status)
	}
	return nil
}

// eventTime is the envelope timestamp, so redelivered events write the
// same values. Envelopes without one fall back to the clock.
func (s *Service) eventTime(ev *Event) time.Time {
	if at := ev.OccurredAt(); !at.IsZero() {
		return at
	}
	return s.clock()
}

func copyCycle(p *SubscriptionPatch, remote *razorpay.Subscription) {
	if remote == nil {
		return
	}
	cycle := cyclePatch(remote)
	p.StartAt, p.EndAt = cycle.StartAt, cycle.EndAt
	p.CurrentStart, p.CurrentEnd, p.ChargeAt = cycle.CurrentStart, cycle.CurrentEnd, cycle.ChargeAt
}

func copyEntity(p *SubscriptionPatch, remote *razorpay.Subscription) {
	if remote == nil {
		return
	}
	copyCycle(p, remote)
	countsPatch(p, remote)
}

// endedAt prefers ended_at, then end_at, then fallback when it is set.
func endedAt(remote *razorpay.Subscription, fallback time.Time) *time.Time {
	if remote != nil {
		if t := razorpay.UnixTime(remote.EndedAt); t != nil {
			return t
		}
		if t := razorpay.UnixTime(remote.EndAt); t != nil {
			return t
		}
	}
	if fallback.IsZero() {
		return nil
	}
	return &fallback
}

func failureReason(p *razorpay.Payment) string {
	for _, v := range []string{p.ErrorDescription, p.ErrorReason, p.ErrorCode} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return "payment failed"
}
