package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/ManuelReschke/NewsDesk/app/models"
	"github.com/gofiber/fiber/v2/log"
)

// Outcome describes what the dispatcher did with a delivery. Every outcome
// is acknowledged to the gateway.
type Outcome string

const (
	OutcomeMisconfigured Outcome = "misconfigured"
	OutcomeRejected      Outcome = "rejected"
	OutcomeMalformed     Outcome = "malformed"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeIgnored       Outcome = "ignored"
	OutcomeFailed        Outcome = "failed"
	OutcomeProcessed     Outcome = "processed"
)

// Delivery is one inbound webhook request. Body must be the raw bytes.
type Delivery struct {
	Body      []byte
	Signature string
	EventID   string
}

// Result reports the outcome of Handle. Err is set for failed handlers.
type Result struct {
	Outcome Outcome
	Event   string
	Err     error
}

// EventStore is the delivery log used for deduplication.
type EventStore interface {
	CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error
}

// Dispatcher verifies webhook deliveries and routes them to handlers. The
// handler mapping is fixed at construction.
type Dispatcher struct {
	secret   string
	handlers map[string]Handler
	events   EventStore
}

// DispatcherOption configures optional Dispatcher collaborators.
type DispatcherOption func(*Dispatcher)

// WithEventStore records verified deliveries and skips repeated event ids.
func WithEventStore(store EventStore) DispatcherOption {
	return func(d *Dispatcher) {
		d.events = store
	}
}

// NewDispatcher copies handlers, so later changes to the caller's map have
// no effect.
func NewDispatcher(secret string, handlers map[string]Handler, opts ...DispatcherOption) *Dispatcher {
	copied := make(map[string]Handler, len(handlers))
	for name, h := range handlers {
		if h != nil {
			copied[name] = h
		}
	}
	d := &Dispatcher{
		secret:   strings.TrimSpace(secret),
		handlers: copied,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handles reports whether an event name has a handler.
func (d *Dispatcher) Handles(event string) bool {
	_, ok := d.handlers[event]
	return ok
}

// Handle processes one delivery. It never returns an error; failures are
// logged and reported through Result only.
func (d *Dispatcher) Handle(ctx context.Context, in Delivery) Result {
	signature := strings.TrimSpace(in.Signature)
	if d.secret == "" || signature == "" || len(in.Body) == 0 {
		log.Warnf("[Webhook] Delivery dropped: secret set=%t, signature set=%t, body bytes=%d",
			d.secret != "", signature != "", len(in.Body))
		return Result{Outcome: OutcomeMisconfigured}
	}

	if !VerifySignature(in.Body, signature, d.secret) {
		log.Warnf("[Webhook] Delivery %q rejected: invalid signature", in.EventID)
		return Result{Outcome: OutcomeRejected}
	}

	ev, err := ParseEvent(in.Body)
	if err != nil || ev.Event == "" {
		if err == nil {
			err = fmt.Errorf("event name missing")
		}
		log.Errorf("[Webhook] Delivery %q could not be decoded: %v", in.EventID, err)
		return Result{Outcome: OutcomeMalformed, Err: err}
	}

	var stored *models.BillingWebhookEvent
	if d.events != nil {
		created, rec, err := d.events.CreateWebhookEventIfNotExists(ctx, &models.BillingWebhookEvent{
			Provider:        models.BillingProviderRazorpay,
			ProviderEventID: eventID(in),
			EventType:       ev.Event,
			SubscriptionID:  ev.SubscriptionID(),
			PayloadJSON:     string(in.Body),
		})
		switch {
		case err != nil:
			// Processing continues; handlers are idempotent.
			log.Errorf("[Webhook] Failed to record %s delivery %q: %v", ev.Event, in.EventID, err)
		case !created:
			log.Infof("[Webhook] Duplicate %s delivery %q ignored", ev.Event, rec.ProviderEventID)
			return Result{Outcome: OutcomeDuplicate, Event: ev.Event}
		default:
			stored = rec
		}
	}

	handler, ok := d.handlers[ev.Event]
	if !ok {
		log.Infof("[Webhook] No handler for %s, ignored", ev.Event)
		d.finish(ctx, stored, nil)
		return Result{Outcome: OutcomeIgnored, Event: ev.Event}
	}

	if err := runHandler(ctx, handler, ev); err != nil {
		log.Errorf("[Webhook] Handler for %s (subscription %s) failed: %v", ev.Event, ev.SubscriptionID(), err)
		d.finish(ctx, stored, err)
		return Result{Outcome: OutcomeFailed, Event: ev.Event, Err: err}
	}
	d.finish(ctx, stored, nil)
	return Result{Outcome: OutcomeProcessed, Event: ev.Event}
}

func (d *Dispatcher) finish(ctx context.Context, stored *models.BillingWebhookEvent, handlerErr error) {
	if stored == nil {
		return
	}
	msg := ""
	if handlerErr != nil {
		msg = handlerErr.Error()
	}
	if err := d.events.MarkWebhookProcessed(ctx, stored.ID, msg); err != nil {
		log.Errorf("[Webhook] Failed to mark delivery %s processed: %v", stored.ProviderEventID, err)
	}
}

// runHandler converts a handler panic into an error.
func runHandler(ctx context.Context, h Handler, ev *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[Webhook] Handler for %s panicked: %v\n%s", ev.Event, r, debug.Stack())
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, ev)
}

// eventID is the gateway delivery id, or a body hash when the header is absent.
func eventID(in Delivery) string {
	if id := strings.TrimSpace(in.EventID); id != "" {
		return id
	}
	sum := sha256.Sum256(in.Body)
	return "hash:" + hex.EncodeToString(sum[:])
}
