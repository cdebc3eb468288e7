package billing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ManuelReschke/NewsDesk/app/models"
)

// Status is the closed set of subscription states.
type Status = models.SubscriptionStatus

const (
	StatusCreated             = models.SubscriptionStatusCreated
	StatusAuthenticated       = models.SubscriptionStatusAuthenticated
	StatusActive              = models.SubscriptionStatusActive
	StatusPending             = models.SubscriptionStatusPending
	StatusHalted              = models.SubscriptionStatusHalted
	StatusCancelled           = models.SubscriptionStatusCancelled
	StatusCompleted           = models.SubscriptionStatusCompleted
	StatusExpired             = models.SubscriptionStatusExpired
	StatusPaused              = models.SubscriptionStatusPaused
	StatusPendingCancellation = models.SubscriptionStatusPendingCancellation
	StatusFailed              = models.SubscriptionStatusFailed
)

// ErrUnknownStatus is returned when the gateway reports a status outside the known set.
var ErrUnknownStatus = errors.New("unknown subscription status")

var knownStatuses = map[Status]struct{}{
	StatusCreated:             {},
	StatusAuthenticated:       {},
	StatusActive:              {},
	StatusPending:             {},
	StatusHalted:              {},
	StatusCancelled:           {},
	StatusCompleted:           {},
	StatusExpired:             {},
	StatusPaused:              {},
	StatusPendingCancellation: {},
	StatusFailed:              {},
}

// terminalStatuses accept no transition other than a repeat of themselves.
var terminalStatuses = []Status{StatusCancelled, StatusCompleted, StatusExpired}

// ParseStatus maps a gateway status string onto Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := knownStatuses[s]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
	}
	return s, nil
}

// IsTerminal reports whether s is cancelled, completed or expired.
func IsTerminal(s Status) bool {
	for _, t := range terminalStatuses {
		if s == t {
			return true
		}
	}
	return false
}

// Action names a user-initiated lifecycle operation.
type Action string

const (
	ActionCancel Action = "cancel"
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
)

var allowedFrom = map[Action][]Status{
	ActionCancel: {StatusActive, StatusAuthenticated, StatusPending, StatusFailed},
	ActionPause:  {StatusActive},
	ActionResume: {StatusPaused},
}

// checkoutStatuses are the states in which the first payment is still
// being confirmed.
var checkoutStatuses = []Status{StatusCreated, StatusAuthenticated}

// CanApply reports whether action is allowed while the record is in status s.
func CanApply(action Action, s Status) bool {
	for _, allowed := range allowedFrom[action] {
		if s == allowed {
			return true
		}
	}
	return false
}
