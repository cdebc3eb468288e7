package razorpay

import (
	"errors"
	"fmt"
)

// ErrNotConfigured is returned when key id or key secret are missing.
var ErrNotConfigured = errors.New("razorpay client is not configured")

// GatewayError is returned by every Gateway call that fails, whether the
// request never reached the provider or the provider rejected it.
type GatewayError struct {
	Op      string
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("razorpay %s: %s", e.Op, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

func newGatewayError(op string, err error) *GatewayError {
	return &GatewayError{Op: op, Message: err.Error(), Err: err}
}
