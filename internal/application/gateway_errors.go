package application

import (
	"errors"
	"fmt"
)

// ErrInvalidSignature is returned by ParseWebhook when the provider's
// signature or verification check fails. No payload field may be trusted, and
// no state changes.
var ErrInvalidSignature = errors.New("webhook signature verification failed")

// ErrGatewayUnavailable is returned once a client's retry budget is exhausted.
// Callers treat it as "outcome unknown", never as a payment failure.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// GatewayError is a structured error response from a provider API.
type GatewayError struct {
	Provider   string
	Code       string
	Message    string
	StatusCode int
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s gateway error [%s]: %s (status: %d)", e.Provider, e.Code, e.Message, e.StatusCode)
}

func (e *GatewayError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

func IsGatewayError(err error) (*GatewayError, bool) {
	var gwErr *GatewayError
	ok := errors.As(err, &gwErr)
	return gwErr, ok
}
