package domain

import "time"

// EventStatus is the provider-agnostic outcome reported by a gateway, either
// in a webhook payload or an active verification response.
type EventStatus string

const (
	EventSuccess   EventStatus = "SUCCESS"
	EventFailed    EventStatus = "FAILED"
	EventCancelled EventStatus = "CANCELLED"
	EventPending   EventStatus = "PENDING"
	EventRefunded  EventStatus = "REFUNDED"
)

// ProviderEvent is the normalized form of a provider notification. It is
// produced by a gateway client after signature verification and consumed
// exactly once by the reconciliation engine; it is never persisted on its own.
type ProviderEvent struct {
	Provider          Provider
	CheckoutRequestID string
	TransactionID     string
	Status            EventStatus
	ResultCode        string
	ResultDescription string

	// FailureKind is set by the gateway when Status is FAILED, based on the
	// provider's result-code taxonomy (timeout/transient vs. permanent).
	FailureKind FailureType

	// Amount as reported by the provider, if the payload carries one.
	Amount *Money

	OccurredAt time.Time
	Raw        []byte
}

// Reference returns the identifier used to match the event to a payment:
// checkout request id first, transaction id as fallback.
func (e *ProviderEvent) Reference() string {
	if e.CheckoutRequestID != "" {
		return e.CheckoutRequestID
	}
	return e.TransactionID
}
