// Package domain encodes the payment ledger entity, its state machine and the
// normalized provider events that drive it.
package domain

import (
	"slices"
	"time"
)

// Provider identifies the external payment provider a payment runs through.
type Provider string

const (
	ProviderMpesa    Provider = "MPESA"
	ProviderPaypal   Provider = "PAYPAL"
	ProviderPaystack Provider = "PAYSTACK"
	ProviderStripe   Provider = "STRIPE"
)

func ParseProvider(s string) (Provider, bool) {
	switch Provider(s) {
	case ProviderMpesa, ProviderPaypal, ProviderPaystack, ProviderStripe:
		return Provider(s), true
	}
	return "", false
}

// PaymentStatus represents the current state of a payment in its lifecycle
type PaymentStatus string

const (
	StatusPending    PaymentStatus = "PENDING"
	StatusProcessing PaymentStatus = "PROCESSING"
	StatusCompleted  PaymentStatus = "COMPLETED"
	StatusFailed     PaymentStatus = "FAILED"
	StatusRefunded   PaymentStatus = "REFUNDED"
)

// FailureType classifies why a payment failed. Only set when status is FAILED.
type FailureType string

const (
	FailureTemporary     FailureType = "TEMPORARY"
	FailureUserCancelled FailureType = "USER_CANCELLED"
	FailurePermanent     FailureType = "PERMANENT"
	FailureTimeout       FailureType = "TIMEOUT"
)

type Payment struct {
	ID       string
	OrderID  string
	Provider Provider
	Status   PaymentStatus

	Amount          Money
	OriginalAmount  Money
	ConvertedAmount *Money

	TransactionID     *string
	CheckoutRequestID *string
	PhoneNumber       *string
	PayerEmail        *string

	ResultCode        *string
	ResultDescription *string
	FailureType       *FailureType

	RetryCount  int
	LastRetryAt *time.Time

	RawResponse []byte

	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewPayment(id string, orderID string, provider Provider, amount Money) (*Payment, error) {
	if id == "" {
		return nil, NewMissingRequiredFieldError("payment ID")
	}
	if orderID == "" {
		return nil, NewMissingRequiredFieldError("order ID")
	}
	if _, ok := ParseProvider(string(provider)); !ok {
		return nil, NewMissingRequiredFieldError("provider")
	}
	now := time.Now()
	return &Payment{
		ID:             id,
		OrderID:        orderID,
		Provider:       provider,
		Status:         StatusPending,
		Amount:         amount,
		OriginalAmount: amount,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Active reports whether the payment still awaits a terminal outcome.
// At most one active payment may exist per (order, provider).
func (p *Payment) Active() bool {
	return p.Status == StatusPending || p.Status == StatusProcessing
}

func (p *Payment) IsTerminal() bool {
	switch p.Status {
	case StatusCompleted, StatusFailed, StatusRefunded:
		return true
	default:
		return false
	}
}

// defines the allowed state transitions
func (p *Payment) canTransitionTo(target PaymentStatus) bool {
	switch p.Status {
	case StatusPending:
		return p.allow(target, StatusProcessing, StatusCompleted, StatusFailed)
	case StatusProcessing:
		return p.allow(target, StatusCompleted, StatusFailed)
	case StatusCompleted:
		return p.allow(target, StatusRefunded)
	}
	return false
}

func (p *Payment) allow(target PaymentStatus, allowed ...PaymentStatus) bool {
	return slices.Contains(allowed, target)
}

// Apply drives the state machine with a normalized provider event. It returns
// true when the payment changed. A SUCCESS event against an already COMPLETED
// payment is a no-op, not an error, so re-delivered webhooks are harmless.
// Every other event that does not fit the machine returns InvalidTransition
// and leaves the payment untouched. Callers must hold the per-payment lock.
func (p *Payment) Apply(event *ProviderEvent, now time.Time) (bool, error) {
	switch event.Status {
	case EventSuccess:
		if p.Status == StatusCompleted {
			return false, nil
		}
		if !p.canTransitionTo(StatusCompleted) {
			return false, NewInvalidTransitionError(p.Status, event.Status)
		}
		p.Status = StatusCompleted
		p.FailureType = nil
		if event.TransactionID != "" {
			p.TransactionID = strPtr(event.TransactionID)
		}
		if event.Amount != nil && event.Amount.Currency != p.OriginalAmount.Currency {
			converted := *event.Amount
			p.ConvertedAmount = &converted
		}
		p.record(event, now)
		return true, nil

	case EventPending:
		if p.Status == StatusPending {
			p.Status = StatusProcessing
			p.record(event, now)
			return true, nil
		}
		if p.Status == StatusProcessing {
			// Provider re-acknowledged; nothing new to apply.
			p.record(event, now)
			return false, nil
		}
		return false, NewInvalidTransitionError(p.Status, event.Status)

	case EventCancelled:
		if !p.canTransitionTo(StatusFailed) {
			return false, NewInvalidTransitionError(p.Status, event.Status)
		}
		p.fail(FailureUserCancelled, event, now)
		return true, nil

	case EventFailed:
		if !p.canTransitionTo(StatusFailed) {
			return false, NewInvalidTransitionError(p.Status, event.Status)
		}
		kind := event.FailureKind
		if kind == "" {
			kind = FailurePermanent
		}
		p.fail(kind, event, now)
		if kind == FailureTemporary || kind == FailureTimeout {
			p.RetryCount++
			retryAt := now
			p.LastRetryAt = &retryAt
		}
		return true, nil

	case EventRefunded:
		if p.Status == StatusRefunded {
			// Redelivered refund notification; already applied.
			p.record(event, now)
			return false, nil
		}
		// Refund presupposes a prior successful capture.
		if p.Status != StatusCompleted {
			return false, NewInvalidTransitionError(p.Status, event.Status)
		}
		p.Status = StatusRefunded
		p.record(event, now)
		return true, nil
	}

	return false, NewInvalidTransitionError(p.Status, event.Status)
}

func (p *Payment) fail(kind FailureType, event *ProviderEvent, now time.Time) {
	p.Status = StatusFailed
	p.FailureType = &kind
	p.record(event, now)
}

func (p *Payment) record(event *ProviderEvent, now time.Time) {
	if event.ResultCode != "" {
		p.ResultCode = strPtr(event.ResultCode)
	}
	if event.ResultDescription != "" {
		p.ResultDescription = strPtr(event.ResultDescription)
	}
	if len(event.Raw) > 0 {
		p.RawResponse = event.Raw
	}
	p.UpdatedAt = now
}

// MarkInitiated records the provider's correlation identifiers returned by the
// initiate call.
func (p *Payment) MarkInitiated(checkoutRequestID, transactionID string, raw []byte) {
	if checkoutRequestID != "" {
		p.CheckoutRequestID = strPtr(checkoutRequestID)
	}
	if transactionID != "" {
		p.TransactionID = strPtr(transactionID)
	}
	if len(raw) > 0 {
		p.RawResponse = raw
	}
	p.UpdatedAt = time.Now()
}

// SupersededBy fails this payment as a duplicate of a newer row that shares
// its checkout request id. Deterministic duplicate resolution keeps the most
// recent row authoritative.
func (p *Payment) SupersededBy(winnerID string, now time.Time) {
	kind := FailurePermanent
	p.Status = StatusFailed
	p.FailureType = &kind
	p.ResultDescription = strPtr("duplicate payment row superseded by " + winnerID)
	p.UpdatedAt = now
}

// Reconstitute - special constructor for loading from the database.
func Reconstitute(
	id string, orderID string, provider Provider, status PaymentStatus,
	amount Money, originalAmount Money, convertedAmount *Money,
	transactionID, checkoutRequestID, phoneNumber, payerEmail *string,
	resultCode, resultDescription *string, failureType *FailureType,
	retryCount int, lastRetryAt *time.Time,
	rawResponse []byte,
	createdAt, updatedAt time.Time,
) *Payment {
	return &Payment{
		ID:                id,
		OrderID:           orderID,
		Provider:          provider,
		Status:            status,
		Amount:            amount,
		OriginalAmount:    originalAmount,
		ConvertedAmount:   convertedAmount,
		TransactionID:     transactionID,
		CheckoutRequestID: checkoutRequestID,
		PhoneNumber:       phoneNumber,
		PayerEmail:        payerEmail,
		ResultCode:        resultCode,
		ResultDescription: resultDescription,
		FailureType:       failureType,
		RetryCount:        retryCount,
		LastRetryAt:       lastRetryAt,
		RawResponse:       rawResponse,
		CreatedAt:         createdAt,
		UpdatedAt:         updatedAt,
	}
}

func strPtr(s string) *string {
	return &s
}
