package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a business logic error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *DomainError) Unwrap() error {
	return e.Err
}

const (
	ErrCodeCurrencyMismatch       = "CURRENCY_MISMATCH"
	ErrCodeUnsupportedCurrency    = "UNSUPPORTED_CURRENCY"
	ErrCodeInvalidAmount          = "INVALID_AMOUNT"
	ErrCodeInvalidTransition      = "INVALID_TRANSITION"
	ErrCodeDuplicateActivePayment = "DUPLICATE_ACTIVE_PAYMENT"
	ErrCodePaymentNotFound        = "PAYMENT_NOT_FOUND"
	ErrCodeInvalidSignature       = "INVALID_SIGNATURE"
	ErrCodeGatewayUnavailable     = "GATEWAY_UNAVAILABLE"
	ErrCodeMissingRequiredField   = "MISSING_REQUIRED_FIELD"
)

func NewCurrencyMismatchError(left, right string) *DomainError {
	return &DomainError{
		Code:    ErrCodeCurrencyMismatch,
		Message: fmt.Sprintf("currency mismatch: %s vs %s", left, right),
	}
}

func NewUnsupportedCurrencyError(currency string) *DomainError {
	return &DomainError{
		Code:    ErrCodeUnsupportedCurrency,
		Message: fmt.Sprintf("currency %q is not supported", currency),
	}
}

func NewInvalidAmountError(amount string) *DomainError {
	return &DomainError{
		Code:    ErrCodeInvalidAmount,
		Message: fmt.Sprintf("invalid amount %s", amount),
	}
}

func NewInvalidTransitionError(from PaymentStatus, event EventStatus) *DomainError {
	return &DomainError{
		Code:    ErrCodeInvalidTransition,
		Message: fmt.Sprintf("cannot apply %s event to %s payment", event, from),
	}
}

func NewDuplicateActivePaymentError(orderID string, provider Provider) *DomainError {
	return &DomainError{
		Code:    ErrCodeDuplicateActivePayment,
		Message: fmt.Sprintf("order %s already has an active %s payment", orderID, provider),
	}
}

func NewPaymentNotFoundError(ref string) *DomainError {
	return &DomainError{
		Code:    ErrCodePaymentNotFound,
		Message: fmt.Sprintf("no payment matches reference %s", ref),
	}
}

func NewMissingRequiredFieldError(field string) *DomainError {
	return &DomainError{
		Code:    ErrCodeMissingRequiredField,
		Message: fmt.Sprintf("%s is required", field),
	}
}

// IsErrorCode checks if an error is a DomainError with a specific code
func IsErrorCode(err error, code string) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}
