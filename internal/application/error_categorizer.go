package application

import (
	"context"
	"errors"
	"net/http"

	"github.com/chebitoch007/django-mart-sub000/internal/domain"
)

// ErrorCategory represents the nature of an error for retry and logging
type ErrorCategory string

const (
	CategoryTransient      ErrorCategory = "TRANSIENT"
	CategoryPermanent      ErrorCategory = "PERMANENT"
	CategoryBusinessRule   ErrorCategory = "BUSINESS_RULE"
	CategoryClientError    ErrorCategory = "CLIENT_ERROR"
	CategorySecurity       ErrorCategory = "SECURITY"
	CategoryInfrastructure ErrorCategory = "INFRASTRUCTURE"
)

// CategorizeError determines error category for retry and logging purposes
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return CategoryTransient
	}

	if errors.Is(err, ErrInvalidSignature) {
		return CategorySecurity
	}

	if errors.Is(err, ErrGatewayUnavailable) {
		return CategoryTransient
	}

	switch {
	case domain.IsErrorCode(err, domain.ErrCodeInvalidTransition),
		domain.IsErrorCode(err, domain.ErrCodeDuplicateActivePayment),
		domain.IsErrorCode(err, domain.ErrCodeCurrencyMismatch),
		domain.IsErrorCode(err, domain.ErrCodeInvalidAmount):
		return CategoryBusinessRule
	case domain.IsErrorCode(err, domain.ErrCodePaymentNotFound),
		domain.IsErrorCode(err, domain.ErrCodeMissingRequiredField),
		domain.IsErrorCode(err, domain.ErrCodeUnsupportedCurrency):
		return CategoryClientError
	}

	if svcErr, ok := IsServiceError(err); ok {
		switch svcErr.Code {
		case ErrCodeInvalidInput:
			return CategoryClientError
		case ErrCodeInternal:
			return CategoryInfrastructure
		case ErrCodeUnavailable:
			return CategoryTransient
		case ErrCodeInvalidState:
			return CategoryBusinessRule
		}
	}

	if gwErr, ok := IsGatewayError(err); ok {
		if gwErr.IsRetryable() {
			return CategoryTransient
		}
		return CategoryPermanent
	}

	// Default: transient (safe fallback)
	return CategoryTransient
}

// IsRetryable returns true if the error category suggests retry
func IsRetryable(err error) bool {
	category := CategorizeError(err)
	return category == CategoryTransient || category == CategoryInfrastructure
}

// ToHTTPStatus maps error to the appropriate HTTP status code
func ToHTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}

	if svcErr, ok := IsServiceError(err); ok {
		return svcErr.HTTPStatus
	}

	switch {
	case errors.Is(err, ErrInvalidSignature):
		return http.StatusBadRequest
	case errors.Is(err, ErrGatewayUnavailable):
		return http.StatusServiceUnavailable
	case domain.IsErrorCode(err, domain.ErrCodePaymentNotFound):
		return http.StatusNotFound
	case domain.IsErrorCode(err, domain.ErrCodeInvalidTransition),
		domain.IsErrorCode(err, domain.ErrCodeDuplicateActivePayment):
		return http.StatusConflict
	case domain.IsErrorCode(err, domain.ErrCodeCurrencyMismatch),
		domain.IsErrorCode(err, domain.ErrCodeUnsupportedCurrency),
		domain.IsErrorCode(err, domain.ErrCodeInvalidAmount),
		domain.IsErrorCode(err, domain.ErrCodeMissingRequiredField):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	}

	if gwErr, ok := IsGatewayError(err); ok {
		if gwErr.StatusCode >= 400 {
			return http.StatusBadGateway
		}
	}

	return http.StatusInternalServerError
}

// ToErrorCode maps an error to a stable code for API responses
func ToErrorCode(err error) string {
	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}

	if svcErr, ok := IsServiceError(err); ok {
		return svcErr.Code
	}

	if errors.Is(err, ErrInvalidSignature) {
		return domain.ErrCodeInvalidSignature
	}
	if errors.Is(err, ErrGatewayUnavailable) {
		return domain.ErrCodeGatewayUnavailable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "TIMEOUT"
	}

	if gwErr, ok := IsGatewayError(err); ok {
		return "GATEWAY_" + gwErr.Code
	}

	return ErrCodeInternal
}
