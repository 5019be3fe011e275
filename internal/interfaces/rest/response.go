// Package rest holds the HTTP response envelope and payment DTO shared by the
// handlers.
package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/chebitoch007/django-mart-sub000/internal/application"
	"github.com/chebitoch007/django-mart-sub000/internal/domain"
)

type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type DataResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

// WriteError maps application errors to HTTP responses
func WriteError(w http.ResponseWriter, err error) {
	statusCode := application.ToHTTPStatus(err)
	errorCode := application.ToErrorCode(err)

	response := ErrorResponse{
		Success: false,
		Error: ErrorDetail{
			Code:    errorCode,
			Message: err.Error(),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}

func WriteJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(DataResponse{Success: true, Data: data})
}

// Payment is the API representation of a ledger row. Raw provider payloads
// never leave the service.
type Payment struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	Provider string `json:"provider"`
	Status   string `json:"status"`

	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
	OriginalAmount   string `json:"original_amount"`
	OriginalCurrency string `json:"original_currency"`

	TransactionID     string `json:"transaction_id,omitempty"`
	CheckoutRequestID string `json:"checkout_request_id,omitempty"`

	ResultCode        string `json:"result_code,omitempty"`
	ResultDescription string `json:"result_description,omitempty"`
	FailureType       string `json:"failure_type,omitempty"`
	RetryCount        int    `json:"retry_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func ToAPIPayment(p *domain.Payment) Payment {
	payment := Payment{
		ID:               p.ID,
		OrderID:          p.OrderID,
		Provider:         string(p.Provider),
		Status:           string(p.Status),
		Amount:           p.Amount.Amount.String(),
		Currency:         p.Amount.Currency,
		OriginalAmount:   p.OriginalAmount.Amount.String(),
		OriginalCurrency: p.OriginalAmount.Currency,
		RetryCount:       p.RetryCount,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}

	if p.TransactionID != nil {
		payment.TransactionID = *p.TransactionID
	}
	if p.CheckoutRequestID != nil {
		payment.CheckoutRequestID = *p.CheckoutRequestID
	}
	if p.ResultCode != nil {
		payment.ResultCode = *p.ResultCode
	}
	if p.ResultDescription != nil {
		payment.ResultDescription = *p.ResultDescription
	}
	if p.FailureType != nil {
		payment.FailureType = string(*p.FailureType)
	}

	return payment
}
