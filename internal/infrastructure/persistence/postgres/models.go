package postgres

import (
	"time"

	"github.com/chebitoch007/django-mart-sub000/internal/domain"
	"github.com/shopspring/decimal"
)

// PaymentModel mirrors the payments table row. Amounts are stored as numeric
// with their currency alongside; converted_amount is null until a provider
// reports a charge in another currency.
type PaymentModel struct {
	ID       string
	OrderID  string
	Provider string
	Status   string

	Amount            decimal.Decimal
	Currency          string
	OriginalAmount    decimal.Decimal
	OriginalCurrency  string
	ConvertedAmount   *decimal.Decimal
	ConvertedCurrency *string

	TransactionID     *string
	CheckoutRequestID *string
	PhoneNumber       *string
	PayerEmail        *string

	ResultCode        *string
	ResultDescription *string
	FailureType       *string

	RetryCount  int
	LastRetryAt *time.Time

	RawResponse []byte

	CreatedAt time.Time
	UpdatedAt time.Time
}

func toDBModel(p *domain.Payment) *PaymentModel {
	m := &PaymentModel{
		ID:                p.ID,
		OrderID:           p.OrderID,
		Provider:          string(p.Provider),
		Status:            string(p.Status),
		Amount:            p.Amount.Amount,
		Currency:          p.Amount.Currency,
		OriginalAmount:    p.OriginalAmount.Amount,
		OriginalCurrency:  p.OriginalAmount.Currency,
		TransactionID:     p.TransactionID,
		CheckoutRequestID: p.CheckoutRequestID,
		PhoneNumber:       p.PhoneNumber,
		PayerEmail:        p.PayerEmail,
		ResultCode:        p.ResultCode,
		ResultDescription: p.ResultDescription,
		RetryCount:        p.RetryCount,
		LastRetryAt:       p.LastRetryAt,
		RawResponse:       p.RawResponse,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
	if p.ConvertedAmount != nil {
		amount := p.ConvertedAmount.Amount
		currency := p.ConvertedAmount.Currency
		m.ConvertedAmount = &amount
		m.ConvertedCurrency = &currency
	}
	if p.FailureType != nil {
		failureType := string(*p.FailureType)
		m.FailureType = &failureType
	}
	return m
}

func toDomainModel(m *PaymentModel) *domain.Payment {
	var converted *domain.Money
	if m.ConvertedAmount != nil && m.ConvertedCurrency != nil {
		converted = &domain.Money{Amount: *m.ConvertedAmount, Currency: *m.ConvertedCurrency}
	}
	var failureType *domain.FailureType
	if m.FailureType != nil {
		ft := domain.FailureType(*m.FailureType)
		failureType = &ft
	}

	return domain.Reconstitute(
		m.ID, m.OrderID, domain.Provider(m.Provider), domain.PaymentStatus(m.Status),
		domain.Money{Amount: m.Amount, Currency: m.Currency},
		domain.Money{Amount: m.OriginalAmount, Currency: m.OriginalCurrency},
		converted,
		m.TransactionID, m.CheckoutRequestID, m.PhoneNumber, m.PayerEmail,
		m.ResultCode, m.ResultDescription, failureType,
		m.RetryCount, m.LastRetryAt,
		m.RawResponse,
		m.CreatedAt, m.UpdatedAt,
	)
}
