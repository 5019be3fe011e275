package services

import "github.com/chebitoch007/django-mart-sub000/internal/domain"

// InitiateCommand is the validated input for starting a payment.
type InitiateCommand struct {
	OrderID     string
	Provider    domain.Provider
	Amount      string
	Currency    string
	PhoneNumber string
	PayerEmail  string
}

func (c InitiateCommand) Validate() error {
	if c.OrderID == "" {
		return domain.NewMissingRequiredFieldError("order_id")
	}
	if _, ok := domain.ParseProvider(string(c.Provider)); !ok {
		return domain.NewMissingRequiredFieldError("provider")
	}
	if c.Amount == "" {
		return domain.NewMissingRequiredFieldError("amount")
	}
	if c.Currency == "" {
		return domain.NewMissingRequiredFieldError("currency")
	}
	if c.Provider == domain.ProviderMpesa && c.PhoneNumber == "" {
		return domain.NewMissingRequiredFieldError("phone_number")
	}
	return nil
}
