package application

import (
	"context"
	"net/http"
	"time"

	"github.com/chebitoch007/django-mart-sub000/internal/domain"
	"github.com/shopspring/decimal"
)

// InitiateRequest starts an asynchronous payment with a provider.
type InitiateRequest struct {
	PaymentID   string
	OrderID     string
	Amount      domain.Money
	PhoneNumber string
	PayerEmail  string
	CallbackURL string
}

// InitiateResponse carries the provider-issued correlation identifiers. The
// initiate call never completes a payment by itself.
type InitiateResponse struct {
	CheckoutRequestID string
	TransactionID     string
	RedirectURL       string
	Raw               []byte
}

// GatewayClient is the port for one external payment provider. One
// implementation exists per provider; the reconciliation engine is
// provider-agnostic behind it.
type GatewayClient interface {
	Provider() domain.Provider

	// Authenticate obtains or refreshes the client credential. Implementations
	// cache it with explicit expiry and refresh transparently on 401.
	Authenticate(ctx context.Context) error

	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error)

	// Verify actively polls the provider for the outcome of a transaction,
	// used when the webhook has not arrived within the configured window.
	Verify(ctx context.Context, providerRef string) (*domain.ProviderEvent, error)

	// ParseWebhook authenticates and normalizes a raw webhook delivery.
	// It fails with ErrInvalidSignature before trusting any payload field.
	// The context covers providers whose verification is itself an API call.
	ParseWebhook(ctx context.Context, body []byte, header http.Header) (*domain.ProviderEvent, error)
}

// PaymentRepository is the port for payment persistence.
type PaymentRepository interface {
	Create(ctx context.Context, payment *domain.Payment) error
	FindByID(ctx context.Context, id string) (*domain.Payment, error)
	FindByIDForUpdate(ctx context.Context, id string) (*domain.Payment, error)
	FindByReference(ctx context.Context, checkoutRequestID, transactionID string) ([]*domain.Payment, error)
	FindActiveByOrderAndProvider(ctx context.Context, orderID string, provider domain.Provider) (*domain.Payment, error)
	FindByOrderID(ctx context.Context, orderID string) ([]*domain.Payment, error)
	FindStaleActive(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Payment, error)
	Update(ctx context.Context, payment *domain.Payment) error
	WithTx(ctx context.Context, fn func(repo PaymentRepository) error) error
}

// OrderStore writes order status on behalf of the coordinator. SetStatus with
// a non-empty expectedPrior performs a conditional update and returns false
// when the precondition failed; expectedPrior == "" updates unconditionally.
type OrderStore interface {
	SetStatus(ctx context.Context, orderID string, status domain.OrderStatus, expectedPrior domain.OrderStatus) (bool, error)
	GetStatus(ctx context.Context, orderID string) (domain.OrderStatus, error)
}

// CartClearer empties the customer's cart after a completed payment.
// Implemented by the storefront; failures are logged, never propagated.
type CartClearer interface {
	ClearCart(ctx context.Context, orderID string) error
}

// Notifier delivers customer notifications. Fire-and-forget from the ledger's
// perspective.
type Notifier interface {
	Notify(ctx context.Context, orderID, paymentID string, kind domain.EventKind) error
}

// RateProvider supplies display-time exchange rates. Settlement never trusts
// these; the provider-reported amount wins.
type RateProvider interface {
	GetRate(ctx context.Context, from, to string) (decimal.Decimal, error)
}
