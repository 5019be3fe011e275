package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/chebitoch007/django-mart-sub000/internal/application"
	"github.com/chebitoch007/django-mart-sub000/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CheckoutConfig carries the pieces of server and provider config the
// checkout flow needs to build callback URLs and charge currencies.
type CheckoutConfig struct {
	CallbackBaseURL     string
	MpesaCallbackSecret string
	// PaypalCurrency is the currency the PayPal account settles in; empty
	// means charge in the order currency.
	PaypalCurrency string
}

// CheckoutService runs the initiation flow: create the PENDING ledger row,
// call the provider, record the returned correlation identifiers. The ledger
// row always exists before the network call so a crash mid-initiate leaves a
// row the verification worker can reconcile.
type CheckoutService struct {
	ledger      *LedgerService
	paymentRepo application.PaymentRepository
	gateways    map[domain.Provider]application.GatewayClient
	rates       application.RateProvider
	cfg         CheckoutConfig
	logger      *slog.Logger
}

func NewCheckoutService(
	ledger *LedgerService,
	paymentRepo application.PaymentRepository,
	gateways map[domain.Provider]application.GatewayClient,
	rates application.RateProvider,
	cfg CheckoutConfig,
	logger *slog.Logger,
) *CheckoutService {
	return &CheckoutService{
		ledger:      ledger,
		paymentRepo: paymentRepo,
		gateways:    gateways,
		rates:       rates,
		cfg:         cfg,
		logger:      logger,
	}
}

// InitiateResult is what the checkout endpoint returns to the storefront.
type InitiateResult struct {
	Payment     *domain.Payment
	RedirectURL string
}

// Initiate starts a payment for an order. Amount and currency come from the
// storefront order; when the provider charges in a different currency the
// amount is converted at the current display rate and both figures are kept.
func (s *CheckoutService) Initiate(ctx context.Context, cmd InitiateCommand) (*InitiateResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, application.NewInvalidInputError(err)
	}

	amount, err := decimal.NewFromString(cmd.Amount)
	if err != nil {
		return nil, application.NewInvalidInputError(domain.NewInvalidAmountError(cmd.Amount))
	}
	orderMoney, err := domain.NewMoney(amount, cmd.Currency)
	if err != nil {
		return nil, application.NewInvalidInputError(err)
	}
	if orderMoney.IsZero() {
		return nil, application.NewInvalidInputError(domain.NewInvalidAmountError(cmd.Amount))
	}

	client, ok := s.gateways[cmd.Provider]
	if !ok {
		return nil, application.NewInvalidInputError(domain.NewMissingRequiredFieldError("provider"))
	}

	charge, err := s.chargeMoney(ctx, cmd.Provider, orderMoney)
	if err != nil {
		return nil, err
	}

	payment, err := domain.NewPayment(uuid.New().String(), cmd.OrderID, cmd.Provider, charge)
	if err != nil {
		return nil, application.NewInvalidInputError(err)
	}
	payment.OriginalAmount = orderMoney
	if cmd.PhoneNumber != "" {
		phone := cmd.PhoneNumber
		payment.PhoneNumber = &phone
	}
	if cmd.PayerEmail != "" {
		email := cmd.PayerEmail
		payment.PayerEmail = &email
	}

	if err := s.ledger.Create(ctx, payment); err != nil {
		return nil, err
	}

	resp, err := client.Initiate(ctx, application.InitiateRequest{
		PaymentID:   payment.ID,
		OrderID:     payment.OrderID,
		Amount:      charge,
		PhoneNumber: cmd.PhoneNumber,
		PayerEmail:  cmd.PayerEmail,
		CallbackURL: s.callbackURL(cmd.Provider),
	})
	if err != nil {
		s.failInitiation(ctx, payment.ID, err)
		if errors.Is(err, application.ErrGatewayUnavailable) {
			return nil, application.NewGatewayUnavailableError(err)
		}
		return nil, err
	}

	payment.MarkInitiated(resp.CheckoutRequestID, resp.TransactionID, resp.Raw)
	if err := s.paymentRepo.Update(ctx, payment); err != nil {
		// The provider already accepted the charge request; the row keeps its
		// PENDING status and the worker will verify by reference later.
		s.logger.Error("failed to persist initiation result",
			"payment_id", payment.ID, "error", err)
		return nil, application.NewInternalError(err)
	}

	s.logger.Info("payment initiated",
		"payment_id", payment.ID,
		"order_id", payment.OrderID,
		"provider", payment.Provider,
		"amount", charge.Format(),
	)
	return &InitiateResult{Payment: payment, RedirectURL: resp.RedirectURL}, nil
}

// GetPayment returns a single payment by id.
func (s *CheckoutService) GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	return s.paymentRepo.FindByID(ctx, paymentID)
}

// ListOrderPayments returns every payment attempt for an order, newest first.
func (s *CheckoutService) ListOrderPayments(ctx context.Context, orderID string) ([]*domain.Payment, error) {
	return s.paymentRepo.FindByOrderID(ctx, orderID)
}

// chargeMoney converts the order amount into the currency the provider
// charges in. M-Pesa only moves KES and Paystack settles NGN; Stripe takes the
// order currency as-is.
func (s *CheckoutService) chargeMoney(ctx context.Context, provider domain.Provider, orderMoney domain.Money) (domain.Money, error) {
	required := s.chargeCurrency(provider)
	if required == "" || required == orderMoney.Currency {
		return orderMoney, nil
	}

	rate, err := s.rates.GetRate(ctx, orderMoney.Currency, required)
	if err != nil {
		return domain.Money{}, application.NewInternalError(err)
	}
	converted, err := orderMoney.Convert(rate, required)
	if err != nil {
		return domain.Money{}, application.NewInvalidInputError(err)
	}
	return converted, nil
}

func (s *CheckoutService) chargeCurrency(provider domain.Provider) string {
	switch provider {
	case domain.ProviderMpesa:
		return "KES"
	case domain.ProviderPaystack:
		return "NGN"
	case domain.ProviderPaypal:
		return s.cfg.PaypalCurrency
	default:
		return ""
	}
}

func (s *CheckoutService) callbackURL(provider domain.Provider) string {
	base := strings.TrimSuffix(s.cfg.CallbackBaseURL, "/")
	if provider == domain.ProviderMpesa {
		// Daraja callbacks are unsigned; the secret path segment is the
		// authentication.
		return base + "/webhooks/mpesa/" + s.cfg.MpesaCallbackSecret
	}
	return base + "/webhooks/" + strings.ToLower(string(provider))
}

// failInitiation records a provider rejection as a TEMPORARY failure through
// the normal event path, so the attempt shows up in the ledger history.
func (s *CheckoutService) failInitiation(ctx context.Context, paymentID string, cause error) {
	event := &domain.ProviderEvent{
		Status:            domain.EventFailed,
		FailureKind:       domain.FailureTemporary,
		ResultDescription: cause.Error(),
		OccurredAt:        time.Now(),
	}
	if _, _, err := s.ledger.ApplyEvent(ctx, paymentID, event); err != nil {
		s.logger.Error("failed to record initiation failure",
			"payment_id", paymentID, "error", err)
	}
}
