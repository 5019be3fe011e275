package services

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/chebitoch007/django-mart-sub000/internal/application"
	"github.com/chebitoch007/django-mart-sub000/internal/domain"
)

// ReconciliationEngine turns provider notifications into ledger updates. Both
// entry points, webhooks and active verification, normalize to a
// ProviderEvent and converge on the same apply path, so a payment reaches the
// same terminal state no matter which signal arrives first.
type ReconciliationEngine struct {
	ledger      *LedgerService
	paymentRepo application.PaymentRepository
	gateways    map[domain.Provider]application.GatewayClient
	coordinator *OrderCoordinator
	logger      *slog.Logger
}

func NewReconciliationEngine(
	ledger *LedgerService,
	paymentRepo application.PaymentRepository,
	gateways map[domain.Provider]application.GatewayClient,
	coordinator *OrderCoordinator,
	logger *slog.Logger,
) *ReconciliationEngine {
	return &ReconciliationEngine{
		ledger:      ledger,
		paymentRepo: paymentRepo,
		gateways:    gateways,
		coordinator: coordinator,
		logger:      logger,
	}
}

// HandleWebhook authenticates, normalizes and applies one webhook delivery.
// It returns the payment after the event and whether the event changed it; a
// (nil, false, nil) result means the delivery was valid but carried nothing
// to apply, which the HTTP layer still acknowledges with 200.
func (e *ReconciliationEngine) HandleWebhook(ctx context.Context, provider domain.Provider, body []byte, header http.Header) (*domain.Payment, bool, error) {
	client, ok := e.gateways[provider]
	if !ok {
		return nil, false, application.NewInvalidInputError(domain.NewMissingRequiredFieldError("provider"))
	}

	event, err := client.ParseWebhook(ctx, body, header)
	if err != nil {
		return nil, false, err
	}

	if event.Reference() == "" {
		// Valid but irrelevant event type; acknowledge so the provider
		// stops redelivering.
		e.logger.Debug("ignoring webhook without payment reference",
			"provider", provider, "result_code", event.ResultCode)
		return nil, false, nil
	}

	payment, err := e.matchPayment(ctx, event)
	if err != nil {
		return nil, false, err
	}

	return e.apply(ctx, payment.ID, event)
}

// VerifyPayment actively queries the provider for a payment's outcome and
// applies the result. Used by the stale-payment worker and the manual verify
// endpoint. A gateway outage leaves the payment untouched for the next sweep.
func (e *ReconciliationEngine) VerifyPayment(ctx context.Context, paymentID string) (*domain.Payment, bool, error) {
	payment, err := e.paymentRepo.FindByID(ctx, paymentID)
	if err != nil {
		return nil, false, err
	}
	if payment.IsTerminal() {
		return payment, false, nil
	}
	if payment.CheckoutRequestID == nil || *payment.CheckoutRequestID == "" {
		// Initiation never completed; nothing to ask the provider about.
		return payment, false, nil
	}

	client, ok := e.gateways[payment.Provider]
	if !ok {
		return nil, false, application.NewInternalError(domain.NewMissingRequiredFieldError("gateway for " + string(payment.Provider)))
	}

	event, err := client.Verify(ctx, *payment.CheckoutRequestID)
	if err != nil {
		return nil, false, err
	}

	return e.apply(ctx, payment.ID, event)
}

// matchPayment resolves the event's reference to exactly one payment row.
// References are matched against checkout_request_id and transaction_id;
// PayPal IPNs instead echo back our own payment id in the custom field, hence
// the FindByID fallback. Multiple matches mean an initiate race, settled
// most-recent-wins before applying.
func (e *ReconciliationEngine) matchPayment(ctx context.Context, event *domain.ProviderEvent) (*domain.Payment, error) {
	payments, err := e.paymentRepo.FindByReference(ctx, event.CheckoutRequestID, event.TransactionID)
	if err != nil {
		return nil, application.NewInternalError(err)
	}

	switch len(payments) {
	case 0:
		if event.CheckoutRequestID != "" {
			if payment, idErr := e.paymentRepo.FindByID(ctx, event.CheckoutRequestID); idErr == nil {
				return payment, nil
			}
		}
		return nil, domain.NewPaymentNotFoundError(event.Reference())
	case 1:
		return payments[0], nil
	default:
		return e.ledger.ResolveDuplicates(ctx, payments)
	}
}

func (e *ReconciliationEngine) apply(ctx context.Context, paymentID string, event *domain.ProviderEvent) (*domain.Payment, bool, error) {
	payment, changed, err := e.ledger.ApplyEvent(ctx, paymentID, event)
	if err != nil {
		return nil, false, err
	}

	// Coordination runs before the caller acknowledges the delivery: once a
	// payment is terminal it is never re-swept, so deferring the order update
	// would make a crash here lose it permanently. The coordinator shields
	// itself from the request context being cancelled mid-flight.
	if changed {
		e.coordinator.OnPaymentChanged(ctx, payment)
	}
	return payment, changed, nil
}
