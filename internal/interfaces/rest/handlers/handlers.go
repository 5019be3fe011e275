// Package handlers exposes the checkout API and the provider webhook
// endpoints.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/VictoriaMetrics/metrics"
	"github.com/chebitoch007/django-mart-sub000/internal/application/services"
	"github.com/chebitoch007/django-mart-sub000/internal/domain"
)

// Pinger reports database reachability for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handlers struct {
	checkout *services.CheckoutService
	engine   *services.ReconciliationEngine
	// mpesaCallbackSecret authenticates Daraja callbacks, which are unsigned;
	// only the path segment proves origin.
	mpesaCallbackSecret string
	pinger              Pinger
	logger              *slog.Logger
}

func NewHandlers(
	checkout *services.CheckoutService,
	engine *services.ReconciliationEngine,
	mpesaCallbackSecret string,
	pinger Pinger,
	logger *slog.Logger,
) *Handlers {
	return &Handlers{
		checkout:            checkout,
		engine:              engine,
		mpesaCallbackSecret: mpesaCallbackSecret,
		pinger:              pinger,
		logger:              logger,
	}
}

// Register wires all routes onto the mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/payments", h.InitiatePayment)
	mux.HandleFunc("GET /api/v1/payments/{id}", h.GetPayment)
	mux.HandleFunc("POST /api/v1/payments/{id}/verify", h.VerifyPayment)
	mux.HandleFunc("GET /api/v1/orders/{id}/payments", h.ListOrderPayments)

	mux.HandleFunc("POST /webhooks/mpesa/{token}", h.MpesaWebhook)
	mux.HandleFunc("POST /webhooks/paypal", h.Webhook(domain.ProviderPaypal))
	mux.HandleFunc("POST /webhooks/paystack", h.Webhook(domain.ProviderPaystack))
	mux.HandleFunc("POST /webhooks/stripe", h.Webhook(domain.ProviderStripe))

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w, true)
	})
}
