package handlers

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/VictoriaMetrics/metrics"
	"github.com/chebitoch007/django-mart-sub000/internal/application"
	"github.com/chebitoch007/django-mart-sub000/internal/domain"
	"github.com/chebitoch007/django-mart-sub000/internal/infrastructure/gateway"
	"github.com/chebitoch007/django-mart-sub000/internal/interfaces/rest"
)

const maxWebhookBody = 1 << 20 // 1 MiB

// Webhook returns the handler for one provider's webhook endpoint. The raw
// body is read once and handed to the gateway untouched; signature schemes
// sign the exact bytes on the wire.
func (h *Handlers) Webhook(provider domain.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.handleWebhook(w, r, provider)
	}
}

// MpesaWebhook authenticates the Daraja callback by its secret path segment
// and forwards it through the common path. The token moves into a header so
// the gateway client can run its constant-time check like any other scheme.
func (h *Handlers) MpesaWebhook(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.mpesaCallbackSecret)) != 1 {
		webhookCounter(domain.ProviderMpesa, "invalid_signature").Inc()
		rest.WriteError(w, application.ErrInvalidSignature)
		return
	}
	r.Header.Set(gateway.MpesaCallbackTokenHeader, token)
	h.handleWebhook(w, r, domain.ProviderMpesa)
}

func (h *Handlers) handleWebhook(w http.ResponseWriter, r *http.Request, provider domain.Provider) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		webhookCounter(provider, "read_error").Inc()
		rest.WriteError(w, application.NewInvalidInputError(err))
		return
	}

	payment, changed, err := h.engine.HandleWebhook(r.Context(), provider, body, r.Header)
	if err != nil {
		webhookCounter(provider, outcomeLabel(err)).Inc()
		h.logger.Warn("webhook rejected",
			"provider", provider,
			"category", application.CategorizeError(err),
			"error", err,
		)
		rest.WriteError(w, err)
		return
	}

	switch {
	case payment == nil:
		webhookCounter(provider, "ignored").Inc()
	case changed:
		webhookCounter(provider, "applied").Inc()
	default:
		webhookCounter(provider, "duplicate").Inc()
	}

	// Providers only need the acknowledgement; M-Pesa additionally expects a
	// zero ResultCode in the body.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if provider == domain.ProviderMpesa {
		w.Write([]byte(`{"ResultCode":0,"ResultDesc":"Accepted"}`))
		return
	}
	w.Write([]byte(`{"success":true}`))
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, application.ErrInvalidSignature):
		return "invalid_signature"
	case domain.IsErrorCode(err, domain.ErrCodePaymentNotFound):
		return "unknown_payment"
	case domain.IsErrorCode(err, domain.ErrCodeInvalidTransition):
		return "invalid_transition"
	default:
		return "error"
	}
}

func webhookCounter(provider domain.Provider, outcome string) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(
		`webhook_deliveries_total{provider=%q,outcome=%q}`, provider, outcome))
}
