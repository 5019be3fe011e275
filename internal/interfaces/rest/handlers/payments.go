package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/chebitoch007/django-mart-sub000/internal/application"
	"github.com/chebitoch007/django-mart-sub000/internal/application/services"
	"github.com/chebitoch007/django-mart-sub000/internal/domain"
	"github.com/chebitoch007/django-mart-sub000/internal/interfaces/rest"
)

type initiateRequest struct {
	OrderID     string `json:"order_id"`
	Provider    string `json:"provider"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	PhoneNumber string `json:"phone_number,omitempty"`
	PayerEmail  string `json:"payer_email,omitempty"`
}

type initiateResponse struct {
	Payment     rest.Payment `json:"payment"`
	RedirectURL string       `json:"redirect_url,omitempty"`
}

func (h *Handlers) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rest.WriteError(w, application.NewInvalidInputError(err))
		return
	}

	result, err := h.checkout.Initiate(r.Context(), services.InitiateCommand{
		OrderID:     req.OrderID,
		Provider:    domain.Provider(req.Provider),
		Amount:      req.Amount,
		Currency:    req.Currency,
		PhoneNumber: req.PhoneNumber,
		PayerEmail:  req.PayerEmail,
	})
	if err != nil {
		rest.WriteError(w, err)
		return
	}

	rest.WriteJSON(w, http.StatusCreated, initiateResponse{
		Payment:     rest.ToAPIPayment(result.Payment),
		RedirectURL: result.RedirectURL,
	})
}

func (h *Handlers) GetPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := h.checkout.GetPayment(r.Context(), r.PathValue("id"))
	if err != nil {
		rest.WriteError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, rest.ToAPIPayment(payment))
}

// VerifyPayment forces an active status check against the provider, the same
// path the background worker takes for stale payments.
func (h *Handlers) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	payment, _, err := h.engine.VerifyPayment(r.Context(), r.PathValue("id"))
	if err != nil {
		rest.WriteError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, rest.ToAPIPayment(payment))
}

func (h *Handlers) ListOrderPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.checkout.ListOrderPayments(r.Context(), r.PathValue("id"))
	if err != nil {
		rest.WriteError(w, err)
		return
	}

	views := make([]rest.Payment, 0, len(payments))
	for _, p := range payments {
		views = append(views, rest.ToAPIPayment(p))
	}
	rest.WriteJSON(w, http.StatusOK, views)
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if h.pinger != nil {
		if err := h.pinger.Ping(r.Context()); err != nil {
			h.logger.Error("health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
