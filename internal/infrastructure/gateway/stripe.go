package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chebitoch007/django-mart-sub000/internal/application"
	"github.com/chebitoch007/django-mart-sub000/internal/config"
	"github.com/chebitoch007/django-mart-sub000/internal/domain"
	"github.com/shopspring/decimal"
)

const stripeSignatureHeader = "Stripe-Signature"

// StripeClient drives PaymentIntents over the form-encoded Stripe API.
// Webhooks carry a Stripe-Signature header of the form
// "t=<unix>,v1=<hmac-sha256(t + \".\" + body)>" under the endpoint secret.
type StripeClient struct {
	cfg        config.StripeConfig
	httpClient *http.Client
	now        func() time.Time
}

func NewStripeClient(cfg config.StripeConfig) *StripeClient {
	return &StripeClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.ConnTimeout,
		},
		now: time.Now,
	}
}

func (c *StripeClient) Provider() domain.Provider {
	return domain.ProviderStripe
}

// Authenticate is a no-op: Stripe uses a static secret key on every call.
func (c *StripeClient) Authenticate(ctx context.Context) error {
	return nil
}

type stripePaymentIntent struct {
	ID       string          `json:"id"`
	Status   string          `json:"status"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Metadata struct {
		OrderID string `json:"order_id"`
	} `json:"metadata"`
	LatestCharge     string `json:"latest_charge"`
	LastPaymentError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_payment_error"`
	CancellationReason string `json:"cancellation_reason"`
}

func (c *StripeClient) Initiate(ctx context.Context, req application.InitiateRequest) (*application.InitiateResponse, error) {
	form := url.Values{}
	form.Set("amount", subunits(req.Amount))
	form.Set("currency", strings.ToLower(req.Amount.Currency))
	form.Set("metadata[order_id]", req.OrderID)
	form.Set("metadata[payment_id]", req.PaymentID)
	if req.PayerEmail != "" {
		form.Set("receipt_email", req.PayerEmail)
	}

	intent, raw, err := c.form(ctx, http.MethodPost, "/v1/payment_intents", form)
	if err != nil {
		return nil, err
	}

	return &application.InitiateResponse{
		CheckoutRequestID: intent.ID,
		Raw:               raw,
	}, nil
}

func (c *StripeClient) Verify(ctx context.Context, providerRef string) (*domain.ProviderEvent, error) {
	intent, raw, err := c.form(ctx, http.MethodGet, "/v1/payment_intents/"+url.PathEscape(providerRef), nil)
	if err != nil {
		return nil, err
	}
	return c.intentEvent(intent, raw, false), nil
}

func (c *StripeClient) form(ctx context.Context, method, path string, form url.Values) (*stripePaymentIntent, []byte, error) {
	var body any
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.SecretKey}
	if form != nil {
		body = []byte(form.Encode())
		headers["Content-Type"] = "application/x-www-form-urlencoded"
	}
	return sendRequest[stripePaymentIntent](ctx, c.httpClient, "stripe", method, c.cfg.BaseURL+path, headers, body)
}

type stripeWebhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripeCharge struct {
	ID            string `json:"id"`
	PaymentIntent string `json:"payment_intent"`
	Refunded      bool   `json:"refunded"`
}

func (c *StripeClient) ParseWebhook(ctx context.Context, body []byte, header http.Header) (*domain.ProviderEvent, error) {
	if err := c.verifySignature(body, header.Get(stripeSignatureHeader)); err != nil {
		return nil, err
	}

	var event stripeWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("malformed stripe webhook: %w", err)
	}

	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.canceled", "payment_intent.processing":
		var intent stripePaymentIntent
		if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
			return nil, fmt.Errorf("malformed payment_intent object: %w", err)
		}
		return c.intentEvent(&intent, body, false), nil

	case "charge.refunded":
		var charge stripeCharge
		if err := json.Unmarshal(event.Data.Object, &charge); err != nil {
			return nil, fmt.Errorf("malformed charge object: %w", err)
		}
		return &domain.ProviderEvent{
			Provider:          domain.ProviderStripe,
			CheckoutRequestID: charge.PaymentIntent,
			TransactionID:     charge.ID,
			Status:            domain.EventRefunded,
			ResultCode:        event.Type,
			OccurredAt:        c.now(),
			Raw:               body,
		}, nil

	default:
		// Unhandled event types are acknowledged but carry nothing to apply.
		return &domain.ProviderEvent{
			Provider:   domain.ProviderStripe,
			Status:     domain.EventPending,
			ResultCode: event.Type,
			OccurredAt: c.now(),
			Raw:        body,
		}, nil
	}
}

func (c *StripeClient) intentEvent(intent *stripePaymentIntent, raw []byte, refund bool) *domain.ProviderEvent {
	event := &domain.ProviderEvent{
		Provider:          domain.ProviderStripe,
		CheckoutRequestID: intent.ID,
		TransactionID:     intent.LatestCharge,
		ResultCode:        intent.Status,
		OccurredAt:        c.now(),
		Raw:               raw,
	}
	if intent.LastPaymentError != nil {
		event.ResultCode = intent.LastPaymentError.Code
		event.ResultDescription = intent.LastPaymentError.Message
	}
	if !intent.Amount.IsZero() && intent.Currency != "" {
		if money, err := fromSubunits(intent.Amount, strings.ToUpper(intent.Currency)); err == nil {
			event.Amount = &money
		}
	}

	if refund {
		event.Status = domain.EventRefunded
		return event
	}

	switch intent.Status {
	case "succeeded":
		event.Status = domain.EventSuccess
	case "canceled":
		event.Status = domain.EventCancelled
	case "processing", "requires_action", "requires_confirmation", "requires_capture":
		event.Status = domain.EventPending
	case "requires_payment_method":
		event.Status = domain.EventFailed
		event.FailureKind = classifyStripeFailure(intent.LastPaymentError)
	default:
		event.Status = domain.EventFailed
		event.FailureKind = domain.FailurePermanent
	}
	return event
}

func classifyStripeFailure(lastErr *struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}) domain.FailureType {
	if lastErr == nil {
		return domain.FailurePermanent
	}
	switch lastErr.Code {
	case "processing_error", "issuer_not_available", "try_again_later":
		return domain.FailureTemporary
	case "payment_intent_authentication_failure":
		return domain.FailurePermanent
	default:
		return domain.FailurePermanent
	}
}

// verifySignature checks the t=,v1= header scheme within the tolerance window.
func (c *StripeClient) verifySignature(body []byte, header string) error {
	if header == "" {
		return application.ErrInvalidSignature
	}

	var timestamp int64
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return application.ErrInvalidSignature
			}
			timestamp = ts
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if timestamp == 0 || len(signatures) == 0 {
		return application.ErrInvalidSignature
	}

	tolerance := c.cfg.Tolerance
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	age := c.now().Sub(time.Unix(timestamp, 0))
	if age > tolerance || age < -tolerance {
		return application.ErrInvalidSignature
	}

	signedPayload := strconv.FormatInt(timestamp, 10) + "." + string(body)
	mac := hmac.New(sha256.New, []byte(c.cfg.WebhookSecret))
	mac.Write([]byte(signedPayload))
	expected := mac.Sum(nil)

	for _, signature := range signatures {
		provided, err := hex.DecodeString(signature)
		if err != nil {
			continue
		}
		if hmac.Equal(expected, provided) {
			return nil
		}
	}
	return application.ErrInvalidSignature
}
