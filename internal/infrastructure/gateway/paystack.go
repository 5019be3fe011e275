package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/chebitoch007/django-mart-sub000/internal/application"
	"github.com/chebitoch007/django-mart-sub000/internal/config"
	"github.com/chebitoch007/django-mart-sub000/internal/domain"
	"github.com/shopspring/decimal"
)

const paystackSignatureHeader = "X-Paystack-Signature"

// PaystackClient initializes and verifies transactions over the Paystack REST
// API. Webhooks are authenticated with an HMAC-SHA512 of the raw body under
// the secret key, delivered in X-Paystack-Signature.
type PaystackClient struct {
	cfg        config.PaystackConfig
	httpClient *http.Client
	now        func() time.Time
}

func NewPaystackClient(cfg config.PaystackConfig) *PaystackClient {
	return &PaystackClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.ConnTimeout,
		},
		now: time.Now,
	}
}

func (c *PaystackClient) Provider() domain.Provider {
	return domain.ProviderPaystack
}

// Authenticate is a no-op: Paystack uses a static secret key on every call.
func (c *PaystackClient) Authenticate(ctx context.Context) error {
	return nil
}

func (c *PaystackClient) authHeader() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.cfg.SecretKey}
}

type paystackInitializeResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

func (c *PaystackClient) Initiate(ctx context.Context, req application.InitiateRequest) (*application.InitiateResponse, error) {
	if req.PayerEmail == "" {
		return nil, domain.NewMissingRequiredFieldError("payer email")
	}

	body := map[string]any{
		"email": req.PayerEmail,
		// Paystack amounts are in the currency's subunit (kobo for NGN).
		"amount":       subunits(req.Amount),
		"currency":     req.Amount.Currency,
		"reference":    req.PaymentID,
		"callback_url": req.CallbackURL,
		"metadata":     map[string]string{"order_id": req.OrderID},
	}

	initURL := fmt.Sprintf("%s/transaction/initialize", c.cfg.BaseURL)
	resp, raw, err := sendRequest[paystackInitializeResponse](ctx, c.httpClient, "paystack", http.MethodPost, initURL, c.authHeader(), body)
	if err != nil {
		return nil, err
	}
	if !resp.Status {
		return nil, &application.GatewayError{
			Provider:   "paystack",
			Code:       "initialize_failed",
			Message:    resp.Message,
			StatusCode: http.StatusOK,
		}
	}

	return &application.InitiateResponse{
		CheckoutRequestID: resp.Data.Reference,
		RedirectURL:       resp.Data.AuthorizationURL,
		Raw:               raw,
	}, nil
}

type paystackTransaction struct {
	ID              int64           `json:"id"`
	Status          string          `json:"status"`
	Reference       string          `json:"reference"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	GatewayResponse string          `json:"gateway_response"`
}

type paystackVerifyResponse struct {
	Status  bool                `json:"status"`
	Message string              `json:"message"`
	Data    paystackTransaction `json:"data"`
}

func (c *PaystackClient) Verify(ctx context.Context, providerRef string) (*domain.ProviderEvent, error) {
	verifyURL := fmt.Sprintf("%s/transaction/verify/%s", c.cfg.BaseURL, url.PathEscape(providerRef))
	resp, raw, err := sendRequest[paystackVerifyResponse](ctx, c.httpClient, "paystack", http.MethodGet, verifyURL, c.authHeader(), nil)
	if err != nil {
		return nil, err
	}

	return c.transactionEvent(&resp.Data, raw, false), nil
}

type paystackWebhook struct {
	Event string              `json:"event"`
	Data  paystackTransaction `json:"data"`
}

func (c *PaystackClient) ParseWebhook(ctx context.Context, body []byte, header http.Header) (*domain.ProviderEvent, error) {
	signature := header.Get(paystackSignatureHeader)
	if !verifyHMACHex(sha512.New, []byte(c.cfg.SecretKey), body, signature) {
		return nil, application.ErrInvalidSignature
	}

	var webhook paystackWebhook
	if err := json.Unmarshal(body, &webhook); err != nil {
		return nil, fmt.Errorf("malformed paystack webhook: %w", err)
	}
	if webhook.Data.Reference == "" {
		return nil, domain.NewMissingRequiredFieldError("reference")
	}

	event := c.transactionEvent(&webhook.Data, body, webhook.Event == "refund.processed")
	if webhook.Event == "charge.dispute.create" {
		// Disputes are surfaced to operators through the raw payload; the
		// payment itself stays in its current state until resolution.
		event.Status = domain.EventPending
	}
	return event, nil
}

func (c *PaystackClient) transactionEvent(tx *paystackTransaction, raw []byte, refund bool) *domain.ProviderEvent {
	event := &domain.ProviderEvent{
		Provider:          domain.ProviderPaystack,
		CheckoutRequestID: tx.Reference,
		ResultCode:        tx.Status,
		ResultDescription: tx.GatewayResponse,
		OccurredAt:        c.now(),
		Raw:               raw,
	}
	if tx.ID != 0 {
		event.TransactionID = strconv.FormatInt(tx.ID, 10)
	}
	if !tx.Amount.IsZero() && tx.Currency != "" {
		if money, err := fromSubunits(tx.Amount, tx.Currency); err == nil {
			event.Amount = &money
		}
	}

	if refund {
		event.Status = domain.EventRefunded
		return event
	}

	switch tx.Status {
	case "success":
		event.Status = domain.EventSuccess
	case "abandoned":
		event.Status = domain.EventCancelled
	case "ongoing", "pending", "processing", "queued":
		event.Status = domain.EventPending
	case "reversed":
		event.Status = domain.EventRefunded
	case "failed":
		event.Status = domain.EventFailed
		event.FailureKind = classifyPaystackFailure(tx.GatewayResponse)
	default:
		event.Status = domain.EventFailed
		event.FailureKind = domain.FailurePermanent
	}
	return event
}

func classifyPaystackFailure(gatewayResponse string) domain.FailureType {
	switch gatewayResponse {
	case "timeout", "Transaction timeout":
		return domain.FailureTimeout
	case "Pending validation", "Temporary failure, retry":
		return domain.FailureTemporary
	default:
		return domain.FailurePermanent
	}
}

// subunits renders a Money in the provider's integer subunit convention,
// shifted by the currency's own minor units: kobo for NGN, cents for USD,
// and no shift at all for zero-decimal currencies like JPY.
func subunits(m domain.Money) string {
	return m.Amount.Shift(domain.MinorUnits(m.Currency)).Round(0).String()
}

// fromSubunits reverses subunits for provider-reported amounts.
func fromSubunits(amount decimal.Decimal, currency string) (domain.Money, error) {
	return domain.NewMoney(amount.Shift(-domain.MinorUnits(currency)), currency)
}

// verifyHMACHex computes an HMAC of body under key with the given hash and
// compares it, constant-time, against a hex-encoded signature.
func verifyHMACHex(h func() hash.Hash, key, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(h, key)
	mac.Write(body)
	expected := mac.Sum(nil)

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, provided)
}
