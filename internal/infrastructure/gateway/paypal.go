package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chebitoch007/django-mart-sub000/internal/application"
	"github.com/chebitoch007/django-mart-sub000/internal/config"
	"github.com/chebitoch007/django-mart-sub000/internal/domain"
	"github.com/shopspring/decimal"
)

// PaypalClient creates checkout orders over the REST API and reconciles IPN
// messages. IPN authenticity is delegated to PayPal itself: the raw message is
// posted back to the verification endpoint, which checks the certificate
// chain and answers VERIFIED or INVALID.
type PaypalClient struct {
	cfg        config.PaypalConfig
	httpClient *http.Client
	creds      credentialCache
	now        func() time.Time
}

func NewPaypalClient(cfg config.PaypalConfig) *PaypalClient {
	return &PaypalClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.ConnTimeout,
		},
		now: time.Now,
	}
}

func (c *PaypalClient) Provider() domain.Provider {
	return domain.ProviderPaypal
}

type paypalTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (c *PaypalClient) Authenticate(ctx context.Context) error {
	if _, ok := c.creds.get(); ok {
		return nil
	}

	basic := base64.StdEncoding.EncodeToString([]byte(c.cfg.ClientID + ":" + c.cfg.Secret))
	tokenURL := fmt.Sprintf("%s/v1/oauth2/token", c.cfg.BaseURL)

	form := []byte("grant_type=client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, bytes.NewReader(form))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, _, err := doJSON[paypalTokenResponse](c.httpClient, req, "paypal")
	if err != nil {
		return err
	}

	ttl := time.Duration(resp.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	c.creds.set(resp.AccessToken, ttl)
	return nil
}

func (c *PaypalClient) bearer(ctx context.Context) (string, error) {
	if token, ok := c.creds.get(); ok {
		return token, nil
	}
	if err := c.Authenticate(ctx); err != nil {
		return "", err
	}
	token, _ := c.creds.get()
	return token, nil
}

type paypalOrderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Links  []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
				Amount struct {
					CurrencyCode string `json:"currency_code"`
					Value        string `json:"value"`
				} `json:"amount"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

func (c *PaypalClient) Initiate(ctx context.Context, req application.InitiateRequest) (*application.InitiateResponse, error) {
	token, err := c.bearer(ctx)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{
			{
				"reference_id": req.OrderID,
				"custom_id":    req.PaymentID,
				"amount": map[string]string{
					"currency_code": req.Amount.Currency,
					"value":         req.Amount.Round().Amount.StringFixed(2),
				},
			},
		},
		"application_context": map[string]string{
			"return_url": req.CallbackURL,
		},
	}

	createURL := fmt.Sprintf("%s/v2/checkout/orders", c.cfg.BaseURL)
	resp, raw, err := sendRequest[paypalOrderResponse](ctx, c.httpClient, "paypal", http.MethodPost, createURL,
		map[string]string{"Authorization": "Bearer " + token}, body)
	if err != nil {
		if isUnauthorized(err) {
			c.creds.invalidate()
		}
		return nil, err
	}

	out := &application.InitiateResponse{
		CheckoutRequestID: resp.ID,
		Raw:               raw,
	}
	for _, link := range resp.Links {
		if link.Rel == "approve" {
			out.RedirectURL = link.Href
		}
	}
	return out, nil
}

func (c *PaypalClient) Verify(ctx context.Context, providerRef string) (*domain.ProviderEvent, error) {
	token, err := c.bearer(ctx)
	if err != nil {
		return nil, err
	}

	getURL := fmt.Sprintf("%s/v2/checkout/orders/%s", c.cfg.BaseURL, url.PathEscape(providerRef))
	resp, raw, err := sendRequest[paypalOrderResponse](ctx, c.httpClient, "paypal", http.MethodGet, getURL,
		map[string]string{"Authorization": "Bearer " + token}, nil)
	if err != nil {
		if isUnauthorized(err) {
			c.creds.invalidate()
		}
		return nil, err
	}

	event := &domain.ProviderEvent{
		Provider:          domain.ProviderPaypal,
		CheckoutRequestID: providerRef,
		ResultCode:        resp.Status,
		OccurredAt:        c.now(),
		Raw:               raw,
	}

	switch resp.Status {
	case "COMPLETED":
		event.Status = domain.EventSuccess
		for _, pu := range resp.PurchaseUnits {
			for _, capture := range pu.Payments.Captures {
				event.TransactionID = capture.ID
				if amount, parseErr := decimal.NewFromString(capture.Amount.Value); parseErr == nil {
					if money, moneyErr := domain.NewMoney(amount, capture.Amount.CurrencyCode); moneyErr == nil {
						event.Amount = &money
					}
				}
			}
		}
	case "VOIDED":
		event.Status = domain.EventCancelled
	case "CREATED", "SAVED", "APPROVED", "PAYER_ACTION_REQUIRED":
		event.Status = domain.EventPending
	default:
		event.Status = domain.EventFailed
		event.FailureKind = domain.FailurePermanent
	}
	return event, nil
}

// ParseWebhook handles an IPN message. The body is form-encoded; it is echoed
// back to PayPal with cmd=_notify-validate and only a VERIFIED answer lets
// any field be read.
func (c *PaypalClient) ParseWebhook(ctx context.Context, body []byte, header http.Header) (*domain.ProviderEvent, error) {
	verified, err := c.verifyIPN(ctx, body)
	if err != nil {
		return nil, err
	}
	if !verified {
		return nil, application.ErrInvalidSignature
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("malformed ipn body: %w", err)
	}

	event := &domain.ProviderEvent{
		Provider:          domain.ProviderPaypal,
		CheckoutRequestID: values.Get("custom"),
		TransactionID:     values.Get("txn_id"),
		ResultCode:        values.Get("payment_status"),
		ResultDescription: firstNonEmpty(values.Get("reason_code"), values.Get("pending_reason")),
		OccurredAt:        c.now(),
		Raw:               body,
	}

	if gross := values.Get("mc_gross"); gross != "" {
		if amount, parseErr := decimal.NewFromString(strings.TrimPrefix(gross, "-")); parseErr == nil {
			if money, moneyErr := domain.NewMoney(amount, values.Get("mc_currency")); moneyErr == nil {
				event.Amount = &money
			}
		}
	}

	switch values.Get("payment_status") {
	case "Completed":
		event.Status = domain.EventSuccess
	case "Refunded", "Reversed":
		event.Status = domain.EventRefunded
		// The refund IPN carries its own txn_id; the original sale is in
		// parent_txn_id.
		if parent := values.Get("parent_txn_id"); parent != "" {
			event.TransactionID = parent
		}
	case "Pending", "In-Progress":
		event.Status = domain.EventPending
	case "Denied", "Failed", "Expired":
		event.Status = domain.EventFailed
		event.FailureKind = domain.FailurePermanent
	case "Voided", "Canceled_Reversal":
		event.Status = domain.EventCancelled
	default:
		event.Status = domain.EventFailed
		event.FailureKind = domain.FailurePermanent
	}

	return event, nil
}

func (c *PaypalClient) verifyIPN(ctx context.Context, body []byte) (bool, error) {
	payload := append([]byte("cmd=_notify-validate&"), body...)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.IPNURL, bytes.NewReader(payload))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("ipn verification request failed: %w", err)
	}
	defer resp.Body.Close()

	answer, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return false, fmt.Errorf("reading ipn verification response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return false, &application.GatewayError{
			Provider:   "paypal",
			Code:       "ipn_verification_failed",
			Message:    string(answer),
			StatusCode: resp.StatusCode,
		}
	}

	return strings.TrimSpace(string(answer)) == "VERIFIED", nil
}

// doJSON is sendRequest for callers that build their own *http.Request.
func doJSON[Resp any](client *http.Client, req *http.Request, provider string) (*Resp, []byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("error reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, raw, &application.GatewayError{
			Provider:   provider,
			Code:       "http_" + fmt.Sprint(resp.StatusCode),
			Message:    string(raw),
			StatusCode: resp.StatusCode,
		}
	}

	var decoded Resp
	if err := unmarshalJSON(raw, &decoded); err != nil {
		return nil, raw, err
	}
	return &decoded, raw, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
