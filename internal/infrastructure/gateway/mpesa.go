package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/chebitoch007/django-mart-sub000/internal/application"
	"github.com/chebitoch007/django-mart-sub000/internal/config"
	"github.com/chebitoch007/django-mart-sub000/internal/domain"
	"github.com/shopspring/decimal"
)

// MpesaCallbackTokenHeader carries the secret path segment of the callback
// URL into ParseWebhook. Daraja callbacks are not signed, so authenticity
// rests on the unguessable callback URL issued at initiation.
const MpesaCallbackTokenHeader = "X-Callback-Token"

// MpesaClient speaks the Daraja STK push API: OAuth client-credentials token,
// processrequest to initiate, stkpushquery to verify, async callback with a
// numeric ResultCode.
type MpesaClient struct {
	cfg        config.MpesaConfig
	httpClient *http.Client
	creds      credentialCache
	now        func() time.Time
}

func NewMpesaClient(cfg config.MpesaConfig) *MpesaClient {
	return &MpesaClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.ConnTimeout,
		},
		now: time.Now,
	}
}

func (c *MpesaClient) Provider() domain.Provider {
	return domain.ProviderMpesa
}

type mpesaTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

func (c *MpesaClient) Authenticate(ctx context.Context) error {
	if _, ok := c.creds.get(); ok {
		return nil
	}

	basic := base64.StdEncoding.EncodeToString([]byte(c.cfg.ConsumerKey + ":" + c.cfg.ConsumerSecret))
	url := fmt.Sprintf("%s/oauth/v1/generate?grant_type=client_credentials", c.cfg.BaseURL)

	resp, _, err := sendRequest[mpesaTokenResponse](ctx, c.httpClient, "mpesa", http.MethodGet, url,
		map[string]string{"Authorization": "Basic " + basic}, nil)
	if err != nil {
		return err
	}

	ttlSeconds, err := strconv.Atoi(resp.ExpiresIn)
	if err != nil || ttlSeconds <= 0 {
		ttlSeconds = 3600
	}
	c.creds.set(resp.AccessToken, time.Duration(ttlSeconds)*time.Second)
	return nil
}

func (c *MpesaClient) bearer(ctx context.Context) (string, error) {
	if token, ok := c.creds.get(); ok {
		return token, nil
	}
	if err := c.Authenticate(ctx); err != nil {
		return "", err
	}
	token, _ := c.creds.get()
	return token, nil
}

// password builds base64(shortcode + passkey + timestamp) per Daraja.
func (c *MpesaClient) password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.cfg.ShortCode + c.cfg.Passkey + timestamp))
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            string `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
}

func (c *MpesaClient) Initiate(ctx context.Context, req application.InitiateRequest) (*application.InitiateResponse, error) {
	token, err := c.bearer(ctx)
	if err != nil {
		return nil, err
	}

	if req.PhoneNumber == "" {
		return nil, domain.NewMissingRequiredFieldError("phone number")
	}

	timestamp := c.now().Format("20060102150405")
	body := stkPushRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          c.password(timestamp),
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		// Daraja takes whole currency units.
		Amount:           req.Amount.Amount.Round(0).String(),
		PartyA:           req.PhoneNumber,
		PartyB:           c.cfg.ShortCode,
		PhoneNumber:      req.PhoneNumber,
		CallBackURL:      req.CallbackURL,
		AccountReference: req.OrderID,
		TransactionDesc:  "Order " + req.OrderID,
	}

	url := fmt.Sprintf("%s/mpesa/stkpush/v1/processrequest", c.cfg.BaseURL)
	resp, raw, err := c.authorized(ctx, token, func(bearerToken string) (*stkPushResponse, []byte, error) {
		return sendRequest[stkPushResponse](ctx, c.httpClient, "mpesa", http.MethodPost, url,
			map[string]string{"Authorization": "Bearer " + bearerToken}, body)
	})
	if err != nil {
		return nil, err
	}

	if resp.ResponseCode != "0" {
		return nil, &application.GatewayError{
			Provider:   "mpesa",
			Code:       resp.ResponseCode,
			Message:    resp.ResponseDescription,
			StatusCode: http.StatusOK,
		}
	}

	return &application.InitiateResponse{
		CheckoutRequestID: resp.CheckoutRequestID,
		Raw:               raw,
	}, nil
}

// authorized runs one token-bearing call and refreshes the credential once on 401.
func (c *MpesaClient) authorized(ctx context.Context, token string, call func(token string) (*stkPushResponse, []byte, error)) (*stkPushResponse, []byte, error) {
	resp, raw, err := call(token)
	if err != nil && isUnauthorized(err) {
		c.creds.invalidate()
		refreshed, authErr := c.bearer(ctx)
		if authErr != nil {
			return nil, nil, authErr
		}
		return call(refreshed)
	}
	return resp, raw, err
}

type stkQueryResponse struct {
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	ResultCode          string `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
}

func (c *MpesaClient) Verify(ctx context.Context, providerRef string) (*domain.ProviderEvent, error) {
	token, err := c.bearer(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := c.now().Format("20060102150405")
	body := map[string]string{
		"BusinessShortCode": c.cfg.ShortCode,
		"Password":          c.password(timestamp),
		"Timestamp":         timestamp,
		"CheckoutRequestID": providerRef,
	}

	url := fmt.Sprintf("%s/mpesa/stkpushquery/v1/query", c.cfg.BaseURL)
	resp, raw, err := sendRequest[stkQueryResponse](ctx, c.httpClient, "mpesa", http.MethodPost, url,
		map[string]string{"Authorization": "Bearer " + token}, body)
	if err != nil {
		if isUnauthorized(err) {
			c.creds.invalidate()
		}
		return nil, err
	}

	event := &domain.ProviderEvent{
		Provider:          domain.ProviderMpesa,
		CheckoutRequestID: providerRef,
		ResultCode:        resp.ResultCode,
		ResultDescription: resp.ResultDesc,
		OccurredAt:        c.now(),
		Raw:               raw,
	}
	event.Status, event.FailureKind = classifyMpesaResult(resp.ResultCode)
	return event, nil
}

type mpesaCallback struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string          `json:"Name"`
					Value json.RawMessage `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

func (c *MpesaClient) ParseWebhook(ctx context.Context, body []byte, header http.Header) (*domain.ProviderEvent, error) {
	token := header.Get(MpesaCallbackTokenHeader)
	if subtle.ConstantTimeCompare([]byte(token), []byte(c.cfg.CallbackSecret)) != 1 {
		return nil, application.ErrInvalidSignature
	}

	var callback mpesaCallback
	if err := json.Unmarshal(body, &callback); err != nil {
		return nil, fmt.Errorf("malformed mpesa callback: %w", err)
	}

	stk := callback.Body.StkCallback
	if stk.CheckoutRequestID == "" {
		return nil, domain.NewMissingRequiredFieldError("CheckoutRequestID")
	}

	resultCode := strconv.Itoa(stk.ResultCode)
	event := &domain.ProviderEvent{
		Provider:          domain.ProviderMpesa,
		CheckoutRequestID: stk.CheckoutRequestID,
		ResultCode:        resultCode,
		ResultDescription: stk.ResultDesc,
		OccurredAt:        c.now(),
		Raw:               body,
	}
	event.Status, event.FailureKind = classifyMpesaResult(resultCode)

	for _, item := range stk.CallbackMetadata.Item {
		switch item.Name {
		case "MpesaReceiptNumber":
			var receipt string
			if err := json.Unmarshal(item.Value, &receipt); err == nil {
				event.TransactionID = receipt
			}
		case "Amount":
			var amount decimal.Decimal
			if err := json.Unmarshal(item.Value, &amount); err == nil {
				if money, moneyErr := domain.NewMoney(amount, "KES"); moneyErr == nil {
					event.Amount = &money
				}
			}
		}
	}

	return event, nil
}

// classifyMpesaResult maps Daraja result codes onto the normalized event
// statuses. 0 is success, 1032 a user cancel; the subscriber-unreachable and
// system-busy classes are retryable.
func classifyMpesaResult(resultCode string) (domain.EventStatus, domain.FailureType) {
	switch resultCode {
	case "0":
		return domain.EventSuccess, ""
	case "1032":
		return domain.EventCancelled, ""
	case "1037":
		// DS timeout: user cannot be reached.
		return domain.EventFailed, domain.FailureTimeout
	case "1001", "SVC0403":
		return domain.EventFailed, domain.FailureTemporary
	case "4999", "500.001.1001":
		// Still being processed.
		return domain.EventPending, ""
	default:
		return domain.EventFailed, domain.FailurePermanent
	}
}
