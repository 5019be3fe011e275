package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chebitoch007/django-mart-sub000/internal/application"
	"github.com/chebitoch007/django-mart-sub000/internal/config"
	"github.com/chebitoch007/django-mart-sub000/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mpesaTestCallbackSecret = "callback-secret"

func newMpesaTestClient(baseURL string) *MpesaClient {
	return NewMpesaClient(config.MpesaConfig{
		BaseURL:        baseURL,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		ShortCode:      "174379",
		Passkey:        "passkey",
		CallbackSecret: mpesaTestCallbackSecret,
	})
}

func mpesaHeader(token string) http.Header {
	header := http.Header{}
	header.Set(MpesaCallbackTokenHeader, token)
	return header
}

func TestMpesaParseWebhook(t *testing.T) {
	ctx := context.Background()
	client := newMpesaTestClient("")

	t.Run("success callback parses receipt and amount", func(t *testing.T) {
		body := []byte(`{
			"Body": {"stkCallback": {
				"MerchantRequestID": "29115-34620561-1",
				"CheckoutRequestID": "ws_CO_191220191020363925",
				"ResultCode": 0,
				"ResultDesc": "The service request is processed successfully.",
				"CallbackMetadata": {"Item": [
					{"Name": "Amount", "Value": 1500.00},
					{"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
					{"Name": "PhoneNumber", "Value": 254712345678}
				]}
			}}
		}`)

		event, err := client.ParseWebhook(ctx, body, mpesaHeader(mpesaTestCallbackSecret))
		require.NoError(t, err)
		assert.Equal(t, domain.EventSuccess, event.Status)
		assert.Equal(t, "ws_CO_191220191020363925", event.CheckoutRequestID)
		assert.Equal(t, "NLJ7RT61SV", event.TransactionID)
		require.NotNil(t, event.Amount)
		assert.Equal(t, "KES", event.Amount.Currency)
		assert.True(t, event.Amount.Amount.Equal(decimal.RequireFromString("1500")))
	})

	t.Run("wrong callback token is rejected", func(t *testing.T) {
		body := []byte(`{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1","ResultCode":0}}}`)
		_, err := client.ParseWebhook(ctx, body, mpesaHeader("guessed-token"))
		assert.ErrorIs(t, err, application.ErrInvalidSignature)

		_, err = client.ParseWebhook(ctx, body, http.Header{})
		assert.ErrorIs(t, err, application.ErrInvalidSignature)
	})

	t.Run("user cancel callback", func(t *testing.T) {
		body := []byte(`{
			"Body": {"stkCallback": {
				"CheckoutRequestID": "ws_CO_1",
				"ResultCode": 1032,
				"ResultDesc": "Request cancelled by user"
			}}
		}`)

		event, err := client.ParseWebhook(ctx, body, mpesaHeader(mpesaTestCallbackSecret))
		require.NoError(t, err)
		assert.Equal(t, domain.EventCancelled, event.Status)
	})

	t.Run("callback without checkout request id is rejected", func(t *testing.T) {
		body := []byte(`{"Body":{"stkCallback":{"ResultCode":0}}}`)
		_, err := client.ParseWebhook(ctx, body, mpesaHeader(mpesaTestCallbackSecret))
		require.Error(t, err)
		assert.True(t, domain.IsErrorCode(err, domain.ErrCodeMissingRequiredField))
	})
}

func TestClassifyMpesaResult(t *testing.T) {
	tests := []struct {
		code     string
		want     domain.EventStatus
		wantKind domain.FailureType
	}{
		{"0", domain.EventSuccess, ""},
		{"1032", domain.EventCancelled, ""},
		{"1037", domain.EventFailed, domain.FailureTimeout},
		{"1001", domain.EventFailed, domain.FailureTemporary},
		{"SVC0403", domain.EventFailed, domain.FailureTemporary},
		{"4999", domain.EventPending, ""},
		{"500.001.1001", domain.EventPending, ""},
		{"2001", domain.EventFailed, domain.FailurePermanent},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			status, kind := classifyMpesaResult(tt.code)
			assert.Equal(t, tt.want, status)
			assert.Equal(t, tt.wantKind, kind)
		})
	}
}

func TestMpesaInitiate(t *testing.T) {
	ctx := context.Background()

	t.Run("authenticates then pushes stk request", func(t *testing.T) {
		var pushed stkPushRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			switch r.URL.Path {
			case "/oauth/v1/generate":
				assert.NotEmpty(t, r.Header.Get("Authorization"))
				w.Write([]byte(`{"access_token":"tok-1","expires_in":"3599"}`))
			case "/mpesa/stkpush/v1/processrequest":
				assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
				require.NoError(t, json.NewDecoder(r.Body).Decode(&pushed))
				w.Write([]byte(`{
					"MerchantRequestID": "29115-34620561-1",
					"CheckoutRequestID": "ws_CO_191220191020363925",
					"ResponseCode": "0",
					"ResponseDescription": "Success. Request accepted for processing"
				}`))
			default:
				t.Errorf("unexpected path %s", r.URL.Path)
			}
		}))
		defer server.Close()

		client := newMpesaTestClient(server.URL)
		resp, err := client.Initiate(ctx, application.InitiateRequest{
			PaymentID:   "pay-1",
			OrderID:     "order-1",
			Amount:      domain.MustMoney("1500.00", "KES"),
			PhoneNumber: "254712345678",
			CallbackURL: "https://pay.example.com/webhooks/mpesa/" + mpesaTestCallbackSecret,
		})
		require.NoError(t, err)
		assert.Equal(t, "ws_CO_191220191020363925", resp.CheckoutRequestID)

		assert.Equal(t, "174379", pushed.BusinessShortCode)
		assert.Equal(t, "1500", pushed.Amount)
		assert.Equal(t, "254712345678", pushed.PhoneNumber)
		assert.Equal(t, "order-1", pushed.AccountReference)
		assert.NotEmpty(t, pushed.Password)
	})

	t.Run("non-zero response code is a gateway error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if r.URL.Path == "/oauth/v1/generate" {
				w.Write([]byte(`{"access_token":"tok-1","expires_in":"3599"}`))
				return
			}
			w.Write([]byte(`{"ResponseCode":"1","ResponseDescription":"Insufficient balance"}`))
		}))
		defer server.Close()

		client := newMpesaTestClient(server.URL)
		_, err := client.Initiate(ctx, application.InitiateRequest{
			PaymentID:   "pay-1",
			OrderID:     "order-1",
			Amount:      domain.MustMoney("1500.00", "KES"),
			PhoneNumber: "254712345678",
		})
		gwErr, ok := application.IsGatewayError(err)
		require.True(t, ok)
		assert.Equal(t, "1", gwErr.Code)
	})

	t.Run("requires phone number", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token":"tok-1","expires_in":"3599"}`))
		}))
		defer server.Close()

		client := newMpesaTestClient(server.URL)
		_, err := client.Initiate(ctx, application.InitiateRequest{
			PaymentID: "pay-1",
			Amount:    domain.MustMoney("1500.00", "KES"),
		})
		require.Error(t, err)
		assert.True(t, domain.IsErrorCode(err, domain.ErrCodeMissingRequiredField))
	})
}
