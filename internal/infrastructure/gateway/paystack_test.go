package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
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

const paystackTestKey = "sk_test_secret"

func signPaystack(body []byte) string {
	mac := hmac.New(sha512.New, []byte(paystackTestKey))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func newPaystackTestClient(baseURL string) *PaystackClient {
	return NewPaystackClient(config.PaystackConfig{
		BaseURL:   baseURL,
		SecretKey: paystackTestKey,
	})
}

func TestPaystackParseWebhook(t *testing.T) {
	ctx := context.Background()
	client := newPaystackTestClient("")

	t.Run("valid signature yields normalized success event", func(t *testing.T) {
		body := []byte(`{
			"event": "charge.success",
			"data": {
				"id": 302961,
				"status": "success",
				"reference": "pay-abc",
				"amount": 150000,
				"currency": "NGN",
				"gateway_response": "Successful"
			}
		}`)
		header := http.Header{}
		header.Set(paystackSignatureHeader, signPaystack(body))

		event, err := client.ParseWebhook(ctx, body, header)
		require.NoError(t, err)
		assert.Equal(t, domain.EventSuccess, event.Status)
		assert.Equal(t, "pay-abc", event.CheckoutRequestID)
		assert.Equal(t, "302961", event.TransactionID)
		require.NotNil(t, event.Amount)
		assert.Equal(t, "NGN", event.Amount.Currency)
		assert.True(t, event.Amount.Amount.Equal(decimal.RequireFromString("1500.00")),
			"kobo converted, got %s", event.Amount.Amount)
	})

	t.Run("missing signature is rejected", func(t *testing.T) {
		_, err := client.ParseWebhook(ctx, []byte(`{}`), http.Header{})
		assert.ErrorIs(t, err, application.ErrInvalidSignature)
	})

	t.Run("tampered body is rejected", func(t *testing.T) {
		body := []byte(`{"event":"charge.success","data":{"reference":"pay-abc","status":"success"}}`)
		header := http.Header{}
		header.Set(paystackSignatureHeader, signPaystack(body))

		tampered := []byte(`{"event":"charge.success","data":{"reference":"pay-evil","status":"success"}}`)
		_, err := client.ParseWebhook(ctx, tampered, header)
		assert.ErrorIs(t, err, application.ErrInvalidSignature)
	})

	t.Run("refund event", func(t *testing.T) {
		body := []byte(`{"event":"refund.processed","data":{"reference":"pay-abc","status":"processed"}}`)
		header := http.Header{}
		header.Set(paystackSignatureHeader, signPaystack(body))

		event, err := client.ParseWebhook(ctx, body, header)
		require.NoError(t, err)
		assert.Equal(t, domain.EventRefunded, event.Status)
	})

	t.Run("dispute stays pending", func(t *testing.T) {
		body := []byte(`{"event":"charge.dispute.create","data":{"reference":"pay-abc","status":"success"}}`)
		header := http.Header{}
		header.Set(paystackSignatureHeader, signPaystack(body))

		event, err := client.ParseWebhook(ctx, body, header)
		require.NoError(t, err)
		assert.Equal(t, domain.EventPending, event.Status)
	})

	t.Run("status mapping", func(t *testing.T) {
		tests := []struct {
			status   string
			response string
			want     domain.EventStatus
			wantKind domain.FailureType
		}{
			{"abandoned", "", domain.EventCancelled, ""},
			{"ongoing", "", domain.EventPending, ""},
			{"reversed", "", domain.EventRefunded, ""},
			{"failed", "Declined", domain.EventFailed, domain.FailurePermanent},
			{"failed", "timeout", domain.EventFailed, domain.FailureTimeout},
			{"failed", "Temporary failure, retry", domain.EventFailed, domain.FailureTemporary},
		}

		for _, tt := range tests {
			t.Run(tt.status+"/"+tt.response, func(t *testing.T) {
				tx := &paystackTransaction{
					Reference:       "pay-abc",
					Status:          tt.status,
					GatewayResponse: tt.response,
				}
				event := client.transactionEvent(tx, nil, false)
				assert.Equal(t, tt.want, event.Status)
				assert.Equal(t, tt.wantKind, event.FailureKind)
			})
		}
	})
}

func TestPaystackInitiate(t *testing.T) {
	ctx := context.Background()

	t.Run("sends subunit amount and returns authorization url", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/transaction/initialize", r.URL.Path)
			assert.Equal(t, "Bearer "+paystackTestKey, r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{
				"status": true,
				"data": {
					"authorization_url": "https://checkout.paystack.com/abc",
					"access_code": "abc",
					"reference": "pay-1"
				}
			}`))
		}))
		defer server.Close()

		client := newPaystackTestClient(server.URL)
		resp, err := client.Initiate(ctx, application.InitiateRequest{
			PaymentID:  "pay-1",
			OrderID:    "order-1",
			Amount:     domain.MustMoney("1500.00", "NGN"),
			PayerEmail: "buyer@example.com",
		})
		require.NoError(t, err)
		assert.Equal(t, "pay-1", resp.CheckoutRequestID)
		assert.Equal(t, "https://checkout.paystack.com/abc", resp.RedirectURL)
	})

	t.Run("requires payer email", func(t *testing.T) {
		client := newPaystackTestClient("")
		_, err := client.Initiate(ctx, application.InitiateRequest{
			PaymentID: "pay-1",
			Amount:    domain.MustMoney("1500.00", "NGN"),
		})
		require.Error(t, err)
		assert.True(t, domain.IsErrorCode(err, domain.ErrCodeMissingRequiredField))
	})

	t.Run("api-level failure becomes gateway error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status": false, "message": "Invalid key"}`))
		}))
		defer server.Close()

		client := newPaystackTestClient(server.URL)
		_, err := client.Initiate(ctx, application.InitiateRequest{
			PaymentID:  "pay-1",
			Amount:     domain.MustMoney("1500.00", "NGN"),
			PayerEmail: "buyer@example.com",
		})
		gwErr, ok := application.IsGatewayError(err)
		require.True(t, ok)
		assert.Equal(t, "initialize_failed", gwErr.Code)
	})
}

func TestSubunits(t *testing.T) {
	assert.Equal(t, "150000", subunits(domain.MustMoney("1500.00", "NGN")))
	assert.Equal(t, "1050", subunits(domain.MustMoney("10.50", "USD")))
	// Zero-decimal currencies go on the wire unshifted.
	assert.Equal(t, "500", subunits(domain.MustMoney("500", "JPY")))
	assert.Equal(t, "25000", subunits(domain.MustMoney("25000", "TZS")))
}

func TestFromSubunits(t *testing.T) {
	money, err := fromSubunits(decimal.NewFromInt(150000), "NGN")
	require.NoError(t, err)
	assert.True(t, money.Amount.Equal(decimal.RequireFromString("1500")))

	money, err = fromSubunits(decimal.NewFromInt(500), "JPY")
	require.NoError(t, err)
	assert.True(t, money.Amount.Equal(decimal.NewFromInt(500)))

	_, err = fromSubunits(decimal.NewFromInt(100), "XXX")
	require.Error(t, err)
}
