package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/chebitoch007/django-mart-sub000/internal/application"
	"github.com/chebitoch007/django-mart-sub000/internal/config"
	"github.com/chebitoch007/django-mart-sub000/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stripeTestSecret = "whsec_test"

func signStripe(body []byte, ts time.Time) string {
	payload := fmt.Sprintf("%d.%s", ts.Unix(), body)
	mac := hmac.New(sha256.New, []byte(stripeTestSecret))
	mac.Write([]byte(payload))
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func newStripeTestClient(now time.Time) *StripeClient {
	client := NewStripeClient(config.StripeConfig{
		WebhookSecret: stripeTestSecret,
		Tolerance:     5 * time.Minute,
	})
	client.now = func() time.Time { return now }
	return client
}

func TestStripeParseWebhook(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("succeeded intent", func(t *testing.T) {
		client := newStripeTestClient(now)
		body := []byte(`{
			"id": "evt_1",
			"type": "payment_intent.succeeded",
			"data": {"object": {
				"id": "pi_123",
				"status": "succeeded",
				"amount": 1050,
				"currency": "usd",
				"latest_charge": "ch_123"
			}}
		}`)
		header := http.Header{}
		header.Set(stripeSignatureHeader, signStripe(body, now))

		event, err := client.ParseWebhook(ctx, body, header)
		require.NoError(t, err)
		assert.Equal(t, domain.EventSuccess, event.Status)
		assert.Equal(t, "pi_123", event.CheckoutRequestID)
		assert.Equal(t, "ch_123", event.TransactionID)
		require.NotNil(t, event.Amount)
		assert.Equal(t, "USD", event.Amount.Currency)
		assert.True(t, event.Amount.Amount.Equal(decimal.RequireFromString("10.50")))
	})

	t.Run("zero-decimal currency amount is not shifted", func(t *testing.T) {
		client := newStripeTestClient(now)
		body := []byte(`{
			"id": "evt_jpy",
			"type": "payment_intent.succeeded",
			"data": {"object": {
				"id": "pi_jpy",
				"status": "succeeded",
				"amount": 500,
				"currency": "jpy",
				"latest_charge": "ch_jpy"
			}}
		}`)
		header := http.Header{}
		header.Set(stripeSignatureHeader, signStripe(body, now))

		event, err := client.ParseWebhook(ctx, body, header)
		require.NoError(t, err)
		require.NotNil(t, event.Amount)
		assert.Equal(t, "JPY", event.Amount.Currency)
		assert.True(t, event.Amount.Amount.Equal(decimal.NewFromInt(500)))
	})

	t.Run("missing header is rejected", func(t *testing.T) {
		client := newStripeTestClient(now)
		_, err := client.ParseWebhook(ctx, []byte(`{}`), http.Header{})
		assert.ErrorIs(t, err, application.ErrInvalidSignature)
	})

	t.Run("wrong secret is rejected", func(t *testing.T) {
		client := newStripeTestClient(now)
		body := []byte(`{"type":"payment_intent.succeeded"}`)
		mac := hmac.New(sha256.New, []byte("other_secret"))
		fmt.Fprintf(mac, "%d.%s", now.Unix(), body)
		header := http.Header{}
		header.Set(stripeSignatureHeader,
			fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(mac.Sum(nil))))

		_, err := client.ParseWebhook(ctx, body, header)
		assert.ErrorIs(t, err, application.ErrInvalidSignature)
	})

	t.Run("stale timestamp is rejected", func(t *testing.T) {
		client := newStripeTestClient(now)
		body := []byte(`{"type":"payment_intent.succeeded"}`)
		header := http.Header{}
		header.Set(stripeSignatureHeader, signStripe(body, now.Add(-10*time.Minute)))

		_, err := client.ParseWebhook(ctx, body, header)
		assert.ErrorIs(t, err, application.ErrInvalidSignature)
	})

	t.Run("charge refund maps to refunded with intent reference", func(t *testing.T) {
		client := newStripeTestClient(now)
		body := []byte(`{
			"id": "evt_2",
			"type": "charge.refunded",
			"data": {"object": {"id": "ch_123", "payment_intent": "pi_123", "refunded": true}}
		}`)
		header := http.Header{}
		header.Set(stripeSignatureHeader, signStripe(body, now))

		event, err := client.ParseWebhook(ctx, body, header)
		require.NoError(t, err)
		assert.Equal(t, domain.EventRefunded, event.Status)
		assert.Equal(t, "pi_123", event.CheckoutRequestID)
	})

	t.Run("unhandled event type carries no reference", func(t *testing.T) {
		client := newStripeTestClient(now)
		body := []byte(`{"id":"evt_3","type":"customer.created","data":{"object":{}}}`)
		header := http.Header{}
		header.Set(stripeSignatureHeader, signStripe(body, now))

		event, err := client.ParseWebhook(ctx, body, header)
		require.NoError(t, err)
		assert.Empty(t, event.Reference())
		assert.Equal(t, domain.EventPending, event.Status)
	})
}

func TestStripeIntentEvent(t *testing.T) {
	client := newStripeTestClient(time.Now())

	tests := []struct {
		status   string
		errCode  string
		want     domain.EventStatus
		wantKind domain.FailureType
	}{
		{"succeeded", "", domain.EventSuccess, ""},
		{"canceled", "", domain.EventCancelled, ""},
		{"processing", "", domain.EventPending, ""},
		{"requires_action", "", domain.EventPending, ""},
		{"requires_payment_method", "card_declined", domain.EventFailed, domain.FailurePermanent},
		{"requires_payment_method", "processing_error", domain.EventFailed, domain.FailureTemporary},
	}

	for _, tt := range tests {
		t.Run(tt.status+"/"+tt.errCode, func(t *testing.T) {
			intent := &stripePaymentIntent{ID: "pi_1", Status: tt.status}
			if tt.errCode != "" {
				intent.LastPaymentError = &struct {
					Code    string `json:"code"`
					Message string `json:"message"`
				}{Code: tt.errCode}
			}
			event := client.intentEvent(intent, nil, false)
			assert.Equal(t, tt.want, event.Status)
			assert.Equal(t, tt.wantKind, event.FailureKind)
		})
	}
}
