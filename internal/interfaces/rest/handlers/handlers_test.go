package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chebitoch007/django-mart-sub000/internal/application"
	"github.com/chebitoch007/django-mart-sub000/internal/application/services"
	"github.com/chebitoch007/django-mart-sub000/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCallbackSecret = "cb-secret"

type fixture struct {
	repo    *services.MockPaymentRepository
	gateway *services.MockGatewayClient
	mux     *http.ServeMux
}

func newFixture(t *testing.T, provider domain.Provider) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	repo := services.NewMockPaymentRepository()
	ledger := services.NewLedgerService(repo, logger)
	gatewayMock := &services.MockGatewayClient{ProviderValue: provider}
	gateways := map[domain.Provider]application.GatewayClient{provider: gatewayMock}
	coordinator := services.NewOrderCoordinator(
		services.NewMockOrderStore(),
		services.NewMockCartClearer(),
		&services.MockNotifier{},
		logger,
	)
	engine := services.NewReconciliationEngine(ledger, repo, gateways, coordinator, logger)
	checkout := services.NewCheckoutService(ledger, repo, gateways, &services.MockRateProvider{},
		services.CheckoutConfig{
			CallbackBaseURL:     "https://pay.example.com",
			MpesaCallbackSecret: testCallbackSecret,
		}, logger)

	mux := http.NewServeMux()
	NewHandlers(checkout, engine, testCallbackSecret, nil, logger).Register(mux)
	return &fixture{repo: repo, gateway: gatewayMock, mux: mux}
}

func (f *fixture) seedInitiated(t *testing.T, id, orderID string, provider domain.Provider, ref string) {
	t.Helper()
	payment, err := domain.NewPayment(id, orderID, provider, domain.MustMoney("1500.00", "KES"))
	require.NoError(t, err)
	payment.MarkInitiated(ref, "", nil)
	require.NoError(t, f.repo.Create(context.Background(), payment))
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

func TestInitiatePaymentEndpoint(t *testing.T) {
	t.Run("creates payment", func(t *testing.T) {
		f := newFixture(t, domain.ProviderMpesa)

		w := f.do(http.MethodPost, "/api/v1/payments",
			`{"order_id":"order-1","provider":"MPESA","amount":"1500.00","currency":"KES","phone_number":"254712345678"}`)

		require.Equal(t, http.StatusCreated, w.Code)
		var resp struct {
			Success bool `json:"success"`
			Data    struct {
				Payment struct {
					ID      string `json:"id"`
					Status  string `json:"status"`
					OrderID string `json:"order_id"`
				} `json:"payment"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Equal(t, "PENDING", resp.Data.Payment.Status)
		assert.Equal(t, "order-1", resp.Data.Payment.OrderID)
		assert.NotEmpty(t, resp.Data.Payment.ID)
	})

	t.Run("duplicate active payment is 409", func(t *testing.T) {
		f := newFixture(t, domain.ProviderMpesa)
		body := `{"order_id":"order-1","provider":"MPESA","amount":"1500.00","currency":"KES","phone_number":"254712345678"}`

		require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/api/v1/payments", body).Code)

		w := f.do(http.MethodPost, "/api/v1/payments", body)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, w.Body.String(), "DUPLICATE_ACTIVE_PAYMENT")
	})

	t.Run("malformed body is 400", func(t *testing.T) {
		f := newFixture(t, domain.ProviderMpesa)
		w := f.do(http.MethodPost, "/api/v1/payments", `{not json`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing required field is 400", func(t *testing.T) {
		f := newFixture(t, domain.ProviderMpesa)
		w := f.do(http.MethodPost, "/api/v1/payments",
			`{"provider":"MPESA","amount":"1500.00","currency":"KES"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestPaymentQueryEndpoints(t *testing.T) {
	t.Run("get payment", func(t *testing.T) {
		f := newFixture(t, domain.ProviderMpesa)
		f.seedInitiated(t, "pay-1", "order-1", domain.ProviderMpesa, "chk-1")

		w := f.do(http.MethodGet, "/api/v1/payments/pay-1", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"id":"pay-1"`)
	})

	t.Run("unknown payment is 404", func(t *testing.T) {
		f := newFixture(t, domain.ProviderMpesa)
		w := f.do(http.MethodGet, "/api/v1/payments/missing", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "PAYMENT_NOT_FOUND")
	})

	t.Run("list order payments", func(t *testing.T) {
		f := newFixture(t, domain.ProviderMpesa)
		f.seedInitiated(t, "pay-1", "order-1", domain.ProviderMpesa, "chk-1")
		f.seedInitiated(t, "pay-2", "order-1", domain.ProviderMpesa, "chk-2")

		w := f.do(http.MethodGet, "/api/v1/orders/order-1/payments", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "pay-1")
		assert.Contains(t, w.Body.String(), "pay-2")
	})

	t.Run("verify payment applies provider state", func(t *testing.T) {
		f := newFixture(t, domain.ProviderMpesa)
		f.seedInitiated(t, "pay-1", "order-1", domain.ProviderMpesa, "chk-1")
		f.gateway.VerifyFn = func(ctx context.Context, providerRef string) (*domain.ProviderEvent, error) {
			return &domain.ProviderEvent{
				Provider:          domain.ProviderMpesa,
				CheckoutRequestID: providerRef,
				Status:            domain.EventSuccess,
				OccurredAt:        time.Now(),
			}, nil
		}

		w := f.do(http.MethodPost, "/api/v1/payments/pay-1/verify", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"status":"COMPLETED"`)
	})
}

func TestWebhookEndpoints(t *testing.T) {
	t.Run("valid delivery is applied with 200", func(t *testing.T) {
		f := newFixture(t, domain.ProviderPaystack)
		f.seedInitiated(t, "pay-1", "order-1", domain.ProviderPaystack, "chk-1")
		f.gateway.ParseWebhookFn = func(ctx context.Context, body []byte, header http.Header) (*domain.ProviderEvent, error) {
			return &domain.ProviderEvent{
				Provider:          domain.ProviderPaystack,
				CheckoutRequestID: "chk-1",
				Status:            domain.EventSuccess,
				OccurredAt:        time.Now(),
			}, nil
		}

		w := f.do(http.MethodPost, "/webhooks/paystack", `{"event":"charge.success"}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, domain.StatusCompleted, f.repo.Get("pay-1").Status)
	})

	t.Run("invalid signature is 400 and mutates nothing", func(t *testing.T) {
		f := newFixture(t, domain.ProviderPaystack)
		f.seedInitiated(t, "pay-1", "order-1", domain.ProviderPaystack, "chk-1")

		// Default mock ParseWebhook rejects the signature.
		w := f.do(http.MethodPost, "/webhooks/paystack", `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "INVALID_SIGNATURE")
		assert.Equal(t, domain.StatusPending, f.repo.Get("pay-1").Status)
	})

	t.Run("unknown reference is 404", func(t *testing.T) {
		f := newFixture(t, domain.ProviderStripe)
		f.gateway.ParseWebhookFn = func(ctx context.Context, body []byte, header http.Header) (*domain.ProviderEvent, error) {
			return &domain.ProviderEvent{
				Provider:          domain.ProviderStripe,
				CheckoutRequestID: "pi_unknown",
				Status:            domain.EventSuccess,
				OccurredAt:        time.Now(),
			}, nil
		}

		w := f.do(http.MethodPost, "/webhooks/stripe", `{}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("mpesa callback with right token reaches the gateway", func(t *testing.T) {
		f := newFixture(t, domain.ProviderMpesa)
		f.seedInitiated(t, "pay-1", "order-1", domain.ProviderMpesa, "ws_CO_1")
		f.gateway.ParseWebhookFn = func(ctx context.Context, body []byte, header http.Header) (*domain.ProviderEvent, error) {
			return &domain.ProviderEvent{
				Provider:          domain.ProviderMpesa,
				CheckoutRequestID: "ws_CO_1",
				Status:            domain.EventSuccess,
				OccurredAt:        time.Now(),
			}, nil
		}

		w := f.do(http.MethodPost, "/webhooks/mpesa/"+testCallbackSecret, `{}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"ResultCode":0`)
		assert.Equal(t, domain.StatusCompleted, f.repo.Get("pay-1").Status)
	})

	t.Run("mpesa callback with wrong token is rejected before parsing", func(t *testing.T) {
		f := newFixture(t, domain.ProviderMpesa)
		f.seedInitiated(t, "pay-1", "order-1", domain.ProviderMpesa, "ws_CO_1")

		w := f.do(http.MethodPost, "/webhooks/mpesa/wrong-token", `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, 0, f.gateway.GetCalls("ParseWebhook"))
		assert.Equal(t, domain.StatusPending, f.repo.Get("pay-1").Status)
	})

	t.Run("redelivered success still returns 200", func(t *testing.T) {
		f := newFixture(t, domain.ProviderPaystack)
		f.seedInitiated(t, "pay-1", "order-1", domain.ProviderPaystack, "chk-1")
		f.gateway.ParseWebhookFn = func(ctx context.Context, body []byte, header http.Header) (*domain.ProviderEvent, error) {
			return &domain.ProviderEvent{
				Provider:          domain.ProviderPaystack,
				CheckoutRequestID: "chk-1",
				Status:            domain.EventSuccess,
				OccurredAt:        time.Now(),
			}, nil
		}

		require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/webhooks/paystack", `{}`).Code)
		assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/webhooks/paystack", `{}`).Code)
	})
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t, domain.ProviderMpesa)
	w := f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}
