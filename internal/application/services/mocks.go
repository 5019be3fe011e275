package services

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/chebitoch007/django-mart-sub000/internal/application"
	"github.com/chebitoch007/django-mart-sub000/internal/domain"
	"github.com/shopspring/decimal"
)

// MockPaymentRepository is an in-memory PaymentRepository. Default behavior
// mimics the real store; per-method Fn fields override it in tests.
type MockPaymentRepository struct {
	mu       sync.RWMutex
	payments map[string]*domain.Payment

	CreateFn            func(ctx context.Context, payment *domain.Payment) error
	FindByIDFn          func(ctx context.Context, id string) (*domain.Payment, error)
	FindByIDForUpdateFn func(ctx context.Context, id string) (*domain.Payment, error)
	FindByReferenceFn   func(ctx context.Context, checkoutRequestID, transactionID string) ([]*domain.Payment, error)
	UpdateFn            func(ctx context.Context, payment *domain.Payment) error
	WithTxFn            func(ctx context.Context, fn func(repo application.PaymentRepository) error) error
}

func NewMockPaymentRepository() *MockPaymentRepository {
	return &MockPaymentRepository{payments: make(map[string]*domain.Payment)}
}

func (m *MockPaymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, payment)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *payment
	m.payments[payment.ID] = &clone
	return nil
}

func (m *MockPaymentRepository) FindByID(ctx context.Context, id string) (*domain.Payment, error) {
	if m.FindByIDFn != nil {
		return m.FindByIDFn(ctx, id)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.payments[id]; ok {
		clone := *p
		return &clone, nil
	}
	return nil, domain.NewPaymentNotFoundError(id)
}

func (m *MockPaymentRepository) FindByIDForUpdate(ctx context.Context, id string) (*domain.Payment, error) {
	if m.FindByIDForUpdateFn != nil {
		return m.FindByIDForUpdateFn(ctx, id)
	}
	return m.FindByID(ctx, id)
}

func (m *MockPaymentRepository) FindByReference(ctx context.Context, checkoutRequestID, transactionID string) ([]*domain.Payment, error) {
	if m.FindByReferenceFn != nil {
		return m.FindByReferenceFn(ctx, checkoutRequestID, transactionID)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matches []*domain.Payment
	for _, p := range m.payments {
		if checkoutRequestID != "" && p.CheckoutRequestID != nil && *p.CheckoutRequestID == checkoutRequestID {
			clone := *p
			matches = append(matches, &clone)
			continue
		}
		if transactionID != "" && p.TransactionID != nil && *p.TransactionID == transactionID {
			clone := *p
			matches = append(matches, &clone)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.After(matches[j].CreatedAt)
		}
		return matches[i].ID > matches[j].ID
	})
	return matches, nil
}

func (m *MockPaymentRepository) FindActiveByOrderAndProvider(ctx context.Context, orderID string, provider domain.Provider) (*domain.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.payments {
		if p.OrderID == orderID && p.Provider == provider && p.Active() {
			clone := *p
			return &clone, nil
		}
	}
	return nil, domain.NewPaymentNotFoundError(orderID)
}

func (m *MockPaymentRepository) FindByOrderID(ctx context.Context, orderID string) ([]*domain.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matches []*domain.Payment
	for _, p := range m.payments {
		if p.OrderID == orderID {
			clone := *p
			matches = append(matches, &clone)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.After(matches[j].CreatedAt) })
	return matches, nil
}

func (m *MockPaymentRepository) FindStaleActive(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cutoff := time.Now().Add(-olderThan)
	var matches []*domain.Payment
	for _, p := range m.payments {
		if p.Active() && p.CheckoutRequestID != nil && p.UpdatedAt.Before(cutoff) {
			clone := *p
			matches = append(matches, &clone)
		}
	}
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (m *MockPaymentRepository) Update(ctx context.Context, payment *domain.Payment) error {
	if m.UpdateFn != nil {
		return m.UpdateFn(ctx, payment)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[payment.ID]; !ok {
		return domain.NewPaymentNotFoundError(payment.ID)
	}
	clone := *payment
	m.payments[payment.ID] = &clone
	return nil
}

func (m *MockPaymentRepository) WithTx(ctx context.Context, fn func(repo application.PaymentRepository) error) error {
	if m.WithTxFn != nil {
		return m.WithTxFn(ctx, fn)
	}
	return fn(m)
}

// Get returns the stored payment directly, for assertions.
func (m *MockPaymentRepository) Get(id string) *domain.Payment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.payments[id]
}

// MockGatewayClient implements application.GatewayClient with Fn overrides.
type MockGatewayClient struct {
	ProviderValue domain.Provider

	mu    sync.Mutex
	calls map[string]int

	AuthenticateFn func(ctx context.Context) error
	InitiateFn     func(ctx context.Context, req application.InitiateRequest) (*application.InitiateResponse, error)
	VerifyFn       func(ctx context.Context, providerRef string) (*domain.ProviderEvent, error)
	ParseWebhookFn func(ctx context.Context, body []byte, header http.Header) (*domain.ProviderEvent, error)
}

func (m *MockGatewayClient) inc(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[method]++
}

func (m *MockGatewayClient) GetCalls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *MockGatewayClient) Provider() domain.Provider {
	return m.ProviderValue
}

func (m *MockGatewayClient) Authenticate(ctx context.Context) error {
	m.inc("Authenticate")
	if m.AuthenticateFn != nil {
		return m.AuthenticateFn(ctx)
	}
	return nil
}

func (m *MockGatewayClient) Initiate(ctx context.Context, req application.InitiateRequest) (*application.InitiateResponse, error) {
	m.inc("Initiate")
	if m.InitiateFn != nil {
		return m.InitiateFn(ctx, req)
	}
	return &application.InitiateResponse{CheckoutRequestID: "chk-" + req.PaymentID}, nil
}

func (m *MockGatewayClient) Verify(ctx context.Context, providerRef string) (*domain.ProviderEvent, error) {
	m.inc("Verify")
	if m.VerifyFn != nil {
		return m.VerifyFn(ctx, providerRef)
	}
	return &domain.ProviderEvent{
		Provider:          m.ProviderValue,
		CheckoutRequestID: providerRef,
		Status:            domain.EventPending,
		OccurredAt:        time.Now(),
	}, nil
}

func (m *MockGatewayClient) ParseWebhook(ctx context.Context, body []byte, header http.Header) (*domain.ProviderEvent, error) {
	m.inc("ParseWebhook")
	if m.ParseWebhookFn != nil {
		return m.ParseWebhookFn(ctx, body, header)
	}
	return nil, application.ErrInvalidSignature
}

// MockOrderStore records status writes in memory.
type MockOrderStore struct {
	mu       sync.Mutex
	statuses map[string]domain.OrderStatus

	SetStatusFn func(ctx context.Context, orderID string, status, expectedPrior domain.OrderStatus) (bool, error)
}

func NewMockOrderStore() *MockOrderStore {
	return &MockOrderStore{statuses: make(map[string]domain.OrderStatus)}
}

func (m *MockOrderStore) SetStatus(ctx context.Context, orderID string, status, expectedPrior domain.OrderStatus) (bool, error) {
	if m.SetStatusFn != nil {
		return m.SetStatusFn(ctx, orderID, status, expectedPrior)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.statuses[orderID]
	if !ok {
		current = domain.OrderPending
	}
	if expectedPrior != "" && current != expectedPrior {
		return false, nil
	}
	m.statuses[orderID] = status
	return true, nil
}

func (m *MockOrderStore) GetStatus(ctx context.Context, orderID string) (domain.OrderStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if status, ok := m.statuses[orderID]; ok {
		return status, nil
	}
	return domain.OrderPending, nil
}

// MockCartClearer counts clears per order.
type MockCartClearer struct {
	mu      sync.Mutex
	cleared map[string]int

	ClearCartFn func(ctx context.Context, orderID string) error
}

func NewMockCartClearer() *MockCartClearer {
	return &MockCartClearer{cleared: make(map[string]int)}
}

func (m *MockCartClearer) ClearCart(ctx context.Context, orderID string) error {
	if m.ClearCartFn != nil {
		return m.ClearCartFn(ctx, orderID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared[orderID]++
	return nil
}

func (m *MockCartClearer) Cleared(orderID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cleared[orderID]
}

// MockNotifier records notifications.
type MockNotifier struct {
	mu    sync.Mutex
	kinds []domain.EventKind

	NotifyFn func(ctx context.Context, orderID, paymentID string, kind domain.EventKind) error
}

func (m *MockNotifier) Notify(ctx context.Context, orderID, paymentID string, kind domain.EventKind) error {
	if m.NotifyFn != nil {
		return m.NotifyFn(ctx, orderID, paymentID, kind)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kinds = append(m.kinds, kind)
	return nil
}

func (m *MockNotifier) Sent() []domain.EventKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.EventKind(nil), m.kinds...)
}

// MockRateProvider answers from a fixed table keyed "FROM/TO".
type MockRateProvider struct {
	Rates map[string]decimal.Decimal

	GetRateFn func(ctx context.Context, from, to string) (decimal.Decimal, error)
}

func (m *MockRateProvider) GetRate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	if m.GetRateFn != nil {
		return m.GetRateFn(ctx, from, to)
	}
	if rate, ok := m.Rates[from+"/"+to]; ok {
		return rate, nil
	}
	return decimal.NewFromInt(1), nil
}
