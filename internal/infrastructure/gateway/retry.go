package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/chebitoch007/django-mart-sub000/internal/application"
	"github.com/chebitoch007/django-mart-sub000/internal/config"
	"github.com/chebitoch007/django-mart-sub000/internal/domain"
)

// RetryGatewayClient decorates a GatewayClient with bounded exponential
// backoff. Once the budget is exhausted the cause is wrapped in
// ErrGatewayUnavailable so callers treat the outcome as unknown rather than
// as a payment failure.
type RetryGatewayClient struct {
	inner      application.GatewayClient
	baseDelay  time.Duration
	maxRetries int
}

func NewRetryGatewayClient(inner application.GatewayClient, cfg config.RetryConfig) application.GatewayClient {
	baseDelay := cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &RetryGatewayClient{
		inner:      inner,
		baseDelay:  baseDelay,
		maxRetries: maxRetries,
	}
}

func (r *RetryGatewayClient) Provider() domain.Provider {
	return r.inner.Provider()
}

func (r *RetryGatewayClient) Authenticate(ctx context.Context) error {
	_, err := retry(r, ctx, func(ctx context.Context) (*struct{}, error) {
		return &struct{}{}, r.inner.Authenticate(ctx)
	})
	return err
}

func (r *RetryGatewayClient) Initiate(ctx context.Context, req application.InitiateRequest) (*application.InitiateResponse, error) {
	return retry(r, ctx, func(ctx context.Context) (*application.InitiateResponse, error) {
		return r.inner.Initiate(ctx, req)
	})
}

func (r *RetryGatewayClient) Verify(ctx context.Context, providerRef string) (*domain.ProviderEvent, error) {
	return retry(r, ctx, func(ctx context.Context) (*domain.ProviderEvent, error) {
		return r.inner.Verify(ctx, providerRef)
	})
}

// ParseWebhook is not retried: a signature either verifies or it does not,
// and providers redeliver on non-2xx anyway.
func (r *RetryGatewayClient) ParseWebhook(ctx context.Context, body []byte, header http.Header) (*domain.ProviderEvent, error) {
	return r.inner.ParseWebhook(ctx, body, header)
}

// Generic retry helper
func retry[T any](r *RetryGatewayClient, ctx context.Context, operation func(ctx context.Context) (*T, error)) (*T, error) {
	var lastErr error

	for attempt := 0; attempt < r.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		resp, err := operation(ctx)
		if err == nil {
			return resp, nil
		}

		lastErr = err

		if !isRetryable(err) {
			return nil, err
		}

		if attempt < r.maxRetries-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.backoff(attempt)):
			}
		}
	}

	return nil, fmt.Errorf("%w: %w", application.ErrGatewayUnavailable, lastErr)
}

// Helper: to check retryable errors
func isRetryable(err error) bool {
	if gwErr, ok := application.IsGatewayError(err); ok {
		return gwErr.IsRetryable()
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	// Network errors and timeouts fall through here.
	return true
}

// Backoff calculation with exponential delay and jitter
func (r *RetryGatewayClient) backoff(attempt int) time.Duration {
	base := r.baseDelay * time.Duration(1<<attempt)

	jitter := time.Duration(rand.Intn(1000)) * time.Millisecond

	return base + jitter
}
