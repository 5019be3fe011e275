// Package storefront calls back into the storefront application for the side
// effects that live outside the payments schema: clearing carts and queueing
// customer notifications.
package storefront

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/chebitoch007/django-mart-sub000/internal/config"
	"github.com/chebitoch007/django-mart-sub000/internal/domain"
)

// Client implements application.CartClearer and application.Notifier over the
// storefront's internal HTTP API. The coordinator treats every call as
// best-effort, so errors are returned for logging only.
type Client struct {
	cfg        config.StorefrontConfig
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(cfg config.StorefrontConfig, logger *slog.Logger) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.ConnTimeout,
		},
		logger: logger,
	}
}

func (c *Client) ClearCart(ctx context.Context, orderID string) error {
	return c.post(ctx, fmt.Sprintf("/internal/orders/%s/clear-cart", orderID), nil)
}

type notifyRequest struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Event     string `json:"event"`
}

func (c *Client) Notify(ctx context.Context, orderID, paymentID string, kind domain.EventKind) error {
	return c.post(ctx, "/internal/notifications", notifyRequest{
		OrderID:   orderID,
		PaymentID: paymentID,
		Event:     string(kind),
	})
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal storefront request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("build storefront request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("storefront request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("storefront returned status %d for %s", resp.StatusCode, path)
	}
	return nil
}
