// Package rates fetches display-time exchange rates with a static fallback
// table. Settlement amounts never come from here.
package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/chebitoch007/django-mart-sub000/internal/config"
	"github.com/shopspring/decimal"
)

const cacheTTL = 15 * time.Minute

type cachedRate struct {
	rate      decimal.Decimal
	fetchedAt time.Time
}

// Client implements application.RateProvider. Rates are cached per currency
// pair; when the upstream service is unreachable the configured fallback
// table answers instead, so checkout keeps working through rate outages.
type Client struct {
	cfg        config.RatesConfig
	httpClient *http.Client
	logger     *slog.Logger

	mu    sync.Mutex
	cache map[string]cachedRate
}

func NewClient(cfg config.RatesConfig, logger *slog.Logger) *Client {
	timeout := cfg.ConnTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
		cache:  make(map[string]cachedRate),
	}
}

type rateResponse struct {
	Rate decimal.Decimal `json:"rate"`
}

func (c *Client) GetRate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}

	pair := from + "/" + to
	c.mu.Lock()
	cached, ok := c.cache[pair]
	c.mu.Unlock()
	if ok && time.Since(cached.fetchedAt) < cacheTTL {
		return cached.rate, nil
	}

	rate, err := c.fetch(ctx, from, to)
	if err != nil {
		c.logger.Warn("rate fetch failed, using fallback", "pair", pair, "error", err)
		return c.fallback(pair)
	}

	c.mu.Lock()
	c.cache[pair] = cachedRate{rate: rate, fetchedAt: time.Now()}
	c.mu.Unlock()
	return rate, nil
}

func (c *Client) fetch(ctx context.Context, from, to string) (decimal.Decimal, error) {
	if c.cfg.BaseURL == "" {
		return decimal.Zero, fmt.Errorf("no rates endpoint configured")
	}

	endpoint := fmt.Sprintf("%s/rates?from=%s&to=%s",
		c.cfg.BaseURL, url.QueryEscape(from), url.QueryEscape(to))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("rates service returned status %d", resp.StatusCode)
	}

	var parsed rateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return decimal.Zero, fmt.Errorf("malformed rates response: %w", err)
	}
	if parsed.Rate.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("rates service returned non-positive rate for %s/%s", from, to)
	}
	return parsed.Rate, nil
}

func (c *Client) fallback(pair string) (decimal.Decimal, error) {
	raw, ok := c.cfg.Fallback[pair]
	if !ok {
		return decimal.Zero, fmt.Errorf("no rate available for %s", pair)
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil || rate.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("invalid fallback rate for %s: %q", pair, raw)
	}
	return rate, nil
}
