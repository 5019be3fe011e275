// Package gateway holds one client per payment provider behind the
// application.GatewayClient port, plus the shared HTTP plumbing and the retry
// decorator they are wrapped in.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/chebitoch007/django-mart-sub000/internal/application"
)

// credentialCache holds a bearer token with explicit expiry. Each client owns
// its own cache; there is no process-wide token store.
type credentialCache struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// leeway refreshes tokens slightly before the provider-reported expiry.
const tokenLeeway = 30 * time.Second

func (c *credentialCache) get() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" || time.Now().Add(tokenLeeway).After(c.expiresAt) {
		return "", false
	}
	return c.token, true
}

func (c *credentialCache) set(token string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.expiresAt = time.Now().Add(ttl)
}

func (c *credentialCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expiresAt = time.Time{}
}

type errorEnvelope struct {
	Err     string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// sendRequest performs one HTTP exchange against a provider API and decodes
// the JSON response, returning the raw body alongside for audit storage.
// Non-2xx responses become *application.GatewayError.
func sendRequest[Resp any](
	ctx context.Context,
	client *http.Client,
	provider string,
	method, url string,
	headers map[string]string,
	reqBody any,
) (*Resp, []byte, error) {
	var bodyReader io.Reader
	switch b := reqBody.(type) {
	case nil:
	case []byte:
		bodyReader = bytes.NewReader(b)
	default:
		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			return nil, nil, fmt.Errorf("error marshalling json: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, nil, fmt.Errorf("error creating request: %w", err)
	}

	if bodyReader != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, nil, fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("error reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope errorEnvelope
		code := "http_" + fmt.Sprint(resp.StatusCode)
		message := string(raw)
		if err := json.Unmarshal(raw, &envelope); err == nil {
			if envelope.Code != "" {
				code = envelope.Code
			} else if envelope.Err != "" {
				code = envelope.Err
			}
			if envelope.Message != "" {
				message = envelope.Message
			}
		}
		return nil, raw, &application.GatewayError{
			Provider:   provider,
			Code:       code,
			Message:    message,
			StatusCode: resp.StatusCode,
		}
	}

	var decoded Resp
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, raw, fmt.Errorf("error decoding json response: %w", err)
	}

	return &decoded, raw, nil
}

func unmarshalJSON(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("error decoding json response: %w", err)
	}
	return nil
}

// isUnauthorized reports whether the provider rejected our credential; the
// caller invalidates its cache and authenticates again.
func isUnauthorized(err error) bool {
	gwErr, ok := application.IsGatewayError(err)
	return ok && gwErr.StatusCode == http.StatusUnauthorized
}
