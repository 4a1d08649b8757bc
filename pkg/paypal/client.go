package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/angelmondragon/tishcommerce-checkout/pkg/config"
)

const (
	ordersPath      = "/v2/checkout/orders"
	requestIDHeader = "PayPal-Request-Id"
	maxErrorBody    = 64 << 10
)

var (
	errClientIDRequired     = errors.New("paypal client id is required")
	errClientSecretRequired = errors.New("paypal client secret is required")
	errOrderIDRequired      = errors.New("paypal order id is required")
)

// APIError is returned for any non-2xx response from the PayPal REST API.
type APIError struct {
	StatusCode int           `json:"-"`
	Name       string        `json:"name"`
	Message    string        `json:"message"`
	DebugID    string        `json:"debug_id"`
	Details    []ErrorDetail `json:"details"`
	Body       string        `json:"-"`
}

type ErrorDetail struct {
	Issue       string `json:"issue"`
	Description string `json:"description"`
}

// HasIssue reports whether PayPal listed the given issue code (e.g. ORDER_ALREADY_CAPTURED).
func (e *APIError) HasIssue(issue string) bool {
	for _, d := range e.Details {
		if d.Issue == issue {
			return true
		}
	}
	return false
}

func (e *APIError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("paypal %d %s: %s", e.StatusCode, e.Name, e.Message)
	}
	return fmt.Sprintf("paypal %d", e.StatusCode)
}

// RawPayload exposes the untouched response body for logging.
func (e *APIError) RawPayload() string {
	return e.Body
}

// Client calls the PayPal checkout orders API using basic client credentials.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	http         *http.Client
}

// NewClient builds a client from configuration.
func NewClient(cfg config.PayPalConfig) (*Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return NewWithHTTPClient(cfg.APIBase(), cfg.ClientID, cfg.ClientSecret, &http.Client{Timeout: timeout})
}

// NewWithHTTPClient allows tests to point the client at an httptest server.
func NewWithHTTPClient(baseURL, clientID, clientSecret string, hc *http.Client) (*Client, error) {
	if strings.TrimSpace(clientID) == "" {
		return nil, errClientIDRequired
	}
	if strings.TrimSpace(clientSecret) == "" {
		return nil, errClientSecretRequired
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		http:         hc,
	}, nil
}

// CreateOrder creates a checkout order. requestID makes retries of the same create idempotent on PayPal's side.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest, requestID string) (*Order, error) {
	if req.Intent == "" {
		req.Intent = IntentCapture
	}
	var out Order
	if err := c.do(ctx, http.MethodPost, ordersPath, req, requestID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CaptureOrder captures an approved order.
func (c *Client) CaptureOrder(ctx context.Context, orderID, requestID string) (*Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, errOrderIDRequired
	}
	var out Order
	path := ordersPath + "/" + url.PathEscape(orderID) + "/capture"
	if err := c.do(ctx, http.MethodPost, path, struct{}{}, requestID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetOrder fetches the current order state.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, errOrderIDRequired
	}
	var out Order
	if err := c.do(ctx, http.MethodGet, ordersPath+"/"+url.PathEscape(orderID), nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, requestID string, dest any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode paypal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build paypal request: %w", err)
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", "return=representation")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requestID != "" {
		req.Header.Set(requestIDHeader, requestID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("paypal %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
		_ = json.Unmarshal(raw, apiErr)
		return apiErr
	}

	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode paypal response: %w", err)
	}
	return nil
}
