// Package gateway implements the generic authenticated REST client shared
// by the Stripe and PayPal integrations: URL composition, HATEOAS-prefix
// trimming, JSON request/response handling and per-service circuit
// breaking. Stripe and PayPal have no common SDK in this daemon's
// dependency set, so both are driven through this one client instead of
// forking a typed SDK per gateway.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/gnupg/payproc/internal/perr"
)

// Service names a gateway's circuit breaker.
type Service string

const (
	ServiceStripe Service = "stripe"
	ServicePayPal Service = "paypal"
)

// BreakerConfig configures one service's circuit breaker.
type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// DefaultBreakerConfig returns sane defaults for a payment gateway
// breaker: trip after 5 consecutive failures, stay open 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         3,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// Client is a generic REST client for a single payment gateway host.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	authHeader  func(req *http.Request)
	breaker     *gobreaker.CircuitBreaker
	onTrip      func(service Service)
	serviceName Service
}

// NewClient creates a client rooted at baseURL (no trailing slash),
// authenticating outbound requests via authHeader, with the given
// service's circuit breaker. onTrip, if non-nil, is called whenever the
// breaker opens — the daemon wires this to a metrics counter.
func NewClient(service Service, baseURL string, authHeader func(*http.Request), breakerCfg BreakerConfig, onTrip func(Service)) *Client {
	settings := gobreaker.Settings{
		Name:        string(service),
		MaxRequests: breakerCfg.MaxRequests,
		Interval:    breakerCfg.Interval,
		Timeout:     breakerCfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return breakerCfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= breakerCfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen && onTrip != nil {
				onTrip(service)
			}
		},
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        50,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL:     strings.TrimRight(baseURL, "/"),
		authHeader:  authHeader,
		breaker:     gobreaker.NewCircuitBreaker(settings),
		onTrip:      onTrip,
		serviceName: service,
	}
}

// composeURL builds the request URL for method/path. If path already
// begins with the client's base URL (a HATEOAS link the gateway handed
// back to us), the shared prefix is trimmed first so repeated calls never
// double up the host, matching the original daemon's host-prefix check.
func (c *Client) composeURL(path string) string {
	if strings.HasPrefix(path, c.baseURL) {
		path = strings.TrimPrefix(path, c.baseURL)
	}
	path = strings.TrimLeft(path, "/")
	return c.baseURL + "/" + path
}

// Response wraps a parsed gateway reply.
type Response struct {
	StatusCode int
	Body       map[string]interface{}
	RawBody    []byte
}

// Get performs a GET request against path, with optional query values.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	u := c.composeURL(path)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return c.do(ctx, http.MethodGet, u, nil)
}

// PostForm performs a POST with application/x-www-form-urlencoded data,
// the encoding both Stripe and PayPal's legacy endpoints expect.
func (c *Client) PostForm(ctx context.Context, path string, form url.Values) (*Response, error) {
	body := strings.NewReader(form.Encode())
	return c.doWithContentType(ctx, http.MethodPost, c.composeURL(path), body, "application/x-www-form-urlencoded")
}

// PostJSON performs a POST with a JSON-encoded body.
func (c *Client) PostJSON(ctx context.Context, path string, payload interface{}) (*Response, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("gateway: marshal request: %w", err)
	}
	return c.doWithContentType(ctx, http.MethodPost, c.composeURL(path), bytes.NewReader(raw), "application/json")
}

// PatchJSON performs a PATCH with a JSON-encoded body, used by PayPal's
// billing-plan state transitions.
func (c *Client) PatchJSON(ctx context.Context, path string, payload interface{}) (*Response, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("gateway: marshal request: %w", err)
	}
	return c.doWithContentType(ctx, http.MethodPatch, c.composeURL(path), bytes.NewReader(raw), "application/json")
}

func (c *Client) do(ctx context.Context, method, url string, body io.Reader) (*Response, error) {
	return c.doWithContentType(ctx, method, url, body, "")
}

func (c *Client) doWithContentType(ctx context.Context, method, url string, body io.Reader, contentType string) (*Response, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return nil, err
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		req.Header.Set("Accept", "application/json")
		if c.authHeader != nil {
			c.authHeader(req)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}

		parsed := &Response{StatusCode: resp.StatusCode, RawBody: raw}
		if len(raw) > 0 {
			var decoded map[string]interface{}
			if jsonErr := json.Unmarshal(raw, &decoded); jsonErr == nil {
				parsed.Body = decoded
			}
		}

		if resp.StatusCode >= 400 {
			return parsed, gatewayError(parsed)
		}
		return parsed, nil
	})

	if resp, ok := result.(*Response); ok {
		return resp, err
	}
	return nil, err
}

// gatewayError extracts a human-readable message from a 4xx/5xx JSON body,
// trying Stripe's {"error":{"message":...}} shape and PayPal's
// {"message":...} / {"name":...} shape before falling back to the raw
// status line.
func gatewayError(resp *Response) error {
	if resp.Body != nil {
		if errObj, ok := resp.Body["error"].(map[string]interface{}); ok {
			if msg, ok := errObj["message"].(string); ok && msg != "" {
				return perr.GatewayError.Withf("%s", msg)
			}
		}
		if msg, ok := resp.Body["message"].(string); ok && msg != "" {
			return perr.GatewayError.Withf("%s", msg)
		}
		if name, ok := resp.Body["name"].(string); ok && name != "" {
			return perr.GatewayError.Withf("%s", name)
		}
	}
	return perr.GatewayError.Withf("HTTP status %d", resp.StatusCode)
}
