package proxycheap

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

	"github.com/proxycheap-monitor/internal/types"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultBaseURL = "https://api.proxy-cheap.com"

	endpointBalance           = "account/balance"
	endpointProxies           = "proxies"
	endpointProxy             = "proxies/%s"
	endpointWhitelist         = "proxies/%s/whitelist-ip"
	endpointExtend            = "proxies/%s/extend-period"
	endpointBuyBandwidth      = "proxies/%s/buy-bandwidth"
	endpointAutoExtendEnable  = "proxies/%s/auto-extend/enable"
	endpointAutoExtendDisable = "proxies/%s/auto-extend/disable"

	maxErrorBody = 512
)

// Balance is the account balance as reported by the vendor.
type Balance struct {
	Amount   float64 `json:"balance"`
	Currency string  `json:"currency"`
}

// Client talks to the Proxy-Cheap REST API. One attempt per call, no
// retries; retry cadence belongs to the poll coordinator.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
}

// Option configures Client behavior.
type Option func(*Client)

// WithBaseURL overrides the production API base URL.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func NewClient(apiKey, apiSecret string, opts ...Option) *Client {
	c := &Client{
		baseURL:   DefaultBaseURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// request performs one API call and decodes the JSON response into dest.
// dest may be nil when the caller does not care about the body.
func (c *Client) request(ctx context.Context, method, endpoint string, query url.Values, body any, dest any) error {
	fullURL := c.baseURL + "/" + endpoint
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("X-Api-Secret", c.apiSecret)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ConnectionError{Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return &AuthError{StatusCode: resp.StatusCode, Body: truncate(respBody)}
	case resp.StatusCode >= 400:
		return &APIError{StatusCode: resp.StatusCode, Body: truncate(respBody)}
	}

	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, dest); err != nil {
		log.WithField("endpoint", endpoint).Errorf("Failed to parse response: %s", truncate(respBody))
		return &APIError{StatusCode: resp.StatusCode, Body: truncate(respBody), Err: err}
	}
	return nil
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		b = b[:maxErrorBody]
	}
	return string(b)
}

// GetBalance returns the account balance. Missing fields default to
// zero and "USD", matching what the dashboard shows for new accounts.
func (c *Client) GetBalance(ctx context.Context) (Balance, error) {
	var raw map[string]any
	if err := c.request(ctx, http.MethodGet, endpointBalance, nil, nil, &raw); err != nil {
		return Balance{}, err
	}

	b := Balance{Currency: "USD"}
	if v, ok := raw["balance"].(float64); ok {
		b.Amount = v
	}
	if v, ok := raw["currency"].(string); ok && v != "" {
		b.Currency = v
	}
	return b, nil
}

// ListProxies returns all proxies on the account. The vendor has been
// observed returning a bare list, an object with a "proxies" key, and
// an object with a "data" key; all three are normalized to a list.
func (c *Client) ListProxies(ctx context.Context) ([]types.RawProxy, error) {
	var raw json.RawMessage
	if err := c.request(ctx, http.MethodGet, endpointProxies, nil, nil, &raw); err != nil {
		return nil, err
	}

	var list []types.RawProxy
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, &APIError{StatusCode: http.StatusOK, Body: truncate(raw), Err: err}
	}
	for _, key := range []string{"proxies", "data"} {
		inner, ok := wrapper[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(inner, &list); err != nil {
			return nil, &APIError{StatusCode: http.StatusOK, Body: truncate(inner), Err: err}
		}
		return list, nil
	}

	// A bare object is treated as a single-proxy response.
	if len(wrapper) == 0 {
		return []types.RawProxy{}, nil
	}
	var single types.RawProxy
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, &APIError{StatusCode: http.StatusOK, Body: truncate(raw), Err: err}
	}
	return []types.RawProxy{single}, nil
}

// GetProxy returns the record for a single proxy.
func (c *Client) GetProxy(ctx context.Context, proxyID string) (types.RawProxy, error) {
	var raw types.RawProxy
	endpoint := fmt.Sprintf(endpointProxy, url.PathEscape(proxyID))
	if err := c.request(ctx, http.MethodGet, endpoint, nil, nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// UpdateWhitelist replaces the whitelisted IPs for a proxy. An empty
// list clears the whitelist.
func (c *Client) UpdateWhitelist(ctx context.Context, proxyID string, ips []string) error {
	endpoint := fmt.Sprintf(endpointWhitelist, url.PathEscape(proxyID))
	var query url.Values
	if len(ips) > 0 {
		query = url.Values{"ips": {strings.Join(ips, ",")}}
	}
	return c.request(ctx, http.MethodGet, endpoint, query, nil, nil)
}

// ExtendProxy extends a proxy's rental period by the given number of months.
func (c *Client) ExtendProxy(ctx context.Context, proxyID string, months int) error {
	endpoint := fmt.Sprintf(endpointExtend, url.PathEscape(proxyID))
	query := url.Values{"months": {fmt.Sprintf("%d", months)}}
	return c.request(ctx, http.MethodGet, endpoint, query, nil, nil)
}

// BuyBandwidth purchases additional bandwidth, in GB, for a metered proxy.
func (c *Client) BuyBandwidth(ctx context.Context, proxyID string, amountGB float64) error {
	endpoint := fmt.Sprintf(endpointBuyBandwidth, url.PathEscape(proxyID))
	query := url.Values{"amount": {fmt.Sprintf("%g", amountGB)}}
	return c.request(ctx, http.MethodGet, endpoint, query, nil, nil)
}

// SetAutoExtend enables or disables auto-extend for a proxy.
func (c *Client) SetAutoExtend(ctx context.Context, proxyID string, enabled bool) error {
	endpoint := endpointAutoExtendDisable
	if enabled {
		endpoint = endpointAutoExtendEnable
	}
	return c.request(ctx, http.MethodPost, fmt.Sprintf(endpoint, url.PathEscape(proxyID)), nil, nil, nil)
}

// ValidateCredentials checks the credentials with a balance call. It
// collapses every error kind to a boolean: this is a pre-check used
// during setup, not a full probe.
func (c *Client) ValidateCredentials(ctx context.Context) bool {
	_, err := c.GetBalance(ctx)
	if err == nil {
		return true
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return false
	}
	log.Warnf("API error during credential validation: %v", err)
	return false
}
