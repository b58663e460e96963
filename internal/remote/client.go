package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// ClientConfig holds remote client settings
type ClientConfig struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
	Logger   *zap.Logger

	// HTTPClient overrides the HTTP/2 client built from the settings above
	HTTPClient *http.Client
}

// Client talks JSON to the remote billing service
type Client struct {
	baseURL  *url.URL
	username string
	password string
	http     *http.Client
	logger   *zap.Logger

	mu    sync.RWMutex
	token string
}

var _ API = (*Client)(nil)

// NewClient creates a new remote client
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL required")
	}
	if cfg.Username == "" {
		return nil, fmt.Errorf("username required")
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient, err = buildHTTP2Client(cfg.Timeout)
		if err != nil {
			return nil, err
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:  base,
		username: cfg.Username,
		password: cfg.Password,
		http:     httpClient,
		logger:   logger,
	}, nil
}

// buildHTTP2Client creates an HTTP client negotiating HTTP/2 over TLS
func buildHTTP2Client(timeout time.Duration) (*http.Client, error) {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, fmt.Errorf("failed to configure HTTP/2 transport: %w", err)
	}
	return &http.Client{Transport: transport, Timeout: timeout}, nil
}

type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string `json:"token"`
}

// Authenticate logs in and stores the session token
func (c *Client) Authenticate(ctx context.Context) error {
	var resp authResponse
	err := c.do(ctx, http.MethodPost, "/api/auth", nil, authRequest{
		Username: c.username,
		Password: c.password,
	}, &resp)
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	if resp.Token == "" {
		return &APIError{Message: "authentication returned an empty token"}
	}

	c.mu.Lock()
	c.token = resp.Token
	c.mu.Unlock()

	c.logger.Debug("remote session established")
	return nil
}

// ListAccounts returns every account under the credential
func (c *Client) ListAccounts(ctx context.Context) ([]Account, error) {
	var accounts []Account
	if err := c.do(ctx, http.MethodGet, "/api/accounts", nil, nil, &accounts); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

// ListMeters returns the meters of an account
func (c *Client) ListMeters(ctx context.Context, accountCode string) ([]Meter, error) {
	var meters []Meter
	path := "/api/accounts/" + url.PathEscape(accountCode) + "/meters"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &meters); err != nil {
		return nil, fmt.Errorf("list meters of %s: %w", accountCode, err)
	}
	for i := range meters {
		if meters[i].AccountCode == "" {
			meters[i].AccountCode = accountCode
		}
	}
	return meters, nil
}

// GetIndications returns the readings of a meter taken within [start, end]
func (c *Client) GetIndications(ctx context.Context, accountCode, meterCode string, start, end time.Time) ([]Indication, error) {
	var indications []Indication
	err := c.do(ctx, http.MethodGet, meterPath(accountCode, meterCode)+"/indications", window(start, end), nil, &indications)
	if err != nil {
		return nil, fmt.Errorf("get indications of %s/%s: %w", accountCode, meterCode, err)
	}
	return indications, nil
}

type submitRequest struct {
	Values           map[string]float64 `json:"values"`
	IgnoreValidation bool               `json:"ignore_validation"`
}

// SubmitIndications pushes new readings for a meter
func (c *Client) SubmitIndications(ctx context.Context, accountCode, meterCode string, values map[string]float64, ignoreValidation bool) error {
	err := c.do(ctx, http.MethodPost, meterPath(accountCode, meterCode)+"/indications", nil, submitRequest{
		Values:           values,
		IgnoreValidation: ignoreValidation,
	}, nil)
	if err != nil {
		return fmt.Errorf("submit indications of %s/%s: %w", accountCode, meterCode, err)
	}
	return nil
}

// GetPayments returns payments made within [start, end]
func (c *Client) GetPayments(ctx context.Context, accountCode string, start, end time.Time) ([]Payment, error) {
	var payments []Payment
	path := "/api/accounts/" + url.PathEscape(accountCode) + "/payments"
	if err := c.do(ctx, http.MethodGet, path, window(start, end), nil, &payments); err != nil {
		return nil, fmt.Errorf("get payments of %s: %w", accountCode, err)
	}
	return payments, nil
}

// GetLastPayment returns the most recent payment or nil
func (c *Client) GetLastPayment(ctx context.Context, accountCode string) (*Payment, error) {
	var payment *Payment
	path := "/api/accounts/" + url.PathEscape(accountCode) + "/payments/last"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &payment); err != nil {
		return nil, fmt.Errorf("get last payment of %s: %w", accountCode, err)
	}
	return payment, nil
}

func meterPath(accountCode, meterCode string) string {
	return "/api/accounts/" + url.PathEscape(accountCode) + "/meters/" + url.PathEscape(meterCode)
}

func window(start, end time.Time) url.Values {
	return url.Values{
		"start": {start.UTC().Format(time.RFC3339)},
		"end":   {end.UTC().Format(time.RFC3339)},
	}
}

type errorResponse struct {
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.Debug("remote call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrSessionExpired
	case resp.StatusCode >= 300:
		var apiErr errorResponse
		if json.Unmarshal(raw, &apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return &APIError{Status: resp.StatusCode, Message: apiErr.Message}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
