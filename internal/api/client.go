package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/muurk/moentap/internal/logging"
	"go.uber.org/zap"
)

const (
	// DefaultBaseURL is the vendor cloud endpoint
	DefaultBaseURL = "https://www.moen-iot.com"

	// DefaultTimeout is the default HTTP request timeout
	DefaultTimeout = 10 * time.Second

	// API paths
	pathAuthenticate = "/v2/authenticate"
	pathCredentials  = "/v3/credentials"
	pathShowers      = "/v2/showers"
	pathShowerDetail = "/v5/showers/%s"
	pathChannelAuth  = "/v3/pusher-auth"

	// tokenHeader carries the session token on authenticated requests
	tokenHeader = "User-Token"
)

// Client talks to the vendor cloud. It owns the session token and
// re-authenticates transparently when the token is missing.
type Client struct {
	// BaseURL is the cloud base URL (default: https://www.moen-iot.com)
	BaseURL string

	// HTTPClient is the underlying HTTP client
	HTTPClient *http.Client

	email    string
	password string

	mu    sync.Mutex
	token string
}

// NewClient creates a new cloud API client for the given account.
func NewClient(email, password string) *Client {
	return &Client{
		BaseURL:    DefaultBaseURL,
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
		email:      email,
		password:   password,
	}
}

// SetTimeout sets the HTTP request timeout
func (c *Client) SetTimeout(timeout time.Duration) {
	c.HTTPClient.Timeout = timeout
}

// Authenticate exchanges the account credentials for a session token.
// The token is kept on the client and attached to subsequent requests.
func (c *Client) Authenticate(ctx context.Context) error {
	q := url.Values{}
	q.Set("email", c.email)
	q.Set("password", c.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.BaseURL+pathAuthenticate+"?"+q.Encode(), nil)
	if err != nil {
		return NewNetworkError("failed to create authenticate request", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return NewNetworkError("authentication request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return NewAuthError("invalid email or password")
	}
	if resp.StatusCode != http.StatusOK {
		return NewHTTPError(resp.StatusCode, fmt.Sprintf("unexpected status code: %d", resp.StatusCode))
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return NewParseError("failed to parse authentication response", err)
	}
	if body.Token == "" {
		return NewAuthError("no token received from authentication")
	}

	c.mu.Lock()
	c.token = body.Token
	c.mu.Unlock()

	logging.Debug("Authenticated with cloud API", zap.String("email", c.email))
	return nil
}

// ensureToken authenticates if no session token is held yet and returns
// the current token.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}
	if err := c.Authenticate(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	token = c.token
	c.mu.Unlock()
	return token, nil
}

// FetchJSON performs an authenticated GET against the given API path and
// decodes the JSON response into out.
func (c *Client) FetchJSON(ctx context.Context, path string, out any) error {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return NewNetworkError("failed to create request", err)
	}
	req.Header.Set(tokenHeader, token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return NewNetworkError(fmt.Sprintf("request to %s failed", path), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		// Token expired. Drop it so the next call re-authenticates.
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()
		return NewAuthError("session token rejected")
	}
	if resp.StatusCode != http.StatusOK {
		return NewHTTPError(resp.StatusCode, fmt.Sprintf("unexpected status code %d from %s", resp.StatusCode, path))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return NewParseError(fmt.Sprintf("failed to parse response from %s", path), err)
	}
	return nil
}

// PostForm performs an authenticated form-encoded POST against the given API
// path and decodes the JSON response into out.
func (c *Client) PostForm(ctx context.Context, path string, form url.Values, out any) error {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path,
		strings.NewReader(form.Encode()))
	if err != nil {
		return NewNetworkError("failed to create request", err)
	}
	req.Header.Set(tokenHeader, token)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return NewNetworkError(fmt.Sprintf("request to %s failed", path), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()
		return NewAuthError("session token rejected")
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return NewHTTPError(resp.StatusCode,
			fmt.Sprintf("unexpected status code %d from %s: %s", resp.StatusCode, path, string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return NewParseError(fmt.Sprintf("failed to parse response from %s", path), err)
	}
	return nil
}

// PushCredentials fetches the app key and cluster for the push backend.
func (c *Client) PushCredentials(ctx context.Context) (*PushCredentials, error) {
	var creds PushCredentials
	if err := c.FetchJSON(ctx, pathCredentials, &creds); err != nil {
		return nil, err
	}
	logging.Debug("Got push credentials",
		zap.String("app_key", creds.AppKey),
		zap.String("cluster", creds.Cluster),
	)
	return &creds, nil
}

// Devices fetches the list of devices registered to the account.
func (c *Client) Devices(ctx context.Context) ([]DeviceSummary, error) {
	var devices []DeviceSummary
	if err := c.FetchJSON(ctx, pathShowers, &devices); err != nil {
		return nil, err
	}
	logging.Debug("Fetched device list", zap.Int("count", len(devices)))
	return devices, nil
}

// DeviceDetail fetches the full state of a single device.
func (c *Client) DeviceDetail(ctx context.Context, serial string) (*DeviceState, error) {
	var state DeviceState
	if err := c.FetchJSON(ctx, fmt.Sprintf(pathShowerDetail, url.PathEscape(serial)), &state); err != nil {
		return nil, err
	}
	if state.SerialNumber == "" {
		state.SerialNumber = serial
	}
	return &state, nil
}

// ChannelAuth exchanges a push connection's socket id and a private channel
// name for a channel authorization signature.
func (c *Client) ChannelAuth(ctx context.Context, socketID, channelName string) (string, error) {
	form := url.Values{}
	form.Set("socket_id", socketID)
	form.Set("channel_name", channelName)

	var body struct {
		Auth string `json:"auth"`
	}
	if err := c.PostForm(ctx, pathChannelAuth, form, &body); err != nil {
		return "", err
	}
	if body.Auth == "" {
		return "", NewAuthError(fmt.Sprintf("no signature returned for channel %s", channelName))
	}
	return body.Auth, nil
}
