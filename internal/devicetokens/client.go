package devicetokens

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/confops/internal/localstate"
	pkgerrors "github.com/angelmondragon/confops/pkg/errors"
)

const (
	tokensPath                  = "api/v1/device-tokens"
	responseBodyReadLimit int64 = 1024
)

// Client mirrors the page's device token onto the backend user record over HTTP.
// It satisfies the permission manager's Mirror contract.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	accessToken func(ctx context.Context) string
	role        func() string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRole reports the page's current dashboard role alongside the token.
func WithRole(role func() string) Option {
	return func(c *Client) {
		c.role = role
	}
}

// NewClient builds the mirror client. accessToken supplies the bearer for each call.
func NewClient(baseURL string, accessToken func(ctx context.Context) string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "api base url required")
	}
	if accessToken == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "access token source required")
	}
	client := &Client{
		baseURL:     trimmed,
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// RegisterRequest is the body of POST /api/v1/device-tokens.
type RegisterRequest struct {
	Token      string    `json:"token" validate:"required,max=4096"`
	Platform   string    `json:"platform" validate:"max=64"`
	Role       string    `json:"role,omitempty" validate:"omitempty,role"`
	ObtainedAt time.Time `json:"obtainedAt"`
}

// RemoveRequest is the body of DELETE /api/v1/device-tokens.
type RemoveRequest struct {
	Token string `json:"token" validate:"required,max=4096"`
}

func (c *Client) Upsert(ctx context.Context, tok localstate.DeviceToken) error {
	body := RegisterRequest{
		Token:      tok.Value,
		Platform:   tok.PlatformTag,
		ObtainedAt: tok.ObtainedAt,
	}
	if c.role != nil {
		body.Role = c.role()
	}
	return c.send(ctx, http.MethodPost, body)
}

func (c *Client) Remove(ctx context.Context, token string) error {
	return c.send(ctx, http.MethodDelete, RemoveRequest{Token: token})
}

func (c *Client) send(ctx context.Context, method string, body any) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "device token client not configured")
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal device token request")
	}
	url := fmt.Sprintf("%s/%s", c.baseURL, tokensPath)
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build device token request")
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer := strings.TrimSpace(c.accessToken(ctx)); bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute device token request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound && method == http.MethodDelete {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "device token request failed")
	}
	return nil
}
