// Package authclient is a Go client for the session endpoints of the API.
package authclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	headerAuthorization = "Authorization"
	headerRefreshToken  = "RefreshToken"
	headerIDToken       = "id_token"
	bearer              = "Bearer "
)

// Error is a failure envelope returned by the server.
type Error struct {
	Status    int
	Code      string
	Message   string
	RequestID string
}

func (e *Error) Error() string {
	return fmt.Sprintf("authclient: %d %s: %s (request %s)", e.Status, e.Code, e.Message, e.RequestID)
}

// Code returns the envelope code of err, or "" when err is not an *Error.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Tokens is the credential pair held by a Client.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Profile is the response of the /me endpoint.
type Profile struct {
	Email           string `json:"email"`
	Name            string `json:"name"`
	ProfileImageURL string `json:"profileImageUrl"`
	Role            string `json:"role"`
}

type envelope struct {
	Success   bool            `json:"success"`
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	RequestID string          `json:"requestId"`
}

// Client keeps the current credential pair and updates it whenever the server
// rotates it.
type Client struct {
	baseURL string
	http    *http.Client

	mu     sync.RWMutex
	tokens Tokens
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tokens returns the current credential pair.
func (c *Client) Tokens() Tokens {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokens
}

// SetTokens replaces the credential pair, for example from persisted state.
func (c *Client) SetTokens(t Tokens) {
	c.mu.Lock()
	c.tokens = t
	c.mu.Unlock()
}

// Login exchanges a provider ID token for a session.
func (c *Client) Login(ctx context.Context, idToken string) (Tokens, error) {
	var t Tokens
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{headerIDToken: idToken}, &t); err != nil {
		return Tokens{}, err
	}
	c.SetTokens(t)
	return t, nil
}

// Reissue rotates the held credential pair.
func (c *Client) Reissue(ctx context.Context) (Tokens, error) {
	cur := c.Tokens()
	var t Tokens
	err := c.do(ctx, http.MethodPost, "/api/auth/reissue", map[string]string{
		headerAuthorization: bearer + cur.AccessToken,
		headerRefreshToken:  bearer + cur.RefreshToken,
	}, &t)
	if err != nil {
		return Tokens{}, err
	}
	c.SetTokens(t)
	return t, nil
}

// Logout ends the session and forgets the held pair.
func (c *Client) Logout(ctx context.Context) error {
	cur := c.Tokens()
	if err := c.do(ctx, http.MethodPost, "/api/auth/logout", map[string]string{
		headerAuthorization: bearer + cur.AccessToken,
	}, nil); err != nil {
		return err
	}
	c.SetTokens(Tokens{})
	return nil
}

// Me returns the profile of the authenticated user. When renew is set the
// refresh credential is sent too, and a silent renewal is followed by a
// second request with the rotated pair.
func (c *Client) Me(ctx context.Context, renew bool) (Profile, error) {
	cur := c.Tokens()
	headers := map[string]string{headerAuthorization: bearer + cur.AccessToken}
	if renew {
		headers[headerRefreshToken] = bearer + cur.RefreshToken
	}
	var p Profile
	renewed, err := c.doRenewable(ctx, http.MethodGet, "/api/auth/me", headers, &p)
	if err != nil {
		return Profile{}, err
	}
	if renewed {
		return c.Me(ctx, false)
	}
	return p, nil
}

// Healthy reports whether /healthz answers 200.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("authclient: healthz returned %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, headers map[string]string, out any) error {
	_, err := c.doRenewable(ctx, method, path, headers, out)
	return err
}

// doRenewable reports whether the server answered with a rotated pair instead
// of the requested resource.
func (c *Client) doRenewable(ctx context.Context, method, path string, headers map[string]string, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return false, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return false, fmt.Errorf("authclient: decode %s: %w", path, err)
	}
	if !env.Success {
		return false, &Error{Status: resp.StatusCode, Code: env.Code, Message: env.Message, RequestID: env.RequestID}
	}

	access := strings.TrimPrefix(resp.Header.Get(headerAuthorization), bearer)
	refresh := strings.TrimPrefix(resp.Header.Get(headerRefreshToken), bearer)
	if access != "" && refresh != "" {
		c.SetTokens(Tokens{AccessToken: access, RefreshToken: refresh})
		return true, nil
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return false, fmt.Errorf("authclient: decode %s data: %w", path, err)
	}
	return false, nil
}
