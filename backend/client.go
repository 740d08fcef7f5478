// Package backend is the HTTP implementation of authsession.Backend.
package backend

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

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/panyam/authsession"
)

// Endpoint paths, relative to the server URL
const (
	LoginPath          = "/auth/login"
	SignupPath         = "/auth/signup"
	MePath             = "/auth/me"
	ForgotPasswordPath = "/auth/forgot-password"
)

// Client talks to the application backend
type Client struct {
	serverURL     string
	httpClient    *http.Client
	baseTransport http.RoundTripper
	logger        zerolog.Logger

	// concurrent Me calls for one token share a request
	me singleflight.Group
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClient sets a custom base HTTP client (for timeouts, TLS config, etc.)
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client == nil {
			return
		}
		if client.Transport != nil {
			c.baseTransport = client.Transport
		}
		c.httpClient.Timeout = client.Timeout
		c.httpClient.CheckRedirect = client.CheckRedirect
		c.httpClient.Jar = client.Jar
	}
}

// WithTransport sets a custom base transport (for connection pooling, proxies, etc.)
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *Client) {
		c.baseTransport = transport
	}
}

// DefaultTimeout bounds requests when no timeout option is given
const DefaultTimeout = 30 * time.Second

// WithTimeout bounds every request
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithLogger sets the client's logger
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a Client for serverURL. Any path on serverURL is kept as
// a prefix for the endpoint paths.
func NewClient(serverURL string, opts ...ClientOption) *Client {
	c := &Client{
		serverURL:     strings.TrimRight(serverURL, "/"),
		httpClient:    &http.Client{Timeout: DefaultTimeout},
		baseTransport: http.DefaultTransport,
		logger:        log.With().Str("component", "backend").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient.Transport = c.baseTransport
	return c
}

// ServerURL returns the server URL this client is configured for
func (c *Client) ServerURL() string {
	return c.serverURL
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type forgotPasswordRequest struct {
	Email      string `json:"email"`
	RedirectTo string `json:"redirectTo,omitempty"`
}

// errorBody is the failure shape of every endpoint. Detail may be a string
// or a list of validation errors.
type errorBody struct {
	Detail json.RawMessage `json:"detail"`
	Error  string          `json:"error"`
}

type validationError struct {
	Msg string `json:"msg"`
}

// Login exchanges credentials for a bearer token and user record
func (c *Client) Login(ctx context.Context, email, password string) (*authsession.Grant, error) {
	var grant authsession.Grant
	if err := c.post(ctx, LoginPath, credentialsRequest{email, password}, &grant); err != nil {
		return nil, err
	}
	if grant.Token == "" || grant.User == nil {
		return nil, authsession.NewAuthError(authsession.ErrCodeServer, "Server returned an incomplete login response", http.StatusOK)
	}
	return &grant, nil
}

// Signup registers a user. The returned grant has no token when the server
// does not sign the user in.
func (c *Client) Signup(ctx context.Context, email, password string) (*authsession.Grant, error) {
	var grant authsession.Grant
	if err := c.post(ctx, SignupPath, credentialsRequest{email, password}, &grant); err != nil {
		return nil, err
	}
	return &grant, nil
}

// ForgotPassword asks the server to send a password reset link
func (c *Client) ForgotPassword(ctx context.Context, email, redirectTo string) error {
	return c.post(ctx, ForgotPasswordPath, forgotPasswordRequest{email, redirectTo}, nil)
}

// Me resolves token to the user it belongs to. A token the server refuses,
// or a JWT that has already expired, yields an error wrapping
// authsession.ErrUnauthorized.
func (c *Client) Me(ctx context.Context, token string) (*authsession.UserRecord, error) {
	if expiredJWT(token) {
		c.logger.Debug().Msg("bearer token already expired, skipping /auth/me")
		return nil, &authsession.AuthError{
			Code:    authsession.ErrCodeUnauthorized,
			Message: "Session expired",
			Status:  http.StatusUnauthorized,
			Err:     authsession.ErrUnauthorized,
		}
	}

	// The shared request outlives any single caller; the client timeout
	// bounds it. Each caller still stops waiting when its own ctx is done.
	ch := c.me.DoChan(token, func() (any, error) {
		return c.fetchMe(context.WithoutCancel(ctx), token)
	})
	select {
	case res := <-ch:
		if res.Shared {
			c.logger.Debug().Msg("joined in-flight /auth/me request")
		}
		if res.Err != nil {
			return nil, res.Err
		}
		u := *res.Val.(*authsession.UserRecord)
		return &u, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) fetchMe(ctx context.Context, token string) (*authsession.UserRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL+MePath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	httpClient := *c.httpClient
	httpClient.Transport = NewAuthTransportWithBase(c.baseTransport, token)
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, networkError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, networkError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := errorMessage(body)
		if msg == "" {
			msg = "Session expired"
		}
		return nil, &authsession.AuthError{
			Code:    authsession.ErrCodeUnauthorized,
			Message: msg,
			Status:  resp.StatusCode,
			Err:     authsession.ErrUnauthorized,
		}
	}

	var user authsession.UserRecord
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, &authsession.AuthError{
			Code:    authsession.ErrCodeServer,
			Message: "Invalid response from server",
			Status:  resp.StatusCode,
			Err:     err,
		}
	}
	if user.ID == "" {
		return nil, authsession.NewAuthError(authsession.ErrCodeServer, "Server returned a user without an id", resp.StatusCode)
	}
	return &user, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	jsonBody, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return networkError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return networkError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Debug().Str("path", path).Int("status", resp.StatusCode).Msg("backend request failed")
		return statusError(resp.StatusCode, body)
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &authsession.AuthError{
			Code:    authsession.ErrCodeServer,
			Message: "Invalid response from server",
			Status:  resp.StatusCode,
			Err:     err,
		}
	}
	return nil
}

func statusError(status int, body []byte) *authsession.AuthError {
	code := authsession.ErrCodeUnknown
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		code = authsession.ErrCodeInvalidCreds
	case status == http.StatusConflict:
		code = authsession.ErrCodeEmailExists
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		code = authsession.ErrCodeInvalidInput
	case status >= 500:
		code = authsession.ErrCodeServer
	}

	msg := errorMessage(body)
	if msg == "" {
		msg = fmt.Sprintf("Request failed: HTTP %d", status)
	}
	return authsession.NewAuthError(code, msg, status)
}

// errorMessage extracts the human-readable message from an error body
func errorMessage(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return ""
	}
	if len(eb.Detail) > 0 {
		var s string
		if err := json.Unmarshal(eb.Detail, &s); err == nil {
			return s
		}
		var list []validationError
		if err := json.Unmarshal(eb.Detail, &list); err == nil && len(list) > 0 {
			return list[0].Msg
		}
	}
	return eb.Error
}

func networkError(err error) error {
	msg := "Unable to reach the server"
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		msg = "The server took too long to respond"
	}
	return &authsession.AuthError{Code: authsession.ErrCodeNetwork, Message: msg, Err: err}
}

// expiredJWT reports whether token is a JWT whose exp claim is in the past.
// The signature is not checked; only the server can do that.
func expiredJWT(token string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(time.Now())
}
