// Package oauth2 is an authsession.IdentityProvider backed by an OAuth2
// authorization server. Passwords are exchanged with the resource owner
// password grant; an ID token in the response is verified with OIDC when a
// verifier is configured.
package oauth2

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/panyam/authsession"
)

// Config describes the authorization server
type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string

	// UserInfoURL is queried for the user when the token response has no
	// verifiable ID token
	UserInfoURL string

	// SignupURL and ResetPasswordURL accept JSON posts. SignUp and
	// ResetPasswordForEmail fail with ErrNotConfigured when they are empty.
	SignupURL        string
	ResetPasswordURL string

	// RevokeURL is an RFC 7009 revocation endpoint, called on SignOut
	RevokeURL string
}

// Provider holds at most one session, in memory
type Provider struct {
	cfg        Config
	oauth      oauth2.Config
	verifier   *oidc.IDTokenVerifier
	httpClient *http.Client
	logger     zerolog.Logger

	mu        sync.Mutex
	token     *oauth2.Token
	user      authsession.ProviderUser
	listeners map[int]func(authsession.ProviderEvent)
	nextID    int
}

// Option configures a Provider
type Option func(*Provider)

// WithHTTPClient sets the client used for every request to the server
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// WithVerifier verifies ID tokens returned by the token endpoint
func WithVerifier(v *oidc.IDTokenVerifier) Option {
	return func(p *Provider) {
		p.verifier = v
	}
}

// WithLogger sets the provider's logger
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// NewProvider creates a Provider for cfg
func NewProvider(cfg Config, opts ...Option) *Provider {
	p := &Provider{
		cfg:        cfg,
		httpClient: http.DefaultClient,
		logger:     log.With().Str("component", "oauth2-provider").Logger(),
		listeners:  map[int]func(authsession.ProviderEvent){},
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Discover builds a Provider from the issuer's OpenID configuration. The
// token and userinfo endpoints in cfg are filled from discovery when empty,
// and ID tokens are verified against the issuer's keys.
func Discover(ctx context.Context, issuer string, cfg Config, opts ...Option) (*Provider, error) {
	p := NewProvider(cfg, opts...)
	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, p.httpClient), issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	var extra struct {
		UserInfoURL string `json:"userinfo_endpoint"`
		RevokeURL   string `json:"revocation_endpoint"`
	}
	if err := provider.Claims(&extra); err != nil {
		return nil, fmt.Errorf("failed to parse discovery document: %w", err)
	}

	if p.cfg.TokenURL == "" {
		p.cfg.TokenURL = provider.Endpoint().TokenURL
		p.oauth.Endpoint.TokenURL = p.cfg.TokenURL
	}
	if p.cfg.UserInfoURL == "" {
		p.cfg.UserInfoURL = extra.UserInfoURL
	}
	if p.cfg.RevokeURL == "" {
		p.cfg.RevokeURL = extra.RevokeURL
	}
	if len(p.oauth.Scopes) == 0 {
		p.oauth.Scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}
	if p.verifier == nil {
		p.verifier = provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})
	}
	return p, nil
}

// GetSession returns the current session, refreshing an expired access
// token when a refresh token is available. A failed refresh drops the
// session.
func (p *Provider) GetSession(ctx context.Context) (*authsession.ProviderSession, error) {
	p.mu.Lock()
	tok, user := p.token, p.user
	p.mu.Unlock()
	if tok == nil {
		return nil, nil
	}
	if tok.Valid() {
		return session(tok, user), nil
	}
	if tok.RefreshToken == "" {
		p.clear(tok)
		return nil, nil
	}

	fresh, err := p.oauth.TokenSource(p.clientContext(ctx), tok).Token()
	if err != nil {
		p.logger.Warn().Err(err).Msg("refresh failed, dropping provider session")
		p.clear(tok)
		return nil, nil
	}

	p.mu.Lock()
	if p.token != tok {
		// signed out or replaced while refreshing
		p.mu.Unlock()
		return nil, nil
	}
	p.token = fresh
	p.mu.Unlock()
	return session(fresh, user), nil
}

// OnAuthStateChange registers fn for SIGNED_IN and SIGNED_OUT events
func (p *Provider) OnAuthStateChange(fn func(authsession.ProviderEvent)) authsession.Subscription {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()

	return authsession.SubscriptionFunc(func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	})
}

// SignInWithPassword exchanges credentials at the token endpoint
func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) (*authsession.ProviderSession, error) {
	tok, err := p.oauth.PasswordCredentialsToken(p.clientContext(ctx), email, password)
	if err != nil {
		return nil, tokenError(err)
	}
	return p.establish(ctx, tok, email)
}

// SignUp posts credentials to the signup endpoint. A response carrying an
// access token opens a session; otherwise the session is nil.
func (p *Provider) SignUp(ctx context.Context, email, password string) (*authsession.ProviderSession, error) {
	if p.cfg.SignupURL == "" {
		return nil, fmt.Errorf("signup: %w", authsession.ErrNotConfigured)
	}

	var resp struct {
		AccessToken  string `json:"access_token"`
		TokenType    string `json:"token_type"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
		IDToken      string `json:"id_token"`
	}
	body := map[string]string{"email": email, "password": password}
	if err := p.postJSON(ctx, p.cfg.SignupURL, body, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, nil
	}

	tok := &oauth2.Token{
		AccessToken:  resp.AccessToken,
		TokenType:    resp.TokenType,
		RefreshToken: resp.RefreshToken,
	}
	if resp.ExpiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	if resp.IDToken != "" {
		tok = tok.WithExtra(map[string]any{"id_token": resp.IDToken})
	}
	return p.establish(ctx, tok, email)
}

// SignOut drops the session and emits SIGNED_OUT, then revokes the token at
// the server when a revocation endpoint is configured. The local session is
// gone even when revocation fails.
func (p *Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	tok := p.token
	p.token = nil
	p.user = authsession.ProviderUser{}
	p.mu.Unlock()

	p.emit(authsession.ProviderEvent{Kind: authsession.SignedOut})

	if tok == nil || p.cfg.RevokeURL == "" {
		return nil
	}
	return p.revoke(ctx, tok)
}

// ResetPasswordForEmail asks the server to send a reset link
func (p *Provider) ResetPasswordForEmail(ctx context.Context, email string) error {
	if p.cfg.ResetPasswordURL == "" {
		return fmt.Errorf("reset password: %w", authsession.ErrNotConfigured)
	}
	return p.postJSON(ctx, p.cfg.ResetPasswordURL, map[string]string{"email": email}, nil)
}

func (p *Provider) establish(ctx context.Context, tok *oauth2.Token, email string) (*authsession.ProviderSession, error) {
	user, err := p.userFor(ctx, tok, email)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.token = tok
	p.user = user
	p.mu.Unlock()

	s := session(tok, user)
	p.emit(authsession.ProviderEvent{Kind: authsession.SignedIn, Session: s})
	return s, nil
}

// userFor describes the owner of tok, preferring a verified ID token over
// the userinfo endpoint
func (p *Provider) userFor(ctx context.Context, tok *oauth2.Token, email string) (authsession.ProviderUser, error) {
	if raw, ok := tok.Extra("id_token").(string); ok && raw != "" && p.verifier != nil {
		idToken, err := p.verifier.Verify(p.clientContext(ctx), raw)
		if err != nil {
			return authsession.ProviderUser{}, &authsession.AuthError{
				Code:    authsession.ErrCodeProvider,
				Message: "Identity provider returned an invalid ID token",
				Err:     err,
			}
		}
		claims := map[string]any{}
		if err := idToken.Claims(&claims); err != nil {
			return authsession.ProviderUser{}, fmt.Errorf("failed to parse claims: %w", err)
		}
		return providerUser(idToken.Subject, claims, email), nil
	}

	if p.cfg.UserInfoURL != "" {
		claims, err := p.fetchUserInfo(ctx, tok)
		if err != nil {
			return authsession.ProviderUser{}, err
		}
		sub, _ := claims["sub"].(string)
		if sub == "" {
			sub, _ = claims["id"].(string)
		}
		return providerUser(sub, claims, email), nil
	}

	return authsession.ProviderUser{ID: email, Email: email, Metadata: map[string]any{}}, nil
}

func (p *Provider) fetchUserInfo(ctx context.Context, tok *oauth2.Token) (map[string]any, error) {
	client := p.oauth.Client(p.clientContext(ctx), tok)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.UserInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, networkError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, networkError(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &authsession.AuthError{
			Code:    authsession.ErrCodeProvider,
			Message: "Failed to load user from identity provider",
			Status:  resp.StatusCode,
		}
	}

	claims := map[string]any{}
	if err := json.Unmarshal(data, &claims); err != nil {
		return nil, fmt.Errorf("failed to decode userinfo: %w", err)
	}
	return claims, nil
}

func (p *Provider) revoke(ctx context.Context, tok *oauth2.Token) error {
	form := url.Values{
		"token":           {tok.AccessToken},
		"token_type_hint": {"access_token"},
		"client_id":       {p.cfg.ClientID},
	}
	if p.cfg.ClientSecret != "" {
		form.Set("client_secret", p.cfg.ClientSecret)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.RevokeURL, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return networkError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &authsession.AuthError{
			Code:    authsession.ErrCodeProvider,
			Message: "Failed to revoke session",
			Status:  resp.StatusCode,
		}
	}
	return nil
}

func (p *Provider) postJSON(ctx context.Context, target string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return networkError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return networkError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

// clear drops tok if it is still the current session
func (p *Provider) clear(tok *oauth2.Token) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token == tok {
		p.token = nil
		p.user = authsession.ProviderUser{}
	}
}

func (p *Provider) emit(ev authsession.ProviderEvent) {
	p.mu.Lock()
	fns := make([]func(authsession.ProviderEvent), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (p *Provider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

func session(tok *oauth2.Token, user authsession.ProviderUser) *authsession.ProviderSession {
	return &authsession.ProviderSession{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		User:         user,
	}
}

func providerUser(sub string, claims map[string]any, fallbackEmail string) authsession.ProviderUser {
	email, _ := claims["email"].(string)
	if email == "" {
		email = fallbackEmail
	}
	if sub == "" {
		sub = email
	}
	return authsession.ProviderUser{ID: sub, Email: email, Metadata: claims}
}

// tokenError maps a token endpoint failure to an AuthError
func tokenError(err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return networkError(err)
	}

	status := 0
	if re.Response != nil {
		status = re.Response.StatusCode
	}
	msg := re.ErrorDescription
	code := authsession.ErrCodeProvider
	if re.ErrorCode == "invalid_grant" || status == http.StatusUnauthorized {
		code = authsession.ErrCodeInvalidCreds
		if msg == "" {
			msg = "Invalid login credentials"
		}
	}
	if msg == "" {
		msg = "Identity provider rejected the request"
	}
	return &authsession.AuthError{Code: code, Message: msg, Status: status, Err: err}
}

func statusError(status int, body []byte) error {
	var eb struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
		Msg         string `json:"msg"`
		Message     string `json:"message"`
	}
	_ = json.Unmarshal(body, &eb)

	msg := eb.Description
	for _, m := range []string{eb.Msg, eb.Message, eb.Error} {
		if msg == "" {
			msg = m
		}
	}
	if msg == "" {
		msg = fmt.Sprintf("Request failed: HTTP %d", status)
	}

	code := authsession.ErrCodeProvider
	switch {
	case status == http.StatusConflict, eb.Error == "user_already_exists":
		code = authsession.ErrCodeEmailExists
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		code = authsession.ErrCodeInvalidInput
	}
	return authsession.NewAuthError(code, msg, status)
}

func networkError(err error) error {
	return &authsession.AuthError{
		Code:    authsession.ErrCodeNetwork,
		Message: "Unable to reach the identity provider",
		Err:     err,
	}
}
