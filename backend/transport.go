package backend

import (
	"net/http"

	"github.com/panyam/authsession"
)

// AuthTransport wraps an http.RoundTripper to add Authorization headers
type AuthTransport struct {
	Base  http.RoundTripper
	Token string
}

// RoundTrip implements http.RoundTripper
func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Token != "" {
		// Clone the request to avoid mutating the original
		req2 := req.Clone(req.Context())
		req2.Header.Set("Authorization", "Bearer "+t.Token)
		req = req2
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// NewAuthTransportWithBase creates an AuthTransport with a custom base transport
func NewAuthTransportWithBase(base http.RoundTripper, token string) *AuthTransport {
	return &AuthTransport{
		Base:  base,
		Token: token,
	}
}

// SessionTransport adds the bearer token of a Manager's current session to
// every request. A 401 answer to a request that carried a token signs the
// session out.
type SessionTransport struct {
	Base    http.RoundTripper
	Manager *authsession.Manager
}

// NewSessionTransport creates a SessionTransport over base
func NewSessionTransport(m *authsession.Manager, base http.RoundTripper) *SessionTransport {
	return &SessionTransport{Base: base, Manager: m}
}

// RoundTrip implements http.RoundTripper
func (t *SessionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	tok, err := t.Manager.Token(req.Context())
	if err != nil {
		return nil, err
	}
	epoch := t.Manager.LogoutEpoch()
	if tok != nil && tok.AccessToken != "" {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	}

	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	// Skip if a sign-out already happened while the request was in flight.
	if resp.StatusCode == http.StatusUnauthorized && tok != nil && t.Manager.LogoutEpoch() == epoch {
		_ = t.Manager.SignedOut(req.Context())
	}
	return resp, nil
}
