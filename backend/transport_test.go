package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panyam/authsession"
)

func TestAuthTransport(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		wantHeader string
	}{
		{"with token", "test-token", "Bearer test-token"},
		{"without token", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.Header.Get("Authorization")
			}))
			defer ts.Close()

			req, err := http.NewRequest(http.MethodGet, ts.URL, nil)
			require.NoError(t, err)
			resp, err := NewAuthTransportWithBase(nil, tt.token).RoundTrip(req)
			require.NoError(t, err)
			resp.Body.Close()

			assert.Equal(t, tt.wantHeader, got)
			assert.Empty(t, req.Header.Get("Authorization"), "original request is not mutated")
		})
	}
}

func signedInManager(t *testing.T) *authsession.Manager {
	t.Helper()
	ctx := context.Background()
	m := authsession.NewManager(authsession.NewTokenStore(authsession.NewMemoryStore()))
	err := m.Establish(ctx, m.LogoutEpoch(), authsession.Token{AccessToken: "tok-1"}, &authsession.UserRecord{ID: "u1"})
	require.NoError(t, err)
	return m
}

func TestSessionTransport_AttachesToken(t *testing.T) {
	m := signedInManager(t)
	var got string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	}))
	defer ts.Close()

	client := &http.Client{Transport: NewSessionTransport(m, nil)}
	resp, err := client.Get(ts.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "Bearer tok-1", got)
	assert.True(t, m.GetAuthState().IsAuthenticated)
}

func TestSessionTransport_SignsOutOn401(t *testing.T) {
	m := signedInManager(t)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	client := &http.Client{Transport: NewSessionTransport(m, http.DefaultTransport)}
	resp, err := client.Get(ts.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.False(t, m.GetAuthState().IsAuthenticated)
	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Nil(t, tok)
}

func TestSessionTransport_AnonymousRequest(t *testing.T) {
	m := authsession.NewManager(authsession.NewTokenStore(authsession.NewMemoryStore()))
	var got string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	sub := 0
	m.Subscribe(func(authsession.AuthState) { sub++ })

	client := &http.Client{Transport: NewSessionTransport(m, nil)}
	resp, err := client.Get(ts.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Empty(t, got)
	assert.Equal(t, 0, sub, "no session, nothing to sign out")
}
