package scs

import (
	"context"
	"testing"
	"time"

	"github.com/alexedwards/scs/v2/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panyam/authsession"
)

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	backing := memstore.New()
	s := NewStore(backing, "alice", 0)
	assert.Equal(t, DefaultLifetime, s.lifetime)

	_, ok, err := s.Get(ctx, "authToken")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "authToken", "abc"))
	v, ok, err := s.Get(ctx, "authToken")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc", v)

	raw, found, err := backing.Find("alice:authToken")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("abc"), raw)

	require.NoError(t, s.Delete(ctx, "authToken"))
	_, ok, err = s.Get(ctx, "authToken")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_Expiry(t *testing.T) {
	ctx := context.Background()
	s := NewStore(memstore.New(), "bob", 20*time.Millisecond)

	require.NoError(t, s.Set(ctx, "authToken", "abc"))
	require.Eventually(t, func() bool {
		_, ok, err := s.Get(ctx, "authToken")
		return err == nil && !ok
	}, time.Second, 5*time.Millisecond)
}

func TestStore_TokenStore(t *testing.T) {
	ctx := context.Background()
	tokens := authsession.NewTokenStore(NewStore(memstore.New(), "carol", time.Hour))

	want := authsession.Token{AccessToken: "abc", Role: "viewer", Email: "c@x.com"}
	require.NoError(t, tokens.Set(ctx, want))
	got, err := tokens.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, &want, got)
}
