package devserver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAccountStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryAccountStore()

	acct := &Account{ID: "u1", Email: "Ada@Example.com", Role: "admin"}
	require.NoError(t, s.CreateAccount(ctx, acct))
	assert.False(t, acct.CreatedAt.IsZero())

	assert.ErrorIs(t, s.CreateAccount(ctx, &Account{ID: "u2", Email: "ada@example.com"}), ErrEmailTaken)

	got, err := s.GetAccountByEmail(ctx, "ADA@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)
	assert.Equal(t, "ada@example.com", got.Email)

	got.Role = "root"
	again, err := s.GetAccountByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "admin", again.Role, "callers get copies")

	_, err = s.GetAccountByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrAccountNotFound)
	_, err = s.GetAccountByEmail(ctx, "missing@example.com")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}
