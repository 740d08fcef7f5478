//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryKey(t *testing.T) {
	s := NewKVStore(nil, "tenant-1", "alice")
	key := s.entryKey("authToken")
	assert.Equal(t, KindEntry, key.Kind)
	assert.Equal(t, "alice:authToken", key.Name)
	assert.Equal(t, "tenant-1", key.Namespace)
}

// Runs against the Datastore emulator when DATASTORE_EMULATOR_HOST is set.
func TestKVStore_Emulator(t *testing.T) {
	if os.Getenv("DATASTORE_EMULATOR_HOST") == "" {
		t.Skip("DATASTORE_EMULATOR_HOST not set")
	}
	ctx := context.Background()
	client, err := NewClient(ctx, "authsession-test", "")
	require.NoError(t, err)
	defer client.Close()

	s := NewKVStore(client, "test", t.Name())
	require.NoError(t, s.Set(ctx, "authToken", "abc"))

	v, ok, err := s.Get(ctx, "authToken")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc", v)

	require.NoError(t, s.Delete(ctx, "authToken"))
	_, ok, err = s.Get(ctx, "authToken")
	require.NoError(t, err)
	assert.False(t, ok)
}
