// Package scs adapts any github.com/alexedwards/scs/v2 session store (memstore,
// redisstore, postgresstore, ...) into an authsession.KeyValueStore.
package scs

import (
	"context"
	"fmt"
	"time"

	"github.com/alexedwards/scs/v2"
)

// DefaultLifetime is how long an entry lives when no lifetime is given
const DefaultLifetime = 30 * 24 * time.Hour

// Store keeps each key as its own scs record under "<prefix>:<key>". Values
// are stored as raw bytes.
type Store struct {
	store    scs.Store
	prefix   string
	lifetime time.Duration
}

// NewStore wraps store. A lifetime of zero uses DefaultLifetime.
func NewStore(store scs.Store, prefix string, lifetime time.Duration) *Store {
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	return &Store{store: store, prefix: prefix, lifetime: lifetime}
}

func (s *Store) token(key string) string {
	return s.prefix + ":" + key
}

// Get returns the value stored under key
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var (
		b     []byte
		found bool
		err   error
	)
	if cs, ok := s.store.(scs.CtxStore); ok {
		b, found, err = cs.FindCtx(ctx, s.token(key))
	} else {
		b, found, err = s.store.Find(s.token(key))
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to find %s: %w", key, err)
	}
	return string(b), found, nil
}

// Set stores value under key, renewing its lifetime
func (s *Store) Set(ctx context.Context, key, value string) error {
	expiry := time.Now().Add(s.lifetime)
	var err error
	if cs, ok := s.store.(scs.CtxStore); ok {
		err = cs.CommitCtx(ctx, s.token(key), []byte(value), expiry)
	} else {
		err = s.store.Commit(s.token(key), []byte(value), expiry)
	}
	if err != nil {
		return fmt.Errorf("failed to commit %s: %w", key, err)
	}
	return nil
}

// Delete removes key
func (s *Store) Delete(ctx context.Context, key string) error {
	var err error
	if cs, ok := s.store.(scs.CtxStore); ok {
		err = cs.DeleteCtx(ctx, s.token(key))
	} else {
		err = s.store.Delete(s.token(key))
	}
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
