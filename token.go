package authsession

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Keys under which a Token is persisted.
const (
	KeyAuthToken = "authToken"
	KeyUserRole  = "userRole"
	KeyUserEmail = "userEmail"
)

// Token is the persisted bearer credential plus its denormalized role and email.
type Token struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role,omitempty"`
	Email       string `json:"email,omitempty"`
}

// KeyValueStore is durable string storage.
type KeyValueStore interface {
	// Get returns ok == false and a nil error when key is absent
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value under key, replacing any previous value
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting a missing key is not an error
	Delete(ctx context.Context, key string) error
}

// TokenStore keeps a Token in a KeyValueStore. It holds no other logic.
type TokenStore struct {
	kv KeyValueStore
}

// NewTokenStore wraps kv.
func NewTokenStore(kv KeyValueStore) *TokenStore {
	return &TokenStore{kv: kv}
}

// Get returns nil, nil when no token is persisted.
func (s *TokenStore) Get(ctx context.Context) (*Token, error) {
	access, ok, err := s.kv.Get(ctx, KeyAuthToken)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", KeyAuthToken, err)
	}
	if !ok || access == "" {
		return nil, nil
	}

	tok := &Token{AccessToken: access}
	if tok.Role, _, err = s.kv.Get(ctx, KeyUserRole); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", KeyUserRole, err)
	}
	if tok.Email, _, err = s.kv.Get(ctx, KeyUserEmail); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", KeyUserEmail, err)
	}
	return tok, nil
}

// Set persists all three keys.
func (s *TokenStore) Set(ctx context.Context, tok Token) error {
	if err := s.kv.Set(ctx, KeyAuthToken, tok.AccessToken); err != nil {
		return fmt.Errorf("failed to write %s: %w", KeyAuthToken, err)
	}
	if err := s.kv.Set(ctx, KeyUserRole, tok.Role); err != nil {
		return fmt.Errorf("failed to write %s: %w", KeyUserRole, err)
	}
	if err := s.kv.Set(ctx, KeyUserEmail, tok.Email); err != nil {
		return fmt.Errorf("failed to write %s: %w", KeyUserEmail, err)
	}
	return nil
}

// Clear deletes all three keys, attempting every delete even if one fails.
func (s *TokenStore) Clear(ctx context.Context) error {
	var errs []error
	for _, key := range []string{KeyAuthToken, KeyUserRole, KeyUserEmail} {
		if err := s.kv.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// MemoryStore is an in-process KeyValueStore. Nothing survives a restart.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}
