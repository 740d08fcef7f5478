package devserver

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

var (
	// ErrEmailTaken is returned when an account with the email already exists
	ErrEmailTaken = errors.New("email already registered")

	// ErrAccountNotFound is returned when no account matches
	ErrAccountNotFound = errors.New("account not found")
)

// Account is a dev server user with its bcrypt password hash
type Account struct {
	ID           string
	Email        string
	Role         string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
}

// AccountStore persists accounts. Emails are matched case-insensitively.
type AccountStore interface {
	// CreateAccount returns ErrEmailTaken if the email is in use
	CreateAccount(ctx context.Context, account *Account) error
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)
	GetAccountByID(ctx context.Context, id string) (*Account, error)
}

// MemoryAccountStore is an in-process AccountStore
type MemoryAccountStore struct {
	mu      sync.RWMutex
	byID    map[string]*Account
	byEmail map[string]string
}

func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{
		byID:    make(map[string]*Account),
		byEmail: make(map[string]string),
	}
}

func (s *MemoryAccountStore) CreateAccount(_ context.Context, account *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(account.Email)
	if _, ok := s.byEmail[email]; ok {
		return ErrEmailTaken
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now()
	}
	stored := *account
	stored.Email = email
	s.byID[stored.ID] = &stored
	s.byEmail[email] = stored.ID
	return nil
}

func (s *MemoryAccountStore) GetAccountByEmail(_ context.Context, email string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrAccountNotFound
	}
	a := *s.byID[id]
	return &a, nil
}

func (s *MemoryAccountStore) GetAccountByID(_ context.Context, id string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.byID[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	a := *acct
	return &a, nil
}
