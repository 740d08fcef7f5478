package authsession

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
)

// fakeBackend resolves tokens from a fixed table. Login issues "tok-<email>".
type fakeBackend struct {
	mu        sync.Mutex
	users     map[string]*UserRecord // by token
	passwords map[string]string      // by email
	resets    []string
	redirects []string

	meCalls    atomic.Int32
	loginCalls atomic.Int32

	// When set, Me and Login block until the channel is closed.
	meGate    chan struct{}
	loginGate chan struct{}

	signupWithoutToken bool
	panicOnLogin       bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		users:     make(map[string]*UserRecord),
		passwords: make(map[string]string),
	}
}

func (f *fakeBackend) addUser(token string, u *UserRecord, password string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[token] = u
	f.passwords[u.Email] = password
}

func (f *fakeBackend) Login(ctx context.Context, email, password string) (*Grant, error) {
	f.loginCalls.Add(1)
	if f.panicOnLogin {
		panic("backend exploded")
	}
	if f.loginGate != nil {
		<-f.loginGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if want, ok := f.passwords[email]; !ok || want != password {
		return nil, NewAuthError(ErrCodeInvalidCreds, "Invalid email or password", http.StatusUnauthorized)
	}
	tok := "tok-" + email
	for _, u := range f.users {
		if u.Email == email {
			f.users[tok] = u
			return &Grant{Token: tok, User: u.clone()}, nil
		}
	}
	return nil, NewAuthError(ErrCodeServer, "user vanished", http.StatusInternalServerError)
}

func (f *fakeBackend) Signup(ctx context.Context, email, password string) (*Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.passwords[email]; ok {
		return nil, NewAuthError(ErrCodeEmailExists, "Email already registered", http.StatusConflict)
	}
	u := &UserRecord{ID: fmt.Sprintf("u%d", len(f.passwords)+1), Email: email, Role: "user"}
	f.passwords[email] = password
	if f.signupWithoutToken {
		return &Grant{User: u}, nil
	}
	tok := "tok-" + email
	f.users[tok] = u
	return &Grant{Token: tok, User: u.clone()}, nil
}

func (f *fakeBackend) Me(ctx context.Context, token string) (*UserRecord, error) {
	f.meCalls.Add(1)
	if f.meGate != nil {
		<-f.meGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[token]
	if !ok {
		return nil, fmt.Errorf("GET /auth/me: 401: %w", ErrUnauthorized)
	}
	return u.clone(), nil
}

func (f *fakeBackend) ForgotPassword(ctx context.Context, email, redirectTo string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, email)
	f.redirects = append(f.redirects, redirectTo)
	return nil
}

// fakeProvider keeps one session and emits events synchronously, like a
// provider SDK does from inside sign-in and sign-out.
type fakeProvider struct {
	mu        sync.Mutex
	session   *ProviderSession
	listeners map[int]func(ProviderEvent)
	nextID    int
	resets    []string

	signOutErr  error
	signInErr   error
	signUpEmpty bool

	signOutCalls atomic.Int32
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{listeners: make(map[int]func(ProviderEvent))}
}

func providerSession(email string) *ProviderSession {
	return &ProviderSession{
		AccessToken: "prov-" + email,
		User: ProviderUser{
			ID:       "p-" + email,
			Email:    email,
			Metadata: map[string]any{"role": "member", "full_name": "Ada Lovelace"},
		},
	}
}

func (p *fakeProvider) emit(ev ProviderEvent) {
	p.mu.Lock()
	fns := make([]func(ProviderEvent), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (p *fakeProvider) listenerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners)
}

func (p *fakeProvider) GetSession(ctx context.Context) (*ProviderSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session, nil
}

func (p *fakeProvider) OnAuthStateChange(fn func(ProviderEvent)) Subscription {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()
	return SubscriptionFunc(func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	})
}

func (p *fakeProvider) SignInWithPassword(ctx context.Context, email, password string) (*ProviderSession, error) {
	if p.signInErr != nil {
		return nil, p.signInErr
	}
	s := providerSession(email)
	p.mu.Lock()
	p.session = s
	p.mu.Unlock()
	p.emit(ProviderEvent{Kind: SignedIn, Session: s})
	return s, nil
}

func (p *fakeProvider) SignUp(ctx context.Context, email, password string) (*ProviderSession, error) {
	if p.signUpEmpty {
		return nil, nil
	}
	return p.SignInWithPassword(ctx, email, password)
}

func (p *fakeProvider) SignOut(ctx context.Context) error {
	p.signOutCalls.Add(1)
	p.mu.Lock()
	p.session = nil
	p.mu.Unlock()
	if p.signOutErr != nil {
		return p.signOutErr
	}
	p.emit(ProviderEvent{Kind: SignedOut})
	return nil
}

func (p *fakeProvider) ResetPasswordForEmail(ctx context.Context, email string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets = append(p.resets, email)
	return nil
}

func newTestManager() (*Manager, *MemoryStore) {
	kv := NewMemoryStore()
	return NewManager(NewTokenStore(kv)), kv
}

func seedToken(kv *MemoryStore, token string) {
	ctx := context.Background()
	_ = kv.Set(ctx, KeyAuthToken, token)
}
