package authsession

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// State is what a mounted Hook exposes to its consumer.
type State struct {
	IsAuthenticated bool
	User            *UserRecord
	IsLoading       bool
	Error           string
}

// HookOption configures a Hook at mount time
type HookOption func(*Hook)

// OnChange sets a callback invoked with the new State after every change
// while the Hook is mounted. It may be called from several goroutines.
func OnChange(fn func(State)) HookOption {
	return func(h *Hook) {
		h.onChange = fn
	}
}

// WithRedirectTo sets the link target sent with backend password reset
// requests.
func WithRedirectTo(url string) HookOption {
	return func(h *Hook) {
		h.redirectTo = url
	}
}

// authenticator is the collaborator-specific half of a Hook.
type authenticator interface {
	restore(ctx context.Context, tokens *TokenStore) (*Token, *UserRecord, error)
	signIn(ctx context.Context, email, password string) (*Grant, error)
	signUp(ctx context.Context, email, password string) (*Grant, error)
	signOut(ctx context.Context) error
	resetPassword(ctx context.Context, email string) error
}

// Hook is one consumer's view of the shared session. It reads the Manager's
// state, forwards actions to its collaborator and commits their results
// through the Manager.
//
// After Unmount returns, a Hook writes neither its own State nor the shared
// session, even for actions that were started before. The one exception is
// a SignOut already under way, which still clears the session.
type Hook struct {
	m    *Manager
	auth authenticator

	mounted     atomic.Bool
	busy        atomic.Bool
	unmountOnce sync.Once
	unsubscribe func()
	ready       chan struct{}

	mu           sync.Mutex
	state        State
	epoch        uint64
	initializing bool
	acting       int

	onChange   func(State)
	redirectTo string
}

func mount(ctx context.Context, m *Manager, newAuth func(h *Hook) authenticator, opts []HookOption) *Hook {
	h := &Hook{m: m, ready: make(chan struct{})}
	for _, opt := range opts {
		opt(h)
	}
	h.auth = newAuth(h)
	h.mounted.Store(true)

	st := m.GetAuthState()
	h.state = State{IsAuthenticated: st.IsAuthenticated, User: st.User}
	h.epoch = st.Epoch
	h.initializing = true
	h.unsubscribe = m.Subscribe(h.receive)

	in := m.Initialize(ctx, h.auth.restore)
	select {
	case <-in.Done():
		h.initialized(in.State())
	default:
		go func() {
			<-in.Done()
			h.initialized(in.State())
		}()
	}
	return h
}

// MountLocal mounts a Hook backed only by the application backend.
func MountLocal(ctx context.Context, m *Manager, backend Backend, opts ...HookOption) *Hook {
	return mount(ctx, m, func(h *Hook) authenticator {
		return &localAuth{backend: backend, redirectTo: h.redirectTo}
	}, opts)
}

// MountProvider mounts a Hook backed only by the identity provider. The
// provider's user stands in for the backend user record.
func MountProvider(ctx context.Context, m *Manager, provider IdentityProvider, opts ...HookOption) *Hook {
	return mount(ctx, m, func(*Hook) authenticator {
		return &providerAuth{provider: provider}
	}, opts)
}

// MountHybrid mounts a Hook that signs in with the identity provider and
// verifies every provider session with the backend. It also makes the
// Manager watch the provider's events.
func MountHybrid(ctx context.Context, m *Manager, provider IdentityProvider, backend Backend, opts ...HookOption) *Hook {
	m.WatchProvider(provider, backend)
	return mount(ctx, m, func(h *Hook) authenticator {
		return &hybridAuth{provider: provider, backend: backend, logger: m.logger}
	}, opts)
}

// State returns the current snapshot.
func (h *Hook) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked()
}

// Ready is closed once the mount's initialization has resolved.
func (h *Hook) Ready() <-chan struct{} {
	return h.ready
}

// Mounted reports whether Unmount has not been called yet.
func (h *Hook) Mounted() bool {
	return h.mounted.Load()
}

// Unmount detaches the Hook. It is safe to call more than once.
func (h *Hook) Unmount() {
	h.unmountOnce.Do(func() {
		h.mounted.Store(false)
		h.m.barrier()
		h.unsubscribe()
	})
}

// SignIn signs in with the Hook's collaborator and, on success, establishes
// the shared session. Only one SignIn or SignUp runs per Hook at a time;
// a second one returns ErrActionInFlight.
//
// If a sign-out happens before the collaborator answers, the session is not
// established and ErrSuperseded is returned.
func (h *Hook) SignIn(ctx context.Context, email, password string) (*Grant, error) {
	return h.credentialAction(ctx, func(ctx context.Context) (*Grant, error) {
		grant, err := h.auth.signIn(ctx, email, password)
		if err == nil && (grant == nil || grant.Token == "" || grant.User == nil) {
			err = ErrNoSession
		}
		return grant, err
	})
}

// SignUp registers with the Hook's collaborator. A session is established
// only when the collaborator returned a token.
func (h *Hook) SignUp(ctx context.Context, email, password string) (*Grant, error) {
	return h.credentialAction(ctx, func(ctx context.Context) (*Grant, error) {
		grant, err := h.auth.signUp(ctx, email, password)
		if err == nil && grant == nil {
			grant = &Grant{}
		}
		return grant, err
	})
}

func (h *Hook) credentialAction(ctx context.Context, call func(context.Context) (*Grant, error)) (*Grant, error) {
	if !h.busy.CompareAndSwap(false, true) {
		return nil, ErrActionInFlight
	}
	defer h.busy.Store(false)

	if !h.begin() {
		return nil, ErrUnmounted
	}
	epoch := h.m.LogoutEpoch()

	grant, err := recovered(func() (*Grant, error) { return call(ctx) })
	if err == nil && grant.Token != "" && grant.User != nil {
		err = h.m.establishIf(ctx, epoch, grant.token(), grant.User, h.mounted.Load)
	}

	switch {
	case errors.Is(err, ErrUnmounted):
		return nil, ErrUnmounted
	case errors.Is(err, ErrSuperseded):
		h.finish(nil)
		return nil, err
	case err != nil:
		h.finish(err)
		return nil, err
	}
	h.finish(nil)
	return grant, nil
}

// SignOut signs out of the collaborator and then clears the shared session,
// whether or not the remote sign-out succeeded. Every SignIn or SignUp in
// flight at the time of the call is superseded. The returned error reports
// the remote failure, if any; the local session is cleared regardless.
func (h *Hook) SignOut(ctx context.Context) error {
	if !h.begin() {
		return ErrUnmounted
	}
	h.m.revoke()

	_, remoteErr := recovered(func() (struct{}, error) { return struct{}{}, h.auth.signOut(ctx) })
	if remoteErr != nil {
		h.m.logger.Warn().Err(remoteErr).Msg("remote sign-out failed, clearing local session anyway")
	}
	localErr := h.m.SignedOut(ctx)

	err := errors.Join(remoteErr, localErr)
	h.finish(err)
	return err
}

// ResetPassword asks the collaborator to send a password reset message. It
// never changes the session.
func (h *Hook) ResetPassword(ctx context.Context, email string) error {
	if !h.begin() {
		return ErrUnmounted
	}
	_, err := recovered(func() (struct{}, error) { return struct{}{}, h.auth.resetPassword(ctx, email) })
	h.finish(err)
	return err
}

// begin clears the previous error and marks an action as running.
func (h *Hook) begin() bool {
	if !h.mounted.Load() {
		return false
	}
	h.mu.Lock()
	h.state.Error = ""
	h.acting++
	st := h.snapshotLocked()
	h.mu.Unlock()
	h.notify(st)
	return true
}

func (h *Hook) finish(err error) {
	h.mu.Lock()
	h.acting--
	if !h.mounted.Load() {
		h.mu.Unlock()
		return
	}
	if err != nil {
		h.state.Error = Message(err)
	}
	st := h.snapshotLocked()
	h.mu.Unlock()
	h.notify(st)
}

// receive applies a Manager broadcast, dropping any older than the newest
// state already seen.
func (h *Hook) receive(st AuthState) {
	if !h.mounted.Load() {
		return
	}
	h.mu.Lock()
	if !h.applyLocked(st) {
		h.mu.Unlock()
		return
	}
	snap := h.snapshotLocked()
	h.mu.Unlock()
	h.notify(snap)
}

func (h *Hook) initialized(st AuthState) {
	defer close(h.ready)
	if !h.mounted.Load() {
		return
	}
	h.mu.Lock()
	h.applyLocked(st)
	h.initializing = false
	snap := h.snapshotLocked()
	h.mu.Unlock()
	h.notify(snap)
}

func (h *Hook) applyLocked(st AuthState) bool {
	if st.Epoch <= h.epoch {
		return false
	}
	h.epoch = st.Epoch
	h.state.IsAuthenticated = st.IsAuthenticated
	h.state.User = st.User.clone()
	return true
}

func (h *Hook) snapshotLocked() State {
	st := h.state
	st.User = h.state.User.clone()
	st.IsLoading = h.initializing || h.acting > 0
	return st
}

func (h *Hook) notify(st State) {
	if h.onChange != nil && h.mounted.Load() {
		h.onChange(st)
	}
}

// recovered runs fn, turning a panic into an error.
func recovered[T any](fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewAuthError(ErrCodeUnknown, fmt.Sprintf("unexpected failure: %v", r), 0)
		}
	}()
	return fn()
}
