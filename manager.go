package authsession

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Subscriber receives every published AuthState.
type Subscriber func(AuthState)

// Restorer rebuilds a session from persisted state and verifies it.
//
// A nil user with a nil error means there is no session. When the user is
// non-nil and tok is non-nil, tok is persisted before the state is published.
// Any error resolves the initialization to unauthenticated and clears the
// TokenStore.
type Restorer func(ctx context.Context, tokens *TokenStore) (tok *Token, user *UserRecord, err error)

type subscription struct {
	fn     Subscriber
	active atomic.Bool
}

// Manager owns the authoritative session. It restores a persisted session at
// most once, serializes token writes and fans every change out to its
// subscribers.
//
// Subscriber callbacks always run with no Manager lock held, so they may call
// back into the Manager.
type Manager struct {
	mu          sync.Mutex
	state       AuthState
	subs        []*subscription
	inflight    *Initialization
	initialized bool
	touched     bool
	watcher     *providerWatch

	// tokenMu orders token writes with the state commit that follows them.
	tokenMu sync.Mutex
	tokens  *TokenStore

	// logoutEpoch moves on every sign-out. generation moves on every
	// sign-in or sign-out.
	logoutEpoch atomic.Uint64
	generation  atomic.Uint64

	logger  zerolog.Logger
	metrics *metrics
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithLogger sets the logger used for session transitions
func WithLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates an unauthenticated, uninitialized Manager over tokens.
func NewManager(tokens *TokenStore, opts ...ManagerOption) *Manager {
	m := &Manager{
		tokens:  tokens,
		logger:  log.With().Str("component", "authsession").Logger(),
		metrics: newMetrics(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var (
	defaultMu      sync.Mutex
	defaultManager *Manager
)

// Default returns the process-wide Manager, creating one backed by an
// in-memory TokenStore on first use.
func Default() *Manager {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultManager == nil {
		defaultManager = NewManager(NewTokenStore(NewMemoryStore()))
	}
	return defaultManager
}

// SetDefault replaces the process-wide Manager. Call it once at startup,
// before anything mounts.
func SetDefault(m *Manager) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultManager = m
}

// GetAuthState returns the current session snapshot.
func (m *Manager) GetAuthState() AuthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state
	st.User = st.User.clone()
	return st
}

// SetAuthState publishes a new session and invokes every subscriber in
// registration order before returning. A true isAuthenticated with a nil
// user is published as unauthenticated.
func (m *Manager) SetAuthState(isAuthenticated bool, user *UserRecord) {
	m.mu.Lock()
	st := m.commitLocked(isAuthenticated, user)
	subs := m.snapshotLocked()
	m.mu.Unlock()
	m.broadcast(st, subs)
}

// Subscribe registers fn. The returned function unregisters it and may be
// called any number of times. Once it returns, no new invocation of fn starts.
func (m *Manager) Subscribe(fn Subscriber) (unsubscribe func()) {
	s := &subscription{fn: fn}
	s.active.Store(true)

	m.mu.Lock()
	m.subs = append(m.subs, s)
	n := len(m.subs)
	m.mu.Unlock()
	m.metrics.subscribers.Set(float64(n))

	var once sync.Once
	return func() {
		once.Do(func() {
			s.active.Store(false)
			m.mu.Lock()
			for i, other := range m.subs {
				if other == s {
					m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
					break
				}
			}
			n := len(m.subs)
			m.mu.Unlock()
			m.metrics.subscribers.Set(float64(n))
		})
	}
}

// Initialization returns the in-flight initialization, or nil.
func (m *Manager) Initialization() *Initialization {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inflight
}

// SetInitialization installs or clears (nil) the in-flight marker. Initialize
// manages the marker itself; this is for callers running their own protocol.
func (m *Manager) SetInitialization(in *Initialization) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inflight = in
}

// Initialize restores and verifies the persisted session.
//
// If an initialization is in flight, it is returned and nothing new starts.
// If a previous one succeeded, or a sign-in or sign-out has since defined the
// session, an already resolved Initialization carrying the current state is
// returned. Otherwise restore runs on its own goroutine, detached from ctx
// cancellation.
func (m *Manager) Initialize(ctx context.Context, restore Restorer) *Initialization {
	m.mu.Lock()
	if in := m.inflight; in != nil {
		m.mu.Unlock()
		m.metrics.initializations.WithLabelValues("joined").Inc()
		return in
	}
	if m.initialized {
		st := m.state
		m.mu.Unlock()
		m.metrics.initializations.WithLabelValues("cached").Inc()
		return resolved(st)
	}
	in := newInitialization()
	m.inflight = in
	gen := m.generation.Load()
	m.mu.Unlock()

	m.metrics.initializations.WithLabelValues("started").Inc()
	m.logger.Debug().Msg("session initialization started")
	go m.initialize(context.WithoutCancel(ctx), in, gen, restore)
	return in
}

func (m *Manager) initialize(ctx context.Context, in *Initialization, gen uint64, restore Restorer) {
	tok, user, err := runRestorer(ctx, restore, m.tokens)
	if err != nil {
		m.logger.Warn().Err(err).Msg("session restore failed, continuing unauthenticated")
	}
	in.resolve(m.settle(ctx, in, gen, tok, user, err))
}

func runRestorer(ctx context.Context, restore Restorer, tokens *TokenStore) (tok *Token, user *UserRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			tok, user, err = nil, nil, fmt.Errorf("restore panicked: %v", r)
		}
	}()
	return restore(ctx, tokens)
}

// settle commits the outcome of an initialization and clears the marker.
// The outcome is dropped if a sign-in or sign-out happened since it started.
func (m *Manager) settle(ctx context.Context, in *Initialization, gen uint64, tok *Token, user *UserRecord, restoreErr error) AuthState {
	m.tokenMu.Lock()
	if m.generation.Load() != gen {
		m.mu.Lock()
		if m.inflight == in {
			m.inflight = nil
		}
		st := m.state
		m.mu.Unlock()
		m.tokenMu.Unlock()
		m.metrics.verifications.WithLabelValues(outcomeSuperseded).Inc()
		m.logger.Debug().Msg("session initialization superseded")
		return st
	}

	outcome := outcomeAnonymous
	switch {
	case restoreErr != nil:
		outcome = outcomeRejected
		user = nil
		if err := m.tokens.Clear(ctx); err != nil {
			m.logger.Error().Err(err).Msg("failed to clear token store")
		}
	case user != nil:
		outcome = outcomeAuthenticated
		if tok != nil {
			if err := m.tokens.Set(ctx, *tok); err != nil {
				m.logger.Error().Err(err).Msg("failed to persist restored token")
			}
		}
	}

	m.mu.Lock()
	if m.inflight == in {
		m.inflight = nil
	}
	if restoreErr == nil {
		m.initialized = true
	}
	st := m.commitLocked(user != nil, user)
	subs := m.snapshotLocked()
	m.mu.Unlock()
	m.tokenMu.Unlock()

	m.metrics.verifications.WithLabelValues(outcome).Inc()
	m.logger.Info().Str("outcome", outcome).Msg("session initialized")
	m.broadcast(st, subs)
	return st
}

// LogoutEpoch identifies the current sign-out period. Read it before
// starting an action and pass it to Establish.
func (m *Manager) LogoutEpoch() uint64 {
	return m.logoutEpoch.Load()
}

// Establish persists tok and publishes user as authenticated, unless a
// sign-out happened since epoch was read, in which case it returns
// ErrSuperseded and changes nothing.
func (m *Manager) Establish(ctx context.Context, epoch uint64, tok Token, user *UserRecord) error {
	return m.establishIf(ctx, epoch, tok, user, nil)
}

// establishIf is Establish with an extra guard evaluated under the token
// lock. A false guard aborts with ErrUnmounted.
func (m *Manager) establishIf(ctx context.Context, epoch uint64, tok Token, user *UserRecord, guard func() bool) error {
	if user == nil {
		return ErrNoSession
	}

	m.tokenMu.Lock()
	if m.logoutEpoch.Load() != epoch {
		m.tokenMu.Unlock()
		m.metrics.verifications.WithLabelValues(outcomeSuperseded).Inc()
		return ErrSuperseded
	}
	if guard != nil && !guard() {
		m.tokenMu.Unlock()
		return ErrUnmounted
	}
	if err := m.tokens.Set(ctx, tok); err != nil {
		m.tokenMu.Unlock()
		return fmt.Errorf("failed to persist token: %w", err)
	}
	m.generation.Add(1)

	m.mu.Lock()
	m.initialized = true
	st := m.commitLocked(true, user)
	subs := m.snapshotLocked()
	m.mu.Unlock()
	m.tokenMu.Unlock()

	m.logger.Info().Str("user_id", user.ID).Msg("session established")
	m.broadcast(st, subs)
	return nil
}

// revoke supersedes every action that read the current logout epoch.
func (m *Manager) revoke() {
	m.logoutEpoch.Add(1)
}

// SignedOut clears the TokenStore and publishes unauthenticated. Any action
// that read LogoutEpoch before this call can no longer establish a session.
// The state is published even when clearing the store fails.
func (m *Manager) SignedOut(ctx context.Context) error {
	m.revoke()

	m.tokenMu.Lock()
	m.generation.Add(1)
	err := m.tokens.Clear(ctx)
	m.mu.Lock()
	m.initialized = true
	st := m.commitLocked(false, nil)
	subs := m.snapshotLocked()
	m.mu.Unlock()
	m.tokenMu.Unlock()

	if err != nil {
		m.logger.Error().Err(err).Msg("failed to clear token store on sign-out")
	}
	m.logger.Info().Msg("signed out")
	m.broadcast(st, subs)
	return err
}

// reject clears a session that the backend refused, unless a sign-out
// already happened since epoch.
func (m *Manager) reject(ctx context.Context, epoch uint64) {
	m.tokenMu.Lock()
	if m.logoutEpoch.Load() != epoch {
		m.tokenMu.Unlock()
		return
	}
	m.generation.Add(1)
	if err := m.tokens.Clear(ctx); err != nil {
		m.logger.Error().Err(err).Msg("failed to clear token store")
	}
	m.mu.Lock()
	st := m.commitLocked(false, nil)
	subs := m.snapshotLocked()
	m.mu.Unlock()
	m.tokenMu.Unlock()

	m.metrics.verifications.WithLabelValues(outcomeRejected).Inc()
	m.broadcast(st, subs)
}

// barrier waits for any token write that already passed its guard.
func (m *Manager) barrier() {
	m.tokenMu.Lock()
	//nolint:staticcheck // empty critical section
	m.tokenMu.Unlock()
}

// Token returns the persisted token, or nil.
func (m *Manager) Token(ctx context.Context) (*Token, error) {
	return m.tokens.Get(ctx)
}

// Phase reports where the Manager is in the restore-and-verify cycle.
func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.inflight != nil:
		return PhaseInitializing
	case !m.touched:
		return PhaseUninitialized
	case m.state.IsAuthenticated:
		return PhaseAuthenticated
	default:
		return PhaseUnauthenticated
	}
}

// Reset returns the Manager to its initial state: unauthenticated, no
// subscribers, no initialization and no provider watch. An initialization
// still running is ignored when it settles. The TokenStore is left alone.
func (m *Manager) Reset() {
	m.revoke()
	m.generation.Add(1)

	m.mu.Lock()
	for _, s := range m.subs {
		s.active.Store(false)
	}
	m.subs = nil
	m.state = AuthState{Epoch: m.state.Epoch + 1}
	m.inflight = nil
	m.initialized = false
	m.touched = false
	w := m.watcher
	m.watcher = nil
	m.mu.Unlock()

	m.metrics.subscribers.Set(0)
	if w != nil {
		w.stop()
	}
}

func (m *Manager) commitLocked(isAuthenticated bool, user *UserRecord) AuthState {
	if isAuthenticated && user == nil {
		m.logger.Warn().Msg("authenticated state without a user, publishing unauthenticated")
	}
	if !isAuthenticated {
		user = nil
	}
	m.state = AuthState{
		IsAuthenticated: user != nil,
		User:            user.clone(),
		Epoch:           m.state.Epoch + 1,
	}
	m.touched = true
	return m.state
}

func (m *Manager) snapshotLocked() []*subscription {
	subs := make([]*subscription, len(m.subs))
	copy(subs, m.subs)
	return subs
}

func (m *Manager) broadcast(st AuthState, subs []*subscription) {
	m.metrics.broadcasts.Inc()
	for _, s := range subs {
		if !s.active.Load() {
			continue
		}
		cp := st
		cp.User = st.User.clone()
		s.fn(cp)
	}
}
