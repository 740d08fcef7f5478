package authsession

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitReady(t *testing.T, h *Hook) {
	t.Helper()
	select {
	case <-h.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("hook never became ready")
	}
}

func signedInBackend() *fakeBackend {
	fb := newFakeBackend()
	fb.addUser("seed", &UserRecord{ID: "u1", Email: "a@x.com", Role: "admin"}, "pw")
	return fb
}

func TestHooks_ConcurrentMountsVerifyOnce(t *testing.T) {
	m, kv := newTestManager()
	fb := newFakeBackend()
	fb.addUser("abc", &UserRecord{ID: "u1", Email: "a@x.com", Role: "admin"}, "pw")
	fb.meGate = make(chan struct{})
	seedToken(kv, "abc")

	const n = 10
	hooks := make([]*Hook, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hooks[i] = MountLocal(context.Background(), m, fb)
		}()
	}
	wg.Wait()

	for _, h := range hooks {
		assert.True(t, h.State().IsLoading)
	}
	close(fb.meGate)

	for _, h := range hooks {
		waitReady(t, h)
		st := h.State()
		assert.True(t, st.IsAuthenticated)
		assert.False(t, st.IsLoading)
		assert.Equal(t, "u1", st.User.ID)
	}
	assert.Equal(t, int32(1), fb.meCalls.Load())

	// A late mount reuses the settled session.
	late := MountLocal(context.Background(), m, fb)
	waitReady(t, late)
	assert.True(t, late.State().IsAuthenticated)
	assert.Equal(t, int32(1), fb.meCalls.Load())
}

func TestHook_SignInEstablishesSession(t *testing.T) {
	m, _ := newTestManager()
	fb := signedInBackend()
	ctx := context.Background()

	var changes atomic.Int32
	h := MountLocal(ctx, m, fb, OnChange(func(State) { changes.Add(1) }))
	other := MountLocal(ctx, m, fb)
	waitReady(t, h)
	waitReady(t, other)

	grant, err := h.SignIn(ctx, "a@x.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "tok-a@x.com", grant.Token)

	st := h.State()
	assert.True(t, st.IsAuthenticated)
	assert.False(t, st.IsLoading)
	assert.Empty(t, st.Error)
	assert.True(t, other.State().IsAuthenticated, "every mounted hook receives the broadcast")
	assert.Positive(t, changes.Load())

	tok, err := m.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, &Token{AccessToken: "tok-a@x.com", Role: "admin", Email: "a@x.com"}, tok)
}

func TestHook_SignInFailureSetsError(t *testing.T) {
	m, _ := newTestManager()
	fb := signedInBackend()
	ctx := context.Background()

	h := MountLocal(ctx, m, fb)
	waitReady(t, h)

	_, err := h.SignIn(ctx, "a@x.com", "wrong")
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, ErrCodeInvalidCreds, authErr.Code)
	assert.Equal(t, "Invalid email or password", h.State().Error)
	assert.False(t, h.State().IsAuthenticated)

	// The next action starts with a clean error.
	_, err = h.SignIn(ctx, "a@x.com", "pw")
	require.NoError(t, err)
	assert.Empty(t, h.State().Error)
}

func TestHook_ConcurrentSignInRejected(t *testing.T) {
	m, _ := newTestManager()
	fb := signedInBackend()
	fb.loginGate = make(chan struct{})
	ctx := context.Background()

	h := MountLocal(ctx, m, fb)
	waitReady(t, h)

	done := make(chan error, 1)
	go func() {
		_, err := h.SignIn(ctx, "a@x.com", "pw")
		done <- err
	}()
	require.Eventually(t, func() bool { return fb.loginCalls.Load() == 1 }, 5*time.Second, time.Millisecond)

	_, err := h.SignIn(ctx, "a@x.com", "pw")
	assert.ErrorIs(t, err, ErrActionInFlight)

	close(fb.loginGate)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), fb.loginCalls.Load())
}

func TestHook_UnmountBeforeSignInResolves(t *testing.T) {
	m, _ := newTestManager()
	fb := signedInBackend()
	fb.loginGate = make(chan struct{})
	ctx := context.Background()

	var afterUnmount atomic.Bool
	var lateChanges atomic.Int32
	h := MountLocal(ctx, m, fb, OnChange(func(State) {
		if afterUnmount.Load() {
			lateChanges.Add(1)
		}
	}))
	waitReady(t, h)

	var broadcasts atomic.Int32
	m.Subscribe(func(AuthState) { broadcasts.Add(1) })

	done := make(chan error, 1)
	go func() {
		_, err := h.SignIn(ctx, "a@x.com", "pw")
		done <- err
	}()
	require.Eventually(t, func() bool { return fb.loginCalls.Load() == 1 }, 5*time.Second, time.Millisecond)

	h.Unmount()
	afterUnmount.Store(true)
	assert.NotPanics(t, h.Unmount)
	close(fb.loginGate)

	assert.ErrorIs(t, <-done, ErrUnmounted)
	assert.False(t, m.GetAuthState().IsAuthenticated)
	assert.Equal(t, int32(0), broadcasts.Load(), "no stale broadcast")
	assert.Equal(t, int32(0), lateChanges.Load())

	tok, err := m.Token(ctx)
	require.NoError(t, err)
	assert.Nil(t, tok)

	_, err = h.SignIn(ctx, "a@x.com", "pw")
	assert.ErrorIs(t, err, ErrUnmounted)
}

func TestHook_UnmountedHookIgnoresBroadcasts(t *testing.T) {
	m, _ := newTestManager()
	fb := signedInBackend()
	ctx := context.Background()

	var changes atomic.Int32
	h := MountLocal(ctx, m, fb, OnChange(func(State) { changes.Add(1) }))
	waitReady(t, h)
	h.Unmount()
	before := changes.Load()

	m.SetAuthState(true, &UserRecord{ID: "u1"})
	assert.False(t, h.State().IsAuthenticated)
	assert.Equal(t, before, changes.Load())
}

func TestHook_SignOutIsFailOpen(t *testing.T) {
	m, _ := newTestManager()
	p := newFakeProvider()
	p.signOutErr = errors.New("network unreachable")
	ctx := context.Background()

	h := MountProvider(ctx, m, p)
	waitReady(t, h)
	_, err := h.SignIn(ctx, "a@x.com", "pw")
	require.NoError(t, err)
	require.True(t, h.State().IsAuthenticated)

	err = h.SignOut(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "network unreachable")

	assert.False(t, m.GetAuthState().IsAuthenticated)
	st := h.State()
	assert.False(t, st.IsAuthenticated)
	assert.Equal(t, "network unreachable", st.Error)

	tok, err := m.Token(ctx)
	require.NoError(t, err)
	assert.Nil(t, tok)
}

func TestHook_SignOutWinsOverPendingSignIn(t *testing.T) {
	m, _ := newTestManager()
	fb := signedInBackend()
	fb.loginGate = make(chan struct{})
	ctx := context.Background()

	h := MountLocal(ctx, m, fb)
	waitReady(t, h)

	done := make(chan error, 1)
	go func() {
		_, err := h.SignIn(ctx, "a@x.com", "pw")
		done <- err
	}()
	require.Eventually(t, func() bool { return fb.loginCalls.Load() == 1 }, 5*time.Second, time.Millisecond)

	require.NoError(t, h.SignOut(ctx))
	close(fb.loginGate)

	assert.ErrorIs(t, <-done, ErrSuperseded)
	assert.Equal(t, AuthState{Epoch: m.GetAuthState().Epoch}, m.GetAuthState())
	assert.False(t, h.State().IsAuthenticated)
	assert.False(t, h.State().IsLoading)
	assert.Empty(t, h.State().Error)

	tok, err := m.Token(ctx)
	require.NoError(t, err)
	assert.Nil(t, tok)
}

func TestHook_SignUp(t *testing.T) {
	ctx := context.Background()

	t.Run("with token", func(t *testing.T) {
		m, _ := newTestManager()
		h := MountLocal(ctx, m, newFakeBackend())
		waitReady(t, h)

		grant, err := h.SignUp(ctx, "new@x.com", "pw")
		require.NoError(t, err)
		assert.NotEmpty(t, grant.Token)
		assert.True(t, m.GetAuthState().IsAuthenticated)
	})

	t.Run("without token", func(t *testing.T) {
		m, _ := newTestManager()
		fb := newFakeBackend()
		fb.signupWithoutToken = true
		h := MountLocal(ctx, m, fb)
		waitReady(t, h)

		grant, err := h.SignUp(ctx, "new@x.com", "pw")
		require.NoError(t, err)
		assert.Empty(t, grant.Token)
		assert.Equal(t, "new@x.com", grant.User.Email)
		assert.False(t, m.GetAuthState().IsAuthenticated)
	})

	t.Run("duplicate email", func(t *testing.T) {
		m, _ := newTestManager()
		h := MountLocal(ctx, m, signedInBackend())
		waitReady(t, h)

		_, err := h.SignUp(ctx, "a@x.com", "pw")
		require.Error(t, err)
		assert.Equal(t, "Email already registered", h.State().Error)
	})

	t.Run("provider without session", func(t *testing.T) {
		m, _ := newTestManager()
		p := newFakeProvider()
		p.signUpEmpty = true
		h := MountProvider(ctx, m, p)
		waitReady(t, h)

		grant, err := h.SignUp(ctx, "new@x.com", "pw")
		require.NoError(t, err)
		assert.Empty(t, grant.Token)
		assert.False(t, m.GetAuthState().IsAuthenticated)
	})
}

func TestHook_ResetPassword(t *testing.T) {
	m, _ := newTestManager()
	fb := signedInBackend()
	ctx := context.Background()

	h := MountLocal(ctx, m, fb, WithRedirectTo("https://app.example.com/reset"))
	waitReady(t, h)
	before := m.GetAuthState()

	require.NoError(t, h.ResetPassword(ctx, "a@x.com"))
	assert.Equal(t, []string{"a@x.com"}, fb.resets)
	assert.Equal(t, []string{"https://app.example.com/reset"}, fb.redirects)
	assert.Equal(t, before, m.GetAuthState())
}

func TestHook_CollaboratorPanicBecomesError(t *testing.T) {
	m, _ := newTestManager()
	fb := signedInBackend()
	fb.panicOnLogin = true
	ctx := context.Background()

	h := MountLocal(ctx, m, fb)
	waitReady(t, h)

	var grant *Grant
	var err error
	require.NotPanics(t, func() { grant, err = h.SignIn(ctx, "a@x.com", "pw") })
	assert.Nil(t, grant)
	require.Error(t, err)
	assert.Contains(t, h.State().Error, "backend exploded")
	assert.False(t, h.State().IsLoading)
}

func TestProviderHook_RestoresProviderSession(t *testing.T) {
	m, _ := newTestManager()
	p := newFakeProvider()
	p.session = providerSession("ada@x.com")
	ctx := context.Background()

	h := MountProvider(ctx, m, p)
	waitReady(t, h)

	st := h.State()
	require.True(t, st.IsAuthenticated)
	assert.Equal(t, &UserRecord{ID: "p-ada@x.com", Email: "ada@x.com", Role: "member", DisplayName: "Ada Lovelace"}, st.User)

	tok, err := m.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "prov-ada@x.com", tok.AccessToken)
}

func TestHybridHook_SignIn(t *testing.T) {
	ctx := context.Background()

	t.Run("backend confirms", func(t *testing.T) {
		m, _ := newTestManager()
		fb := newFakeBackend()
		fb.addUser("prov-a@x.com", &UserRecord{ID: "u1", Email: "a@x.com", Role: "admin"}, "pw")
		p := newFakeProvider()

		h := MountHybrid(ctx, m, p, fb)
		waitReady(t, h)
		grant, err := h.SignIn(ctx, "a@x.com", "pw")
		require.NoError(t, err)
		m.waitProviderEvents()
		assert.Equal(t, "u1", grant.User.ID, "backend record wins over provider payload")
		assert.Equal(t, "admin", m.GetAuthState().User.Role)
		assert.Equal(t, int32(2), fb.meCalls.Load(), "sign-in and the SIGNED_IN event both verify")
	})

	t.Run("backend rejects", func(t *testing.T) {
		m, _ := newTestManager()
		fb := newFakeBackend()
		p := newFakeProvider()

		h := MountHybrid(ctx, m, p, fb)
		waitReady(t, h)
		_, err := h.SignIn(ctx, "a@x.com", "pw")
		assert.ErrorIs(t, err, ErrUnauthorized)
		m.waitProviderEvents()
		assert.False(t, m.GetAuthState().IsAuthenticated)
		assert.Equal(t, int32(1), p.signOutCalls.Load(), "provider session is dropped")
		assert.NotEmpty(t, h.State().Error)
	})

	t.Run("backend rejects while the SIGNED_IN event verifies", func(t *testing.T) {
		m, _ := newTestManager()
		fb := newFakeBackend()
		fb.addUser("good", &UserRecord{ID: "u1", Email: "a@x.com"}, "pw")
		p := newFakeProvider()

		h := MountHybrid(ctx, m, p, fb)
		waitReady(t, h)
		require.NoError(t, m.Establish(ctx, m.LogoutEpoch(), Token{AccessToken: "good"}, &UserRecord{ID: "u1"}))
		before := fb.meCalls.Load()

		fb.meGate = make(chan struct{})
		errc := make(chan error, 1)
		go func() {
			_, err := h.SignIn(ctx, "a@x.com", "pw")
			errc <- err
		}()
		require.Eventually(t, func() bool { return fb.meCalls.Load() == before+2 }, 5*time.Second, time.Millisecond)
		close(fb.meGate)

		assert.ErrorIs(t, <-errc, ErrUnauthorized)
		m.waitProviderEvents()

		assert.False(t, m.GetAuthState().IsAuthenticated)
		assert.False(t, h.State().IsAuthenticated)
		tok, err := m.Token(ctx)
		require.NoError(t, err)
		assert.Nil(t, tok)
	})
}

func TestHybridHook_RestoresFromProviderSession(t *testing.T) {
	m, _ := newTestManager()
	fb := newFakeBackend()
	fb.addUser("prov-a@x.com", &UserRecord{ID: "u1", Email: "a@x.com"}, "pw")
	p := newFakeProvider()
	p.session = providerSession("a@x.com")
	ctx := context.Background()

	h := MountHybrid(ctx, m, p, fb)
	waitReady(t, h)
	assert.True(t, h.State().IsAuthenticated)
	assert.Equal(t, "u1", h.State().User.ID)

	tok, err := m.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "prov-a@x.com", tok.AccessToken)
}

func TestHybridHook_WatchesProviderOnce(t *testing.T) {
	m, _ := newTestManager()
	p := newFakeProvider()
	fb := newFakeBackend()
	ctx := context.Background()

	for range 3 {
		waitReady(t, MountHybrid(ctx, m, p, fb))
	}
	assert.Equal(t, 1, p.listenerCount())
}

func TestHybridWatch_SignedOutNeedsNoNetwork(t *testing.T) {
	m, _ := newTestManager()
	fb := newFakeBackend()
	fb.addUser("good", &UserRecord{ID: "u1"}, "pw")
	p := newFakeProvider()
	ctx := context.Background()

	h := MountHybrid(ctx, m, p, fb)
	waitReady(t, h)
	require.NoError(t, m.Establish(ctx, m.LogoutEpoch(), Token{AccessToken: "good"}, &UserRecord{ID: "u1"}))
	calls := fb.meCalls.Load()

	p.emit(ProviderEvent{Kind: SignedOut})

	assert.False(t, m.GetAuthState().IsAuthenticated)
	assert.False(t, h.State().IsAuthenticated)
	assert.Equal(t, calls, fb.meCalls.Load())
}

func TestHybridWatch_SignedInRejectedByBackend(t *testing.T) {
	m, _ := newTestManager()
	fb := newFakeBackend()
	fb.addUser("good", &UserRecord{ID: "u1"}, "pw")
	p := newFakeProvider()
	ctx := context.Background()

	h := MountHybrid(ctx, m, p, fb)
	waitReady(t, h)
	require.NoError(t, m.Establish(ctx, m.LogoutEpoch(), Token{AccessToken: "good"}, &UserRecord{ID: "u1"}))

	p.emit(ProviderEvent{Kind: SignedIn, Session: &ProviderSession{AccessToken: "forged"}})
	m.waitProviderEvents()

	assert.False(t, m.GetAuthState().IsAuthenticated)
	tok, err := m.Token(ctx)
	require.NoError(t, err)
	assert.Nil(t, tok)
}

func TestHybridWatch_SignedInEstablishes(t *testing.T) {
	m, _ := newTestManager()
	fb := newFakeBackend()
	fb.addUser("prov-a@x.com", &UserRecord{ID: "u1", Email: "a@x.com", Role: "admin"}, "pw")
	p := newFakeProvider()
	ctx := context.Background()

	h := MountHybrid(ctx, m, p, fb)
	waitReady(t, h)

	p.emit(ProviderEvent{Kind: SignedIn, Session: providerSession("a@x.com")})
	m.waitProviderEvents()

	assert.True(t, h.State().IsAuthenticated)
	tok, err := m.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, &Token{AccessToken: "prov-a@x.com", Role: "admin", Email: "a@x.com"}, tok)
}

func TestHybridWatch_SignedOutWinsOverVerification(t *testing.T) {
	m, _ := newTestManager()
	fb := newFakeBackend()
	fb.addUser("prov-a@x.com", &UserRecord{ID: "u1", Email: "a@x.com"}, "pw")
	p := newFakeProvider()
	ctx := context.Background()

	h := MountHybrid(ctx, m, p, fb)
	waitReady(t, h)

	fb.meGate = make(chan struct{})
	p.emit(ProviderEvent{Kind: SignedIn, Session: providerSession("a@x.com")})
	require.Eventually(t, func() bool { return fb.meCalls.Load() == 1 }, 5*time.Second, time.Millisecond)

	p.emit(ProviderEvent{Kind: SignedOut})
	close(fb.meGate)
	m.waitProviderEvents()

	assert.False(t, m.GetAuthState().IsAuthenticated)
	assert.False(t, h.State().IsAuthenticated)
	tok, err := m.Token(ctx)
	require.NoError(t, err)
	assert.Nil(t, tok)
}
