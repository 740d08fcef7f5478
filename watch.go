package authsession

import (
	"context"
	"sync"
)

type providerWatch struct {
	mu      sync.Mutex
	sub     Subscription
	stopped bool
	wg      sync.WaitGroup
}

func (w *providerWatch) attach(sub Subscription) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	w.sub = sub
	w.mu.Unlock()
}

func (w *providerWatch) live() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.stopped
}

func (w *providerWatch) stop() {
	w.mu.Lock()
	w.stopped = true
	sub := w.sub
	w.sub = nil
	w.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
}

// WatchProvider subscribes to provider session events for the lifetime of
// the Manager (until Reset). Only the first call has an effect.
//
// SIGNED_OUT publishes unauthenticated without any network call. SIGNED_IN
// verifies the session's access token with backend on a separate goroutine;
// the backend's answer is authoritative, and a rejection clears the session.
// A sign-out that happens while the verification runs wins.
func (m *Manager) WatchProvider(provider IdentityProvider, backend Backend) {
	m.mu.Lock()
	if m.watcher != nil {
		m.mu.Unlock()
		return
	}
	w := &providerWatch{}
	m.watcher = w
	m.mu.Unlock()

	sub := provider.OnAuthStateChange(func(ev ProviderEvent) {
		if !w.live() {
			return
		}
		m.handleProviderEvent(w, ev, backend)
	})
	w.attach(sub)
}

func (m *Manager) handleProviderEvent(w *providerWatch, ev ProviderEvent, backend Backend) {
	ctx := context.Background()
	switch ev.Kind {
	case SignedOut:
		m.logger.Debug().Msg("provider signed out")
		_ = m.SignedOut(ctx)
	case SignedIn:
		if ev.Session == nil || ev.Session.AccessToken == "" {
			m.logger.Warn().Msg("provider SIGNED_IN event without a session")
			return
		}
		epoch := m.LogoutEpoch()
		session := *ev.Session
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			m.verifyProviderSession(ctx, epoch, &session, backend)
		}()
	default:
		m.logger.Debug().Str("event", string(ev.Kind)).Msg("ignoring provider event")
	}
}

func (m *Manager) verifyProviderSession(ctx context.Context, epoch uint64, session *ProviderSession, backend Backend) {
	user, err := backend.Me(ctx, session.AccessToken)
	if err != nil {
		m.logger.Warn().Err(err).Msg("backend rejected provider session")
		m.reject(ctx, epoch)
		return
	}
	tok := Token{AccessToken: session.AccessToken, Role: user.Role, Email: user.Email}
	if err := m.Establish(ctx, epoch, tok, user); err != nil {
		m.logger.Debug().Err(err).Msg("provider session not established")
	}
}
