package cli

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/panyam/authsession"
	"github.com/panyam/authsession/backend"
	"github.com/panyam/authsession/internal/config"
	"github.com/panyam/authsession/provider/oauth2"
)

// session is a mounted hook over the configured store and collaborators.
type session struct {
	m          *authsession.Manager
	hook       *authsession.Hook
	closeStore func() error
}

// openSession mounts the hook for the configured mode and waits for the
// persisted session to be restored.
func (a *app) openSession(ctx context.Context) (*session, error) {
	if err := config.Validate(a.cfg); err != nil {
		return nil, err
	}

	kv, closeStore, err := openStore(ctx, a.cfg.Store)
	if err != nil {
		return nil, err
	}

	m := authsession.NewManager(
		authsession.NewTokenStore(kv),
		authsession.WithLogger(log.With().Str("component", "manager").Logger()),
	)
	opts := []authsession.HookOption{authsession.WithRedirectTo(a.cfg.Backend.RedirectTo)}

	var h *authsession.Hook
	switch a.cfg.Mode {
	case config.ModeLocal:
		h = authsession.MountLocal(ctx, m, a.backendClient(), opts...)
	case config.ModeProvider, config.ModeHybrid:
		p, err := a.identityProvider(ctx)
		if err != nil {
			_ = closeStore()
			return nil, err
		}
		if a.cfg.Mode == config.ModeProvider {
			h = authsession.MountProvider(ctx, m, p, opts...)
		} else {
			h = authsession.MountHybrid(ctx, m, p, a.backendClient(), opts...)
		}
	default:
		_ = closeStore()
		return nil, config.ErrUnknownMode
	}

	s := &session{m: m, hook: h, closeStore: closeStore}
	select {
	case <-h.Ready():
		return s, nil
	case <-ctx.Done():
		return nil, errors.Join(ctx.Err(), s.Close())
	}
}

// Close unmounts the hook and releases the store.
func (s *session) Close() error {
	s.hook.Unmount()
	s.m.Reset()
	return s.closeStore()
}

func (a *app) backendClient() *backend.Client {
	return backend.NewClient(a.cfg.Backend.URL,
		backend.WithTimeout(a.cfg.Backend.Timeout),
		backend.WithLogger(log.With().Str("component", "backend").Logger()),
	)
}

func (a *app) identityProvider(ctx context.Context) (*oauth2.Provider, error) {
	pc := a.cfg.Provider
	cfg := oauth2.Config{
		ClientID:         pc.ClientID,
		ClientSecret:     pc.ClientSecret,
		TokenURL:         pc.TokenURL,
		Scopes:           pc.Scopes,
		UserInfoURL:      pc.UserInfoURL,
		SignupURL:        pc.SignupURL,
		ResetPasswordURL: pc.ResetPasswordURL,
		RevokeURL:        pc.RevokeURL,
	}
	logger := oauth2.WithLogger(log.With().Str("component", "oauth2-provider").Logger())

	if pc.Issuer != "" {
		return oauth2.Discover(ctx, pc.Issuer, cfg, logger)
	}
	return oauth2.NewProvider(cfg, logger), nil
}
