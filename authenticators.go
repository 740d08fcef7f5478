package authsession

import (
	"context"

	"github.com/rs/zerolog"
)

// localAuth talks only to the application backend.
type localAuth struct {
	backend    Backend
	redirectTo string
}

func (a *localAuth) restore(ctx context.Context, tokens *TokenStore) (*Token, *UserRecord, error) {
	tok, err := tokens.Get(ctx)
	if err != nil || tok == nil {
		return nil, nil, err
	}
	return verifyToken(ctx, a.backend, tok.AccessToken)
}

func (a *localAuth) signIn(ctx context.Context, email, password string) (*Grant, error) {
	return a.backend.Login(ctx, email, password)
}

func (a *localAuth) signUp(ctx context.Context, email, password string) (*Grant, error) {
	return a.backend.Signup(ctx, email, password)
}

// There is no remote session to end.
func (a *localAuth) signOut(context.Context) error {
	return nil
}

func (a *localAuth) resetPassword(ctx context.Context, email string) error {
	return a.backend.ForgotPassword(ctx, email, a.redirectTo)
}

// providerAuth talks only to the identity provider.
type providerAuth struct {
	provider IdentityProvider
}

func (a *providerAuth) restore(ctx context.Context, _ *TokenStore) (*Token, *UserRecord, error) {
	session, err := a.provider.GetSession(ctx)
	if err != nil || session == nil {
		return nil, nil, err
	}
	g := sessionGrant(session)
	tok := g.token()
	return &tok, g.User, nil
}

func (a *providerAuth) signIn(ctx context.Context, email, password string) (*Grant, error) {
	session, err := a.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrNoSession
	}
	return sessionGrant(session), nil
}

func (a *providerAuth) signUp(ctx context.Context, email, password string) (*Grant, error) {
	session, err := a.provider.SignUp(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return &Grant{}, nil
	}
	return sessionGrant(session), nil
}

func (a *providerAuth) signOut(ctx context.Context) error {
	return a.provider.SignOut(ctx)
}

func (a *providerAuth) resetPassword(ctx context.Context, email string) error {
	return a.provider.ResetPasswordForEmail(ctx, email)
}

// hybridAuth signs in with the identity provider and treats the backend as
// the authority on who the provider session belongs to.
type hybridAuth struct {
	provider IdentityProvider
	backend  Backend
	logger   zerolog.Logger
}

func (a *hybridAuth) restore(ctx context.Context, tokens *TokenStore) (*Token, *UserRecord, error) {
	tok, err := tokens.Get(ctx)
	if err != nil {
		return nil, nil, err
	}
	if tok != nil {
		return verifyToken(ctx, a.backend, tok.AccessToken)
	}

	session, err := a.provider.GetSession(ctx)
	if err != nil || session == nil {
		return nil, nil, err
	}
	return verifyToken(ctx, a.backend, session.AccessToken)
}

func (a *hybridAuth) signIn(ctx context.Context, email, password string) (*Grant, error) {
	session, err := a.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrNoSession
	}
	return a.verify(ctx, session)
}

func (a *hybridAuth) signUp(ctx context.Context, email, password string) (*Grant, error) {
	session, err := a.provider.SignUp(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return &Grant{}, nil
	}
	return a.verify(ctx, session)
}

// verify resolves a fresh provider session against the backend. A session
// the backend refuses is signed out of the provider again.
func (a *hybridAuth) verify(ctx context.Context, session *ProviderSession) (*Grant, error) {
	user, err := a.backend.Me(ctx, session.AccessToken)
	if err != nil {
		if serr := a.provider.SignOut(ctx); serr != nil {
			a.logger.Warn().Err(serr).Msg("failed to sign out provider session the backend rejected")
		}
		return nil, err
	}
	return &Grant{Token: session.AccessToken, User: user}, nil
}

func (a *hybridAuth) signOut(ctx context.Context) error {
	return a.provider.SignOut(ctx)
}

func (a *hybridAuth) resetPassword(ctx context.Context, email string) error {
	return a.provider.ResetPasswordForEmail(ctx, email)
}

func verifyToken(ctx context.Context, backend Backend, access string) (*Token, *UserRecord, error) {
	user, err := backend.Me(ctx, access)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		return nil, nil, ErrNoSession
	}
	return &Token{AccessToken: access, Role: user.Role, Email: user.Email}, user, nil
}

func sessionGrant(session *ProviderSession) *Grant {
	return &Grant{Token: session.AccessToken, User: session.record()}
}
