package authsession

import (
	"context"
	"time"
)

// Backend is the application backend. Only its success/failure shape matters
// to the coordinator.
type Backend interface {
	// Login exchanges credentials for a bearer token and the user record
	Login(ctx context.Context, email, password string) (*Grant, error)

	// Signup registers a user. The grant may carry no token
	Signup(ctx context.Context, email, password string) (*Grant, error)

	// Me resolves a bearer token to the canonical user record.
	// Returns an error wrapping ErrUnauthorized when the token is rejected
	Me(ctx context.Context, token string) (*UserRecord, error)

	// ForgotPassword asks the backend to send a password reset link
	ForgotPassword(ctx context.Context, email, redirectTo string) error
}

// ProviderUser is the user as the identity provider describes it.
type ProviderUser struct {
	ID       string
	Email    string
	Metadata map[string]any
}

// ProviderSession is an identity provider session.
type ProviderSession struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	User         ProviderUser
}

// record maps the provider user to a UserRecord for the provider-only flow.
func (s *ProviderSession) record() *UserRecord {
	u := &UserRecord{ID: s.User.ID, Email: s.User.Email}
	if role, ok := s.User.Metadata["role"].(string); ok {
		u.Role = role
	}
	for _, k := range []string{"display_name", "name", "full_name"} {
		if name, ok := s.User.Metadata[k].(string); ok && name != "" {
			u.DisplayName = name
			break
		}
	}
	if u.ID == "" {
		u.ID = u.Email
	}
	return u
}

// EventKind tags a ProviderEvent.
type EventKind string

const (
	SignedIn  EventKind = "SIGNED_IN"
	SignedOut EventKind = "SIGNED_OUT"
)

// ProviderEvent is an identity provider session event. Session is set only
// for SignedIn.
type ProviderEvent struct {
	Kind    EventKind
	Session *ProviderSession
}

// Subscription is returned by IdentityProvider.OnAuthStateChange.
type Subscription interface {
	Unsubscribe()
}

// SubscriptionFunc adapts a function to Subscription.
type SubscriptionFunc func()

func (f SubscriptionFunc) Unsubscribe() { f() }

// IdentityProvider wraps an external auth SDK.
type IdentityProvider interface {
	// GetSession returns nil, nil when there is no session
	GetSession(ctx context.Context) (*ProviderSession, error)

	// OnAuthStateChange registers fn for SIGNED_IN and SIGNED_OUT events
	OnAuthStateChange(fn func(ProviderEvent)) Subscription

	SignInWithPassword(ctx context.Context, email, password string) (*ProviderSession, error)

	// SignUp returns a nil session when the provider does not sign the user in
	SignUp(ctx context.Context, email, password string) (*ProviderSession, error)

	SignOut(ctx context.Context) error

	ResetPasswordForEmail(ctx context.Context, email string) error
}
