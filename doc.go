// Package authsession coordinates a client-side login session shared by many
// concurrent consumers.
//
// AuthSession reconciles three sources of truth: a bearer token persisted
// between runs, the application backend that verifies it, and an optional
// identity provider that emits its own session events. A single Manager owns
// the resulting session and every consumer reads it through a Hook.
//
// # Architecture
//
// TokenStore: The persisted bearer token, role and email, kept in any
// KeyValueStore (memory, a JSON file, a SQL table, Cloud Datastore, or an
// scs session store). Only the Manager writes it.
//
// Backend: The application backend. It logs users in, signs them up, sends
// password resets and resolves a bearer token to a UserRecord (GET /auth/me).
// See the backend package for the HTTP client.
//
// IdentityProvider: An external identity service with its own sessions and
// SIGNED_IN / SIGNED_OUT events. See provider/oauth2.
//
// Manager: The authoritative AuthState. However many Hooks mount at once, it
// restores and verifies the persisted token at most once, and it broadcasts
// every change to its subscribers.
//
// Hook: A per-consumer adapter with reactive State and the actions SignIn,
// SignUp, SignOut and ResetPassword. Hooks never write the session directly
// and stop writing anything once unmounted.
//
// # Basic Usage
//
//	kv, _ := fs.NewStore("/home/me/.config/myapp/session.json")
//	m := authsession.NewManager(authsession.NewTokenStore(kv))
//	authsession.SetDefault(m)
//
//	api := backend.NewClient("https://api.example.com")
//	h := authsession.MountLocal(ctx, m, api, authsession.OnChange(render))
//	defer h.Unmount()
//
//	<-h.Ready()
//	if !h.State().IsAuthenticated {
//	    if _, err := h.SignIn(ctx, email, password); err != nil {
//	        fmt.Println(authsession.Message(err))
//	    }
//	}
//
// # Sign-out
//
// Sign-out always wins. Actions record the Manager's LogoutEpoch before they
// call out, and a result that arrives after a sign-out is discarded with
// ErrSuperseded. A failed remote sign-out never prevents the local one.
package authsession
