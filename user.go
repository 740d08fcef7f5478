package authsession

// UserRecord is the canonical identity resolved by the backend.
// It is never the raw identity provider payload.
type UserRecord struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Role        string `json:"role,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

func (u *UserRecord) clone() *UserRecord {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// AuthState is the authoritative session snapshot owned by a Manager.
//
// IsAuthenticated is always equal to User != nil. Epoch increases with every
// mutation, so a subscriber receiving two broadcasts out of order can keep
// the newer one.
type AuthState struct {
	IsAuthenticated bool
	User            *UserRecord
	Epoch           uint64
}

// Phase is the position of a Manager in the restore-and-verify state machine.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseInitializing
	PhaseAuthenticated
	PhaseUnauthenticated
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseInitializing:
		return "initializing"
	case PhaseAuthenticated:
		return "authenticated"
	case PhaseUnauthenticated:
		return "unauthenticated"
	}
	return "unknown"
}

// Grant is the result of a successful login or signup.
// A signup grant may carry no Token when the collaborator does not open a
// session (e.g. email confirmation pending).
type Grant struct {
	Token string      `json:"token,omitempty"`
	User  *UserRecord `json:"user,omitempty"`
}

func (g *Grant) token() Token {
	t := Token{AccessToken: g.Token}
	if g.User != nil {
		t.Role = g.User.Role
		t.Email = g.User.Email
	}
	return t
}
