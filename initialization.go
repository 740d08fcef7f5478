package authsession

import (
	"context"
)

// Initialization is one restore-and-verify attempt. All callers that ask a
// Manager to initialize while it is in flight share the same value.
//
// An Initialization always resolves. A failed restore resolves to the
// unauthenticated state rather than to an error.
type Initialization struct {
	done  chan struct{}
	state AuthState
}

func newInitialization() *Initialization {
	return &Initialization{done: make(chan struct{})}
}

// resolved returns an Initialization that has already settled with st.
func resolved(st AuthState) *Initialization {
	in := newInitialization()
	in.resolve(st)
	return in
}

func (in *Initialization) resolve(st AuthState) {
	in.state = st
	close(in.done)
}

// Done is closed once the attempt has settled.
func (in *Initialization) Done() <-chan struct{} {
	return in.done
}

// State returns the published state. Only meaningful after Done is closed.
func (in *Initialization) State() AuthState {
	select {
	case <-in.done:
		return in.state
	default:
		return AuthState{}
	}
}

// Wait blocks until the attempt settles or ctx is done. The only error it
// returns is ctx.Err().
func (in *Initialization) Wait(ctx context.Context) (AuthState, error) {
	select {
	case <-in.done:
		return in.state, nil
	case <-ctx.Done():
		return AuthState{}, ctx.Err()
	}
}
