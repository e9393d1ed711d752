package app

import (
	"github.com/aelexs/roomchat/internal/domain"
	"github.com/aelexs/roomchat/internal/errmap"
)

// AuthPhase is the authentication state of a session.
type AuthPhase int

const (
	PhaseLoggedOut AuthPhase = iota
	PhaseAuthenticating
	PhaseLoggedIn
)

func (p AuthPhase) String() string {
	switch p {
	case PhaseLoggedOut:
		return "logged_out"
	case PhaseAuthenticating:
		return "authenticating"
	case PhaseLoggedIn:
		return "logged_in"
	default:
		return "unknown"
	}
}

// ConnState is the state of the session's realtime connection.
type ConnState int

const (
	ConnIdle ConnState = iota
	ConnConnecting
	ConnConnected
	ConnDisconnected
	ConnError
)

func (s ConnState) String() string {
	switch s {
	case ConnIdle:
		return "idle"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnDisconnected:
		return "disconnected"
	case ConnError:
		return "error"
	default:
		return "unknown"
	}
}

// Status is the display summary of a session. It is always derived from
// the rest of the state, never set on its own.
type Status struct {
	Loading   bool
	Connected bool
	Error     string
}

// Snapshot is an immutable view of the session published after every event.
// Invariant: Joined implies Conn == ConnConnected implies Identity is set.
type Snapshot struct {
	Phase    AuthPhase
	Identity domain.Identity
	Conn     ConnState
	Joined   bool
	Messages []domain.Message // shared, read-only
	Draft    string           // what the outbound text field should show
	Status   Status
	Epoch    uint64
}

// LoggedIn reports whether the snapshot carries an identity.
func (s Snapshot) LoggedIn() bool {
	return s.Phase == PhaseLoggedIn && !s.Identity.IsZero()
}

// deriveStatus computes Status from loop-owned state.
func deriveStatus(phase AuthPhase, conn ConnState, awaitingHistory bool, err error) Status {
	return Status{
		Loading:   phase == PhaseAuthenticating || awaitingHistory,
		Connected: conn == ConnConnected,
		Error:     errmap.ToBanner(err),
	}
}
