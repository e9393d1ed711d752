package app

import (
	"github.com/aelexs/roomchat/internal/domain"
)

// event is one discrete input to the session loop.
type event interface {
	eventName() string
}

type authStartReply struct {
	attempt uint64
	err     error
}

// authStarted asks to enter Authenticating. precheck is the result of the
// local validation done by the caller.
type authStarted struct {
	precheck error
	reply    chan authStartReply
}

// authFinished carries the auth API outcome of one attempt.
type authFinished struct {
	attempt  uint64
	identity domain.Identity
	err      error
	reply    chan error
}

type logoutRequested struct {
	reply chan error
}

type sendRequested struct {
	text     string
	res      *SendResult
	accepted chan struct{}
}

type sendResolved struct {
	epoch uint64
	res   *SendResult
	msg   domain.Message
	err   error
}

type errorDismissed struct{}

// transportEvent is a TransportEvent tagged with the epoch of the instance
// that produced it.
type transportEvent struct {
	epoch uint64
	TransportEvent
}

// flush does nothing; its reply proves every earlier event was applied.
type flush struct {
	done chan struct{}
}

func (authStarted) eventName() string     { return "auth_started" }
func (authFinished) eventName() string    { return "auth_finished" }
func (logoutRequested) eventName() string { return "logout_requested" }
func (sendRequested) eventName() string   { return "send_requested" }
func (sendResolved) eventName() string    { return "send_resolved" }
func (errorDismissed) eventName() string  { return "error_dismissed" }
func (transportEvent) eventName() string  { return "transport" }
func (flush) eventName() string           { return "flush" }
