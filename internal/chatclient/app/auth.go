package app

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/codes"

	"github.com/aelexs/roomchat/internal/domain"
)

// LoginRequest holds login credentials.
type LoginRequest struct {
	Username string
	Password string
}

// Validate checks that both credentials are present.
func (r LoginRequest) Validate() error {
	if r.Username == "" || r.Password == "" {
		return domain.ErrMissingCredentials
	}
	return nil
}

// RegisterRequest holds the registration form.
type RegisterRequest struct {
	Username string
	Email    string
	Password string
	AuthCode string
}

// Validate checks that every field is present.
func (r RegisterRequest) Validate() error {
	if r.Username == "" || r.Email == "" || r.Password == "" || r.AuthCode == "" {
		return domain.ErrMissingFields
	}
	return nil
}

// AuthAPI is the remote account service.
type AuthAPI interface {
	Login(ctx context.Context, req LoginRequest) (domain.Identity, error)
	Register(ctx context.Context, req RegisterRequest) (domain.Identity, error)
}

// Login authenticates with username and password. On success the session
// is LoggedIn and the connection is being opened when Login returns.
func (m *Manager) Login(ctx context.Context, username, password string) error {
	ctx, span := tracer.Start(ctx, "session.login")
	defer span.End()

	req := LoginRequest{Username: username, Password: password}
	err := m.authenticate(ctx, req.Validate(), func(ctx context.Context) (domain.Identity, error) {
		return m.auth.Login(ctx, req)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// Register creates an account and logs it in. The auth code is checked
// locally; a mismatch never reaches the auth API.
func (m *Manager) Register(ctx context.Context, req RegisterRequest) error {
	ctx, span := tracer.Start(ctx, "session.register")
	defer span.End()

	precheck := req.Validate()
	if precheck == nil && req.AuthCode != m.authCode {
		precheck = domain.NewRemoteError(domain.ErrAuthCodeMismatch, m.authCodeMismatchMessage)
	}

	err := m.authenticate(ctx, precheck, func(ctx context.Context) (domain.Identity, error) {
		return m.auth.Register(ctx, req)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// authenticate runs one attempt: enter Authenticating on the loop, call the
// auth API from the caller's goroutine, then hand the outcome back.
func (m *Manager) authenticate(ctx context.Context, precheck error, call func(context.Context) (domain.Identity, error)) error {
	// 1. Enter Authenticating, or record the precheck failure.
	reply := make(chan authStartReply, 1)
	if err := m.post(ctx, authStarted{precheck: precheck, reply: reply}); err != nil {
		return err
	}
	started, err := awaitReply(reply, m.stopped)
	if err != nil {
		return err
	}
	if started.err != nil {
		return started.err
	}

	// 2. Remote call. Cancelling ctx aborts it; the outcome is still applied
	// so the session leaves Authenticating.
	identity, callErr := call(ctx)
	if callErr == nil && identity.IsZero() {
		callErr = fmt.Errorf("auth response: %w", domain.ErrAuthRejected)
	}
	if callErr != nil {
		authFailuresTotal.Add(ctx, 1)
	}

	// 3. Apply.
	done := make(chan error, 1)
	ev := authFinished{attempt: started.attempt, identity: identity, err: callErr, reply: done}
	if err := m.post(context.WithoutCancel(ctx), ev); err != nil {
		return err
	}
	applied, err := awaitReply(done, m.stopped)
	if err != nil {
		return err
	}
	return applied
}

// beginAuth handles authStarted. Loop-owned.
func (m *Manager) beginAuth(ev authStarted) authStartReply {
	switch m.phase {
	case PhaseAuthenticating:
		return authStartReply{err: domain.ErrAuthInProgress}
	case PhaseLoggedIn:
		return authStartReply{err: domain.ErrAlreadyLoggedIn}
	}

	// A new attempt replaces whatever the banner showed.
	m.err = ev.precheck
	if ev.precheck != nil {
		return authStartReply{err: ev.precheck}
	}
	m.phase = PhaseAuthenticating
	m.authAttempt++
	return authStartReply{attempt: m.authAttempt}
}

// finishAuth handles authFinished. Loop-owned.
func (m *Manager) finishAuth(ctx context.Context, ev authFinished) error {
	if ev.attempt != m.authAttempt || m.phase != PhaseAuthenticating {
		m.logger.Debug("discarding superseded auth result", "attempt", ev.attempt)
		return domain.ErrClosed
	}
	if ev.err != nil {
		m.phase = PhaseLoggedOut
		m.err = ev.err
		return ev.err
	}

	m.phase = PhaseLoggedIn
	m.identity = ev.identity
	m.logger.Info("logged in", "user_id", ev.identity.ID, "username", ev.identity.Username)
	if m.conns.open(ev.identity) {
		recordConnectionEvent(ctx, "dial")
	}
	return nil
}
