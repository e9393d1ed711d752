package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelexs/roomchat/internal/chatclient/app"
	"github.com/aelexs/roomchat/internal/domain"
	"github.com/aelexs/roomchat/pkg/protocol"
)

func TestManager_LoginConnectsAndJoins(t *testing.T) {
	h := newHarness(t)

	snap := h.m.Snapshot()
	assert.Equal(t, app.PhaseLoggedOut, snap.Phase)
	assert.Equal(t, app.ConnIdle, snap.Conn)

	conn := h.login()
	snap = h.m.Snapshot()
	assert.Equal(t, app.PhaseLoggedIn, snap.Phase)
	assert.Equal(t, domain.MustIdentity("u1", "ana"), snap.Identity)
	assert.Equal(t, app.ConnConnecting, snap.Conn)
	assert.Equal(t, domain.MustIdentity("u1", "ana"), conn.identity)
	assert.Empty(t, conn.emitted(protocol.EventJoinRoom), "no join before the connection opens")

	conn.deliver(app.TransportEvent{Kind: app.TransportConnected})
	h.flush()

	snap = h.m.Snapshot()
	assert.Equal(t, app.ConnConnected, snap.Conn)
	assert.True(t, snap.Joined)
	assert.True(t, snap.Status.Connected)
	assert.True(t, snap.Status.Loading, "loading until history arrives")
	assert.Equal(t, []any{protocol.RoomRequest{UserID: "u1"}}, conn.emitted(protocol.EventJoinRoom))

	conn.inbound(t, protocol.EventInitialMessages, []protocol.Message{})
	h.flush()

	snap = h.m.Snapshot()
	assert.False(t, snap.Status.Loading)
	assert.Empty(t, snap.Messages)
	assert.Empty(t, snap.Status.Error)
}

func TestManager_HistoryThenMessages(t *testing.T) {
	h := newHarness(t)
	conn := h.joined(wireMsg("h1"), wireMsg("h2"))

	conn.inbound(t, protocol.EventMessage, wireMsg("m1"))
	conn.inbound(t, protocol.EventMessage, wireMsg("m1"))
	conn.inbound(t, protocol.EventMessage, wireMsg("h2"))
	h.flush()

	assert.Equal(t, []string{"h1", "h2", "m1"}, ids(h.m.Snapshot().Messages))
}

func TestManager_HistoryNotAList(t *testing.T) {
	h := newHarness(t)
	conn := h.joined(wireMsg("h1"))

	conn.inbound(t, protocol.EventInitialMessages, map[string]string{"oops": "object"})
	h.flush()

	snap := h.m.Snapshot()
	assert.Empty(t, snap.Messages)
	assert.False(t, snap.Status.Loading)
}

func TestManager_MalformedMessageDropped(t *testing.T) {
	h := newHarness(t)
	conn := h.joined()

	bad := wireMsg("m1")
	bad.Text = ""
	conn.inbound(t, protocol.EventMessage, bad)
	conn.inbound(t, protocol.EventMessage, "not an object")
	h.flush()

	snap := h.m.Snapshot()
	assert.Empty(t, snap.Messages)
	assert.Empty(t, snap.Status.Error, "malformed messages are not shown")
}

func TestManager_MessageWithoutPayloadDropped(t *testing.T) {
	h := newHarness(t)
	conn := h.joined()

	conn.inbound(t, protocol.EventMessage, nil)
	conn.inbound(t, protocol.EventMessage, wireMsg("m1"))
	h.flush()

	snap := h.m.Snapshot()
	assert.Equal(t, []string{"m1"}, ids(snap.Messages))
	assert.Empty(t, snap.Status.Error)
}

func TestManager_InboundBeforeJoinIgnored(t *testing.T) {
	h := newHarness(t)
	conn := h.login()

	conn.inbound(t, protocol.EventMessage, wireMsg("m1"))
	conn.inbound(t, protocol.EventServerError, "boom")
	h.flush()

	snap := h.m.Snapshot()
	assert.Empty(t, snap.Messages)
	assert.Empty(t, snap.Status.Error)
}

func TestManager_ServerError(t *testing.T) {
	h := newHarness(t)
	conn := h.login()
	conn.deliver(app.TransportEvent{Kind: app.TransportConnected})
	conn.inbound(t, protocol.EventServerError, "room is closed")
	h.flush()

	snap := h.m.Snapshot()
	assert.Equal(t, "room is closed", snap.Status.Error)
	assert.False(t, snap.Status.Loading)
}

func TestManager_RegisterAuthCodeMismatch(t *testing.T) {
	h := newHarness(t)

	err := h.m.Register(context.Background(), app.RegisterRequest{
		Username: "ana", Email: "ana@example.com", Password: "x", AuthCode: "nope",
	})

	require.ErrorIs(t, err, domain.ErrAuthCodeMismatch)
	assert.Equal(t, 0, h.auth.callCount())
	snap := h.m.Snapshot()
	assert.Equal(t, "wrong code, ask the admin", snap.Status.Error)
	assert.Equal(t, app.PhaseLoggedOut, snap.Phase)
	assert.Equal(t, 0, h.dialer.count())
}

func TestManager_RegisterSuccess(t *testing.T) {
	h := newHarness(t)
	var got app.RegisterRequest
	h.auth.registerFn = func(_ context.Context, req app.RegisterRequest) (domain.Identity, error) {
		got = req
		return domain.NewIdentity("u2", req.Username)
	}

	req := app.RegisterRequest{Username: "ana", Email: "ana@example.com", Password: "x", AuthCode: testAuthCode}
	require.NoError(t, h.m.Register(context.Background(), req))

	assert.Equal(t, req, got)
	assert.Equal(t, domain.MustIdentity("u2", "ana"), h.m.Snapshot().Identity)
	assert.Equal(t, 1, h.dialer.count())
}

func TestManager_MissingFields(t *testing.T) {
	h := newHarness(t)

	err := h.m.Login(context.Background(), "ana", "")
	require.ErrorIs(t, err, domain.ErrMissingCredentials)
	assert.Equal(t, domain.ErrMissingCredentials.Error(), h.m.Snapshot().Status.Error)

	err = h.m.Register(context.Background(), app.RegisterRequest{Username: "ana", Password: "x", AuthCode: "wrong"})
	require.ErrorIs(t, err, domain.ErrMissingFields, "missing fields win over the code check")

	assert.Equal(t, 0, h.auth.callCount())
}

func TestManager_LoginRejected(t *testing.T) {
	h := newHarness(t)
	h.auth.loginFn = func(context.Context, app.LoginRequest) (domain.Identity, error) {
		return domain.Identity{}, domain.NewRemoteError(domain.ErrInvalidCredentials, "bad password")
	}

	err := h.m.Login(context.Background(), "ana", "x")

	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
	snap := h.m.Snapshot()
	assert.Equal(t, app.PhaseLoggedOut, snap.Phase)
	assert.Equal(t, "bad password", snap.Status.Error)
	assert.False(t, snap.Status.Loading)
	assert.Equal(t, 0, h.dialer.count())
}

func TestManager_NewLoginClearsError(t *testing.T) {
	h := newHarness(t)
	require.Error(t, h.m.Login(context.Background(), "", ""))
	require.NotEmpty(t, h.m.Snapshot().Status.Error)

	h.login()

	assert.Empty(t, h.m.Snapshot().Status.Error)
}

func TestManager_LoginWhileAuthenticating(t *testing.T) {
	h := newHarness(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	h.auth.loginFn = func(_ context.Context, req app.LoginRequest) (domain.Identity, error) {
		close(entered)
		<-release
		return domain.NewIdentity("u1", req.Username)
	}

	first := make(chan error, 1)
	go func() { first <- h.m.Login(context.Background(), "ana", "x") }()
	<-entered

	snap := h.m.Snapshot()
	assert.Equal(t, app.PhaseAuthenticating, snap.Phase)
	assert.True(t, snap.Status.Loading)

	err := h.m.Login(context.Background(), "ana", "x")
	assert.ErrorIs(t, err, domain.ErrAuthInProgress)

	close(release)
	require.NoError(t, <-first)

	err = h.m.Login(context.Background(), "ana", "x")
	assert.ErrorIs(t, err, domain.ErrAlreadyLoggedIn)
	assert.Equal(t, 1, h.dialer.count())
}

func TestManager_LogoutTearsDown(t *testing.T) {
	h := newHarness(t)
	conn := h.joined(wireMsg("h1"))
	conn.inbound(t, protocol.EventServerError, "stale banner")
	h.flush()

	require.NoError(t, h.m.Logout(context.Background()))

	snap := h.m.Snapshot()
	assert.Equal(t, app.PhaseLoggedOut, snap.Phase)
	assert.True(t, snap.Identity.IsZero())
	assert.Empty(t, snap.Messages)
	assert.Equal(t, app.ConnIdle, snap.Conn)
	assert.False(t, snap.Joined)
	assert.Empty(t, snap.Status.Error)

	assert.Equal(t, []any{protocol.RoomRequest{UserID: "u1"}}, conn.emitted(protocol.EventLeaveRoom))
	assert.True(t, conn.isClosed())

	// The retired instance can no longer touch the session.
	conn.deliver(app.TransportEvent{Kind: app.TransportConnected})
	conn.inbound(t, protocol.EventMessage, wireMsg("late"))
	conn.deliver(app.TransportEvent{Kind: app.TransportDisconnected, Reason: domain.ReasonTransportError})
	h.flush()

	after := h.m.Snapshot()
	assert.Equal(t, snap, after)
	assert.Len(t, conn.emitted(protocol.EventJoinRoom), 1)
}

func TestManager_LogoutWhenLoggedOut(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.m.Logout(context.Background()), domain.ErrNotLoggedIn)
}

func TestManager_LoginAfterLogoutUsesNewInstance(t *testing.T) {
	h := newHarness(t)
	first := h.joined()
	require.NoError(t, h.m.Logout(context.Background()))
	epoch := h.m.Snapshot().Epoch

	second := h.joined(wireMsg("h1"))

	assert.NotSame(t, first, second)
	assert.Greater(t, h.m.Snapshot().Epoch, epoch)
	assert.Equal(t, []string{"h1"}, ids(h.m.Snapshot().Messages))
	assert.Len(t, first.emitted(protocol.EventJoinRoom), 1)
	assert.Len(t, second.emitted(protocol.EventJoinRoom), 1)
}

func TestManager_ReconnectRejoins(t *testing.T) {
	h := newHarness(t)
	conn := h.joined(wireMsg("h1"))

	conn.deliver(app.TransportEvent{Kind: app.TransportDisconnected, Reason: domain.ReasonTransportClose})
	h.flush()

	snap := h.m.Snapshot()
	assert.Equal(t, app.ConnDisconnected, snap.Conn)
	assert.False(t, snap.Joined)
	assert.False(t, snap.Status.Connected)
	assert.Equal(t, domain.ErrConnectionLost.Error(), snap.Status.Error)
	assert.Equal(t, []string{"h1"}, ids(snap.Messages), "messages survive a drop")
	assert.Len(t, conn.emitted(protocol.EventLeaveRoom), 1)

	conn.deliver(app.TransportEvent{Kind: app.TransportConnected})
	h.flush()

	snap = h.m.Snapshot()
	assert.True(t, snap.Joined)
	assert.Empty(t, snap.Status.Error)
	assert.Len(t, conn.emitted(protocol.EventJoinRoom), 2)
	assert.Len(t, conn.emitted(protocol.EventLeaveRoom), 1)
	assert.Equal(t, 1, h.dialer.count(), "the instance reconnects by itself")
}

func TestManager_ExplicitCloseShowsNoError(t *testing.T) {
	h := newHarness(t)
	conn := h.joined()

	conn.deliver(app.TransportEvent{Kind: app.TransportDisconnected, Reason: domain.ReasonClientClose})
	h.flush()

	snap := h.m.Snapshot()
	assert.Equal(t, app.ConnDisconnected, snap.Conn)
	assert.Empty(t, snap.Status.Error)
}

func TestManager_ConnectError(t *testing.T) {
	h := newHarness(t)
	conn := h.login()

	conn.deliver(app.TransportEvent{Kind: app.TransportConnectError, Err: errors.New("connection refused")})
	h.flush()

	snap := h.m.Snapshot()
	assert.Equal(t, app.ConnError, snap.Conn)
	assert.Equal(t, "failed to connect (connection refused)", snap.Status.Error)
	assert.False(t, snap.Status.Loading)
	assert.Empty(t, conn.emitted(protocol.EventJoinRoom))
}

func TestManager_DismissError(t *testing.T) {
	h := newHarness(t)
	require.Error(t, h.m.Login(context.Background(), "", ""))

	require.NoError(t, h.m.DismissError(context.Background()))
	h.flush()

	assert.Empty(t, h.m.Snapshot().Status.Error)
}

func TestManager_Subscribe(t *testing.T) {
	m := app.NewManager(app.ManagerConfig{Auth: &stubAuth{}, Dialer: &fakeDialer{}, Logger: discardLogger})
	updates, cancelSub := m.Subscribe()
	defer cancelSub()

	first := <-updates
	assert.Equal(t, app.PhaseLoggedOut, first.Phase)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.NoError(t, m.Login(context.Background(), "ana", "x"))
	require.Eventually(t, func() bool {
		select {
		case s := <-updates:
			return s.Phase == app.PhaseLoggedIn
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	for range updates {
	}
	_, ok := <-updates
	assert.False(t, ok, "channel closed after Run returns")
	assert.Equal(t, app.PhaseLoggedOut, m.Snapshot().Phase, "shutdown tears the session down")

	late, _ := m.Subscribe()
	_, ok = <-late
	assert.False(t, ok)
}

func TestManager_RunTwice(t *testing.T) {
	h := newHarness(t)
	err := h.m.Run(context.Background())
	assert.Error(t, err)
}

func TestManager_ShutdownLeavesRoom(t *testing.T) {
	dialer := &fakeDialer{}
	m := app.NewManager(app.ManagerConfig{Auth: &stubAuth{}, Dialer: dialer, Logger: discardLogger})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.NoError(t, m.Login(context.Background(), "ana", "x"))
	conn := dialer.last(t)
	conn.deliver(app.TransportEvent{Kind: app.TransportConnected})
	require.NoError(t, m.Flush(context.Background()))

	cancel()
	require.NoError(t, <-done)

	assert.Len(t, conn.emitted(protocol.EventLeaveRoom), 1)
	assert.True(t, conn.isClosed())
	assert.ErrorIs(t, m.Logout(context.Background()), domain.ErrClosed)

	_, err := m.Send(context.Background(), "hi").Wait(context.Background())
	assert.ErrorIs(t, err, domain.ErrClosed)
}
