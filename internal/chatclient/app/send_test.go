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

func ackWith(t *testing.T, ack protocol.SendMessageAck) func(context.Context, protocol.EventName, any) (*protocol.Frame, error) {
	t.Helper()
	frame, err := protocol.NewFrame(protocol.EventAck, ack)
	require.NoError(t, err)
	return func(context.Context, protocol.EventName, any) (*protocol.Frame, error) {
		return frame, nil
	}
}

func wait(t *testing.T, res *app.SendResult) (domain.Message, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	select {
	case <-res.Done():
	case <-ctx.Done():
		t.Fatal("send result never resolved")
	}
	return res.Wait(ctx)
}

func TestSend_AckSuccess(t *testing.T) {
	h := newHarness(t)
	confirmed := wireMsg("m1")
	var sent protocol.SendMessage
	h.dialer.requestFn = func(_ context.Context, event protocol.EventName, payload any) (*protocol.Frame, error) {
		assert.Equal(t, protocol.EventSendMessage, event)
		sent = payload.(protocol.SendMessage)
		return protocol.NewFrame(protocol.EventAck, protocol.SendMessageAck{Success: true, Message: &confirmed})
	}
	h.joined()

	res := h.m.Send(context.Background(), "  hello  ")
	assert.Empty(t, h.m.Snapshot().Draft, "draft cleared on transmission")

	got, err := wait(t, res)
	require.NoError(t, err)
	assert.Equal(t, "m1", got.ID)
	assert.Equal(t, protocol.SendMessage{UserID: "u1", Username: "ana", Text: "hello"}, sent)

	h.flush()
	snap := h.m.Snapshot()
	assert.Empty(t, snap.Messages, "the ack itself appends nothing")
	assert.Empty(t, snap.Status.Error)
}

func TestSend_AckFailureShowsServerText(t *testing.T) {
	h := newHarness(t)
	h.dialer.requestFn = ackWith(t, protocol.SendMessageAck{Success: false, Error: "rate limited"})
	h.joined(wireMsg("h1"))

	_, err := wait(t, h.m.Send(context.Background(), "hello"))

	require.ErrorIs(t, err, domain.ErrSendRejected)
	assert.Equal(t, "rate limited", err.Error())
	snap := h.m.Snapshot()
	assert.Equal(t, "rate limited", snap.Status.Error)
	assert.Equal(t, []string{"h1"}, ids(snap.Messages))
	assert.Empty(t, snap.Draft, "text is not restored by default")
}

func TestSend_AckFailureDefaultText(t *testing.T) {
	h := newHarness(t)
	h.dialer.requestFn = ackWith(t, protocol.SendMessageAck{Success: true})
	h.joined()

	_, err := wait(t, h.m.Send(context.Background(), "hello"))

	require.ErrorIs(t, err, domain.ErrSendRejected)
	assert.Equal(t, domain.ErrSendRejected.Error(), h.m.Snapshot().Status.Error)
}

func TestSend_AckWithoutPayload(t *testing.T) {
	h := newHarness(t)
	h.dialer.requestFn = func(context.Context, protocol.EventName, any) (*protocol.Frame, error) {
		return &protocol.Frame{Event: protocol.EventAck, AckID: domain.GenerateRequestID().String()}, nil
	}
	h.joined()

	_, err := wait(t, h.m.Send(context.Background(), "hello"))

	require.ErrorIs(t, err, domain.ErrSendRejected)
	assert.Equal(t, domain.ErrSendRejected.Error(), h.m.Snapshot().Status.Error)
}

func TestSend_RestoreDraftOnFailure(t *testing.T) {
	h := newHarness(t, func(cfg *app.ManagerConfig) { cfg.RestoreDraftOnFailure = true })
	h.dialer.requestFn = ackWith(t, protocol.SendMessageAck{Error: "nope"})
	h.joined()

	_, err := wait(t, h.m.Send(context.Background(), "hello"))

	require.Error(t, err)
	assert.Equal(t, "hello", h.m.Snapshot().Draft)
}

func TestSend_AckTimeout(t *testing.T) {
	h := newHarness(t, func(cfg *app.ManagerConfig) { cfg.AckTimeout = 20 * time.Millisecond })
	h.joined()

	_, err := wait(t, h.m.Send(context.Background(), "hello"))

	require.ErrorIs(t, err, domain.ErrAckTimeout)
	assert.NotEmpty(t, h.m.Snapshot().Status.Error)
}

func TestSend_TransportFailure(t *testing.T) {
	h := newHarness(t)
	h.dialer.requestFn = func(context.Context, protocol.EventName, any) (*protocol.Frame, error) {
		return nil, errors.New("broken pipe")
	}
	h.joined()

	_, err := wait(t, h.m.Send(context.Background(), "hello"))

	require.ErrorIs(t, err, domain.ErrSendRejected)
	assert.Equal(t, domain.ErrSendRejected.Error(), h.m.Snapshot().Status.Error)
}

func TestSend_NotConnected(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
	}{
		{"logged out", func(*harness) {}},
		{"connecting", func(h *harness) { h.login() }},
		{"dropped", func(h *harness) {
			conn := h.joined()
			conn.deliver(app.TransportEvent{Kind: app.TransportDisconnected, Reason: domain.ReasonTransportError})
			h.flush()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(h)

			res := h.m.Send(context.Background(), "hello")
			_, err := wait(t, res)

			require.ErrorIs(t, err, domain.ErrNotConnected)
			snap := h.m.Snapshot()
			assert.Equal(t, domain.ErrNotConnected.Error(), snap.Status.Error)
			assert.Equal(t, "hello", snap.Draft, "draft kept when nothing was sent")
		})
	}
}

func TestSend_EmptyText(t *testing.T) {
	h := newHarness(t)
	h.dialer.requestFn = func(context.Context, protocol.EventName, any) (*protocol.Frame, error) {
		t.Error("empty text must not be transmitted")
		return nil, nil
	}
	h.joined()

	_, err := wait(t, h.m.Send(context.Background(), "   "))

	require.ErrorIs(t, err, domain.ErrEmptyMessage)
	assert.Empty(t, h.m.Snapshot().Status.Error, "empty sends only log")
}

func TestSend_AckAfterLogoutLeavesSessionAlone(t *testing.T) {
	h := newHarness(t)
	started := make(chan struct{})
	release := make(chan struct{})
	h.dialer.requestFn = func(context.Context, protocol.EventName, any) (*protocol.Frame, error) {
		close(started)
		<-release
		return protocol.NewFrame(protocol.EventAck, protocol.SendMessageAck{Error: "too late"})
	}
	h.joined()

	res := h.m.Send(context.Background(), "hello")
	<-started
	require.NoError(t, h.m.Logout(context.Background()))
	close(release)

	_, err := wait(t, res)
	require.Error(t, err)
	h.flush()
	assert.Empty(t, h.m.Snapshot().Status.Error)
}

func TestSendResult_WaitHonoursContext(t *testing.T) {
	h := newHarness(t, func(cfg *app.ManagerConfig) { cfg.AckTimeout = 50 * time.Millisecond })
	h.joined()

	res := h.m.Send(context.Background(), "hello")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := res.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "hello", res.Text())

	_, err = wait(t, res)
	assert.ErrorIs(t, err, domain.ErrAckTimeout, "the send itself still resolves")
}
