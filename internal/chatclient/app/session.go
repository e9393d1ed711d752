// Package app is the chat client's session core: authentication state, the
// realtime connection, room membership, the message list and outbound sends.
// All state is owned by one event loop (Manager.Run); every user action and
// transport callback is applied there as a discrete event, and each event
// publishes a fresh immutable Snapshot.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/aelexs/roomchat/internal/domain"
	"github.com/aelexs/roomchat/pkg/protocol"
)

var tracer = otel.Tracer("chatclient/app")

var (
	messagesReceivedTotal metric.Int64Counter
	messagesDroppedTotal  metric.Int64Counter
	sendsTotal            metric.Int64Counter
	connectionEventsTotal metric.Int64Counter
	authFailuresTotal     metric.Int64Counter
	sendAckLatency        metric.Int64Histogram
)

func init() {
	m := otel.Meter("chatclient/app")

	messagesReceivedTotal, _ = m.Int64Counter("chat_messages_received_total",
		metric.WithDescription("Total messages added to the message list"))
	messagesDroppedTotal, _ = m.Int64Counter("chat_messages_dropped_total",
		metric.WithDescription("Total inbound messages dropped"))
	sendsTotal, _ = m.Int64Counter("chat_sends_total",
		metric.WithDescription("Total send attempts by result"))
	connectionEventsTotal, _ = m.Int64Counter("chat_connection_events_total",
		metric.WithDescription("Total connection lifecycle events"))
	authFailuresTotal, _ = m.Int64Counter("chat_auth_failures_total",
		metric.WithDescription("Total failed login and registration calls"))
	sendAckLatency, _ = m.Int64Histogram("chat_send_ack_latency_ms",
		metric.WithDescription("Time from send to acknowledgment"),
		metric.WithUnit("ms"))
}

func recordConnectionEvent(ctx context.Context, kind string) {
	connectionEventsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// ManagerConfig holds the dependencies and settings for Manager.
type ManagerConfig struct {
	Auth   AuthAPI
	Dialer Dialer

	// AuthCode is the registration code compared locally before any request.
	AuthCode string
	// AuthCodeMismatchMessage is shown when the code does not match.
	AuthCodeMismatchMessage string

	AckTimeout time.Duration

	// RestoreDraftOnFailure puts the text of a failed send back into the
	// draft when the user has not typed anything since.
	RestoreDraftOnFailure bool

	Clock  domain.Clock
	Logger *slog.Logger
}

// Manager is one chat session. Create with NewManager, start with Run, then
// drive it from any goroutine.
type Manager struct {
	auth                    AuthAPI
	authCode                string
	authCodeMismatchMessage string
	ackTimeout              time.Duration
	restoreDraft            bool
	clock                   domain.Clock
	logger                  *slog.Logger

	inbox   chan event
	stopped chan struct{}
	running atomic.Bool
	runCtx  context.Context
	helpers sync.WaitGroup // ack waits

	snap   atomic.Pointer[Snapshot]
	subsMu sync.Mutex
	subs   map[int]chan Snapshot
	nextID int
	closed bool

	// Loop-owned.
	phase           AuthPhase
	identity        domain.Identity
	authAttempt     uint64
	conns           connectionManager
	room            roomMembership
	store           MessageStore
	draft           string
	err             error
	awaitingHistory bool
}

// NewManager creates a session in the LoggedOut state.
func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{
		auth:                    cfg.Auth,
		authCode:                cfg.AuthCode,
		authCodeMismatchMessage: cfg.AuthCodeMismatchMessage,
		ackTimeout:              cfg.AckTimeout,
		restoreDraft:            cfg.RestoreDraftOnFailure,
		clock:                   cfg.Clock,
		logger:                  cfg.Logger,
		inbox:                   make(chan event, domain.InboxSize),
		stopped:                 make(chan struct{}),
		runCtx:                  context.Background(),
		subs:                    make(map[int]chan Snapshot),
	}
	if m.ackTimeout <= 0 {
		m.ackTimeout = domain.AckTimeout
	}
	if m.clock == nil {
		m.clock = domain.RealClock{}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.authCodeMismatchMessage == "" {
		m.authCodeMismatchMessage = domain.ErrAuthCodeMismatch.Error()
	}
	m.conns = connectionManager{dialer: cfg.Dialer, post: m.postTransport}

	snap := m.snapshot()
	m.snap.Store(&snap)
	return m
}

// Run applies events until ctx is done, then tears the session down: the
// room is left, the connection closed and subscribers' channels closed.
// Run may be called once.
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errors.New("session manager already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.runCtx = runCtx
	defer func() {
		m.teardown(context.WithoutCancel(ctx))
		m.publish()
		cancel()
		close(m.stopped)
		m.helpers.Wait()
		m.drain()
		m.closeSubscribers()
	}()

	m.logger.Info("session started")
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("session stopping")
			return nil
		case ev := <-m.inbox:
			prevErr := m.err
			after := m.reduce(runCtx, ev)
			if m.err != nil && m.err != prevErr {
				m.logger.Debug("session error",
					"event", ev.eventName(),
					"class", errorClass(m.err),
					"retryable", domain.IsRetryable(m.err),
					"error", m.err)
			}
			m.publish()
			if after != nil {
				after()
			}
		}
	}
}

func errorClass(err error) string {
	switch {
	case domain.IsAuthError(err):
		return "auth"
	case domain.IsConnectionError(err):
		return "connection"
	case domain.IsProtocolError(err):
		return "protocol"
	case domain.IsSendError(err):
		return "send"
	default:
		return "other"
	}
}

// reduce applies one event. The returned func runs after the resulting
// snapshot is published.
func (m *Manager) reduce(ctx context.Context, ev event) func() {
	switch ev := ev.(type) {
	case authStarted:
		res := m.beginAuth(ev)
		return func() { ev.reply <- res }
	case authFinished:
		err := m.finishAuth(ctx, ev)
		return func() { ev.reply <- err }
	case logoutRequested:
		var err error
		if m.phase != PhaseLoggedIn {
			err = domain.ErrNotLoggedIn
		} else {
			m.teardown(ctx)
			m.logger.Info("logged out")
		}
		return func() { ev.reply <- err }
	case sendRequested:
		err := m.startSend(ctx, ev.text, ev.res)
		return func() {
			if err != nil {
				ev.res.resolve(domain.Message{}, err)
			}
			close(ev.accepted)
		}
	case sendResolved:
		m.finishSend(ctx, ev)
		return func() { ev.res.resolve(ev.msg, ev.err) }
	case errorDismissed:
		m.err = nil
	case transportEvent:
		m.applyTransport(ctx, ev)
	case flush:
		return func() { close(ev.done) }
	default:
		m.logger.Error("unknown session event", "event", ev.eventName())
	}
	return nil
}

// teardown returns the session to LoggedOut. Order: detach the instance so
// its late events are ignored, leave the room, close the connection, then
// clear identity and messages. Loop-owned.
func (m *Manager) teardown(ctx context.Context) {
	if conn := m.conns.detachCurrent(); conn != nil {
		if left, err := m.room.leave(conn); left && err != nil {
			m.logger.Debug("leave room failed", "error", err)
		}
		if err := conn.Close(); err != nil {
			m.logger.Warn("close connection failed", "error", err)
		}
		recordConnectionEvent(ctx, "close")
	}
	m.room = roomMembership{}

	if m.phase == PhaseAuthenticating {
		m.authAttempt++
	}
	m.phase = PhaseLoggedOut
	m.identity = domain.Identity{}
	m.store.Clear()
	m.draft = ""
	m.err = nil
	m.awaitingHistory = false
}

// applyTransport handles events from connection instances. Loop-owned.
func (m *Manager) applyTransport(ctx context.Context, ev transportEvent) {
	if !m.conns.current(ev.epoch) {
		m.logger.Debug("dropping event from retired connection",
			"kind", ev.Kind.String(), "epoch", ev.epoch)
		return
	}

	switch ev.Kind {
	case TransportConnected:
		recordConnectionEvent(ctx, "connected")
		m.onOpened()
	case TransportDisconnected:
		recordConnectionEvent(ctx, "disconnected")
		m.onClosed(ev.Reason)
	case TransportConnectError:
		recordConnectionEvent(ctx, "connect_error")
		m.onConnectError(ev.Err)
	case TransportInbound:
		m.onInbound(ctx, ev.Frame)
	}
}

func (m *Manager) onOpened() {
	m.conns.state = ConnConnected
	m.logger.Info("connected to chat server", "epoch", m.conns.epoch)

	// The reconnect resolves a connection banner; anything else stays.
	if domain.IsConnectionError(m.err) {
		m.err = nil
	}
	if m.identity.IsZero() {
		return
	}

	joined, err := m.room.join(m.conns.conn, m.identity)
	if joined {
		m.awaitingHistory = true
	}
	if err != nil {
		m.logger.Warn("join room failed", "error", err)
	}
}

func (m *Manager) onClosed(reason string) {
	m.conns.state = ConnDisconnected
	m.awaitingHistory = false
	if left, err := m.room.leave(m.conns.conn); left && err != nil {
		m.logger.Debug("leave room failed", "error", err)
	}

	if domain.IsExplicitClose(reason) {
		m.logger.Info("disconnected from chat server", "reason", reason)
		return
	}
	m.logger.Warn("disconnected from chat server", "reason", reason)
	m.err = domain.ErrConnectionLost
}

func (m *Manager) onConnectError(cause error) {
	m.conns.state = ConnError
	m.awaitingHistory = false
	m.logger.Warn("connection error", "error", cause)
	if cause == nil {
		m.err = domain.ErrConnectionFailed
		return
	}
	m.err = fmt.Errorf("%w (%v)", domain.ErrConnectionFailed, cause)
}

func (m *Manager) onInbound(ctx context.Context, frame protocol.Frame) {
	if !m.room.joined {
		m.logger.Debug("dropping event outside the room", "event", string(frame.Event))
		return
	}

	switch frame.Event {
	case protocol.EventInitialMessages:
		pms, ok := protocol.DecodeHistory(frame.Payload)
		if !ok {
			m.logger.Warn("history payload is not a message list")
		}
		m.store.ReplaceAll(fromWireAll(pms))
		m.awaitingHistory = false
		messagesReceivedTotal.Add(ctx, int64(m.store.Len()))

	case protocol.EventMessage:
		var pm protocol.Message
		if err := frame.ParsePayload(&pm); err != nil {
			reason := "malformed"
			if errors.Is(err, protocol.ErrNoPayload) {
				reason = "empty"
			}
			m.logger.Warn("dropping undecodable message", "error", err)
			messagesDroppedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
			return
		}
		result, err := m.store.Append(fromWire(pm))
		switch result {
		case Appended:
			messagesReceivedTotal.Add(ctx, 1)
		case DroppedMalformed:
			m.logger.Warn("dropping malformed message", "error", err, "message_id", pm.ID)
			messagesDroppedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "malformed")))
		case DroppedDuplicate:
			messagesDroppedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "duplicate")))
		}

	case protocol.EventServerError:
		text := protocol.DecodeServerError(frame.Payload)
		m.logger.Warn("server error", "message", text)
		m.err = domain.NewRemoteError(domain.ErrServerError, text)
		m.awaitingHistory = false

	default:
		m.logger.Debug("ignoring event", "event", string(frame.Event))
	}
}

// Logout tears the session down and returns to LoggedOut.
func (m *Manager) Logout(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := m.post(ctx, logoutRequested{reply: reply}); err != nil {
		return err
	}
	err, waitErr := awaitReply(reply, m.stopped)
	if waitErr != nil {
		return waitErr
	}
	return err
}

// Send submits text to the room. It returns once the send preconditions
// were checked, so the snapshot already shows the resulting draft; the
// acknowledgment arrives through the returned SendResult.
func (m *Manager) Send(ctx context.Context, text string) *SendResult {
	res := newSendResult(text)
	accepted := make(chan struct{})
	if err := m.post(ctx, sendRequested{text: text, res: res, accepted: accepted}); err != nil {
		res.resolve(domain.Message{}, err)
		return res
	}
	if _, err := awaitReply(accepted, m.stopped); err != nil {
		res.resolve(domain.Message{}, err)
	}
	return res
}

// DismissError clears the error banner.
func (m *Manager) DismissError(ctx context.Context) error {
	return m.post(ctx, errorDismissed{})
}

// Snapshot returns the most recently published state.
func (m *Manager) Snapshot() Snapshot {
	return *m.snap.Load()
}

// Subscribe returns a channel that always holds the latest snapshot,
// starting with the current one. Intermediate snapshots may be skipped. The
// channel is closed when Run returns or cancel is called.
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	ch := make(chan Snapshot, 1)
	if m.closed {
		close(ch)
		return ch, func() {}
	}
	ch <- *m.snap.Load()

	id := m.nextID
	m.nextID++
	m.subs[id] = ch
	return ch, func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
	}
}

func (m *Manager) snapshot() Snapshot {
	return Snapshot{
		Phase:    m.phase,
		Identity: m.identity,
		Conn:     m.conns.state,
		Joined:   m.room.joined,
		Messages: m.store.Messages(),
		Draft:    m.draft,
		Status:   deriveStatus(m.phase, m.conns.state, m.awaitingHistory, m.err),
		Epoch:    m.conns.epoch,
	}
}

func (m *Manager) publish() {
	snap := m.snapshot()
	m.snap.Store(&snap)

	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		// Only publish sends, so after the drain there is room.
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

func (m *Manager) closeSubscribers() {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
	m.closed = true
}

// drain settles events that arrived after the loop stopped. Callers waiting
// on a reply already see stopped.
func (m *Manager) drain() {
	for {
		select {
		case ev := <-m.inbox:
			switch ev := ev.(type) {
			case sendRequested:
				ev.res.resolve(domain.Message{}, domain.ErrClosed)
			case sendResolved:
				ev.res.resolve(ev.msg, ev.err)
			}
		default:
			return
		}
	}
}

// post queues ev for the loop.
func (m *Manager) post(ctx context.Context, ev event) error {
	select {
	case <-m.stopped:
		return domain.ErrClosed
	default:
	}
	select {
	case m.inbox <- ev:
		return nil
	case <-m.stopped:
		return domain.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// postTransport queues an instance's event, giving up once the instance is
// detached or the loop is gone.
func (m *Manager) postTransport(ev transportEvent, detach <-chan struct{}) {
	select {
	case m.inbox <- ev:
	case <-detach:
	case <-m.stopped:
	}
}

// awaitReply waits for the loop's answer, preferring it over a concurrent stop.
func awaitReply[T any](ch chan T, stopped chan struct{}) (T, error) {
	select {
	case v := <-ch:
		return v, nil
	case <-stopped:
		select {
		case v := <-ch:
			return v, nil
		default:
			var zero T
			return zero, domain.ErrClosed
		}
	}
}
