package app

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/aelexs/roomchat/internal/domain"
	"github.com/aelexs/roomchat/pkg/protocol"
)

// SendResult is the single-resolution outcome of one Send call. It resolves
// with the server-confirmed message or an error, exactly once.
type SendResult struct {
	text string
	once sync.Once
	done chan struct{}
	msg  domain.Message
	err  error
}

func newSendResult(text string) *SendResult {
	return &SendResult{text: text, done: make(chan struct{})}
}

func (r *SendResult) resolve(msg domain.Message, err error) {
	r.once.Do(func() {
		r.msg, r.err = msg, err
		close(r.done)
	})
}

// Text returns the text passed to Send.
func (r *SendResult) Text() string { return r.text }

// Done is closed once the result is resolved.
func (r *SendResult) Done() <-chan struct{} { return r.done }

// Wait blocks until the result resolves or ctx is done. A ctx error leaves
// the send itself untouched.
func (r *SendResult) Wait(ctx context.Context) (domain.Message, error) {
	select {
	case <-r.done:
		return r.msg, r.err
	case <-ctx.Done():
		return domain.Message{}, ctx.Err()
	}
}

// Result returns the outcome. It must only be called after Done is closed.
func (r *SendResult) Result() (domain.Message, error) {
	<-r.done
	return r.msg, r.err
}

// startSend checks the send preconditions and, when they hold, transmits in
// a helper goroutine. A precondition failure is returned for the caller to
// resolve res with. Loop-owned.
func (m *Manager) startSend(ctx context.Context, text string, res *SendResult) error {
	trimmed := strings.TrimSpace(text)

	if !m.conns.connected() || m.identity.IsZero() {
		m.err = domain.ErrNotConnected
		m.draft = text
		sendsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "not_connected")))
		return domain.ErrNotConnected
	}
	if trimmed == "" {
		m.logger.Warn("refusing to send empty message")
		m.draft = text
		sendsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "empty")))
		return domain.ErrEmptyMessage
	}

	payload := protocol.SendMessage{
		UserID:   m.identity.ID,
		Username: m.identity.Username,
		Text:     trimmed,
	}
	conn, epoch := m.conns.conn, m.conns.epoch

	// Optimistic: the field empties as soon as the message is handed off.
	m.draft = ""

	m.helpers.Add(1)
	go m.awaitAck(conn, epoch, payload, res)
	return nil
}

// awaitAck transmits payload and posts the acknowledgment back to the loop.
func (m *Manager) awaitAck(conn Conn, epoch uint64, payload protocol.SendMessage, res *SendResult) {
	defer m.helpers.Done()

	ctx, span := tracer.Start(m.runCtx, "session.send")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, m.ackTimeout)
	defer cancel()

	start := m.clock.Now()
	frame, err := conn.Request(ctx, protocol.EventSendMessage, payload)
	msg, err := m.decodeAck(frame, err)
	sendAckLatency.Record(ctx, m.clock.Now().Sub(start).Milliseconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	ev := sendResolved{epoch: epoch, res: res, msg: msg, err: err}
	if postErr := m.post(context.Background(), ev); postErr != nil {
		// Loop is gone; nobody will apply the outcome.
		res.resolve(msg, err)
	}
}

// decodeAck turns the acknowledgment frame into the confirmed message or
// the failure to show.
func (m *Manager) decodeAck(frame *protocol.Frame, err error) (domain.Message, error) {
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return domain.Message{}, domain.ErrAckTimeout
		case domain.IsSendError(err) || domain.IsConnectionError(err):
			return domain.Message{}, err
		default:
			m.logger.Warn("send failed", "error", err)
			return domain.Message{}, domain.NewRemoteError(domain.ErrSendRejected, "")
		}
	}

	var ack protocol.SendMessageAck
	if err := frame.ParsePayload(&ack); err != nil {
		m.logger.Warn("malformed send ack", "error", err)
		return domain.Message{}, domain.NewRemoteError(domain.ErrSendRejected, "")
	}
	if !ack.Success || ack.Message == nil {
		return domain.Message{}, domain.NewRemoteError(domain.ErrSendRejected, ack.Error)
	}
	return fromWire(*ack.Message), nil
}

// finishSend applies an acknowledgment. Outcomes of a retired instance
// resolve the future but leave session state alone. Loop-owned.
func (m *Manager) finishSend(ctx context.Context, ev sendResolved) {
	result := "ok"
	if ev.err != nil {
		result = "error"
		if errors.Is(ev.err, domain.ErrAckTimeout) {
			result = "timeout"
		}
	}
	sendsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))

	if ev.err == nil || !m.conns.current(ev.epoch) {
		return
	}
	m.err = ev.err
	if m.restoreDraft && m.draft == "" {
		m.draft = ev.res.Text()
	}
}

func fromWire(pm protocol.Message) domain.Message {
	return domain.Message{
		ID:        pm.ID,
		UserID:    pm.UserID,
		Username:  pm.Username,
		Text:      pm.Text,
		Timestamp: pm.Timestamp,
	}
}

func fromWireAll(pms []protocol.Message) []domain.Message {
	out := make([]domain.Message, 0, len(pms))
	for _, pm := range pms {
		out = append(out, fromWire(pm))
	}
	return out
}
