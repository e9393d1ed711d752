package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/aelexs/roomchat/internal/chatclient/app"
	"github.com/aelexs/roomchat/internal/domain"
	"github.com/aelexs/roomchat/internal/errmap"
	"github.com/aelexs/roomchat/pkg/protocol"
)

// Compile-time interface satisfaction checks.
var _ app.Dialer = (*WSDialer)(nil)
var _ app.Conn = (*WSConn)(nil)

// WSConfig configures the websocket transport.
type WSConfig struct {
	URL                      string
	HandshakeTimeout         time.Duration
	WriteTimeout             time.Duration
	ReconnectInitialInterval time.Duration
	ReconnectMaxInterval     time.Duration
	Clock                    domain.Clock
	Logger                   *slog.Logger

	// NewTimer supplies the timer pacing reconnect attempts. Nil uses
	// wall-clock timers.
	NewTimer func() backoff.Timer
}

// WSDialer starts websocket connection instances.
type WSDialer struct {
	cfg    WSConfig
	dialer *websocket.Dialer
}

// NewWSDialer creates a WSDialer. Zero durations fall back to the domain
// defaults.
func NewWSDialer(cfg WSConfig) *WSDialer {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = domain.HandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = domain.WriteTimeout
	}
	if cfg.ReconnectInitialInterval <= 0 {
		cfg.ReconnectInitialInterval = domain.ReconnectInitialInterval
	}
	if cfg.ReconnectMaxInterval < cfg.ReconnectInitialInterval {
		cfg.ReconnectMaxInterval = max(domain.ReconnectMaxInterval, cfg.ReconnectInitialInterval)
	}
	if cfg.Clock == nil {
		cfg.Clock = domain.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.NewTimer == nil {
		cfg.NewTimer = func() backoff.Timer { return &wallTimer{} }
	}
	return &WSDialer{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
}

// Dial starts an instance for identity. It connects in the background and
// keeps reconnecting with exponential backoff until Close.
func (d *WSDialer) Dial(identity domain.Identity, h app.TransportHandler) app.Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &WSConn{
		identity: identity,
		handler:  h,
		cfg:      d.cfg,
		dialer:   d.dialer,
		logger:   d.cfg.Logger.With("user_id", identity.ID),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		pending:  make(map[string]chan ackResult),
	}
	go c.run()
	return c
}

type ackResult struct {
	frame *protocol.Frame
	err   error
}

// WSConn is one websocket connection instance. Events reach the handler from
// a single goroutine in arrival order.
type WSConn struct {
	identity domain.Identity
	handler  app.TransportHandler
	cfg      WSConfig
	dialer   *websocket.Dialer
	logger   *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}

	mu      sync.Mutex // guards ws and pending
	ws      *websocket.Conn
	pending map[string]chan ackResult

	writeMu sync.Mutex // one writer at a time
}

// Done is closed once every goroutine of the instance has exited.
func (c *WSConn) Done() <-chan struct{} { return c.done }

// Close stops the instance. A live socket gets a normal close frame. Close
// returns immediately; use Done to wait for the goroutines.
func (c *WSConn) Close() error {
	c.closeOnce.Do(c.cancel)
	return nil
}

// Emit sends a fire-and-forget event.
func (c *WSConn) Emit(event protocol.EventName, payload any) error {
	frame, err := protocol.NewFrame(event, payload)
	if err != nil {
		return fmt.Errorf("ws: encode %s: %w", event, err)
	}
	return c.write(frame)
}

// Request sends an event with a fresh ack id and waits for the matching ack
// frame, ctx, or the loss of the socket.
func (c *WSConn) Request(ctx context.Context, event protocol.EventName, payload any) (*protocol.Frame, error) {
	frame, err := protocol.NewFrame(event, payload)
	if err != nil {
		return nil, fmt.Errorf("ws: encode %s: %w", event, err)
	}
	id := domain.GenerateRequestID().String()
	frame.AckID = id

	ch := make(chan ackResult, 1)
	c.mu.Lock()
	if c.ws == nil {
		c.mu.Unlock()
		return nil, domain.ErrNotConnected
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(frame); err != nil {
		return nil, err
	}

	select {
	case r := <-ch:
		return r.frame, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *WSConn) write(frame *protocol.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("ws: encode frame: %w", err)
	}
	if len(data) > domain.MaxMessageSize {
		return domain.ErrMessageTooBig
	}

	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return domain.ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := ws.SetWriteDeadline(c.cfg.Clock.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return fmt.Errorf("ws: write %s: %w", frame.Event, err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("ws: write %s: %w", frame.Event, err)
	}
	return nil
}

// run owns the instance: connect with backoff, serve the socket until it
// drops, repeat until Close.
func (c *WSConn) run() {
	defer close(c.done)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.ReconnectInitialInterval
	b.MaxInterval = c.cfg.ReconnectMaxInterval
	b.MaxElapsedTime = 0
	b.Clock = c.cfg.Clock
	timer := c.cfg.NewTimer()
	defer timer.Stop()

	target, err := c.endpoint()
	if err != nil {
		c.handler(app.TransportEvent{Kind: app.TransportConnectError, Err: err})
		return
	}

	for {
		var ws *websocket.Conn
		err := backoff.RetryNotifyWithTimer(func() error {
			var dialErr error
			ws, dialErr = c.connect(target)
			return dialErr
		}, backoff.WithContext(b, c.ctx), func(err error, next time.Duration) {
			c.logger.Warn("connect failed", "error", err, "retry_in", next)
			c.handler(app.TransportEvent{Kind: app.TransportConnectError, Err: err})
		}, timer)
		if err != nil {
			return
		}
		if !c.attach(ws) {
			return
		}

		c.logger.Info("websocket connected")
		c.handler(app.TransportEvent{Kind: app.TransportConnected})
		reason := c.serve(ws)
		c.detach()

		if c.ctx.Err() != nil {
			c.handler(app.TransportEvent{Kind: app.TransportDisconnected, Reason: domain.ReasonClientClose})
			return
		}
		c.handler(app.TransportEvent{Kind: app.TransportDisconnected, Reason: reason})

		// A server that drops every connection right away must not be
		// hammered.
		timer.Start(c.cfg.ReconnectInitialInterval)
		select {
		case <-c.ctx.Done():
			return
		case <-timer.C():
		}
	}
}

// endpoint appends the identity to the configured URL.
func (c *WSConn) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("ws: parse url: %w", err)
	}
	q := u.Query()
	q.Set("userId", c.identity.ID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *WSConn) connect(target string) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	ws, resp, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if c.ctx.Err() != nil {
			return nil, backoff.Permanent(c.ctx.Err())
		}
		if resp != nil {
			return nil, fmt.Errorf("handshake %s: %w", resp.Status, err)
		}
		return nil, err
	}
	ws.SetReadLimit(domain.MaxMessageSize)
	return ws, nil
}

// attach publishes ws for writers. It refuses once Close was called.
func (c *WSConn) attach(ws *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		_ = ws.Close()
		return false
	}
	c.ws = ws
	return true
}

// detach withdraws the socket and fails every request still waiting for
// an ack on it.
func (c *WSConn) detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws = nil
	for id, ch := range c.pending {
		ch <- ackResult{err: domain.ErrConnectionLost}
		delete(c.pending, id)
	}
}

// serve reads frames until the socket fails and returns the disconnect
// reason. Close interrupts it with a normal close frame.
func (c *WSConn) serve(ws *websocket.Conn) string {
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-c.ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, domain.ReasonClientClose)
			_ = ws.WriteControl(websocket.CloseMessage, msg, c.cfg.Clock.Now().Add(c.cfg.WriteTimeout))
			_ = ws.Close()
		case <-stop:
		}
	}()

	reason := c.readLoop(ws)
	close(stop)
	wg.Wait()
	_ = ws.Close()
	return reason
}

func (c *WSConn) readLoop(ws *websocket.Conn) string {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return c.disconnectReason(err)
		}

		var frame protocol.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Warn("dropping undecodable frame", "error", err)
			continue
		}
		if frame.Event == protocol.EventAck {
			c.resolveAck(frame)
			continue
		}
		c.handler(app.TransportEvent{Kind: app.TransportInbound, Frame: frame})
	}
}

func (c *WSConn) resolveAck(frame protocol.Frame) {
	id, err := domain.NewRequestID(frame.AckID)
	if err != nil {
		c.logger.Warn("dropping ack with bad id", "error", err)
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[id.String()]
	delete(c.pending, id.String())
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("dropping unsolicited ack", "ack_id", id.String())
		return
	}
	ch <- ackResult{frame: &frame}
}

func (c *WSConn) disconnectReason(err error) string {
	if c.ctx.Err() != nil {
		return domain.ReasonClientClose
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if cause := errmap.FromCloseCode(closeErr.Code, closeErr.Text); cause != nil {
			c.logger.Warn("websocket closed", "code", closeErr.Code, "error", cause)
		}
		return errmap.ToDisconnectReason(closeErr.Code)
	}
	c.logger.Warn("websocket read failed", "error", err)
	return domain.ReasonTransportError
}

// wallTimer is a reusable backoff.Timer on time.Timer.
type wallTimer struct {
	t *time.Timer
}

func (w *wallTimer) Start(d time.Duration) {
	if w.t == nil {
		w.t = time.NewTimer(d)
		return
	}
	w.t.Reset(d)
}

func (w *wallTimer) Stop() {
	if w.t != nil {
		w.t.Stop()
	}
}

func (w *wallTimer) C() <-chan time.Time { return w.t.C }
