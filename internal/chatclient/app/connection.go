package app

import (
	"context"

	"github.com/aelexs/roomchat/internal/domain"
	"github.com/aelexs/roomchat/pkg/protocol"
)

// TransportEventKind classifies what a connection instance reported.
type TransportEventKind int

const (
	TransportConnected TransportEventKind = iota + 1
	TransportDisconnected
	TransportConnectError
	TransportInbound
)

func (k TransportEventKind) String() string {
	switch k {
	case TransportConnected:
		return "connected"
	case TransportDisconnected:
		return "disconnected"
	case TransportConnectError:
		return "connect_error"
	case TransportInbound:
		return "inbound"
	default:
		return "unknown"
	}
}

// TransportEvent is one callback from a connection instance.
type TransportEvent struct {
	Kind TransportEventKind

	// Reason is set on TransportDisconnected, one of the domain.Reason* values.
	Reason string

	// Err carries the failure detail of TransportConnectError.
	Err error

	// Frame is set on TransportInbound.
	Frame protocol.Frame
}

// TransportHandler receives the events of one connection instance. Calls
// happen from a single goroutine, in order, and may block.
type TransportHandler func(TransportEvent)

// Conn is one live connection instance. It reconnects on its own after a
// transport drop until Close is called.
type Conn interface {
	// Emit sends a fire-and-forget event.
	Emit(event protocol.EventName, payload any) error

	// Request sends an event and waits for its acknowledgment frame.
	Request(ctx context.Context, event protocol.EventName, payload any) (*protocol.Frame, error)

	// Close tears the instance down. It does not wait for the instance's
	// goroutines and must not block.
	Close() error
}

// Dialer starts connection instances for an identity.
type Dialer interface {
	Dial(identity domain.Identity, h TransportHandler) Conn
}

// connectionManager owns the single connection instance of a session.
// Loop-owned: no locking.
type connectionManager struct {
	dialer Dialer

	// post delivers an instance's event to the session loop, giving up once
	// detach is closed.
	post func(ev transportEvent, detach <-chan struct{})

	epoch    uint64
	conn     Conn
	detach   chan struct{}
	identity domain.Identity
	state    ConnState
}

// open starts an instance for identity. It is a no-op when an instance for
// the same identity is already connecting or connected; any other instance
// must have been detached by the caller first.
func (c *connectionManager) open(identity domain.Identity) bool {
	if c.conn != nil && c.identity == identity &&
		(c.state == ConnConnecting || c.state == ConnConnected) {
		return false
	}
	if c.conn != nil {
		if conn := c.detachCurrent(); conn != nil {
			_ = conn.Close()
		}
	}

	c.epoch++
	epoch := c.epoch
	detach := make(chan struct{})
	c.detach = detach
	c.identity = identity
	c.state = ConnConnecting

	post := c.post
	c.conn = c.dialer.Dial(identity, func(te TransportEvent) {
		post(transportEvent{epoch: epoch, TransportEvent: te}, detach)
	})
	return true
}

// detachCurrent retires the current instance. Events it already queued fail
// the epoch check, and a handler blocked in post returns. The caller still
// has to close the returned Conn.
func (c *connectionManager) detachCurrent() Conn {
	conn := c.conn
	if conn == nil {
		return nil
	}
	close(c.detach)
	c.epoch++
	c.conn = nil
	c.detach = nil
	c.identity = domain.Identity{}
	c.state = ConnIdle
	return conn
}

// current reports whether epoch belongs to the live instance.
func (c *connectionManager) current(epoch uint64) bool {
	return c.conn != nil && epoch == c.epoch
}

func (c *connectionManager) connected() bool {
	return c.conn != nil && c.state == ConnConnected
}
