package peer

import (
	"github.com/1ureka/peerlink/internal/protocol"
	"github.com/1ureka/peerlink/internal/transport"
	"github.com/1ureka/peerlink/internal/util"
)

// Connection wraps one transport connection: the remote identity, its
// handle, the peer id negotiated by the handshake and the queue of envelopes
// waiting to be handed to the transport.
//
// Connections are created and owned by a Registry, which closes the handle
// when the connection is removed.
type Connection struct {
	identity protocol.Identity
	handle   transport.Handle
	peerID   PeerID
	svc      transport.Service

	queue  retryQueue
	closed bool
}

func newConnection(svc transport.Service, identity protocol.Identity, handle transport.Handle) *Connection {
	return &Connection{
		identity: identity,
		handle:   handle,
		peerID:   PeerUnassigned,
		svc:      svc,
	}
}

func (c *Connection) Identity() protocol.Identity { return c.identity }
func (c *Connection) Handle() transport.Handle    { return c.handle }
func (c *Connection) PeerID() PeerID              { return c.peerID }
func (c *Connection) Assigned() bool              { return c.peerID != PeerUnassigned }

// Pending returns the number of envelopes still waiting in the retry queue.
func (c *Connection) Pending() int { return c.queue.len() }

// Send appends env to the retry queue and drains it. It returns the
// transport result of env's own attempt, or transport.ResultPending when an
// earlier reliable envelope blocked the queue before env was reached.
func (c *Connection) Send(env *protocol.Envelope) transport.Result {
	c.queue.push(env)
	return c.drain(env)
}

// Retry drains the queue without adding anything. It returns the result of
// the last attempt, or ResultOK when the queue was empty.
func (c *Connection) Retry() transport.Result {
	return c.drain(nil)
}

// SendPing announces peerID to the remote side. Pings are always reliable.
func (c *Connection) SendPing(peerID PeerID) transport.Result {
	return c.Send(protocol.NewPing(uint32(peerID)))
}

// drain hands queued envelopes to the transport head-first. A failed
// reliable envelope stays at the head and stops the drain; a failed
// unreliable envelope is dropped.
func (c *Connection) drain(own *protocol.Envelope) transport.Result {
	result := transport.ResultOK
	if own != nil {
		result = transport.ResultPending
	}

	for c.queue.len() > 0 {
		env := c.queue.front()
		res := c.svc.Send(c.handle, env.Payload(), env.Flags())
		if own == nil || env == own {
			result = res
		}

		if res == transport.ResultOK {
			util.Stats.AddSent(len(env.Payload()))
			c.queue.pop()
			continue
		}

		if env.Reliable() {
			util.Stats.AddRetry()
			log.Warnf("send error to %s (reliable, will retry): %s", c.identity, res)
			break
		}

		util.Stats.AddDropped()
		log.Warnf("send error to %s (unreliable, won't retry): %s", c.identity, res)
		c.queue.pop()
	}
	return result
}

// DropPending discards every queued envelope and returns how many were dropped.
func (c *Connection) DropPending() int {
	return c.queue.clear()
}

// Flush asks the transport to push any buffered messages now.
func (c *Connection) Flush() {
	if c.closed || c.handle == transport.InvalidHandle {
		return
	}
	if res := c.svc.Flush(c.handle); res != transport.ResultOK {
		log.Debugf("flush on %s: %s", c.identity, res)
	}
}

// Close closes the transport connection. It reports whether the transport
// still considered the handle valid.
func (c *Connection) Close(reason transport.EndReason, debug string, linger bool) bool {
	if c.closed || c.handle == transport.InvalidHandle {
		return false
	}
	c.closed = true
	return c.svc.CloseConnection(c.handle, reason, debug, linger)
}

// release closes the handle unless an explicit Close already did.
func (c *Connection) release() {
	if c.closed {
		return
	}
	c.Close(transport.EndAppGeneric, "connection released", true)
}
