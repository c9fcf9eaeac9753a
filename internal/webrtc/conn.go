package webrtc

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/peerlink/internal/protocol"
	"github.com/1ureka/peerlink/internal/signaling"
	"github.com/1ureka/peerlink/internal/transport"
)

const lingerTimeout = 2 * time.Second

var errConnClosed = errors.New("connection closed locally")

// conn is one WebRTC connection. Fields below the mutex comment are guarded
// by the owning Service's mutex.
type conn struct {
	handle transport.Handle
	remote protocol.Identity
	socket transport.ListenSocket
	opts   connOptions

	// ctx is cancelled by CloseConnection and Service.Close.
	ctx    context.Context
	cancel context.CancelFunc

	accepted   chan struct{} // closed by Accept
	ready      chan struct{} // closed when both channels are open
	acceptOnce sync.Once
	readyOnce  sync.Once
	opened     atomic.Int32

	// guarded by Service.mu
	state      transport.ConnState
	closed     bool
	inbox      []transport.Message
	pc         *webrtc.PeerConnection
	reliable   *channel
	unreliable *channel
}

// ---------------------------------------------------------------------------
// State changes (called with s.mu held)
// ---------------------------------------------------------------------------

// setState records a transition and queues its notification.
func (s *Service) setState(c *conn, state transport.ConnState) {
	old := c.state
	if old == state || c.closed {
		return
	}
	c.state = state
	s.pending = append(s.pending, transport.StatusChange{
		Handle:       c.handle,
		Identity:     c.remote,
		ListenSocket: c.socket,
		Old:          old,
		New:          state,
	})
}

func live(state transport.ConnState) bool {
	return state == transport.StateConnecting ||
		state == transport.StateFindingRoute ||
		state == transport.StateConnected
}

// ---------------------------------------------------------------------------
// Callbacks from pion and signaling goroutines
// ---------------------------------------------------------------------------

func (s *Service) markConnected(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.closed || c.state == transport.StateConnected || !live(c.state) {
		return
	}
	s.setState(c, transport.StateConnected)
	c.readyOnce.Do(func() { close(c.ready) })
	log.Debugf("connection to %s open", c.remote)
}

func (s *Service) remoteClosed(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.closed || !live(c.state) {
		return
	}
	log.Debugf("connection to %s closed by peer", c.remote)
	s.setState(c, transport.StateClosedByPeer)
}

func (s *Service) problem(c *conn, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.closed || !live(c.state) {
		return
	}
	log.Warnf("connection to %s failed: %v", c.remote, err)
	s.setState(c, transport.StateProblemDetectedLocally)
}

func (s *Service) deliver(c *conn, data []byte, flags protocol.SendFlags) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.closed {
		return
	}
	c.inbox = append(c.inbox, transport.Message{
		Identity: c.remote,
		Payload:  slices.Clone(data),
		Flags:    flags,
	})
}

// ---------------------------------------------------------------------------
// Setup
// ---------------------------------------------------------------------------

// setup creates the PeerConnection and data channels of c and wires their
// callbacks.
func (s *Service) setup(c *conn) (*webrtc.PeerConnection, error) {
	pc, err := newPeerConnection(c.opts.iceServers)
	if err != nil {
		return nil, err
	}
	rawReliable, rawUnreliable, err := newDataChannels(pc)
	if err != nil {
		pc.Close()
		return nil, err
	}

	onOpen := func() {
		if c.opened.Add(1) == 2 {
			s.markConnected(c)
		}
	}
	rawReliable.OnOpen(onOpen)
	rawUnreliable.OnOpen(onOpen)

	rawReliable.OnMessage(func(msg webrtc.DataChannelMessage) {
		s.deliver(c, msg.Data, protocol.SendReliable)
	})
	rawUnreliable.OnMessage(func(msg webrtc.DataChannelMessage) {
		s.deliver(c, msg.Data, protocol.SendUnreliable)
	})

	// The reliable channel closing means the remote is gone.
	rawReliable.OnClose(func() { s.remoteClosed(c) })

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debugf("PeerConnection to %s: %s", c.remote, state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed:
			s.problem(c, errors.New("ICE connection failed"))
		case webrtc.PeerConnectionStateClosed:
			s.remoteClosed(c)
		}
	})

	s.mu.Lock()
	if c.closed {
		s.mu.Unlock()
		pc.Close()
		return nil, errConnClosed
	}
	c.pc = pc
	c.reliable = newChannel(rawReliable)
	c.unreliable = newChannel(rawUnreliable)
	s.mu.Unlock()

	return pc, nil
}

// negotiate runs the SDP/ICE exchange for c over ws.
func (s *Service) negotiate(ctx context.Context, c *conn, ws *signaling.Conn, offerer bool) {
	pc, err := s.setup(c)
	if err != nil {
		ws.Send(signaling.Reject("failed to create connection"))
		ws.Close()
		s.problem(c, err)
		return
	}

	if offerer {
		err = signaling.Offer(ctx, ws, pc, c.ready)
	} else {
		err = signaling.Answer(ctx, ws, pc, c.ready)
	}
	if err != nil {
		s.problem(c, err)
	}
}

// teardown closes the channels and PeerConnection of a removed conn.
func (s *Service) teardown(c *conn, linger bool) {
	s.mu.Lock()
	pc, reliable, unreliable := c.pc, c.reliable, c.unreliable
	s.mu.Unlock()

	if pc == nil {
		return
	}
	if linger {
		reliable.drain(lingerTimeout)
	}
	reliable.close()
	unreliable.close()
	if err := pc.Close(); err != nil {
		log.Debugf("closing PeerConnection to %s: %v", c.remote, err)
	}
}
