package peer

import (
	"github.com/1ureka/peerlink/internal/transport"
)

// effectKind is one step the peer performs in reaction to a status change.
type effectKind int

const (
	effectAccept effectKind = iota
	effectReject
	effectRegister
	effectMarkConnected
	effectAnnounce
	effectForget
	effectCloseHandle
	effectTeardown
	effectNotifyDisconnected
)

func (k effectKind) String() string {
	switch k {
	case effectAccept:
		return "accept"
	case effectReject:
		return "reject"
	case effectRegister:
		return "register"
	case effectMarkConnected:
		return "mark-connected"
	case effectAnnounce:
		return "announce"
	case effectForget:
		return "forget"
	case effectCloseHandle:
		return "close-handle"
	case effectTeardown:
		return "teardown"
	case effectNotifyDisconnected:
		return "notify-disconnected"
	default:
		return "unknown"
	}
}

type effect struct {
	kind effectKind
	peer PeerID // only for effectNotifyDisconnected
}

// lifecycleInput is everything transition needs to know about a status
// change and the local instance at the moment it is delivered.
type lifecycleInput struct {
	old, new transport.ConnState

	mode   Mode
	status ConnectionStatus

	// incoming is set when the change arrived on a listen socket, ownSocket
	// when that socket is the one this instance is listening on.
	incoming  bool
	ownSocket bool

	// known is set when the identity is registered under the same handle.
	known  bool
	peerID PeerID

	// current is set on a client for the handle returned by its latest
	// CreateClient. Any other unknown handle is left over from an earlier
	// session.
	current bool
}

// transition maps a connection status change to the effects the peer must
// apply, in order. It has no side effects.
//
// Clients talk to a single logical peer, so any terminal transition on the
// client side tears the whole session down. Servers treat every connection
// independently.
func transition(in lifecycleInput) []effect {
	old := in.old
	if old == transport.StateFindingRoute {
		old = transport.StateConnecting
	}

	switch {
	case old == transport.StateNone && in.new == transport.StateConnecting:
		if !in.incoming {
			return nil
		}
		if in.mode == ModeServer && in.ownSocket {
			return []effect{{kind: effectAccept}}
		}
		return []effect{{kind: effectReject}}

	case old == transport.StateConnecting && in.new == transport.StateConnected:
		if in.mode == ModeNone {
			return []effect{{kind: effectCloseHandle}}
		}
		if in.mode == ModeClient && !in.current {
			return []effect{{kind: effectCloseHandle}}
		}
		effects := []effect{{kind: effectRegister}}
		if in.mode != ModeServer {
			effects = append(effects, effect{kind: effectMarkConnected}, effect{kind: effectAnnounce})
		}
		return effects

	case (old == transport.StateConnecting || old == transport.StateConnected) && terminal(in.new):
		return terminalEffects(in)
	}
	return nil
}

func terminal(s transport.ConnState) bool {
	return s == transport.StateClosedByPeer || s == transport.StateProblemDetectedLocally
}

func terminalEffects(in lifecycleInput) []effect {
	var effects []effect

	switch in.mode {
	case ModeNone:
		if in.known {
			return []effect{{kind: effectForget}}
		}
		return []effect{{kind: effectCloseHandle}}

	case ModeServer:
		if !in.known {
			return []effect{{kind: effectCloseHandle}}
		}
		effects = append(effects, effect{kind: effectForget})
		if in.peerID != PeerUnassigned {
			effects = append(effects, effect{kind: effectNotifyDisconnected, peer: in.peerID})
		}
		return effects

	default:
		if !in.known {
			effects = append(effects, effect{kind: effectCloseHandle})
			if !in.current {
				return effects
			}
		}
		effects = append(effects, effect{kind: effectTeardown})
		if in.status == StatusConnected {
			effects = append(effects, effect{kind: effectNotifyDisconnected, peer: PeerServer})
		}
		return effects
	}
}

// onStatusChanged is installed as the transport status handler. It runs
// synchronously inside Poll, via Service.RunCallbacks.
func (p *Peer) onStatusChanged(change transport.StatusChange) {
	c := p.registry.Lookup(change.Identity)
	known := c != nil && c.Handle() == change.Handle

	in := lifecycleInput{
		old:       change.Old,
		new:       change.New,
		mode:      p.mode,
		status:    p.status,
		incoming:  change.ListenSocket != transport.InvalidListenSocket,
		ownSocket: change.ListenSocket != transport.InvalidListenSocket && change.ListenSocket == p.listenSocket,
		known:     known,
		peerID:    PeerUnassigned,
		current:   p.mode == ModeClient && change.Handle == p.connectHandle,
	}
	if known {
		in.peerID = c.PeerID()
	}

	effects := transition(in)
	if len(effects) > 0 {
		log.Debugf("%s: %s→%s %v", change.Identity, change.Old, change.New, effects)
	}
	p.apply(change, effects)
}

// apply performs effects for change. It stops early when a step leaves
// nothing for the following ones to act on.
func (p *Peer) apply(change transport.StatusChange, effects []effect) {
	var conn *Connection

	for _, e := range effects {
		switch e.kind {
		case effectAccept:
			if res := p.svc.Accept(change.Handle); res != transport.ResultOK {
				log.Warnf("failed to accept connection from %s: %s", change.Identity, res)
				p.svc.CloseConnection(change.Handle, transport.EndAppExceptionGeneric, "Failed to accept connection", false)
			}

		case effectReject:
			log.Warnf("rejecting connection from %s: not listening on that socket", change.Identity)
			p.svc.CloseConnection(change.Handle, transport.EndAppExceptionGeneric, "Failed to accept connection", false)

		case effectRegister:
			conn = p.registry.Add(change.Identity, change.Handle)
			if conn == nil {
				p.svc.CloseConnection(change.Handle, transport.EndAppExceptionGeneric, "Cannot connect to self", false)
				return
			}
			if conn.Handle() != change.Handle {
				log.Warnf("duplicate connection from %s, closing the new one", change.Identity)
				p.svc.CloseConnection(change.Handle, transport.EndAppExceptionGeneric, "Duplicate connection", false)
				return
			}
			if change.Handle == p.connectHandle {
				p.connectHandle = transport.InvalidHandle
			}

		case effectMarkConnected:
			p.status = StatusConnected

		case effectAnnounce:
			if conn == nil {
				continue
			}
			if res := conn.SendPing(p.uniqueID); res != transport.ResultOK && res != transport.ResultPending {
				log.Warnf("failed to announce peer id to %s: %s", conn.Identity(), res)
			}

		case effectForget:
			p.registry.Remove(change.Identity)

		case effectCloseHandle:
			p.svc.CloseConnection(change.Handle, transport.EndAppGeneric, "Connection closed", false)

		case effectTeardown:
			p.Close()

		case effectNotifyDisconnected:
			p.emitDisconnected(e.peer)
		}
	}
}
