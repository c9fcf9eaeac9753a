package peer

import (
	"errors"
	"math"

	"github.com/1ureka/peerlink/internal/protocol"
	"github.com/1ureka/peerlink/internal/transport"
	"github.com/1ureka/peerlink/internal/util"
)

// The handshake has no message type of its own. Until an identity has an
// assigned peer id, everything it sends is read as a ping carrying its id:
//
//	client → server  ping(N)   server assigns N, replies
//	server → client  ping(1)   client assigns 1
//
// After that both sides treat the identity's messages as application data.

// dispatch routes one received message to the inbound queue or to the
// handshake.
func (p *Peer) dispatch(m transport.Message) {
	if id := p.registry.PeerIDOf(m.Identity); id != PeerUnassigned {
		p.enqueue(m, id)
		return
	}
	p.processPing(m)
}

func (p *Peer) enqueue(m transport.Message, from PeerID) {
	env, err := protocol.NewInbound(m.Payload, m.Flags, m.Identity)
	if err != nil {
		log.Warnf("dropping packet from peer %d: %v", from, err)
		return
	}
	p.inbound = append(p.inbound, inboundPacket{env: env, peer: from})
	util.Stats.AddRecv(len(m.Payload))
}

func (p *Peer) processPing(m transport.Message) {
	raw, err := protocol.DecodePing(m.Payload)
	if err != nil {
		log.Warnf("dropping message from %s before handshake: %v", m.Identity, err)
		return
	}
	if raw == 0 {
		log.Debugf("ignoring ping with reserved peer id 0 from %s", m.Identity)
		return
	}

	conn := p.registry.Lookup(m.Identity)
	if conn == nil {
		log.Warnf("ping from unregistered identity %s", m.Identity)
		return
	}
	if raw > math.MaxInt32 {
		p.rejectPeer(conn, "peer id out of range")
		return
	}

	id := PeerID(raw)
	if p.IsServer() && id < PeerFirstClient {
		p.rejectPeer(conn, "reserved peer id")
		return
	}

	if err := p.registry.AssignPeerID(m.Identity, id); err != nil && !errors.Is(err, ErrAlreadyAssigned) {
		p.rejectPeer(conn, err.Error())
		return
	}

	if p.IsServer() {
		if res := conn.SendPing(p.uniqueID); res != transport.ResultOK && res != transport.ResultPending {
			log.Errorf("error sending server peer id to %s: %s", m.Identity, res)
		}
	}

	p.emitConnected(conn.PeerID())
}

// rejectPeer closes a connection whose handshake cannot complete. A client
// has nobody else to talk to, so it tears down.
func (p *Peer) rejectPeer(conn *Connection, reason string) {
	log.Warnf("rejecting %s: %s", conn.Identity(), reason)
	conn.Close(transport.EndAppExceptionGeneric, reason, false)
	p.registry.Remove(conn.Identity())

	if p.mode == ModeClient {
		p.Close()
	}
}
