package peer

import (
	"fmt"
	"slices"

	"github.com/1ureka/peerlink/internal/protocol"
	"github.com/1ureka/peerlink/internal/transport"
)

// Put sends buf to the current target peer. With the broadcast target every
// peer that completed the handshake gets a copy; all of them are attempted
// and the last failure is returned. Connections still handshaking have no
// peer id and are skipped, since they would read the data as a ping.
//
// A packet queued behind a blocked reliable packet is not an error: it will
// be sent by a later Put or RetryPending.
func (p *Peer) Put(buf []byte) error {
	if !p.active() || p.status != StatusConnected {
		return ErrUnconfigured
	}
	if p.targetPeer < 0 {
		return fmt.Errorf("%w: target peer %d", ErrUnconfigured, p.targetPeer)
	}

	var targets []*Connection
	if p.targetPeer == PeerBroadcast {
		targets = p.registry.Peers()
	} else {
		c := p.registry.LookupPeer(p.targetPeer)
		if c == nil {
			return fmt.Errorf("%w: unknown target peer %d", ErrUnconfigured, p.targetPeer)
		}
		targets = []*Connection{c}
	}

	env, err := protocol.NewEnvelope(slices.Clone(buf), p.sendFlags())
	if err != nil {
		return err
	}

	var lastErr error
	for _, c := range targets {
		res := c.Send(env)
		if res != transport.ResultOK && res != transport.ResultPending {
			lastErr = &SendError{Peer: c.peerID, Result: res}
		}
	}
	return lastErr
}

// Get pops the oldest received packet.
func (p *Peer) Get() ([]byte, error) {
	if len(p.inbound) == 0 {
		return nil, ErrUnavailable
	}
	pkt := p.inbound[0]
	p.inbound[0] = inboundPacket{}
	p.inbound = p.inbound[1:]
	return pkt.env.Payload(), nil
}

func (p *Peer) AvailablePacketCount() int { return len(p.inbound) }

func (p *Peer) MaxPacketSize() int { return protocol.MaxPacketSize }

// PacketMode returns the transfer mode of the next packet Get returns.
func (p *Peer) PacketMode() protocol.TransferMode {
	if !p.active() || len(p.inbound) == 0 {
		return protocol.TransferReliable
	}
	return p.inbound[0].env.Mode()
}

// PacketPeer returns the sender of the next packet Get returns.
func (p *Peer) PacketPeer() PeerID {
	if !p.active() || len(p.inbound) == 0 {
		return PeerServer
	}
	return p.inbound[0].peer
}

func (p *Peer) PacketChannel() int { return defaultChannel }

func (p *Peer) SetTransferMode(mode protocol.TransferMode) { p.transferMode = mode }

func (p *Peer) TransferMode() protocol.TransferMode { return p.transferMode }

// SetTransferChannel is accepted for compatibility; every packet travels on
// the default channel.
func (p *Peer) SetTransferChannel(channel int) {
	if channel != defaultChannel {
		log.Debugf("ignoring transfer channel %d", channel)
	}
}

func (p *Peer) TransferChannel() int { return defaultChannel }

// SetTargetPeer selects the destination of the following Puts: 0 for every
// peer, otherwise a single peer id.
func (p *Peer) SetTargetPeer(id PeerID) { p.targetPeer = id }

func (p *Peer) TargetPeer() PeerID { return p.targetPeer }

func (p *Peer) sendFlags() protocol.SendFlags {
	return protocol.Flags(p.transferMode, p.NoNagle, p.NoDelay)
}
