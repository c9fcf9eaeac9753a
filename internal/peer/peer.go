// Package peer gives every participant of a session a small integer peer id
// and moves packets between peers over a transport.Service.
//
// A Peer is driven from a single goroutine: the host calls Poll regularly,
// which delivers transport status changes, completes handshakes and fills the
// inbound queue read by Get.
package peer

import (
	"crypto/rand"
	"fmt"
	"io"
	"math"
	"math/big"
	mrand "math/rand/v2"
	"slices"

	"github.com/1ureka/peerlink/internal/protocol"
	"github.com/1ureka/peerlink/internal/transport"
	"github.com/1ureka/peerlink/internal/util"
)

var log = util.NewLogger("peer")

// PeerID is the small integer the application uses to address a peer.
type PeerID int32

const (
	PeerBroadcast   PeerID = 0
	PeerServer      PeerID = 1
	PeerFirstClient PeerID = 2
	PeerUnassigned  PeerID = -1
)

// Mode is the role of the local instance.
type Mode int

const (
	ModeNone Mode = iota
	ModeServer
	ModeClient
)

func (m Mode) String() string {
	switch m {
	case ModeServer:
		return "server"
	case ModeClient:
		return "client"
	default:
		return "none"
	}
}

// ConnectionStatus is the status reported to the host.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

const (
	maxMessageBatch = 255 // per connection and Poll
	defaultChannel  = 0
)

// inboundPacket is a received envelope together with the peer id its sender
// had when it arrived.
type inboundPacket struct {
	env  *protocol.Envelope
	peer PeerID
}

// Peer is one participant of a session, acting as server or client.
type Peer struct {
	// NoNagle and NoDelay are added to the flags of every outgoing packet.
	NoNagle bool
	NoDelay bool

	svc      transport.Service
	registry *Registry
	options  []transport.Option

	mode         Mode
	status       ConnectionStatus
	uniqueID     PeerID
	listenSocket transport.ListenSocket

	// connectHandle is the client's connection to its server from
	// CreateClient until the registry takes it over or Close.
	connectHandle transport.Handle
	targetPeer   PeerID
	transferMode protocol.TransferMode

	inbound []inboundPacket

	onConnected    func(PeerID)
	onDisconnected func(PeerID)

	generateID func() PeerID
}

// New creates an inactive peer on top of svc and installs itself as the
// transport's status handler.
func New(svc transport.Service) *Peer {
	p := &Peer{
		svc:          svc,
		registry:     NewRegistry(svc),
		targetPeer:   PeerBroadcast,
		transferMode: protocol.TransferReliable,
		generateID:   generateUniqueID,
	}
	svc.SetStatusHandler(p.onStatusChanged)
	return p
}

// generateUniqueID picks a random client id in [2, MaxInt32].
func generateUniqueID() PeerID { return randomPeerID(rand.Reader) }

// randomPeerID draws a client id from src, falling back to math/rand/v2
// when src fails.
func randomPeerID(src io.Reader) PeerID {
	n, err := rand.Int(src, big.NewInt(math.MaxInt32-1))
	if err != nil {
		log.Warnf("random source failed, using math/rand for the peer id: %v", err)
		return PeerFirstClient + PeerID(mrand.Int32N(math.MaxInt32-1))
	}
	return PeerFirstClient + PeerID(n.Int64())
}

func (p *Peer) active() bool { return p.mode != ModeNone }

// CreateServer starts listening on the given virtual port and becomes peer 1.
func (p *Peer) CreateServer(port int) error {
	if p.active() {
		log.Errorf("the multiplayer instance is already active")
		return ErrAlreadyInUse
	}

	p.svc.InitRelayNetworkAccess()
	ls := p.svc.CreateListenSocket(port, p.Options())
	if ls == transport.InvalidListenSocket {
		return fmt.Errorf("%w on virtual port %d", ErrCantCreate, port)
	}

	p.listenSocket = ls
	p.uniqueID = PeerServer
	p.mode = ModeServer
	p.status = StatusConnected
	log.Infof("server listening on virtual port %d", port)
	return nil
}

// CreateClient starts connecting to the server at remote on the given
// virtual port. The connection completes during later Polls.
func (p *Peer) CreateClient(remote protocol.Identity, port int) error {
	if p.active() {
		log.Errorf("the multiplayer instance is already active")
		return ErrAlreadyInUse
	}

	id := p.generateID()
	p.svc.InitRelayNetworkAccess()
	h := p.svc.Connect(remote, port, p.Options())
	if h == transport.InvalidHandle {
		log.Errorf("failed to connect to %s; connection is invalid", remote)
		return fmt.Errorf("%w to %s on virtual port %d", ErrCantConnect, remote, port)
	}

	p.connectHandle = h
	p.uniqueID = id
	p.mode = ModeClient
	p.status = StatusConnecting
	log.Infof("connecting to %s on virtual port %d as peer %d", remote, port, id)
	return nil
}

// Poll delivers pending transport status changes, then receives and
// dispatches up to 255 messages from every connection.
func (p *Peer) Poll() {
	p.svc.RunCallbacks()

	for _, c := range p.registry.Snapshot() {
		if p.registry.Lookup(c.identity) != c {
			continue // removed by an earlier dispatch
		}
		msgs, err := p.svc.Receive(c.handle, maxMessageBatch)
		if err != nil {
			log.Warnf("receive from %s failed: %v", c.identity, err)
			continue
		}
		for _, m := range msgs {
			p.dispatch(m)
		}
	}
}

// Close flushes and closes every connection, closes the listen socket and
// returns the instance to the inactive state. Calling Close on an inactive
// peer does nothing.
func (p *Peer) Close() {
	if !p.active() {
		return
	}
	mode := p.mode
	p.mode = ModeNone
	log.Debugf("closing %s instance", mode)

	for _, c := range p.registry.Snapshot() {
		c.Flush()
	}
	p.registry.Clear()

	// A client still connecting has no registry entry yet.
	if p.connectHandle != transport.InvalidHandle {
		p.svc.CloseConnection(p.connectHandle, transport.EndAppGeneric, "Connection closed", false)
		p.connectHandle = transport.InvalidHandle
	}

	if p.listenSocket != transport.InvalidListenSocket {
		if !p.svc.CloseListenSocket(p.listenSocket) {
			log.Warnf("listen socket was already closed")
		}
		p.listenSocket = transport.InvalidListenSocket
	}

	clear(p.inbound)
	p.inbound = nil
	p.uniqueID = 0
	p.status = StatusDisconnected
	p.targetPeer = PeerBroadcast
}

// DisconnectPeer closes the connection to peer id. Unless force is set the
// connection is flushed first and closed with linger. A client that
// disconnects the server tears down the whole instance.
func (p *Peer) DisconnectPeer(id PeerID, force bool) {
	c := p.registry.LookupPeer(id)
	if c == nil {
		log.Warnf("disconnect: no peer with id %d", id)
		return
	}

	if !force {
		c.Flush()
	}
	if !c.Close(transport.EndAppGeneric, "Disconnected by peer", !force) {
		log.Warnf("disconnect: connection to peer %d was already closed", id)
	}
	p.registry.Remove(c.identity)

	if p.mode == ModeClient && id == PeerServer {
		p.Close()
	}
	p.emitDisconnected(id)
}

// UniqueID returns the local peer id: 1 for a server, the generated id for
// a client and 0 when inactive.
func (p *Peer) UniqueID() PeerID { return p.uniqueID }

func (p *Peer) IsServer() bool { return p.mode == ModeServer }

func (p *Peer) Mode() Mode { return p.mode }

func (p *Peer) ConnectionStatus() ConnectionStatus { return p.status }

// IsServerRelaySupported reports whether packets can reach other peers
// through the server, which holds for any active instance.
func (p *Peer) IsServerRelaySupported() bool { return p.active() }

// OnPeerConnected registers fn to be called when a handshake completes.
func (p *Peer) OnPeerConnected(fn func(PeerID)) { p.onConnected = fn }

// OnPeerDisconnected registers fn to be called when a peer goes away.
func (p *Peer) OnPeerDisconnected(fn func(PeerID)) { p.onDisconnected = fn }

// SetOptions replaces the transport options used by the next CreateServer or
// CreateClient. Options are passed through unmodified and in order.
func (p *Peer) SetOptions(opts []transport.Option) { p.options = slices.Clone(opts) }

func (p *Peer) Options() []transport.Option { return slices.Clone(p.options) }

// Peers returns the ids of every peer that completed the handshake.
func (p *Peer) Peers() []PeerID {
	conns := p.registry.Peers()
	ids := make([]PeerID, len(conns))
	for i, c := range conns {
		ids[i] = c.peerID
	}
	return ids
}

// RetryPending re-drains every connection's retry queue. Hosts call it when
// a transport reported backpressure and no new packet is being sent.
func (p *Peer) RetryPending() {
	for _, c := range p.registry.Peers() {
		if c.Pending() > 0 {
			c.Retry()
		}
	}
}

func (p *Peer) emitConnected(id PeerID) {
	log.Infof("peer %d connected", id)
	if p.onConnected != nil {
		p.onConnected(id)
	}
}

func (p *Peer) emitDisconnected(id PeerID) {
	log.Infof("peer %d disconnected", id)
	if p.onDisconnected != nil {
		p.onDisconnected(id)
	}
}
