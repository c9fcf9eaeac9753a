package peer

import "github.com/1ureka/peerlink/internal/protocol"

// MultiplayerPeer is the packet contract a game host drives. *Peer is its
// only implementation.
type MultiplayerPeer interface {
	Get() ([]byte, error)
	Put(buf []byte) error
	AvailablePacketCount() int
	MaxPacketSize() int

	SetTransferMode(mode protocol.TransferMode)
	TransferMode() protocol.TransferMode
	SetTransferChannel(channel int)
	TransferChannel() int
	SetTargetPeer(id PeerID)

	PacketPeer() PeerID
	PacketChannel() int
	PacketMode() protocol.TransferMode

	Poll()
	Close()
	DisconnectPeer(id PeerID, force bool)

	IsServer() bool
	UniqueID() PeerID
	ConnectionStatus() ConnectionStatus
	IsServerRelaySupported() bool

	OnPeerConnected(fn func(PeerID))
	OnPeerDisconnected(fn func(PeerID))
}

var _ MultiplayerPeer = (*Peer)(nil)
