package peer

import (
	"errors"
	"fmt"

	"github.com/1ureka/peerlink/internal/transport"
)

// Usage errors returned by the host-facing API.
var (
	ErrAlreadyInUse = errors.New("multiplayer instance is already active")
	ErrCantCreate   = errors.New("failed to create listen socket")
	ErrCantConnect  = errors.New("failed to connect")
	ErrUnconfigured = errors.New("peer is not configured for sending")
	ErrUnavailable  = errors.New("no packet available")
)

// Registry errors. Callers treat them as protocol anomalies: they are logged,
// never propagated across Poll.
var (
	ErrUnknownIdentity = errors.New("identity is not registered")
	ErrAlreadyAssigned = errors.New("connection already has a peer id")
	ErrPeerIDInUse     = errors.New("peer id is already in use")
	ErrInvalidPeerID   = errors.New("invalid peer id")
)

// SendError reports a transport failure for a packet addressed to Peer.
type SendError struct {
	Peer   PeerID
	Result transport.Result
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to peer %d failed: %s", e.Peer, e.Result)
}
