package peer

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/1ureka/peerlink/internal/protocol"
	"github.com/1ureka/peerlink/internal/transport"
	"github.com/1ureka/peerlink/internal/util"
)

// Registry is the bidirectional route table between remote identities and
// peer ids. Every connection in the peer-id index is also in the identity
// index, and both indices point at the same *Connection.
//
// The registry is accessed from the poll goroutine only and does no locking.
type Registry struct {
	svc        transport.Service
	self       protocol.Identity
	byIdentity map[protocol.Identity]*Connection
	byPeer     map[PeerID]*Connection
}

// NewRegistry creates an empty registry whose connections use svc.
func NewRegistry(svc transport.Service) *Registry {
	return &Registry{
		svc:        svc,
		self:       svc.Identity(),
		byIdentity: make(map[protocol.Identity]*Connection),
		byPeer:     make(map[PeerID]*Connection),
	}
}

// Add registers an unassigned connection for identity. It returns the
// existing connection when identity is already registered, and nil when
// identity is the local endpoint.
func (r *Registry) Add(identity protocol.Identity, handle transport.Handle) *Connection {
	if identity == r.self {
		log.Errorf("cannot add self (%s) as a new peer", identity)
		return nil
	}
	if c, ok := r.byIdentity[identity]; ok {
		return c
	}

	c := newConnection(r.svc, identity, handle)
	r.byIdentity[identity] = c
	util.Stats.AddConn()
	return c
}

// AssignPeerID binds id to the connection of identity. A connection keeps
// the first id it is given; later calls return ErrAlreadyAssigned and change
// nothing.
func (r *Registry) AssignPeerID(identity protocol.Identity, id PeerID) error {
	if id <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPeerID, id)
	}
	c, ok := r.byIdentity[identity]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownIdentity, identity)
	}
	if c.Assigned() {
		return ErrAlreadyAssigned
	}
	if other, taken := r.byPeer[id]; taken && other != c {
		return fmt.Errorf("%w: %d is held by %s", ErrPeerIDInUse, id, other.identity)
	}

	c.peerID = id
	r.byPeer[id] = c
	return nil
}

// Lookup returns the connection registered for identity, or nil.
func (r *Registry) Lookup(identity protocol.Identity) *Connection {
	return r.byIdentity[identity]
}

// LookupPeer returns the connection holding peer id, or nil.
func (r *Registry) LookupPeer(id PeerID) *Connection {
	return r.byPeer[id]
}

// PeerIDOf returns the peer id of identity, or PeerUnassigned when the
// identity is unknown or has not completed the handshake.
func (r *Registry) PeerIDOf(identity protocol.Identity) PeerID {
	if c, ok := r.byIdentity[identity]; ok {
		return c.peerID
	}
	return PeerUnassigned
}

// Remove deletes identity from both indices and releases its connection.
// It returns the removed connection, or nil when identity was unknown.
func (r *Registry) Remove(identity protocol.Identity) *Connection {
	c, ok := r.byIdentity[identity]
	if !ok {
		return nil
	}
	delete(r.byIdentity, identity)
	if c.Assigned() && r.byPeer[c.peerID] == c {
		delete(r.byPeer, c.peerID)
	}
	c.release()
	util.Stats.RemoveConn()
	return c
}

// Clear removes and releases every connection.
func (r *Registry) Clear() {
	for _, c := range r.Snapshot() {
		r.Remove(c.identity)
	}
}

// Len returns the number of registered connections, assigned or not.
func (r *Registry) Len() int { return len(r.byIdentity) }

// Snapshot returns every registered connection ordered by identity. The
// slice is a copy, so callers may add or remove while iterating it.
func (r *Registry) Snapshot() []*Connection {
	out := make([]*Connection, 0, len(r.byIdentity))
	for _, c := range r.byIdentity {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b *Connection) int { return cmp.Compare(a.identity, b.identity) })
	return out
}

// Peers returns the connections that completed the handshake, ordered by
// peer id.
func (r *Registry) Peers() []*Connection {
	out := make([]*Connection, 0, len(r.byPeer))
	for _, c := range r.byPeer {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b *Connection) int { return cmp.Compare(a.peerID, b.peerID) })
	return out
}
