// Package loopback provides an in-process transport.Service. Endpoints on
// the same Network connect to each other by identity and virtual port;
// messages are delivered by copying them into the remote inbox. It is used
// by tests and by single-process demos.
package loopback

import (
	"sync"

	"github.com/1ureka/peerlink/internal/protocol"
	"github.com/1ureka/peerlink/internal/transport"
)

// SendHook can veto a send before delivery. Returning anything other than
// transport.ResultOK fails the send with that result.
type SendHook func(to protocol.Identity, data []byte, flags protocol.SendFlags) transport.Result

// Network is a set of endpoints that can reach each other.
type Network struct {
	mu        sync.Mutex
	endpoints map[protocol.Identity]*Endpoint
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{endpoints: make(map[protocol.Identity]*Endpoint)}
}

// Endpoint returns the endpoint for id, creating it on first use.
func (n *Network) Endpoint(id protocol.Identity) *Endpoint {
	n.mu.Lock()
	defer n.mu.Unlock()

	if e, ok := n.endpoints[id]; ok {
		return e
	}
	e := &Endpoint{
		net:     n,
		id:      id,
		ports:   make(map[int]transport.ListenSocket),
		sockets: make(map[transport.ListenSocket]int),
		conns:   make(map[transport.Handle]*link),
	}
	n.endpoints[id] = e
	return e
}

// link is one side of a loopback connection.
type link struct {
	owner  *Endpoint
	handle transport.Handle
	remote protocol.Identity
	socket transport.ListenSocket
	state  transport.ConnState
	peer   *link
	inbox  []transport.Message
}

// Endpoint is one transport.Service on a Network. All state is guarded by
// the network mutex.
type Endpoint struct {
	net *Network
	id  protocol.Identity

	lastHandle transport.Handle
	lastSocket transport.ListenSocket
	ports      map[int]transport.ListenSocket
	sockets    map[transport.ListenSocket]int
	conns      map[transport.Handle]*link
	pending    []transport.StatusChange
	handler    func(transport.StatusChange)
	hook       SendHook
	flushes    int
}

// Compile-time interface check.
var _ transport.Service = (*Endpoint)(nil)

func (e *Endpoint) Identity() protocol.Identity { return e.id }

func (e *Endpoint) InitRelayNetworkAccess() {}

func (e *Endpoint) CreateListenSocket(port int, _ []transport.Option) transport.ListenSocket {
	e.net.mu.Lock()
	defer e.net.mu.Unlock()

	if port < 0 {
		return transport.InvalidListenSocket
	}
	if _, taken := e.ports[port]; taken {
		return transport.InvalidListenSocket
	}
	e.lastSocket++
	e.ports[port] = e.lastSocket
	e.sockets[e.lastSocket] = port
	return e.lastSocket
}

func (e *Endpoint) CloseListenSocket(ls transport.ListenSocket) bool {
	e.net.mu.Lock()
	defer e.net.mu.Unlock()

	port, ok := e.sockets[ls]
	if !ok {
		return false
	}
	delete(e.sockets, ls)
	delete(e.ports, port)
	return true
}

func (e *Endpoint) Connect(remote protocol.Identity, port int, _ []transport.Option) transport.Handle {
	e.net.mu.Lock()
	defer e.net.mu.Unlock()

	local := e.newLink(remote, transport.InvalidListenSocket)
	local.setState(transport.StateConnecting)

	target := e.net.endpoints[remote]
	if target == nil {
		local.setState(transport.StateProblemDetectedLocally)
		return local.handle
	}
	ls, ok := target.ports[port]
	if !ok {
		local.setState(transport.StateProblemDetectedLocally)
		return local.handle
	}

	accepted := target.newLink(e.id, ls)
	local.peer, accepted.peer = accepted, local
	accepted.setState(transport.StateConnecting)
	return local.handle
}

func (e *Endpoint) Accept(h transport.Handle) transport.Result {
	e.net.mu.Lock()
	defer e.net.mu.Unlock()

	l, ok := e.conns[h]
	if !ok {
		return transport.ResultInvalidParam
	}
	if l.socket == transport.InvalidListenSocket || l.state != transport.StateConnecting {
		return transport.ResultInvalidState
	}
	if l.peer == nil {
		return transport.ResultNoConnection
	}
	l.setState(transport.StateConnected)
	l.peer.setState(transport.StateConnected)
	return transport.ResultOK
}

func (e *Endpoint) CloseConnection(h transport.Handle, _ transport.EndReason, _ string, _ bool) bool {
	e.net.mu.Lock()
	defer e.net.mu.Unlock()

	l, ok := e.conns[h]
	if !ok {
		return false
	}
	delete(e.conns, h)

	if p := l.peer; p != nil {
		p.peer = nil
		l.peer = nil
		if p.state == transport.StateConnecting || p.state == transport.StateConnected {
			p.setState(transport.StateClosedByPeer)
		}
	}
	return true
}

func (e *Endpoint) Send(h transport.Handle, data []byte, flags protocol.SendFlags) transport.Result {
	e.net.mu.Lock()
	defer e.net.mu.Unlock()

	l, ok := e.conns[h]
	if !ok {
		return transport.ResultInvalidParam
	}
	if l.state != transport.StateConnected || l.peer == nil {
		return transport.ResultNoConnection
	}
	if e.hook != nil {
		if res := e.hook(l.remote, data, flags); res != transport.ResultOK {
			return res
		}
	}

	payload := make([]byte, len(data))
	copy(payload, data)
	l.peer.inbox = append(l.peer.inbox, transport.Message{
		Identity: e.id,
		Payload:  payload,
		Flags:    flags,
	})
	return transport.ResultOK
}

func (e *Endpoint) Receive(h transport.Handle, max int) ([]transport.Message, error) {
	e.net.mu.Lock()
	defer e.net.mu.Unlock()

	l, ok := e.conns[h]
	if !ok {
		return nil, transport.ErrInvalidHandle
	}
	n := min(max, len(l.inbox))
	if n <= 0 {
		return nil, nil
	}
	out := make([]transport.Message, n)
	copy(out, l.inbox[:n])
	l.inbox = l.inbox[n:]
	return out, nil
}

func (e *Endpoint) Flush(h transport.Handle) transport.Result {
	e.net.mu.Lock()
	defer e.net.mu.Unlock()

	if _, ok := e.conns[h]; !ok {
		return transport.ResultInvalidParam
	}
	e.flushes++
	return transport.ResultOK
}

func (e *Endpoint) SetStatusHandler(fn func(transport.StatusChange)) {
	e.net.mu.Lock()
	defer e.net.mu.Unlock()
	e.handler = fn
}

// RunCallbacks delivers queued status changes, including those queued by
// the handler itself, until the queue is empty.
func (e *Endpoint) RunCallbacks() {
	for {
		e.net.mu.Lock()
		if len(e.pending) == 0 {
			e.net.mu.Unlock()
			return
		}
		change := e.pending[0]
		e.pending = e.pending[1:]
		handler := e.handler
		e.net.mu.Unlock()

		if handler != nil {
			handler(change)
		}
	}
}

// ---------------------------------------------------------------------------
// Test controls
// ---------------------------------------------------------------------------

// SetSendHook installs (or clears, with nil) a hook consulted on every send.
func (e *Endpoint) SetSendHook(hook SendHook) {
	e.net.mu.Lock()
	defer e.net.mu.Unlock()
	e.hook = hook
}

// Sever simulates a network failure on h: both sides observe
// problem_detected_locally. It reports false for unknown handles.
func (e *Endpoint) Sever(h transport.Handle) bool {
	e.net.mu.Lock()
	defer e.net.mu.Unlock()

	l, ok := e.conns[h]
	if !ok {
		return false
	}
	if p := l.peer; p != nil {
		p.peer = nil
		p.setState(transport.StateProblemDetectedLocally)
	}
	l.peer = nil
	l.setState(transport.StateProblemDetectedLocally)
	return true
}

// OpenConnections returns the number of handles not yet closed.
func (e *Endpoint) OpenConnections() int {
	e.net.mu.Lock()
	defer e.net.mu.Unlock()
	return len(e.conns)
}

// Listening reports whether a listen socket is bound to port.
func (e *Endpoint) Listening(port int) bool {
	e.net.mu.Lock()
	defer e.net.mu.Unlock()
	_, ok := e.ports[port]
	return ok
}

// Flushes returns how many successful Flush calls were made.
func (e *Endpoint) Flushes() int {
	e.net.mu.Lock()
	defer e.net.mu.Unlock()
	return e.flushes
}

// newLink allocates a handle; the caller holds the network mutex.
func (e *Endpoint) newLink(remote protocol.Identity, ls transport.ListenSocket) *link {
	e.lastHandle++
	l := &link{
		owner:  e,
		handle: e.lastHandle,
		remote: remote,
		socket: ls,
		state:  transport.StateNone,
	}
	e.conns[l.handle] = l
	return l
}

// setState records a transition and queues its notification on the owner.
func (l *link) setState(s transport.ConnState) {
	old := l.state
	if old == s {
		return
	}
	l.state = s
	l.owner.pending = append(l.owner.pending, transport.StatusChange{
		Handle:       l.handle,
		Identity:     l.remote,
		ListenSocket: l.socket,
		Old:          old,
		New:          s,
	})
}
