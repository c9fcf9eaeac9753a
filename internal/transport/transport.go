// Package transport defines the session-oriented transport the peer layer
// runs on: listen sockets on virtual ports, connections keyed by a remote
// identity, framed reliable/unreliable messages and connection lifecycle
// notifications.
//
// Implementations are free to be concurrent internally, but they must queue
// status changes and deliver them only from RunCallbacks, on the caller's
// goroutine.
package transport

import (
	"errors"
	"fmt"

	"github.com/1ureka/peerlink/internal/protocol"
)

// Handle identifies one connection inside a Service. Zero is invalid.
type Handle uint32

// ListenSocket identifies one listen socket inside a Service. Zero is invalid.
type ListenSocket uint32

const (
	InvalidHandle       Handle       = 0
	InvalidListenSocket ListenSocket = 0
)

// ErrInvalidHandle is returned by Receive for unknown or closed handles.
var ErrInvalidHandle = errors.New("invalid connection handle")

// ConnState is the lifecycle state of a connection.
type ConnState int

const (
	StateNone ConnState = iota
	StateConnecting
	StateFindingRoute
	StateConnected
	StateClosedByPeer
	StateProblemDetectedLocally
)

func (s ConnState) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateConnecting:
		return "connecting"
	case StateFindingRoute:
		return "finding_route"
	case StateConnected:
		return "connected"
	case StateClosedByPeer:
		return "closed_by_peer"
	case StateProblemDetectedLocally:
		return "problem_detected_locally"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// StatusChange is the lifecycle notification delivered by RunCallbacks.
// ListenSocket is non-zero when the connection arrived on a local listen socket.
type StatusChange struct {
	Handle       Handle
	Identity     protocol.Identity
	ListenSocket ListenSocket
	Old          ConnState
	New          ConnState
}

// Result is the outcome of a transport call.
type Result int

const (
	ResultOK Result = iota
	ResultFail
	ResultNoConnection
	ResultInvalidParam
	ResultInvalidState
	ResultLimitExceeded
	ResultIgnored
	// ResultPending is never produced by a transport. The peer layer uses it
	// for an envelope that was queued behind a blocked reliable message and
	// has not been attempted yet.
	ResultPending
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultFail:
		return "fail"
	case ResultNoConnection:
		return "no connection"
	case ResultInvalidParam:
		return "invalid param"
	case ResultInvalidState:
		return "invalid state"
	case ResultLimitExceeded:
		return "limit exceeded"
	case ResultIgnored:
		return "ignored"
	case ResultPending:
		return "pending"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// EndReason is the application reason code given when closing a connection.
type EndReason int

const (
	EndAppGeneric          EndReason = 1000
	EndAppExceptionGeneric EndReason = 2000
)

// Option is a transport-specific tuning knob. The peer layer passes options
// through unmodified, in order.
type Option struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

// Message is one framed message received on a connection.
type Message struct {
	Identity protocol.Identity
	Payload  []byte
	Flags    protocol.SendFlags
}

// Service is the black-box transport the peer layer drives. No method blocks.
type Service interface {
	// Identity returns the local endpoint identity.
	Identity() protocol.Identity

	// InitRelayNetworkAccess prepares relay/NAT traversal. It may be a no-op.
	InitRelayNetworkAccess()

	CreateListenSocket(port int, opts []Option) ListenSocket
	CloseListenSocket(ls ListenSocket) bool

	// Connect starts connecting to remote on the given virtual port. The
	// returned handle is valid immediately; progress is reported through
	// status changes.
	Connect(remote protocol.Identity, port int, opts []Option) Handle

	// Accept accepts a connection announced by a none→connecting change.
	Accept(h Handle) Result

	// CloseConnection closes h. It reports false when h was not valid.
	CloseConnection(h Handle, reason EndReason, debug string, linger bool) bool

	Send(h Handle, data []byte, flags protocol.SendFlags) Result
	Receive(h Handle, max int) ([]Message, error)
	Flush(h Handle) Result

	// SetStatusHandler installs the lifecycle handler invoked by RunCallbacks.
	SetStatusHandler(fn func(StatusChange))

	// RunCallbacks delivers every queued status change to the handler.
	RunCallbacks()
}
