// Package signaling carries the WebSocket exchange that sets up a WebRTC
// connection between two endpoints: a hello naming the virtual port, then
// SDP offer/answer and trickled ICE candidates.
package signaling

import (
	"errors"
	"fmt"

	"github.com/1ureka/peerlink/internal/protocol"
)

// MessageType identifies the kind of signaling message.
type MessageType string

const (
	MsgTypeHello     MessageType = "hello"
	MsgTypeOffer     MessageType = "offer"
	MsgTypeAnswer    MessageType = "answer"
	MsgTypeCandidate MessageType = "candidate"
	MsgTypeReject    MessageType = "reject"
)

// ErrRejected is returned when the remote side refuses the connection.
var ErrRejected = errors.New("connection rejected by remote")

// Message is the JSON structure exchanged over the WebSocket during signaling.
type Message struct {
	Type      MessageType       `json:"type"`
	Identity  protocol.Identity `json:"identity,omitempty"` // sender, in hello
	Target    protocol.Identity `json:"target,omitempty"`   // expected receiver, in hello
	Port      int               `json:"port,omitempty"`     // virtual port, in hello
	SDP       string            `json:"sdp,omitempty"`
	Candidate string            `json:"candidate,omitempty"` // JSON-encoded ICECandidateInit
	Reason    string            `json:"reason,omitempty"`    // in reject
}

// Hello builds the first message a dialer sends.
func Hello(from, to protocol.Identity, port int) Message {
	return Message{Type: MsgTypeHello, Identity: from, Target: to, Port: port}
}

// Reject builds a rejection with the given reason.
func Reject(reason string) Message {
	return Message{Type: MsgTypeReject, Reason: reason}
}

// Validate checks the fields required by the message type.
func (m Message) Validate() error {
	switch m.Type {
	case MsgTypeHello:
		if m.Identity == 0 {
			return fmt.Errorf("hello without identity")
		}
		if m.Port < 0 {
			return fmt.Errorf("hello with negative port %d", m.Port)
		}
	case MsgTypeOffer, MsgTypeAnswer:
		if m.SDP == "" {
			return fmt.Errorf("%s without sdp", m.Type)
		}
	case MsgTypeCandidate:
		if m.Candidate == "" {
			return fmt.Errorf("candidate message is empty")
		}
	case MsgTypeReject:
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	return nil
}
