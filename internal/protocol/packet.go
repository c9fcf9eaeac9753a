// Package protocol defines the packet envelope, delivery flags and the
// handshake ping format shared by the peer layer and the transports.
package protocol

import (
	"errors"
	"fmt"
)

// MaxPacketSize is the largest payload a single envelope may carry.
const MaxPacketSize = 512 * 1024

// ErrPacketTooLarge is returned when a payload exceeds MaxPacketSize.
var ErrPacketTooLarge = errors.New("packet exceeds maximum size")

// Identity is the opaque 64-bit endpoint identifier assigned by the transport.
type Identity uint64

func (id Identity) String() string {
	return fmt.Sprintf("%016x", uint64(id))
}

// SendFlags control how a transport delivers a message.
type SendFlags uint32

const (
	SendUnreliable SendFlags = 0
	SendNoNagle    SendFlags = 1 << 0
	SendNoDelay    SendFlags = 1 << 2
	SendReliable   SendFlags = 1 << 3
)

// Reliable reports whether the reliable bit is set.
func (f SendFlags) Reliable() bool {
	return f&SendReliable != 0
}

// TransferMode is the delivery mode selected by the application.
type TransferMode int

const (
	TransferReliable TransferMode = iota
	TransferUnreliable
)

func (m TransferMode) String() string {
	switch m {
	case TransferReliable:
		return "reliable"
	case TransferUnreliable:
		return "unreliable"
	default:
		return fmt.Sprintf("TransferMode(%d)", int(m))
	}
}

// Flags combines a transfer mode with the optional Nagle/delay modifiers.
func Flags(mode TransferMode, noNagle, noDelay bool) SendFlags {
	var flags SendFlags
	if noNagle {
		flags |= SendNoNagle
	}
	if noDelay {
		flags |= SendNoDelay
	}
	if mode == TransferUnreliable {
		return SendUnreliable | flags
	}
	return SendReliable | flags
}

// ModeOf maps delivery flags back to the transfer mode they encode.
func ModeOf(flags SendFlags) TransferMode {
	if flags.Reliable() {
		return TransferReliable
	}
	return TransferUnreliable
}

// Envelope is a payload together with its delivery flags. For inbound
// envelopes Sender holds the identity of the originating endpoint.
// Envelopes are never modified after construction.
type Envelope struct {
	payload []byte
	flags   SendFlags
	sender  Identity
}

// NewEnvelope builds an outbound envelope. Payloads larger than
// MaxPacketSize are rejected.
func NewEnvelope(payload []byte, flags SendFlags) (*Envelope, error) {
	if len(payload) > MaxPacketSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPacketTooLarge, len(payload), MaxPacketSize)
	}
	return &Envelope{payload: payload, flags: flags}, nil
}

// NewInbound builds an envelope for a message received from sender.
func NewInbound(payload []byte, flags SendFlags, sender Identity) (*Envelope, error) {
	env, err := NewEnvelope(payload, flags)
	if err != nil {
		return nil, err
	}
	env.sender = sender
	return env, nil
}

func (e *Envelope) Payload() []byte    { return e.payload }
func (e *Envelope) Flags() SendFlags   { return e.flags }
func (e *Envelope) Sender() Identity   { return e.sender }
func (e *Envelope) Reliable() bool     { return e.flags.Reliable() }
func (e *Envelope) Mode() TransferMode { return ModeOf(e.flags) }
