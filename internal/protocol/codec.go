package protocol

import (
	"encoding/binary"
	"fmt"
)

// PingSize is the fixed size of a handshake ping: PeerID(4), little-endian.
const PingSize = 4

// EncodePing serializes a handshake ping carrying peerID.
func EncodePing(peerID uint32) []byte {
	buf := make([]byte, PingSize)
	binary.LittleEndian.PutUint32(buf, peerID)
	return buf
}

// DecodePing extracts the peer id from a handshake ping.
func DecodePing(data []byte) (uint32, error) {
	if len(data) != PingSize {
		return 0, fmt.Errorf("invalid ping size: %d bytes (want %d)", len(data), PingSize)
	}
	return binary.LittleEndian.Uint32(data), nil
}

// NewPing builds the reliable envelope used to announce peerID.
func NewPing(peerID uint32) *Envelope {
	return &Envelope{payload: EncodePing(peerID), flags: SendReliable}
}
