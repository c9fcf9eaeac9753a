package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// receiver applies remote signaling messages to the PeerConnection.
// Candidates that arrive before the remote description are held back and
// added once it is set.
type receiver struct {
	pc      *webrtc.PeerConnection
	conn    *Conn
	sender  *sender
	pending []webrtc.ICECandidateInit
}

// watch reads messages until the socket fails or the remote rejects.
func (r *receiver) watch() error {
	for {
		msg, err := r.conn.Receive()
		if err != nil {
			return fmt.Errorf("failed to read WS message: %w", err)
		}

		switch msg.Type {
		case MsgTypeOffer:
			if err := r.setRemote(webrtc.SDPTypeOffer, msg.SDP); err != nil {
				return err
			}
			if err := r.sender.sendAnswer(); err != nil {
				return err
			}

		case MsgTypeAnswer:
			if err := r.setRemote(webrtc.SDPTypeAnswer, msg.SDP); err != nil {
				return err
			}

		case MsgTypeCandidate:
			var init webrtc.ICECandidateInit
			if err := json.Unmarshal([]byte(msg.Candidate), &init); err != nil {
				return fmt.Errorf("failed to parse ICE candidate: %w", err)
			}
			if r.pc.RemoteDescription() == nil {
				r.pending = append(r.pending, init)
				continue
			}
			if err := r.pc.AddICECandidate(init); err != nil {
				return err
			}

		case MsgTypeReject:
			return fmt.Errorf("%w: %s", ErrRejected, msg.Reason)
		}
	}
}

func (r *receiver) setRemote(typ webrtc.SDPType, sdp string) error {
	if err := r.pc.SetRemoteDescription(webrtc.SessionDescription{Type: typ, SDP: sdp}); err != nil {
		return fmt.Errorf("SetRemoteDescription: %w", err)
	}
	for _, init := range r.pending {
		if err := r.pc.AddICECandidate(init); err != nil {
			return err
		}
	}
	r.pending = nil
	return nil
}
