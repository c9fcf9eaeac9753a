package signaling

import (
	"github.com/pion/webrtc/v4"
)

// sender produces local descriptions and writes them to the WebSocket.
type sender struct {
	pc   *webrtc.PeerConnection
	conn *Conn
}

// sendOffer creates an SDP offer, sets it as local description, and sends it.
func (s *sender) sendOffer() error {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return err
	}

	if err := s.pc.SetLocalDescription(offer); err != nil {
		return err
	}

	return s.conn.Send(Message{Type: MsgTypeOffer, SDP: offer.SDP})
}

// sendAnswer creates an SDP answer, sets it as local description, and sends it.
func (s *sender) sendAnswer() error {
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return err
	}

	if err := s.pc.SetLocalDescription(answer); err != nil {
		return err
	}

	return s.conn.Send(Message{Type: MsgTypeAnswer, SDP: answer.SDP})
}

// sendCandidate sends an ICE candidate message over the WebSocket.
func (s *sender) sendCandidate(candidate string) error {
	return s.conn.Send(Message{Type: MsgTypeCandidate, Candidate: candidate})
}
