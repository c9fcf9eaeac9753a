package signaling

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Offer performs the SDP/ICE exchange on the dialing side:
//   - Create an Offer and send it via WS
//   - Receive the Answer and ICE candidates
//   - Block until ready is closed or an error occurs
//
// conn is closed when Offer returns.
func Offer(ctx context.Context, conn *Conn, pc *webrtc.PeerConnection, ready <-chan struct{}) error {
	return exchange(ctx, conn, pc, ready, true)
}

// Answer performs the SDP/ICE exchange on the listening side:
//   - Receive the Offer
//   - Create an Answer and send it via WS
//   - Exchange ICE candidates until ready is closed or an error occurs
//
// conn is closed when Answer returns.
func Answer(ctx context.Context, conn *Conn, pc *webrtc.PeerConnection, ready <-chan struct{}) error {
	return exchange(ctx, conn, pc, ready, false)
}

func exchange(ctx context.Context, conn *Conn, pc *webrtc.PeerConnection, ready <-chan struct{}, offerer bool) error {
	defer conn.Close()

	s := &sender{pc: pc, conn: conn}
	r := &receiver{pc: pc, conn: conn, sender: s}

	// Trickle ICE candidates.
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, _ := json.Marshal(c.ToJSON())
		// Error intentionally ignored: sendCandidate is best-effort.
		s.sendCandidate(string(data))
	})

	// Exits when conn is closed (deferred above).
	errCh := make(chan error, 1)
	go func() {
		errCh <- r.watch()
	}()

	if offerer {
		if err := s.sendOffer(); err != nil {
			return fmt.Errorf("failed to send offer: %w", err)
		}
	}

	select {
	case <-ready:
		return nil

	case err := <-errCh:
		// If WS closed because ready already fired, that's fine.
		select {
		case <-ready:
			return nil
		default:
			return fmt.Errorf("signaling failed: %w", err)
		}

	case <-ctx.Done():
		return ctx.Err()
	}
}
