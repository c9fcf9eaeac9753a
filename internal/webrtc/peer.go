// Package webrtc implements transport.Service on top of WebRTC data
// channels. Connections are set up through the signaling package; each one
// carries a reliable ordered channel and an unreliable unordered channel.
package webrtc

import (
	"strings"

	"github.com/pion/webrtc/v4"
)

const (
	reliableLabel   = "reliable"
	unreliableLabel = "unreliable"
)

// iceServers turns configured URLs into pion ICE servers. A TURN URL may
// carry credentials as "user:pass@turn:host:port". With no URLs only host
// candidates are gathered, which is enough on one machine or LAN.
func iceServers(urls []string) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(urls))
	for _, raw := range urls {
		server := webrtc.ICEServer{URLs: []string{raw}}
		if cred, url, ok := strings.Cut(raw, "@"); ok && strings.HasPrefix(url, "turn") {
			user, pass, _ := strings.Cut(cred, ":")
			server = webrtc.ICEServer{URLs: []string{url}, Username: user, Credential: pass}
		}
		servers = append(servers, server)
	}
	return servers
}

// newPeerConnection creates a PeerConnection using the given ICE servers.
// Loopback candidates are included so endpoints on one machine can connect.
func newPeerConnection(urls []string) (*webrtc.PeerConnection, error) {
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return api.NewPeerConnection(webrtc.Configuration{
		ICEServers: iceServers(urls),
	})
}

// newDataChannels creates the two pre-negotiated channels of a connection.
// Negotiated mode with fixed IDs lets both sides create them independently
// without relying on OnDataChannel.
func newDataChannels(pc *webrtc.PeerConnection) (reliable, unreliable *webrtc.DataChannel, err error) {
	negotiated := true

	ordered := true
	reliableID := uint16(0)
	reliable, err = pc.CreateDataChannel(reliableLabel, &webrtc.DataChannelInit{
		Ordered:    &ordered,
		Negotiated: &negotiated,
		ID:         &reliableID,
	})
	if err != nil {
		return nil, nil, err
	}

	unordered := false
	maxRetransmits := uint16(0)
	unreliableID := uint16(1)
	unreliable, err = pc.CreateDataChannel(unreliableLabel, &webrtc.DataChannelInit{
		Ordered:        &unordered,
		MaxRetransmits: &maxRetransmits,
		Negotiated:     &negotiated,
		ID:             &unreliableID,
	})
	if err != nil {
		reliable.Close()
		return nil, nil, err
	}

	return reliable, unreliable, nil
}
