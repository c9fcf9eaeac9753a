package webrtc_test

import (
	"context"
	"testing"
	"time"

	"github.com/1ureka/peerlink/internal/peer"
	"github.com/1ureka/peerlink/internal/protocol"
	"github.com/1ureka/peerlink/internal/webrtc"
)

// TestPeerSession runs a full server/client session over local WebRTC:
// signaling on 127.0.0.1, host ICE candidates only.
func TestPeerSession(t *testing.T) {
	if testing.Short() {
		t.Skip("sets up real WebRTC connections")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverSvc := webrtc.New(ctx, webrtc.Config{Identity: 0xa, SignalAddr: "127.0.0.1:0"})
	defer serverSvc.Close()
	server := peer.New(serverSvc)
	if err := server.CreateServer(10); err != nil {
		t.Fatalf("CreateServer: %v", err)
	}

	clientSvc := webrtc.New(ctx, webrtc.Config{
		Identity:  0xb,
		Directory: map[protocol.Identity]string{0xa: "ws://" + serverSvc.SignalAddress() + "/ws"},
	})
	defer clientSvc.Close()
	client := peer.New(clientSvc)

	var serverSaw, clientSaw peer.PeerID
	server.OnPeerConnected(func(id peer.PeerID) { serverSaw = id })
	client.OnPeerConnected(func(id peer.PeerID) { clientSaw = id })

	if err := client.CreateClient(0xa, 10); err != nil {
		t.Fatalf("CreateClient: %v", err)
	}

	poll := func(cond func() bool) {
		t.Helper()
		deadline := time.Now().Add(20 * time.Second)
		for time.Now().Before(deadline) {
			server.Poll()
			client.Poll()
			if cond() {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
		t.Fatal("session did not make progress within 20s")
	}

	poll(func() bool { return serverSaw != 0 && clientSaw != 0 })
	if serverSaw != client.UniqueID() || clientSaw != peer.PeerServer {
		t.Fatalf("server saw %d (client is %d), client saw %d", serverSaw, client.UniqueID(), clientSaw)
	}

	client.SetTargetPeer(peer.PeerServer)
	if err := client.Put([]byte("ping over sctp")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	poll(func() bool { return server.AvailablePacketCount() > 0 })

	if server.PacketPeer() != client.UniqueID() {
		t.Fatalf("PacketPeer = %d", server.PacketPeer())
	}
	data, err := server.Get()
	if err != nil || string(data) != "ping over sctp" {
		t.Fatalf("Get = %q, %v", data, err)
	}

	server.SetTransferMode(protocol.TransferUnreliable)
	if err := server.Put([]byte("to everyone")); err != nil {
		t.Fatalf("broadcast Put: %v", err)
	}
	poll(func() bool { return client.AvailablePacketCount() > 0 })
	if client.PacketMode() != protocol.TransferUnreliable {
		t.Fatalf("PacketMode = %s", client.PacketMode())
	}

	var gone peer.PeerID
	client.OnPeerDisconnected(func(id peer.PeerID) { gone = id })
	server.DisconnectPeer(client.UniqueID(), false)
	poll(func() bool { return gone == peer.PeerServer })
}
