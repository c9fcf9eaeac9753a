package peer

import (
	"bytes"
	cryptorand "crypto/rand"
	"errors"
	"io"
	"slices"
	"testing"

	"github.com/1ureka/peerlink/internal/protocol"
	"github.com/1ureka/peerlink/internal/transport"
	"github.com/1ureka/peerlink/internal/transport/loopback"
)

const (
	clientA protocol.Identity = 0x2001
	clientB protocol.Identity = 0x2002
	clientC protocol.Identity = 0x2003
)

// ---------------------------------------------------------------------------
// Handshake
// ---------------------------------------------------------------------------

// TestHandshake verifies that a client announcing id 5 ends up as peer 5 on
// the server and sees the server as peer 1.
func TestHandshake(t *testing.T) {
	n := loopback.NewNetwork()
	server, _ := newServer(t, n)
	sev := record(server)
	client, _ := newClient(t, n, clientA, 5)
	cev := record(client)

	if client.ConnectionStatus() != StatusConnecting {
		t.Fatalf("client status = %s before poll", client.ConnectionStatus())
	}
	pollAll(server, client)

	if !slices.Equal(sev.connected, []PeerID{5}) {
		t.Fatalf("server connected events = %v, want [5]", sev.connected)
	}
	if !slices.Equal(cev.connected, []PeerID{1}) {
		t.Fatalf("client connected events = %v, want [1]", cev.connected)
	}
	if got := server.registry.PeerIDOf(clientA); got != 5 {
		t.Fatalf("server resolves client as %d", got)
	}
	if got := client.registry.PeerIDOf(serverIdentity); got != PeerServer {
		t.Fatalf("client resolves server as %d", got)
	}
	if client.ConnectionStatus() != StatusConnected || client.UniqueID() != 5 {
		t.Fatalf("client status %s id %d", client.ConnectionStatus(), client.UniqueID())
	}
	if !server.IsServer() || server.UniqueID() != PeerServer {
		t.Fatal("server lost its role")
	}
	if client.IsServer() {
		t.Fatal("client reports server role")
	}
}

// TestPacketFromClient covers a two-byte packet from peer 5 to the server
// listening on virtual port 10.
func TestPacketFromClient(t *testing.T) {
	n := loopback.NewNetwork()
	server, _ := newServer(t, n)
	client, _ := newClient(t, n, clientA, 5)
	pollAll(server, client)

	client.SetTargetPeer(PeerServer)
	if err := client.Put([]byte{0x01, 0x02}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	server.Poll()

	if got := server.PacketPeer(); got != 5 {
		t.Fatalf("PacketPeer = %d, want 5", got)
	}
	if got := server.AvailablePacketCount(); got != 1 {
		t.Fatalf("AvailablePacketCount = %d, want 1", got)
	}
	if got := mustGet(t, server); !bytes.Equal(got, []byte{0x01, 0x02}) {
		t.Fatalf("Get = %v", got)
	}
	if got := server.AvailablePacketCount(); got != 0 {
		t.Fatalf("AvailablePacketCount = %d after Get, want 0", got)
	}
}

func TestTransferModeTravelsWithPacket(t *testing.T) {
	n := loopback.NewNetwork()
	server, _ := newServer(t, n)
	client, _ := newClient(t, n, clientA, 5)
	pollAll(server, client)

	client.SetTransferMode(protocol.TransferUnreliable)
	client.NoDelay = true
	if err := client.Put([]byte("fast")); err != nil {
		t.Fatal(err)
	}
	client.SetTransferMode(protocol.TransferReliable)
	if err := client.Put([]byte("safe")); err != nil {
		t.Fatal(err)
	}
	server.Poll()

	if server.PacketMode() != protocol.TransferUnreliable {
		t.Fatalf("first packet mode = %s", server.PacketMode())
	}
	mustGet(t, server)
	if server.PacketMode() != protocol.TransferReliable {
		t.Fatalf("second packet mode = %s", server.PacketMode())
	}
	if server.PacketChannel() != 0 || server.TransferChannel() != 0 {
		t.Fatal("channel is not constant")
	}
}

// TestRawHandshake drives the server with a bare endpoint to check how
// messages are read before and after the handshake.
func TestRawHandshake(t *testing.T) {
	n := loopback.NewNetwork()
	server, _ := newServer(t, n)
	sev := record(server)

	raw := n.Endpoint(clientA)
	h := raw.Connect(serverIdentity, serverPort, nil)
	server.Poll()
	raw.RunCallbacks()

	tests := []struct {
		name    string
		payload []byte
	}{
		{"short", []byte{1, 2, 3}},
		{"long", []byte{1, 2, 3, 4, 5}},
		{"zero id", protocol.EncodePing(0)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if res := raw.Send(h, tc.payload, protocol.SendReliable); res != transport.ResultOK {
				t.Fatalf("Send = %s", res)
			}
			server.Poll()
			if server.registry.PeerIDOf(clientA) != PeerUnassigned || len(sev.connected) != 0 {
				t.Fatal("malformed ping was accepted")
			}
			if server.AvailablePacketCount() != 0 {
				t.Fatal("handshake message reached the inbound queue")
			}
		})
	}

	raw.Send(h, protocol.EncodePing(7), protocol.SendReliable)
	server.Poll()
	if !slices.Equal(sev.connected, []PeerID{7}) {
		t.Fatalf("connected events = %v, want [7]", sev.connected)
	}

	msgs, err := raw.Receive(h, 10)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("Receive = %v, %v", msgs, err)
	}
	if id, _ := protocol.DecodePing(msgs[0].Payload); id != 1 {
		t.Fatalf("server replied with %d, want 1", id)
	}

	// Now assigned, a four-byte payload is data, not a ping.
	raw.Send(h, protocol.EncodePing(9), protocol.SendReliable)
	server.Poll()
	if server.PacketPeer() != 7 || server.AvailablePacketCount() != 1 {
		t.Fatalf("data from peer 7 not queued: peer %d count %d", server.PacketPeer(), server.AvailablePacketCount())
	}
	if len(sev.connected) != 1 {
		t.Fatal("second ping re-announced the peer")
	}
}

func TestServerRejectsReservedAndDuplicateIDs(t *testing.T) {
	n := loopback.NewNetwork()
	server, serverEP := newServer(t, n)
	sev := record(server)

	first, _ := newClient(t, n, clientA, 5)
	dup, _ := newClient(t, n, clientB, 5)
	reserved, _ := newClient(t, n, clientC, 1)
	pollAll(server, first, dup, reserved)

	if !slices.Equal(sev.connected, []PeerID{5}) {
		t.Fatalf("connected events = %v, want [5]", sev.connected)
	}
	if server.registry.Len() != 1 || serverEP.OpenConnections() != 1 {
		t.Fatalf("server keeps %d connections, %d handles", server.registry.Len(), serverEP.OpenConnections())
	}
	for _, c := range []*Peer{dup, reserved} {
		if c.ConnectionStatus() != StatusDisconnected {
			t.Fatalf("rejected client status = %s", c.ConnectionStatus())
		}
	}
	if first.ConnectionStatus() != StatusConnected {
		t.Fatal("accepted client was disturbed")
	}
}

// ---------------------------------------------------------------------------
// Routing
// ---------------------------------------------------------------------------

// TestBroadcastPartialFailure verifies that broadcast attempts every peer
// and reports the failure even though other sends succeeded.
func TestBroadcastPartialFailure(t *testing.T) {
	n := loopback.NewNetwork()
	server, serverEP := newServer(t, n)
	a, _ := newClient(t, n, clientA, 5)
	b, _ := newClient(t, n, clientB, 6)
	c, _ := newClient(t, n, clientC, 7)
	pollAll(server, a, b, c)

	var attempted []protocol.Identity
	serverEP.SetSendHook(func(to protocol.Identity, _ []byte, _ protocol.SendFlags) transport.Result {
		attempted = append(attempted, to)
		if to == clientB {
			return transport.ResultFail
		}
		return transport.ResultOK
	})

	server.SetTransferMode(protocol.TransferUnreliable)
	err := server.Put([]byte("hello"))

	var sendErr *SendError
	if !errors.As(err, &sendErr) {
		t.Fatalf("Put error = %v, want *SendError", err)
	}
	if sendErr.Peer != 6 || sendErr.Result != transport.ResultFail {
		t.Fatalf("SendError = %+v", sendErr)
	}
	if len(attempted) != 3 {
		t.Fatalf("attempted %v, want all three peers", attempted)
	}

	pollAll(a, b, c)
	for _, p := range []*Peer{a, c} {
		if p.PacketPeer() != PeerServer {
			t.Fatalf("packet from peer %d, want the server", p.PacketPeer())
		}
		if got := mustGet(t, p); string(got) != "hello" {
			t.Fatalf("client got %q", got)
		}
	}
	if b.AvailablePacketCount() != 0 {
		t.Fatal("failed peer received the packet")
	}
}

func TestBroadcastSkipsHandshakingPeers(t *testing.T) {
	n := loopback.NewNetwork()
	server, serverEP := newServer(t, n)
	a, _ := newClient(t, n, clientA, 5)
	pollAll(server, a)

	// A bare endpoint connects but never pings.
	raw := n.Endpoint(clientB)
	h := raw.Connect(serverIdentity, serverPort, nil)
	server.Poll()

	if server.registry.Len() != 2 {
		t.Fatalf("registry has %d connections, want 2", server.registry.Len())
	}
	var sent int
	serverEP.SetSendHook(func(protocol.Identity, []byte, protocol.SendFlags) transport.Result {
		sent++
		return transport.ResultOK
	})
	if err := server.Put([]byte("x")); err != nil {
		t.Fatal(err)
	}
	if sent != 1 {
		t.Fatalf("broadcast sent %d copies, want 1", sent)
	}
	if msgs, _ := raw.Receive(h, 10); len(msgs) != 0 {
		t.Fatal("handshaking connection received data")
	}
}

func TestPutErrors(t *testing.T) {
	n := loopback.NewNetwork()

	idle := New(n.Endpoint(0x9999))
	if err := idle.Put([]byte("x")); !errors.Is(err, ErrUnconfigured) {
		t.Fatalf("inactive Put = %v", err)
	}

	server, _ := newServer(t, n)
	client, _ := newClient(t, n, clientA, 5)
	if err := client.Put([]byte("x")); !errors.Is(err, ErrUnconfigured) {
		t.Fatalf("connecting Put = %v", err)
	}
	pollAll(server, client)

	tests := []struct {
		name   string
		target PeerID
		size   int
		want   error
	}{
		{"negative target", -5, 1, ErrUnconfigured},
		{"unknown target", 42, 1, ErrUnconfigured},
		{"too large", PeerBroadcast, protocol.MaxPacketSize + 1, protocol.ErrPacketTooLarge},
		{"max size", 5, protocol.MaxPacketSize, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server.SetTargetPeer(tc.target)
			err := server.Put(make([]byte, tc.size))
			if !errors.Is(err, tc.want) {
				t.Fatalf("Put = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestGetEmpty(t *testing.T) {
	p := New(loopback.NewNetwork().Endpoint(1))

	if _, err := p.Get(); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Get = %v, want ErrUnavailable", err)
	}
	if p.PacketPeer() != PeerServer || p.PacketMode() != protocol.TransferReliable {
		t.Fatal("empty queue defaults changed")
	}
	if p.MaxPacketSize() != protocol.MaxPacketSize {
		t.Fatalf("MaxPacketSize = %d", p.MaxPacketSize())
	}
	if p.IsServerRelaySupported() {
		t.Fatal("relay reported as supported")
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func TestCreateErrors(t *testing.T) {
	n := loopback.NewNetwork()
	server, _ := newServer(t, n)

	if err := server.CreateServer(serverPort + 1); !errors.Is(err, ErrAlreadyInUse) {
		t.Fatalf("second CreateServer = %v", err)
	}
	if err := server.CreateClient(clientA, serverPort); !errors.Is(err, ErrAlreadyInUse) {
		t.Fatalf("CreateClient on server = %v", err)
	}

	other := New(n.Endpoint(serverIdentity))
	if err := other.CreateServer(serverPort); !errors.Is(err, ErrCantCreate) {
		t.Fatalf("CreateServer on taken port = %v", err)
	}
	if other.UniqueID() != 0 || other.Mode() != ModeNone {
		t.Fatal("failed CreateServer left state behind")
	}
}

// TestDisconnectPeer verifies that disconnecting peer 5 removes it from both
// indices while the server keeps listening.
func TestDisconnectPeer(t *testing.T) {
	n := loopback.NewNetwork()
	server, serverEP := newServer(t, n)
	sev := record(server)
	client, _ := newClient(t, n, clientA, 5)
	cev := record(client)
	pollAll(server, client)

	server.DisconnectPeer(5, false)

	if server.registry.LookupPeer(5) != nil || server.registry.Lookup(clientA) != nil {
		t.Fatal("peer 5 still indexed")
	}
	if !slices.Equal(sev.disconnected, []PeerID{5}) {
		t.Fatalf("disconnected events = %v, want [5]", sev.disconnected)
	}
	if !serverEP.Listening(serverPort) || !server.IsServer() {
		t.Fatal("server stopped listening")
	}
	if serverEP.Flushes() == 0 {
		t.Fatal("graceful disconnect did not flush")
	}
	if serverEP.OpenConnections() != 0 {
		t.Fatalf("%d handles left open", serverEP.OpenConnections())
	}

	client.Poll()
	if !slices.Equal(cev.disconnected, []PeerID{1}) {
		t.Fatalf("client disconnected events = %v, want [1]", cev.disconnected)
	}
	if client.ConnectionStatus() != StatusDisconnected || client.UniqueID() != 0 {
		t.Fatal("client did not tear down")
	}

	// Unknown ids are ignored.
	server.DisconnectPeer(5, true)
	if len(sev.disconnected) != 1 {
		t.Fatal("second disconnect emitted an event")
	}
}

func TestClientDisconnectsServer(t *testing.T) {
	n := loopback.NewNetwork()
	server, _ := newServer(t, n)
	sev := record(server)
	client, clientEP := newClient(t, n, clientA, 5)
	cev := record(client)
	pollAll(server, client)

	client.DisconnectPeer(PeerServer, true)
	if client.Mode() != ModeNone || clientEP.OpenConnections() != 0 {
		t.Fatal("client kept its session")
	}
	if !slices.Equal(cev.disconnected, []PeerID{1}) {
		t.Fatalf("client events = %v", cev.disconnected)
	}

	server.Poll()
	if !slices.Equal(sev.disconnected, []PeerID{5}) {
		t.Fatalf("server events = %v, want [5]", sev.disconnected)
	}
}

// TestSeveredConnection simulates a network failure: the client tears down
// and the server drops only that peer.
func TestSeveredConnection(t *testing.T) {
	n := loopback.NewNetwork()
	server, serverEP := newServer(t, n)
	sev := record(server)
	client, clientEP := newClient(t, n, clientA, 5)
	cev := record(client)
	other, _ := newClient(t, n, clientB, 6)
	pollAll(server, client, other)

	h := client.registry.Lookup(serverIdentity).Handle()
	if !clientEP.Sever(h) {
		t.Fatal("Sever failed")
	}
	pollAll(server, client, other)

	if !slices.Equal(cev.disconnected, []PeerID{1}) || client.Mode() != ModeNone {
		t.Fatalf("client events %v mode %s", cev.disconnected, client.Mode())
	}
	if clientEP.OpenConnections() != 0 {
		t.Fatal("client leaked its handle")
	}
	if !slices.Equal(sev.disconnected, []PeerID{5}) {
		t.Fatalf("server events = %v, want [5]", sev.disconnected)
	}
	if server.registry.Len() != 1 || !serverEP.Listening(serverPort) {
		t.Fatal("server lost more than the severed peer")
	}
	if other.ConnectionStatus() != StatusConnected {
		t.Fatal("other client was disturbed")
	}
}

func TestConnectWithoutListener(t *testing.T) {
	n := loopback.NewNetwork()
	client, clientEP := newClient(t, n, clientA, 5)
	cev := record(client)

	client.Poll()

	if client.Mode() != ModeNone || client.ConnectionStatus() != StatusDisconnected {
		t.Fatalf("client mode %s status %s", client.Mode(), client.ConnectionStatus())
	}
	if len(cev.disconnected) != 0 {
		t.Fatal("never-connected client emitted peer-disconnected")
	}
	if clientEP.OpenConnections() != 0 {
		t.Fatal("failed connect leaked its handle")
	}
}

func TestCloseServer(t *testing.T) {
	n := loopback.NewNetwork()
	server, serverEP := newServer(t, n)
	a, _ := newClient(t, n, clientA, 5)
	b, _ := newClient(t, n, clientB, 6)
	pollAll(server, a, b)

	a.SetTargetPeer(PeerServer)
	a.Put([]byte("pending"))
	server.Poll()

	server.Close()
	server.Close()

	if serverEP.Listening(serverPort) || serverEP.OpenConnections() != 0 {
		t.Fatal("Close left resources open")
	}
	if server.AvailablePacketCount() != 0 || server.UniqueID() != 0 || server.IsServer() {
		t.Fatal("Close did not reset state")
	}

	pollAll(a, b)
	for _, c := range []*Peer{a, b} {
		if c.Mode() != ModeNone {
			t.Fatal("client survived server close")
		}
	}

	// The instance can be reused.
	if err := server.CreateServer(serverPort); err != nil {
		t.Fatalf("CreateServer after Close: %v", err)
	}
}

func TestStrayIncomingRejected(t *testing.T) {
	n := loopback.NewNetwork()
	client, clientEP := newClient(t, n, clientA, 5)

	// Something else on the client's endpoint listens; the peer itself is
	// not a server and must refuse the connection.
	clientEP.CreateListenSocket(serverPort, nil)
	raw := n.Endpoint(clientB)
	raw.Connect(clientA, serverPort, nil)

	client.Poll()
	raw.RunCallbacks()

	if client.registry.Lookup(clientB) != nil {
		t.Fatal("client registered an incoming connection")
	}
	if raw.OpenConnections() != 1 {
		t.Fatalf("raw endpoint has %d handles", raw.OpenConnections())
	}
}

func TestReentrantHandlers(t *testing.T) {
	n := loopback.NewNetwork()
	server, _ := newServer(t, n)
	client, _ := newClient(t, n, clientA, 5)

	server.OnPeerDisconnected(func(id PeerID) {
		server.DisconnectPeer(id, true)
		server.Close()
	})
	client.OnPeerDisconnected(func(PeerID) { client.Close() })
	pollAll(server, client)

	client.Close()
	pollAll(server, client)

	if server.Mode() != ModeNone || client.Mode() != ModeNone {
		t.Fatal("handlers left an instance active")
	}
}

// TestReconnectAfterCloseWhileConnecting closes a client before its
// connection completes and connects again with the same instance.
func TestReconnectAfterCloseWhileConnecting(t *testing.T) {
	n := loopback.NewNetwork()
	server, serverEP := newServer(t, n)
	sev := record(server)
	client, clientEP := newClient(t, n, clientA, 5)
	cev := record(client)

	server.Poll()
	client.Close()
	if clientEP.OpenConnections() != 0 {
		t.Fatalf("Close left %d handles open", clientEP.OpenConnections())
	}

	client.generateID = func() PeerID { return 7 }
	if err := client.CreateClient(serverIdentity, serverPort); err != nil {
		t.Fatalf("CreateClient: %v", err)
	}
	pollAll(server, client)

	if client.ConnectionStatus() != StatusConnected || client.Mode() != ModeClient {
		t.Fatalf("client mode %s status %s", client.Mode(), client.ConnectionStatus())
	}
	if !slices.Equal(cev.connected, []PeerID{PeerServer}) || len(cev.disconnected) != 0 {
		t.Fatalf("client events %+v", cev)
	}
	if !slices.Equal(sev.connected, []PeerID{7}) || !slices.Equal(server.Peers(), []PeerID{7}) {
		t.Fatalf("server events %+v, peers %v", sev, server.Peers())
	}
	if serverEP.OpenConnections() != 1 || clientEP.OpenConnections() != 1 {
		t.Fatalf("handles: server %d, client %d", serverEP.OpenConnections(), clientEP.OpenConnections())
	}
}

// TestStaleConnectFailureKeepsSession delivers a failure for a handle from
// an earlier CreateClient; only that handle is closed.
func TestStaleConnectFailureKeepsSession(t *testing.T) {
	svc := newScripted(1)
	p := New(svc)
	if err := p.CreateClient(serverIdentity, serverPort); err != nil {
		t.Fatalf("CreateClient: %v", err)
	}

	const stale transport.Handle = 42
	svc.handler(transport.StatusChange{
		Handle:       stale,
		Identity:     serverIdentity,
		ListenSocket: transport.InvalidListenSocket,
		Old:          transport.StateConnecting,
		New:          transport.StateClosedByPeer,
	})
	svc.handler(transport.StatusChange{
		Handle:       stale,
		Identity:     serverIdentity,
		ListenSocket: transport.InvalidListenSocket,
		Old:          transport.StateConnecting,
		New:          transport.StateConnected,
	})

	if p.Mode() != ModeClient || p.ConnectionStatus() != StatusConnecting {
		t.Fatalf("mode %s status %s", p.Mode(), p.ConnectionStatus())
	}
	if p.registry.Len() != 0 {
		t.Fatal("stale handle was registered")
	}
	if !slices.Equal(svc.closed, []transport.Handle{stale, stale}) {
		t.Fatalf("closed %v", svc.closed)
	}
}

func TestIsServerRelaySupported(t *testing.T) {
	n := loopback.NewNetwork()
	server := New(n.Endpoint(serverIdentity))
	if server.IsServerRelaySupported() {
		t.Fatal("inactive instance reports relay support")
	}
	if err := server.CreateServer(serverPort); err != nil {
		t.Fatalf("CreateServer: %v", err)
	}
	client, _ := newClient(t, n, clientA, 5)

	for _, p := range []*Peer{server, client} {
		if !p.IsServerRelaySupported() {
			t.Fatalf("%s reports no relay support", p.Mode())
		}
	}

	server.Close()
	if server.IsServerRelaySupported() {
		t.Fatal("closed instance reports relay support")
	}
}

// ---------------------------------------------------------------------------
// Poll
// ---------------------------------------------------------------------------

// scriptedServer returns a server on svc with two assigned connections:
// 0xa as peer 2 on handle 1 and 0xb as peer 3 on handle 2.
func scriptedServer(t *testing.T, svc *scriptedService) *Peer {
	t.Helper()
	p := New(svc)
	if err := p.CreateServer(serverPort); err != nil {
		t.Fatalf("CreateServer: %v", err)
	}
	for i, id := range []protocol.Identity{0xa, 0xb} {
		p.registry.Add(id, transport.Handle(i+1))
		if err := p.registry.AssignPeerID(id, PeerID(i+2)); err != nil {
			t.Fatalf("AssignPeerID: %v", err)
		}
	}
	return p
}

func TestPollSkipsFailingConnection(t *testing.T) {
	svc := newScripted(1)
	p := scriptedServer(t, svc)

	svc.receiveErr[1] = errors.New("connection reset")
	svc.inbox[2] = []transport.Message{{Identity: 0xb, Payload: []byte("still here"), Flags: protocol.SendReliable}}

	p.Poll()

	if p.AvailablePacketCount() != 1 || p.PacketPeer() != 3 {
		t.Fatalf("queued %d packets, head from peer %d", p.AvailablePacketCount(), p.PacketPeer())
	}
	if got := mustGet(t, p); string(got) != "still here" {
		t.Fatalf("Get = %q", got)
	}
}

func TestPollBatchLimit(t *testing.T) {
	svc := newScripted(1)
	p := scriptedServer(t, svc)

	const total = maxMessageBatch + 45
	for i := range total {
		svc.inbox[2] = append(svc.inbox[2], transport.Message{
			Identity: 0xb,
			Payload:  []byte{byte(i)},
			Flags:    protocol.SendReliable,
		})
	}

	p.Poll()
	if p.AvailablePacketCount() != maxMessageBatch {
		t.Fatalf("first Poll queued %d, want %d", p.AvailablePacketCount(), maxMessageBatch)
	}
	p.Poll()
	if p.AvailablePacketCount() != total {
		t.Fatalf("second Poll queued %d, want %d", p.AvailablePacketCount(), total)
	}
	for i := range total {
		if got := mustGet(t, p); got[0] != byte(i) {
			t.Fatalf("packet %d = %d, out of order", i, got[0])
		}
	}
}

// failingReader is a random source that always fails.
type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy unavailable") }

func TestRandomPeerID(t *testing.T) {
	tests := []struct {
		name string
		src  io.Reader
	}{
		{"crypto source", cryptorand.Reader},
		{"failing source", failingReader{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for range 100 {
				if id := randomPeerID(tc.src); id < PeerFirstClient {
					t.Fatalf("randomPeerID = %d, want >= %d", id, PeerFirstClient)
				}
			}
		})
	}
}

func TestOptionsPassThrough(t *testing.T) {
	p := New(newScripted(1))
	opts := []transport.Option{{Key: "stun", Value: "stun:a"}, {Key: "stun", Value: "stun:b"}}

	p.SetOptions(opts)
	opts[0].Value = "changed"

	got := p.Options()
	if len(got) != 2 || got[0].Value != "stun:a" || got[1].Value != "stun:b" {
		t.Fatalf("Options = %v", got)
	}
}
