package webrtc

import (
	"context"
	"io"
	"os"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/1ureka/peerlink/internal/protocol"
	"github.com/1ureka/peerlink/internal/transport"
	"github.com/1ureka/peerlink/internal/util"
)

func TestMain(m *testing.M) {
	util.SetLogOutput(io.Discard)
	os.Exit(m.Run())
}

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

func TestApplyOptions(t *testing.T) {
	base := connOptions{iceServers: []string{"stun:base"}}

	tests := []struct {
		name    string
		opts    []transport.Option
		servers []string
		timeout time.Duration
	}{
		{"defaults", nil, []string{"stun:base"}, defaultConnectTimeout},
		{
			name:    "stun and turn keep order",
			opts:    []transport.Option{{Key: "turn", Value: "turn:b"}, {Key: "STUN", Value: "stun:a"}},
			servers: []string{"stun:base", "turn:b", "stun:a"},
			timeout: defaultConnectTimeout,
		},
		{
			name:    "timeout in seconds",
			opts:    []transport.Option{{Key: "connect_timeout", Value: "5"}},
			servers: []string{"stun:base"},
			timeout: 5 * time.Second,
		},
		{
			name:    "timeout as duration",
			opts:    []transport.Option{{Key: "connect_timeout", Value: "1m30s"}},
			servers: []string{"stun:base"},
			timeout: 90 * time.Second,
		},
		{
			name:    "bad values skipped",
			opts:    []transport.Option{{Key: "connect_timeout", Value: "-3"}, {Key: "stun"}, {Key: "mtu", Value: "1200"}},
			servers: []string{"stun:base"},
			timeout: defaultConnectTimeout,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := applyOptions(base, tc.opts)
			if !slices.Equal(got.iceServers, tc.servers) {
				t.Fatalf("iceServers = %v, want %v", got.iceServers, tc.servers)
			}
			if got.timeout != tc.timeout {
				t.Fatalf("timeout = %s, want %s", got.timeout, tc.timeout)
			}
		})
	}

	if len(base.iceServers) != 1 {
		t.Fatal("applyOptions modified its base")
	}
}

func TestICEServers(t *testing.T) {
	if got := iceServers(nil); len(got) != 0 {
		t.Fatalf("iceServers(nil) = %v, want none", got)
	}

	got := iceServers([]string{"stun:stun.example.org:3478", "alice:secret@turn:turn.example.org:3478"})
	if len(got) != 2 {
		t.Fatalf("got %d servers", len(got))
	}
	if got[0].URLs[0] != "stun:stun.example.org:3478" || got[0].Username != "" {
		t.Fatalf("stun server = %+v", got[0])
	}
	if got[1].URLs[0] != "turn:turn.example.org:3478" || got[1].Username != "alice" || got[1].Credential != "secret" {
		t.Fatalf("turn server = %+v", got[1])
	}
}

// ---------------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------------

// recorder collects status changes delivered by RunCallbacks.
type recorder struct {
	mu      sync.Mutex
	changes []transport.StatusChange
}

func record(s *Service) *recorder {
	r := &recorder{}
	s.SetStatusHandler(func(c transport.StatusChange) {
		r.mu.Lock()
		r.changes = append(r.changes, c)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) last() (transport.StatusChange, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.changes) == 0 {
		return transport.StatusChange{}, false
	}
	return r.changes[len(r.changes)-1], true
}

// waitFor runs callbacks on every service until cond holds or 10s pass.
func waitFor(t *testing.T, cond func() bool, services ...*Service) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		for _, s := range services {
			s.RunCallbacks()
		}
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within 10s")
}

func TestConnectUnknownRemote(t *testing.T) {
	svc := New(context.Background(), Config{Identity: 1})
	defer svc.Close()
	rec := record(svc)

	h := svc.Connect(2, 10, nil)
	if h == transport.InvalidHandle {
		t.Fatal("Connect returned an invalid handle")
	}
	svc.RunCallbacks()

	want := []transport.ConnState{transport.StateConnecting, transport.StateProblemDetectedLocally}
	if len(rec.changes) != 2 {
		t.Fatalf("changes = %+v", rec.changes)
	}
	for i, c := range rec.changes {
		if c.New != want[i] || c.Handle != h || c.Identity != 2 || c.ListenSocket != transport.InvalidListenSocket {
			t.Fatalf("change %d = %+v", i, c)
		}
	}

	if res := svc.Send(h, []byte("x"), protocol.SendReliable); res != transport.ResultNoConnection {
		t.Fatalf("Send = %s, want no connection", res)
	}
	if res := svc.Accept(h); res != transport.ResultInvalidState {
		t.Fatalf("Accept on outgoing = %s", res)
	}
	if !svc.CloseConnection(h, transport.EndAppGeneric, "", false) {
		t.Fatal("CloseConnection reported an invalid handle")
	}
	if svc.CloseConnection(h, transport.EndAppGeneric, "", false) {
		t.Fatal("second CloseConnection succeeded")
	}
	if _, err := svc.Receive(h, 1); err != transport.ErrInvalidHandle {
		t.Fatalf("Receive on closed handle = %v", err)
	}
	if res := svc.Flush(h); res != transport.ResultInvalidParam {
		t.Fatalf("Flush on closed handle = %s", res)
	}
}

func TestListenSockets(t *testing.T) {
	noSignal := New(context.Background(), Config{Identity: 1})
	defer noSignal.Close()
	if ls := noSignal.CreateListenSocket(10, nil); ls != transport.InvalidListenSocket {
		t.Fatal("listened without a signaling address")
	}

	svc := New(context.Background(), Config{Identity: 1, SignalAddr: "127.0.0.1:0"})
	defer svc.Close()

	ls := svc.CreateListenSocket(10, nil)
	if ls == transport.InvalidListenSocket {
		t.Fatal("CreateListenSocket failed")
	}
	if svc.SignalAddress() == "" {
		t.Fatal("signaling server not started")
	}
	if svc.CreateListenSocket(10, nil) != transport.InvalidListenSocket {
		t.Fatal("port 10 bound twice")
	}
	if svc.CreateListenSocket(-1, nil) != transport.InvalidListenSocket {
		t.Fatal("negative port accepted")
	}
	if !svc.CloseListenSocket(ls) || svc.CloseListenSocket(ls) {
		t.Fatal("CloseListenSocket not idempotent")
	}
	if svc.CreateListenSocket(10, nil) == transport.InvalidListenSocket {
		t.Fatal("port 10 not reusable after close")
	}
}

func newPair(t *testing.T) (listener, dialer *Service) {
	t.Helper()
	listener = New(context.Background(), Config{Identity: 0xa, SignalAddr: "127.0.0.1:0", ConnectTimeout: 10 * time.Second})
	t.Cleanup(func() { listener.Close() })
	if listener.CreateListenSocket(10, nil) == transport.InvalidListenSocket {
		t.Fatal("CreateListenSocket failed")
	}

	dialer = New(context.Background(), Config{
		Identity:       0xb,
		Directory:      map[protocol.Identity]string{0xa: "ws://" + listener.SignalAddress() + "/ws"},
		ConnectTimeout: 10 * time.Second,
	})
	t.Cleanup(func() { dialer.Close() })
	return listener, dialer
}

func TestConnectWrongPort(t *testing.T) {
	listener, dialer := newPair(t)
	lrec := record(listener)
	drec := record(dialer)

	dialer.Connect(0xa, 11, nil)
	waitFor(t, func() bool {
		c, ok := drec.last()
		return ok && c.New == transport.StateProblemDetectedLocally
	}, listener, dialer)

	if _, ok := lrec.last(); ok {
		t.Fatal("listener announced a connection for a closed port")
	}
}

func TestConnectRefused(t *testing.T) {
	listener, dialer := newPair(t)
	lrec := record(listener)
	drec := record(dialer)

	dialer.Connect(0xa, 10, nil)

	var incoming transport.StatusChange
	waitFor(t, func() bool {
		c, ok := lrec.last()
		incoming = c
		return ok
	}, listener, dialer)

	if incoming.New != transport.StateConnecting || incoming.Identity != 0xb || incoming.ListenSocket == transport.InvalidListenSocket {
		t.Fatalf("incoming = %+v", incoming)
	}

	listener.CloseConnection(incoming.Handle, transport.EndAppExceptionGeneric, "Failed to accept connection", false)
	waitFor(t, func() bool {
		c, ok := drec.last()
		return ok && c.New == transport.StateProblemDetectedLocally
	}, listener, dialer)
}
