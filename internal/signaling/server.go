package signaling

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/peerlink/internal/util"
)

// helloTimeout bounds how long a fresh WebSocket may stay silent.
const helloTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HelloHandler is called for every incoming WebSocket that opened with a
// valid hello. It runs on the connection's own goroutine and owns conn.
type HelloHandler func(conn *Conn, hello Message)

// Server accepts signaling WebSockets on /ws.
type Server struct {
	onHello HelloHandler

	mu       sync.Mutex
	listener net.Listener
	srv      *http.Server
}

// NewServer creates a signaling server that hands every hello to onHello.
func NewServer(onHello HelloHandler) *Server {
	return &Server{onHello: onHello}
}

// Start begins listening on addr (":0" picks a random port) and returns the
// bound address.
func (s *Server) Start(addr string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return "", errors.New("signaling server already started")
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to start WS server: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)

	s.listener = listener
	s.srv = &http.Server{Handler: mux, ReadHeaderTimeout: helloTimeout}
	go func() {
		if err := s.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogError("signaling server stopped: %v", err)
		}
	}()

	return listener.Addr().String(), nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn := newConn(ws)

	ws.SetReadDeadline(time.Now().Add(helloTimeout))
	hello, err := conn.Receive()
	if err != nil {
		util.LogDebug("signaling: no hello from %s: %v", r.RemoteAddr, err)
		conn.Close()
		return
	}
	if hello.Type != MsgTypeHello {
		conn.Send(Reject("expected hello"))
		conn.Close()
		return
	}
	ws.SetReadDeadline(time.Time{})

	s.onHello(conn, hello)
}

// Close stops accepting WebSockets. Connections already handed to the
// HelloHandler are not affected.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return nil
	}
	err := s.srv.Close()
	s.srv = nil
	s.listener = nil
	return err
}
