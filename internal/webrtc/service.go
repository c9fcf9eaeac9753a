package webrtc

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/1ureka/peerlink/internal/protocol"
	"github.com/1ureka/peerlink/internal/signaling"
	"github.com/1ureka/peerlink/internal/transport"
	"github.com/1ureka/peerlink/internal/util"
)

var log = util.NewLogger("webrtc")

// Config configures a Service.
type Config struct {
	// Identity is the local endpoint identity announced in every hello.
	Identity protocol.Identity

	// SignalAddr is the address the signaling server listens on once a
	// listen socket is created, e.g. ":8910". Empty disables listening.
	SignalAddr string

	// Directory maps remote identities to their signaling URL
	// (ws://host:port/ws).
	Directory map[protocol.Identity]string

	// ICEServers are STUN/TURN URLs. Empty gathers host candidates only.
	ICEServers []string

	// ConnectTimeout bounds signaling plus ICE for one connection.
	ConnectTimeout time.Duration
}

// Service is a transport.Service backed by WebRTC. pion and signaling
// callbacks run on their own goroutines; they only queue status changes and
// messages, which the owner collects with RunCallbacks and Receive.
type Service struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	server     *signaling.Server
	lastHandle transport.Handle
	lastSocket transport.ListenSocket
	ports      map[int]transport.ListenSocket
	sockets    map[transport.ListenSocket]int
	socketOpts map[transport.ListenSocket]connOptions
	conns      map[transport.Handle]*conn
	pending    []transport.StatusChange
	handler    func(transport.StatusChange)
}

// Compile-time interface check.
var _ transport.Service = (*Service)(nil)

// New creates a Service. Background work stops when ctx is cancelled or
// Close is called.
func New(ctx context.Context, cfg Config) *Service {
	sCtx, cancel := context.WithCancel(ctx)
	return &Service{
		cfg:        cfg,
		ctx:        sCtx,
		cancel:     cancel,
		ports:      make(map[int]transport.ListenSocket),
		sockets:    make(map[transport.ListenSocket]int),
		socketOpts: make(map[transport.ListenSocket]connOptions),
		conns:      make(map[transport.Handle]*conn),
	}
}

func (s *Service) Identity() protocol.Identity { return s.cfg.Identity }

// InitRelayNetworkAccess is a no-op: ICE servers are resolved per
// connection.
func (s *Service) InitRelayNetworkAccess() {
	log.Debugf("using %d configured ICE server(s)", len(s.cfg.ICEServers))
}

func (s *Service) baseOptions() connOptions {
	return connOptions{iceServers: s.cfg.ICEServers, timeout: s.cfg.ConnectTimeout}
}

// SignalAddress returns the bound address of the signaling server, or ""
// when no listen socket has been created.
func (s *Service) SignalAddress() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return ""
	}
	return s.server.Addr()
}

// ---------------------------------------------------------------------------
// Listen sockets
// ---------------------------------------------------------------------------

func (s *Service) CreateListenSocket(port int, opts []transport.Option) transport.ListenSocket {
	s.mu.Lock()
	defer s.mu.Unlock()

	if port < 0 {
		return transport.InvalidListenSocket
	}
	if _, taken := s.ports[port]; taken {
		log.Errorf("virtual port %d is already listening", port)
		return transport.InvalidListenSocket
	}
	if s.cfg.SignalAddr == "" {
		log.Errorf("no signaling address configured, cannot listen")
		return transport.InvalidListenSocket
	}

	if s.server == nil {
		srv := signaling.NewServer(s.onHello)
		addr, err := srv.Start(s.cfg.SignalAddr)
		if err != nil {
			log.Errorf("%v", err)
			return transport.InvalidListenSocket
		}
		s.server = srv
		log.Infof("signaling server listening on %s", addr)
	}

	s.lastSocket++
	s.ports[port] = s.lastSocket
	s.sockets[s.lastSocket] = port
	s.socketOpts[s.lastSocket] = applyOptions(s.baseOptions(), opts)
	return s.lastSocket
}

// CloseListenSocket stops accepting on the socket's port. The signaling
// server keeps running and rejects hellos for closed ports.
func (s *Service) CloseListenSocket(ls transport.ListenSocket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	port, ok := s.sockets[ls]
	if !ok {
		return false
	}
	delete(s.sockets, ls)
	delete(s.socketOpts, ls)
	delete(s.ports, port)
	return true
}

// onHello handles an incoming signaling connection. It announces the
// connection and waits for the owner to Accept or close it.
func (s *Service) onHello(ws *signaling.Conn, hello signaling.Message) {
	if hello.Target != 0 && hello.Target != s.cfg.Identity {
		log.Warnf("hello from %s addressed to %s", hello.Identity, hello.Target)
		ws.Send(signaling.Reject("wrong identity"))
		ws.Close()
		return
	}

	s.mu.Lock()
	ls, ok := s.ports[hello.Port]
	if !ok {
		s.mu.Unlock()
		log.Warnf("hello from %s for virtual port %d: not listening", hello.Identity, hello.Port)
		ws.Send(signaling.Reject(fmt.Sprintf("no listener on virtual port %d", hello.Port)))
		ws.Close()
		return
	}
	c := s.newConn(hello.Identity, ls, s.socketOpts[ls])
	s.setState(c, transport.StateConnecting)
	s.mu.Unlock()

	timer := time.NewTimer(c.opts.timeout)
	defer timer.Stop()

	select {
	case <-c.accepted:
	case <-c.ctx.Done():
		ws.Send(signaling.Reject("connection refused"))
		ws.Close()
		return
	case <-timer.C:
		ws.Send(signaling.Reject("accept timed out"))
		ws.Close()
		s.problem(c, errors.New("accept timed out"))
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.opts.timeout)
	defer cancel()
	s.negotiate(ctx, c, ws, false)
}

// ---------------------------------------------------------------------------
// Connections
// ---------------------------------------------------------------------------

// newConn allocates a handle; the caller holds s.mu.
func (s *Service) newConn(remote protocol.Identity, ls transport.ListenSocket, opts connOptions) *conn {
	ctx, cancel := context.WithCancel(s.ctx)
	s.lastHandle++
	c := &conn{
		handle:   s.lastHandle,
		remote:   remote,
		socket:   ls,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		accepted: make(chan struct{}),
		ready:    make(chan struct{}),
		state:    transport.StateNone,
	}
	s.conns[c.handle] = c
	return c
}

func (s *Service) Connect(remote protocol.Identity, port int, opts []transport.Option) transport.Handle {
	s.mu.Lock()
	c := s.newConn(remote, transport.InvalidListenSocket, applyOptions(s.baseOptions(), opts))
	s.setState(c, transport.StateConnecting)
	url, ok := s.cfg.Directory[remote]
	s.mu.Unlock()

	if !ok {
		s.problem(c, fmt.Errorf("no signaling address for %s", remote))
		return c.handle
	}

	go s.dial(c, url, port)
	return c.handle
}

func (s *Service) dial(c *conn, url string, port int) {
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.timeout)
	defer cancel()

	ws, err := signaling.Dial(ctx, url, signaling.Hello(s.cfg.Identity, c.remote, port))
	if err != nil {
		s.problem(c, err)
		return
	}
	s.negotiate(ctx, c, ws, true)
}

func (s *Service) Accept(h transport.Handle) transport.Result {
	s.mu.Lock()
	c, ok := s.conns[h]
	if !ok {
		s.mu.Unlock()
		return transport.ResultInvalidParam
	}
	if c.socket == transport.InvalidListenSocket || c.state != transport.StateConnecting {
		s.mu.Unlock()
		return transport.ResultInvalidState
	}
	s.mu.Unlock()

	c.acceptOnce.Do(func() { close(c.accepted) })
	return transport.ResultOK
}

func (s *Service) CloseConnection(h transport.Handle, reason transport.EndReason, debug string, linger bool) bool {
	s.mu.Lock()
	c, ok := s.conns[h]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.conns, h)
	c.closed = true
	s.mu.Unlock()

	log.Debugf("closing connection to %s (%d: %s)", c.remote, reason, debug)
	c.cancel()
	go s.teardown(c, linger)
	return true
}

func (s *Service) Send(h transport.Handle, data []byte, flags protocol.SendFlags) transport.Result {
	s.mu.Lock()
	c, ok := s.conns[h]
	if !ok {
		s.mu.Unlock()
		return transport.ResultInvalidParam
	}
	if c.state != transport.StateConnected {
		s.mu.Unlock()
		return transport.ResultNoConnection
	}
	ch := c.unreliable
	if flags.Reliable() {
		ch = c.reliable
	}
	s.mu.Unlock()

	return ch.send(data, !flags.Reliable() && flags&protocol.SendNoDelay != 0)
}

func (s *Service) Receive(h transport.Handle, max int) ([]transport.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conns[h]
	if !ok {
		return nil, transport.ErrInvalidHandle
	}
	n := min(max, len(c.inbox))
	if n <= 0 {
		return nil, nil
	}
	out := slices.Clone(c.inbox[:n])
	clear(c.inbox[:n])
	c.inbox = c.inbox[n:]
	return out, nil
}

// Flush has nothing to push: SCTP sends as soon as Send is called.
func (s *Service) Flush(h transport.Handle) transport.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[h]; !ok {
		return transport.ResultInvalidParam
	}
	return transport.ResultOK
}

func (s *Service) SetStatusHandler(fn func(transport.StatusChange)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = fn
}

// RunCallbacks delivers queued status changes, including those queued by
// the handler itself, until the queue is empty.
func (s *Service) RunCallbacks() {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.mu.Unlock()
			return
		}
		change := s.pending[0]
		s.pending = s.pending[1:]
		handler := s.handler
		s.mu.Unlock()

		if handler != nil {
			handler(change)
		}
	}
}

// Close tears down every connection and stops the signaling server.
func (s *Service) Close() error {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for h, c := range s.conns {
		c.closed = true
		conns = append(conns, c)
		delete(s.conns, h)
	}
	srv := s.server
	s.server = nil
	s.pending = nil
	s.mu.Unlock()

	s.cancel()
	for _, c := range conns {
		s.teardown(c, false)
	}
	if srv != nil {
		return srv.Close()
	}
	return nil
}
