package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/1ureka/peerlink/internal/config"
	"github.com/1ureka/peerlink/internal/peer"
	"github.com/1ureka/peerlink/internal/protocol"
	"github.com/1ureka/peerlink/internal/transport"
	"github.com/1ureka/peerlink/internal/util"
	"github.com/1ureka/peerlink/internal/webrtc"
)

const pollInterval = 20 * time.Millisecond

var errConnectionLost = errors.New("connection to server lost")

// chat owns the peer; every method runs on the goroutine of run.
type chat struct {
	p   *peer.Peer
	out io.Writer
}

// runChat starts a peer from cfg and relays lines between stdin and the
// session until ctx is cancelled or a client loses its server.
func runChat(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) error {
	svcCfg := webrtc.Config{
		Identity:       cfg.LocalIdentity(),
		Directory:      cfg.Directory(),
		ICEServers:     cfg.ICEServers,
		ConnectTimeout: cfg.ConnectTimeout,
	}
	if cfg.Role == config.RoleServer {
		svcCfg.SignalAddr = cfg.Signal
	}
	svc := webrtc.New(ctx, svcCfg)
	defer svc.Close()

	return run(ctx, cfg, svc, in, out)
}

// run drives an already constructed transport. Split from runChat so the
// loop can run on the loopback transport.
func run(ctx context.Context, cfg *config.Config, svc transport.Service, in io.Reader, out io.Writer) error {
	p := peer.New(svc)
	p.NoNagle = cfg.NoNagle
	p.NoDelay = cfg.NoDelay
	p.SetOptions(cfg.TransportOptions())
	defer p.Close()

	c := &chat{p: p, out: out}
	p.OnPeerConnected(func(id peer.PeerID) {
		fmt.Fprintf(out, "* peer %d joined\n", id)
	})
	p.OnPeerDisconnected(func(id peer.PeerID) {
		fmt.Fprintf(out, "* peer %d left\n", id)
	})

	switch cfg.Role {
	case config.RoleServer:
		if err := p.CreateServer(cfg.Port); err != nil {
			return err
		}
		util.LogSuccess("%s listening on virtual port %d", cfg.LocalIdentity(), cfg.Port)
	default:
		if err := p.CreateClient(cfg.RemoteIdentity(), cfg.RemotePort); err != nil {
			return err
		}
		util.LogInfo("connecting to %s on virtual port %d (peer id %d)", cfg.Remote, cfg.RemotePort, p.UniqueID())
	}

	util.StartStatsReporter(ctx)
	lines := readLines(ctx, in)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			c.handleLine(line)

		case <-ticker.C:
			p.Poll()
			c.drain()
			// A client whose server is gone is back to ModeNone.
			if p.Mode() == peer.ModeNone {
				return errConnectionLost
			}
		}
	}
}

// readLines forwards lines from r until EOF or ctx is cancelled.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

// ---------------------------------------------------------------------------
// Input
// ---------------------------------------------------------------------------

// handleLine runs a command (a line starting with "/") or sends the line.
func (c *chat) handleLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if !strings.HasPrefix(line, "/") {
		c.say(line)
		return
	}

	cmd, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "peers":
		fmt.Fprintf(c.out, "me: %d (%s, %s)\n", c.p.UniqueID(), c.p.Mode(), c.p.ConnectionStatus())
		for _, id := range c.p.Peers() {
			fmt.Fprintf(c.out, "  peer %d\n", id)
		}

	case "mode":
		switch arg {
		case "reliable":
			c.p.SetTransferMode(protocol.TransferReliable)
		case "unreliable":
			c.p.SetTransferMode(protocol.TransferUnreliable)
		default:
			util.LogWarning("usage: /mode reliable|unreliable")
			return
		}
		util.LogInfo("transfer mode: %s", c.p.TransferMode())

	case "kick":
		id, err := strconv.Atoi(arg)
		if err != nil || !c.p.IsServer() {
			util.LogWarning("usage (server only): /kick <peer id>")
			return
		}
		c.p.DisconnectPeer(peer.PeerID(id), false)

	case "retry":
		c.p.RetryPending()

	default:
		util.LogWarning("unknown command /%s (try /peers, /mode, /kick, /retry)", cmd)
	}
}

// say sends a line typed locally: a client sends it to the server, the
// server broadcasts it.
func (c *chat) say(line string) {
	target := peer.PeerBroadcast
	if !c.p.IsServer() {
		target = peer.PeerServer
	}
	c.send(target, fmt.Sprintf("%d: %s", c.p.UniqueID(), line))
}

func (c *chat) send(target peer.PeerID, msg string) {
	c.p.SetTargetPeer(target)
	if err := c.p.Put([]byte(msg)); err != nil {
		util.LogWarning("send to %d: %v", target, err)
	}
}

// ---------------------------------------------------------------------------
// Output
// ---------------------------------------------------------------------------

// drain prints every received packet. The server also relays each one to
// every peer except its sender.
func (c *chat) drain() {
	for c.p.AvailablePacketCount() > 0 {
		from := c.p.PacketPeer()
		data, err := c.p.Get()
		if err != nil {
			return
		}
		fmt.Fprintln(c.out, string(data))

		if !c.p.IsServer() {
			continue
		}
		for _, id := range c.p.Peers() {
			if id != from {
				c.send(id, string(data))
			}
		}
	}
}
