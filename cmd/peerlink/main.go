// peerlink: CLI entry point.
//
// Runs a small chat session over the peer layer. The server listens on a
// virtual port and relays every line it receives to the other peers; clients
// connect to the server through its signaling URL and exchange lines with it.
//
// It can be launched interactively (no --role) or non-interactively via
// flags, optionally on top of a YAML config file (--config).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/pflag"

	"github.com/1ureka/peerlink/internal/config"
	"github.com/1ureka/peerlink/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		util.LogError("%v", err)
		os.Exit(1)
	}

	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("peerlink v%s", version))
	pterm.Println()

	if cfg.Role == "" {
		askConfig(cfg)
	}
	if err := cfg.Validate(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	if err := runChat(ctx, cfg, os.Stdin, os.Stdout); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	util.LogInfo("session closed")
}

// parseFlags loads the config file named by --config, if any, and applies
// every flag that was set on top of it.
func parseFlags(args []string) (*config.Config, error) {
	flagSet := pflag.NewFlagSet("peerlink", pflag.ContinueOnError)

	configPath := flagSet.String("config", "", "YAML config file")
	role := flagSet.String("role", "", "role: server or client (prompted when empty)")
	identity := flagSet.String("identity", "", "name or decimal identity of this endpoint")
	port := flagSet.Int("port", 10, "virtual port to listen on (server)")
	signalAddr := flagSet.String("signal", ":8910", "signaling listen address (server)")
	remote := flagSet.String("remote", "", "endpoint name or identity of the server (client)")
	remotePort := flagSet.Int("remote-port", 10, "virtual port on the server (client)")
	peers := flagSet.StringArray("peer", nil, "signaling directory entry name=url (repeatable)")
	ice := flagSet.StringSlice("ice", nil, "STUN/TURN server URLs, replacing the defaults")
	timeout := flagSet.Duration("connect-timeout", 0, "signaling plus ICE timeout per connection")
	noNagle := flagSet.Bool("no-nagle", false, "send every packet without Nagle batching")
	noDelay := flagSet.Bool("no-delay", false, "drop unreliable packets instead of queueing them")
	debug := flagSet.Bool("debug", false, "enable debug logging")

	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", rest[0])
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	set := func(name string) bool { return flagSet.Changed(name) }
	if set("role") {
		cfg.Role = config.Role(strings.ToLower(*role))
	}
	if set("identity") {
		cfg.Identity = *identity
	}
	if set("port") {
		cfg.Port = *port
	}
	if set("signal") {
		cfg.Signal = *signalAddr
	}
	if set("remote") {
		cfg.Remote = *remote
	}
	if set("remote-port") {
		cfg.RemotePort = *remotePort
	}
	for _, pair := range *peers {
		if err := cfg.SetPeer(pair); err != nil {
			return nil, err
		}
	}
	if set("ice") {
		cfg.ICEServers = *ice
	}
	if set("connect-timeout") {
		cfg.ConnectTimeout = *timeout
	}
	cfg.NoNagle = cfg.NoNagle || *noNagle
	cfg.NoDelay = cfg.NoDelay || *noDelay
	cfg.Debug = cfg.Debug || *debug

	return cfg, nil
}

// ---------------------------------------------------------------------------
// Interactive prompts
// ---------------------------------------------------------------------------

// askConfig fills in the role and the fields it needs when no --role flag
// is provided.
func askConfig(cfg *config.Config) {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Server  - Host a session", "Client  - Join a session"}).
		WithDefaultText("Select your role").
		Show()
	pterm.Println()

	if cfg.Identity == "" {
		cfg.Identity = askText("Name of this endpoint")
	}

	if strings.HasPrefix(role, "Server") {
		cfg.Role = config.RoleServer
		cfg.Port = askPort("Virtual port to listen on (0 ~ 65535)")
		return
	}

	cfg.Role = config.RoleClient
	cfg.Remote = askText("Name of the server endpoint")
	if _, ok := cfg.Directory()[cfg.RemoteIdentity()]; !ok {
		for {
			raw := askText("Signaling URL of the server (e.g. ws://192.168.1.2:8910)")
			if err := cfg.SetPeer(cfg.Remote + "=" + raw); err == nil {
				break
			}
			util.LogWarning("invalid input: please enter a valid host or URL")
		}
	}
	cfg.RemotePort = askPort("Virtual port on the server (0 ~ 65535)")
}

// askPort prompts for a port number until a valid one is entered.
func askPort(prompt string) int {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()

		port, err := strconv.Atoi(strings.TrimSpace(raw))
		if err == nil && port >= 0 && port <= 65535 {
			pterm.Println()
			return port
		}

		util.LogWarning("invalid port number: must be 0 ~ 65535")
		pterm.Println()
	}
}

// askText prompts until a non-empty answer is entered.
func askText(prompt string) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()
		pterm.Println()

		if s := strings.TrimSpace(raw); s != "" {
			return s
		}
	}
}
