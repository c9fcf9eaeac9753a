// Package config holds the peerlink configuration: the role, identities,
// signaling directory and transport options. Values come from an optional
// YAML file, then command-line flags, then interactive prompts.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/1ureka/peerlink/internal/protocol"
	"github.com/1ureka/peerlink/internal/transport"
	"github.com/1ureka/peerlink/internal/util"
)

// Role represents the chosen role (server or client).
type Role string

const (
	RoleServer Role = "server"
	RoleClient Role = "client"
)

// DefaultICEServers are used when the config names none.
var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Config stores everything needed to start a peer.
type Config struct {
	Role     Role   `yaml:"role"`
	Identity string `yaml:"identity"` // name or decimal identity of this endpoint
	Port     int    `yaml:"port"`     // server: virtual port to listen on

	Remote     string `yaml:"remote,omitempty"`      // client: server endpoint
	RemotePort int    `yaml:"remote_port,omitempty"` // client: virtual port on the server

	Signal string            `yaml:"signal,omitempty"` // server: signaling listen address
	Peers  map[string]string `yaml:"peers,omitempty"`  // endpoint name → ws URL

	ICEServers     []string           `yaml:"ice_servers,omitempty"`
	ConnectTimeout time.Duration      `yaml:"connect_timeout,omitempty"`
	NoNagle        bool               `yaml:"no_nagle,omitempty"`
	NoDelay        bool               `yaml:"no_delay,omitempty"`
	Options        []transport.Option `yaml:"options,omitempty"`
	Debug          bool               `yaml:"debug,omitempty"`
}

// Default returns a Config with the built-in defaults.
func Default() *Config {
	return &Config{
		Port:       10,
		RemotePort: 10,
		Signal:     ":8910",
		Peers:      make(map[string]string),
		ICEServers: append([]string(nil), DefaultICEServers...),
	}
}

// Load reads a YAML file on top of the defaults. Keys missing from the file
// keep their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if cfg.Peers == nil {
		cfg.Peers = make(map[string]string)
	}
	return cfg, nil
}

var (
	ErrNoRole     = errors.New("role must be server or client")
	ErrNoIdentity = errors.New("identity is required")
)

// Validate checks the fields the chosen role needs.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Identity) == "" {
		return ErrNoIdentity
	}

	switch c.Role {
	case RoleServer:
		if c.Port < 0 {
			return fmt.Errorf("invalid port %d", c.Port)
		}
		if c.Signal == "" {
			return errors.New("server needs a signaling address")
		}
	case RoleClient:
		if strings.TrimSpace(c.Remote) == "" {
			return errors.New("client needs a remote endpoint")
		}
		if c.RemotePort < 0 {
			return fmt.Errorf("invalid remote port %d", c.RemotePort)
		}
	default:
		return ErrNoRole
	}

	for name, raw := range c.Peers {
		if _, err := NormalizeWSURL(raw); err != nil {
			return fmt.Errorf("peer %q: %w", name, err)
		}
	}
	if c.Role == RoleClient {
		if _, ok := c.Directory()[c.RemoteIdentity()]; !ok {
			return fmt.Errorf("no signaling URL for remote %q", c.Remote)
		}
	}
	if c.ConnectTimeout < 0 {
		return fmt.Errorf("invalid connect timeout %s", c.ConnectTimeout)
	}
	return nil
}

// LocalIdentity returns the identity of this endpoint.
func (c *Config) LocalIdentity() protocol.Identity {
	return protocol.Identity(util.ParseIdentity(c.Identity))
}

// RemoteIdentity returns the identity of the server a client connects to.
func (c *Config) RemoteIdentity() protocol.Identity {
	return protocol.Identity(util.ParseIdentity(c.Remote))
}

// Directory maps each configured peer's identity to its signaling URL.
// Invalid URLs are skipped; Validate reports them.
func (c *Config) Directory() map[protocol.Identity]string {
	dir := make(map[protocol.Identity]string, len(c.Peers))
	for name, raw := range c.Peers {
		u, err := NormalizeWSURL(raw)
		if err != nil {
			continue
		}
		dir[protocol.Identity(util.ParseIdentity(name))] = u
	}
	return dir
}

// TransportOptions returns the options passed to every listen socket and
// connection, in order.
func (c *Config) TransportOptions() []transport.Option {
	return append([]transport.Option(nil), c.Options...)
}

// SetPeer parses a "name=url" pair and adds it to Peers.
func (c *Config) SetPeer(pair string) error {
	name, raw, ok := strings.Cut(pair, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return fmt.Errorf("invalid peer %q: want name=url", pair)
	}
	u, err := NormalizeWSURL(raw)
	if err != nil {
		return err
	}
	if c.Peers == nil {
		c.Peers = make(map[string]string)
	}
	c.Peers[name] = u
	return nil
}

// NormalizeWSURL validates a signaling URL and returns it as
// scheme://host/ws. Bare hosts default to wss.
func NormalizeWSURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	scheme := "wss"
	if u.Scheme == "ws" || u.Scheme == "wss" {
		scheme = u.Scheme
	}
	return fmt.Sprintf("%s://%s/ws", scheme, u.Host), nil
}
