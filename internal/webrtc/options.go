package webrtc

import (
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/1ureka/peerlink/internal/transport"
)

const defaultConnectTimeout = 30 * time.Second

// connOptions are the per-connection settings derived from the service
// config and the transport options of a Connect or listen socket.
type connOptions struct {
	iceServers []string
	timeout    time.Duration
}

// applyOptions overlays opts on base. Keys:
//
//	stun             add a STUN server URL
//	turn             add a TURN server URL, optionally "user:pass@turn:host"
//	connect_timeout  Go duration ("15s") or whole seconds ("15")
//
// Unknown keys and bad values are logged and skipped.
func applyOptions(base connOptions, opts []transport.Option) connOptions {
	out := connOptions{
		iceServers: slices.Clone(base.iceServers),
		timeout:    base.timeout,
	}
	if out.timeout <= 0 {
		out.timeout = defaultConnectTimeout
	}

	for _, opt := range opts {
		switch strings.ToLower(strings.TrimSpace(opt.Key)) {
		case "stun", "turn":
			if opt.Value == "" {
				log.Debugf("ignoring empty %s option", opt.Key)
				continue
			}
			out.iceServers = append(out.iceServers, opt.Value)

		case "connect_timeout":
			d, err := parseTimeout(opt.Value)
			if err != nil {
				log.Warnf("ignoring connect_timeout %q: %v", opt.Value, err)
				continue
			}
			out.timeout = d

		default:
			log.Debugf("ignoring unknown transport option %q", opt.Key)
		}
	}
	return out
}

func parseTimeout(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs <= 0 {
			return 0, strconv.ErrRange
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, strconv.ErrRange
	}
	return d, nil
}
