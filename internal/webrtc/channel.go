package webrtc

import (
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/peerlink/internal/transport"
)

const (
	highWaterMark = 256 * 1024 // refuse sends while bufferedAmount exceeds this
	lowWaterMark  = 64 * 1024  // no-delay unreliable sends are skipped above this
)

// channel wraps a pion DataChannel with non-blocking backpressure: instead
// of waiting for the buffer to drain, a full channel reports
// ResultLimitExceeded and the peer layer retries later.
type channel struct {
	raw         *webrtc.DataChannel
	drainSignal chan struct{}
}

func newChannel(raw *webrtc.DataChannel) *channel {
	c := &channel{
		raw:         raw,
		drainSignal: make(chan struct{}, 1),
	}

	raw.SetBufferedAmountLowThreshold(uint64(lowWaterMark))
	raw.OnBufferedAmountLow(func() {
		select {
		case c.drainSignal <- struct{}{}:
		default:
		}
	})

	return c
}

// send writes data unless the channel is congested. noDelay marks a message
// that is worthless if it cannot go out right away.
func (c *channel) send(data []byte, noDelay bool) transport.Result {
	if c.raw.ReadyState() != webrtc.DataChannelStateOpen {
		return transport.ResultNoConnection
	}

	buffered := c.raw.BufferedAmount()
	if buffered > uint64(highWaterMark) {
		return transport.ResultLimitExceeded
	}
	if noDelay && buffered > uint64(lowWaterMark) {
		return transport.ResultIgnored
	}

	if err := c.raw.Send(data); err != nil {
		log.Debugf("send on %s failed: %v", c.raw.Label(), err)
		return transport.ResultFail
	}
	return transport.ResultOK
}

// buffered reports the bytes queued but not yet sent.
func (c *channel) buffered() uint64 { return c.raw.BufferedAmount() }

// drain waits until the buffer falls below the low-water mark, at most for
// timeout.
func (c *channel) drain(timeout time.Duration) {
	if c.buffered() <= uint64(lowWaterMark) {
		return
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-c.drainSignal:
	case <-timer.C:
	}
}

func (c *channel) close() error { return c.raw.Close() }
