package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide packet/connection counter.
var Stats = &stats{}

type stats struct {
	TotalConns  atomic.Int64 // connections registered since process start
	ClosedConns atomic.Int64 // connections released since process start
	PacketsSent atomic.Int64 // envelopes accepted by the transport
	PacketsRecv atomic.Int64 // application packets queued for the host
	BytesSent   atomic.Int64 // payload bytes accepted by the transport
	BytesRecv   atomic.Int64 // payload bytes queued for the host
	Retries     atomic.Int64 // reliable sends left at the queue head for retry
	Dropped     atomic.Int64 // unreliable sends discarded after a failure
}

func (s *stats) AddConn()    { s.TotalConns.Add(1) }
func (s *stats) RemoveConn() { s.ClosedConns.Add(1) }
func (s *stats) AddRetry()   { s.Retries.Add(1) }
func (s *stats) AddDropped() { s.Dropped.Add(1) }

func (s *stats) AddSent(n int) {
	s.PacketsSent.Add(1)
	s.BytesSent.Add(int64(n))
}

func (s *stats) AddRecv(n int) {
	s.PacketsRecv.Add(1)
	s.BytesRecv.Add(int64(n))
}

// snapshot is a point-in-time copy of the counters.
type snapshot struct {
	total, closed, sent, recv, retries, dropped int64
}

func (s *stats) snapshot() snapshot {
	return snapshot{
		total:   s.TotalConns.Load(),
		closed:  s.ClosedConns.Load(),
		sent:    s.BytesSent.Load(),
		recv:    s.BytesRecv.Load(),
		retries: s.Retries.Load(),
		dropped: s.Dropped.Load(),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

const reportInterval = 10 * time.Second

// StartStatsReporter launches a goroutine that logs traffic statistics
// every 10 seconds. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(reportInterval)
		defer ticker.Stop()

		prev := Stats.snapshot()
		for {
			select {
			case <-ticker.C:
				cur := Stats.snapshot()
				if line, ok := formatDelta(prev, cur, reportInterval.Seconds()); ok {
					pterm.DefaultLogger.Info(line)
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

// formatDelta renders the change between two snapshots. It reports false
// when nothing noteworthy happened in the interval.
func formatDelta(prev, cur snapshot, seconds float64) (string, bool) {
	outS := float64(cur.sent-prev.sent) / seconds
	inS := float64(cur.recv-prev.recv) / seconds
	opened := cur.total - prev.total
	closed := cur.closed - prev.closed
	retries := cur.retries - prev.retries
	dropped := cur.dropped - prev.dropped

	if opened == 0 && closed == 0 && retries == 0 && dropped == 0 && inS <= 10 && outS <= 10 {
		return "", false
	}
	return formatStats(inS, outS, opened, closed, retries, dropped), true
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(inS, outS float64, opened, closed, retries, dropped int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Conn: %2d↑ %2d↓ | Retry: %d | Drop: %d",
		formatBytes(inS),
		formatBytes(outS),
		opened,
		closed,
		retries,
		dropped,
	)
}
