package peer

import "github.com/1ureka/peerlink/internal/protocol"

// retryQueue is the FIFO of envelopes a Connection has not yet handed to the
// transport. It is owned by a single Connection and needs no locking.
type retryQueue struct {
	items []*protocol.Envelope
}

func (q *retryQueue) push(env *protocol.Envelope) {
	q.items = append(q.items, env)
}

// front returns the head without removing it, or nil when empty.
func (q *retryQueue) front() *protocol.Envelope {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

func (q *retryQueue) pop() {
	if len(q.items) == 0 {
		return
	}
	q.items[0] = nil // avoid memory leak
	q.items = q.items[1:]
}

func (q *retryQueue) len() int { return len(q.items) }

func (q *retryQueue) clear() int {
	n := len(q.items)
	clear(q.items)
	q.items = nil
	return n
}
