package registry

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/groblegark/kchat/internal/events"
)

// outboxSize bounds how many undelivered events a single connection can
// buffer before sends start hitting the per-send timeout.
const outboxSize = 64

// ErrSendTimeout is returned by Deliver when the connection's outbox stayed
// full for the whole timeout window.
var ErrSendTimeout = errors.New("registry: send timed out")

// Outbound is one event queued for a connection, tagged with that
// connection's monotonic sequence number so clients can dedup.
type Outbound struct {
	Seq   uint64        `json:"seq"`
	Event *events.Event `json:"event"`
}

// Connection is one live client stream. It is owned by the Registry from Add
// to Remove; the transport handler drains Outbox and writes frames.
type Connection struct {
	ID        string
	UserID    string
	CreatedAt time.Time

	mu     sync.RWMutex
	groups map[string]struct{}

	outbox   chan Outbound
	failures atomic.Int32

	// sendMu serializes Deliver so enqueue order matches sequence order and
	// a timed-out delivery never consumes a sequence number.
	sendMu sync.Mutex
	seq    uint64
}

// NewConnection creates a connection for an authenticated user. The initial
// group subscriptions take effect when the connection is added to a Registry.
func NewConnection(userID string, groups []string) *Connection {
	id := gonanoid.Must()
	c := &Connection{
		ID:        id,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
		groups:    make(map[string]struct{}, len(groups)),
		outbox:    make(chan Outbound, outboxSize),
	}
	for _, g := range groups {
		if g != "" {
			c.groups[g] = struct{}{}
		}
	}
	return c
}

// Outbox returns the channel the transport handler drains. Events arrive in
// the order they were delivered to this connection.
func (c *Connection) Outbox() <-chan Outbound {
	return c.outbox
}

// Groups returns a snapshot of the connection's subscribed group ids.
func (c *Connection) Groups() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.groups))
	for g := range c.groups {
		out = append(out, g)
	}
	return out
}

// Subscribed reports whether the connection is subscribed to group.
func (c *Connection) Subscribed(group string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.groups[group]
	return ok
}

// Deliver queues an event on the connection's outbox. The send is
// non-blocking first and then bounded by timeout, so one slow client cannot
// stall dispatch to others. Concurrent deliveries to the same connection are
// serialized; sequence numbers are strictly increasing in enqueue order.
// Consecutive failures are counted; a successful send resets the count.
func (c *Connection) Deliver(e *events.Event, timeout time.Duration) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	out := Outbound{Seq: c.seq + 1, Event: e}

	select {
	case c.outbox <- out:
		c.seq++
		c.failures.Store(0)
		return nil
	default:
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case c.outbox <- out:
		c.seq++
		c.failures.Store(0)
		return nil
	case <-t.C:
		c.failures.Add(1)
		return ErrSendTimeout
	}
}

// Failures returns the number of consecutive failed deliveries.
func (c *Connection) Failures() int {
	return int(c.failures.Load())
}
