package hub

import (
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/langhub/internal/events"
	"github.com/ent0n29/langhub/internal/protocol"
)

// Socket is the write side of a client connection. *websocket.Conn satisfies
// it.
type Socket interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Client is one attached socket. A client belongs to exactly one session for
// its lifetime.
type Client struct {
	ID          string
	SessionID   string
	ConnectedAt time.Time

	metadata map[string]string
	socket   Socket
	send     chan []byte
	ping     chan struct{}
	done     chan struct{}
	once     sync.Once

	mu            sync.Mutex
	subscriptions map[string]struct{}
	lastActivity  time.Time
}

func newClient(id, sessionID string, socket Socket, metadata map[string]string, buffer int, now time.Time) *Client {
	if buffer <= 0 {
		buffer = 64
	}
	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	return &Client{
		ID:            id,
		SessionID:     sessionID,
		ConnectedAt:   now,
		metadata:      md,
		socket:        socket,
		send:          make(chan []byte, buffer),
		ping:          make(chan struct{}, 1),
		done:          make(chan struct{}),
		subscriptions: map[string]struct{}{protocol.SubscribeAll: {}},
		lastActivity:  now,
	}
}

// Metadata returns a copy of the connect-time metadata.
func (c *Client) Metadata() map[string]string {
	out := make(map[string]string, len(c.metadata))
	for k, v := range c.metadata {
		out[k] = v
	}
	return out
}

// Touch records client-evidenced liveness.
func (c *Client) Touch() {
	c.setLastActivity(time.Now())
}

func (c *Client) setLastActivity(t time.Time) {
	c.mu.Lock()
	c.lastActivity = t
	c.mu.Unlock()
}

func (c *Client) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// subscribe adds names and returns the resulting set plus the names that were
// not already present. Unsubscribing exactly the added names restores the
// previous set.
func (c *Client) subscribe(names []string) (subs, added []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	added = []string{}
	for _, n := range names {
		if _, ok := c.subscriptions[n]; ok {
			continue
		}
		c.subscriptions[n] = struct{}{}
		added = append(added, n)
	}
	sort.Strings(added)
	return c.subscriptionListLocked(), added
}

// unsubscribe removes exactly the named types; removing "all" keeps any
// explicitly requested types. It returns the resulting set plus the names
// that were present.
func (c *Client) unsubscribe(names []string) (subs, removed []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed = []string{}
	for _, n := range names {
		if _, ok := c.subscriptions[n]; !ok {
			continue
		}
		delete(c.subscriptions, n)
		removed = append(removed, n)
	}
	sort.Strings(removed)
	return c.subscriptionListLocked(), removed
}

func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscriptionListLocked()
}

func (c *Client) subscriptionListLocked() []string {
	out := make([]string, 0, len(c.subscriptions))
	for n := range c.subscriptions {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (c *Client) wants(kind events.Kind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subscriptions[protocol.SubscribeAll]; ok {
		return true
	}
	_, ok := c.subscriptions[string(kind)]
	return ok
}

// enqueue queues a frame without blocking. It reports false when the client is
// closed or its buffer is full.
func (c *Client) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) requestPing() {
	select {
	case c.ping <- struct{}{}:
	default:
	}
}

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

// Done is closed once the client has been removed.
func (c *Client) Done() <-chan struct{} { return c.done }

// writeLoop owns all writes to the socket. It returns when the client is
// closed or a write fails.
func (c *Client) writeLoop(writeTimeout time.Duration, onError func(error)) {
	defer c.socket.Close()
	for {
		select {
		case <-c.done:
			_ = c.socket.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			return
		case msg := <-c.send:
			if err := c.socket.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				onError(err)
				return
			}
			if err := c.socket.WriteMessage(websocket.TextMessage, msg); err != nil {
				onError(err)
				return
			}
		case <-c.ping:
			if err := c.socket.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeTimeout)); err != nil {
				onError(err)
				return
			}
		}
	}
}
