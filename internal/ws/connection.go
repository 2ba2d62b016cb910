package ws

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/chatly/chat-app/internal/protocol"
	"github.com/chatly/chat-app/internal/realtime"
)

// ErrSlowConsumer is returned by Send when the connection's outbound queue is
// full. The connection is evicted.
var ErrSlowConsumer = errors.New("ws: outbound queue full")

// Connection represents a single authenticated WebSocket client connection.
// Send only enqueues; a writer goroutine drains the queue. Writes are
// serialized by writeMu so that queued frames, heartbeat pings and pongs
// never interleave frame bytes.
type Connection struct {
	id           string
	UserID       string
	Conn         net.Conn
	Fd           int // file descriptor, -1 when the platform poller does not use one
	CreatedAt    time.Time
	writeTimeout time.Duration

	lastActive atomic.Int64 // unix nanos of the last frame received
	closed     atomic.Bool
	processing atomic.Bool // set while a worker is reading from the connection
	writeMu    sync.Mutex

	out     chan []byte
	done    chan struct{}
	evict   func(c *Connection, err error)
	evicted atomic.Bool
}

var _ realtime.Conn = (*Connection)(nil)

func newConnection(id, userID string, conn net.Conn, writeTimeout time.Duration, queueSize int) *Connection {
	if queueSize <= 0 {
		queueSize = 1
	}
	c := &Connection{
		id:           id,
		UserID:       userID,
		Conn:         conn,
		Fd:           socketFD(conn),
		CreatedAt:    time.Now(),
		writeTimeout: writeTimeout,
		out:          make(chan []byte, queueSize),
		done:         make(chan struct{}),
	}
	c.Touch()
	return c
}

// ID returns the connection (session) ID.
func (c *Connection) ID() string { return c.id }

// IsOpen reports whether Close has not been called yet.
func (c *Connection) IsOpen() bool { return !c.closed.Load() }

// Touch records activity on the connection.
func (c *Connection) Touch() { c.lastActive.Store(time.Now().UnixNano()) }

// LastActive returns the time of the last frame received from the client.
func (c *Connection) LastActive() time.Time { return time.Unix(0, c.lastActive.Load()) }

// startWriter launches the goroutine draining the outbound queue. evict is
// called at most once, on its own goroutine, when the queue overflows or a
// write fails.
func (c *Connection) startWriter(evict func(c *Connection, err error)) {
	c.evict = evict
	go c.writeLoop()
}

func (c *Connection) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.out:
			if err := c.WriteMessage(data); err != nil {
				c.fail(err)
				return
			}
		}
	}
}

func (c *Connection) fail(err error) {
	if c.evict == nil || c.closed.Load() || !c.evicted.CompareAndSwap(false, true) {
		return
	}
	go c.evict(c, err)
}

// Send encodes payload as a server message of the given type and queues it
// for the writer. It never blocks on the network.
func (c *Connection) Send(event string, payload any) error {
	data, err := protocol.NewServerMessage(event, payload)
	if err != nil {
		return err
	}
	if c.closed.Load() {
		return net.ErrClosed
	}
	select {
	case c.out <- data:
		return nil
	default:
		c.fail(ErrSlowConsumer)
		return ErrSlowConsumer
	}
}

// WriteMessage sends a WebSocket text frame to this connection, bounded by the
// configured write timeout.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed.Load() {
		return net.ErrClosed
	}
	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		defer c.Conn.SetWriteDeadline(time.Time{})
	}
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a WebSocket protocol-level ping frame (opcode 0x9).
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed.Load() {
		return net.ErrClosed
	}
	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		defer c.Conn.SetWriteDeadline(time.Time{})
	}
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// Close closes the underlying network connection. It is safe to call more
// than once.
func (c *Connection) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.done)
	return c.Conn.Close()
}

// ConnectionManager is a thread-safe index of live connections by session ID
// and by the net.Conn the poller reports as ready.
type ConnectionManager struct {
	mu     sync.RWMutex
	byID   map[string]*Connection
	byConn map[net.Conn]*Connection
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID:   make(map[string]*Connection),
		byConn: make(map[net.Conn]*Connection),
	}
}

// Add indexes a new connection.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.id] = conn
	cm.byConn[conn.Conn] = conn
	cm.mu.Unlock()
}

// Remove drops a connection by session ID and closes it. It returns true if
// the connection was found, false if it was already gone.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	conn, ok := cm.byID[id]
	if ok {
		delete(cm.byID, id)
		delete(cm.byConn, conn.Conn)
	}
	cm.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// Get returns the connection for the given session ID, or nil if not found.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.byID[id]
}

// GetByConn returns the connection wrapping c, or nil if not found.
func (cm *ConnectionManager) GetByConn(c net.Conn) *Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.byConn[c]
}

// Count returns the current number of active connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.byID)
}

// All returns a snapshot of all current connections.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}

// Peers implements realtime.Audience: every live connection, whether or not
// it is the one currently registered for its user.
func (cm *ConnectionManager) Peers() []realtime.Conn {
	cm.mu.RLock()
	peers := make([]realtime.Conn, 0, len(cm.byID))
	for _, conn := range cm.byID {
		peers = append(peers, conn)
	}
	cm.mu.RUnlock()
	return peers
}
